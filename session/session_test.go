package session_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/singletable/internal/memtable"
	"github.com/jacentio/singletable/session"
	"github.com/jacentio/singletable/store"
)

const table = "sessions"

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newManager(t *testing.T, opts ...session.Option) (*session.Manager, *memtable.DB, *fakeClock) {
	t.Helper()
	db := memtable.New([]memtable.Schema{{
		Name:         table,
		PartitionKey: session.TokenAttribute,
		Indexes: []memtable.Index{{
			Name:         session.UserIndex.Name,
			PartitionKey: session.UserIndex.PartitionKey,
		}},
	}})
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	cfg := session.StoreConfig(table)
	cfg.MaxBackoff = time.Millisecond
	s := store.New(db, cfg, store.WithClock(clock.Now))
	return session.New(s, opts...), db, clock
}

func tokens(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	m, db, clock := newManager(t)

	created, err := m.Create(ctx, "alexdebrie")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.Token == "" {
		t.Fatal("expected a generated token")
	}
	if !created.ExpiresAt.Equal(clock.now.Add(session.DefaultLifetime)) {
		t.Errorf("expected expiry %v, got %v", clock.now.Add(session.DefaultLifetime), created.ExpiresAt)
	}
	if created.TTL != created.ExpiresAt.Unix() {
		t.Errorf("expected TTL %d, got %d", created.ExpiresAt.Unix(), created.TTL)
	}

	stored := db.Items(table)
	if len(stored) != 1 {
		t.Fatalf("expected 1 stored item, got %d", len(stored))
	}
	if _, ok := stored[0][session.TTLAttribute].(*types.AttributeValueMemberN); !ok {
		t.Errorf("expected numeric TTL attribute, got %T", stored[0][session.TTLAttribute])
	}

	got, err := m.Get(ctx, created.Token)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Username != "alexdebrie" || !got.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("expected %+v, got %+v", created, got)
	}
}

func TestGet_NotFound(t *testing.T) {
	m, _, _ := newManager(t)
	for _, token := range []string{"", "missing"} {
		if _, err := m.Get(context.Background(), token); !errors.Is(err, session.ErrSessionNotFound) {
			t.Errorf("token %q: expected ErrSessionNotFound, got %v", token, err)
		}
	}
}

func TestGet_ExpiredButNotSwept(t *testing.T) {
	ctx := context.Background()
	m, db, clock := newManager(t, session.WithLifetime(time.Hour))

	s, err := m.Create(ctx, "alexdebrie")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	clock.Advance(time.Hour)

	if _, err := m.Get(ctx, s.Token); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if n := len(db.Items(table)); n != 1 {
		t.Errorf("expected expired item to remain in table, got %d items", n)
	}
	if !s.Expired(clock.now) {
		t.Error("expected session to report expired")
	}
}

func TestCreateWithToken_Collision(t *testing.T) {
	ctx := context.Background()
	m, _, clock := newManager(t, session.WithLifetime(time.Minute))

	if _, err := m.CreateWithToken(ctx, "alice", "fixed"); err != nil {
		t.Fatalf("CreateWithToken failed: %v", err)
	}
	if _, err := m.CreateWithToken(ctx, "bob", "fixed"); !errors.Is(err, session.ErrTokenInUse) {
		t.Errorf("expected ErrTokenInUse, got %v", err)
	}

	// The sweeper has not removed the expired session, so the token stays taken.
	clock.Advance(time.Hour)
	if _, err := m.CreateWithToken(ctx, "bob", "fixed"); !errors.Is(err, session.ErrTokenInUse) {
		t.Errorf("expected ErrTokenInUse for expired token, got %v", err)
	}

	got, err := m.Get(ctx, "fixed")
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %+v, %v", got, err)
	}
}

func TestCreate_InvalidInput(t *testing.T) {
	m, db, _ := newManager(t)
	if _, err := m.Create(context.Background(), ""); !errors.Is(err, store.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if n := len(db.Items(table)); n != 0 {
		t.Errorf("expected nothing written, got %d items", n)
	}
}

func TestListByUser(t *testing.T) {
	ctx := context.Background()
	m, _, clock := newManager(t, session.WithTokenGenerator(tokens("tok")), session.WithLifetime(2*time.Hour))

	if _, err := m.Create(ctx, "alice"); err != nil { // tok-1, expires first
		t.Fatal(err)
	}
	clock.Advance(time.Hour)
	for _, user := range []string{"alice", "alice", "bob"} {
		if _, err := m.Create(ctx, user); err != nil {
			t.Fatal(err)
		}
	}
	clock.Advance(90 * time.Minute)

	tests := []struct {
		user string
		want int
	}{
		{"alice", 2},
		{"bob", 1},
		{"carol", 0},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			got, err := m.ListByUser(ctx, tt.user)
			if err != nil {
				t.Fatalf("ListByUser failed: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("expected %d sessions, got %d: %+v", tt.want, len(got), got)
			}
			for _, s := range got {
				if s.Username != tt.user {
					t.Errorf("expected username %s, got %s", tt.user, s.Username)
				}
				if s.Token == "tok-1" {
					t.Error("expected expired session to be hidden")
				}
			}
		})
	}
}

func TestDeleteAndRevokeAll(t *testing.T) {
	ctx := context.Background()
	m, db, clock := newManager(t, session.WithLifetime(time.Hour))

	first, err := m.Create(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Hour) // first is now expired but unswept
	for i := 0; i < 3; i++ {
		if _, err := m.Create(ctx, "alice"); err != nil {
			t.Fatal(err)
		}
	}
	other, err := m.Create(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Delete(ctx, "unknown"); err != nil {
		t.Errorf("expected deleting unknown token to succeed, got %v", err)
	}

	n, err := m.RevokeAll(ctx, "alice")
	if err != nil {
		t.Fatalf("RevokeAll failed: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 revoked sessions, got %d", n)
	}
	if _, err := m.Get(ctx, first.Token); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if left := db.Items(table); len(left) != 1 {
		t.Errorf("expected only bob's session to remain, got %d items", len(left))
	}

	if err := m.Delete(ctx, other.Token); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := m.Get(ctx, other.Token); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestGet_RetriesThrottling(t *testing.T) {
	ctx := context.Background()
	m, db, _ := newManager(t)

	s, err := m.Create(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}

	calls := 0
	db.Fail(func(op string) error {
		if op != "GetItem" {
			return nil
		}
		calls++
		if calls == 1 {
			return &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")}
		}
		return nil
	})

	if _, err := m.Get(ctx, s.Token); err != nil {
		t.Fatalf("expected Get to succeed after retry, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 GetItem calls, got %d", calls)
	}
}
