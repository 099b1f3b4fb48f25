// Package session stores login sessions keyed by an opaque token.
//
// Each session is a single item in a table whose only key is the token.
// Sessions expire through DynamoDB's TTL sweeper; because the sweeper runs
// late, every read also hides sessions whose TTL has passed. A sparse
// global secondary index on username lists and revokes a user's sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/google/uuid"

	"github.com/jacentio/singletable/internal/valid"
	"github.com/jacentio/singletable/store"
)

const (
	// TokenAttribute is the table's partition key.
	TokenAttribute = "session_token"

	// TTLAttribute holds the expiry in epoch seconds.
	TTLAttribute = "TTL"

	// DefaultLifetime is how long a new session is valid.
	DefaultLifetime = 7 * 24 * time.Hour
)

// UserIndex lists sessions by username.
var UserIndex = store.Index{Name: "username-index", PartitionKey: "username"}

var (
	ErrSessionNotFound = errors.New("session: not found")
	ErrTokenInUse      = errors.New("session: token already in use")
)

// StoreConfig returns the store configuration for a session table.
func StoreConfig(table string) store.Config {
	cfg := store.DefaultConfig(table)
	cfg.PartitionKey = TokenAttribute
	cfg.SortKey = ""
	cfg.TTLAttribute = TTLAttribute
	return cfg
}

// Session is a login session.
type Session struct {
	Token     string    `dynamodbav:"session_token" validate:"required,max=256"`
	Username  string    `dynamodbav:"username" validate:"required,max=256"`
	CreatedAt time.Time `dynamodbav:"created_at"`
	ExpiresAt time.Time `dynamodbav:"expires_at"`
	TTL       int64     `dynamodbav:"TTL"`
}

// Expired reports whether the session is no longer valid at now.
func (s Session) Expired(now time.Time) bool {
	return s.TTL <= now.Unix()
}

// Manager creates, reads and revokes sessions.
type Manager struct {
	store    *store.Store
	lifetime time.Duration
	clock    store.Clock
	newToken func() string
}

// Option configures a Manager.
type Option func(*Manager)

// WithLifetime sets how long new sessions stay valid.
func WithLifetime(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.lifetime = d
		}
	}
}

// WithClock sets the clock that stamps new sessions. It defaults to the
// store's clock, which also decides what has expired on read.
func WithClock(c store.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithTokenGenerator replaces the random UUID token generator.
func WithTokenGenerator(fn func() string) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newToken = fn
		}
	}
}

// New creates a Manager over a store configured with StoreConfig.
func New(s *store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:    s,
		lifetime: DefaultLifetime,
		clock:    s.Now,
		newToken: uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create starts a session for username under a freshly generated token.
func (m *Manager) Create(ctx context.Context, username string) (*Session, error) {
	return m.CreateWithToken(ctx, username, m.newToken())
}

// CreateWithToken starts a session under a caller-chosen token. It fails
// with ErrTokenInUse if the token is already taken, even by an expired
// session the sweeper has not removed yet.
func (m *Manager) CreateWithToken(ctx context.Context, username, token string) (*Session, error) {
	now := m.clock()
	expires := now.Add(m.lifetime)
	sess := &Session{
		Token:     token,
		Username:  username,
		CreatedAt: now,
		ExpiresAt: expires,
		TTL:       expires.Unix(),
	}
	if err := valid.Struct(sess); err != nil {
		return nil, err
	}

	item, err := attributevalue.MarshalMap(sess)
	if err != nil {
		return nil, fmt.Errorf("session: marshal: %w", err)
	}
	if err := m.store.Put(ctx, item, store.IfNotExists()); err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return nil, ErrTokenInUse
		}
		return nil, err
	}
	return sess, nil
}

// Get returns the session for token, or ErrSessionNotFound if it does not
// exist or has expired.
func (m *Manager) Get(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}
	var item store.Item
	err := m.store.Retry(ctx, func(ctx context.Context) error {
		var err error
		item, err = m.store.Get(ctx, store.Key{Partition: token})
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	var sess Session
	if err := attributevalue.UnmarshalMap(item, &sess); err != nil {
		return nil, fmt.Errorf("session: unmarshal: %w", err)
	}
	return &sess, nil
}

// ListByUser returns the user's unexpired sessions.
func (m *Manager) ListByUser(ctx context.Context, username string) ([]Session, error) {
	return m.list(ctx, username, false)
}

func (m *Manager) list(ctx context.Context, username string, includeExpired bool) ([]Session, error) {
	if err := valid.Var("username", username, "required"); err != nil {
		return nil, err
	}
	var page *store.Page
	err := m.store.Retry(ctx, func(ctx context.Context) error {
		var err error
		page, err = m.store.QueryIndex(ctx, store.IndexQuery{
			Index:          UserIndex,
			Partition:      username,
			IncludeExpired: includeExpired,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	var sessions []Session
	if err := attributevalue.UnmarshalListOfMaps(page.Items, &sessions); err != nil {
		return nil, fmt.Errorf("session: unmarshal: %w", err)
	}
	return sessions, nil
}

// Delete removes a session. Deleting an unknown token succeeds.
func (m *Manager) Delete(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return m.store.Retry(ctx, func(ctx context.Context) error {
		return m.store.Delete(ctx, store.Key{Partition: token})
	})
}

// RevokeAll deletes every session of username, including expired ones the
// sweeper has not reached, and returns how many were deleted. The index is
// eventually consistent, so a session created concurrently may survive.
func (m *Manager) RevokeAll(ctx context.Context, username string) (int, error) {
	sessions, err := m.list(ctx, username, true)
	if err != nil {
		return 0, err
	}
	for i, s := range sessions {
		if err := m.Delete(ctx, s.Token); err != nil {
			return i, fmt.Errorf("session: revoke %s: %w", username, err)
		}
	}
	return len(sessions), nil
}
