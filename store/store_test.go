package store_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jacentio/singletable/internal/memtable"
	"github.com/jacentio/singletable/store"
)

const table = "app"

var gsi1 = store.Index{Name: "GSI1", PartitionKey: "GSI1PK", SortKey: "GSI1SK"}

func newStore(t *testing.T, opts ...store.Option) (*store.Store, *memtable.DB) {
	t.Helper()
	db := memtable.New([]memtable.Schema{{
		Name:         table,
		PartitionKey: "PK",
		SortKey:      "SK",
		Indexes:      []memtable.Index{{Name: gsi1.Name, PartitionKey: gsi1.PartitionKey, SortKey: gsi1.SortKey}},
	}}, memtable.WithPageSize(3))
	cfg := store.DefaultConfig(table)
	cfg.TTLAttribute = "TTL"
	cfg.MaxBackoff = time.Millisecond
	return store.New(db, cfg, opts...), db
}

func item(pk, sk string, attrs ...string) store.Item {
	it := store.Item{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
	for i := 0; i+1 < len(attrs); i += 2 {
		it[attrs[i]] = &types.AttributeValueMemberS{Value: attrs[i+1]}
	}
	return it
}

func str(it store.Item, attr string) string {
	if v, ok := it[attr].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func sortKeys(items []store.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = str(it, "SK")
	}
	return out
}

func TestDefaultConfig(t *testing.T) {
	cfg := store.DefaultConfig("app")
	if cfg.TableName != "app" {
		t.Errorf("expected TableName 'app', got %q", cfg.TableName)
	}
	if cfg.PartitionKey != "PK" || cfg.SortKey != "SK" {
		t.Errorf("expected PK/SK, got %q/%q", cfg.PartitionKey, cfg.SortKey)
	}
	if cfg.TTLAttribute != "" {
		t.Errorf("expected TTL disabled by default, got %q", cfg.TTLAttribute)
	}
}

func TestPutIfNotExists(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, item("A", "A", "Name", "first"), store.IfNotExists()); err != nil {
		t.Fatalf("first put: %v", err)
	}
	err := s.Put(ctx, item("A", "A", "Name", "second"), store.IfNotExists())
	if !errors.Is(err, store.ErrConditionFailed) {
		t.Fatalf("expected ErrConditionFailed, got %v", err)
	}
	if errors.Is(err, store.ErrTransient) {
		t.Error("condition failure must not be transient")
	}

	got, err := s.Get(ctx, store.Key{Partition: "A", Sort: "A"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if str(got, "Name") != "first" {
		t.Errorf("expected 'first', got %q", str(got, "Name"))
	}
}

func TestGet_NotFound(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Get(context.Background(), store.Key{Partition: "missing", Sort: "missing"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGet_Expired(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _ := newStore(t, store.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	expired := item("A", "A")
	expired["TTL"] = store.ExpiresAt(now.Add(-time.Minute))
	if err := s.Put(ctx, expired); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Get(ctx, store.Key{Partition: "A", Sort: "A"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for expired item, got %v", err)
	}
}

func TestUpdate_ReturnNew(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	if err := s.Put(ctx, item("A", "A", "Status", "Open")); err != nil {
		t.Fatal(err)
	}

	out, err := s.Update(ctx, store.Key{Partition: "A", Sort: "A"},
		expression.Set(expression.Name("Status"), expression.Value("Closed")),
		store.IfExists(), store.ReturnNew())
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if str(out, "Status") != "Closed" {
		t.Errorf("expected 'Closed', got %q", str(out, "Status"))
	}

	_, err = s.Update(ctx, store.Key{Partition: "B", Sort: "B"},
		expression.Set(expression.Name("Status"), expression.Value("Closed")),
		store.IfExists())
	if !errors.Is(err, store.ErrConditionFailed) {
		t.Errorf("expected ErrConditionFailed for missing item, got %v", err)
	}
}

func TestUpdate_CustomCondition(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	if err := s.Put(ctx, item("A", "A", "Status", "Open")); err != nil {
		t.Fatal(err)
	}

	_, err := s.Update(ctx, store.Key{Partition: "A", Sort: "A"},
		expression.Set(expression.Name("Status"), expression.Value("Merged")),
		store.IfExists(),
		store.If(expression.Name("Status").Equal(expression.Value("Closed"))))
	if !errors.Is(err, store.ErrConditionFailed) {
		t.Errorf("expected ErrConditionFailed, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	k := store.Key{Partition: "A", Sort: "A"}

	if err := s.Delete(ctx, k); err != nil {
		t.Errorf("unconditional delete of missing item: %v", err)
	}
	if err := s.Delete(ctx, k, store.IfExists()); !errors.Is(err, store.ErrConditionFailed) {
		t.Errorf("expected ErrConditionFailed, got %v", err)
	}
	if err := s.Put(ctx, item("A", "A")); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, k, store.IfExists()); err != nil {
		t.Errorf("delete: %v", err)
	}
	if _, err := s.Get(ctx, k); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestIncrement_Concurrent(t *testing.T) {
	s, db := newStore(t)
	ctx := context.Background()
	parent := item("REPO#alice#demo", "REPO#alice#demo")
	parent["Count"] = &types.AttributeValueMemberN{Value: "0"}
	if err := s.Put(ctx, parent); err != nil {
		t.Fatal(err)
	}

	const n = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []int64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.Increment(ctx, store.Key{Partition: "REPO#alice#demo", Sort: "REPO#alice#demo"}, "Count", 1)
			if err != nil {
				t.Errorf("increment: %v", err)
				return
			}
			mu.Lock()
			results = append(results, v)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	if len(results) != n {
		t.Fatalf("expected %d results, got %d", n, len(results))
	}
	for i, v := range results {
		if v != int64(i+1) {
			t.Fatalf("expected results 1..%d, position %d has %d", n, i, v)
		}
	}

	final := db.Items(table)[0]["Count"].(*types.AttributeValueMemberN).Value
	if final != fmt.Sprint(n) {
		t.Errorf("expected final count %d, got %s", n, final)
	}
}

func TestIncrement_MissingParent(t *testing.T) {
	s, db := newStore(t)
	_, err := s.Increment(context.Background(), store.Key{Partition: "REPO#x", Sort: "REPO#x"}, "Count", 1)
	if !errors.Is(err, store.ErrConditionFailed) {
		t.Errorf("expected ErrConditionFailed, got %v", err)
	}
	if len(db.Items(table)) != 0 {
		t.Error("increment of a missing parent must not create it")
	}
}

func TestCreateAll(t *testing.T) {
	s, db := newStore(t)
	ctx := context.Background()

	if err := s.CreateAll(ctx,
		item("CUSTOMER#alex", "CUSTOMER#alex"),
		item("CUSTOMEREMAIL#alex@example.com", "CUSTOMEREMAIL#alex@example.com"),
	); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := s.CreateAll(ctx,
		item("CUSTOMER#other", "CUSTOMER#other"),
		item("CUSTOMEREMAIL#alex@example.com", "CUSTOMEREMAIL#alex@example.com"),
	)
	var condErr *store.ConditionError
	if !errors.As(err, &condErr) {
		t.Fatalf("expected *ConditionError, got %v", err)
	}
	if condErr.Index != 1 {
		t.Errorf("expected conflict on item 1, got %d", condErr.Index)
	}
	if len(db.Items(table)) != 2 {
		t.Errorf("expected no partial writes, table has %d items", len(db.Items(table)))
	}
}

func TestCreateAll_ConcurrentExactlyOneWins(t *testing.T) {
	s, db := newStore(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.CreateAll(ctx,
				item("CUSTOMER#alex", "CUSTOMER#alex", "Attempt", fmt.Sprint(i)),
				item("CUSTOMEREMAIL#a@b.c", "CUSTOMEREMAIL#a@b.c", "Attempt", fmt.Sprint(i)),
			)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case !errors.Is(err, store.ErrConditionFailed):
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly one winner, got %d", wins)
	}
	items := db.Items(table)
	if len(items) != 2 || str(items[0], "Attempt") != str(items[1], "Attempt") {
		t.Errorf("expected both items from the same attempt, got %v", items)
	}
}

func TestTransact(t *testing.T) {
	s, db := newStore(t)
	ctx := context.Background()
	parent := item("REPO#a#b", "REPO#a#b")
	parent["StarCount"] = &types.AttributeValueMemberN{Value: "0"}
	if err := s.Put(ctx, parent); err != nil {
		t.Fatal(err)
	}
	star := func(user string) error {
		return s.Transact(ctx,
			store.PutOp(item("REPO#a#b", "STAR#"+user), store.IfNotExists()),
			store.UpdateOp(store.Key{Partition: "REPO#a#b", Sort: "REPO#a#b"},
				expression.Add(expression.Name("StarCount"), expression.Value(1)),
				store.IfExists()),
		)
	}

	if err := star("zoe"); err != nil {
		t.Fatalf("star: %v", err)
	}
	err := star("zoe")
	var condErr *store.ConditionError
	if !errors.As(err, &condErr) || condErr.Index != 0 {
		t.Fatalf("expected condition failure on operation 0, got %v", err)
	}

	got, _ := s.Get(ctx, store.Key{Partition: "REPO#a#b", Sort: "REPO#a#b"})
	if n := got["StarCount"].(*types.AttributeValueMemberN).Value; n != "1" {
		t.Errorf("expected StarCount 1, got %s", n)
	}
	if len(db.Items(table)) != 2 {
		t.Errorf("expected 2 items, got %d", len(db.Items(table)))
	}
}

func TestTransact_CheckAndDelete(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	if err := s.Put(ctx, item("P", "P")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, item("P", "C")); err != nil {
		t.Fatal(err)
	}

	err := s.Transact(ctx,
		store.CheckOp(store.Key{Partition: "Q", Sort: "Q"}, store.IfExists()),
		store.DeleteOp(store.Key{Partition: "P", Sort: "C"}),
	)
	if !errors.Is(err, store.ErrConditionFailed) {
		t.Fatalf("expected ErrConditionFailed, got %v", err)
	}
	if _, err := s.Get(ctx, store.Key{Partition: "P", Sort: "C"}); err != nil {
		t.Errorf("delete must not apply when the check fails: %v", err)
	}

	if err := s.Transact(ctx, store.CheckOp(store.Key{Partition: "P", Sort: "C"})); !errors.Is(err, store.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for a check without condition, got %v", err)
	}
}

func TestTransact_TooManyOperations(t *testing.T) {
	s, _ := newStore(t)
	ops := make([]store.WriteOp, store.MaxTransactItems+1)
	for i := range ops {
		ops[i] = store.PutOp(item(fmt.Sprint(i), fmt.Sprint(i)))
	}
	if err := s.Transact(context.Background(), ops...); !errors.Is(err, store.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func seedRepo(t *testing.T, s *store.Store) {
	t.Helper()
	ctx := context.Background()
	repo := item("REPO#alice#demo", "REPO#alice#demo", "GSI1PK", "REPO#alice#demo", "GSI1SK", "REPO#alice#demo")
	if err := s.Put(ctx, repo); err != nil {
		t.Fatal(err)
	}
	for i, status := range []string{"Open", "Closed", "Open", ""} {
		issue := item("REPO#alice#demo", fmt.Sprintf("ISSUE#%09d", i+1))
		if status != "" {
			issue["Status"] = &types.AttributeValueMemberS{Value: status}
		}
		if err := s.Put(ctx, issue); err != nil {
			t.Fatal(err)
		}
	}
	for _, user := range []string{"bob", "carol"} {
		if err := s.Put(ctx, item("REPO#alice#demo", "STAR#"+user)); err != nil {
			t.Fatal(err)
		}
	}
	pr := item("PR#alice#demo#000000005", "PR#alice#demo#000000005", "GSI1PK", "REPO#alice#demo", "GSI1SK", "PR#000000005")
	if err := s.Put(ctx, pr); err != nil {
		t.Fatal(err)
	}
}

func TestQuery_RangeSeparation(t *testing.T) {
	s, _ := newStore(t)
	seedRepo(t, s)
	ctx := context.Background()

	tests := []struct {
		name     string
		q        store.CollectionQuery
		expected []string
	}{
		{
			name:     "parent and issues",
			q:        store.CollectionQuery{Partition: "REPO#alice#demo", Range: store.AtMost("REPO#alice#demo")},
			expected: []string{"ISSUE#000000001", "ISSUE#000000002", "ISSUE#000000003", "ISSUE#000000004", "REPO#alice#demo"},
		},
		{
			name:     "parent and stars",
			q:        store.CollectionQuery{Partition: "REPO#alice#demo", Range: store.AtLeast("REPO#alice#demo")},
			expected: []string{"REPO#alice#demo", "STAR#bob", "STAR#carol"},
		},
		{
			name:     "most recent two issues with parent",
			q:        store.CollectionQuery{Partition: "REPO#alice#demo", Range: store.AtMost("REPO#alice#demo"), Descending: true, Limit: 3},
			expected: []string{"REPO#alice#demo", "ISSUE#000000004", "ISSUE#000000003"},
		},
		{
			name:     "prefix",
			q:        store.CollectionQuery{Partition: "REPO#alice#demo", Range: store.Prefix("STAR#")},
			expected: []string{"STAR#bob", "STAR#carol"},
		},
		{
			name:     "between",
			q:        store.CollectionQuery{Partition: "REPO#alice#demo", Range: store.Between("ISSUE#000000002", "ISSUE#000000003")},
			expected: []string{"ISSUE#000000002", "ISSUE#000000003"},
		},
		{
			name: "filter open or unset status",
			q: store.CollectionQuery{
				Partition: "REPO#alice#demo",
				Range:     store.Prefix("ISSUE#"),
				Filter: expression.Or(
					expression.AttributeNotExists(expression.Name("Status")),
					expression.Name("Status").Equal(expression.Value("Open")),
				),
			},
			expected: []string{"ISSUE#000000001", "ISSUE#000000003", "ISSUE#000000004"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := s.Query(ctx, tt.q)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if got := sortKeys(page.Items); fmt.Sprint(got) != fmt.Sprint(tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestQuery_LimitReturnsContinuation(t *testing.T) {
	s, _ := newStore(t)
	seedRepo(t, s)
	ctx := context.Background()

	q := store.CollectionQuery{Partition: "REPO#alice#demo", Range: store.Prefix("ISSUE#"), Limit: 2}
	first, err := s.Query(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	if first.LastKey == nil {
		t.Fatal("expected a continuation key")
	}
	q.StartKey = first.LastKey
	second, err := s.Query(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	got := append(sortKeys(first.Items), sortKeys(second.Items)...)
	want := []string{"ISSUE#000000001", "ISSUE#000000002", "ISSUE#000000003", "ISSUE#000000004"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if second.LastKey != nil {
		t.Errorf("expected query to be exhausted, got %v", second.LastKey)
	}
}

func TestQuery_HidesExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _ := newStore(t, store.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	live := item("U", "SESSION#live")
	live["TTL"] = store.ExpiresAt(now.Add(time.Hour))
	dead := item("U", "SESSION#dead")
	dead["TTL"] = store.ExpiresAt(now.Add(-time.Hour))
	for _, it := range []store.Item{live, dead, item("U", "SESSION#forever")} {
		if err := s.Put(ctx, it); err != nil {
			t.Fatal(err)
		}
	}

	page, err := s.Query(ctx, store.CollectionQuery{Partition: "U"})
	if err != nil {
		t.Fatal(err)
	}
	if got := sortKeys(page.Items); fmt.Sprint(got) != "[SESSION#forever SESSION#live]" {
		t.Errorf("expected live sessions only, got %v", got)
	}

	page, err = s.Query(ctx, store.CollectionQuery{Partition: "U", IncludeExpired: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 3 {
		t.Errorf("expected 3 items with IncludeExpired, got %d", len(page.Items))
	}
}

func TestQueryIndex_Sparse(t *testing.T) {
	s, _ := newStore(t)
	seedRepo(t, s)

	page, err := s.QueryIndex(context.Background(), store.IndexQuery{
		Index:     gsi1,
		Partition: "REPO#alice#demo",
	})
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, it := range page.Items {
		got = append(got, str(it, "GSI1SK"))
	}
	if fmt.Sprint(got) != "[PR#000000005 REPO#alice#demo]" {
		t.Errorf("expected PR and repo only, got %v", got)
	}
}

func TestQuery_InvalidInput(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	if _, err := s.Query(ctx, store.CollectionQuery{}); !errors.Is(err, store.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty partition, got %v", err)
	}
	_, err := s.QueryIndex(ctx, store.IndexQuery{
		Index:     store.Index{Name: "GSI9", PartitionKey: "GSI9PK"},
		Partition: "x",
		Range:     store.Prefix("y"),
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for range on hash-only index, got %v", err)
	}
}

func TestRetry(t *testing.T) {
	ctx := context.Background()
	throttled := &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")}

	t.Run("recovers from transient failures", func(t *testing.T) {
		s, db := newStore(t)
		failures := 2
		db.Fail(func(op string) error {
			if op == "PutItem" && failures > 0 {
				failures--
				return throttled
			}
			return nil
		})
		calls := 0
		err := s.Retry(ctx, func(ctx context.Context) error {
			calls++
			return s.Put(ctx, item("A", "A"), store.IfNotExists())
		})
		if err != nil {
			t.Fatalf("expected success, got %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		s, db := newStore(t)
		db.Fail(func(string) error { return throttled })
		calls := 0
		err := s.Retry(ctx, func(ctx context.Context) error {
			calls++
			return s.Put(ctx, item("A", "A"))
		})
		if !errors.Is(err, store.ErrTransient) {
			t.Errorf("expected ErrTransient, got %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("never retries condition failures", func(t *testing.T) {
		s, _ := newStore(t)
		if err := s.Put(ctx, item("A", "A")); err != nil {
			t.Fatal(err)
		}
		calls := 0
		err := s.Retry(ctx, func(ctx context.Context) error {
			calls++
			return s.Put(ctx, item("A", "A"), store.IfNotExists())
		})
		if !errors.Is(err, store.ErrConditionFailed) {
			t.Errorf("expected ErrConditionFailed, got %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("stops when context is done", func(t *testing.T) {
		s, db := newStore(t)
		db.Fail(func(string) error { return throttled })
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := s.Retry(cctx, func(ctx context.Context) error {
			return s.Put(ctx, item("A", "A"))
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := store.NewMetrics(reg)
	s, _ := newStore(t, store.WithMetrics(m))
	ctx := context.Background()

	_ = s.Put(ctx, item("A", "A"), store.IfNotExists())
	_ = s.Put(ctx, item("A", "A"), store.IfNotExists())
	_, _ = s.Get(ctx, store.Key{Partition: "B", Sort: "B"})

	if got := testutil.ToFloat64(m.Requests("put", store.OutcomeOK)); got != 1 {
		t.Errorf("expected 1 ok put, got %v", got)
	}
	if got := testutil.ToFloat64(m.Requests("put", store.OutcomeConditionFailed)); got != 1 {
		t.Errorf("expected 1 failed put, got %v", got)
	}
	if got := testutil.ToFloat64(m.Requests("get", store.OutcomeNotFound)); got != 1 {
		t.Errorf("expected 1 not-found get, got %v", got)
	}
}
