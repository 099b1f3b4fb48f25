//go:build e2e

// Package e2e runs the domain services against real DynamoDB tables.
// Run with: go test -tags=e2e -v ./e2e/...
//
// Point E2E_ENDPOINT at DynamoDB Local (http://localhost:8000) or leave it
// unset to use the default AWS credential chain, optionally with
// E2E_PROFILE.
package e2e

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/singletable/codehost"
	"github.com/jacentio/singletable/ecommerce"
	"github.com/jacentio/singletable/session"
	"github.com/jacentio/singletable/store"
)

const tablePrefix = "singletable-e2e"

var (
	testID       string
	mainTable    string
	sessionTable string

	ddbClient *dynamodb.Client
)

// --- Setup & Teardown ---

func TestMain(m *testing.M) {
	testID = uuid.New().String()[:8]
	mainTable = fmt.Sprintf("%s-%s", tablePrefix, testID)
	sessionTable = fmt.Sprintf("%s-%s-sessions", tablePrefix, testID)

	fmt.Printf("Test ID: %s\n", testID)
	fmt.Printf("Tables:\n")
	fmt.Printf("  - Main: %s\n", mainTable)
	fmt.Printf("  - Sessions: %s\n", sessionTable)

	ctx := context.Background()
	var opts []func(*config.LoadOptions) error
	if profile := os.Getenv("E2E_PROFILE"); profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	endpoint := os.Getenv("E2E_ENDPOINT")
	if endpoint != "" {
		// DynamoDB Local accepts any credentials.
		opts = append(opts, config.WithRegion("us-east-1"))
		opts = append(opts, config.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) {
				return aws.Credentials{AccessKeyID: "local", SecretAccessKey: "local"}, nil
			})))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		fmt.Printf("Failed to load AWS config: %v\n", err)
		os.Exit(1)
	}
	ddbClient = dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	if err := createTables(ctx); err != nil {
		fmt.Printf("Failed to create tables: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	if err := deleteTables(ctx); err != nil {
		fmt.Printf("Failed to delete tables: %v\n", err)
	}
	os.Exit(code)
}

func gsi(name, pk, sk string) types.GlobalSecondaryIndex {
	return types.GlobalSecondaryIndex{
		IndexName: aws.String(name),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(pk), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(sk), KeyType: types.KeyTypeRange},
		},
		Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
	}
}

func stringAttrs(names ...string) []types.AttributeDefinition {
	out := make([]types.AttributeDefinition, len(names))
	for i, n := range names {
		out[i] = types.AttributeDefinition{AttributeName: aws.String(n), AttributeType: types.ScalarAttributeTypeS}
	}
	return out
}

func createTables(ctx context.Context) error {
	fmt.Println("Creating test tables...")

	// The ecommerce and codehost models share one table; their GSI
	// attribute names line up.
	_, err := ddbClient.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(mainTable),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("PK"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("SK"), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: stringAttrs("PK", "SK", "GSI1PK", "GSI1SK", "GSI2PK", "GSI2SK", "GSI3PK", "GSI3SK"),
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			gsi("GSI1", "GSI1PK", "GSI1SK"),
			gsi("GSI2", "GSI2PK", "GSI2SK"),
			gsi("GSI3", "GSI3PK", "GSI3SK"),
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("create table %s: %w", mainTable, err)
	}

	_, err = ddbClient.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(sessionTable),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(session.TokenAttribute), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: stringAttrs(session.TokenAttribute, session.UserIndex.PartitionKey),
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
			IndexName: aws.String(session.UserIndex.Name),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(session.UserIndex.PartitionKey), KeyType: types.KeyTypeHash},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		}},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("create table %s: %w", sessionTable, err)
	}

	for _, tableName := range []string{mainTable, sessionTable} {
		waiter := dynamodb.NewTableExistsWaiter(ddbClient)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(tableName),
		}, 2*time.Minute); err != nil {
			return fmt.Errorf("wait for table %s: %w", tableName, err)
		}
	}

	fmt.Println("All tables created and active")
	return nil
}

func deleteTables(ctx context.Context) error {
	fmt.Println("Deleting test tables...")
	for _, tableName := range []string{mainTable, sessionTable} {
		_, err := ddbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{
			TableName: aws.String(tableName),
		})
		if err != nil {
			fmt.Printf("Warning: failed to delete table %s: %v\n", tableName, err)
		}
	}
	fmt.Println("Tables deleted")
	return nil
}

func newStore() *store.Store {
	return store.New(ddbClient, store.DefaultConfig(mainTable))
}

// unique returns a name no other test run uses.
func unique(prefix string) string {
	return prefix + "-" + uuid.New().String()[:8]
}

// --- Uniqueness ---

func TestCreateCustomer_UniqueEmail(t *testing.T) {
	ctx := context.Background()
	svc := ecommerce.New(newStore())
	email := unique("shared") + "@example.com"

	const workers = 8
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		wins  int
		taken int
		other []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := svc.CreateCustomer(ctx, ecommerce.Customer{
				Username: unique(fmt.Sprintf("user%d", i)),
				Email:    email,
				Name:     "Racer",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ecommerce.ErrEmailTaken):
				taken++
			default:
				other = append(other, err)
			}
		}(i)
	}
	wg.Wait()

	// Concurrent transactions on the same guard item may also be
	// cancelled for a transaction conflict, which is retryable.
	for _, err := range other {
		if !store.IsRetryable(err) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly one customer with %s, got %d", email, wins)
	}
	if wins+taken+len(other) != workers {
		t.Errorf("expected %d outcomes, got %d", workers, wins+taken+len(other))
	}
}

func TestPlaceOrder_RoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := ecommerce.New(newStore())
	username := unique("buyer")
	if err := svc.CreateCustomer(ctx, ecommerce.Customer{Username: username, Email: username + "@example.com", Name: "Buyer"}); err != nil {
		t.Fatalf("CreateCustomer failed: %v", err)
	}

	order, err := svc.PlaceOrder(ctx, username, []ecommerce.OrderItem{
		{ItemID: "sku-1", Description: "Socks", Price: 500, Quantity: 2},
		{ItemID: "sku-2", Description: "Hat", Price: 1500, Quantity: 1},
	})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}

	// GSI reads are eventually consistent.
	var items []ecommerce.OrderItem
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		_, items, err = svc.OrderWithItems(ctx, order.OrderID)
		if err == nil && len(items) == 2 {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("OrderWithItems failed: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("expected 2 line items, got %d", len(items))
	}

	_, recent, err := svc.CustomerWithRecentOrders(ctx, username, 5)
	if err != nil {
		t.Fatalf("CustomerWithRecentOrders failed: %v", err)
	}
	if len(recent) != 1 || recent[0].OrderID != order.OrderID {
		t.Errorf("expected order %s, got %+v", order.OrderID, recent)
	}
}

// --- Counters ---

func TestOpenIssue_ConcurrentNumbering(t *testing.T) {
	ctx := context.Background()
	svc := codehost.New(newStore())
	owner := unique("owner")
	if _, err := svc.CreateUser(ctx, codehost.Account{Name: owner}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	ref := codehost.RepoRef{Owner: owner, Name: "repo"}
	if _, err := svc.CreateRepo(ctx, ref, "e2e"); err != nil {
		t.Fatalf("CreateRepo failed: %v", err)
	}

	const n = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []int64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			is, err := svc.OpenIssue(ctx, ref, codehost.Submission{Title: fmt.Sprintf("issue %d", i), Creator: owner})
			if err != nil {
				t.Errorf("OpenIssue failed: %v", err)
				return
			}
			mu.Lock()
			numbers = append(numbers, is.Number)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	for i, got := range numbers {
		if want := int64(i + 1); got != want {
			t.Fatalf("expected numbers 1..%d without duplicates, got %v", n, numbers)
		}
	}

	_, issues, err := svc.RepoAndIssues(ctx, ref, 5)
	if err != nil {
		t.Fatalf("RepoAndIssues failed: %v", err)
	}
	if len(issues) != 5 || issues[0].Number != n {
		t.Errorf("expected the 5 newest issues starting at %d, got %d issues", n, len(issues))
	}
}

// --- Sessions ---

func TestSession_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := store.New(ddbClient, session.StoreConfig(sessionTable))
	mgr := session.New(s)
	username := unique("viewer")

	created, err := mgr.Create(ctx, username)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := mgr.CreateWithToken(ctx, "other", created.Token); !errors.Is(err, session.ErrTokenInUse) {
		t.Errorf("expected ErrTokenInUse, got %v", err)
	}

	got, err := mgr.Get(ctx, created.Token)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Username != username {
		t.Errorf("expected username %q, got %q", username, got.Username)
	}

	if err := mgr.Delete(ctx, created.Token); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := mgr.Get(ctx, created.Token); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after delete, got %v", err)
	}
}

func TestSession_ExpiredHiddenBeforeSweep(t *testing.T) {
	ctx := context.Background()
	past := time.Now().Add(-48 * time.Hour)
	s := store.New(ddbClient, session.StoreConfig(sessionTable))
	mgr := session.New(s,
		session.WithClock(func() time.Time { return past }),
		session.WithLifetime(time.Hour),
	)

	created, err := mgr.Create(ctx, unique("stale"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// The sweeper takes up to days to delete an expired item; it must
	// already be invisible to readers on the real clock.
	reader := session.New(store.New(ddbClient, session.StoreConfig(sessionTable)))
	if _, err := reader.Get(ctx, created.Token); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound for an expired session, got %v", err)
	}
}
