// Package breaker wraps a store.Client in a circuit breaker so that a
// throttled or unreachable table fails fast instead of absorbing retries.
//
// Only transient failures count against the breaker. A failed precondition
// is a successful round trip.
package breaker

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/sony/gobreaker"

	"github.com/jacentio/singletable/store"
)

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = gobreaker.ErrOpenState

// Config holds circuit breaker settings.
type Config struct {
	Name string

	// MaxRequests is how many calls pass while half-open.
	MaxRequests uint32

	// Interval clears the failure counts while closed.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration

	// The breaker trips once MinRequests calls have been seen and at
	// least FailureRatio of them failed.
	FailureRatio float64
	MinRequests  uint32
}

// DefaultConfig returns settings suited to a single DynamoDB table.
func DefaultConfig(name string) Config {
	return Config{
		Name:         name,
		MaxRequests:  5,
		Interval:     30 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.8,
		MinRequests:  5,
	}
}

// Client is a store.Client guarded by a circuit breaker.
type Client struct {
	next store.Client
	cb   *gobreaker.CircuitBreaker
}

var _ store.Client = (*Client)(nil)

// New wraps next. A nil logger uses slog.Default.
func New(next store.Client, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return !store.IsTransient(err)
		},
	})
	return &Client{next: next, cb: cb}
}

// State returns the breaker's current state.
func (c *Client) State() gobreaker.State {
	return c.cb.State()
}

func call[T any](c *Client, fn func() (T, error)) (T, error) {
	out, err := c.cb.Execute(func() (any, error) { return fn() })
	v, _ := out.(T)
	return v, err
}

func (c *Client) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return call(c, func() (*dynamodb.GetItemOutput, error) { return c.next.GetItem(ctx, params, optFns...) })
}

func (c *Client) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return call(c, func() (*dynamodb.PutItemOutput, error) { return c.next.PutItem(ctx, params, optFns...) })
}

func (c *Client) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	return call(c, func() (*dynamodb.UpdateItemOutput, error) { return c.next.UpdateItem(ctx, params, optFns...) })
}

func (c *Client) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	return call(c, func() (*dynamodb.DeleteItemOutput, error) { return c.next.DeleteItem(ctx, params, optFns...) })
}

func (c *Client) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return call(c, func() (*dynamodb.QueryOutput, error) { return c.next.Query(ctx, params, optFns...) })
}

func (c *Client) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	return call(c, func() (*dynamodb.TransactWriteItemsOutput, error) {
		return c.next.TransactWriteItems(ctx, params, optFns...)
	})
}
