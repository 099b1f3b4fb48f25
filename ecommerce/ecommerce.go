// Package ecommerce models customers, their orders and order line items
// in one table.
//
// A customer's orders live in the customer's item collection so that a
// single query returns the customer with their most recent orders. Line
// items live in their own partitions and are joined to their order through
// GSI1. Usernames and email addresses are kept unique with guard items
// written in the same transaction as the customer.
package ecommerce

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/singletable/internal/shard"
	"github.com/jacentio/singletable/internal/valid"
	"github.com/jacentio/singletable/store"
)

var (
	ErrUsernameTaken    = errors.New("ecommerce: username already taken")
	ErrEmailTaken       = errors.New("ecommerce: email address already in use")
	ErrCustomerNotFound = errors.New("ecommerce: customer not found")
	ErrOrderNotFound    = errors.New("ecommerce: order not found")
)

// maxOrderItems leaves room in a transaction for the order and the customer check.
const maxOrderItems = store.MaxTransactItems - 2

// Service reads and writes customers and orders.
type Service struct {
	store *store.Store
	newID func() (string, error)
}

// Option configures a Service.
type Option func(*Service)

// WithOrderIDs replaces the order ID generator. IDs must sort in creation
// order for CustomerWithRecentOrders to return the newest orders.
func WithOrderIDs(fn func() (string, error)) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// New creates a Service over a store whose table has PK and SK keys and GSI1.
func New(s *store.Store, opts ...Option) *Service {
	svc := &Service{store: s, newID: newOrderID}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// newOrderID returns a UUIDv7, whose text form sorts by creation time.
func newOrderID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// CreateCustomer creates a customer, failing with ErrUsernameTaken or
// ErrEmailTaken if either is already in use. Nothing is written on failure.
func (s *Service) CreateCustomer(ctx context.Context, c Customer) error {
	if c.Addresses == nil {
		c.Addresses = map[string]Address{}
	}
	if err := valid.Struct(c); err != nil {
		return err
	}

	ck := customerKey(c.Username)
	customer, err := attributevalue.MarshalMap(customerItem{
		keys:     keys{PK: ck.Partition, SK: ck.Sort, Type: typeCustomer},
		Customer: c,
	})
	if err != nil {
		return fmt.Errorf("ecommerce: marshal customer: %w", err)
	}
	ek := emailKey(c.Email)
	email, err := attributevalue.MarshalMap(emailItem{
		keys:     keys{PK: ek.Partition, SK: ek.Sort, Type: typeCustomerEmail},
		Username: c.Username,
	})
	if err != nil {
		return fmt.Errorf("ecommerce: marshal email: %w", err)
	}

	err = s.store.CreateAll(ctx, customer, email)
	var cerr *store.ConditionError
	if errors.As(err, &cerr) {
		switch {
		case cerr.Failed(0):
			return ErrUsernameTaken
		case cerr.Failed(1):
			return ErrEmailTaken
		}
	}
	return err
}

// GetCustomer returns a customer by username.
func (s *Service) GetCustomer(ctx context.Context, username string) (*Customer, error) {
	item, err := s.store.Get(ctx, customerKey(username))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, err
	}
	var c Customer
	if err := attributevalue.UnmarshalMap(item, &c); err != nil {
		return nil, fmt.Errorf("ecommerce: unmarshal customer: %w", err)
	}
	return &c, nil
}

// SetAddress adds or replaces one named address of an existing customer.
func (s *Service) SetAddress(ctx context.Context, username, name string, addr Address) error {
	if err := valid.Var("address name", name, "required,max=64,excludesall=.[]"); err != nil {
		return err
	}
	if err := valid.Struct(addr); err != nil {
		return err
	}
	update := expression.Set(addressPath(name), expression.Value(addr))
	_, err := s.store.Update(ctx, customerKey(username), update, store.IfExists())
	if errors.Is(err, store.ErrConditionFailed) {
		return ErrCustomerNotFound
	}
	return err
}

// RemoveAddress deletes one named address. Removing an unknown address succeeds.
func (s *Service) RemoveAddress(ctx context.Context, username, name string) error {
	if err := valid.Var("address name", name, "required,max=64,excludesall=.[]"); err != nil {
		return err
	}
	update := expression.Remove(addressPath(name))
	_, err := s.store.Update(ctx, customerKey(username), update, store.IfExists())
	if errors.Is(err, store.ErrConditionFailed) {
		return ErrCustomerNotFound
	}
	return err
}

func addressPath(name string) expression.NameBuilder {
	return expression.Name("Addresses." + name)
}

// PlaceOrder writes an order and its line items in one transaction. It
// fails with ErrCustomerNotFound if the customer does not exist.
func (s *Service) PlaceOrder(ctx context.Context, username string, items []OrderItem) (*Order, error) {
	if err := valid.Var("username", username, "required"); err != nil {
		return nil, err
	}
	if err := valid.Var("items", items, fmt.Sprintf("required,min=1,max=%d,unique=ItemID", maxOrderItems)); err != nil {
		return nil, err
	}
	for _, it := range items {
		if err := valid.Struct(it); err != nil {
			return nil, err
		}
	}

	id, err := s.newID()
	if err != nil {
		return nil, fmt.Errorf("ecommerce: order id: %w", err)
	}
	order := Order{
		OrderID:       id,
		Username:      username,
		Status:        StatusPlaced,
		CreatedAt:     s.store.Now(),
		NumberOfItems: len(items),
	}
	for _, it := range items {
		order.Amount += it.Price * int64(it.Quantity)
	}

	ok := orderKey(username, id)
	orderIndex := tagOrder.Key(id)
	orderAV, err := attributevalue.MarshalMap(orderItem{
		keys:  keys{PK: ok.Partition, SK: ok.Sort, Type: typeOrder},
		gsi1:  gsi1{GSI1PK: orderIndex, GSI1SK: orderIndex},
		gsi2:  statusKeys(order.Status, id),
		Order: order,
	})
	if err != nil {
		return nil, fmt.Errorf("ecommerce: marshal order: %w", err)
	}

	ops := []store.WriteOp{
		store.CheckOp(customerKey(username), store.IfExists()),
		store.PutOp(orderAV, store.IfNotExists()),
	}
	for _, it := range items {
		it.OrderID = id
		ik := orderItemKey(id, it.ItemID)
		av, err := attributevalue.MarshalMap(lineItem{
			keys:      keys{PK: ik.Partition, SK: ik.Sort, Type: typeOrderItem},
			gsi1:      gsi1{GSI1PK: orderIndex, GSI1SK: tagItem.Key(it.ItemID)},
			OrderItem: it,
		})
		if err != nil {
			return nil, fmt.Errorf("ecommerce: marshal order item: %w", err)
		}
		ops = append(ops, store.PutOp(av, store.IfNotExists()))
	}

	err = s.store.Transact(ctx, ops...)
	var cerr *store.ConditionError
	if errors.As(err, &cerr) && cerr.Failed(0) {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderStatus changes the status of an existing order. Delivered and
// cancelled orders drop out of GSI2.
func (s *Service) UpdateOrderStatus(ctx context.Context, username, orderID, status string) error {
	if err := valid.Var("status", status, "oneof="+StatusPlaced+" "+StatusShipped+" "+StatusDelivered+" "+StatusCancelled); err != nil {
		return err
	}
	update := expression.Set(expression.Name("Status"), expression.Value(status))
	if inProgress(status) {
		k := statusKeys(status, orderID)
		update = update.
			Set(expression.Name(GSI2.PartitionKey), expression.Value(k.GSI2PK)).
			Set(expression.Name(GSI2.SortKey), expression.Value(k.GSI2SK))
	} else {
		update = update.
			Remove(expression.Name(GSI2.PartitionKey)).
			Remove(expression.Name(GSI2.SortKey))
	}
	_, err := s.store.Update(ctx, orderKey(username, orderID), update, store.IfExists())
	if errors.Is(err, store.ErrConditionFailed) {
		return ErrOrderNotFound
	}
	return err
}

// CustomerWithRecentOrders returns a customer and up to n of their orders,
// newest first. Order IDs sort by creation time, so the lexicographically
// last orders are the most recent ones.
func (s *Service) CustomerWithRecentOrders(ctx context.Context, username string, n int) (*Customer, []Order, error) {
	if err := valid.Var("n", n, "min=0,max=1000"); err != nil {
		return nil, nil, err
	}
	page, err := s.store.Query(ctx, store.CollectionQuery{
		Partition:  tagCustomer.Key(username),
		Descending: true,
		Limit:      int32(n + 1),
	})
	if err != nil {
		return nil, nil, err
	}

	var (
		customer *Customer
		orders   []Order
	)
	for _, item := range page.Items {
		var k keys
		if err := attributevalue.UnmarshalMap(item, &k); err != nil {
			return nil, nil, fmt.Errorf("ecommerce: unmarshal: %w", err)
		}
		switch k.Type {
		case typeCustomer:
			customer = new(Customer)
			if err := attributevalue.UnmarshalMap(item, customer); err != nil {
				return nil, nil, fmt.Errorf("ecommerce: unmarshal customer: %w", err)
			}
		case typeOrder:
			var o Order
			if err := attributevalue.UnmarshalMap(item, &o); err != nil {
				return nil, nil, fmt.Errorf("ecommerce: unmarshal order: %w", err)
			}
			orders = append(orders, o)
		}
	}
	if customer == nil {
		return nil, nil, ErrCustomerNotFound
	}
	return customer, orders, nil
}

// OrderWithItems returns an order and all of its line items.
func (s *Service) OrderWithItems(ctx context.Context, orderID string) (*Order, []OrderItem, error) {
	page, err := s.store.QueryIndex(ctx, store.IndexQuery{
		Index:     GSI1,
		Partition: tagOrder.Key(orderID),
	})
	if err != nil {
		return nil, nil, err
	}

	var (
		order *Order
		items []OrderItem
	)
	for _, item := range page.Items {
		var k keys
		if err := attributevalue.UnmarshalMap(item, &k); err != nil {
			return nil, nil, fmt.Errorf("ecommerce: unmarshal: %w", err)
		}
		switch k.Type {
		case typeOrder:
			order = new(Order)
			if err := attributevalue.UnmarshalMap(item, order); err != nil {
				return nil, nil, fmt.Errorf("ecommerce: unmarshal order: %w", err)
			}
		case typeOrderItem:
			var it OrderItem
			if err := attributevalue.UnmarshalMap(item, &it); err != nil {
				return nil, nil, fmt.Errorf("ecommerce: unmarshal order item: %w", err)
			}
			items = append(items, it)
		}
	}
	if order == nil {
		return nil, nil, ErrOrderNotFound
	}
	return order, items, nil
}

// OrdersByStatus returns every order with an in-progress status, oldest
// first. It reads all of the status's shards concurrently.
func (s *Service) OrdersByStatus(ctx context.Context, status string) ([]Order, error) {
	if err := valid.Var("status", status, "oneof="+StatusPlaced+" "+StatusShipped); err != nil {
		return nil, err
	}

	shards := shard.All(tagOrderStatus.Key(status), StatusShards)
	results := make([][]Order, len(shards))
	g, ctx := errgroup.WithContext(ctx)
	for i, pk := range shards {
		g.Go(func() error {
			page, err := s.store.QueryIndex(ctx, store.IndexQuery{Index: GSI2, Partition: pk})
			if err != nil {
				return err
			}
			return attributevalue.UnmarshalListOfMaps(page.Items, &results[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("ecommerce: orders by status: %w", err)
	}

	var orders []Order
	for _, r := range results {
		orders = append(orders, r...)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].OrderID < orders[j].OrderID })
	return orders, nil
}
