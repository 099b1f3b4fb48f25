// Package franchise models a restaurant franchise: owners, the stores they
// run, and each store's employees and menu.
//
// Stores sit in their owner's item collection. Employees and menu items
// sit in the store's own partition, whose root item reserves the store
// number. GSI1 and GSI2 are single-attribute indexes that answer the
// reverse lookups: which owner runs a store, and which store employs
// someone.
package franchise

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"

	"github.com/jacentio/singletable/internal/valid"
	"github.com/jacentio/singletable/store"
)

var (
	ErrOwnerExists      = errors.New("franchise: owner already exists")
	ErrOwnerNotFound    = errors.New("franchise: owner not found")
	ErrStoreExists      = errors.New("franchise: store number already taken")
	ErrStoreNotFound    = errors.New("franchise: store not found")
	ErrEmployeeExists   = errors.New("franchise: employee id already taken")
	ErrEmployeeNotFound = errors.New("franchise: employee not found")
)

// Service reads and writes the franchise model.
type Service struct {
	store *store.Store
}

// New creates a Service over a store whose table has PK and SK keys and
// the GSI1 and GSI2 indexes.
func New(s *store.Store) *Service {
	return &Service{store: s}
}

// PutOwner creates an owner.
func (s *Service) PutOwner(ctx context.Context, o Owner) error {
	if err := valid.Struct(o); err != nil {
		return err
	}
	k := ownerKey(o.Name)
	item, err := attributevalue.MarshalMap(ownerItem{
		keys:  keys{PK: k.Partition, SK: k.Sort, Type: typeOwner},
		Owner: o,
	})
	if err != nil {
		return fmt.Errorf("franchise: marshal owner: %w", err)
	}
	err = s.store.Put(ctx, item, store.IfNotExists())
	if errors.Is(err, store.ErrConditionFailed) {
		return ErrOwnerExists
	}
	return err
}

// GetOwner returns an owner by name.
func (s *Service) GetOwner(ctx context.Context, name string) (*Owner, error) {
	item, err := s.store.Get(ctx, ownerKey(name))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOwnerNotFound
	}
	if err != nil {
		return nil, err
	}
	var o Owner
	if err := attributevalue.UnmarshalMap(item, &o); err != nil {
		return nil, fmt.Errorf("franchise: unmarshal owner: %w", err)
	}
	return &o, nil
}

// AddStore opens a store for an existing owner. Store numbers are unique
// across all owners.
func (s *Service) AddStore(ctx context.Context, st Store) error {
	if st.Status == "" {
		st.Status = StoreOpen
	}
	if err := valid.Struct(st); err != nil {
		return err
	}
	id, err := storeID(st.Number)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}

	ok := ownerKey(st.Owner)
	storeAV, err := attributevalue.MarshalMap(storeItem{
		keys:  keys{PK: ok.Partition, SK: id, Type: typeStore},
		GSI1:  id,
		Store: st,
	})
	if err != nil {
		return fmt.Errorf("franchise: marshal store: %w", err)
	}
	lk := locationKey(id)
	locationAV, err := attributevalue.MarshalMap(locationItem{
		keys:        keys{PK: lk.Partition, SK: lk.Sort, Type: typeLocation},
		Owner:       st.Owner,
		StoreNumber: st.Number,
	})
	if err != nil {
		return fmt.Errorf("franchise: marshal store location: %w", err)
	}

	err = s.store.Transact(ctx,
		store.CheckOp(ok, store.IfExists()),
		store.PutOp(locationAV, store.IfNotExists()),
		store.PutOp(storeAV, store.IfNotExists()),
	)
	var cerr *store.ConditionError
	if errors.As(err, &cerr) {
		if cerr.Failed(0) {
			return ErrOwnerNotFound
		}
		return ErrStoreExists
	}
	return err
}

// SetStoreStatus opens or closes a store.
func (s *Service) SetStoreStatus(ctx context.Context, owner string, number int64, status string) error {
	if err := valid.Var("status", status, "oneof="+StoreOpen+" "+StoreClosed); err != nil {
		return err
	}
	id, err := storeID(number)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	k := store.Key{Partition: ownerKey(owner).Partition, Sort: id}
	_, err = s.store.Update(ctx, k, expression.Set(expression.Name("Status"), expression.Value(status)), store.IfExists())
	if errors.Is(err, store.ErrConditionFailed) {
		return ErrStoreNotFound
	}
	return err
}

// OwnerAndStores returns an owner and every store they run, by store number.
func (s *Service) OwnerAndStores(ctx context.Context, name string) (*Owner, []Store, error) {
	page, err := s.store.Query(ctx, store.CollectionQuery{
		Partition: tagOwner.Key(name),
	})
	if err != nil {
		return nil, nil, err
	}

	var (
		owner  *Owner
		stores []Store
	)
	for _, item := range page.Items {
		switch itemType(item) {
		case typeOwner:
			owner = new(Owner)
			if err := attributevalue.UnmarshalMap(item, owner); err != nil {
				return nil, nil, fmt.Errorf("franchise: unmarshal owner: %w", err)
			}
		case typeStore:
			var st Store
			if err := attributevalue.UnmarshalMap(item, &st); err != nil {
				return nil, nil, fmt.Errorf("franchise: unmarshal store: %w", err)
			}
			stores = append(stores, st)
		}
	}
	if owner == nil {
		return nil, nil, ErrOwnerNotFound
	}
	return owner, stores, nil
}

// StoresIn returns the owner's stores matching every non-empty field of
// loc. The match is a filter over all of the owner's stores, so each call
// reads and bills the whole store list.
func (s *Service) StoresIn(ctx context.Context, owner string, loc Location) ([]Store, error) {
	q := store.CollectionQuery{
		Partition: tagOwner.Key(owner),
		Range:     store.Prefix(tagStore.Prefix()),
	}
	if filter, ok := locationFilter(loc); ok {
		q.Filter = filter
	}
	page, err := s.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	var stores []Store
	if err := attributevalue.UnmarshalListOfMaps(page.Items, &stores); err != nil {
		return nil, fmt.Errorf("franchise: unmarshal stores: %w", err)
	}
	return stores, nil
}

func locationFilter(loc Location) (expression.ConditionBuilder, bool) {
	var conds []expression.ConditionBuilder
	for _, f := range []struct{ name, value string }{
		{"Territory", loc.Territory},
		{"Region", loc.Region},
		{"Market", loc.Market},
		{"Area", loc.Area},
	} {
		if f.value != "" {
			conds = append(conds, expression.Name(f.name).Equal(expression.Value(f.value)))
		}
	}
	switch len(conds) {
	case 0:
		return expression.ConditionBuilder{}, false
	case 1:
		return conds[0], true
	default:
		return expression.And(conds[0], conds[1], conds[2:]...), true
	}
}

// StoreOwner returns the owner of a store.
func (s *Service) StoreOwner(ctx context.Context, number int64) (*Owner, error) {
	id, err := storeID(number)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	page, err := s.store.QueryIndex(ctx, store.IndexQuery{
		Index:     GSI1,
		Partition: id,
		Limit:     1,
	})
	if err != nil {
		return nil, err
	}
	if len(page.Items) == 0 {
		return nil, ErrStoreNotFound
	}
	var st Store
	if err := attributevalue.UnmarshalMap(page.Items[0], &st); err != nil {
		return nil, fmt.Errorf("franchise: unmarshal store: %w", err)
	}
	return s.GetOwner(ctx, st.Owner)
}
