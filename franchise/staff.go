package franchise

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"

	"github.com/jacentio/singletable/internal/valid"
	"github.com/jacentio/singletable/store"
)

// AddEmployee hires an employee at an existing store. Employee IDs are
// unique across all stores.
func (s *Service) AddEmployee(ctx context.Context, e Employee) error {
	if err := valid.Struct(e); err != nil {
		return err
	}
	id, err := storeID(e.StoreNumber)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}

	employee := tagEmployee.Key(e.ID)
	item, err := attributevalue.MarshalMap(employeeItem{
		keys:     keys{PK: id, SK: employee, Type: typeEmployee},
		GSI2:     employee,
		Employee: e,
	})
	if err != nil {
		return fmt.Errorf("franchise: marshal employee: %w", err)
	}

	ek := employeeKey(e.ID)
	guard, err := attributevalue.MarshalMap(employeeIDItem{
		keys:        keys{PK: ek.Partition, SK: ek.Sort, Type: typeEmployeeID},
		StoreNumber: e.StoreNumber,
	})
	if err != nil {
		return fmt.Errorf("franchise: marshal employee id: %w", err)
	}

	err = s.store.Transact(ctx,
		store.CheckOp(locationKey(id), store.IfExists()),
		store.PutOp(guard, store.IfNotExists()),
		store.PutOp(item, store.IfNotExists()),
	)
	var cerr *store.ConditionError
	if errors.As(err, &cerr) {
		if cerr.Failed(0) {
			return ErrStoreNotFound
		}
		return ErrEmployeeExists
	}
	return err
}

// RemoveEmployee deletes an employee from a store.
func (s *Service) RemoveEmployee(ctx context.Context, storeNumber int64, employeeID string) error {
	id, err := storeID(storeNumber)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	err = s.store.Transact(ctx,
		store.DeleteOp(store.Key{Partition: id, Sort: tagEmployee.Key(employeeID)}, store.IfExists()),
		store.DeleteOp(employeeKey(employeeID)),
	)
	if errors.Is(err, store.ErrConditionFailed) {
		return ErrEmployeeNotFound
	}
	return err
}

// Employees returns a store's employees ordered by ID.
func (s *Service) Employees(ctx context.Context, storeNumber int64) ([]Employee, error) {
	id, err := storeID(storeNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	page, err := s.store.Query(ctx, store.CollectionQuery{
		Partition: id,
		Range:     store.Prefix(tagEmployee.Prefix()),
	})
	if err != nil {
		return nil, err
	}
	var employees []Employee
	if err := attributevalue.UnmarshalListOfMaps(page.Items, &employees); err != nil {
		return nil, fmt.Errorf("franchise: unmarshal employees: %w", err)
	}
	return employees, nil
}

// EmployeeStore returns the number of the store that employs employeeID.
// The index is eventually consistent, so a just-hired employee may not be
// found yet.
func (s *Service) EmployeeStore(ctx context.Context, employeeID string) (int64, error) {
	page, err := s.store.QueryIndex(ctx, store.IndexQuery{
		Index:     GSI2,
		Partition: tagEmployee.Key(employeeID),
		Limit:     1,
	})
	if err != nil {
		return 0, err
	}
	if len(page.Items) == 0 {
		return 0, ErrEmployeeNotFound
	}
	var e Employee
	if err := attributevalue.UnmarshalMap(page.Items[0], &e); err != nil {
		return 0, fmt.Errorf("franchise: unmarshal employee: %w", err)
	}
	return e.StoreNumber, nil
}

// AddMenuItem adds or replaces an item on a store's menu.
func (s *Service) AddMenuItem(ctx context.Context, m MenuItem) error {
	if err := valid.Struct(m); err != nil {
		return err
	}
	id, err := storeID(m.StoreNumber)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	item, err := attributevalue.MarshalMap(menuItem{
		keys:     keys{PK: id, SK: tagItem.Key(m.ID), Type: typeMenuItem},
		MenuItem: m,
	})
	if err != nil {
		return fmt.Errorf("franchise: marshal menu item: %w", err)
	}

	err = s.store.Transact(ctx,
		store.CheckOp(locationKey(id), store.IfExists()),
		store.PutOp(item),
	)
	if errors.Is(err, store.ErrConditionFailed) {
		return ErrStoreNotFound
	}
	return err
}

// MenuItems returns a store's menu ordered by item ID.
func (s *Service) MenuItems(ctx context.Context, storeNumber int64) ([]MenuItem, error) {
	id, err := storeID(storeNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	page, err := s.store.Query(ctx, store.CollectionQuery{
		Partition: id,
		Range:     store.Prefix(tagItem.Prefix()),
	})
	if err != nil {
		return nil, err
	}
	var items []MenuItem
	if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
		return nil, fmt.Errorf("franchise: unmarshal menu: %w", err)
	}
	return items, nil
}
