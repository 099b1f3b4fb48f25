package franchise

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/singletable/key"
	"github.com/jacentio/singletable/store"
)

const (
	tagOwner    key.Tag = "OWNER"
	tagStore    key.Tag = "STORE"
	tagEmployee key.Tag = "EMPLOYEE"
	tagItem     key.Tag = "ITEM"

	storeNumberWidth = 6
)

var (
	// GSI1 finds a store's owner from the store number.
	GSI1 = store.Index{Name: "GSI1", PartitionKey: "GSI1"}
	// GSI2 finds an employee's store from the employee ID.
	GSI2 = store.Index{Name: "GSI2", PartitionKey: "GSI2"}
)

const (
	typeOwner      = "Owner"
	typeStore      = "Store"
	typeLocation   = "StoreLocation"
	typeEmployee   = "Employee"
	typeEmployeeID = "EmployeeId"
	typeMenuItem   = "MenuItem"
)

func ownerKey(name string) store.Key {
	k := tagOwner.Key(name)
	return store.Key{Partition: k, Sort: k}
}

func storeID(number int64) (string, error) {
	return tagStore.Ordinal(number, storeNumberWidth)
}

// locationKey is the store's own partition. Its root item reserves the
// store number across all owners.
func locationKey(id string) store.Key {
	return store.Key{Partition: id, Sort: id}
}

// employeeKey reserves an employee ID across all stores.
func employeeKey(id string) store.Key {
	k := tagEmployee.Key(id)
	return store.Key{Partition: k, Sort: k}
}

func itemType(item store.Item) string {
	if v, ok := item["Type"].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}
