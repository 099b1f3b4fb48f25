package ecommerce

import (
	"github.com/jacentio/singletable/internal/shard"
	"github.com/jacentio/singletable/key"
	"github.com/jacentio/singletable/store"
)

const (
	tagCustomer      key.Tag = "CUSTOMER"
	tagCustomerEmail key.Tag = "CUSTOMEREMAIL"
	tagOrder         key.Tag = "ORDER"
	tagItem          key.Tag = "ITEM"
	tagOrderStatus   key.Tag = "ORDERSTATUS"

	// Orders sort before their customer in the customer's collection.
	tagOrderInCustomer key.Tag = "#ORDER"
)

var (
	// GSI1 groups an order with its line items.
	GSI1 = store.Index{Name: "GSI1", PartitionKey: "GSI1PK", SortKey: "GSI1SK"}
	// GSI2 is a sparse index of orders still in progress, by status.
	GSI2 = store.Index{Name: "GSI2", PartitionKey: "GSI2PK", SortKey: "GSI2SK"}
)

// StatusShards is how many partitions each status is spread over in GSI2.
// Every order placed lands in the PLACED partition, which would otherwise
// take the table's whole write rate.
const StatusShards = 4

// Item types stored in the Type attribute.
const (
	typeCustomer      = "Customer"
	typeCustomerEmail = "CustomerEmail"
	typeOrder         = "Order"
	typeOrderItem     = "OrderItem"
)

func customerKey(username string) store.Key {
	k := tagCustomer.Key(username)
	return store.Key{Partition: k, Sort: k}
}

func emailKey(email string) store.Key {
	k := tagCustomerEmail.Key(email)
	return store.Key{Partition: k, Sort: k}
}

func orderKey(username, orderID string) store.Key {
	return store.Key{
		Partition: tagCustomer.Key(username),
		Sort:      tagOrderInCustomer.Key(orderID),
	}
}

func orderItemKey(orderID, itemID string) store.Key {
	k := tagOrder.Key(orderID, string(tagItem), itemID)
	return store.Key{Partition: k, Sort: k}
}

// statusKeys returns the GSI2 key of an order with the given status.
func statusKeys(status, orderID string) gsi2 {
	return gsi2{
		GSI2PK: shard.Key(tagOrderStatus.Key(status), orderID, StatusShards),
		GSI2SK: tagOrder.Key(orderID),
	}
}

// inProgress reports whether orders with status appear in GSI2.
func inProgress(status string) bool {
	return status == StatusPlaced || status == StatusShipped
}
