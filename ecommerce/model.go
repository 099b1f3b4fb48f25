package ecommerce

import "time"

// Order statuses.
const (
	StatusPlaced    = "PLACED"
	StatusShipped   = "SHIPPED"
	StatusDelivered = "DELIVERED"
	StatusCancelled = "CANCELLED"
)

// Address is a named shipping address.
type Address struct {
	Street  string `dynamodbav:"StreetAddress" validate:"required"`
	City    string `dynamodbav:"City" validate:"required"`
	State   string `dynamodbav:"State"`
	Postal  string `dynamodbav:"PostalCode"`
	Country string `dynamodbav:"Country"`
}

// Customer is an account holder. Username and email are each unique.
type Customer struct {
	Username  string             `dynamodbav:"Username" validate:"required,max=64"`
	Email     string             `dynamodbav:"EmailAddress" validate:"required,email"`
	Name      string             `dynamodbav:"Name"`
	Addresses map[string]Address `dynamodbav:"Addresses" validate:"dive"`
}

// Order belongs to one customer. Amounts are in cents.
type Order struct {
	OrderID       string    `dynamodbav:"OrderId"`
	Username      string    `dynamodbav:"Username"`
	Status        string    `dynamodbav:"Status"`
	CreatedAt     time.Time `dynamodbav:"CreatedAt"`
	Amount        int64     `dynamodbav:"Amount"`
	NumberOfItems int       `dynamodbav:"NumberItems"`
}

// OrderItem is one line of an order. Price is in cents.
type OrderItem struct {
	ItemID      string `dynamodbav:"ItemId" validate:"required,max=128"`
	OrderID     string `dynamodbav:"OrderId"`
	Description string `dynamodbav:"Description"`
	Price       int64  `dynamodbav:"Price" validate:"gte=0"`
	Quantity    int    `dynamodbav:"Quantity" validate:"gte=1"`
}

type keys struct {
	PK   string `dynamodbav:"PK"`
	SK   string `dynamodbav:"SK"`
	Type string `dynamodbav:"Type"`
}

type gsi1 struct {
	GSI1PK string `dynamodbav:"GSI1PK"`
	GSI1SK string `dynamodbav:"GSI1SK"`
}

type gsi2 struct {
	GSI2PK string `dynamodbav:"GSI2PK,omitempty"`
	GSI2SK string `dynamodbav:"GSI2SK,omitempty"`
}

type customerItem struct {
	keys
	Customer
}

type emailItem struct {
	keys
	Username string `dynamodbav:"Username"`
}

type orderItem struct {
	keys
	gsi1
	gsi2
	Order
}

type lineItem struct {
	keys
	gsi1
	OrderItem
}
