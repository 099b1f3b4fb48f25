package franchise

// Owner runs one or more stores.
type Owner struct {
	Name  string `dynamodbav:"OwnerName" validate:"required,max=128"`
	Email string `dynamodbav:"Email,omitempty" validate:"omitempty,email"`
	Phone string `dynamodbav:"Phone,omitempty"`
}

// Location places a store in the sales hierarchy. Empty fields match any
// value when used as a filter.
type Location struct {
	Territory string `dynamodbav:"Territory,omitempty"`
	Region    string `dynamodbav:"Region,omitempty"`
	Market    string `dynamodbav:"Market,omitempty"`
	Area      string `dynamodbav:"Area,omitempty"`
}

// Store statuses.
const (
	StoreOpen   = "OPEN"
	StoreClosed = "CLOSED"
)

// Store is one franchise location.
type Store struct {
	Number  int64  `dynamodbav:"StoreNumber" validate:"min=1,max=999999"`
	Owner   string `dynamodbav:"OwnerName" validate:"required"`
	Status  string `dynamodbav:"Status" validate:"oneof=OPEN CLOSED"`
	Address string `dynamodbav:"Address"`
	Location
}

// Employee works at one store.
type Employee struct {
	ID          string `dynamodbav:"EmployeeId" validate:"required,max=64"`
	StoreNumber int64  `dynamodbav:"StoreNumber"`
	Name        string `dynamodbav:"EmployeeName" validate:"required"`
	Role        string `dynamodbav:"Role"`
}

// MenuItem is sold at one store. Price is in cents; TaxRate is a fraction.
type MenuItem struct {
	ID          string  `dynamodbav:"ItemId" validate:"required,max=64"`
	StoreNumber int64   `dynamodbav:"StoreNumber"`
	Name        string  `dynamodbav:"ItemName" validate:"required"`
	Description string  `dynamodbav:"Description,omitempty"`
	Price       int64   `dynamodbav:"Price" validate:"gte=0"`
	TaxRate     float64 `dynamodbav:"TaxRate" validate:"gte=0,lte=1"`
}

type keys struct {
	PK   string `dynamodbav:"PK"`
	SK   string `dynamodbav:"SK"`
	Type string `dynamodbav:"Type"`
}

type ownerItem struct {
	keys
	Owner
}

type storeItem struct {
	keys
	GSI1 string `dynamodbav:"GSI1"`
	Store
}

type locationItem struct {
	keys
	Owner       string `dynamodbav:"OwnerName"`
	StoreNumber int64  `dynamodbav:"StoreNumber"`
}

type employeeItem struct {
	keys
	GSI2 string `dynamodbav:"GSI2"`
	Employee
}

type employeeIDItem struct {
	keys
	StoreNumber int64 `dynamodbav:"StoreNumber"`
}

type menuItem struct {
	keys
	MenuItem
}
