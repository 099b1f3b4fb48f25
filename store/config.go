package store

import "time"

// Config holds configuration for the Store.
type Config struct {
	// TableName is the single table every entity lives in.
	TableName string

	// PartitionKey is the partition key attribute name.
	// Default: "PK"
	PartitionKey string

	// SortKey is the sort key attribute name. Leave empty for tables keyed
	// on the partition key alone.
	SortKey string

	// TTLAttribute is the numeric epoch-seconds attribute the table's TTL
	// sweeper watches. When set, Get and queries hide items whose TTL has
	// passed but which the sweeper has not purged yet.
	// Default: "" (TTL disabled)
	TTLAttribute string

	// MaxAttempts bounds Retry, counting the first call.
	// Default: 3
	MaxAttempts int

	// MaxBackoff caps the jittered delay between retry attempts.
	// Default: 2s
	MaxBackoff time.Duration
}

// DefaultConfig returns the conventional PK/SK layout for the given table.
func DefaultConfig(table string) Config {
	return Config{
		TableName:    table,
		PartitionKey: "PK",
		SortKey:      "SK",
		MaxAttempts:  3,
		MaxBackoff:   2 * time.Second,
	}
}

// validate fills unset values with defaults.
func (c *Config) validate() {
	if c.PartitionKey == "" {
		c.PartitionKey = "PK"
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Second
	}
}
