// Package shard spreads writes for one hot partition key over a fixed
// number of partitions.
package shard

import (
	"fmt"
	"hash/fnv"
)

// MaxShards is the most shards a key can be spread over.
const MaxShards = 256

// Key computes the sharded partition key that member is written under.
// With n <= 1, all members go to shard "00".
// With n > 1, members are distributed across shards based on their hash,
// so the same member always lands on the same shard.
func Key(base, member string, n int) string {
	if n <= 1 {
		return fmt.Sprintf("%s#00", base)
	}
	if n > MaxShards {
		n = MaxShards
	}
	h := fnv.New32a()
	h.Write([]byte(member))
	return fmt.Sprintf("%s#%02x", base, h.Sum32()%uint32(n))
}

// All returns every sharded key of base. Readers query each of them and
// merge the results.
func All(base string, n int) []string {
	if n <= 1 {
		return []string{fmt.Sprintf("%s#00", base)}
	}
	if n > MaxShards {
		n = MaxShards
	}
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s#%02x", base, i)
	}
	return keys
}
