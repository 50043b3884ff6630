package store

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const lockShards = 64

// keyedLocker serializes work per key using a fixed set of mutex shards, so
// different users only contend when their keys hash to the same shard.
type keyedLocker struct {
	shards [lockShards]sync.Mutex
}

// lock acquires the shard for key and returns its unlock function.
func (l *keyedLocker) lock(key string) func() {
	m := &l.shards[xxhash.Sum64String(key)%lockShards]
	m.Lock()
	return m.Unlock
}
