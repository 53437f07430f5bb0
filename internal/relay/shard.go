package relay

import (
	"hash/fnv"
	"sync"
)

// shardCount buckets keyed state so writes serialize per key while unrelated
// keys proceed concurrently.
const shardCount = 32

func shardIndex(id int64) int {
	return int(uint64(id) % shardCount)
}

func shardIndexString(s string) int {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int(h.Sum32() % shardCount)
}

// keyedMutex serializes critical sections per int64 key.
type keyedMutex struct {
	mus [shardCount]sync.Mutex
}

func (k *keyedMutex) lock(id int64) *sync.Mutex {
	return &k.mus[shardIndex(id)]
}
