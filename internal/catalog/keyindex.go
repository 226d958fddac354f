package catalog

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// keyIndex is a thread-safe in-memory index of external keys known to exist
// in the catalog. Lookups by external key consult it before touching the
// database: a negative bloom answer proves the key is absent, so the miss
// never reaches sqlite.
type keyIndex struct {
	keys                   map[string]struct{}
	bloom                  *bloom.BloomFilter
	lru                    *lru.Cache[string, struct{}]
	mutex                  sync.RWMutex
	maxKeys                int
	bloomFalsePositiveRate float64
}

func newKeyIndex(maxKeys int, bloomFalsePositiveRate float64) *keyIndex {
	lruCache, _ := lru.New[string, struct{}](maxKeys)

	return &keyIndex{
		keys:                   make(map[string]struct{}),
		bloom:                  bloom.NewWithEstimates(uint(maxKeys), bloomFalsePositiveRate),
		lru:                    lruCache,
		maxKeys:                maxKeys,
		bloomFalsePositiveRate: bloomFalsePositiveRate,
	}
}

// MayHave reports whether the key could exist in the catalog. False means
// definitely absent; true means the database must be asked. Evicted keys
// stay in the bloom filter, so eviction never produces a false negative.
func (ix *keyIndex) MayHave(key string) bool {
	ix.mutex.RLock()
	defer ix.mutex.RUnlock()
	return ix.bloom.TestString(key)
}

// Has reports whether the key is in the exact set.
func (ix *keyIndex) Has(key string) bool {
	ix.mutex.RLock()
	defer ix.mutex.RUnlock()

	if !ix.bloom.TestString(key) {
		return false
	}
	_, exists := ix.keys[key]
	return exists
}

// Add records a key as present in the catalog.
func (ix *keyIndex) Add(key string) {
	if key == "" {
		return
	}

	ix.mutex.Lock()
	defer ix.mutex.Unlock()

	if _, exists := ix.keys[key]; exists {
		return
	}

	ix.keys[key] = struct{}{}
	ix.bloom.AddString(key)
	ix.lru.Add(key, struct{}{})

	if len(ix.keys) > ix.maxKeys {
		ix.evictOldest()
	}
}

// Load clears the index and seeds it with the given keys.
func (ix *keyIndex) Load(keys []string) {
	ix.mutex.Lock()
	defer ix.mutex.Unlock()

	ix.keys = make(map[string]struct{})
	ix.bloom = bloom.NewWithEstimates(uint(ix.maxKeys), ix.bloomFalsePositiveRate)
	ix.lru.Purge()

	for _, key := range keys {
		if key != "" {
			ix.keys[key] = struct{}{}
			ix.bloom.AddString(key)
			ix.lru.Add(key, struct{}{})
		}
	}

	for len(ix.keys) > ix.maxKeys {
		ix.evictOldest()
	}
}

// Size returns the number of keys currently indexed.
func (ix *keyIndex) Size() int {
	ix.mutex.RLock()
	defer ix.mutex.RUnlock()
	return len(ix.keys)
}

func (ix *keyIndex) evictOldest() {
	oldestKey, _, ok := ix.lru.GetOldest()
	if !ok {
		return
	}

	delete(ix.keys, oldestKey)
	ix.lru.Remove(oldestKey)
	// The bloom filter does not support removal; a stale positive just
	// means one extra database query.
}
