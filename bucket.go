package ebrmap

import (
	"runtime"
	"sync/atomic"
	"unsafe"
)

// mapLoadFactor is the fraction of buckets that must be in use before a
// migration to a larger store is triggered.
const mapLoadFactor = 0.75

// bucketHeader is one slot in a bucketStore's open-addressed array. The
// hash slot is write-once per store: it starts nil and is CAS'd exactly
// once, from nil to a specific Hash128, by whichever writer first claims
// the bucket for that hash, or to the zero hash by a migration helper
// that finds the bucket still empty. The record-list head is mutated by
// CAS on every write.
type bucketHeader[V any] struct {
	hash atomic.Pointer[Hash128]
	head atomic.Pointer[record[V]]

	//lint:ignore U1000 prevents false sharing
	_ [(CacheLineSize - unsafe.Sizeof(struct {
		hash atomic.Pointer[Hash128]
		head atomic.Pointer[record[V]]
	}{})%CacheLineSize) % CacheLineSize]byte
}

// claimedFor reports whether this bucket's hash slot has been claimed,
// and if so, whether it matches want.
func (b *bucketHeader[V]) claimedFor(want Hash128) (claimed, match bool) {
	hp := b.hash.Load()
	if hp == nil {
		return false, false
	}
	return true, hp.Equal(want)
}

// tryClaim attempts to CAS this bucket's hash slot from empty to want. It
// can only ever be attempted once successfully per bucket per store
// lifetime.
func (b *bucketHeader[V]) tryClaim(want Hash128) bool {
	h := want
	return b.hash.CompareAndSwap(nil, &h)
}

// bucketStore is one instantiation of the table's bucket array: a
// power-of-two-sized slice of bucket headers plus the counters and
// migration-target pointer that drive when and how it gets replaced.
type bucketStore[V any] struct {
	lastSlot  uint64 // len(buckets)-1; buckets is always a power of two
	threshold uint64

	usedCount atomic.Uint64
	delCount  atomic.Uint64

	buckets []bucketHeader[V]

	migrationTarget atomic.Pointer[bucketStore[V]]

	chunks    int
	chunkSize int
}

func newBucketStore[V any](size int, cpus int) *bucketStore[V] {
	if size < 1 {
		size = 1
	}
	size = nextPowOf2(size)
	chunkSize, chunks := calcParallelism(size, minBucketsPerGoroutine, cpus)
	return &bucketStore[V]{
		lastSlot:  uint64(size - 1),
		threshold: uint64(float64(size) * mapLoadFactor),
		buckets:   make([]bucketHeader[V], size),
		chunks:    chunks,
		chunkSize: chunkSize,
	}
}

func (s *bucketStore[V]) size() int {
	return len(s.buckets)
}

// bucketIndex maps a hash to its home slot: the low bits of Lo, masked to
// the store's power-of-two size. Probing from there is linear until it
// finds either a matching hash or an empty slot.
func (s *bucketStore[V]) bucketIndex(h Hash128) uint64 {
	return h.Lo & s.lastSlot
}

// findOrClaim probes store starting at hash's home slot for either a
// bucket already claimed for hash, or the first empty bucket, which it
// then attempts to claim. It returns ok=false only when the probe wraps
// all the way around without finding either — i.e. the store is
// completely full, which should not happen if migration triggers at
// threshold as intended, but is handled defensively by the caller
// forcing a migration and retrying.
func (s *bucketStore[V]) findOrClaim(h Hash128) (*bucketHeader[V], bool) {
	mask := s.lastSlot
	start := s.bucketIndex(h)
	for i := uint64(0); i <= mask; i++ {
		idx := (start + i) & mask
		b := &s.buckets[idx]
		if claimed, match := b.claimedFor(h); claimed {
			if match {
				return b, true
			}
			continue
		}
		if b.tryClaim(h) {
			return b, true
		}
		// Someone else claimed it first, between our load and our CAS;
		// re-check what they claimed it for.
		if claimed, match := b.claimedFor(h); claimed && match {
			return b, true
		}
	}
	return nil, false
}

// find probes store for a bucket already claimed for hash, without
// claiming an empty one. Used by Get, and by Replace and Remove, which
// never create a key and so must never claim a bucket.
func (s *bucketStore[V]) find(h Hash128) *bucketHeader[V] {
	mask := s.lastSlot
	start := s.bucketIndex(h)
	for i := uint64(0); i <= mask; i++ {
		idx := (start + i) & mask
		b := &s.buckets[idx]
		hp := b.hash.Load()
		if hp == nil {
			return nil
		}
		if hp.Equal(h) {
			return b
		}
	}
	return nil
}

// minBucketsPerGoroutine gates when cooperative migration is worth
// parallelizing at all.
const minBucketsPerGoroutine = 4

// calcParallelism decides how to split a migration across goroutines:
// below threshold, process serially in one chunk; otherwise split into
// up to cpus chunks of roughly equal size.
func calcParallelism(items, threshold, cpus int) (chunkSize, chunks int) {
	if items <= threshold {
		return items, 1
	}
	chunks = items / threshold
	if chunks > cpus {
		chunks = cpus
	}
	if chunks < 1 {
		chunks = 1
	}
	chunkSize = (items + chunks - 1) / chunks
	return chunkSize, chunks
}

func defaultCPUs() int {
	return runtime.GOMAXPROCS(0)
}
