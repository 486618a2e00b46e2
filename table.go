package ebrmap

import "sync/atomic"

// maxCombineRetries bounds how many times a writer retries its
// record-list head CAS before switching to the wait-free combine policy:
// treat our own write as having linearized an instant before the CAS
// winner, at the same epoch, and return the winner's displaced value
// instead of retrying indefinitely.
const maxCombineRetries = 8

// Table is a wait-free, linearizable, open-addressed hash table. It does
// not hash keys itself — every operation takes a pre-computed Hash128 —
// and it stores opaque values: displaced values are returned to the
// caller rather than freed internally.
//
// The zero value is not usable; construct with NewTable.
type Table[V any] struct {
	store       atomic.Pointer[bucketStore[V]]
	resizeState atomic.Pointer[migrationState[V]]

	ebr *EBR

	minSize       int
	shrinkEnabled bool
	metrics       *Metrics
}

// NewTable constructs a Table ready for concurrent use.
func NewTable[V any](options ...func(*Config)) *Table[V] {
	c := defaultConfig()
	for _, o := range options {
		o(&c)
	}
	t := &Table[V]{
		minSize:       1 << c.initialSizeExponent,
		shrinkEnabled: c.shrinkEnabled,
		metrics:       c.metrics,
	}
	t.ebr = newEBRFromConfig(c)
	t.store.Store(newBucketStore[V](t.minSize, defaultCPUs()))
	if t.metrics != nil {
		t.metrics.buckets.Set(float64(t.minSize))
	}
	return t
}

// Destroy releases every retired header still pending across every
// participant that ever touched t's EBR manager. The caller must
// guarantee no operation is in flight against t.
func (t *Table[V]) Destroy() {
	t.ebr.DrainAll()
}

// activeStore loads the table's current store. It does not help an
// in-flight migration; write paths use activeStoreForWrite for that.
func (t *Table[V]) activeStore() *bucketStore[V] {
	return t.store.Load()
}

// Get returns the value for hash and whether it is present. Linearized at
// the epoch reserved via BeginLinearizedOp, so concurrently with any
// number of writers it returns exactly the last write committed at or
// before that epoch.
func (t *Table[V]) Get(hash Hash128) (value V, present bool) {
	p := t.ebr.Acquire()
	defer t.ebr.Release(p)

	epoch := p.BeginLinearizedOp()
	defer p.EndOp()

	store := t.activeStore()
	b := store.find(hash)
	if b == nil {
		return value, false
	}

	r := t.visibleRecordAt(b, epoch)
	if r == nil || r.isDeleted() {
		return value, false
	}
	return r.value, true
}

// Len returns used_count - del_count of the active store: an
// approximation, not a linearized count.
func (t *Table[V]) Len() int {
	store := t.activeStore()
	used := int(store.usedCount.Load())
	del := int(store.delCount.Load())
	n := used - del
	if n < 0 {
		return 0
	}
	return n
}

// Put unconditionally installs value for hash, returning the previously
// USED value if any. Equivalent to the library surface's
// put(table, hash, value, overwrite=true).
func (t *Table[V]) Put(hash Hash128, value V) (previous V, hadPrevious bool) {
	return t.write(hash, writePut, value)
}

// Add installs value for hash only if no USED record currently exists,
// returning false without modifying the table if one does.
func (t *Table[V]) Add(hash Hash128, value V) (inserted bool) {
	_, displaced := t.write(hash, writeAdd, value)
	return !displaced
}

// Replace installs value for hash only if a USED record currently exists,
// returning the previous value and true if so, or the zero value and
// false (without modifying the table) if not.
func (t *Table[V]) Replace(hash Hash128, value V) (previous V, replaced bool) {
	return t.write(hash, writeReplace, value)
}

// Remove installs a DELETED record for hash if a USED record currently
// exists, returning the displaced value.
func (t *Table[V]) Remove(hash Hash128) (value V, present bool) {
	var zero V
	return t.write(hash, writeRemove, zero)
}

type writeKind int

const (
	writePut writeKind = iota
	writeAdd
	writeReplace
	writeRemove
)

// write is the shared skeleton behind Put/Add/Replace/Remove.
func (t *Table[V]) write(hash Hash128, kind writeKind, value V) (result V, hadPrevious bool) {
	p := t.ebr.Acquire()
	defer t.ebr.Release(p)
	p.BeginBasicOp()
	defer p.EndOp()

	for {
		store := t.activeStoreForWrite(p)

		var b *bucketHeader[V]
		ok := true
		if kind == writeReplace || kind == writeRemove {
			// Replace and Remove never create a key, so they never claim a
			// bucket: a claimed bucket with no record would stall the next
			// migration's copy of it.
			if b = store.find(hash); b == nil {
				return result, false
			}
		} else {
			b, ok = store.findOrClaim(hash)
		}
		if !ok {
			// Every bucket of the store is claimed (by keys, or by a
			// migration in progress); force a migration and retry against
			// whatever store is active afterward.
			t.triggerMigration(store, p)
			continue
		}

		head := b.head.Load()
		if head != nil && head.isMoving() {
			// This bucket is being or has been migrated out from under us;
			// help finish and retry on the new store.
			t.helpMigrationFor(store, p)
			continue
		}

		switch kind {
		case writeAdd:
			if head != nil && head.isUsed() && !head.isDeleted() {
				return result, true
			}
		case writeReplace:
			if head == nil || !head.isUsed() || head.isDeleted() {
				return result, false
			}
		case writeRemove:
			if head == nil || !head.isUsed() || head.isDeleted() {
				return result, false
			}
		}

		var newFlags uint32
		if kind == writeRemove {
			newFlags = flagDeleted
		} else {
			newFlags = flagUsed
		}
		newRec := newRecord[V](value, newFlags, head)
		if head != nil && head.isUsed() && !head.isDeleted() {
			// A true update: the key stays at its original insertion
			// epoch for view-ordering purposes, not the epoch of this write.
			newRec.createEpoch.Store(head.createEpochAt())
		}

		installed, displaced, combined := t.installRecord(store, b, head, newRec)
		if !installed {
			// The bucket started migrating, or the key became present or
			// absent, since head was read; retry from scratch.
			continue
		}

		t.ebr.CommitWrite(&newRec.writeEpoch)

		if combined {
			// This write was never linked into the bucket; whatever count
			// change it represents was already accounted for by the CAS
			// winner's own call.
			if t.metrics != nil {
				t.metrics.combineWins.Inc()
			}
		} else {
			wasAbsent := head == nil || head.isDeleted()
			if kind == writeRemove {
				store.delCount.Add(1)
			} else if wasAbsent {
				store.usedCount.Add(1)
			}
		}

		if displaced != nil && displaced.isUsed() && !displaced.isDeleted() {
			result = displaced.value
			hadPrevious = true
		}

		if kind != writeRemove {
			t.maybeGrow(store, p)
		}
		t.maybeCompact(store, p)

		return result, hadPrevious
	}
}

// installRecord CASes newRec onto b's head. On success it returns the
// record that is now logically "before" newRec for the purposes of
// computing the displaced value: ordinarily that's head, but under the
// wait-free combine policy a losing writer treats its own write as having
// linearized immediately before the CAS winner, at the same epoch, so the
// displaced record is the one the winner superseded. It reports not
// installed when the bucket starts migrating, or when the key has become
// present or absent since head was read, so that the caller re-checks.
func (t *Table[V]) installRecord(store *bucketStore[V], b *bucketHeader[V], head, newRec *record[V]) (installed bool, displaced *record[V], combined bool) {
	if b.head.CompareAndSwap(head, newRec) {
		return true, head, false
	}

	spins := 0
	for attempt := 0; attempt < maxCombineRetries; attempt++ {
		cur := b.head.Load()
		if (cur.isUsed() && !cur.isDeleted()) != (head.isUsed() && !head.isDeleted()) {
			return false, nil, false
		}
		if cur.isMoving() {
			// Bucket migrated out from under this write; the caller must
			// re-resolve the active store and retry from scratch rather
			// than combine against a record that is about to become
			// unreachable from the table's active store.
			return false, nil, false
		}
		newRec.prev = cur
		if cur != nil && cur.isUsed() && !cur.isDeleted() {
			newRec.createEpoch.Store(cur.createEpochAt())
		} else {
			newRec.createEpoch.Store(0)
		}
		if b.head.CompareAndSwap(cur, newRec) {
			return true, cur, false
		}
		delay(&spins)
	}

	// Combine: the most recent winner becomes our displaced-value source.
	// Our own write is treated as having linearized immediately before the
	// winner, so the value it displaced is whatever the winner itself
	// superseded, not the winner's own (still-live) value. Our record,
	// never having been observable, is freed immediately rather than
	// retried again.
	winner := b.head.Load()
	t.ebr.RetireUnused(func() {})
	return true, winner.prev, true
}
