package ebrmap

import "sync/atomic"

// migrationState coordinates a single cooperative migration of a Table
// from one bucketStore to a larger (or, with shrink enabled, smaller)
// one. Any goroutine that observes an active migration — because its own
// write found the active store over threshold, or because it probed a
// bucket already flagged MOVED — helps finish it before proceeding,
// rather than waiting on a dedicated background goroutine.
type migrationState[V any] struct {
	old *bucketStore[V]
	new *bucketStore[V]

	cursor atomic.Int64 // next old-store bucket index to claim for copying
	done   atomic.Int64 // count of buckets fully migrated
	total  int64

	finished atomic.Bool
}

// triggerMigration starts (or joins, if one is already active) a
// migration away from store, doubling its size. Called when write finds
// the active store at or past its load-factor threshold, or completely
// full despite the threshold check.
func (t *Table[V]) triggerMigration(store *bucketStore[V], p *Participant) {
	t.startMigration(store, store.size()*2, p)
}

// maybeGrow checks store's used-bucket count against its threshold after
// a successful insert and starts a migration if it is now over.
func (t *Table[V]) maybeGrow(store *bucketStore[V], p *Participant) {
	if store.usedCount.Load() >= store.threshold {
		t.startMigration(store, store.size()*2, p)
	}
}

// maybeCompact checks store's tombstone ratio after a successful write and
// starts a migration to clear them once dead entries reach half of
// used_count. "Mostly dead" is measured against used_count, not total
// bucket count: a store that is 10% full of live entries out of a
// used_count that is 80% tombstones is exactly the case this exists for,
// even though the raw occupancy-over-capacity ratio looks fine.
//
// This check runs unconditionally on every write, independent of
// shrinkEnabled — a table that only ever churns the same keys must not
// accumulate unbounded tombstones just because shrinking is off.
// shrinkEnabled only controls whether the migration's *target* size may
// come out smaller than the store's current size (down to minSize);
// with it off, a mostly-dead store still gets recompacted into a fresh
// store of the same size, which clears every tombstone without the
// table's capacity ever dropping.
func (t *Table[V]) maybeCompact(store *bucketStore[V], p *Participant) {
	used := store.usedCount.Load()
	del := store.delCount.Load()
	if used == 0 || del*2 < used {
		return
	}
	newSize := store.size()
	if t.shrinkEnabled {
		live := int(used - del)
		shrunk := nextPowOf2(live * 2)
		if shrunk < t.minSize {
			shrunk = t.minSize
		}
		if shrunk < newSize {
			newSize = shrunk
		}
	}
	t.startMigration(store, newSize, p)
}

// startMigration installs a migrationState targeting newSize buckets (if
// none is active yet for this store) and helps it to completion.
func (t *Table[V]) startMigration(store *bucketStore[V], newSize int, p *Participant) {
	existing := store.migrationTarget.Load()
	if existing == nil {
		target := newBucketStore[V](newSize, defaultCPUs())
		ms := &migrationState[V]{
			old:   store,
			new:   target,
			total: int64(store.size()),
		}
		if store.migrationTarget.CompareAndSwap(nil, target) {
			t.resizeState.Store(ms)
			if t.metrics != nil {
				t.metrics.migrations.Inc()
				if newSize > store.size() {
					t.metrics.growths.Inc()
				} else if newSize < store.size() {
					t.metrics.shrinks.Inc()
				}
			}
		}
	}
	t.helpMigrationFor(store, p)
}

// helpMigrationFor drives store's active migration (if any) forward by
// copying chunks of buckets, then, once every bucket is copied, swings
// the table's active store pointer to the new store and retires the old
// one through the EBR manager.
func (t *Table[V]) helpMigrationFor(store *bucketStore[V], p *Participant) {
	target := store.migrationTarget.Load()
	if target == nil {
		return
	}
	ms := t.resizeState.Load()
	if ms == nil || ms.old != store {
		// Another migration already finished and was swapped in; nothing
		// left to help with this store.
		return
	}

	for {
		if ms.finished.Load() {
			return
		}
		start := ms.cursor.Add(int64(store.chunkSize)) - int64(store.chunkSize)
		if start >= ms.total {
			// No more work to claim; wait for whoever is still copying to
			// finish, or finish it ourselves if we're the last one
			// claiming nothing new.
			if ms.done.Load() >= ms.total {
				t.finishMigration(ms, p)
			}
			return
		}
		end := start + int64(store.chunkSize)
		if end > ms.total {
			end = ms.total
		}
		t.copyBucketRange(ms, int(start), int(end))
		if ms.done.Add(end-start) >= ms.total {
			t.finishMigration(ms, p)
			return
		}
	}
}

// copyBucketRange copies buckets [start, end) of ms.old into ms.new,
// flagging each source bucket's head record MOVING then MOVED so that
// concurrent writers racing against the migration know to redirect to
// the new store instead of mutating a bucket that's already been copied
// out from under them.
func (t *Table[V]) copyBucketRange(ms *migrationState[V], start, end int) {
	for i := start; i < end; i++ {
		t.copyOneBucket(ms, &ms.old.buckets[i])
	}
}

func (t *Table[V]) copyOneBucket(ms *migrationState[V], b *bucketHeader[V]) {
	hp := b.hash.Load()
	if hp == nil {
		// Never claimed; nothing to move. Claim it with the reserved zero
		// hash so that a writer which loaded this store before the
		// migration began cannot claim it afterwards and install a record
		// that no helper would copy.
		if b.hash.CompareAndSwap(nil, new(Hash128)) {
			return
		}
		hp = b.hash.Load()
	}
	spins := 0
	for {
		head := b.head.Load()
		if head == nil {
			// Claimed but no record installed yet — the claiming writer
			// is mid-flight between tryClaim and its own head CAS. Give
			// it a chance to finish rather than racing it.
			delay(&spins)
			continue
		}
		if head.isMoved() {
			return
		}
		marker := newRecord[V](head.value, head.flags|flagMoving, head.prev)
		marker.createEpoch.Store(head.createEpochAt())
		marker.writeEpoch.Store(head.writeEpoch.Load())
		if !b.head.CompareAndSwap(head, marker) {
			delay(&spins)
			continue
		}

		if marker.isUsed() && !marker.isDeleted() {
			if nb, ok := ms.new.findOrClaim(*hp); ok {
				newRec := newRecord[V](marker.value, flagUsed, nil)
				newRec.createEpoch.Store(marker.createEpoch.Load())
				newRec.writeEpoch.Store(marker.writeEpoch.Load())
				if nb.head.CompareAndSwap(nil, newRec) {
					ms.new.usedCount.Add(1)
				}
			}
		}

		moved := newRecord[V](marker.value, marker.flags|flagMoved, marker.prev)
		moved.createEpoch.Store(marker.createEpoch.Load())
		moved.writeEpoch.Store(marker.writeEpoch.Load())
		b.head.CompareAndSwap(marker, moved)
		return
	}
}

// finishMigration swings the table's active store pointer from ms.old to
// ms.new exactly once (subsequent calls from other helpers observe
// finished already set and return immediately), and retires ms.old
// through the EBR manager so it is freed once no reservation could still
// be reading from it.
func (t *Table[V]) finishMigration(ms *migrationState[V], p *Participant) {
	if !ms.finished.CompareAndSwap(false, true) {
		return
	}
	t.store.CompareAndSwap(ms.old, ms.new)
	if t.metrics != nil {
		t.metrics.buckets.Set(float64(ms.new.size()))
	}
	old := ms.old
	t.ebr.Retire(p, func() {
		_ = old // buckets and their records become unreachable once no
		// reservation can traverse to them; nothing further to release
		// beyond letting the garbage collector reclaim old itself.
	})
	t.resizeState.CompareAndSwap(ms, nil)
}

// activeStoreForWrite loads the table's active store and, if it is mid-
// migration, helps finish the migration before returning the (now
// current) store to the caller. Write paths must never install a new
// record into a store that's about to be swapped out from under them.
func (t *Table[V]) activeStoreForWrite(p *Participant) *bucketStore[V] {
	for {
		store := t.store.Load()
		if store.migrationTarget.Load() == nil {
			return store
		}
		t.helpMigrationFor(store, p)
		// loop: activeStoreForWrite re-reads t.store, which may now point
		// at the freshly swapped-in store.
	}
}
