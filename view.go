package ebrmap

import "sort"

// Entry is one (hash, value) pair surfaced by View. Epoch is create_epoch
// — the key's insertion epoch, and View's default sort key. WriteEpoch is
// the epoch the entry's current value itself linearized at, for callers
// that need write order instead of insertion order. BucketIndex is the
// entry's home slot in the store View read it from, the final tie-break
// once Epoch and WriteEpoch are both equal.
type Entry[V any] struct {
	Hash        Hash128
	Value       V
	Epoch       uint64
	WriteEpoch  uint64
	BucketIndex uint64
}

// View returns a consistent, insertion-ordered snapshot of every record
// visible at a single linearized epoch: the same epoch a concurrent Get
// would use, so View and Get always agree about what is and isn't
// present relative to a fixed point in the write order, even though
// other goroutines may be concurrently inserting, replacing, removing,
// or migrating buckets underneath it.
//
// "Insertion order" is ordered by create_epoch — the epoch at which each
// entry's key was first written into the table since it was last removed
// (a key re-added after a Remove gets a new create_epoch) — not by the epoch
// of its most recent value, matching the distinction the record-history
// model draws between a record's create_epoch and write_epoch.
func (t *Table[V]) View() []Entry[V] {
	p := t.ebr.Acquire()
	defer t.ebr.Release(p)

	epoch := p.BeginLinearizedOp()
	defer p.EndOp()

	store := t.activeStore()
	entries := make([]Entry[V], 0, store.usedCount.Load())

	for i := range store.buckets {
		b := &store.buckets[i]
		hp := b.hash.Load()
		if hp == nil {
			continue
		}
		r := t.visibleRecordAt(b, epoch)
		if r == nil || r.isDeleted() {
			continue
		}
		entries = append(entries, Entry[V]{
			Hash:        *hp,
			Value:       r.value,
			Epoch:       r.createEpochAt(),
			WriteEpoch:  r.writeEpoch.Load(),
			BucketIndex: uint64(i),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Epoch != entries[j].Epoch {
			return entries[i].Epoch < entries[j].Epoch
		}
		if entries[i].WriteEpoch != entries[j].WriteEpoch {
			return entries[i].WriteEpoch < entries[j].WriteEpoch
		}
		return entries[i].BucketIndex < entries[j].BucketIndex
	})
	return entries
}

// visibleRecordAt walks b's record history back from the head, helping
// commit any uncommitted write it passes through, until it finds the
// most recent record whose write_epoch is <= epoch. A record flagged
// MOVING or MOVED is transparent to readers — its value and flags mirror
// the pre-migration record it replaced — so View never needs to special-
// case a bucket caught mid-migration.
func (t *Table[V]) visibleRecordAt(b *bucketHeader[V], epoch uint64) *record[V] {
	for r := b.head.Load(); r != nil; r = r.prev {
		if !r.committed() {
			t.ebr.HelpCommit(&r.writeEpoch)
		}
		if r.visibleAt(epoch) {
			return r
		}
	}
	return nil
}
