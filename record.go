package ebrmap

import "sync/atomic"

// Record flags. A record is immutable after install except for its two
// epoch fields, so flags are set once at creation and never touched
// again — no atomic needed for them.
const (
	flagUsed uint32 = 1 << iota
	flagDeleted
	flagMoving
	flagMoved
)

// record is one immutable entry on a bucket's modification history
// stack. Records are pushed, never mutated (beyond
// the write-epoch commit CAS and the create-epoch backfill CAS), and never unlinked — superseded records
// are simply no longer reachable from any bucket head once a newer
// record's CAS succeeds, and become reclaimable once no reservation could
// still traverse to them.
type record[V any] struct {
	value V
	flags uint32
	prev  *record[V]

	createEpoch atomic.Uint64
	writeEpoch  atomic.Uint64
}

func newRecord[V any](value V, flags uint32, prev *record[V]) *record[V] {
	return &record[V]{value: value, flags: flags, prev: prev}
}

func (r *record[V]) isUsed() bool    { return r != nil && r.flags&flagUsed != 0 }
func (r *record[V]) isDeleted() bool { return r != nil && r.flags&flagDeleted != 0 }
func (r *record[V]) isMoving() bool  { return r != nil && r.flags&flagMoving != 0 }
func (r *record[V]) isMoved() bool   { return r != nil && r.flags&flagMoved != 0 }

// committed reports whether this record's write has been assigned a
// linearization epoch yet.
func (r *record[V]) committed() bool {
	return r.writeEpoch.Load() != 0
}

// visibleAt reports whether this record's write_epoch is <= epoch, i.e.
// it is not a write from the future relative to a reader's linearized
// epoch. The caller must have already help-committed r if its
// write_epoch could still be zero.
func (r *record[V]) visibleAt(epoch uint64) bool {
	we := r.writeEpoch.Load()
	return we != 0 && we <= epoch
}

// createEpochAt returns r's create_epoch, backfilling it from write_epoch
// via CAS the first time it's asked for if no create_epoch was ever
// explicitly stamped.
func (r *record[V]) createEpochAt() uint64 {
	if ce := r.createEpoch.Load(); ce != 0 {
		return ce
	}
	we := r.writeEpoch.Load()
	if we != 0 {
		r.createEpoch.CompareAndSwap(0, we)
	}
	return we
}
