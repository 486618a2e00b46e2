package ebrmap

import "sync/atomic"

// retiredHeader is a deferred-free entry on a Participant's private
// retirement list. It generalizes mmm.h's mmm_header_t: instead of a
// fixed allocation header preceding every tracked object, this port
// stores the epoch the object was retired at plus a closure that performs
// the actual free, since the table's records and stores are ordinary Go
// structs (already carrying their own create/write epoch fields) rather
// than opaque mmm_alloc'd regions.
type retiredHeader struct {
	retireEpoch uint64
	free        func()
}

// CommitWrite is the write side of the EBR's linearization contract: it
// is the single place a write epoch is ever assigned. It fetch-adds the
// global epoch and then tries to CAS the result into writeEpoch, but only
// if writeEpoch still reads zero (uncommitted). Losing the CAS means some
// other goroutine's HelpCommit (or its own delayed CommitWrite, in the
// wait-free combine path) got there first; that is expected and benign,
// and the result is discarded without retrying.
func (e *EBR) CommitWrite(writeEpoch *atomic.Uint64) {
	if e.needsHelp() {
		e.helpReservations()
	}
	cur := e.epoch.Add(1)
	casUint64Zero(writeEpoch, cur)
	if e.metrics != nil {
		e.metrics.commits.Inc()
	}
}

// HelpCommit is the wait-free progress hook: any reader that walks past a
// record with write_epoch == 0 must call this before comparing the
// record's epoch to its own, so that no reader can be blocked indefinitely
// behind a writer that stalled between installing its record and
// committing its epoch.
func (e *EBR) HelpCommit(writeEpoch *atomic.Uint64) {
	if writeEpoch.Load() != 0 {
		return
	}
	cur := e.epoch.Add(1)
	if casUint64Zero(writeEpoch, cur) {
		if e.metrics != nil {
			e.metrics.commitHelps.Inc()
		}
	}
}

// Retire stamps free for deferred execution once no live reservation
// could still observe the retiring object, and appends it to p's private
// retirement list. Every 2^RetireScanShift retirements, p's list is swept
// for entries that have become safe to free.
func (e *EBR) Retire(p *Participant, free func()) {
	p.retired = append(p.retired, &retiredHeader{
		retireEpoch: e.epoch.Load(),
		free:        free,
	})
	if e.metrics != nil {
		e.metrics.retires.Inc()
	}

	p.retireTicker++
	if p.retireTicker&e.retireScanMask == 0 {
		e.scanRetired(p)
	}
}

// scanRetired frees every entry on p's retirement list whose retire_epoch
// is strictly less than the minimum reservation currently held by any
// participant (UNRESERVED participants do not constrain the minimum).
func (e *EBR) scanRetired(p *Participant) {
	min := e.minReservation()
	kept := p.retired[:0]
	for _, h := range p.retired {
		if h.retireEpoch < min {
			h.free()
		} else {
			kept = append(kept, h)
		}
	}
	p.retired = kept
}

// RetireUnused frees free immediately. Valid only when the caller can
// prove no other goroutine could ever have observed the object being
// freed — the canonical case is a record that lost its head-of-list CAS
// and was therefore never linked into anything a reader could traverse
// to.
func (e *EBR) RetireUnused(free func()) {
	free()
	if e.metrics != nil {
		e.metrics.retireUnused.Inc()
	}
}
