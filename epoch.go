package ebrmap

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// EpochUnreserved is the sentinel value a Participant's reservation slot
// holds when it is not currently inside an operation. It is the maximum
// representable epoch so that, when computing a minimum over all slots for
// reclamation purposes, an unreserved slot never constrains the result —
// matching mmm.h's MMM_EPOCH_UNRESERVED.
const EpochUnreserved uint64 = ^uint64(0)

// epochFirst is the first epoch any write can ever commit at; epoch 0
// means "uncommitted" (mmm.h's MMM_EPOCH_FIRST).
const epochFirst uint64 = 1

// reservationSlot is one goroutine's declared read epoch. Cache-line
// padded because every Get/Put/Remove touches its own slot and adjacent
// slots belong to unrelated goroutines — without padding, reservation
// writes from one goroutine would stall cache lines for its neighbors.
type reservationSlot struct {
	epoch atomic.Uint64
	help  atomic.Bool

	//lint:ignore U1000 prevents false sharing
	_ [(CacheLineSize - unsafe.Sizeof(struct {
		epoch atomic.Uint64
		help  atomic.Bool
	}{})%CacheLineSize) % CacheLineSize]byte
}

// EBR is a process-wide (or, in this port, EBR-instance-wide) epoch-based
// reclamation manager. It hands out a global, monotonically increasing
// epoch counter, tracks each participating goroutine's declared read
// epoch in a fixed-size reservation array, and defers reclamation of
// retired memory until no reservation could still observe it.
//
// An EBR also doubles as the source of linearization points: the epoch
// stamped into a record by CommitWrite is that write's position in the
// table's total write order.
//
// The zero value is not usable; construct with NewEBR.
type EBR struct {
	epoch atomic.Uint64

	slots     []reservationSlot
	nextSlot  atomic.Uint32
	maxSlots  uint32
	helpCount atomic.Int64
	helpOn    bool

	pool sync.Pool

	participantsMu sync.Mutex
	participants   []*Participant

	retireScanMask uint64
	metrics        *Metrics
}

// Config holds the tunables exposed via functional options (WithXxx) at
// EBR/Table construction time. All fields have working defaults; the zero
// Config is not meant to be used directly — see defaultConfig.
type Config struct {
	maxParticipants     int
	retireScanShift     int
	initialSizeExponent int
	reservationHelp     bool
	shrinkEnabled       bool
	metrics             *Metrics
}

func defaultConfig() Config {
	return Config{
		maxParticipants:     8192,
		retireScanShift:     5, // scan every 32 retirements, matches mmm.h's MMM_RETIRE_FREQ_LOG
		initialSizeExponent: 5, // 32 buckets, matches defaultMinMapTableLen-style sizing
		reservationHelp:     false,
		shrinkEnabled:       false,
	}
}

// WithMaxParticipants bounds the number of goroutines that may concurrently
// participate in EBR-tracked operations against a table. Exceeding it is a
// fatal configuration error reported at the first registration attempt
// past the limit.
func WithMaxParticipants(n int) func(*Config) {
	return func(c *Config) {
		if n > 0 {
			c.maxParticipants = n
		}
	}
}

// WithRetireScanShift sets the retirement-scan frequency to 2^shift: every
// 2^shift calls to Retire on a given goroutine trigger a scan of that
// goroutine's retirement list for headers safe to free.
func WithRetireScanShift(shift int) func(*Config) {
	return func(c *Config) {
		if shift >= 0 {
			c.retireScanShift = shift
		}
	}
}

// WithInitialSizeExponent sets the initial bucket store size to 2^exp
// buckets. A negative exp is ignored and the default kept; no error is
// reported for it.
func WithInitialSizeExponent(exp int) func(*Config) {
	return func(c *Config) {
		if exp >= 0 {
			c.initialSizeExponent = exp
		}
	}
}

// WithReservationHelp turns on the optional reservation-help protocol: a
// participant whose BeginLinearizedOp has retried more than
// linearizeHelpThreshold times sets a help flag in its slot, and
// CommitWrite, before bumping the epoch, stores the current epoch into
// every flagged slot and clears its flag. BeginLinearizedOp does not adopt
// that stored epoch; it keeps retrying until its own reread agrees, so
// the retry loop is not bounded by this option. Off by default.
func WithReservationHelp() func(*Config) {
	return func(c *Config) {
		c.reservationHelp = true
	}
}

// WithShrinkEnabled enables automatic shrink-on-delete back down to the
// configured initial size.
func WithShrinkEnabled() func(*Config) {
	return func(c *Config) {
		c.shrinkEnabled = true
	}
}

// WithMetrics attaches a Metrics instrumentation sink. See metrics.go.
func WithMetrics(m *Metrics) func(*Config) {
	return func(c *Config) {
		c.metrics = m
	}
}

// NewEBR constructs a reclamation manager per the given options.
func NewEBR(options ...func(*Config)) *EBR {
	c := defaultConfig()
	for _, o := range options {
		o(&c)
	}
	return newEBRFromConfig(c)
}

func newEBRFromConfig(c Config) *EBR {
	e := &EBR{
		slots:          make([]reservationSlot, c.maxParticipants),
		maxSlots:       uint32(c.maxParticipants),
		helpOn:         c.reservationHelp,
		retireScanMask: uint64(1<<c.retireScanShift) - 1,
		metrics:        c.metrics,
	}
	// CommitWrite advances the epoch before stamping it, so starting one
	// below epochFirst makes the first committed write land on epochFirst.
	e.epoch.Store(epochFirst - 1)
	for i := range e.slots {
		e.slots[i].epoch.Store(EpochUnreserved)
	}
	e.pool.New = func() any {
		idx := e.nextSlot.Add(1) - 1
		if idx >= e.maxSlots {
			panic(newConfigError("ebrmap: exceeded configured maximum participant count"))
		}
		p := &Participant{ebr: e, slot: idx}
		e.participantsMu.Lock()
		e.participants = append(e.participants, p)
		e.participantsMu.Unlock()
		return p
	}
	return e
}

// DrainAll forcibly frees every still-pending retirement across every
// registered participant, bypassing the reservation check. Only safe to
// call when the caller can guarantee no operation is in flight against
// any table sharing this manager — the precondition Destroy documents.
func (e *EBR) DrainAll() {
	e.participantsMu.Lock()
	ps := append([]*Participant(nil), e.participants...)
	e.participantsMu.Unlock()
	for _, p := range ps {
		for _, h := range p.retired {
			h.free()
		}
		p.retired = nil
	}
}

// Participant is a goroutine's registered handle into an EBR manager: its
// reservation slot plus its private retirement list. It is acquired with
// EBR.Acquire and must be released with Release once the caller's
// operation completes. Participants are pooled and reused across
// goroutines and across operations — there is no 1:1 binding to an OS
// thread or goroutine.
type Participant struct {
	ebr  *EBR
	slot uint32

	retired      []*retiredHeader
	retireTicker uint64
}

// Acquire checks out a Participant from the pool (allocating a new
// reservation slot only the first MaxParticipants times). Callers should
// treat the returned Participant as exclusively theirs until Release.
func (e *EBR) Acquire() *Participant {
	return e.pool.Get().(*Participant)
}

// Release returns a Participant to the pool. It does not itself clear the
// reservation slot — callers must have already called EndOp.
func (e *EBR) Release(p *Participant) {
	e.pool.Put(p)
}

// BeginBasicOp declares that p will not access memory retired strictly
// before the epoch recorded here. It offers no linearization guarantee
// beyond that bound — use BeginLinearizedOp when a consistent,
// totally-ordered view of the table is required.
func (p *Participant) BeginBasicOp() uint64 {
	e := p.ebr
	epoch := e.epoch.Load()
	e.slots[p.slot].epoch.Store(epoch)
	return epoch
}

// BeginLinearizedOp publishes the current epoch into p's reservation and
// rereads the global epoch, retrying until they agree. The returned epoch
// is then guaranteed to be simultaneously at least the reservation (so
// nothing alive at that epoch can be reclaimed out from under p) and no
// greater than any future epoch advance, which is what makes Get/View
// linearizable instead of merely reclamation-safe.
func (p *Participant) BeginLinearizedOp() uint64 {
	e := p.ebr
	attempts := 0
	readEpoch := e.epoch.Load()
	for {
		e.slots[p.slot].epoch.Store(readEpoch)
		cur := e.epoch.Load()
		if cur == readEpoch {
			if e.helpOn && e.slots[p.slot].help.Load() {
				e.slots[p.slot].help.Store(false)
				e.helpCount.Add(-1)
			}
			return readEpoch
		}
		readEpoch = cur
		attempts++
		if e.helpOn && attempts > linearizeHelpThreshold {
			if !e.slots[p.slot].help.Load() {
				e.slots[p.slot].help.Store(true)
				e.helpCount.Add(1)
			}
		}
	}
}

// linearizeHelpThreshold bounds the plain retry loop before a
// Participant asks writers for help, when WithReservationHelp is set.
const linearizeHelpThreshold = 3

// EndOp clears p's reservation, making every retired header p could have
// seen eligible for reclamation once every other participant has also
// advanced past it.
func (p *Participant) EndOp() {
	p.ebr.slots[p.slot].epoch.Store(EpochUnreserved)
}

// Epoch returns the manager's current global epoch without reserving it.
func (e *EBR) Epoch() uint64 {
	return e.epoch.Load()
}

// minReservation scans every reservation slot and returns the minimum
// live epoch, or EpochUnreserved if no participant currently holds a
// reservation. Used to decide which retired headers are safe to free.
func (e *EBR) minReservation() uint64 {
	min := EpochUnreserved
	n := e.nextSlot.Load()
	for i := uint32(0); i < n; i++ {
		if r := e.slots[i].epoch.Load(); r < min {
			min = r
		}
	}
	return min
}

// needsHelp reports whether any participant has set its help bit, used by
// CommitWrite to decide whether to sweep the reservation array before
// bumping the epoch when WithReservationHelp is enabled.
func (e *EBR) needsHelp() bool {
	return e.helpOn && e.helpCount.Load() > 0
}

// helpReservations implements the writer side of the optional
// reservation-help protocol: scan every slot with its help
// bit set, give it a fresh epoch reservation, and clear the bit.
func (e *EBR) helpReservations() {
	n := e.nextSlot.Load()
	for i := uint32(0); i < n; i++ {
		s := &e.slots[i]
		if s.help.Load() {
			s.epoch.Store(e.epoch.Load())
			if s.help.CompareAndSwap(true, false) {
				e.helpCount.Add(-1)
			}
		}
	}
}
