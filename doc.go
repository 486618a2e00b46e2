// Package ebrmap is a library of concurrent associative containers built
// around a single shared mechanism: epoch-based memory reclamation (EBR)
// that doubles as a linearization clock for writes.
//
// The centerpiece is Table[V], an open-addressed hash table that is safe
// for arbitrary numbers of concurrent readers and writers without locks.
// Every committed write is stamped with a monotonically increasing write
// epoch by the EBR manager; reads taken at a "linearized" epoch see
// exactly the writes committed at or before that epoch, and nothing
// retired before it, which is what lets Table produce consistent,
// insertion-ordered snapshot views (Table.View) even while other
// goroutines are mutating the table.
//
// Table does not hash keys itself: every operation takes a pre-computed
// Hash128, and the table stores opaque values. This mirrors hash.Hash-style
// APIs where the caller controls the hash function; HashBytes and
// HashString in hash.go are optional conveniences, not part of the core
// contract.
//
// A Table must not be copied after first use. The zero value is not
// directly usable; construct one with NewTable.
package ebrmap
