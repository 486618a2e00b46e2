package ebrmap

import (
	"unsafe"

	"golang.org/x/sys/cpu"
)

// CacheLineSize is used to pad hot, frequently-contended structures
// (reservation slots, bucket headers, bucket stores) so that adjacent
// instances don't share a cache line and cause false-sharing stalls under
// concurrent access. Computed from the running architecture via
// golang.org/x/sys/cpu rather than hardcoded.
const CacheLineSize = unsafe.Sizeof(cpu.CacheLinePad{})
