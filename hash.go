package ebrmap

import "github.com/cespare/xxhash/v2"

// Hash128 is the opaque 128-bit key identity every Table operation takes.
// The table never inspects its bits beyond equality and the all-zero
// sentinel; hashing is explicitly the caller's responsibility.
type Hash128 struct {
	Hi, Lo uint64
}

// ZeroHash is the reserved value meaning "this bucket is empty." Passing
// ZeroHash to any Table operation is a caller error; the table cannot
// distinguish an intentionally-zero hash from an empty bucket.
var ZeroHash = Hash128{}

// IsZero reports whether h is the reserved empty-bucket sentinel.
func (h Hash128) IsZero() bool {
	return h.Hi == 0 && h.Lo == 0
}

// Equal reports whether h and other identify the same key.
func (h Hash128) Equal(other Hash128) bool {
	return h.Hi == other.Hi && h.Lo == other.Lo
}

// HashBytes is a convenience 128-bit hash construction for callers who
// don't already have one: two xxhash passes over b with distinct seeds
// form the high and low 64 bits. It is not used anywhere on Table's
// internal code paths — Table only ever consumes a Hash128 a caller
// supplies — so using it is entirely optional and swappable.
func HashBytes(b []byte) Hash128 {
	return Hash128{
		Hi: xxhash.Sum64(b),
		Lo: xxhash.Sum64(append(append(make([]byte, 0, len(b)+8), hashSaltLo...), b...)),
	}
}

// HashString is HashBytes for a string, avoiding an extra copy via
// xxhash's native string sum for the high half.
func HashString(s string) Hash128 {
	return Hash128{
		Hi: xxhash.Sum64String(s),
		Lo: xxhash.Sum64String(hashSaltLoStr + s),
	}
}

// hashSaltLo/hashSaltLoStr decorrelate the low-half hash from the high
// half; without a distinct seed, Hi and Lo of HashBytes/HashString would
// always be equal, wasting half the key space the 128-bit hash is meant
// to provide.
var hashSaltLo = []byte{0x9e, 0x37, 0x79, 0xb9, 0x7f, 0x4a, 0x7c, 0x15}

const hashSaltLoStr = "\x9e\x37\x79\xb9\x7f\x4a\x7c\x15"
