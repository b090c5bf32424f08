package priority

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/xxh3"
)

// Key is the opaque fixed-width identity of one cached remote object.
// It is the 128-bit xxh3 hash of the object path.
type Key struct {
	Hi uint64
	Lo uint64
}

// NewKey derives a Key from a remote object path.
func NewKey(path string) Key {
	h := xxh3.Hash128([]byte(path))
	return Key{Hi: h.Hi, Lo: h.Lo}
}

// String returns the key as 32 lowercase hex digits (big-endian),
// suitable for use as an on-disk directory name.
func (k Key) String() string {
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], k.Hi)
	binary.BigEndian.PutUint64(b[8:], k.Lo)
	return hex.EncodeToString(b[:])
}
