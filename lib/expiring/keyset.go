package expiring

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"
)

// --------------------------------------------------------------------------
// Timestamps
// --------------------------------------------------------------------------

// TimestampLayout is the fixed-width UTC layout of the keys of the inverse tree. Its byte
// order equals the chronological order for all years between 0000 and 9999.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTimestamp renders t as an inverse tree key.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses an inverse tree key.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}

// --------------------------------------------------------------------------
// KeySet
// --------------------------------------------------------------------------

// KeySet is a sorted set of keys without duplicates. It is the value type of the inverse tree
// (all keys expiring at the same instant).
//
// Its binary form (used with codec.FormatBinary) is a big-endian uint32 count followed by a
// big-endian uint32 length and the bytes of each key.
type KeySet [][]byte

func (s KeySet) search(key []byte) (int, bool) {
	i := sort.Search(len(s), func(i int) bool { return bytes.Compare(s[i], key) >= 0 })
	return i, i < len(s) && bytes.Equal(s[i], key)
}

// Contains reports whether key is in the set.
func (s KeySet) Contains(key []byte) bool {
	_, found := s.search(key)
	return found
}

// Add returns the set with key added. The receiver may be modified.
func (s KeySet) Add(key []byte) KeySet {
	i, found := s.search(key)
	if found {
		return s
	}
	k := make([]byte, len(key))
	copy(k, key)
	s = append(s, nil)
	copy(s[i+1:], s[i:])
	s[i] = k
	return s
}

// Remove returns the set without key and whether key was present. The receiver may be
// modified.
func (s KeySet) Remove(key []byte) (KeySet, bool) {
	i, found := s.search(key)
	if !found {
		return s, false
	}
	return append(s[:i], s[i+1:]...), true
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s KeySet) MarshalBinary() ([]byte, error) {
	size := 4
	for _, k := range s {
		size += 4 + len(k)
	}
	out := make([]byte, size)
	binary.BigEndian.PutUint32(out, uint32(len(s)))
	pos := 4
	for _, k := range s {
		binary.BigEndian.PutUint32(out[pos:], uint32(len(k)))
		pos += 4
		pos += copy(out[pos:], k)
	}
	return out, nil
}

var errKeySetTruncated = errors.New("key set: truncated input")

// UnmarshalBinary implements encoding.BinaryUnmarshaler. Keys must be sorted and unique.
func (s *KeySet) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return errKeySetTruncated
	}
	n := binary.BigEndian.Uint32(data)
	pos := 4
	// every key needs at least its length prefix
	if uint64(n)*4 > uint64(len(data)-pos) {
		return errKeySetTruncated
	}

	out := make(KeySet, 0, n)
	for i := uint32(0); i < n; i++ {
		if len(data)-pos < 4 {
			return errKeySetTruncated
		}
		l := int(binary.BigEndian.Uint32(data[pos:]))
		pos += 4
		if l < 0 || len(data)-pos < l {
			return errKeySetTruncated
		}
		k := make([]byte, l)
		copy(k, data[pos:pos+l])
		pos += l
		if len(out) > 0 && bytes.Compare(out[len(out)-1], k) >= 0 {
			return fmt.Errorf("key set: key %d is out of order", i)
		}
		out = append(out, k)
	}
	if pos != len(data) {
		return fmt.Errorf("key set: %d trailing bytes", len(data)-pos)
	}
	*s = out
	return nil
}
