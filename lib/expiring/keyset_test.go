package expiring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeySet(t *testing.T) {
	var s KeySet
	s = s.Add([]byte("b"))
	s = s.Add([]byte("a"))
	s = s.Add([]byte("c"))
	s = s.Add([]byte("b"))

	assert.Equal(t, KeySet{[]byte("a"), []byte("b"), []byte("c")}, s)
	assert.True(t, s.Contains([]byte("a")))
	assert.False(t, s.Contains([]byte("d")))

	s, removed := s.Remove([]byte("b"))
	assert.True(t, removed)
	_, removed = s.Remove([]byte("x"))
	assert.False(t, removed)
	assert.Equal(t, KeySet{[]byte("a"), []byte("c")}, s)
}

func TestKeySetAddCopiesKey(t *testing.T) {
	key := []byte("k")
	s := KeySet(nil).Add(key)
	key[0] = 'x'
	assert.True(t, s.Contains([]byte("k")))
}

func TestKeySetBinary(t *testing.T) {
	s := KeySet{[]byte(""), []byte("a"), []byte("long key \x00\xff")}
	b, err := s.MarshalBinary()
	require.NoError(t, err)

	var out KeySet
	require.NoError(t, out.UnmarshalBinary(b))
	assert.Equal(t, s, out)

	t.Run("Invalid", func(t *testing.T) {
		for name, input := range map[string][]byte{
			"empty":        {},
			"short count":  {0, 0, 1},
			"huge count":   {0xff, 0xff, 0xff, 0xff},
			"short key":    {0, 0, 0, 1, 0, 0, 0, 5, 'a'},
			"trailing":     append(append([]byte{}, b...), 0),
			"out of order": {0, 0, 0, 2, 0, 0, 0, 1, 'b', 0, 0, 0, 1, 'a'},
			"duplicate":    {0, 0, 0, 2, 0, 0, 0, 1, 'a', 0, 0, 0, 1, 'a'},
		} {
			var ks KeySet
			assert.Error(t, ks.UnmarshalBinary(input), name)
		}
	})
}

func TestTimestampOrder(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	times := []time.Time{
		base,
		base.Add(time.Nanosecond),
		base.Add(time.Millisecond),
		base.Add(time.Second),
		base.Add(9 * time.Hour),
		base.AddDate(1, 0, 0),
	}
	for i := 1; i < len(times); i++ {
		a, b := FormatTimestamp(times[i-1]), FormatTimestamp(times[i])
		assert.Len(t, b, len(a))
		assert.Less(t, a, b)
	}

	// the zone of the input does not matter
	berlin := time.FixedZone("CET", 3600)
	assert.Equal(t, FormatTimestamp(base), FormatTimestamp(base.In(berlin)))

	parsed, err := ParseTimestamp(FormatTimestamp(times[1]))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(times[1]))
}
