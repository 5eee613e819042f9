package codec

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	Name  string
	Count int
	Tags  []string
	At    time.Time
}

// testCodecs is a map of format name to codec factory for testRecord values
var testCodecs = map[string]func() Codec[testRecord]{
	"JSON":      JSON[testRecord],
	"Gob":       Gob[testRecord],
	"CBOR":      CBOR[testRecord],
	"MsgPack":   MsgPack[testRecord],
	"YAML":      YAML[testRecord],
	"JSON+S2":   func() Codec[testRecord] { return Compressed(JSON[testRecord](), S2()) },
	"CBOR+Zstd": func() Codec[testRecord] { return Compressed(CBOR[testRecord](), Zstd(1)) },
	"Gob+LZ4":   func() Codec[testRecord] { return Compressed(Gob[testRecord](), LZ4()) },
}

func testRecords() []testRecord {
	return []testRecord{
		{Name: "empty-tags", Count: 0, Tags: []string{"a"}, At: time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)},
		{Name: "many", Count: 42, Tags: []string{"x", "y", "z"}, At: time.Date(1999, 12, 31, 23, 59, 59, 999999999, time.UTC)},
		{Name: "unicode ✓", Count: -7, Tags: []string{""}, At: time.Unix(0, 0).UTC()},
	}
}

func TestCodecRoundTrip(t *testing.T) {
	for name, factory := range testCodecs {
		t.Run(name, func(t *testing.T) {
			c := factory()
			for _, rec := range testRecords() {
				b, err := c.Encode(rec)
				require.NoError(t, err)

				got, err := c.Decode(b)
				require.NoError(t, err)

				assert.Equal(t, rec.Name, got.Name)
				assert.Equal(t, rec.Count, got.Count)
				assert.Equal(t, rec.Tags, got.Tags)
				assert.True(t, rec.At.Equal(got.At), "expected %v, got %v", rec.At, got.At)
			}
		})
	}
}

func TestCodecDeterministic(t *testing.T) {
	for name, factory := range testCodecs {
		t.Run(name, func(t *testing.T) {
			c := factory()
			rec := testRecords()[1]

			a, err := c.Encode(rec)
			require.NoError(t, err)
			b, err := c.Encode(rec)
			require.NoError(t, err)

			if !bytes.Equal(a, b) {
				t.Errorf("Expected identical encodings for the same value")
			}
		})
	}
}

type mapRecord struct {
	Name   string
	Scores map[string]int
	Nested map[string]map[string]string
}

func TestCodecDeterministicMaps(t *testing.T) {
	rec := mapRecord{Name: "maps", Scores: map[string]int{}, Nested: map[string]map[string]string{}}
	for i := 0; i < 16; i++ {
		k := fmt.Sprintf("key-%02d", i)
		rec.Scores[k] = i
		rec.Nested[k] = map[string]string{"a": k, "b": k, "c": k}
	}

	// Gob encodes maps in iteration order and is excluded
	codecs := map[string]Codec[mapRecord]{
		"JSON":         JSON[mapRecord](),
		"CBOR":         CBOR[mapRecord](),
		"MsgPack":      MsgPack[mapRecord](),
		"YAML":         YAML[mapRecord](),
		"MsgPack+Zstd": Compressed(MsgPack[mapRecord](), Zstd(1)),
	}
	for name, c := range codecs {
		t.Run(name, func(t *testing.T) {
			first, err := c.Encode(rec)
			require.NoError(t, err)
			for i := 0; i < 50; i++ {
				b, err := c.Encode(rec)
				require.NoError(t, err)
				require.Equal(t, first, b, "encoding %d differs from the first", i)
			}

			got, err := c.Decode(first)
			require.NoError(t, err)
			assert.Equal(t, rec, got)
		})
	}
}

func TestCodecDecodeError(t *testing.T) {
	garbage := []byte{0xc1}

	for name, factory := range testCodecs {
		if name == "YAML" {
			// every byte string that is valid UTF-8 is a YAML document
			continue
		}
		t.Run(name, func(t *testing.T) {
			_, err := factory().Decode(garbage)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDecode)
			assert.NotErrorIs(t, err, ErrEncode)

			var cErr *Error
			require.ErrorAs(t, err, &cErr)
			assert.Equal(t, OpDecode, cErr.Op)
		})
	}
}

func TestCodecEncodeError(t *testing.T) {
	_, err := JSON[func()]().Encode(func() {})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEncode)

	var cErr *Error
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, FormatJSON, cErr.Format)
}

func TestPlain(t *testing.T) {
	bc := Plain[[]byte]()
	in := []byte{0, 1, 2, 255}
	b, err := bc.Encode(in)
	require.NoError(t, err)
	assert.Equal(t, in, b)
	out, err := bc.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	sc := Plain[string]()
	b, err = sc.Encode("hello")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), b)
	s, err := sc.Decode([]byte("world"))
	require.NoError(t, err)
	assert.Equal(t, "world", s)
}

func TestBinary(t *testing.T) {
	c := Binary[time.Time]()
	ts := time.Date(2030, 6, 1, 12, 0, 0, 123, time.UTC)

	b, err := c.Encode(ts)
	require.NoError(t, err)
	got, err := c.Decode(b)
	require.NoError(t, err)
	assert.True(t, ts.Equal(got))

	_, err = c.Decode([]byte("x"))
	assert.ErrorIs(t, err, ErrDecode)

	_, err = Binary[int]().Encode(1)
	assert.ErrorIs(t, err, ErrEncode)
}

func TestNew(t *testing.T) {
	for _, f := range []Format{FormatJSON, FormatGob, FormatCBOR, FormatMsgPack, FormatYAML} {
		c, err := New[testRecord](f)
		require.NoError(t, err, f)
		assert.Equal(t, f, c.Format())
	}

	c, err := New[[]byte](FormatPlain)
	require.NoError(t, err)
	b, err := c.Encode([]byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), b)

	_, err = New[string](FormatPlain)
	require.NoError(t, err)

	_, err = New[int](FormatPlain)
	assert.Error(t, err)

	_, err = New[time.Time](FormatBinary)
	require.NoError(t, err)

	_, err = New[testRecord](FormatBinary)
	assert.Error(t, err)

	_, err = New[testRecord]("bincode")
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	f, err := ParseFormat("msgpack")
	require.NoError(t, err)
	assert.Equal(t, FormatMsgPack, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)

	for _, name := range []string{"none", "s2", "zstd", "lz4"} {
		c, err := ParseCompressor(name)
		require.NoError(t, err)
		assert.Equal(t, name, c.Name())
	}
	_, err = ParseCompressor("brotli")
	assert.Error(t, err)
}

func TestCompressedFormat(t *testing.T) {
	c := Compressed(JSON[testRecord](), Zstd(1))
	assert.Equal(t, Format("json+zstd"), c.Format())

	// none does not wrap at all
	plain := JSON[testRecord]()
	assert.Equal(t, FormatJSON, Compressed(plain, None()).Format())
}

func TestCompressorsRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte(`{"key":"test-key-12345","value":"compressible"}`), 32)

	for _, c := range []Compressor{None(), S2(), Zstd(1), Zstd(9), LZ4()} {
		t.Run(c.Name(), func(t *testing.T) {
			encoded, err := c.Encode(data)
			require.NoError(t, err)
			if c.Name() != "none" && len(encoded) >= len(data) {
				t.Errorf("Expected %s to compress repetitive input, got %d >= %d bytes", c.Name(), len(encoded), len(data))
			}
			decoded, err := c.Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, data, decoded)
		})
	}
}

func TestErrorIsDirection(t *testing.T) {
	err := decodeError(FormatGob, errors.New("boom"))
	assert.ErrorIs(t, err, ErrDecode)
	assert.NotErrorIs(t, err, ErrEncode)
	assert.Contains(t, err.Error(), "gob")
	assert.Contains(t, err.Error(), "boom")
}
