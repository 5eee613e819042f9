package codec

import "fmt"

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Codec converts values of type T to bytes and back.
//
// Thread-safety: all implementations in this package are safe for concurrent use.
type Codec[T any] interface {
	// Encode converts a value into its byte representation.
	// It returns a *Error that matches ErrEncode if the value can't be encoded.
	Encode(v T) ([]byte, error)
	// Decode converts bytes produced by Encode back into a value.
	// It returns a *Error that matches ErrDecode if the bytes are malformed.
	Decode(b []byte) (T, error)
	// Format returns the name of the wire format.
	Format() Format
}

// --------------------------------------------------------------------------
// Formats
// --------------------------------------------------------------------------

// Format identifies a wire format.
type Format string

const (
	FormatPlain   Format = "plain"
	FormatJSON    Format = "json"
	FormatGob     Format = "gob"
	FormatCBOR    Format = "cbor"
	FormatMsgPack Format = "msgpack"
	FormatYAML    Format = "yaml"
	FormatBinary  Format = "binary"
)

// Formats lists all formats that can be created with New.
var Formats = []Format{FormatPlain, FormatJSON, FormatGob, FormatCBOR, FormatMsgPack, FormatYAML, FormatBinary}

// ParseFormat converts a format name into a Format.
func ParseFormat(name string) (Format, error) {
	for _, f := range Formats {
		if string(f) == name {
			return f, nil
		}
	}
	return "", fmt.Errorf("invalid codec %q, must be one of %v", name, Formats)
}

// New creates a codec for T using the given format.
//
// FormatPlain is only valid for T = []byte and T = string, FormatBinary only for types
// implementing encoding.BinaryMarshaler / encoding.BinaryUnmarshaler. Violations are reported
// when the codec is created, not on first use.
func New[T any](format Format) (Codec[T], error) {
	switch format {
	case FormatJSON:
		return JSON[T](), nil
	case FormatGob:
		return Gob[T](), nil
	case FormatCBOR:
		return CBOR[T](), nil
	case FormatMsgPack:
		return MsgPack[T](), nil
	case FormatYAML:
		return YAML[T](), nil
	case FormatBinary:
		if !isBinaryType[T]() {
			var zero T
			return nil, fmt.Errorf("codec %s: %T does not implement encoding.BinaryMarshaler and encoding.BinaryUnmarshaler", format, zero)
		}
		return Binary[T](), nil
	case FormatPlain:
		var zero T
		switch any(zero).(type) {
		case []byte:
			return any(Plain[[]byte]()).(Codec[T]), nil
		case string:
			return any(Plain[string]()).(Codec[T]), nil
		default:
			return nil, fmt.Errorf("codec %s: only []byte and string values are supported, got %T", format, zero)
		}
	default:
		return nil, fmt.Errorf("invalid codec %q", format)
	}
}
