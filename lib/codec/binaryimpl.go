package codec

import (
	"bytes"
	"encoding"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// --------------------------------------------------------------------------
// CBOR
// --------------------------------------------------------------------------

// cborEncMode uses the deterministic core encoding with nanosecond precision timestamps,
// so time.Time values survive a round trip unchanged.
var cborEncMode = func() cbor.EncMode {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("invalid cbor options: %v", err))
	}
	return mode
}()

// CBOR creates a codec using github.com/fxamacker/cbor/v2.
func CBOR[T any]() Codec[T] {
	return cborImpl[T]{}
}

type cborImpl[T any] struct{}

func (cborImpl[T]) Format() Format { return FormatCBOR }

func (cborImpl[T]) Encode(v T) ([]byte, error) {
	b, err := cborEncMode.Marshal(v)
	if err != nil {
		return nil, encodeError(FormatCBOR, err)
	}
	return b, nil
}

func (cborImpl[T]) Decode(b []byte) (T, error) {
	var v T
	if err := cbor.Unmarshal(b, &v); err != nil {
		return v, decodeError(FormatCBOR, err)
	}
	return v, nil
}

// --------------------------------------------------------------------------
// MessagePack
// --------------------------------------------------------------------------

// MsgPack creates a codec using github.com/vmihailenco/msgpack/v5. Map keys are sorted
// while encoding, so equal values always produce equal bytes.
func MsgPack[T any]() Codec[T] {
	return msgpackImpl[T]{}
}

type msgpackImpl[T any] struct{}

func (msgpackImpl[T]) Format() Format { return FormatMsgPack }

func (msgpackImpl[T]) Encode(v T) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, encodeError(FormatMsgPack, err)
	}
	return buf.Bytes(), nil
}

func (msgpackImpl[T]) Decode(b []byte) (T, error) {
	var v T
	if err := msgpack.Unmarshal(b, &v); err != nil {
		return v, decodeError(FormatMsgPack, err)
	}
	return v, nil
}

// --------------------------------------------------------------------------
// Binary (encoding.BinaryMarshaler)
// --------------------------------------------------------------------------

// Binary creates a codec that delegates to the encoding.BinaryMarshaler implementation of T
// (or *T) and to the encoding.BinaryUnmarshaler implementation of *T. time.Time is a typical
// candidate. Use New to check the requirements up front.
func Binary[T any]() Codec[T] {
	return binaryImpl[T]{}
}

type binaryImpl[T any] struct{}

func (binaryImpl[T]) Format() Format { return FormatBinary }

func (binaryImpl[T]) Encode(v T) ([]byte, error) {
	var m encoding.BinaryMarshaler
	if bm, ok := any(v).(encoding.BinaryMarshaler); ok {
		m = bm
	} else if bm, ok := any(&v).(encoding.BinaryMarshaler); ok {
		m = bm
	} else {
		return nil, encodeError(FormatBinary, fmt.Errorf("%T does not implement encoding.BinaryMarshaler", v))
	}

	b, err := m.MarshalBinary()
	if err != nil {
		return nil, encodeError(FormatBinary, err)
	}
	return b, nil
}

func (binaryImpl[T]) Decode(b []byte) (T, error) {
	var v T
	u, ok := any(&v).(encoding.BinaryUnmarshaler)
	if !ok {
		return v, decodeError(FormatBinary, fmt.Errorf("%T does not implement encoding.BinaryUnmarshaler", &v))
	}
	if err := u.UnmarshalBinary(b); err != nil {
		var zero T
		return zero, decodeError(FormatBinary, err)
	}
	return v, nil
}

// isBinaryType reports whether T can be used with the Binary codec.
func isBinaryType[T any]() bool {
	var v T
	_, marshal := any(v).(encoding.BinaryMarshaler)
	if !marshal {
		_, marshal = any(&v).(encoding.BinaryMarshaler)
	}
	_, unmarshal := any(&v).(encoding.BinaryUnmarshaler)
	return marshal && unmarshal
}

// --------------------------------------------------------------------------
// Plain
// --------------------------------------------------------------------------

// Plain creates a passthrough codec for byte and string values. Encoding never fails and
// decoding accepts any input.
func Plain[T ~[]byte | ~string]() Codec[T] {
	return plainImpl[T]{}
}

type plainImpl[T ~[]byte | ~string] struct{}

func (plainImpl[T]) Format() Format { return FormatPlain }

func (plainImpl[T]) Encode(v T) ([]byte, error) {
	return []byte(v), nil
}

func (plainImpl[T]) Decode(b []byte) (T, error) {
	return T(b), nil
}
