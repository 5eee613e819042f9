package codec

import (
	"bytes"
	"encoding/gob"
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// --------------------------------------------------------------------------
// JSON
// --------------------------------------------------------------------------

// JSON creates a codec using encoding/json.
func JSON[T any]() Codec[T] {
	return jsonImpl[T]{}
}

type jsonImpl[T any] struct{}

func (jsonImpl[T]) Format() Format { return FormatJSON }

func (jsonImpl[T]) Encode(v T) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, encodeError(FormatJSON, err)
	}
	return b, nil
}

func (jsonImpl[T]) Decode(b []byte) (T, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return v, decodeError(FormatJSON, err)
	}
	return v, nil
}

// --------------------------------------------------------------------------
// Gob
// --------------------------------------------------------------------------

// Gob creates a codec using encoding/gob. Every value is encoded as a self-contained
// stream, so the type information is repeated for each value.
//
// gob writes map entries in iteration order, so the encoding is only deterministic for
// types without maps. Values compared by their bytes (CompareAndSwap) must not contain
// maps when stored with Gob; use CBOR, MsgPack, JSON or YAML for those.
func Gob[T any]() Codec[T] {
	return gobImpl[T]{}
}

type gobImpl[T any] struct{}

func (gobImpl[T]) Format() Format { return FormatGob }

func (gobImpl[T]) Encode(v T) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, encodeError(FormatGob, err)
	}
	return buf.Bytes(), nil
}

func (gobImpl[T]) Decode(b []byte) (T, error) {
	var v T
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&v); err != nil {
		return v, decodeError(FormatGob, err)
	}
	return v, nil
}

// --------------------------------------------------------------------------
// YAML
// --------------------------------------------------------------------------

// YAML creates a codec using gopkg.in/yaml.v3.
func YAML[T any]() Codec[T] {
	return yamlImpl[T]{}
}

type yamlImpl[T any] struct{}

func (yamlImpl[T]) Format() Format { return FormatYAML }

func (yamlImpl[T]) Encode(v T) ([]byte, error) {
	b, err := yaml.Marshal(v)
	if err != nil {
		return nil, encodeError(FormatYAML, err)
	}
	return b, nil
}

func (yamlImpl[T]) Decode(b []byte) (T, error) {
	var v T
	if err := yaml.Unmarshal(b, &v); err != nil {
		return v, decodeError(FormatYAML, err)
	}
	return v, nil
}
