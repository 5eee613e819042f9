// Package codec provides the value codecs used to turn typed values into the byte strings
// stored by the engine and back.
//
// A Codec is stateless and deterministic: encoding the same value twice yields the same bytes,
// and Decode(Encode(v)) yields a value equal to v. Every failure is reported as a *Error that
// matches ErrEncode or ErrDecode with errors.Is.
//
// The package contains:
//   - Plain: passthrough for []byte and string values (no transformation)
//   - JSON, Gob, YAML: self-describing text and binary formats from the ecosystem
//   - CBOR, MsgPack: compact binary formats for structured values
//   - Binary: delegates to encoding.BinaryMarshaler / encoding.BinaryUnmarshaler
//   - Compressed: wraps any codec with an S2, Zstd or LZ4 compressor
//
// Example usage:
//
//	c, err := codec.New[User](codec.FormatCBOR)
//	if err != nil {
//		return err
//	}
//	b, err := c.Encode(User{Name: "alice"})
//
// Codecs can be chosen independently for the values of a collection and for the
// metadata an expiring collection keeps about them.
package codec
