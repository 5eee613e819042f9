package codec

import (
	"errors"
	"fmt"
)

// Op names the direction of a failed conversion.
type Op string

const (
	OpEncode Op = "encode"
	OpDecode Op = "decode"
)

var (
	// ErrEncode matches every *Error raised while encoding.
	ErrEncode = errors.New("codec: encode failed")
	// ErrDecode matches every *Error raised while decoding.
	ErrDecode = errors.New("codec: decode failed")
)

// Error is returned by all codecs of this package. It carries the format and the direction
// of the conversion and wraps the error of the underlying library.
type Error struct {
	Format Format
	Op     Op
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("codec %s: %s failed: %v", e.Format, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrEncode or ErrDecode and matches the direction of e.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrEncode:
		return e.Op == OpEncode
	case ErrDecode:
		return e.Op == OpDecode
	}
	return false
}

func encodeError(format Format, err error) error {
	return &Error{Format: format, Op: OpEncode, Err: err}
}

func decodeError(format Format, err error) error {
	return &Error{Format: format, Op: OpDecode, Err: err}
}
