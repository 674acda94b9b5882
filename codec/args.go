package codec

import (
	"errors"
	"fmt"
)

// ErrArgument is wrapped by every Args decoding failure.
var ErrArgument = errors.New("codec: argument mismatch")

// Args is a decoded argument list whose elements are still encoded. Handlers
// decode each element into the type they declare.
type Args struct {
	raw   [][]byte
	codec ListCodec
}

// NewArgs wraps raw list elements produced by c.DecodeList.
func NewArgs(raw [][]byte, c ListCodec) Args {
	return Args{raw: raw, codec: c}
}

// DecodeArgs splits an encoded list with c.
func DecodeArgs(data []byte, c ListCodec) (Args, error) {
	raw, err := c.DecodeList(data)
	if err != nil {
		return Args{}, err
	}
	return NewArgs(raw, c), nil
}

func (a Args) Len() int { return len(a.raw) }

// Raw returns the encoded element i.
func (a Args) Raw(i int) []byte { return a.raw[i] }

// Decode decodes element i into v.
func (a Args) Decode(i int, v any) error {
	if i < 0 || i >= len(a.raw) {
		return fmt.Errorf("%w: no argument %d in a list of %d", ErrArgument, i, len(a.raw))
	}
	if err := a.codec.Decode(a.raw[i], v); err != nil {
		return fmt.Errorf("%w: argument %d: %v", ErrArgument, i, err)
	}
	return nil
}

// Expect fails unless the list has exactly n elements.
func (a Args) Expect(n int) error {
	if len(a.raw) != n {
		return fmt.Errorf("%w: expected %d arguments, got %d", ErrArgument, n, len(a.raw))
	}
	return nil
}
