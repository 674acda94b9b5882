package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"duplex-rpc/message"

	"github.com/google/uuid"
)

// ErrTruncated is returned when a header ends before all fields were read.
var ErrTruncated = errors.New("BinaryCodec: truncated envelope")

// BinaryCodec encodes envelope headers. The field order is the wire contract:
//
//	hasContent      1 byte
//	expirationTime  8 bytes, int64 LE unix nanoseconds (0 = unset)
//	correlationId  16 bytes
//	methodName      2 bytes LE length + n bytes
//	hasReturn       1 byte
//	sessionIdentity 16 bytes
//	kind            4 bytes, int32 LE (0=Request, 1=Response)
type BinaryCodec struct{}

// Header is the codec every peer uses for envelope headers.
var Header = &BinaryCodec{}

const envelopeFixedSize = 1 + 8 + 16 + 2 + 1 + 16 + 4

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	// v must be *Envelope
	env, ok := v.(*message.Envelope)
	if !ok {
		return nil, errors.New("BinaryCodec: v must be *Envelope")
	}
	if len(env.MethodName) > math.MaxUint16 {
		return nil, fmt.Errorf("BinaryCodec: method name too long (%d bytes)", len(env.MethodName))
	}

	buf := make([]byte, envelopeFixedSize+len(env.MethodName))
	offset := 0

	buf[offset] = boolByte(env.HasContent)
	offset++

	var expires int64
	if !env.ExpirationTime.IsZero() {
		expires = env.ExpirationTime.UnixNano()
	}
	binary.LittleEndian.PutUint64(buf[offset:offset+8], uint64(expires))
	offset += 8

	copy(buf[offset:offset+16], env.CorrelationID[:])
	offset += 16

	binary.LittleEndian.PutUint16(buf[offset:offset+2], uint16(len(env.MethodName)))
	offset += 2
	copy(buf[offset:offset+len(env.MethodName)], env.MethodName)
	offset += len(env.MethodName)

	buf[offset] = boolByte(env.HasReturn)
	offset++

	copy(buf[offset:offset+16], env.SessionID[:])
	offset += 16

	binary.LittleEndian.PutUint32(buf[offset:offset+4], uint32(env.Kind))
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	// v must be *Envelope
	env, ok := v.(*message.Envelope)
	if !ok {
		return errors.New("BinaryCodec: v must be *Envelope")
	}
	if len(data) < envelopeFixedSize {
		return fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}

	offset := 0
	env.HasContent = data[offset] != 0
	offset++

	expires := int64(binary.LittleEndian.Uint64(data[offset : offset+8]))
	offset += 8
	env.ExpirationTime = time.Time{}
	if expires != 0 {
		env.ExpirationTime = time.Unix(0, expires).UTC()
	}

	env.CorrelationID = uuid.UUID(data[offset : offset+16])
	offset += 16

	nameLen := int(binary.LittleEndian.Uint16(data[offset : offset+2]))
	offset += 2
	if len(data) != envelopeFixedSize+nameLen {
		return fmt.Errorf("%w: method name of %d bytes in %d-byte header", ErrTruncated, nameLen, len(data))
	}
	env.MethodName = string(data[offset : offset+nameLen])
	offset += nameLen

	env.HasReturn = data[offset] != 0
	offset++

	env.SessionID = uuid.UUID(data[offset : offset+16])
	offset += 16

	kind := message.Kind(int32(binary.LittleEndian.Uint32(data[offset : offset+4])))
	if kind != message.KindRequest && kind != message.KindResponse {
		return fmt.Errorf("BinaryCodec: unsupported kind %d", int32(kind))
	}
	env.Kind = kind
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
