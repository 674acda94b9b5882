// Package protocol implements the length-prefixed frame format used by duplex-rpc.
//
// Every transmission on the socket is one frame. The receiver reads the fixed
// 4-byte length first, then reads exactly that many payload bytes, which keeps
// message boundaries intact on top of the TCP byte stream.
//
// Frame format:
//
//	0            4
//	┌────────────┬──────────────────────────┐
//	│  length    │  payload ...             │
//	│ int32 (LE) │  length bytes            │
//	└────────────┴──────────────────────────┘
//
// A payload consisting of the single byte 0x2A is the close sentinel: the peer
// is shutting the connection down. It is never handed to the application.
//
// RPC payloads are themselves split into a header and a content part:
//
//	┌──────────────┬──────────────┬───────────────┐
//	│ headerLen    │ header ...   │ content ...   │
//	│ int32 (LE)   │ headerLen B  │ rest of frame │
//	└──────────────┴──────────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	// LengthPrefixSize is the size of both the frame length and the header length prefix.
	LengthPrefixSize = 4
	// SentinelByte is the single-byte payload announcing a remote close.
	SentinelByte byte = 0x2A
	// DefaultMaxPayload bounds the declared length of a frame.
	DefaultMaxPayload = 64 << 20
)

var (
	// ErrFrameTooLarge is returned for a declared length that is negative or above the limit.
	ErrFrameTooLarge = errors.New("protocol: frame length out of range")
	// ErrShortMessage is returned when a payload is too short for its declared header.
	ErrShortMessage = errors.New("protocol: message shorter than declared header")
)

// Little-endian matches the int32 layout written by the x86 peers this protocol talks to.
var byteOrder = binary.LittleEndian

// Sentinel returns a fresh close-sentinel payload.
func Sentinel() []byte {
	return []byte{SentinelByte}
}

// IsSentinel reports whether payload is the close sentinel.
func IsSentinel(payload []byte) bool {
	return len(payload) == 1 && payload[0] == SentinelByte
}

// CheckLength fails with ErrFrameTooLarge when n cannot be framed or exceeds
// max. A max of 0 only enforces the int32 length prefix.
func CheckLength(n, max int) error {
	if n < 0 || n > math.MaxInt32 || (max > 0 && n > max) {
		return fmt.Errorf("%w: %d", ErrFrameTooLarge, n)
	}
	return nil
}

// Encode writes a complete frame (length + payload) to w with a single Write call.
// The caller must serialize concurrent writers, otherwise frames interleave.
func Encode(w io.Writer, payload []byte) error {
	if err := CheckLength(len(payload), 0); err != nil {
		return err
	}
	buf := make([]byte, LengthPrefixSize+len(payload))
	byteOrder.PutUint32(buf[:LengthPrefixSize], uint32(int32(len(payload))))
	copy(buf[LengthPrefixSize:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadLength reads the 4-byte length prefix of the next frame.
// A declared length outside [0, max] fails with ErrFrameTooLarge.
func ReadLength(r io.Reader, max int) (int, error) {
	var prefix [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return 0, err
	}
	n := int(int32(byteOrder.Uint32(prefix[:])))
	if err := CheckLength(n, max); err != nil {
		return 0, err
	}
	return n, nil
}

// ReadPayload reads exactly n bytes, accumulating across short reads.
// On failure it returns the number of bytes received so far.
func ReadPayload(r io.Reader, n int) ([]byte, int, error) {
	payload := make([]byte, n)
	read, err := io.ReadFull(r, payload)
	if err != nil {
		return nil, read, err
	}
	return payload, read, nil
}

// Decode reads one complete frame from r.
func Decode(r io.Reader, max int) ([]byte, error) {
	n, err := ReadLength(r, max)
	if err != nil {
		return nil, err
	}
	payload, _, err := ReadPayload(r, n)
	return payload, err
}

// PackMessage joins an encoded header and content into one RPC payload.
func PackMessage(header, content []byte) []byte {
	msg := make([]byte, LengthPrefixSize+len(header)+len(content))
	byteOrder.PutUint32(msg[:LengthPrefixSize], uint32(int32(len(header))))
	copy(msg[LengthPrefixSize:], header)
	copy(msg[LengthPrefixSize+len(header):], content)
	return msg
}

// UnpackMessage splits an RPC payload into its header and content parts.
// The returned slices alias payload.
func UnpackMessage(payload []byte) (header, content []byte, err error) {
	if len(payload) < LengthPrefixSize {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrShortMessage, len(payload))
	}
	headerLen := int(int32(byteOrder.Uint32(payload[:LengthPrefixSize])))
	if headerLen < 0 || headerLen > len(payload)-LengthPrefixSize {
		return nil, nil, fmt.Errorf("%w: header %d, payload %d", ErrShortMessage, headerLen, len(payload))
	}
	header = payload[LengthPrefixSize : LengthPrefixSize+headerLen]
	content = payload[LengthPrefixSize+headerLen:]
	return header, content, nil
}
