// Package codec serializes envelope headers and RPC content.
//
// Two layers use codecs:
//   - the header: BinaryCodec writes an *message.Envelope in a fixed field order,
//     which is the wire contract between peers and does not depend on the content codec;
//   - the content: a ListCodec (JSON or CBOR) encodes the ordered argument list of a
//     request, or the single-element result list of a response.
package codec

import (
	"fmt"
	"strings"
)

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeCBOR   CodecType = 1
	CodecTypeBinary CodecType = 2 // Envelope headers only
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeCBOR:
		return "cbor"
	case CodecTypeBinary:
		return "binary"
	default:
		return fmt.Sprintf("codec(%d)", byte(t))
	}
}

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

// ListCodec encodes ordered value lists and splits them back into raw,
// still-encoded elements. Each element is decoded later with Decode into the
// type the receiving handler declares, so no shape is ever guessed.
type ListCodec interface {
	Codec
	EncodeList(values []any) ([]byte, error)
	DecodeList(data []byte) ([][]byte, error)
	// IsNull reports whether a raw element encodes null.
	IsNull(raw []byte) bool
}

// GetCodec returns the content codec for codecType. Unknown types fall back to JSON.
func GetCodec(codecType CodecType) ListCodec {
	if codecType == CodecTypeCBOR {
		return &CBORCodec{}
	}
	return &JSONCodec{}
}

// ParseCodecType maps a configuration name ("json", "cbor") to a content codec type.
func ParseCodecType(name string) (CodecType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return CodecTypeJSON, nil
	case "cbor":
		return CodecTypeCBOR, nil
	default:
		return 0, fmt.Errorf("codec: unsupported content codec %q", name)
	}
}
