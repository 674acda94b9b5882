package codec

import (
	"github.com/fxamacker/cbor/v2"
)

// CBORCodec encodes content as CBOR (RFC 8949): compact, binary and schema-less,
// the closest standard relative of MessagePack.
type CBORCodec struct{}

func (c *CBORCodec) Encode(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

func (c *CBORCodec) Decode(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

func (c *CBORCodec) Type() CodecType {
	return CodecTypeCBOR
}

func (c *CBORCodec) EncodeList(values []any) ([]byte, error) {
	if values == nil {
		values = []any{}
	}
	return cbor.Marshal(values)
}

func (c *CBORCodec) DecodeList(data []byte) ([][]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var raws []cbor.RawMessage
	if err := cbor.Unmarshal(data, &raws); err != nil {
		return nil, err
	}
	out := make([][]byte, len(raws))
	for i, raw := range raws {
		out[i] = raw
	}
	return out, nil
}

// IsNull matches the simple values null (0xf6) and undefined (0xf7).
func (c *CBORCodec) IsNull(raw []byte) bool {
	return len(raw) == 1 && (raw[0] == 0xf6 || raw[0] == 0xf7)
}
