package codec

import (
	"strings"
	"testing"
	"time"

	"duplex-rpc/message"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertEnvelopeEqual(t *testing.T, want, got *message.Envelope) {
	t.Helper()
	assert.Equal(t, want.HasContent, got.HasContent)
	assert.True(t, want.ExpirationTime.Equal(got.ExpirationTime), "expiration %v != %v", want.ExpirationTime, got.ExpirationTime)
	assert.Equal(t, want.ExpirationTime.IsZero(), got.ExpirationTime.IsZero())
	assert.Equal(t, want.CorrelationID, got.CorrelationID)
	assert.Equal(t, want.MethodName, got.MethodName)
	assert.Equal(t, want.HasReturn, got.HasReturn)
	assert.Equal(t, want.SessionID, got.SessionID)
	assert.Equal(t, want.Kind, got.Kind)
}

func TestBinaryCodecRoundTrip(t *testing.T) {
	expires := time.Now().Add(15 * time.Second)
	methods := []string{"", "Ping", "Echo", strings.Repeat("m", 300)}
	sessions := []uuid.UUID{uuid.Nil, uuid.New()}
	expirations := []time.Time{{}, expires}
	kinds := []message.Kind{message.KindRequest, message.KindResponse}

	for _, method := range methods {
		for _, session := range sessions {
			for _, exp := range expirations {
				for _, kind := range kinds {
					for _, flags := range [][2]bool{{false, false}, {true, false}, {false, true}, {true, true}} {
						original := &message.Envelope{
							HasContent:     flags[0],
							ExpirationTime: exp,
							CorrelationID:  uuid.New(),
							MethodName:     method,
							HasReturn:      flags[1],
							SessionID:      session,
							Kind:           kind,
						}
						data, err := Header.Encode(original)
						require.NoError(t, err)

						var decoded message.Envelope
						require.NoError(t, Header.Decode(data, &decoded))
						assertEnvelopeEqual(t, original, &decoded)
					}
				}
			}
		}
	}
}

func TestBinaryCodecFieldOrder(t *testing.T) {
	env := &message.Envelope{
		HasContent:    true,
		CorrelationID: uuid.MustParse("00112233-4455-6677-8899-aabbccddeeff"),
		MethodName:    "Go",
		HasReturn:     true,
		Kind:          message.KindResponse,
	}
	data, err := Header.Encode(env)
	require.NoError(t, err)
	require.Len(t, data, envelopeFixedSize+2)

	assert.Equal(t, byte(1), data[0])                    // hasContent
	assert.Equal(t, make([]byte, 8), data[1:9])          // unset expiration
	assert.Equal(t, env.CorrelationID[:], data[9:25])    // correlationId
	assert.Equal(t, []byte{2, 0, 'G', 'o'}, data[25:29]) // methodName
	assert.Equal(t, byte(1), data[29])                   // hasReturn
	assert.Equal(t, make([]byte, 16), data[30:46])       // sessionIdentity
	assert.Equal(t, []byte{1, 0, 0, 0}, data[46:50])     // kind
}

func TestBinaryCodecRejects(t *testing.T) {
	_, err := Header.Encode("not an envelope")
	assert.Error(t, err)

	_, err = Header.Encode(&message.Envelope{MethodName: strings.Repeat("x", 70000)})
	assert.Error(t, err)

	var env message.Envelope
	assert.ErrorIs(t, Header.Decode([]byte{1, 2, 3}, &env), ErrTruncated)

	data, err := Header.Encode(&message.Envelope{MethodName: "Echo"})
	require.NoError(t, err)
	assert.ErrorIs(t, Header.Decode(data[:len(data)-1], &env), ErrTruncated)

	data[len(data)-4] = 9 // kind
	assert.Error(t, Header.Decode(data, &env))

	assert.Error(t, Header.Decode(data, env))
}

type helloRequest struct {
	Name  string `json:"name" cbor:"name"`
	Count int    `json:"count" cbor:"count"`
}

func TestListCodecs(t *testing.T) {
	for _, ct := range []CodecType{CodecTypeJSON, CodecTypeCBOR} {
		t.Run(ct.String(), func(t *testing.T) {
			c := GetCodec(ct)
			assert.Equal(t, ct, c.Type())

			data, err := c.EncodeList([]any{41, "text", helloRequest{Name: "bob", Count: 3}, nil})
			require.NoError(t, err)

			raws, err := c.DecodeList(data)
			require.NoError(t, err)
			require.Len(t, raws, 4)

			var n int
			require.NoError(t, c.Decode(raws[0], &n))
			assert.Equal(t, 41, n)

			var s string
			require.NoError(t, c.Decode(raws[1], &s))
			assert.Equal(t, "text", s)

			var req helloRequest
			require.NoError(t, c.Decode(raws[2], &req))
			assert.Equal(t, helloRequest{Name: "bob", Count: 3}, req)

			// type mismatch is a hard error
			assert.Error(t, c.Decode(raws[1], &n))

			assert.True(t, c.IsNull(raws[3]))
			for _, raw := range raws[:3] {
				assert.False(t, c.IsNull(raw))
			}
		})
	}
}

func TestListCodecEmpty(t *testing.T) {
	for _, ct := range []CodecType{CodecTypeJSON, CodecTypeCBOR} {
		c := GetCodec(ct)
		data, err := c.EncodeList(nil)
		require.NoError(t, err)
		raws, err := c.DecodeList(data)
		require.NoError(t, err)
		assert.Empty(t, raws)

		raws, err = c.DecodeList(nil)
		require.NoError(t, err)
		assert.Nil(t, raws)
	}
}

func TestParseCodecType(t *testing.T) {
	ct, err := ParseCodecType("")
	require.NoError(t, err)
	assert.Equal(t, CodecTypeJSON, ct)

	ct, err = ParseCodecType(" CBOR ")
	require.NoError(t, err)
	assert.Equal(t, CodecTypeCBOR, ct)

	_, err = ParseCodecType("msgpack")
	assert.Error(t, err)
}

func BenchmarkHeaderCodec(b *testing.B) {
	env := message.NewRequest(uuid.New(), "Echo", true, true, time.Now())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, _ := Header.Encode(env)
		var out message.Envelope
		Header.Decode(data, &out)
	}
}

func BenchmarkCodecJSON(b *testing.B) {
	benchmarkList(b, GetCodec(CodecTypeJSON))
}

func BenchmarkCodecCBOR(b *testing.B) {
	benchmarkList(b, GetCodec(CodecTypeCBOR))
}

func benchmarkList(b *testing.B, c ListCodec) {
	args := []any{helloRequest{Name: "bob", Count: 3}, 42}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, _ := c.EncodeList(args)
		raws, _ := c.DecodeList(data)
		var req helloRequest
		c.Decode(raws[0], &req)
	}
}

func TestArgs(t *testing.T) {
	for _, c := range []ListCodec{&JSONCodec{}, &CBORCodec{}} {
		t.Run(c.Type().String(), func(t *testing.T) {
			data, err := c.EncodeList([]any{41, "name"})
			require.NoError(t, err)
			args, err := DecodeArgs(data, c)
			require.NoError(t, err)

			require.NoError(t, args.Expect(2))
			assert.ErrorIs(t, args.Expect(1), ErrArgument)

			var n int
			require.NoError(t, args.Decode(0, &n))
			assert.Equal(t, 41, n)
			var s string
			require.NoError(t, args.Decode(1, &s))
			assert.Equal(t, "name", s)

			assert.ErrorIs(t, args.Decode(1, &n), ErrArgument)
			assert.ErrorIs(t, args.Decode(2, &s), ErrArgument)
			assert.ErrorIs(t, args.Decode(-1, &s), ErrArgument)
		})
	}
}
