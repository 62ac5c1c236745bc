package packet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatMessage struct {
	From string `cbor:"1,keyasint"`
	Text string `cbor:"2,keyasint"`
	Seq  int    `cbor:"3,keyasint"`
}

func mustZstd(t *testing.T) *Zstd {
	t.Helper()
	z, err := NewZstd()
	require.NoError(t, err)
	return z
}

func mustChaCha(t *testing.T, pass string) *ChaChaPoly {
	t.Helper()
	c, err := NewChaChaPoly([]byte(pass))
	require.NoError(t, err)
	return c
}

// TestRoundTrip verifies Decode(Encode(P)) == P for several option sets.
func TestRoundTrip(t *testing.T) {
	optionSets := map[string]*Options{
		"cbor":            DefaultOptions(),
		"cbor+zstd":       {Serializer: CBOR{}, Processors: []DataProcessor{mustZstd(t)}},
		"cbor+chachapoly": {Serializer: CBOR{}, Processors: []DataProcessor{mustChaCha(t, "secret")}},
		"cbor+zstd+chachapoly": {
			Serializer: CBOR{},
			Processors: []DataProcessor{mustZstd(t), mustChaCha(t, "secret")},
		},
	}

	msg := chatMessage{From: "alice", Text: "hello over the wire", Seq: 7}

	for name, opts := range optionSets {
		t.Run(name, func(t *testing.T) {
			p, err := NewPacket("Chat", msg, opts)
			require.NoError(t, err)

			frame, err := Managed{}.Encode(p, opts)
			require.NoError(t, err)

			decoded, n, err := Managed{}.Decode(frame, opts)
			require.NoError(t, err)
			assert.Equal(t, len(frame), n)
			assert.Equal(t, p, decoded)

			var got chatMessage
			require.NoError(t, decoded.Unmarshal(&got))
			assert.Equal(t, msg, got)
		})
	}
}

func TestDecodePartialFrames(t *testing.T) {
	opts := DefaultOptions()
	p, err := NewPacket("Chat", chatMessage{Text: "partial"}, opts)
	require.NoError(t, err)
	frame, err := Managed{}.Encode(p, opts)
	require.NoError(t, err)

	for cut := 0; cut < len(frame); cut++ {
		_, _, err := Managed{}.Decode(frame[:cut], opts)
		assert.ErrorIs(t, err, ErrNeedMoreData, "cut at %d", cut)
	}
}

func TestDecodeConsecutiveFrames(t *testing.T) {
	opts := DefaultOptions()
	var stream []byte
	for i := 0; i < 3; i++ {
		p, err := NewPacket("Seq", i, opts)
		require.NoError(t, err)
		frame, err := Managed{}.Encode(p, opts)
		require.NoError(t, err)
		stream = append(stream, frame...)
	}

	for i := 0; i < 3; i++ {
		p, n, err := Managed{}.Decode(stream, opts)
		require.NoError(t, err)
		var got int
		require.NoError(t, p.Unmarshal(&got))
		assert.Equal(t, i, got)
		stream = stream[n:]
	}
	assert.Empty(t, stream)
}

func TestDecodeCorruptHeaderLength(t *testing.T) {
	buf := []byte{0xff, 0xff, 0xff, 0xff, 0x00}
	_, _, err := Managed{}.Decode(buf, DefaultOptions())
	assert.ErrorIs(t, err, ErrCorruptFrame)

	buf = []byte{0, 0, 0, 0}
	_, _, err = Managed{}.Decode(buf, DefaultOptions())
	assert.ErrorIs(t, err, ErrCorruptFrame)
}

func TestNewPacketValidation(t *testing.T) {
	_, err := NewPacket("", "x", DefaultOptions())
	assert.ErrorIs(t, err, ErrEmptyPacketType)

	_, err = NewPacket("T", "x", &Options{})
	assert.ErrorIs(t, err, ErrNilSerializer)

	_, err = NewPacket("T", 42, RawOptions())
	assert.ErrorIs(t, err, ErrUnsupportedValue)
}

func TestUnmarshalOptionsMismatch(t *testing.T) {
	sender := &Options{Serializer: CBOR{}, Processors: []DataProcessor{mustZstd(t)}}
	p, err := NewPacket("Chat", "hi", sender)
	require.NoError(t, err)
	frame, err := Managed{}.Encode(p, sender)
	require.NoError(t, err)

	decoded, _, err := Managed{}.Decode(frame, DefaultOptions())
	require.NoError(t, err)

	var s string
	err = decoded.Unmarshal(&s)
	assert.True(t, errors.Is(err, ErrOptionsMismatch), "got %v", err)
}

func TestChaChaPolyWrongKey(t *testing.T) {
	sealed, err := mustChaCha(t, "right").Process([]byte("payload"))
	require.NoError(t, err)

	_, err = mustChaCha(t, "wrong").Unprocess(sealed)
	assert.Error(t, err)

	_, err = mustChaCha(t, "right").Unprocess(sealed[:10])
	assert.ErrorIs(t, err, ErrCiphertextTooShort)

	_, err = NewChaChaPoly(nil)
	assert.ErrorIs(t, err, ErrEmptyPassphrase)
}

func TestUnmanagedFramer(t *testing.T) {
	opts := RawOptions()
	p, err := NewPacket(TypeUnmanaged, []byte("raw bytes"), opts)
	require.NoError(t, err)

	out, err := Unmanaged{}.Encode(p, opts)
	require.NoError(t, err)
	assert.Equal(t, []byte("raw bytes"), out)

	decoded, n, err := Unmanaged{}.Decode(out, opts)
	require.NoError(t, err)
	assert.Equal(t, len(out), n)
	assert.Equal(t, TypeUnmanaged, decoded.Type())

	var got []byte
	require.NoError(t, decoded.Unmarshal(&got))
	assert.Equal(t, []byte("raw bytes"), got)

	typed, err := NewPacket("Chat", []byte("x"), opts)
	require.NoError(t, err)
	_, err = Unmanaged{}.Encode(typed, opts)
	assert.ErrorIs(t, err, ErrUnmanagedType)

	_, _, err = Unmanaged{}.Decode(nil, opts)
	assert.ErrorIs(t, err, ErrNeedMoreData)
}

func TestOptionsHelpers(t *testing.T) {
	assert.True(t, RawOptions().IsRaw())
	assert.False(t, DefaultOptions().IsRaw())
	assert.Equal(t, "cbor+zstd", (&Options{Serializer: CBOR{}, Processors: []DataProcessor{mustZstd(t)}}).String())

	s, err := SerializerByName("raw")
	require.NoError(t, err)
	assert.Equal(t, SerializerNull, s.ID())
	_, err = SerializerByName("xml")
	assert.Error(t, err)
}
