package packet

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/opd-ai/netcomms/limits"
)

const headerLengthPrefix = 4

var (
	// ErrNeedMoreData indicates the buffer holds only part of a frame
	ErrNeedMoreData = errors.New("need more data")

	// ErrCorruptFrame indicates a frame that can never be decoded
	ErrCorruptFrame = errors.New("corrupt frame")

	// ErrUnmanagedType indicates a typed packet was sent on an unmanaged connection
	ErrUnmanagedType = errors.New("unmanaged connections only carry Unmanaged packets")
)

// Framer turns packets into transport bytes and back.
//
// Decode returns the packet and the number of bytes it consumed. When buf holds
// only part of a frame it returns ErrNeedMoreData and the caller must retry
// with more bytes appended.
type Framer interface {
	Encode(p *Packet, opts *Options) ([]byte, error)
	Decode(buf []byte, opts *Options) (*Packet, int, error)
}

// Managed is the application-layer framing:
// [header length (4 bytes, big endian)][CBOR header][payload].
type Managed struct{}

// Encode frames p.
func (Managed) Encode(p *Packet, opts *Options) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil packet", ErrCorruptFrame)
	}
	if p.Header.Type == "" {
		return nil, ErrEmptyPacketType
	}

	h := p.Header
	h.PayloadSize = uint32(len(p.Payload))

	hdr, err := cbor.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	if err := limits.ValidateHeaderLength(len(hdr)); err != nil {
		return nil, err
	}

	total := headerLengthPrefix + len(hdr) + len(p.Payload)
	if err := limits.ValidateFrameLength(total); err != nil {
		return nil, err
	}

	frame := make([]byte, total)
	binary.BigEndian.PutUint32(frame[:headerLengthPrefix], uint32(len(hdr)))
	copy(frame[headerLengthPrefix:], hdr)
	copy(frame[headerLengthPrefix+len(hdr):], p.Payload)
	return frame, nil
}

// Decode extracts the first frame in buf.
func (Managed) Decode(buf []byte, opts *Options) (*Packet, int, error) {
	if len(buf) < headerLengthPrefix {
		return nil, 0, ErrNeedMoreData
	}

	hlen := int(binary.BigEndian.Uint32(buf[:headerLengthPrefix]))
	if err := limits.ValidateHeaderLength(hlen); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
	}
	if len(buf) < headerLengthPrefix+hlen {
		return nil, 0, ErrNeedMoreData
	}

	var h Header
	if err := cbor.Unmarshal(buf[headerLengthPrefix:headerLengthPrefix+hlen], &h); err != nil {
		return nil, 0, fmt.Errorf("%w: header: %v", ErrCorruptFrame, err)
	}
	if h.Type == "" {
		return nil, 0, fmt.Errorf("%w: %v", ErrCorruptFrame, ErrEmptyPacketType)
	}

	size := int(h.PayloadSize)
	if err := limits.ValidateFrameLength(headerLengthPrefix + hlen + size); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
	}
	end := headerLengthPrefix + hlen + size
	if len(buf) < end {
		return nil, 0, ErrNeedMoreData
	}

	payload := make([]byte, size)
	copy(payload, buf[headerLengthPrefix+hlen:end])

	return &Packet{Header: h, Payload: payload, opts: opts}, end, nil
}

// Unmanaged is raw passthrough framing used when the application-layer
// protocol is disabled. Every chunk handed to Decode becomes one packet.
type Unmanaged struct{}

// Encode returns the raw payload.
func (Unmanaged) Encode(p *Packet, opts *Options) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil packet", ErrCorruptFrame)
	}
	if p.Header.Type != TypeUnmanaged {
		return nil, fmt.Errorf("%w: got %q", ErrUnmanagedType, p.Header.Type)
	}
	out := make([]byte, len(p.Payload))
	copy(out, p.Payload)
	return out, nil
}

// Decode wraps all of buf in an Unmanaged packet.
func (Unmanaged) Decode(buf []byte, opts *Options) (*Packet, int, error) {
	if len(buf) == 0 {
		return nil, 0, ErrNeedMoreData
	}
	payload := make([]byte, len(buf))
	copy(payload, buf)
	return &Packet{
		Header: Header{
			Type:        TypeUnmanaged,
			PayloadSize: uint32(len(buf)),
		},
		Payload: payload,
		opts:    opts,
	}, len(buf), nil
}
