package packet

import (
	"errors"
	"fmt"
)

// Reserved packet types. Application packet types are free-form strings.
const (
	// TypeUnmanaged is the type of every packet on a connection whose
	// application-layer protocol is disabled.
	TypeUnmanaged = "Unmanaged"

	// TypeConnectionSetup carries the peer-info handshake.
	TypeConnectionSetup = "ConnectionSetup"
)

var (
	// ErrEmptyPacketType indicates a packet was created without a type
	ErrEmptyPacketType = errors.New("packet type is empty")

	// ErrOptionsMismatch indicates a packet was produced with a different
	// serializer or processor chain than the receiving options
	ErrOptionsMismatch = errors.New("packet options do not match")
)

// Header describes a framed packet. It travels CBOR-encoded ahead of the payload.
type Header struct {
	Type        string `cbor:"1,keyasint"`
	PayloadSize uint32 `cbor:"2,keyasint"`
	Serializer  byte   `cbor:"3,keyasint,omitempty"`
	Processors  []byte `cbor:"4,keyasint,omitempty"`
	Sequence    uint64 `cbor:"5,keyasint,omitempty"`
}

// Packet is one logical message: a header and its serialized, processed payload.
type Packet struct {
	Header  Header
	Payload []byte

	opts *Options
}

// NewPacket serializes v with the options' serializer, runs the data processors
// in order and returns the resulting packet.
func NewPacket(packetType string, v interface{}, opts *Options) (*Packet, error) {
	if packetType == "" {
		return nil, ErrEmptyPacketType
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	data, err := opts.Serializer.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serialize %s payload: %w", packetType, err)
	}

	for _, p := range opts.Processors {
		data, err = p.Process(data)
		if err != nil {
			return nil, fmt.Errorf("process payload with %s: %w", p.Name(), err)
		}
	}
	if data == nil {
		data = []byte{}
	}

	return &Packet{
		Header: Header{
			Type:        packetType,
			PayloadSize: uint32(len(data)),
			Serializer:  opts.Serializer.ID(),
			Processors:  opts.processorIDs(),
		},
		Payload: data,
		opts:    opts,
	}, nil
}

// Type returns the packet type.
func (p *Packet) Type() string {
	return p.Header.Type
}

// Options returns the send/receive options the packet was built or decoded with.
func (p *Packet) Options() *Options {
	if p.opts == nil {
		return DefaultOptions()
	}
	return p.opts
}

// Unmarshal reverses the processor chain and deserializes the payload into v.
func (p *Packet) Unmarshal(v interface{}) error {
	opts := p.Options()
	if err := opts.matches(p.Header); err != nil {
		return err
	}

	data := p.Payload
	var err error
	for i := len(opts.Processors) - 1; i >= 0; i-- {
		proc := opts.Processors[i]
		data, err = proc.Unprocess(data)
		if err != nil {
			return fmt.Errorf("unprocess payload with %s: %w", proc.Name(), err)
		}
	}

	if err := opts.Serializer.Unmarshal(data, v); err != nil {
		return fmt.Errorf("deserialize %s payload: %w", p.Header.Type, err)
	}
	return nil
}

// WithOptions returns a copy of p bound to opts. Payload bytes are shared.
func (p *Packet) WithOptions(opts *Options) *Packet {
	cp := *p
	cp.opts = opts
	return &cp
}
