package packet

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrNilSerializer indicates options were used without a serializer
var ErrNilSerializer = errors.New("send/receive options have no serializer")

// Options are the send/receive options bound to a connection: how payloads are
// serialized and which data processors (compression, encryption) they pass through.
// Both peers must use equivalent options.
type Options struct {
	Serializer Serializer
	Processors []DataProcessor
}

// DefaultOptions returns CBOR serialization with no data processors.
func DefaultOptions() *Options {
	return &Options{Serializer: CBOR{}}
}

// RawOptions returns the passthrough options used by connections whose
// application-layer protocol is disabled.
func RawOptions() *Options {
	return &Options{Serializer: Null{}}
}

// Validate checks the options are usable.
func (o *Options) Validate() error {
	if o == nil || o.Serializer == nil {
		return ErrNilSerializer
	}
	for i, p := range o.Processors {
		if p == nil {
			return fmt.Errorf("data processor %d is nil", i)
		}
	}
	return nil
}

// IsRaw reports whether the options are plain passthrough: the null
// serializer and no data processors.
func (o *Options) IsRaw() bool {
	if o == nil {
		return false
	}
	_, isNull := o.Serializer.(Null)
	return isNull && len(o.Processors) == 0
}

// String describes the options for logs.
func (o *Options) String() string {
	if o == nil || o.Serializer == nil {
		return "<nil>"
	}
	s := o.Serializer.Name()
	for _, p := range o.Processors {
		s += "+" + p.Name()
	}
	return s
}

func (o *Options) processorIDs() []byte {
	if len(o.Processors) == 0 {
		return nil
	}
	ids := make([]byte, len(o.Processors))
	for i, p := range o.Processors {
		ids[i] = p.ID()
	}
	return ids
}

// matches verifies a received header was produced with equivalent options.
func (o *Options) matches(h Header) error {
	if h.Serializer != o.Serializer.ID() {
		return fmt.Errorf("%w: serializer %d, expected %d", ErrOptionsMismatch, h.Serializer, o.Serializer.ID())
	}
	if !bytes.Equal(h.Processors, o.processorIDs()) {
		return fmt.Errorf("%w: processors %v, expected %v", ErrOptionsMismatch, h.Processors, o.processorIDs())
	}
	return nil
}
