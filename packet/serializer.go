package packet

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Serializer identifiers carried in packet headers.
const (
	SerializerNull byte = 0
	SerializerCBOR byte = 1
)

// ErrUnsupportedValue indicates the null serializer was given something other than bytes
var ErrUnsupportedValue = errors.New("null serializer only handles []byte and string values")

// Serializer turns payload values into bytes and back.
type Serializer interface {
	ID() byte
	Name() string
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// CBOR serializes payloads with github.com/fxamacker/cbor/v2.
type CBOR struct{}

// ID returns SerializerCBOR.
func (CBOR) ID() byte { return SerializerCBOR }

// Name returns "cbor".
func (CBOR) Name() string { return "cbor" }

// Marshal encodes v as CBOR.
func (CBOR) Marshal(v interface{}) ([]byte, error) {
	return cbor.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func (CBOR) Unmarshal(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}

// Null passes bytes through unchanged.
type Null struct{}

// ID returns SerializerNull.
func (Null) ID() byte { return SerializerNull }

// Name returns "null".
func (Null) Name() string { return "null" }

// Marshal accepts []byte, string or nil.
func (Null) Marshal(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte{}, nil
	case []byte:
		out := make([]byte, len(val))
		copy(out, val)
		return out, nil
	case string:
		return []byte(val), nil
	default:
		return nil, fmt.Errorf("%w: got %T", ErrUnsupportedValue, v)
	}
}

// Unmarshal accepts *[]byte or *string.
func (Null) Unmarshal(data []byte, v interface{}) error {
	switch out := v.(type) {
	case *[]byte:
		*out = make([]byte, len(data))
		copy(*out, data)
		return nil
	case *string:
		*out = string(data)
		return nil
	default:
		return fmt.Errorf("%w: got %T", ErrUnsupportedValue, v)
	}
}

// SerializerByName resolves a configured serializer name.
func SerializerByName(name string) (Serializer, error) {
	switch name {
	case "", "cbor":
		return CBOR{}, nil
	case "null", "raw":
		return Null{}, nil
	default:
		return nil, fmt.Errorf("unknown serializer %q", name)
	}
}
