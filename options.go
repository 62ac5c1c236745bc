package netcomms

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/netcomms/connection"
	"github.com/opd-ai/netcomms/packet"
)

// ErrInvalidOptions indicates options that cannot be used together
var ErrInvalidOptions = errors.New("invalid options")

// Options contains the configuration of a Comms instance.
type Options struct {
	// ApplicationLayerProtocol enables managed framing and the peer-info handshake.
	ApplicationLayerProtocol bool `yaml:"application_layer_protocol"`
	// DatagramHandshake runs the handshake on datagram connections too.
	DatagramHandshake bool `yaml:"datagram_handshake"`
	// Serializer is "cbor" or "null".
	Serializer string `yaml:"serializer"`
	// Compress adds zstd compression to every payload.
	Compress bool `yaml:"compress"`
	// PreSharedKey encrypts every payload with a key derived from it.
	PreSharedKey string `yaml:"pre_shared_key"`

	AllowDiscoverable bool          `yaml:"allow_discoverable"`
	AllowPortFailover bool          `yaml:"allow_port_failover"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	DiscoveryTTL      time.Duration `yaml:"discovery_ttl"`

	// Identifier is announced to peers. Empty selects a random UUID.
	Identifier string `yaml:"identifier"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// NewOptions returns the default options.
func NewOptions() *Options {
	return &Options{
		ApplicationLayerProtocol: true,
		DatagramHandshake:        false,
		Serializer:               "cbor",
		AllowDiscoverable:        false,
		AllowPortFailover:        true,
		HandshakeTimeout:         connection.DefaultHandshakeTimeout,
		DiscoveryTTL:             5 * time.Minute,
		LogLevel:                 "info",
	}
}

// LoadOptions reads YAML options from path on top of the defaults.
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read options %s: %w", path, err)
	}

	opts := NewOptions()
	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("parse options %s: %w", path, err)
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("options %s: %w", path, err)
	}
	return opts, nil
}

// Validate checks that the options are consistent.
func (o *Options) Validate() error {
	if _, err := packet.SerializerByName(o.Serializer); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if o.HandshakeTimeout < 0 {
		return fmt.Errorf("%w: negative handshake timeout %s", ErrInvalidOptions, o.HandshakeTimeout)
	}
	if o.DiscoveryTTL < 0 {
		return fmt.Errorf("%w: negative discovery ttl %s", ErrInvalidOptions, o.DiscoveryTTL)
	}
	if o.LogLevel != "" {
		if _, err := logrus.ParseLevel(strings.ToLower(o.LogLevel)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
		}
	}

	if !o.ApplicationLayerProtocol {
		switch {
		case o.DatagramHandshake:
			return fmt.Errorf("%w: datagram handshake requires the application layer protocol", ErrInvalidOptions)
		case o.Compress, o.PreSharedKey != "":
			return fmt.Errorf("%w: data processors require the application layer protocol", ErrInvalidOptions)
		}
	}
	return nil
}

// protocol returns the application-layer protocol status.
func (o *Options) protocol() connection.ApplicationLayerProtocol {
	if o.ApplicationLayerProtocol {
		return connection.ProtocolEnabled
	}
	return connection.ProtocolDisabled
}

// sendReceiveOptions builds the packet options: serializer first, then
// compression, then encryption.
func (o *Options) sendReceiveOptions() (*packet.Options, error) {
	if !o.ApplicationLayerProtocol {
		return packet.RawOptions(), nil
	}

	ser, err := packet.SerializerByName(o.Serializer)
	if err != nil {
		return nil, err
	}
	opts := &packet.Options{Serializer: ser}

	if o.Compress {
		z, err := packet.NewZstd()
		if err != nil {
			return nil, fmt.Errorf("create zstd processor: %w", err)
		}
		opts.Processors = append(opts.Processors, z)
	}
	if o.PreSharedKey != "" {
		aead, err := packet.NewChaChaPoly([]byte(o.PreSharedKey))
		if err != nil {
			return nil, fmt.Errorf("create encryption processor: %w", err)
		}
		opts.Processors = append(opts.Processors, aead)
	}
	return opts, nil
}

// datagramOptions returns the datagram transport options.
func (o *Options) datagramOptions(kind connection.TransportKind) connection.DatagramOptions {
	if kind == connection.Datagram && o.DatagramHandshake {
		return connection.DatagramHandshake
	}
	return connection.DatagramNone
}
