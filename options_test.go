package netcomms

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/netcomms/connection"
)

func TestNewOptionsDefaults(t *testing.T) {
	opts := NewOptions()
	require.NoError(t, opts.Validate())

	assert.True(t, opts.ApplicationLayerProtocol)
	assert.True(t, opts.AllowPortFailover)
	assert.Equal(t, "cbor", opts.Serializer)
	assert.Equal(t, connection.DefaultHandshakeTimeout, opts.HandshakeTimeout)
	assert.Equal(t, connection.ProtocolEnabled, opts.protocol())

	sro, err := opts.sendReceiveOptions()
	require.NoError(t, err)
	assert.Equal(t, "cbor", sro.String())
}

func TestLoadOptions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "netcomms.yaml")
	data := []byte(`
serializer: cbor
compress: true
pre_shared_key: s3cret
datagram_handshake: true
allow_port_failover: false
handshake_timeout: 3s
log_level: debug
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	opts, err := LoadOptions(path)
	require.NoError(t, err)

	assert.True(t, opts.ApplicationLayerProtocol, "unset keys keep their defaults")
	assert.True(t, opts.Compress)
	assert.False(t, opts.AllowPortFailover)
	assert.Equal(t, 3*time.Second, opts.HandshakeTimeout)
	assert.Equal(t, connection.DatagramHandshake, opts.datagramOptions(connection.Datagram))
	assert.Equal(t, connection.DatagramNone, opts.datagramOptions(connection.Stream))

	sro, err := opts.sendReceiveOptions()
	require.NoError(t, err)
	assert.Equal(t, "cbor+zstd+chachapoly", sro.String())
}

func TestLoadOptionsErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadOptions(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("serializer: [unclosed"), 0o600))
	_, err = LoadOptions(bad)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("serializer: msgpack\n"), 0o600))
	_, err = LoadOptions(invalid)
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"unknown serializer", func(o *Options) { o.Serializer = "gob" }},
		{"negative handshake timeout", func(o *Options) { o.HandshakeTimeout = -time.Second }},
		{"negative discovery ttl", func(o *Options) { o.DiscoveryTTL = -time.Second }},
		{"bad log level", func(o *Options) { o.LogLevel = "loud" }},
		{"datagram handshake without protocol", func(o *Options) {
			o.ApplicationLayerProtocol = false
			o.DatagramHandshake = true
		}},
		{"compression without protocol", func(o *Options) {
			o.ApplicationLayerProtocol = false
			o.Compress = true
		}},
		{"encryption without protocol", func(o *Options) {
			o.ApplicationLayerProtocol = false
			o.PreSharedKey = "k"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := NewOptions()
			tt.modify(opts)
			assert.ErrorIs(t, opts.Validate(), ErrInvalidOptions)
		})
	}
}

func TestRawOptionsWhenProtocolDisabled(t *testing.T) {
	opts := NewOptions()
	opts.ApplicationLayerProtocol = false
	require.NoError(t, opts.Validate())

	sro, err := opts.sendReceiveOptions()
	require.NoError(t, err)
	assert.True(t, sro.IsRaw())
	assert.Equal(t, connection.ProtocolDisabled, opts.protocol())
}
