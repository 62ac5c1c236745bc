package connection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/netcomms/packet"
)

func TestConfigRejectedAtConstruction(t *testing.T) {
	tests := []struct {
		name    string
		kind    TransportKind
		cfg     Config
		wantErr error
	}{
		{
			name:    "disabled protocol with datagram handshake",
			kind:    Datagram,
			cfg:     Config{Protocol: ProtocolDisabled, DatagramOptions: DatagramHandshake},
			wantErr: ErrInvalidConfiguration,
		},
		{
			name:    "datagram options on a stream transport",
			kind:    Stream,
			cfg:     Config{DatagramOptions: DatagramHandshake},
			wantErr: ErrInvalidConfiguration,
		},
		{
			name:    "disabled protocol with serializing options",
			kind:    Stream,
			cfg:     Config{Protocol: ProtocolDisabled, Options: packet.DefaultOptions()},
			wantErr: ErrInvalidConfiguration,
		},
		{
			name:    "options without serializer",
			kind:    Stream,
			cfg:     Config{Options: &packet.Options{}},
			wantErr: ErrInvalidConfiguration,
		},
		{
			name:    "unknown datagram options",
			kind:    Datagram,
			cfg:     Config{DatagramOptions: DatagramOptions(7)},
			wantErr: ErrInvalidConfiguration,
		},
		{
			name:    "unknown transport kind",
			kind:    TransportKind(42),
			wantErr: ErrInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewListener(tt.kind, &ListenerConfig{Config: tt.cfg})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, l)

			c, err := Dial(context.Background(), tt.kind, loopbackTCP, &DialConfig{Config: tt.cfg})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, c)
		})
	}
}

func TestDiscoverableRequiresDiscoverer(t *testing.T) {
	_, err := NewListener(Stream, &ListenerConfig{AllowDiscoverable: true})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestConfigDefaults(t *testing.T) {
	t.Run("enabled protocol", func(t *testing.T) {
		cfg, err := Config{}.normalize(Stream)
		require.NoError(t, err)
		assert.Equal(t, "cbor", cfg.Options.String())
		assert.Equal(t, DefaultHandshakeTimeout, cfg.HandshakeTimeout)
		assert.NotNil(t, cfg.Handshaker)
		assert.NotNil(t, cfg.Logger)
		assert.NotNil(t, cfg.TimeProvider)
		assert.IsType(t, packet.Managed{}, cfg.framer())
		assert.True(t, cfg.handshakeRequired(Stream))
		assert.False(t, cfg.handshakeRequired(Datagram))
	})

	t.Run("disabled protocol", func(t *testing.T) {
		cfg, err := Config{Protocol: ProtocolDisabled, HandshakeTimeout: time.Second}.normalize(Datagram)
		require.NoError(t, err)
		assert.True(t, cfg.Options.IsRaw())
		assert.Equal(t, time.Second, cfg.HandshakeTimeout)
		assert.IsType(t, packet.Unmanaged{}, cfg.framer())
		assert.False(t, cfg.handshakeRequired(Stream))
	})

	t.Run("datagram handshake", func(t *testing.T) {
		cfg, err := Config{DatagramOptions: DatagramHandshake}.normalize(Datagram)
		require.NoError(t, err)
		assert.True(t, cfg.handshakeRequired(Datagram))
	})
}
