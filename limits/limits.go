// Package limits provides centralized size limits for netcomms frames.
// This ensures consistent validation across the framing codec and the transport bindings.
package limits

import (
	"errors"
	"fmt"
	"time"
)

const (
	// MaxDatagramPayload is the largest payload a single UDP datagram can carry over IPv4
	// (65535 - 8 byte UDP header - 20 byte IP header).
	MaxDatagramPayload = 65507

	// MaxHeaderSize bounds the encoded packet header. Headers larger than this are
	// treated as corrupt input rather than buffered.
	MaxHeaderSize = 64 * 1024

	// MaxFrameSize is the absolute maximum for one encoded frame (header and payload).
	// This prevents a peer from forcing unbounded buffering on stream connections.
	MaxFrameSize = 16 * 1024 * 1024

	// StreamReadBufferSize is the chunk size used by stream receive loops.
	StreamReadBufferSize = 32 * 1024

	// DispatchQueueSize is the number of decoded packets a connection buffers
	// ahead of its handlers.
	DispatchQueueSize = 256

	// MaxDatagramPeers bounds the routing table of one datagram listener.
	MaxDatagramPeers = 4096

	// DatagramPeerIdleTimeout is how long a datagram peer must be silent before
	// its route can be evicted to make room for a new peer.
	DatagramPeerIdleTimeout = 2 * time.Minute
)

var (
	// ErrFrameEmpty indicates an empty frame was provided
	ErrFrameEmpty = errors.New("empty frame")

	// ErrFrameTooLarge indicates a frame exceeds its maximum size
	ErrFrameTooLarge = errors.New("frame too large")
)

// ValidateSize validates data against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateSize(data []byte, maxSize int) error {
	if len(data) == 0 {
		return ErrFrameEmpty
	}
	if len(data) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrFrameTooLarge, len(data), maxSize)
	}
	return nil
}

// ValidateDatagram validates an encoded frame against MaxDatagramPayload.
// Returns an error with context if the frame is empty or exceeds the limit.
func ValidateDatagram(frame []byte) error {
	if len(frame) == 0 {
		return ErrFrameEmpty
	}
	if len(frame) > MaxDatagramPayload {
		return fmt.Errorf("%w: datagram size %d exceeds limit %d", ErrFrameTooLarge, len(frame), MaxDatagramPayload)
	}
	return nil
}

// ValidateFrameLength checks a frame length announced by a peer before any buffer is allocated.
func ValidateFrameLength(length int) error {
	if length < 0 || length > MaxFrameSize {
		return fmt.Errorf("%w: announced size %d exceeds limit %d", ErrFrameTooLarge, length, MaxFrameSize)
	}
	return nil
}

// ValidateHeaderLength checks an announced header length against MaxHeaderSize.
func ValidateHeaderLength(length int) error {
	if length <= 0 {
		return fmt.Errorf("%w: header length %d", ErrFrameEmpty, length)
	}
	if length > MaxHeaderSize {
		return fmt.Errorf("%w: header size %d exceeds limit %d", ErrFrameTooLarge, length, MaxHeaderSize)
	}
	return nil
}
