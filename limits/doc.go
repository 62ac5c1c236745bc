// Package limits provides centralized size constants and validation functions
// for netcomms frames.
//
// # Size Hierarchy
//
//   - MaxDatagramPayload (65507 bytes): the largest frame a datagram connection
//     can send in one UDP datagram. Datagram frames must be self-contained.
//
//   - MaxHeaderSize (64 KiB): the largest encoded packet header accepted from a peer.
//
//   - MaxFrameSize (16 MiB): the absolute maximum for one frame on any transport.
//     Stream connections reject announced lengths above it before buffering.
//
// # Validation Functions
//
//	if err := limits.ValidateDatagram(frame); err != nil {
//	    // ErrFrameEmpty or ErrFrameTooLarge
//	}
//
// For custom size limits, use the generic ValidateSize function:
//
//	err := limits.ValidateSize(data, 4096)
package limits
