// Package packet implements the framing and serialization collaborator used by
// netcomms connections.
//
// A Packet is a typed header plus a payload. Payload values are turned into
// bytes by a Serializer (CBOR or Null) and then passed through an ordered chain
// of DataProcessors (Zstd compression, ChaChaPoly pre-shared-key encryption).
// The Options value bundling both is what a connection calls its send/receive
// options; both peers must agree on it.
//
// Framers put packets on the wire:
//
//	frame, err := packet.Managed{}.Encode(p, opts)
//	p, n, err := packet.Managed{}.Decode(buf, opts)
//	if errors.Is(err, packet.ErrNeedMoreData) {
//	    // read more bytes and retry
//	}
//
// Managed frames are [header length (4 bytes)][CBOR header][payload] and are
// self-delimiting, so stream transports may deliver them in arbitrary chunks.
// The Unmanaged framer is raw passthrough for connections whose
// application-layer protocol is disabled.
package packet
