package packet

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/flynn/noise"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/hkdf"

	"github.com/opd-ai/netcomms/limits"
)

// Data processor identifiers carried in packet headers.
const (
	ProcessorZstd       byte = 1
	ProcessorChaChaPoly byte = 2
)

const (
	nonceSize = 8
	tagSize   = 16
	pskSalt   = "netcomms-psk-v1"
)

var (
	// ErrCiphertextTooShort indicates an encrypted payload is truncated
	ErrCiphertextTooShort = errors.New("ciphertext too short")

	// ErrEmptyPassphrase indicates a pre-shared key processor was given no passphrase
	ErrEmptyPassphrase = errors.New("pre-shared passphrase is empty")
)

// DataProcessor transforms serialized payload bytes, e.g. compression or encryption.
// Processors run in order on send and in reverse order on receive.
type DataProcessor interface {
	ID() byte
	Name() string
	Process(data []byte) ([]byte, error)
	Unprocess(data []byte) ([]byte, error)
}

// Zstd compresses payloads with github.com/klauspost/compress/zstd.
// A single instance is safe for concurrent use.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstd creates a zstd processor.
func NewZstd() (*Zstd, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("zstd.NewWriter: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(limits.MaxFrameSize))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd.NewReader: %w", err)
	}
	return &Zstd{enc: enc, dec: dec}, nil
}

// ID returns ProcessorZstd.
func (z *Zstd) ID() byte { return ProcessorZstd }

// Name returns "zstd".
func (z *Zstd) Name() string { return "zstd" }

// Process compresses data.
func (z *Zstd) Process(data []byte) ([]byte, error) {
	return z.enc.EncodeAll(data, nil), nil
}

// Unprocess decompresses data.
func (z *Zstd) Unprocess(data []byte) ([]byte, error) {
	return z.dec.DecodeAll(data, nil)
}

// ChaChaPoly encrypts payloads with ChaCha20-Poly1305 under a key derived from a
// pre-shared passphrase. Each payload carries a random 8-byte nonce prefix.
type ChaChaPoly struct {
	cipher noise.Cipher
}

// NewChaChaPoly derives a key from passphrase with HKDF-SHA256 and returns the processor.
func NewChaChaPoly(passphrase []byte) (*ChaChaPoly, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}

	var key [32]byte
	kdf := hkdf.New(sha256.New, passphrase, []byte(pskSalt), []byte("payload"))
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	return &ChaChaPoly{cipher: noise.CipherChaChaPoly.Cipher(key)}, nil
}

// ID returns ProcessorChaChaPoly.
func (c *ChaChaPoly) ID() byte { return ProcessorChaChaPoly }

// Name returns "chachapoly".
func (c *ChaChaPoly) Name() string { return "chachapoly" }

// Process seals data. Output: [nonce (8 bytes)][ciphertext+tag].
func (c *ChaChaPoly) Process(data []byte) ([]byte, error) {
	var nb [nonceSize]byte
	if _, err := rand.Read(nb[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	n := binary.BigEndian.Uint64(nb[:])

	out := make([]byte, nonceSize, nonceSize+len(data)+tagSize)
	copy(out, nb[:])
	return c.cipher.Encrypt(out, n, nil, data), nil
}

// Unprocess opens data produced by Process.
func (c *ChaChaPoly) Unprocess(data []byte) ([]byte, error) {
	if len(data) < nonceSize+tagSize {
		return nil, ErrCiphertextTooShort
	}
	n := binary.BigEndian.Uint64(data[:nonceSize])
	return c.cipher.Decrypt(nil, n, nil, data[nonceSize:])
}
