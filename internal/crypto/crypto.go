package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
	"lukechampine.com/blake3"
)

const (
	DomainString = "pictdb.catalog.v1" // fixed application domain, mixed into all derivations
	Marker       = "PICTDB"            // document envelope marker

	KeystreamSize = 64   // keystream material length in bytes
	KeystreamIter = 4096 // PBKDF2 iterations for keystream material
	FlagSize      = 8    // BLAKE3 digest bytes used for the validation flag

	rotGroup = 8 // envelope rotation group size
	rotShift = 3 // bytes rotated left within each group

	SealedKeySize   = 32     // AES-256 key size
	SealedNonceSize = 12     // GCM nonce size
	SealedTagSize   = 16     // GCM authentication tag size
	SealedIters     = 210000 // PBKDF2 iterations for the sealed codec key
)

// ErrDecode is the single failure reported for an undecodable document or
// payload. Wrong key and corrupted bytes are indistinguishable.
var ErrDecode = errors.New("decode failed")

// Codec seals and opens the catalog document and payload blobs. Documents
// carry a validation envelope; payloads are raw transformed bytes.
type Codec interface {
	SealDocument(plain []byte) ([]byte, error)
	OpenDocument(sealed []byte) ([]byte, error)
	SealPayload(plain []byte) ([]byte, error)
	OpenPayload(sealed []byte) ([]byte, error)
}

// deriveKeystream derives keystream-password material from a passphrase,
// salted with the fixed domain string.
func deriveKeystream(passphrase string) []byte {
	return pbkdf2.Key([]byte(passphrase), []byte(DomainString), KeystreamIter, KeystreamSize, sha256.New)
}

// deriveFlag derives the short validation flag through an independent hash
// function so the flag leaks nothing about the keystream.
func deriveFlag(passphrase string) string {
	sum := blake3.Sum256([]byte(DomainString + ":" + passphrase))
	return hex.EncodeToString(sum[:FlagSize])
}

// StreamCodec is the legacy storage codec: an 8-byte group rotation followed
// by a repeating-keystream XOR. It hides content from casual inspection but
// provides no integrity; silent corruption decodes to altered plaintext.
type StreamCodec struct {
	passphrase string
	payloadKey []byte // derived once; payload chunks reuse it
}

// NewStreamCodec creates a stream codec for the given passphrase.
func NewStreamCodec(passphrase string) *StreamCodec {
	return &StreamCodec{
		passphrase: passphrase,
		payloadKey: deriveKeystream(passphrase),
	}
}

// SealDocument wraps the document in the marker:flag envelope, rotates it and
// XORs it against the keystream. Output length equals envelope length.
// Key material is derived fresh on every call.
func (c *StreamCodec) SealDocument(plain []byte) ([]byte, error) {
	key := deriveKeystream(c.passphrase)
	flag := deriveFlag(c.passphrase)

	env := make([]byte, 0, len(Marker)+1+len(flag)+1+len(plain))
	env = append(env, Marker...)
	env = append(env, ':')
	env = append(env, flag...)
	env = append(env, ':')
	env = append(env, plain...)

	rotateGroups(env, rotShift)
	xorKeystream(env, key)
	return env, nil
}

// OpenDocument reverses SealDocument and validates the envelope prefix.
// Any mismatch is reported as ErrDecode.
func (c *StreamCodec) OpenDocument(sealed []byte) ([]byte, error) {
	key := deriveKeystream(c.passphrase)
	flag := deriveFlag(c.passphrase)

	buf := append([]byte(nil), sealed...)
	xorKeystream(buf, key)
	rotateGroups(buf, rotGroup-rotShift)

	prefix := []byte(Marker + ":" + flag + ":")
	if !bytes.HasPrefix(buf, prefix) {
		return nil, ErrDecode
	}
	return buf[len(prefix):], nil
}

// SealPayload applies only the repeating-keystream XOR, with no envelope or
// rotation. The keystream derived at construction is reused so per-chunk
// calls skip the derivation cost.
func (c *StreamCodec) SealPayload(plain []byte) ([]byte, error) {
	out := append([]byte(nil), plain...)
	xorKeystream(out, c.payloadKey)
	return out, nil
}

// OpenPayload reverses SealPayload. The XOR is its own inverse; a wrong key
// yields garbage bytes rather than an error.
func (c *StreamCodec) OpenPayload(sealed []byte) ([]byte, error) {
	return c.SealPayload(sealed)
}

// rotateGroups rotates each complete rotGroup-byte group left by shift.
// A trailing partial group is left in place.
func rotateGroups(b []byte, shift int) {
	var tmp [rotGroup]byte
	for off := 0; off+rotGroup <= len(b); off += rotGroup {
		g := b[off : off+rotGroup]
		for i := range tmp {
			tmp[i] = g[(i+shift)%rotGroup]
		}
		copy(g, tmp[:])
	}
}

// xorKeystream XORs b in place against key repeated cyclically.
func xorKeystream(b, key []byte) {
	for i := range b {
		b[i] ^= key[i%len(key)]
	}
}

// SealedCodec is the authenticated alternative: AES-256-GCM with a PBKDF2
// key. Folders written with it cannot be opened by the stream codec and
// vice versa. The key is derived deterministically from the passphrase and
// the domain string; there is no per-folder salt, so identical passphrases
// yield identical keys across folders.
type SealedCodec struct {
	key []byte
}

// NewSealedCodec creates a sealed codec for the given passphrase.
func NewSealedCodec(passphrase string) *SealedCodec {
	key := pbkdf2.Key([]byte(passphrase), []byte(DomainString+".sealed"), SealedIters, SealedKeySize, sha256.New)
	return &SealedCodec{key: key}
}

func (c *SealedCodec) seal(plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, SealedNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plain, nil)

	result := make([]byte, SealedNonceSize+len(ciphertext))
	copy(result, nonce)
	copy(result[SealedNonceSize:], ciphertext)
	return result, nil
}

func (c *SealedCodec) open(sealed []byte) ([]byte, error) {
	if len(sealed) < SealedNonceSize+SealedTagSize {
		return nil, ErrDecode
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plain, err := gcm.Open(nil, sealed[:SealedNonceSize], sealed[SealedNonceSize:], nil)
	if err != nil {
		return nil, ErrDecode
	}
	return plain, nil
}

// SealDocument encrypts and authenticates the document.
func (c *SealedCodec) SealDocument(plain []byte) ([]byte, error) { return c.seal(plain) }

// OpenDocument decrypts the document. Wrong key and tampering both surface
// as ErrDecode.
func (c *SealedCodec) OpenDocument(sealed []byte) ([]byte, error) { return c.open(sealed) }

// SealPayload encrypts and authenticates a payload blob.
func (c *SealedCodec) SealPayload(plain []byte) ([]byte, error) { return c.seal(plain) }

// OpenPayload decrypts a payload blob.
func (c *SealedCodec) OpenPayload(sealed []byte) ([]byte, error) { return c.open(sealed) }

// ClearBytes securely clears a byte slice.
func ClearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
