package auth

// TOKEN SEALING:
// The identity record caches the user's GitHub OAuth token so API calls can be
// made on their behalf. That token is a live credential with the "repo" scope,
// so it is encrypted before it reaches the store.
//
// Format of a sealed value:
//
//	v1:<base64(nonce || ciphertext || tag)>
//
// XChaCha20-Poly1305 takes a 24-byte random nonce, large enough that random
// nonces never collide in practice. The 32-byte key is derived from the
// configured secret with HKDF-SHA256, so any sufficiently long string works.

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const sealPrefix = "v1:"

// hkdfInfo binds derived keys to this purpose.
var hkdfInfo = []byte("repo-insights identity token v1")

// ErrUnsealable is returned when a sealed value fails authentication.
var ErrUnsealable = errors.New("auth: sealed value cannot be opened")

// Sealer encrypts and decrypts the cached GitHub token.
// It satisfies repository.TokenCodec.
type Sealer struct {
	aead interface {
		NonceSize() int
		Overhead() int
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// NewSealer derives an XChaCha20-Poly1305 key from secret.
func NewSealer(secret string) (*Sealer, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: seal key must be at least 16 characters")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("auth: deriving seal key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("auth: creating cipher: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext. The empty string stays empty so "no token" is
// distinguishable without decrypting.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("auth: generating nonce: %w", err)
	}

	out := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal. Values without the v1 prefix were
// written before sealing was enabled and are returned unchanged.
func (s *Sealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	encoded, ok := strings.CutPrefix(sealed, sealPrefix)
	if !ok {
		return sealed, nil
	}

	raw, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnsealable, err)
	}
	if len(raw) < s.aead.NonceSize()+s.aead.Overhead() {
		return "", fmt.Errorf("%w: value too short", ErrUnsealable)
	}

	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrUnsealable
	}
	return string(plaintext), nil
}

// PlaintextCodec stores the token as is. Used when no seal key is configured.
type PlaintextCodec struct{}

func (PlaintextCodec) Seal(plaintext string) (string, error) { return plaintext, nil }
func (PlaintextCodec) Open(sealed string) (string, error)    { return sealed, nil }
