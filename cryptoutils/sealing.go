package cryptoutils

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	sealVersion byte = 1
	saltSize         = 16
	keySize          = chacha20poly1305.KeySize
)

var (
	// ErrSealedTooShort is returned when a blob cannot contain the header.
	ErrSealedTooShort = errors.New("sealed data too short")
	// ErrSealedVersion is returned for blobs written by an unknown format.
	ErrSealedVersion = errors.New("unsupported sealed data version")
)

// DeriveSealingKey creates a deterministic 32 byte key from secret material
// and a salt using Argon2id.
//
// Parameters:
//   - secret: key material, for example the device fingerprint
//   - salt: random per-blob salt stored alongside the ciphertext
//
// Returns:
//   - Derived key suitable for XChaCha20-Poly1305
func DeriveSealingKey(secret []byte, salt []byte) []byte {
	salted := append([]byte("GUARDIAN-HANDOFF-"), salt...)

	// Parameters: time=1, memory=64*1024, threads=4, keyLen=32
	return argon2.IDKey(secret, salted, 1, 64*1024, 4, keySize)
}

// Seal encrypts plaintext under a key derived from secret. Associated data
// is authenticated but not encrypted.
//
// Format: [version (1 byte)][salt (16 bytes)][nonce (24 bytes)][ciphertext]
func Seal(secret, plaintext, associatedData []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	aead, err := chacha20poly1305.NewX(DeriveSealingKey(secret, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	result := make([]byte, 0, 1+saltSize+len(nonce)+len(plaintext)+aead.Overhead())
	result = append(result, sealVersion)
	result = append(result, salt...)
	result = append(result, nonce...)
	return aead.Seal(result, nonce, plaintext, associatedData), nil
}

// Open decrypts data produced by Seal with the same secret and associated data.
func Open(secret, sealed, associatedData []byte) ([]byte, error) {
	headerSize := 1 + saltSize + chacha20poly1305.NonceSizeX
	if len(sealed) < headerSize {
		return nil, ErrSealedTooShort
	}
	if sealed[0] != sealVersion {
		return nil, fmt.Errorf("%w: %d", ErrSealedVersion, sealed[0])
	}

	salt := sealed[1 : 1+saltSize]
	nonce := sealed[1+saltSize : headerSize]

	aead, err := chacha20poly1305.NewX(DeriveSealingKey(secret, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, sealed[headerSize:], associatedData)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}
