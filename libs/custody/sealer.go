// Package custody seals and opens custodial wallet signing keys.
//
// Keys are stored as AES-256-CTR ciphertext with a per-wallet 16 byte IV,
// both hex encoded. The AES key is the process ENCRYPTION_KEY taken as raw
// bytes, so it must be exactly 32 bytes long.
package custody

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

const KeySize = 32

var ErrMalformed = errors.New("custody: malformed sealed key")

type Sealer struct {
	block cipher.Block
}

func NewSealer(key string) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("custody: encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, err
	}
	return &Sealer{block: block}, nil
}

// Open decrypts a sealed key and returns the plaintext, typically a hex
// private key.
func (s *Sealer) Open(ciphertextHex, ivHex string) (string, error) {
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return "", fmt.Errorf("%w: bad iv", ErrMalformed)
	}
	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext", ErrMalformed)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(s.block, iv).XORKeyStream(plaintext, ciphertext)
	return string(plaintext), nil
}

// Seal encrypts plaintext under a fresh random IV.
func (s *Sealer) Seal(plaintext string) (ciphertextHex, ivHex string, err error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", "", err
	}
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(s.block, iv).XORKeyStream(ciphertext, []byte(plaintext))
	return hex.EncodeToString(ciphertext), hex.EncodeToString(iv), nil
}
