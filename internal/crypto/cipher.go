// internal/crypto/cipher.go (AES-GCM)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/awnumar/memguard"
)

const (
	KeySize   = 32
	nonceSize = 12 // GCM standard nonce size
)

var ErrInvalidKey = errors.New("encryption key must be 32 bytes encoded as base64")

// Cipher seals payloads with AES-256-GCM. Output is base64url text of
// nonce||ciphertext||tag so it can sit in a string field of the store hash.
//
// The key stays sealed in a memguard enclave and is only opened, into locked
// memory, for the duration of a single Encrypt or Decrypt.
type Cipher struct {
	key *memguard.Enclave
}

// NewCipher copies key into an enclave. The caller still owns key and should
// wipe it.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	// NewEnclave wipes the slice it is given.
	buf := make([]byte, KeySize)
	copy(buf, key)
	return &Cipher{key: memguard.NewEnclave(buf)}, nil
}

func (c *Cipher) withAEAD(fn func(cipher.AEAD) error) error {
	locked, err := c.key.Open()
	if err != nil {
		return fmt.Errorf("opening key: %w", err)
	}
	defer locked.Destroy()

	block, err := aes.NewCipher(locked.Bytes())
	if err != nil {
		return fmt.Errorf("cipher creation failed: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("GCM creation failed: %w", err)
	}

	return fn(gcm)
}

// ParseKey decodes a base64 key in either alphabet, padded or not.
func ParseKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	for _, enc := range []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	} {
		key, err := enc.DecodeString(encoded)
		if err == nil && len(key) == KeySize {
			return key, nil
		}
	}
	return nil, ErrInvalidKey
}

func GenerateKey() string {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return base64.URLEncoding.EncodeToString(key)
}

func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	var sealed []byte
	err := c.withAEAD(func(aead cipher.AEAD) error {
		nonce := make([]byte, nonceSize, nonceSize+len(plaintext)+aead.Overhead())
		if _, err := rand.Read(nonce); err != nil {
			return fmt.Errorf("nonce generation failed: %w", err)
		}
		sealed = aead.Seal(nonce, nonce, plaintext, nil)
		return nil
	})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (c *Cipher) Decrypt(ciphertext string) ([]byte, error) {
	data, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("malformed ciphertext: %w", err)
	}

	var plaintext []byte
	err = c.withAEAD(func(aead cipher.AEAD) error {
		if len(data) < nonceSize+aead.Overhead() {
			return fmt.Errorf("ciphertext too short")
		}

		nonce := data[:nonceSize]
		out, err := aead.Open(nil, nonce, data[nonceSize:], nil)
		if err != nil {
			return fmt.Errorf("decryption failed: %w", err)
		}
		plaintext = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}
