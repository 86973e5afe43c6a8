package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt ignores (or rejects) input past this many bytes.
const bcryptMaxInput = 72

type Hasher struct {
	cost int
}

// NewHasher returns a bcrypt hasher. A zero cost means bcrypt.DefaultCost.
func NewHasher(cost int) (*Hasher, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &Hasher{cost: cost}, nil
}

func (h *Hasher) Hash(passphrase string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword(prepare(passphrase), h.cost)
	if err != nil {
		return "", fmt.Errorf("hashing passphrase: %w", err)
	}
	return string(digest), nil
}

// Verify reports whether passphrase matches digest. Malformed digests never
// match.
func (h *Hasher) Verify(passphrase, digest string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), prepare(passphrase)) == nil
}

// prepare keeps short passphrases byte-for-byte so existing digests still
// verify, and folds long ones through SHA-256 so every byte counts.
func prepare(passphrase string) []byte {
	if len(passphrase) <= bcryptMaxInput {
		return []byte(passphrase)
	}
	sum := sha256.Sum256([]byte(passphrase))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}
