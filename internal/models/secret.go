package models

import (
	"fmt"
	"strings"
)

// Record field names as they are laid out in the store hash.
const (
	FieldCiphertext     = "ciphertext"
	FieldPassphraseHash = "passphrase_hash"
	FieldOneTime        = "one_time"
)

type ExpirationMethod string

const (
	ExpirationTime    ExpirationMethod = "time"
	ExpirationOneTime ExpirationMethod = "one_time"
)

// ParseExpirationMethod accepts the wire values plus the "time_based" alias.
func ParseExpirationMethod(s string) (ExpirationMethod, error) {
	switch s {
	case string(ExpirationTime), "time_based":
		return ExpirationTime, nil
	case string(ExpirationOneTime):
		return ExpirationOneTime, nil
	default:
		return "", fmt.Errorf("unknown expiration method %q", s)
	}
}

// Secret is the stored record. Its TTL lives on the store key, not here.
type Secret struct {
	Ciphertext     string
	PassphraseHash string
	OneTime        bool
}

func (s *Secret) Method() ExpirationMethod {
	if s.OneTime {
		return ExpirationOneTime
	}
	return ExpirationTime
}

func (s *Secret) Fields() map[string]string {
	return map[string]string{
		FieldCiphertext:     s.Ciphertext,
		FieldPassphraseHash: s.PassphraseHash,
		FieldOneTime:        FormatOneTime(s.OneTime),
	}
}

// SecretFromFields rebuilds a record from a store hash. Missing fields stay
// empty so callers can tell an incomplete record apart from a valid one.
func SecretFromFields(fields map[string]string) *Secret {
	oneTime, ok := fields[FieldOneTime]
	if !ok {
		oneTime = "false"
	}
	return &Secret{
		Ciphertext:     fields[FieldCiphertext],
		PassphraseHash: fields[FieldPassphraseHash],
		OneTime:        ParseOneTime(oneTime),
	}
}

func FormatOneTime(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func ParseOneTime(v string) bool {
	return strings.ToLower(v) == "true"
}
