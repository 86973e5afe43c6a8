// Package secrets implements the secret lifecycle: create, inspect and
// unlock, backed by a Store that owns expiry.
//
// Records are immutable. The only mutation after creation is the delete that
// follows a successful unlock of a one-time secret, so the service takes no
// locks of its own and relies on the store's per-key atomicity.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"secret.vault/internal/crypto"
	"secret.vault/internal/models"
	"secret.vault/internal/sanitize"
	"secret.vault/internal/store"
)

const (
	// DefaultPassphrase protects secrets created without one.
	DefaultPassphrase = "uvu"

	DefaultFallbackTTL = 7 * 24 * time.Hour
	DefaultMaxTTL      = 365 * 24 * time.Hour

	MaxSecretLength     = 4096
	MaxPassphraseLength = 256
)

type Cipher interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(ciphertext string) ([]byte, error)
}

type Hasher interface {
	Hash(passphrase string) (string, error)
	Verify(passphrase, digest string) bool
}

type Sanitizer interface {
	Clean(value string) (string, error)
}

type Options struct {
	Cipher    Cipher
	Hasher    Hasher
	Sanitizer Sanitizer // nil means sanitize.New()
	// FallbackTTL bounds the life of one-time secrets that are never
	// unlocked. Zero means DefaultFallbackTTL.
	FallbackTTL time.Duration
	// MaxTTL caps ttl_seconds on time-based secrets. Zero means DefaultMaxTTL.
	MaxTTL time.Duration
	// NewID defaults to crypto.GenerateID.
	NewID func() (string, error)
	Log   *slog.Logger
}

type Service struct {
	store       store.Store
	cipher      Cipher
	hasher      Hasher
	sanitizer   Sanitizer
	fallbackTTL time.Duration
	maxTTL      time.Duration
	newID       func() (string, error)
	log         *slog.Logger
}

func New(st store.Store, opts Options) (*Service, error) {
	if st == nil {
		return nil, errors.New("secrets: store is required")
	}
	if opts.Cipher == nil || opts.Hasher == nil {
		return nil, errors.New("secrets: cipher and hasher are required")
	}
	if opts.Sanitizer == nil {
		opts.Sanitizer = sanitize.New()
	}
	if opts.FallbackTTL == 0 {
		opts.FallbackTTL = DefaultFallbackTTL
	}
	if opts.FallbackTTL < time.Second {
		return nil, fmt.Errorf("secrets: fallback ttl %s is below one second", opts.FallbackTTL)
	}
	if opts.MaxTTL == 0 {
		opts.MaxTTL = DefaultMaxTTL
	}
	if opts.MaxTTL < time.Second {
		return nil, fmt.Errorf("secrets: max ttl %s is below one second", opts.MaxTTL)
	}
	if opts.NewID == nil {
		opts.NewID = crypto.GenerateID
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	return &Service{
		store:       st,
		cipher:      opts.Cipher,
		hasher:      opts.Hasher,
		sanitizer:   opts.Sanitizer,
		fallbackTTL: opts.FallbackTTL,
		maxTTL:      opts.MaxTTL,
		newID:       opts.NewID,
		log:         opts.Log,
	}, nil
}

func (s *Service) Create(ctx context.Context, req models.CreateRequest) (*models.CreateResponse, error) {
	method, ttl, err := s.validateCreate(req)
	if err != nil {
		return nil, err
	}

	plaintext, err := s.sanitizer.Clean(req.Secret)
	if err != nil {
		return nil, err
	}

	digest, err := s.hasher.Hash(passphraseOrDefault(req.Passphrase))
	if err != nil {
		return nil, err
	}

	ciphertext, err := s.cipher.Encrypt([]byte(plaintext))
	if err != nil {
		return nil, fmt.Errorf("encrypting secret: %w", err)
	}

	id, err := s.newID()
	if err != nil {
		return nil, fmt.Errorf("generating id: %w", err)
	}

	record := &models.Secret{
		Ciphertext:     ciphertext,
		PassphraseHash: digest,
		OneTime:        method == models.ExpirationOneTime,
	}

	if err := s.store.SetFields(ctx, id, record.Fields()); err != nil {
		return nil, fmt.Errorf("saving secret: %w", err)
	}
	if err := s.store.Expire(ctx, id, ttl); err != nil {
		// A record without a TTL would never expire.
		if _, derr := s.store.Delete(ctx, id); derr != nil {
			s.log.Warn("removing secret without ttl failed", "id", id, "err", derr)
		}
		return nil, fmt.Errorf("setting secret ttl: %w", err)
	}
	s.log.Debug("secret stored", "id", id, "method", record.Method(), "ttl", ttl)

	return &models.CreateResponse{
		ID:               id,
		ExpiresIn:        int(ttl / time.Second),
		ExpirationMethod: record.Method(),
	}, nil
}

func (s *Service) validateCreate(req models.CreateRequest) (models.ExpirationMethod, time.Duration, error) {
	n := utf8.RuneCountInString(req.Secret)
	if n < 1 {
		return "", 0, invalid("secret", "must not be empty")
	}
	if n > MaxSecretLength {
		return "", 0, invalid("secret", fmt.Sprintf("must be at most %d characters", MaxSecretLength))
	}
	if err := validatePassphrase(req.Passphrase); err != nil {
		return "", 0, err
	}

	method, err := models.ParseExpirationMethod(string(req.ExpirationMethod))
	if err != nil {
		if req.ExpirationMethod == "" {
			return "", 0, invalid("expiration_method", "is required")
		}
		return "", 0, invalid("expiration_method", fmt.Sprintf("unknown value %q", req.ExpirationMethod))
	}

	switch method {
	case models.ExpirationTime:
		if req.TTLSeconds == nil {
			return "", 0, invalid("ttl_seconds", "is required for time-based expiration")
		}
		if *req.TTLSeconds <= 0 {
			return "", 0, invalid("ttl_seconds", "must be greater than 0")
		}
		if limit := int64(s.maxTTL / time.Second); int64(*req.TTLSeconds) > limit {
			return "", 0, invalid("ttl_seconds", fmt.Sprintf("must be at most %d", limit))
		}
		return method, time.Duration(*req.TTLSeconds) * time.Second, nil
	default:
		return method, s.fallbackTTL, nil
	}
}

func validatePassphrase(p *string) error {
	if p != nil && utf8.RuneCountInString(*p) > MaxPassphraseLength {
		return invalid("passphrase", fmt.Sprintf("must be at most %d characters", MaxPassphraseLength))
	}
	return nil
}

func (s *Service) Metadata(ctx context.Context, id string) (*models.Metadata, error) {
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	return &models.Metadata{
		Exists:             true,
		RequiresPassphrase: true,
		ExpirationMethod:   record.Method(),
	}, nil
}

// Unlock verifies the passphrase before touching the ciphertext, so a wrong
// guess never consumes a one-time secret.
func (s *Service) Unlock(ctx context.Context, id string, passphrase *string) (*models.UnlockResponse, error) {
	if err := validatePassphrase(passphrase); err != nil {
		return nil, err
	}

	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if record.PassphraseHash == "" || !s.hasher.Verify(passphraseOrDefault(passphrase), record.PassphraseHash) {
		return nil, ErrInvalidPassphrase
	}

	if record.Ciphertext == "" {
		return nil, ErrNotFound
	}

	plaintext, err := s.cipher.Decrypt(record.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypting secret: %w", err)
	}

	if record.OneTime {
		// Only the unlock whose delete removed the key may release the payload.
		deleted, err := s.store.Delete(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("deleting one-time secret: %w", err)
		}
		if !deleted {
			return nil, ErrNotFound
		}
		s.log.Debug("one-time secret consumed", "id", id)
	}

	return &models.UnlockResponse{Secret: string(plaintext)}, nil
}

func (s *Service) load(ctx context.Context, id string) (*models.Secret, error) {
	if !crypto.ValidID(id) {
		return nil, ErrNotFound
	}

	fields, err := s.store.GetAll(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading secret: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	return models.SecretFromFields(fields), nil
}

func passphraseOrDefault(p *string) string {
	if p == nil || *p == "" {
		return DefaultPassphrase
	}
	return *p
}
