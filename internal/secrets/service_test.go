package secrets

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"secret.vault/internal/crypto"
	"secret.vault/internal/models"
	"secret.vault/internal/store"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingStore counts mutations on top of a real store and can inject
// failures. When afterGet is set, every GetAll blocks on it once the read is
// done, which lets tests line up concurrent readers.
type recordingStore struct {
	store.Store
	mu        sync.Mutex
	deletes   int
	expireErr error
	deleteErr error
	afterGet  *sync.WaitGroup
}

func (r *recordingStore) GetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := r.Store.GetAll(ctx, key)
	if r.afterGet != nil {
		r.afterGet.Done()
		r.afterGet.Wait()
	}
	return fields, err
}

func (r *recordingStore) Delete(ctx context.Context, key string) (bool, error) {
	r.mu.Lock()
	r.deletes++
	r.mu.Unlock()
	if r.deleteErr != nil {
		return false, r.deleteErr
	}
	return r.Store.Delete(ctx, key)
}

func (r *recordingStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if r.expireErr != nil {
		return r.expireErr
	}
	return r.Store.Expire(ctx, key, ttl)
}

type fixture struct {
	svc   *Service
	store *recordingStore
	mem   *store.MemoryStore
	clock *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	c := &clock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	mem := store.NewMemoryStore(0, store.WithClock(c.Now))
	t.Cleanup(func() { mem.Close() })
	rec := &recordingStore{Store: mem}

	key, err := crypto.ParseKey(crypto.GenerateKey())
	require.NoError(t, err)
	cipher, err := crypto.NewCipher(key)
	require.NoError(t, err)
	hasher, err := crypto.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)

	svc, err := New(rec, Options{Cipher: cipher, Hasher: hasher})
	require.NoError(t, err)

	return &fixture{svc: svc, store: rec, mem: mem, clock: c}
}

func ptr[T any](v T) *T { return &v }

func timeBased(secret string, ttl int) models.CreateRequest {
	return models.CreateRequest{
		Secret:           secret,
		ExpirationMethod: models.ExpirationTime,
		TTLSeconds:       ptr(ttl),
	}
}

func oneTime(secret, passphrase string) models.CreateRequest {
	req := models.CreateRequest{Secret: secret, ExpirationMethod: models.ExpirationOneTime}
	if passphrase != "" {
		req.Passphrase = ptr(passphrase)
	}
	return req
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   models.CreateRequest
		field string
	}{
		{"zero ttl", timeBased("x", 0), "ttl_seconds"},
		{"negative ttl", timeBased("x", -5), "ttl_seconds"},
		{"ttl above max", timeBased("x", int(DefaultMaxTTL/time.Second)+1), "ttl_seconds"},
		{"ttl overflowing duration", timeBased("x", 10_000_000_000), "ttl_seconds"},
		{"missing ttl", models.CreateRequest{Secret: "x", ExpirationMethod: models.ExpirationTime}, "ttl_seconds"},
		{"empty secret", timeBased("", 60), "secret"},
		{"oversized secret", timeBased(strings.Repeat("a", MaxSecretLength+1), 60), "secret"},
		{"long passphrase", oneTime("x", strings.Repeat("p", MaxPassphraseLength+1)), "passphrase"},
		{"missing method", models.CreateRequest{Secret: "x"}, "expiration_method"},
		{"unknown method", models.CreateRequest{Secret: "x", ExpirationMethod: "forever"}, "expiration_method"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tt.req)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
	assert.Equal(t, 0, f.mem.Len())
}

func TestCreateBoundaries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Characters, not bytes.
	_, err := f.svc.Create(ctx, timeBased(strings.Repeat("ü", MaxSecretLength), 60))
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, oneTime("x", strings.Repeat("p", MaxPassphraseLength)))
	require.NoError(t, err)
}

func TestCreateTimeBasedExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Create(ctx, timeBased("hello", 60))
	require.NoError(t, err)
	assert.True(t, crypto.ValidID(resp.ID))
	assert.Equal(t, 60, resp.ExpiresIn)
	assert.Equal(t, models.ExpirationTime, resp.ExpirationMethod)

	meta, err := f.svc.Metadata(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, &models.Metadata{Exists: true, RequiresPassphrase: true, ExpirationMethod: models.ExpirationTime}, meta)

	got, err := f.svc.Unlock(ctx, resp.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Secret)

	// Time-based secrets survive unlocks until the TTL runs out.
	got, err = f.svc.Unlock(ctx, resp.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Secret)

	f.clock.Advance(61 * time.Second)
	_, err = f.svc.Metadata(ctx, resp.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Unlock(ctx, resp.ID, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateStoresOnlyCiphertext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Create(ctx, oneTime("top secret value", "pw"))
	require.NoError(t, err)

	fields, err := f.mem.GetAll(ctx, resp.ID)
	require.NoError(t, err)
	assert.Len(t, fields, 3)
	assert.Equal(t, "true", fields[models.FieldOneTime])
	assert.NotContains(t, fields[models.FieldCiphertext], "top secret")
	assert.True(t, strings.HasPrefix(fields[models.FieldPassphraseHash], "$2"))
	assert.NotContains(t, fields[models.FieldPassphraseHash], "pw")
}

func TestOneTimeFallbackTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Create(ctx, oneTime("x", ""))
	require.NoError(t, err)
	assert.Equal(t, int(DefaultFallbackTTL/time.Second), resp.ExpiresIn)
	assert.Equal(t, models.ExpirationOneTime, resp.ExpirationMethod)

	f.clock.Advance(DefaultFallbackTTL - time.Second)
	_, err = f.svc.Metadata(ctx, resp.ID)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Second)
	_, err = f.svc.Metadata(ctx, resp.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOneTimeUnlockOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Create(ctx, oneTime("burn after reading", "hunter2"))
	require.NoError(t, err)

	meta, err := f.svc.Metadata(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExpirationOneTime, meta.ExpirationMethod)

	got, err := f.svc.Unlock(ctx, resp.ID, ptr("hunter2"))
	require.NoError(t, err)
	assert.Equal(t, "burn after reading", got.Secret)
	assert.Equal(t, 1, f.store.deletes)

	_, err = f.svc.Unlock(ctx, resp.ID, ptr("hunter2"))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Metadata(ctx, resp.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWrongPassphraseDoesNotConsume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Create(ctx, oneTime("payload", "right"))
	require.NoError(t, err)

	for _, guess := range []*string{ptr("wrong"), nil, ptr(""), ptr(DefaultPassphrase)} {
		_, err = f.svc.Unlock(ctx, resp.ID, guess)
		assert.ErrorIs(t, err, ErrInvalidPassphrase)
	}
	assert.Equal(t, 0, f.store.deletes)
	assert.Equal(t, 1, f.mem.Len())

	got, err := f.svc.Unlock(ctx, resp.ID, ptr("right"))
	require.NoError(t, err)
	assert.Equal(t, "payload", got.Secret)
}

func TestDefaultPassphrase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Create(ctx, timeBased("x", 60))
	require.NoError(t, err)

	_, err = f.svc.Unlock(ctx, resp.ID, ptr(DefaultPassphrase))
	require.NoError(t, err)
	_, err = f.svc.Unlock(ctx, resp.ID, ptr(""))
	require.NoError(t, err)
	_, err = f.svc.Unlock(ctx, resp.ID, ptr("other"))
	assert.ErrorIs(t, err, ErrInvalidPassphrase)
}

func TestNotFoundIsUniform(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{
		"",
		"not-a-uuid",
		"../../etc/passwd",
		strings.ToUpper(uuid.NewString()),
		uuid.NewString(),
	} {
		_, err := f.svc.Metadata(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound, id)
		_, err = f.svc.Unlock(ctx, id, nil)
		assert.ErrorIs(t, err, ErrNotFound, id)
	}
}

func TestUnlockDamagedRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hasher, err := crypto.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)
	digest, err := hasher.Hash(DefaultPassphrase)
	require.NoError(t, err)

	put := func(fields map[string]string) string {
		id := uuid.NewString()
		require.NoError(t, f.mem.SetFields(ctx, id, fields))
		return id
	}

	id := put(map[string]string{models.FieldCiphertext: "x", models.FieldOneTime: "true"})
	_, err = f.svc.Unlock(ctx, id, nil)
	assert.ErrorIs(t, err, ErrInvalidPassphrase, "missing hash")

	id = put(map[string]string{models.FieldCiphertext: "x", models.FieldPassphraseHash: "garbage"})
	_, err = f.svc.Unlock(ctx, id, nil)
	assert.ErrorIs(t, err, ErrInvalidPassphrase, "malformed hash")

	id = put(map[string]string{models.FieldPassphraseHash: digest})
	_, err = f.svc.Unlock(ctx, id, nil)
	assert.ErrorIs(t, err, ErrNotFound, "missing ciphertext")

	id = put(map[string]string{models.FieldCiphertext: "bm90IHNlYWxlZA", models.FieldPassphraseHash: digest, models.FieldOneTime: "TRUE"})
	_, err = f.svc.Unlock(ctx, id, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrInvalidPassphrase)
	assert.Equal(t, 0, f.store.deletes, "undecryptable record is left alone")

	meta, err := f.svc.Metadata(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ExpirationOneTime, meta.ExpirationMethod)
}

func TestCreateSanitizes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Create(ctx, timeBased("hi <script>alert(1)</script><b>there</b>", 60))
	require.NoError(t, err)
	got, err := f.svc.Unlock(ctx, resp.ID, nil)
	require.NoError(t, err)
	assert.NotContains(t, got.Secret, "<")
	assert.Contains(t, got.Secret, "there")

	_, err = f.svc.Create(ctx, timeBased("DROP TABLE users", 60))
	assert.ErrorIs(t, err, ErrSanitization)
	assert.Equal(t, 1, f.mem.Len())
}

func TestCreateExpireFailure(t *testing.T) {
	f := newFixture(t)
	f.store.expireErr = errors.New("boom")

	_, err := f.svc.Create(context.Background(), timeBased("x", 60))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ttl")
	assert.Equal(t, 1, f.store.deletes)
	assert.Equal(t, 0, f.mem.Len(), "record without ttl is removed")
}

func TestCreateMaxTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Create(ctx, timeBased("x", int(DefaultMaxTTL/time.Second)))
	require.NoError(t, err)
	assert.Equal(t, int(DefaultMaxTTL/time.Second), resp.ExpiresIn)

	key, err := crypto.ParseKey(crypto.GenerateKey())
	require.NoError(t, err)
	cipher, err := crypto.NewCipher(key)
	require.NoError(t, err)
	hasher, err := crypto.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)
	svc, err := New(f.mem, Options{Cipher: cipher, Hasher: hasher, MaxTTL: time.Hour})
	require.NoError(t, err)

	_, err = svc.Create(ctx, timeBased("x", 3600))
	require.NoError(t, err)
	_, err = svc.Create(ctx, timeBased("x", 3601))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, "ttl_seconds", verr.Field)
	assert.Equal(t, 2, f.mem.Len())
}

func TestOneTimeDeleteFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Create(ctx, oneTime("keep me", ""))
	require.NoError(t, err)

	f.store.deleteErr = errors.New("connection reset")
	got, err := f.svc.Unlock(ctx, resp.ID, nil)
	require.Error(t, err)
	assert.Nil(t, got)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, f.mem.Len())
}

func TestConcurrentUnlocksOfSameSecret(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Create(ctx, oneTime("only once", ""))
	require.NoError(t, err)

	const readers = 2
	f.store.afterGet = &sync.WaitGroup{}
	f.store.afterGet.Add(readers)

	var wg sync.WaitGroup
	results := make([]*models.UnlockResponse, readers)
	errs := make([]error, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Unlock(ctx, resp.ID, nil)
		}(i)
	}
	wg.Wait()

	released := 0
	for i := range results {
		if errs[i] == nil {
			released++
			assert.Equal(t, "only once", results[i].Secret)
		} else {
			assert.ErrorIs(t, errs[i], ErrNotFound)
		}
	}
	assert.Equal(t, 1, released)
	assert.Equal(t, 0, f.mem.Len())
}

func TestNewRequiresCollaborators(t *testing.T) {
	mem := store.NewMemoryStore(0)
	defer mem.Close()

	_, err := New(nil, Options{})
	assert.Error(t, err)
	_, err = New(mem, Options{})
	assert.Error(t, err)

	hasher, err := crypto.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)
	key, err := crypto.ParseKey(crypto.GenerateKey())
	require.NoError(t, err)
	cipher, err := crypto.NewCipher(key)
	require.NoError(t, err)
	_, err = New(mem, Options{Cipher: cipher, Hasher: hasher, FallbackTTL: time.Millisecond})
	assert.Error(t, err)
	_, err = New(mem, Options{Cipher: cipher, Hasher: hasher, MaxTTL: time.Millisecond})
	assert.Error(t, err)
}

func TestConcurrentUnlocksOfDistinctSecrets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ids := make([]string, 8)
	for i := range ids {
		resp, err := f.svc.Create(ctx, oneTime("s", ""))
		require.NoError(t, err)
		ids[i] = resp.ID
	}

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.svc.Unlock(ctx, id, nil)
		}(i, id)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 0, f.mem.Len())
}
