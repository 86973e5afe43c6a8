package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secret.vault/config"
	"secret.vault/internal/crypto"
	"secret.vault/internal/models"
	"secret.vault/internal/store"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Store.Type = "memory"
	cfg.Secrets.EncryptionKey = crypto.GenerateKey()
	cfg.Secrets.BcryptCost = 4
	return cfg
}

func TestInitStoreMemory(t *testing.T) {
	st, err := initStore(testConfig())
	require.NoError(t, err)
	defer st.Close()

	_, ok := st.(*store.MemoryStore)
	assert.True(t, ok)
}

func TestInitStoreRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig()
	cfg.Store.Type = "redis"
	cfg.Store.Redis.URL = "redis://" + mr.Addr() + "/0"
	cfg.Store.Redis.KeyPrefix = "secret:"

	st, err := initStore(cfg)
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.SetFields(context.Background(), "abc", map[string]string{"k": "v"}))
	assert.True(t, mr.Exists("secret:abc"))

	cfg.Store.Redis.URL = ""
	cfg.Store.Redis.Addr = mr.Addr()
	st2, err := initStore(cfg)
	require.NoError(t, err)
	require.NoError(t, st2.Ping(context.Background()))
	st2.Close()
}

func TestInitSecrets(t *testing.T) {
	cfg := testConfig()
	st, err := initStore(cfg)
	require.NoError(t, err)
	defer st.Close()

	svc, err := initSecrets(cfg, st, slog.Default())
	require.NoError(t, err)

	ctx := context.Background()
	resp, err := svc.Create(ctx, models.CreateRequest{
		Secret:           "hello",
		ExpirationMethod: models.ExpirationOneTime,
	})
	require.NoError(t, err)

	out, err := svc.Unlock(ctx, resp.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Secret)

	cfg.Secrets.EncryptionKey = "short"
	_, err = initSecrets(cfg, st, slog.Default())
	assert.Error(t, err)
}

func TestSetupLogger(t *testing.T) {
	logger := setupLogger(config.LogConfig{Level: "debug", JSON: true, Service: "test"})
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))

	logger = setupLogger(config.LogConfig{Level: "warn"})
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
}
