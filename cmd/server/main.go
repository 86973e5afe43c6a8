package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"secret.vault/config"
	"secret.vault/internal/api"
	"secret.vault/internal/crypto"
	"secret.vault/internal/generator"
	"secret.vault/internal/metrics"
	"secret.vault/internal/secrets"
	"secret.vault/internal/store"
)

var version = "dev"

var flags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		EnvVars: []string{"SECRET_CONFIG"},
		Usage:   "path to YAML config file",
	},
	&cli.BoolFlag{
		Name:  "log-json",
		Usage: "log in JSON format (overrides config)",
	},
	&cli.BoolFlag{
		Name:  "log-debug",
		Usage: "log debug messages (overrides config)",
	},
}

func main() {
	app := &cli.App{
		Name:    "secret-vault",
		Usage:   "Serve self-destructing secrets",
		Version: version,
		Flags:   flags,
		Action:  serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Flags:  flags,
				Action: serve,
			},
			{
				Name:      "generate",
				Usage:     "Print a password built from a pattern",
				ArgsUsage: "<pattern>",
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() != 1 {
						return cli.Exit("expected exactly one pattern argument", 2)
					}
					password, err := generator.Generate(cCtx.Args().First())
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					fmt.Fprintln(cCtx.App.Writer, password)
					return nil
				},
			},
			{
				Name:  "keygen",
				Usage: "Print a fresh base64url encryption key",
				Action: func(cCtx *cli.Context) error {
					fmt.Fprintln(cCtx.App.Writer, crypto.GenerateKey())
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Print(err)
		memguard.SafeExit(1)
	}
	memguard.Purge()
}

func serve(cCtx *cli.Context) error {
	cfg, err := config.Load(cCtx.String("config"))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cCtx.Bool("log-json") {
		cfg.Log.JSON = true
	}
	if cCtx.Bool("log-debug") {
		cfg.Log.Level = "debug"
	}

	logger := setupLogger(cfg.Log)

	st, err := initStore(cfg)
	if err != nil {
		logger.Error("Failed to initialize store", "type", cfg.Store.Type, "err", err)
		return err
	}
	defer st.Close()

	svc, err := initSecrets(cfg, st, logger)
	if err != nil {
		logger.Error("Failed to initialize secrets service", "err", err)
		return err
	}

	router := api.SetupRouter(api.Dependencies{
		Secrets: svc,
		Store:   st,
		Metrics: metrics.New(),
		Log:     logger,
	}, cfg)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting",
			"addr", cfg.Addr(),
			"store", cfg.Store.Type,
			"origins", cfg.Origins(),
			"rate_limit", cfg.RateLimit.Enabled,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed", "err", err)
			return err
		}
	case sig := <-exit:
		logger.Info("Shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Graceful shutdown failed", "err", err)
		return err
	}
	logger.Info("Server shutdown complete")
	return nil
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.JSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	logger = logger.With("version", version)
	slog.SetDefault(logger)
	return logger
}

func initStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Type {
	case "redis":
		rc := cfg.Store.Redis
		var (
			st  *store.RedisStore
			err error
		)
		if rc.URL != "" {
			st, err = store.NewRedisStoreFromURL(rc.URL)
		} else {
			st, err = store.NewRedisStore(&redis.Options{
				Addr:     rc.Addr,
				Password: rc.Password,
				DB:       rc.DB,
			})
		}
		if err != nil {
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		return st.WithPrefix(rc.KeyPrefix), nil
	default:
		return store.NewMemoryStore(30 * time.Second), nil
	}
}

func initSecrets(cfg *config.Config, st store.Store, logger *slog.Logger) (*secrets.Service, error) {
	key, err := crypto.ParseKey(cfg.Secrets.EncryptionKey)
	if err != nil {
		return nil, err
	}
	cipher, err := crypto.NewCipher(key)
	memguard.WipeBytes(key)
	if err != nil {
		return nil, err
	}
	hasher, err := crypto.NewHasher(cfg.Secrets.BcryptCost)
	if err != nil {
		return nil, err
	}

	return secrets.New(st, secrets.Options{
		Cipher:      cipher,
		Hasher:      hasher,
		FallbackTTL: cfg.FallbackTTL(),
		MaxTTL:      cfg.MaxTTL(),
		Log:         logger,
	})
}
