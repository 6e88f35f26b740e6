package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"github.com/kohaku-project/kohaku/internal/apperr"
	"github.com/kohaku-project/kohaku/internal/config"
	"github.com/kohaku-project/kohaku/internal/store"
)

// sessionSecretKey is the settings-table key the signing secret persists
// under when it is not provided via config or environment.
const sessionSecretKey = "session_secret"

// loadConfig reads the configuration file named by --config, falls back to
// the file viper discovered, and finally to built-in defaults.
func loadConfig() (*config.YAMLConfig, error) {
	path := cfgFile
	if path == "" {
		path = viper.ConfigFileUsed()
	}
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openStore opens the store described by the loaded configuration.
func openStore(cfg *config.YAMLConfig) (*store.Store, error) {
	return store.Open(store.Config{
		Driver:  cfg.Store.Driver,
		DataDir: cfg.Store.DataDir,
		DSN:     cfg.Store.DSN,
	})
}

// resolveSessionSecret finds the token signing secret: config file first,
// then environment, then the settings table. When none exists, a random one
// is generated and persisted, so restarting keeps outstanding tokens valid.
func resolveSessionSecret(ctx context.Context, cfg *config.YAMLConfig, st *store.Store, logger *slog.Logger) (string, error) {
	if cfg.Auth.SessionSecret != "" {
		return cfg.Auth.SessionSecret, nil
	}
	if env := viper.GetString("auth.session_secret"); env != "" {
		return env, nil
	}

	stored, err := st.GetSetting(ctx, sessionSecretKey)
	switch {
	case err == nil:
		return stored, nil
	case apperr.KindOf(err) != apperr.NotFound:
		return "", fmt.Errorf("read session secret: %w", err)
	}

	secret, err := randomSecret()
	if err != nil {
		return "", err
	}
	if err := st.SetSetting(ctx, sessionSecretKey, secret); err != nil {
		return "", fmt.Errorf("persist session secret: %w", err)
	}
	logger.Warn("no session secret configured, generated and stored a random one")
	return secret, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func newCLILogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
