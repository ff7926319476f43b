package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// EnvTelegramToken overrides transport.token when set.
const EnvTelegramToken = "CAMPAIGN_TELEGRAM_TOKEN"

// LoadDotEnv loads a .env file located next to the config file, if any.
// Variables already present in the environment are not overwritten.
func LoadDotEnv(configPath string) error {
	p := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(p)
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvTelegramToken)); v != "" {
		cfg.Transport.Token = v
	}
}
