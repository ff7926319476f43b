package app

import (
	"fmt"
	"strings"

	"campaignbot/internal/config"
	"campaignbot/internal/ledger"
)

func mapStorageConfig(cfg *config.Config) (ledger.Config, error) {
	sc := cfg.Storage
	path := strings.TrimSpace(sc.Path)
	dl := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch dl {
	case "", "file":
		return ledger.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return ledger.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := sc.Busy()
		if err != nil {
			return ledger.Config{}, err
		}
		return ledger.Config{Driver: dl, Path: path, BusyTimeout: busy}, nil
	default:
		return ledger.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}
