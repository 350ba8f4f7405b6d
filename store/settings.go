package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/amelia-run/amelia/config"
)

// settingsKey is the single row server_settings is persisted under; the
// table is shaped as a generic key/value store (shared with prompts-style
// config) but the orchestrator only ever uses this one row.
const settingsKey = "server_settings"

// SettingsStore persists the single server_settings row the REST settings
// endpoints and `amelia config server` read and write.
type SettingsStore struct {
	pool querier
}

// Get returns the persisted settings, or config.DefaultServerSettings if no
// row has been written yet.
func (s *SettingsStore) Get(ctx context.Context) (config.ServerSettings, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM server_settings WHERE key = $1`, settingsKey).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return config.DefaultServerSettings(), nil
	}
	if err != nil {
		return config.ServerSettings{}, err
	}
	settings := config.DefaultServerSettings()
	if err := json.Unmarshal(data, &settings); err != nil {
		return config.ServerSettings{}, fmt.Errorf("store: unmarshal server_settings: %w", err)
	}
	return settings, nil
}

// Set upserts the server_settings row.
func (s *SettingsStore) Set(ctx context.Context, settings config.ServerSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("store: marshal server_settings: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO server_settings (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = now()`,
		settingsKey, data)
	return err
}

// Reset overwrites the row with config.DefaultServerSettings and returns it.
func (s *SettingsStore) Reset(ctx context.Context) (config.ServerSettings, error) {
	defaults := config.DefaultServerSettings()
	if err := s.Set(ctx, defaults); err != nil {
		return config.ServerSettings{}, err
	}
	return defaults, nil
}
