package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(env(map[string]string{"WORK_DIR": "/srv/agent"}))
	gt.NoError(t, err).Required()

	gt.Value(t, cfg.DBType).Equal("sqlite")
	gt.Value(t, cfg.DatabaseURL).Equal(filepath.Join("/srv/agent", "experiences.db"))
	gt.Value(t, cfg.TokenDir).Equal(filepath.Join("/srv/agent", ".tokens"))
	gt.Value(t, cfg.TokenTTL).Equal(DefaultTokenTTL)
	gt.Error(t, cfg.RequireAPIKey())
}

func TestLoad_Explicit(t *testing.T) {
	cfg, err := load(env(map[string]string{
		"DB_TYPE":        "postgres",
		"DATABASE_URL":   "postgres://u:p@localhost:5432/db",
		"GOOGLE_API_KEY": "key",
		"WORK_DIR":       "/w",
		"TOKEN_DIR":      "/tmp/tokens",
		"TOKEN_TTL":      "90s",
		"LOG_LEVEL":      "debug",
		"LOG_FORMAT":     "json",
	}))
	gt.NoError(t, err).Required()

	gt.Value(t, cfg.DBType).Equal("postgres")
	gt.Value(t, cfg.TokenDir).Equal("/tmp/tokens")
	gt.Value(t, cfg.TokenTTL).Equal(90 * time.Second)
	gt.Value(t, cfg.LogFormat).Equal("json")
	gt.NoError(t, cfg.RequireAPIKey())
}

func TestLoad_Invalid(t *testing.T) {
	testCases := map[string]map[string]string{
		"unknown db type":      {"DB_TYPE": "mysql", "WORK_DIR": "/w"},
		"postgres without url": {"DB_TYPE": "postgres", "WORK_DIR": "/w"},
		"bad ttl":              {"TOKEN_TTL": "soon", "WORK_DIR": "/w"},
		"negative ttl":         {"TOKEN_TTL": "-5m", "WORK_DIR": "/w"},
	}

	for name, values := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := load(env(values))
			gt.Bool(t, errors.Is(err, ErrInvalidConfig)).True()
		})
	}
}
