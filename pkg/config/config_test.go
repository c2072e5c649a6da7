package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "badger", cfg.Store.Driver)
	assert.Equal(t, "local", cfg.Queue.Transport)
	assert.Equal(t, 50, cfg.Engine.MaxRuns)
	assert.Equal(t, 0.8, cfg.Engine.SufficientFraction)
	assert.Equal(t, 5*time.Second, cfg.Engine.BaseDelay)
	assert.Equal(t, time.Hour, cfg.Engine.JobTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Sweeper.StallAfter)
	assert.Equal(t, "x-api-key", cfg.Providers["scrapecreators"].KeyHeader)
	assert.Equal(t, "token", cfg.Providers["apify"].KeyQuery)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "searchd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = 9000

[engine]
max_runs = 20
base_delay = "1s"

[providers.scrapecreators]
api_key = "from-file"
`), 0o600))

	t.Setenv("CS_ENGINE_MAX_RUNS", "30")
	t.Setenv("CS_PROVIDERS_SCRAPECREATORS_API_KEY", "from-env")
	t.Setenv("CS_LOGGING_LEVEL", "debug")
	t.Setenv("CS_SERVER_HOST", "")
	t.Setenv("CS_API_JWT_SECRET", "s3cret")
	t.Setenv("CS_STORE_DATABASE_URL", "postgres://localhost/search")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 30, cfg.Engine.MaxRuns)
	assert.Equal(t, time.Second, cfg.Engine.BaseDelay)
	assert.Equal(t, "from-env", cfg.Providers["scrapecreators"].APIKey)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "s3cret", cfg.API.JWTSecret)
	assert.Equal(t, "postgres://localhost/search", cfg.Store.DatabaseURL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"postgres without url", func(c *Config) { c.Store.Driver = "postgres" }, false},
		{"postgres with url", func(c *Config) {
			c.Store.Driver = "postgres"
			c.Store.DatabaseURL = "postgres://localhost/search"
		}, true},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, false},
		{"pubsub without project", func(c *Config) { c.Queue.Transport = "pubsub" }, false},
		{"qstash without signing key", func(c *Config) {
			c.Queue.Transport = "qstash"
			c.Queue.QStash.Token = "t"
			c.Queue.QStash.CallbackURL = "https://example.com/tasks/search"
		}, false},
		{"webhook without url", func(c *Config) { c.Notify.Driver = "webhook" }, false},
		{"fraction above one", func(c *Config) { c.Engine.SufficientFraction = 1.5 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}
