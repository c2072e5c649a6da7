// Package config loads searchd settings from defaults, an optional TOML file
// and CS_ prefixed environment variables, in that order.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "CS_"

type Config struct {
	Server    ServerConfig              `koanf:"server"`
	Store     StoreConfig               `koanf:"store"`
	GCP       GCPConfig                 `koanf:"gcp"`
	Queue     QueueConfig               `koanf:"queue"`
	Engine    EngineConfig              `koanf:"engine"`
	Providers map[string]ProviderConfig `koanf:"providers"`
	API       APIConfig                 `koanf:"api"`
	Notify    NotifyConfig              `koanf:"notify"`
	Sweeper   SweeperConfig             `koanf:"sweeper"`
	Logging   LoggingConfig             `koanf:"logging"`
}

type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
	// TaskPath is where queue deliveries arrive.
	TaskPath string `koanf:"task_path"`
	// RequestTimeout bounds one delivery, provider call included.
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type StoreConfig struct {
	Driver         string `koanf:"driver"`
	Path           string `koanf:"path"`
	DatabaseURL    string `koanf:"database_url"`
	MaxConnections int    `koanf:"max_connections"`
	// CollectionPrefix namespaces Firestore collections.
	CollectionPrefix string `koanf:"collection_prefix"`
}

type GCPConfig struct {
	ProjectID       string        `koanf:"project_id"`
	Topic           string        `koanf:"topic"`
	Subscription    string        `koanf:"subscription"`
	PushEndpoint    string        `koanf:"push_endpoint"`
	PushAudience    string        `koanf:"push_audience"`
	ServiceAccount  string        `koanf:"service_account"`
	AckDeadline     time.Duration `koanf:"ack_deadline"`
	MinBackoff      time.Duration `koanf:"min_backoff"`
	MaxBackoff      time.Duration `koanf:"max_backoff"`
	CredentialsFile string        `koanf:"credentials_file"`
}

type QueueConfig struct {
	Transport string       `koanf:"transport"`
	QStash    QStashConfig `koanf:"qstash"`
}

type QStashConfig struct {
	URL               string `koanf:"url"`
	Token             string `koanf:"token"`
	CallbackURL       string `koanf:"callback_url"`
	CurrentSigningKey string `koanf:"current_signing_key"`
	NextSigningKey    string `koanf:"next_signing_key"`
	Retries           int    `koanf:"retries"`
}

type EngineConfig struct {
	MaxRuns            int           `koanf:"max_runs"`
	SufficientFraction float64       `koanf:"sufficient_fraction"`
	BaseDelay          time.Duration `koanf:"base_delay"`
	DelayStep          time.Duration `koanf:"delay_step"`
	DelayCapRuns       int           `koanf:"delay_cap_runs"`
	JobTimeout         time.Duration `koanf:"job_timeout"`
	ProviderTimeout    time.Duration `koanf:"provider_timeout"`
	MaxTarget          int           `koanf:"max_target"`
}

type ProviderConfig struct {
	BaseURL   string `koanf:"base_url"`
	APIKey    string `koanf:"api_key"`
	RateLimit int    `koanf:"rate_limit"`
	// KeyHeader or KeyQuery names where the API key is sent.
	KeyHeader string `koanf:"key_header"`
	KeyQuery  string `koanf:"key_query"`
}

type APIConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
	JWTIssuer string `koanf:"jwt_issuer"`
}

type NotifyConfig struct {
	Driver       string `koanf:"driver"`
	WebhookURL   string `koanf:"webhook_url"`
	WebhookToken string `koanf:"webhook_token"`
}

type SweeperConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Schedule   string        `koanf:"schedule"`
	StallAfter time.Duration `koanf:"stall_after"`
	BatchSize  int           `koanf:"batch_size"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Load reads config from TOML file (if provided) then overlays env vars.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, err
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", configPath, err)
		}
	}

	// CS_ENGINE_MAX_RUNS -> engine.max_runs. Known keys are matched first so
	// underscores inside a key survive; unknown ones split on every underscore.
	known := make(map[string]string)
	for _, key := range k.Keys() {
		known[strings.ReplaceAll(key, ".", "_")] = key
	}
	if err := k.Load(env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, interface{}) {
		if value == "" {
			return "", nil
		}
		flat := strings.ToLower(strings.TrimPrefix(key, envPrefix))
		if mapped, ok := known[flat]; ok {
			return mapped, value
		}
		return strings.ReplaceAll(flat, "_", "."), value
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "badger":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("store.database_url is required for the postgres driver")
		}
	case "firestore":
		if c.GCP.ProjectID == "" {
			return fmt.Errorf("gcp.project_id is required for the firestore driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}

	switch c.Queue.Transport {
	case "local":
	case "pubsub":
		if c.GCP.ProjectID == "" || c.GCP.Topic == "" {
			return fmt.Errorf("gcp.project_id and gcp.topic are required for the pubsub transport")
		}
	case "qstash":
		if c.Queue.QStash.Token == "" || c.Queue.QStash.CallbackURL == "" {
			return fmt.Errorf("queue.qstash.token and queue.qstash.callback_url are required for the qstash transport")
		}
		if c.Queue.QStash.CurrentSigningKey == "" {
			return fmt.Errorf("queue.qstash.current_signing_key is required for the qstash transport")
		}
	default:
		return fmt.Errorf("unknown queue.transport %q", c.Queue.Transport)
	}

	switch c.Notify.Driver {
	case "log":
	case "webhook":
		if c.Notify.WebhookURL == "" {
			return fmt.Errorf("notify.webhook_url is required for the webhook driver")
		}
	default:
		return fmt.Errorf("unknown notify.driver %q", c.Notify.Driver)
	}

	if c.Engine.MaxRuns <= 0 {
		return fmt.Errorf("engine.max_runs must be positive")
	}
	if c.Engine.SufficientFraction <= 0 || c.Engine.SufficientFraction > 1 {
		return fmt.Errorf("engine.sufficient_fraction must be in (0, 1]")
	}
	return nil
}
