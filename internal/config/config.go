package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all daemon configuration
type Config struct {
	ListenAddress string   `json:"listenAddress"`
	DatabasePath  string   `json:"databasePath"`
	Server        Server   `json:"server"`
	Sync          Sync     `json:"sync"`
	Retry         Retry    `json:"retry"`
	Security      Security `json:"security"`
}

// Server configures the remote sync backend
type Server struct {
	BaseURL        string   `json:"baseUrl"`
	ClientID       string   `json:"clientId"`
	RequestTimeout Duration `json:"requestTimeout"`
}

// Sync configures batch sizes and cycle cadence
type Sync struct {
	PushBatchSize  int      `json:"pushBatchSize"`
	PullPageSize   int      `json:"pullPageSize"`
	Interval       Duration `json:"interval"`
	MaxAttempts    int      `json:"maxAttempts"`
	CoalesceWrites bool     `json:"coalesceWrites"`
}

// Retry configures the backoff policy and circuit breaker
type Retry struct {
	MaxAttempts      int      `json:"maxAttempts"`
	BaseDelay        Duration `json:"baseDelay"`
	MaxDelay         Duration `json:"maxDelay"`
	BreakerThreshold int      `json:"breakerThreshold"`
	BreakerCooldown  Duration `json:"breakerCooldown"`
}

// Security configures the local status API key
type Security struct {
	APIKey       string `json:"apiKey"`
	APIKeyHeader string `json:"apiKeyHeader"`
}

// Duration is a time.Duration that marshals as a string ("5s", "2m")
type Duration time.Duration

// UnmarshalJSON parses durations from JSON strings
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON renders durations as JSON strings
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the standard library duration value
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		ListenAddress: "127.0.0.1:5110",
		DatabasePath:  "syncengine.db",
		Server: Server{
			BaseURL:        "http://localhost:5000",
			RequestTimeout: Duration(30 * time.Second),
		},
		Sync: Sync{
			PushBatchSize:  50,
			PullPageSize:   200,
			Interval:       Duration(60 * time.Second),
			MaxAttempts:    3,
			CoalesceWrites: true,
		},
		Retry: Retry{
			MaxAttempts:      5,
			BaseDelay:        Duration(500 * time.Millisecond),
			MaxDelay:         Duration(30 * time.Second),
			BreakerThreshold: 5,
			BreakerCooldown:  Duration(30 * time.Second),
		},
		Security: Security{
			APIKey:       "CHANGE_THIS_TO_A_SECURE_API_KEY_AT_LEAST_32_CHARS",
			APIKeyHeader: "X-API-Key",
		},
	}
}

// Load loads configuration from file or environment
func Load() (*Config, error) {
	cfg := defaultConfig()

	// Try to load from config file
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Override from environment variables
	if addr := os.Getenv("LISTEN_ADDRESS"); addr != "" {
		cfg.ListenAddress = addr
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if baseURL := os.Getenv("SYNC_SERVER_URL"); baseURL != "" {
		cfg.Server.BaseURL = baseURL
	}
	if clientID := os.Getenv("SYNC_CLIENT_ID"); clientID != "" {
		cfg.Server.ClientID = clientID
	}
	if apiKey := os.Getenv("API_KEY"); apiKey != "" {
		cfg.Security.APIKey = apiKey
	}
	if interval := os.Getenv("SYNC_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil && d > 0 {
			cfg.Sync.Interval = Duration(d)
		}
	}
	if batch := os.Getenv("SYNC_PUSH_BATCH_SIZE"); batch != "" {
		if n, err := strconv.Atoi(batch); err == nil && n > 0 {
			cfg.Sync.PushBatchSize = n
		}
	}
	if page := os.Getenv("SYNC_PULL_PAGE_SIZE"); page != "" {
		if n, err := strconv.Atoi(page); err == nil && n > 0 {
			cfg.Sync.PullPageSize = n
		}
	}
	if coalesce := os.Getenv("SYNC_COALESCE_WRITES"); coalesce != "" {
		cfg.Sync.CoalesceWrites = coalesce == "true" || coalesce == "1"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server base URL is required")
	}
	if c.Sync.PushBatchSize <= 0 {
		return fmt.Errorf("push batch size must be positive")
	}
	if c.Sync.PullPageSize <= 0 {
		return fmt.Errorf("pull page size must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max attempts must be positive")
	}
	if c.Retry.BaseDelay.Std() <= 0 {
		return fmt.Errorf("retry base delay must be positive")
	}
	return nil
}
