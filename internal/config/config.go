package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	ServerAddress  string   `json:"serverAddress"`
	PublicEndpoint string   `json:"publicEndpoint"` // base URL embedded in QR payloads
	DatabasePath   string   `json:"databasePath"`
	DatabaseURL    string   `json:"databaseUrl"`
	Redis          Redis    `json:"redis"`
	Auth           Auth     `json:"auth"`
	Pairing        Pairing  `json:"pairing"`
	RateLimit      Rate     `json:"rateLimit"`
	Quota          Quota    `json:"quota"`
	Presence       Presence `json:"presence"`
	Sync           Sync     `json:"sync"`
	Telemetry      Tel      `json:"telemetry"`
}

// Redis configuration for the shared counter store. Empty address means the
// in-process counter store is used instead.
type Redis struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// Auth configuration: token signing and lifetimes.
type Auth struct {
	JWTSecret  string        `json:"jwtSecret"`
	AccessTTL  time.Duration `json:"-"`
	RefreshTTL time.Duration `json:"-"`
}

// Pairing configuration
type Pairing struct {
	TokenTTL time.Duration `json:"-"`
}

// Rate limiting configuration: fixed window per key.
type Rate struct {
	Window      time.Duration `json:"-"`
	MaxRequests int           `json:"maxRequests"`
}

// Quota configuration. Limits are per plan; trial accounts additionally
// expire entirely.
type Quota struct {
	MonthlyUploadBytes int64         `json:"monthlyUploadBytes"`
	StorageBytes       int64         `json:"storageBytes"`
	TrialDuration      time.Duration `json:"-"`
}

// Presence tuning. These are product-tuned constants, kept configurable.
type Presence struct {
	TypingDebounce     time.Duration `json:"-"`
	TypingTTL          time.Duration `json:"-"`
	ContinuityInterval time.Duration `json:"-"`
}

// Sync paging configuration
type Sync struct {
	InitialWindow int `json:"initialWindow"`
	MaxFetchLimit int `json:"maxFetchLimit"`
	MaxBatchSize  int `json:"maxBatchSize"`
}

// Tel configures OpenTelemetry export.
type Tel struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// UsePostgres returns true if PostgreSQL should be used
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// UseRedis returns true if a Redis counter store is configured
func (c *Config) UseRedis() bool {
	return c.Redis.Address != ""
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		ServerAddress:  ":5000",
		PublicEndpoint: "http://localhost:5000",
		DatabasePath:   "syncflow.db",
		Auth: Auth{
			JWTSecret:  "CHANGE_THIS_TO_A_SECURE_SECRET_AT_LEAST_32_CHARS",
			AccessTTL:  time.Hour,
			RefreshTTL: 30 * 24 * time.Hour,
		},
		Pairing: Pairing{
			TokenTTL: 10 * time.Minute,
		},
		RateLimit: Rate{
			Window:      time.Minute,
			MaxRequests: 120,
		},
		Quota: Quota{
			MonthlyUploadBytes: 1 << 30, // 1 GiB uploads per month
			StorageBytes:       5 << 30, // 5 GiB stored
			TrialDuration:      14 * 24 * time.Hour,
		},
		Presence: Presence{
			TypingDebounce:     300 * time.Millisecond,
			TypingTTL:          5 * time.Second,
			ContinuityInterval: 800 * time.Millisecond,
		},
		Sync: Sync{
			InitialWindow: 50,
			MaxFetchLimit: 500,
			MaxBatchSize:  1000,
		},
		Telemetry: Tel{
			Endpoint: "localhost:4317",
		},
	}
}

// Load loads configuration: defaults, then an optional config file, then a
// .env file, then environment variables. Later sources win.
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// .env values become environment variables; real ones win.
	_ = godotenv.Load()

	if addr := os.Getenv("SERVER_ADDRESS"); addr != "" {
		cfg.ServerAddress = addr
	}
	if endpoint := os.Getenv("PUBLIC_ENDPOINT"); endpoint != "" {
		cfg.PublicEndpoint = endpoint
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	if addr := os.Getenv("REDIS_ADDRESS"); addr != "" {
		cfg.Redis.Address = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			cfg.Redis.DB = n
		}
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}

	cfg.Auth.AccessTTL = envDuration("ACCESS_TOKEN_TTL", cfg.Auth.AccessTTL)
	cfg.Auth.RefreshTTL = envDuration("REFRESH_TOKEN_TTL", cfg.Auth.RefreshTTL)
	cfg.Pairing.TokenTTL = envDuration("PAIRING_TOKEN_TTL", cfg.Pairing.TokenTTL)
	cfg.RateLimit.Window = envDuration("RATE_LIMIT_WINDOW", cfg.RateLimit.Window)
	cfg.RateLimit.MaxRequests = envInt("RATE_LIMIT_MAX", cfg.RateLimit.MaxRequests)
	cfg.Quota.MonthlyUploadBytes = envInt64("QUOTA_MONTHLY_BYTES", cfg.Quota.MonthlyUploadBytes)
	cfg.Quota.StorageBytes = envInt64("QUOTA_STORAGE_BYTES", cfg.Quota.StorageBytes)
	cfg.Quota.TrialDuration = envDuration("TRIAL_DURATION", cfg.Quota.TrialDuration)
	cfg.Presence.TypingDebounce = envDuration("TYPING_DEBOUNCE", cfg.Presence.TypingDebounce)
	cfg.Presence.TypingTTL = envDuration("TYPING_TTL", cfg.Presence.TypingTTL)
	cfg.Presence.ContinuityInterval = envDuration("CONTINUITY_MIN_INTERVAL", cfg.Presence.ContinuityInterval)
	cfg.Sync.InitialWindow = envInt("SYNC_INITIAL_WINDOW", cfg.Sync.InitialWindow)
	cfg.Sync.MaxFetchLimit = envInt("SYNC_MAX_FETCH_LIMIT", cfg.Sync.MaxFetchLimit)
	cfg.Sync.MaxBatchSize = envInt("SYNC_MAX_BATCH_SIZE", cfg.Sync.MaxBatchSize)

	if enabled := os.Getenv("OTEL_ENABLED"); enabled != "" {
		cfg.Telemetry.Enabled = enabled == "true" || enabled == "1"
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Telemetry.Endpoint = endpoint
	}

	return cfg, nil
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if raw := os.Getenv(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if raw := os.Getenv(key); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
