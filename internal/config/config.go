package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/agrathwohl/pvp/internal/model"
	"github.com/agrathwohl/pvp/internal/ordering"
)

type Config struct {
	HTTPAddr    string // PVP_HTTP_ADDR (default ":8080")
	GRPCAddr    string // PVP_GRPC_ADDR (default ":9090")
	NATSURL     string // PVP_NATS_URL (optional, empty = no fan-out or NATS ingress)
	AuthToken   string // PVP_AUTH_TOKEN (optional, empty = auth disabled)
	DatabaseURL string // PVP_DATABASE_URL (optional, empty = no journal)

	TickInterval time.Duration // PVP_TICK_INTERVAL (default 1s)
	GateExpiry   time.Duration // PVP_GATE_EXPIRY (default 10m; 0 = never)
	CausalHold   time.Duration // PVP_CAUSAL_HOLD (default 30s; 0 = hold forever)
	// Delivered message ids each session remembers for dependency checks.
	DeliveredLimit int // PVP_CAUSAL_DELIVERED_LIMIT (default 10000)

	// Content store settings
	ContentS3Bucket   string // PVP_CONTENT_S3_BUCKET (enables S3 content store when set)
	ContentS3Region   string // PVP_CONTENT_S3_REGION (default "us-east-1")
	ContentS3Endpoint string // PVP_CONTENT_S3_ENDPOINT (custom endpoint for MinIO)
	ContentS3Prefix   string // PVP_CONTENT_S3_PREFIX (default "pvp/content/")

	// Sync settings
	SyncInterval time.Duration // PVP_SYNC_INTERVAL (default 0 = disabled)
	SyncS3Bucket string        // PVP_SYNC_S3_BUCKET
	SyncS3Key    string        // PVP_SYNC_S3_KEY (default "pvp/journal.jsonl")

	// SessionDefaults seeds every session.create. Loaded from the TOML
	// file named by PVP_SESSION_DEFAULTS when set.
	SessionDefaults model.SessionConfig
}

func Load() (*Config, error) {
	c := &Config{
		HTTPAddr:          envOrDefault("PVP_HTTP_ADDR", ":8080"),
		GRPCAddr:          envOrDefault("PVP_GRPC_ADDR", ":9090"),
		NATSURL:           os.Getenv("PVP_NATS_URL"),
		AuthToken:         os.Getenv("PVP_AUTH_TOKEN"),
		DatabaseURL:       os.Getenv("PVP_DATABASE_URL"),
		ContentS3Bucket:   os.Getenv("PVP_CONTENT_S3_BUCKET"),
		ContentS3Region:   envOrDefault("PVP_CONTENT_S3_REGION", "us-east-1"),
		ContentS3Endpoint: os.Getenv("PVP_CONTENT_S3_ENDPOINT"),
		ContentS3Prefix:   envOrDefault("PVP_CONTENT_S3_PREFIX", "pvp/content/"),
		SyncS3Bucket:      os.Getenv("PVP_SYNC_S3_BUCKET"),
		SyncS3Key:         envOrDefault("PVP_SYNC_S3_KEY", "pvp/journal.jsonl"),
		SessionDefaults:   model.DefaultSessionConfig(),
	}

	for _, d := range []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"PVP_TICK_INTERVAL", "1s", &c.TickInterval},
		{"PVP_GATE_EXPIRY", "10m", &c.GateExpiry},
		{"PVP_CAUSAL_HOLD", "30s", &c.CausalHold},
		{"PVP_SYNC_INTERVAL", "0", &c.SyncInterval},
	} {
		v, err := time.ParseDuration(envOrDefault(d.key, d.fallback))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("%s: must not be negative", d.key)
		}
		*d.dst = v
	}
	limit, err := strconv.Atoi(envOrDefault("PVP_CAUSAL_DELIVERED_LIMIT", strconv.Itoa(ordering.DefaultDeliveredLimit)))
	if err != nil || limit <= 0 {
		return nil, fmt.Errorf("PVP_CAUSAL_DELIVERED_LIMIT: must be a positive integer")
	}
	c.DeliveredLimit = limit

	if c.TickInterval == 0 {
		return nil, fmt.Errorf("PVP_TICK_INTERVAL: must be positive")
	}
	if c.SyncInterval > 0 && (c.SyncS3Bucket == "" || c.DatabaseURL == "") {
		return nil, fmt.Errorf("PVP_SYNC_INTERVAL requires PVP_SYNC_S3_BUCKET and PVP_DATABASE_URL")
	}

	if path := os.Getenv("PVP_SESSION_DEFAULTS"); path != "" {
		defaults, err := LoadSessionDefaults(path)
		if err != nil {
			return nil, fmt.Errorf("PVP_SESSION_DEFAULTS: %w", err)
		}
		c.SessionDefaults = defaults
	}

	return c, nil
}

// LoadSessionDefaults reads a TOML file of session settings layered over
// the built-in defaults. Unknown keys are rejected.
func LoadSessionDefaults(path string) (model.SessionConfig, error) {
	cfg := model.DefaultSessionConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return model.SessionConfig{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return model.SessionConfig{}, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}
	if err := cfg.Validate(); err != nil {
		return model.SessionConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
