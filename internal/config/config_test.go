package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agrathwohl/pvp/internal/model"
)

var allEnvVars = []string{
	"PVP_HTTP_ADDR", "PVP_GRPC_ADDR", "PVP_NATS_URL", "PVP_AUTH_TOKEN", "PVP_DATABASE_URL",
	"PVP_TICK_INTERVAL", "PVP_GATE_EXPIRY", "PVP_CAUSAL_HOLD", "PVP_CAUSAL_DELIVERED_LIMIT",
	"PVP_CONTENT_S3_BUCKET", "PVP_CONTENT_S3_REGION", "PVP_CONTENT_S3_ENDPOINT", "PVP_CONTENT_S3_PREFIX",
	"PVP_SYNC_INTERVAL", "PVP_SYNC_S3_BUCKET", "PVP_SYNC_S3_KEY", "PVP_SESSION_DEFAULTS",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name         string
		env          map[string]string
		wantErr      bool
		wantGRPCAddr string
		wantHTTPAddr string
		wantNATSURL  string
	}{
		{
			name:         "DefaultAddresses",
			env:          map[string]string{},
			wantGRPCAddr: ":9090",
			wantHTTPAddr: ":8080",
		},
		{
			name: "CustomAddresses",
			env: map[string]string{
				"PVP_GRPC_ADDR": ":5050",
				"PVP_HTTP_ADDR": ":3000",
				"PVP_NATS_URL":  "nats://localhost:4222",
			},
			wantGRPCAddr: ":5050",
			wantHTTPAddr: ":3000",
			wantNATSURL:  "nats://localhost:4222",
		},
		{
			name:    "BadDuration",
			env:     map[string]string{"PVP_GATE_EXPIRY": "soon"},
			wantErr: true,
		},
		{
			name:    "NegativeDuration",
			env:     map[string]string{"PVP_CAUSAL_HOLD": "-1s"},
			wantErr: true,
		},
		{
			name:    "BadDeliveredLimit",
			env:     map[string]string{"PVP_CAUSAL_DELIVERED_LIMIT": "lots"},
			wantErr: true,
		},
		{
			name:    "ZeroDeliveredLimit",
			env:     map[string]string{"PVP_CAUSAL_DELIVERED_LIMIT": "0"},
			wantErr: true,
		},
		{
			name:    "ZeroTick",
			env:     map[string]string{"PVP_TICK_INTERVAL": "0s"},
			wantErr: true,
		},
		{
			name:    "SyncWithoutBucket",
			env:     map[string]string{"PVP_SYNC_INTERVAL": "5m", "PVP_DATABASE_URL": "postgres://localhost/pvp"},
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.GRPCAddr != tc.wantGRPCAddr {
				t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, tc.wantGRPCAddr)
			}
			if cfg.HTTPAddr != tc.wantHTTPAddr {
				t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, tc.wantHTTPAddr)
			}
			if cfg.NATSURL != tc.wantNATSURL {
				t.Errorf("NATSURL = %q, want %q", cfg.NATSURL, tc.wantNATSURL)
			}
		})
	}
}

func TestLoad_Durations(t *testing.T) {
	clearAllEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TickInterval != time.Second || cfg.GateExpiry != 10*time.Minute || cfg.CausalHold != 30*time.Second || cfg.SyncInterval != 0 {
		t.Errorf("durations = tick %v expiry %v hold %v sync %v", cfg.TickInterval, cfg.GateExpiry, cfg.CausalHold, cfg.SyncInterval)
	}
	if cfg.DeliveredLimit != 10000 {
		t.Errorf("delivered limit = %d", cfg.DeliveredLimit)
	}
	if cfg.ContentS3Prefix != "pvp/content/" || cfg.SyncS3Key != "pvp/journal.jsonl" {
		t.Errorf("s3 defaults = %q %q", cfg.ContentS3Prefix, cfg.SyncS3Key)
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSessionDefaults(t *testing.T) {
	path := writeFile(t, `
require_approval_for = ["shell_execute", "network_request"]
default_gate_quorum = "majority"
max_participants = 4
ordering = "strict"
on_participant_timeout = "block"
`)
	cfg, err := LoadSessionDefaults(path)
	if err != nil {
		t.Fatalf("LoadSessionDefaults: %v", err)
	}
	if cfg.DefaultGateQuorum != model.Majority() || cfg.MaxParticipants != 4 || cfg.Ordering != model.OrderingStrict {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.OnParticipantTimeout != model.TimeoutBlock || !cfg.RequiresApproval(model.CategoryNetwork) {
		t.Errorf("cfg = %+v", cfg)
	}
	// Untouched keys keep the built-in defaults.
	if !cfg.AllowForks || cfg.IdleTimeoutSeconds != 60 {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadSessionDefaults_Rejects(t *testing.T) {
	for _, tc := range []struct {
		name string
		body string
		want string
	}{
		{"unknown key", `colour = "blue"`, "unknown key"},
		{"bad quorum", `default_gate_quorum = "any:0"`, "count"},
		{"invalid config", `max_participants = 0`, "max_participants"},
		{"bad toml", `ordering = `, "decode"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadSessionDefaults(writeFile(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestLoad_SessionDefaultsFile(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("PVP_SESSION_DEFAULTS", writeFile(t, `allow_forks = false`))
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SessionDefaults.AllowForks {
		t.Error("session defaults file not applied")
	}

	t.Setenv("PVP_SESSION_DEFAULTS", filepath.Join(t.TempDir(), "missing.toml"))
	if _, err := Load(); err == nil {
		t.Error("missing defaults file accepted")
	}
}

func TestLoad_DeliveredLimit(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("PVP_CAUSAL_DELIVERED_LIMIT", "50000")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DeliveredLimit != 50000 {
		t.Errorf("DeliveredLimit = %d, want 50000", cfg.DeliveredLimit)
	}
}
