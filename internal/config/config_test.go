package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

const validConfig = `
symbol: sol_usdc
grid:
  lower_price: "100"
  upper_price: "200"
  levels: 4
  investment: "1000"
risk:
  stop_loss_price: "80"
  take_profit_price: "250"
exchange:
  api_key: "pubkey"
  api_secret: "secret"
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Symbol != "SOL_USDC" {
		t.Errorf("Symbol = %q, want normalized SOL_USDC", cfg.Symbol)
	}
	if cfg.InstanceID != "default" {
		t.Errorf("InstanceID = %q, want default", cfg.InstanceID)
	}
	if cfg.Grid.Mode != GridArithmetic {
		t.Errorf("Grid.Mode = %q, want arithmetic", cfg.Grid.Mode)
	}
	if !cfg.Grid.FeeRate.Equal(decimal.RequireFromString("0.003")) {
		t.Errorf("Grid.FeeRate = %s, want 0.003", cfg.Grid.FeeRate)
	}
	if !cfg.Grid.PriceBand.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("Grid.PriceBand = %s, want 0.1", cfg.Grid.PriceBand)
	}
	if cfg.Engine.PollIntervalSec != 10 {
		t.Errorf("Engine.PollIntervalSec = %d, want 10", cfg.Engine.PollIntervalSec)
	}
	if cfg.Engine.TimeInForce != "GTC" {
		t.Errorf("Engine.TimeInForce = %q, want GTC", cfg.Engine.TimeInForce)
	}
	if cfg.Engine.PostOnly == nil || !*cfg.Engine.PostOnly {
		t.Errorf("Engine.PostOnly = %v, want true", cfg.Engine.PostOnly)
	}
	if cfg.Exchange.RestBaseURL != "https://api.backpack.exchange" {
		t.Errorf("Exchange.RestBaseURL = %q", cfg.Exchange.RestBaseURL)
	}
	if cfg.Exchange.WSBaseURL != "wss://ws.backpack.exchange" {
		t.Errorf("Exchange.WSBaseURL = %q", cfg.Exchange.WSBaseURL)
	}
	if cfg.Exchange.RecvWindowMs != 5000 {
		t.Errorf("Exchange.RecvWindowMs = %d, want 5000", cfg.Exchange.RecvWindowMs)
	}
	if cfg.State.Dir != "state" {
		t.Errorf("State.Dir = %q, want state", cfg.State.Dir)
	}
	if cfg.State.LockTakeover == nil || !*cfg.State.LockTakeover {
		t.Errorf("State.LockTakeover = %v, want true", cfg.State.LockTakeover)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	content := validConfig + "\nleverage: 10\n"
	if _, err := Load(writeTempConfig(t, content)); err == nil {
		t.Fatalf("Load() error = nil, want unknown-field error")
	}
}

func TestLoadRejectsMultipleDocuments(t *testing.T) {
	content := validConfig + "\n---\nsymbol: BTC_USDC\n"
	_, err := Load(writeTempConfig(t, content))
	if err == nil || !strings.Contains(err.Error(), "single YAML document") {
		t.Fatalf("Load() error = %v, want single-document error", err)
	}
}

func TestLoadCredentialsFromEnv(t *testing.T) {
	content := strings.ReplaceAll(validConfig, `  api_key: "pubkey"`, "")
	content = strings.ReplaceAll(content, `  api_secret: "secret"`, "")
	t.Setenv(envAPIKey, "env-key")
	t.Setenv(envAPISecret, "env-secret")

	cfg, err := Load(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Exchange.APIKey != "env-key" || cfg.Exchange.APISecret != "env-secret" {
		t.Fatalf("credentials = %q/%q, want env fallback", cfg.Exchange.APIKey, cfg.Exchange.APISecret)
	}
}

func TestLoadValidationFailures(t *testing.T) {
	t.Setenv(envAPIKey, "")
	t.Setenv(envAPISecret, "")
	cases := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "bad symbol",
			mutate:  func(s string) string { return strings.Replace(s, "sol_usdc", "solusdc", 1) },
			wantErr: "symbol must be BASE_QUOTE",
		},
		{
			name:    "inverted bounds",
			mutate:  func(s string) string { return strings.Replace(s, `upper_price: "200"`, `upper_price: "50"`, 1) },
			wantErr: "upper_price must be > lower_price",
		},
		{
			name:    "zero levels",
			mutate:  func(s string) string { return strings.Replace(s, "levels: 4", "levels: 0", 1) },
			wantErr: "levels must be >= 1",
		},
		{
			name: "stop above take",
			mutate: func(s string) string {
				return strings.Replace(s, `stop_loss_price: "80"`, `stop_loss_price: "300"`, 1)
			},
			wantErr: "stop_loss_price must be < take_profit_price",
		},
		{
			name: "bad time in force",
			mutate: func(s string) string {
				return s + "engine:\n  time_in_force: DAY\n"
			},
			wantErr: "time_in_force must be GTC, IOC, or FOK",
		},
		{
			name: "missing credentials",
			mutate: func(s string) string {
				s = strings.ReplaceAll(s, `  api_key: "pubkey"`, "")
				return strings.ReplaceAll(s, `  api_secret: "secret"`, "")
			},
			wantErr: "api_key/api_secret are required",
		},
		{
			name: "bad rest url scheme",
			mutate: func(s string) string {
				return s + "  rest_base_url: ftp://api.backpack.exchange\n"
			},
			wantErr: "rest_base_url",
		},
		{
			name: "telegram enabled without token",
			mutate: func(s string) string {
				return s + "observability:\n  telegram:\n    enabled: true\n    chat_id: \"42\"\n"
			},
			wantErr: "bot_token is required",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tc.mutate(validConfig)))
			if err == nil {
				t.Fatalf("Load() error = nil, want %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Load() error = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadGeometricMode(t *testing.T) {
	content := strings.Replace(validConfig, "levels: 4", "levels: 4\n  mode: GEOMETRIC", 1)
	cfg, err := Load(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Grid.Mode != GridGeometric {
		t.Fatalf("Grid.Mode = %q, want geometric", cfg.Grid.Mode)
	}
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	content := strings.Replace(validConfig, "levels: 4", "levels: 4\n  mode: linear", 1)
	_, err := Load(writeTempConfig(t, content))
	if err == nil || !strings.Contains(err.Error(), "mode must be arithmetic or geometric") {
		t.Fatalf("Load() error = %v, want mode error", err)
	}
}
