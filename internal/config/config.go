package config

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type GridMode string

const (
	GridArithmetic GridMode = "arithmetic"
	GridGeometric  GridMode = "geometric"
)

// Env fallbacks for credentials, so secrets can stay out of the YAML file.
const (
	envAPIKey    = "BACKPACK_API_KEY"
	envAPISecret = "BACKPACK_API_SECRET"
)

type Config struct {
	Symbol        string              `yaml:"symbol"`
	InstanceID    string              `yaml:"instance_id"`
	Grid          GridConfig          `yaml:"grid"`
	Risk          RiskConfig          `yaml:"risk"`
	Engine        EngineConfig        `yaml:"engine"`
	Exchange      ExchangeConfig      `yaml:"exchange"`
	Safety        SafetyConfig        `yaml:"safety"`
	State         StateConfig         `yaml:"state"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type GridConfig struct {
	LowerPrice    Decimal  `yaml:"lower_price"`
	UpperPrice    Decimal  `yaml:"upper_price"`
	Levels        int      `yaml:"levels"`
	Mode          GridMode `yaml:"mode"`
	Investment    Decimal  `yaml:"investment"`
	MinOrderSize  Decimal  `yaml:"min_order_size"`
	MaxOpenOrders int      `yaml:"max_open_orders"`
	FeeRate       Decimal  `yaml:"fee_rate"`
	PriceBand     Decimal  `yaml:"price_band"`
}

type RiskConfig struct {
	StopLossPrice   Decimal `yaml:"stop_loss_price"`
	TakeProfitPrice Decimal `yaml:"take_profit_price"`
}

type EngineConfig struct {
	PollIntervalSec int64  `yaml:"poll_interval_sec"`
	TimeInForce     string `yaml:"time_in_force"`
	PostOnly        *bool  `yaml:"post_only"`
}

type ExchangeConfig struct {
	APIKey         string `yaml:"api_key"`
	APISecret      string `yaml:"api_secret"`
	RestBaseURL    string `yaml:"rest_base_url"`
	WSBaseURL      string `yaml:"ws_base_url"`
	RecvWindowMs   int64  `yaml:"recv_window_ms"`
	HTTPTimeoutSec int64  `yaml:"http_timeout_sec"`
}

type SafetyConfig struct {
	Enabled           bool `yaml:"enabled"`
	MaxPlaceFailures  int  `yaml:"max_place_failures"`
	MaxCancelFailures int  `yaml:"max_cancel_failures"`
}

type StateConfig struct {
	Dir          string `yaml:"dir"`
	LockTakeover *bool  `yaml:"lock_takeover"`
	LockStaleSec int64  `yaml:"lock_stale_sec"`
}

type ObservabilityConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
}

type TelegramConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BotToken   string `yaml:"bot_token"`
	ChatID     string `yaml:"chat_id"`
	APIBaseURL string `yaml:"api_base_url"`
	TimeoutSec int64  `yaml:"timeout_sec"`
}

type RuntimeConfig struct {
	AlertDropReportSec int64 `yaml:"alert_drop_report_sec"`
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return Config{}, fmt.Errorf("config must contain a single YAML document")
		}
		return Config{}, err
	}
	cfg.normalize()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	c.InstanceID = strings.ToLower(strings.TrimSpace(c.InstanceID))
	c.Grid.Mode = GridMode(strings.ToLower(strings.TrimSpace(string(c.Grid.Mode))))
	c.Engine.TimeInForce = strings.ToUpper(strings.TrimSpace(c.Engine.TimeInForce))
	c.Exchange.APIKey = strings.TrimSpace(c.Exchange.APIKey)
	c.Exchange.APISecret = strings.TrimSpace(c.Exchange.APISecret)
	c.Exchange.RestBaseURL = strings.TrimSpace(c.Exchange.RestBaseURL)
	c.Exchange.WSBaseURL = strings.TrimSpace(c.Exchange.WSBaseURL)
	c.State.Dir = strings.TrimSpace(c.State.Dir)
	c.Observability.Telegram.BotToken = strings.TrimSpace(c.Observability.Telegram.BotToken)
	c.Observability.Telegram.ChatID = strings.TrimSpace(c.Observability.Telegram.ChatID)
	c.Observability.Telegram.APIBaseURL = strings.TrimSpace(c.Observability.Telegram.APIBaseURL)
}

func (c *Config) applyDefaults() {
	if c.InstanceID == "" {
		c.InstanceID = "default"
	}
	if c.Grid.Mode == "" {
		c.Grid.Mode = GridArithmetic
	}
	if c.Grid.FeeRate.Cmp(decimal.Zero) == 0 {
		c.Grid.FeeRate = Decimal{decimal.RequireFromString("0.003")}
	}
	if c.Grid.PriceBand.Cmp(decimal.Zero) == 0 {
		c.Grid.PriceBand = Decimal{decimal.RequireFromString("0.1")}
	}
	if c.Engine.PollIntervalSec == 0 {
		c.Engine.PollIntervalSec = 10
	}
	if c.Engine.TimeInForce == "" {
		c.Engine.TimeInForce = "GTC"
	}
	if c.Engine.PostOnly == nil {
		enabled := true
		c.Engine.PostOnly = &enabled
	}
	if c.Exchange.APIKey == "" {
		c.Exchange.APIKey = strings.TrimSpace(os.Getenv(envAPIKey))
	}
	if c.Exchange.APISecret == "" {
		c.Exchange.APISecret = strings.TrimSpace(os.Getenv(envAPISecret))
	}
	if c.Exchange.RestBaseURL == "" {
		c.Exchange.RestBaseURL = "https://api.backpack.exchange"
	}
	if c.Exchange.WSBaseURL == "" {
		c.Exchange.WSBaseURL = "wss://ws.backpack.exchange"
	}
	if c.Exchange.RecvWindowMs == 0 {
		c.Exchange.RecvWindowMs = 5000
	}
	if c.Exchange.HTTPTimeoutSec == 0 {
		c.Exchange.HTTPTimeoutSec = 30
	}
	if c.Safety.MaxPlaceFailures == 0 {
		c.Safety.MaxPlaceFailures = 5
	}
	if c.Safety.MaxCancelFailures == 0 {
		c.Safety.MaxCancelFailures = 5
	}
	if c.State.Dir == "" {
		c.State.Dir = "state"
	}
	if c.State.LockTakeover == nil {
		enabled := true
		c.State.LockTakeover = &enabled
	}
	if c.State.LockStaleSec == 0 {
		c.State.LockStaleSec = 600
	}
	if c.Observability.Telegram.APIBaseURL == "" {
		c.Observability.Telegram.APIBaseURL = "https://api.telegram.org"
	}
	if c.Observability.Telegram.TimeoutSec == 0 {
		c.Observability.Telegram.TimeoutSec = 10
	}
	if c.Observability.Runtime.AlertDropReportSec == 0 {
		c.Observability.Runtime.AlertDropReportSec = 60
	}
}

func (c Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !isValidSymbol(c.Symbol) {
		return fmt.Errorf("symbol must be BASE_QUOTE with [A-Z0-9] parts, e.g. SOL_USDC")
	}
	if !isValidInstanceID(c.InstanceID) {
		return fmt.Errorf("instance_id must match [a-z0-9_-], length 1..24")
	}
	if c.Grid.Levels < 1 {
		return fmt.Errorf("grid levels must be >= 1")
	}
	if c.Grid.Mode != GridArithmetic && c.Grid.Mode != GridGeometric {
		return fmt.Errorf("grid mode must be arithmetic or geometric")
	}
	if c.Grid.LowerPrice.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("grid lower_price must be > 0")
	}
	if c.Grid.UpperPrice.Cmp(c.Grid.LowerPrice.Decimal) <= 0 {
		return fmt.Errorf("grid upper_price must be > lower_price")
	}
	if c.Grid.Investment.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("grid investment must be > 0")
	}
	if c.Grid.MinOrderSize.Cmp(decimal.Zero) < 0 {
		return fmt.Errorf("grid min_order_size must be >= 0")
	}
	if c.Grid.MaxOpenOrders < 0 {
		return fmt.Errorf("grid max_open_orders must be >= 0")
	}
	one := decimal.NewFromInt(1)
	if c.Grid.FeeRate.Cmp(decimal.Zero) < 0 || c.Grid.FeeRate.Cmp(one) >= 0 {
		return fmt.Errorf("grid fee_rate must be in [0, 1)")
	}
	if c.Grid.PriceBand.Cmp(decimal.Zero) <= 0 || c.Grid.PriceBand.Cmp(one) >= 0 {
		return fmt.Errorf("grid price_band must be in (0, 1)")
	}
	if c.Risk.StopLossPrice.Cmp(decimal.Zero) < 0 {
		return fmt.Errorf("risk stop_loss_price must be >= 0")
	}
	if c.Risk.TakeProfitPrice.Cmp(decimal.Zero) < 0 {
		return fmt.Errorf("risk take_profit_price must be >= 0")
	}
	stopSet := c.Risk.StopLossPrice.Cmp(decimal.Zero) > 0
	takeSet := c.Risk.TakeProfitPrice.Cmp(decimal.Zero) > 0
	if stopSet && takeSet && c.Risk.StopLossPrice.Cmp(c.Risk.TakeProfitPrice.Decimal) >= 0 {
		return fmt.Errorf("risk stop_loss_price must be < take_profit_price")
	}
	if c.Engine.PollIntervalSec < 1 || c.Engine.PollIntervalSec > 3600 {
		return fmt.Errorf("engine poll_interval_sec must be between 1 and 3600")
	}
	switch c.Engine.TimeInForce {
	case "GTC", "IOC", "FOK":
	default:
		return fmt.Errorf("engine time_in_force must be GTC, IOC, or FOK")
	}
	if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
		return fmt.Errorf("exchange api_key/api_secret are required (yaml or %s/%s)", envAPIKey, envAPISecret)
	}
	if c.Exchange.RecvWindowMs < 1 || c.Exchange.RecvWindowMs > 60000 {
		return fmt.Errorf("exchange recv_window_ms must be between 1 and 60000")
	}
	if c.Exchange.HTTPTimeoutSec < 1 || c.Exchange.HTTPTimeoutSec > 120 {
		return fmt.Errorf("exchange http_timeout_sec must be between 1 and 120")
	}
	if err := validateURL(c.Exchange.RestBaseURL, "http", "https"); err != nil {
		return fmt.Errorf("exchange rest_base_url %v", err)
	}
	if err := validateURL(c.Exchange.WSBaseURL, "ws", "wss"); err != nil {
		return fmt.Errorf("exchange ws_base_url %v", err)
	}
	if c.Safety.Enabled {
		if c.Safety.MaxPlaceFailures < 1 {
			return fmt.Errorf("safety.max_place_failures must be >= 1")
		}
		if c.Safety.MaxCancelFailures < 1 {
			return fmt.Errorf("safety.max_cancel_failures must be >= 1")
		}
	}
	if c.State.LockStaleSec < 0 || c.State.LockStaleSec > 86400 {
		return fmt.Errorf("state.lock_stale_sec must be between 0 and 86400")
	}
	if c.Observability.Runtime.AlertDropReportSec < 0 || c.Observability.Runtime.AlertDropReportSec > 3600 {
		return fmt.Errorf("observability.runtime.alert_drop_report_sec must be between 0 and 3600")
	}
	if c.Observability.Telegram.Enabled {
		if c.Observability.Telegram.BotToken == "" {
			return fmt.Errorf("observability.telegram.bot_token is required when telegram enabled")
		}
		if c.Observability.Telegram.ChatID == "" {
			return fmt.Errorf("observability.telegram.chat_id is required when telegram enabled")
		}
		if c.Observability.Telegram.TimeoutSec < 1 || c.Observability.Telegram.TimeoutSec > 120 {
			return fmt.Errorf("observability.telegram.timeout_sec must be between 1 and 120")
		}
		if err := validateURL(c.Observability.Telegram.APIBaseURL, "http", "https"); err != nil {
			return fmt.Errorf("observability.telegram.api_base_url %v", err)
		}
	}
	return nil
}

func isValidInstanceID(v string) bool {
	if len(v) < 1 || len(v) > 24 {
		return false
	}
	for _, r := range v {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

// isValidSymbol accepts the venue's BASE_QUOTE form, e.g. SOL_USDC.
func isValidSymbol(v string) bool {
	base, quote, found := strings.Cut(v, "_")
	if !found || base == "" || quote == "" {
		return false
	}
	for _, part := range []string{base, quote} {
		for _, r := range part {
			if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
				continue
			}
			return false
		}
	}
	return true
}

func validateURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("must include scheme and host")
	}
	for _, s := range schemes {
		if parsed.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme must be %s", strings.Join(schemes, " or "))
}
