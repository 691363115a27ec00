package infra

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"makerd/internal/domain"
)

// TradingConfig holds the runtime-modifiable trading parameters. The
// engine treats a value as immutable per tick and swaps the whole
// struct atomically at tick boundaries.
type TradingConfig struct {
	Symbol string `yaml:"symbol" json:"symbol"`

	// Half-spread each side, in basis points. BidSpreadBps/AskSpreadBps
	// override SpreadBps per side when > 0.
	SpreadBps    float64 `yaml:"spread_bps" json:"spread_bps"`
	BidSpreadBps float64 `yaml:"bid_spread_bps" json:"bid_spread_bps"`
	AskSpreadBps float64 `yaml:"ask_spread_bps" json:"ask_spread_bps"`

	BidNotional float64 `yaml:"bid_notional" json:"bid_notional"`
	AskNotional float64 `yaml:"ask_notional" json:"ask_notional"`

	RefreshIntervalSeconds float64 `yaml:"refresh_interval_seconds" json:"refresh_interval_seconds"`
	RequoteThresholdBps    float64 `yaml:"requote_threshold_bps" json:"requote_threshold_bps"`
	ProximityGuardBps      float64 `yaml:"proximity_guard_bps" json:"proximity_guard_bps"`

	MaxNotional            float64 `yaml:"max_notional" json:"max_notional"`
	MaxPosition            float64 `yaml:"max_position" json:"max_position"`
	MaxConsecutiveFailures int     `yaml:"max_consecutive_failures" json:"max_consecutive_failures"`
	StaleOrderSeconds      float64 `yaml:"stale_order_seconds" json:"stale_order_seconds"`
	MaxSpreadDeviationBps  float64 `yaml:"max_spread_deviation_bps" json:"max_spread_deviation_bps"`

	UptimeTargetMinutes int `yaml:"uptime_target_minutes" json:"uptime_target_minutes"`

	// Inventory skew factor in bps at full position. 0 disables skew.
	SkewFactorBps float64 `yaml:"skew_factor_bps" json:"skew_factor_bps"`
}

// RefreshInterval returns the engine tick period.
func (t TradingConfig) RefreshInterval() time.Duration {
	return time.Duration(t.RefreshIntervalSeconds * float64(time.Second))
}

// StaleOrderAge returns the max resting age before a forced requote.
func (t TradingConfig) StaleOrderAge() time.Duration {
	return time.Duration(t.StaleOrderSeconds * float64(time.Second))
}

// EffectiveBidSpreadBps resolves the per-side bid spread.
func (t TradingConfig) EffectiveBidSpreadBps() float64 {
	if t.BidSpreadBps > 0 {
		return t.BidSpreadBps
	}
	return t.SpreadBps
}

// EffectiveAskSpreadBps resolves the per-side ask spread.
func (t TradingConfig) EffectiveAskSpreadBps() float64 {
	if t.AskSpreadBps > 0 {
		return t.AskSpreadBps
	}
	return t.SpreadBps
}

// TotalSpreadBps is the full configured spread (bid side + ask side),
// the number uptime classification keys on.
func (t TradingConfig) TotalSpreadBps() float64 {
	return t.EffectiveBidSpreadBps() + t.EffectiveAskSpreadBps()
}

// TradingConfigUpdate carries a partial config change. Nil fields keep
// their current values.
type TradingConfigUpdate struct {
	Symbol                 *string  `json:"symbol,omitempty"`
	SpreadBps              *float64 `json:"spread_bps,omitempty"`
	BidSpreadBps           *float64 `json:"bid_spread_bps,omitempty"`
	AskSpreadBps           *float64 `json:"ask_spread_bps,omitempty"`
	BidNotional            *float64 `json:"bid_notional,omitempty"`
	AskNotional            *float64 `json:"ask_notional,omitempty"`
	RefreshIntervalSeconds *float64 `json:"refresh_interval_seconds,omitempty"`
	RequoteThresholdBps    *float64 `json:"requote_threshold_bps,omitempty"`
	ProximityGuardBps      *float64 `json:"proximity_guard_bps,omitempty"`
	MaxNotional            *float64 `json:"max_notional,omitempty"`
	MaxPosition            *float64 `json:"max_position,omitempty"`
	StaleOrderSeconds      *float64 `json:"stale_order_seconds,omitempty"`
	SkewFactorBps          *float64 `json:"skew_factor_bps,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u TradingConfigUpdate) IsEmpty() bool {
	return u.Symbol == nil && u.SpreadBps == nil && u.BidSpreadBps == nil &&
		u.AskSpreadBps == nil && u.BidNotional == nil && u.AskNotional == nil &&
		u.RefreshIntervalSeconds == nil && u.RequoteThresholdBps == nil &&
		u.ProximityGuardBps == nil && u.MaxNotional == nil && u.MaxPosition == nil &&
		u.StaleOrderSeconds == nil && u.SkewFactorBps == nil
}

// Apply returns a copy of cfg with the present fields replaced.
func (u TradingConfigUpdate) Apply(cfg TradingConfig) TradingConfig {
	out := cfg
	if u.Symbol != nil {
		out.Symbol = *u.Symbol
	}
	if u.SpreadBps != nil {
		out.SpreadBps = *u.SpreadBps
	}
	if u.BidSpreadBps != nil {
		out.BidSpreadBps = *u.BidSpreadBps
	}
	if u.AskSpreadBps != nil {
		out.AskSpreadBps = *u.AskSpreadBps
	}
	if u.BidNotional != nil {
		out.BidNotional = *u.BidNotional
	}
	if u.AskNotional != nil {
		out.AskNotional = *u.AskNotional
	}
	if u.RefreshIntervalSeconds != nil {
		out.RefreshIntervalSeconds = *u.RefreshIntervalSeconds
	}
	if u.RequoteThresholdBps != nil {
		out.RequoteThresholdBps = *u.RequoteThresholdBps
	}
	if u.ProximityGuardBps != nil {
		out.ProximityGuardBps = *u.ProximityGuardBps
	}
	if u.MaxNotional != nil {
		out.MaxNotional = *u.MaxNotional
	}
	if u.MaxPosition != nil {
		out.MaxPosition = *u.MaxPosition
	}
	if u.StaleOrderSeconds != nil {
		out.StaleOrderSeconds = *u.StaleOrderSeconds
	}
	if u.SkewFactorBps != nil {
		out.SkewFactorBps = *u.SkewFactorBps
	}
	return out
}

// Config holds the whole application configuration. Secrets can be
// overridden through environment variables after the file is parsed.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	API struct {
		StandX struct {
			RestURL       string `yaml:"rest_url"`
			WSURL         string `yaml:"ws_url"`
			JWTToken      string `yaml:"jwt_token"`
			Ed25519Key    string `yaml:"ed25519_private_key"`
			WalletAddress string `yaml:"wallet_address"`
			Chain         string `yaml:"chain"`
		} `yaml:"standx"`
	} `yaml:"api"`

	Trading TradingConfig `yaml:"trading"`

	Server struct {
		ListenAddr      string `yaml:"listen_addr"`
		BroadcastHz     int    `yaml:"broadcast_hz"`
		EnablePprof     bool   `yaml:"enable_pprof"`
		PprofListenAddr string `yaml:"pprof_listen_addr"`
	} `yaml:"server"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.API.StandX.RestURL == "" || !strings.HasPrefix(c.API.StandX.RestURL, "http") {
		return fmt.Errorf("invalid StandX REST URL: %s", c.API.StandX.RestURL)
	}
	if c.API.StandX.WSURL == "" || (!strings.HasPrefix(c.API.StandX.WSURL, "ws://") && !strings.HasPrefix(c.API.StandX.WSURL, "wss://")) {
		return fmt.Errorf("invalid StandX WS URL: %s", c.API.StandX.WSURL)
	}
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen address is required")
	}
	if c.Server.BroadcastHz <= 0 {
		c.Server.BroadcastHz = 1
	}
	return c.Trading.Validate()
}

// Validate rejects non-positive trading parameters and unsupported symbols.
func (t *TradingConfig) Validate() error {
	if !domain.IsSupportedSymbol(t.Symbol) {
		return &domain.ConfigError{Field: "symbol", Err: domain.ErrInvalidSymbol}
	}
	positives := map[string]float64{
		"spread_bps":               t.SpreadBps,
		"bid_notional":             t.BidNotional,
		"ask_notional":             t.AskNotional,
		"refresh_interval_seconds": t.RefreshIntervalSeconds,
		"requote_threshold_bps":    t.RequoteThresholdBps,
		"proximity_guard_bps":      t.ProximityGuardBps,
		"max_notional":             t.MaxNotional,
		"max_position":             t.MaxPosition,
		"stale_order_seconds":      t.StaleOrderSeconds,
		"max_spread_deviation_bps": t.MaxSpreadDeviationBps,
	}
	for field, v := range positives {
		if v <= 0 {
			return &domain.ConfigError{Field: field, Err: fmt.Errorf("must be positive, got %v", v)}
		}
	}
	if t.MaxConsecutiveFailures <= 0 {
		return &domain.ConfigError{Field: "max_consecutive_failures", Err: fmt.Errorf("must be positive, got %d", t.MaxConsecutiveFailures)}
	}
	if t.UptimeTargetMinutes <= 0 || t.UptimeTargetMinutes > 60 {
		return &domain.ConfigError{Field: "uptime_target_minutes", Err: fmt.Errorf("must be in (0, 60], got %d", t.UptimeTargetMinutes)}
	}
	if t.SkewFactorBps < 0 {
		return &domain.ConfigError{Field: "skew_factor_bps", Err: fmt.Errorf("must not be negative, got %v", t.SkewFactorBps)}
	}
	return nil
}

// overrideWithEnv replaces secrets with environment values when present.
func overrideWithEnv(cfg *Config) {
	if token := os.Getenv("MAKERD_STANDX_JWT"); token != "" {
		cfg.API.StandX.JWTToken = token
	}
	if key := os.Getenv("MAKERD_STANDX_ED25519_KEY"); key != "" {
		cfg.API.StandX.Ed25519Key = key
	}
	if addr := os.Getenv("MAKERD_STANDX_WALLET"); addr != "" {
		cfg.API.StandX.WalletAddress = addr
	}
}
