// Package config defines all configuration for the copy-trading platform.
// Config is loaded from a YAML file (default: configs/config.yaml) with the
// flat platform environment keys (REDIS_URL, ACCOUNTS_JSON, ...) taking
// precedence, so container deployments can run without a file at all.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/yalvarez/trading-platform/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Router   RouterConfig   `mapstructure:"router"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Manager  ManagerConfig  `mapstructure:"manager"`
	Notifier NotifierConfig `mapstructure:"notifier"`
	Ops      OpsConfig      `mapstructure:"ops"`
	Logging  LoggingConfig  `mapstructure:"logging"`

	// TradingWindows is a comma-separated list of HH:MM-HH:MM intervals in
	// New York time. Signals outside every window are skipped.
	TradingWindows string `mapstructure:"trading_windows"`

	// AccountsJSON / ChannelsJSON are the raw JSON blobs the admin side
	// publishes (ACCOUNTS_JSON / CHANNELS_CONFIG_JSON). Parsed into
	// Accounts and Channels during Load.
	AccountsJSON string `mapstructure:"accounts_json"`
	ChannelsJSON string `mapstructure:"channels_config_json"`

	Accounts []types.Account     `mapstructure:"accounts"`
	Channels map[string][]string `mapstructure:"channels"` // chat id → parser names
}

// RedisConfig holds the event-bus and dedup-store connection.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// RouterConfig tunes signal routing and deduplication.
//
//   - DedupTTL: window within which an identical signal is suppressed.
//   - FastUpdateWindow: how long a FAST signal waits for its complete
//     follow-up before the follow-up counts as a new trade.
type RouterConfig struct {
	DedupTTL         time.Duration `mapstructure:"dedup_ttl"`
	FastUpdateWindow time.Duration `mapstructure:"fast_update_window"`
}

// ExecutorConfig tunes order execution against the MT5 terminals.
//
//   - Magic: identifies platform positions; foreign magic numbers are ignored.
//   - EntryBandPips: tolerance added beyond the signalled range (BUY above
//     hi, SELL below lo) before an entry is rejected outright.
//   - EntryWait/EntryPoll: budget and cadence for waiting on an off-band price.
//   - DefaultSLPips / DefaultSLXAUPips: fallback stop distance when a signal
//     carries no SL.
//   - AccountTimeout: per-account budget inside a multi-account open.
//   - FillOverrides: broker/symbol combinations forced to a specific filling
//     mode, e.g. brokers that only accept FOK on metals.
type ExecutorConfig struct {
	Magic            int64          `mapstructure:"magic"`
	Deviation        int            `mapstructure:"deviation"`
	CommentPrefix    string         `mapstructure:"comment_prefix"`
	EntryBandPips    float64        `mapstructure:"entry_band_pips"`
	EntryWait        time.Duration  `mapstructure:"entry_wait"`
	EntryPoll        time.Duration  `mapstructure:"entry_poll"`
	DefaultSLPips    float64        `mapstructure:"default_sl_pips"`
	DefaultSLXAUPips float64        `mapstructure:"default_sl_xauusd_pips"`
	AccountTimeout   time.Duration  `mapstructure:"account_timeout"`
	RequestTimeout   time.Duration  `mapstructure:"request_timeout"`
	FillOverrides    []FillOverride `mapstructure:"fill_overrides"`
}

// FillOverride forces a filling mode for one account/symbol pair.
type FillOverride struct {
	Account string `mapstructure:"account"`
	Symbol  string `mapstructure:"symbol"`
	Mode    int    `mapstructure:"mode"`
}

// ManagerConfig tunes the per-account position supervision loops.
type ManagerConfig struct {
	LoopSleep time.Duration `mapstructure:"loop_sleep"`

	// TP ladder close percentages. A trade with ≥3 TPs uses the long set.
	ScalpTP1Percent float64 `mapstructure:"scalp_tp1_percent"`
	ScalpTP2Percent float64 `mapstructure:"scalp_tp2_percent"`
	LongTP1Percent  float64 `mapstructure:"long_tp1_percent"`
	LongTP2Percent  float64 `mapstructure:"long_tp2_percent"`

	// BufferPips widens TP detection: a TP counts as reached within this
	// many pips before the exact price.
	BufferPips float64 `mapstructure:"buffer_pips"`

	EnableBreakEven bool    `mapstructure:"enable_breakeven"`
	BEOffsetPips    float64 `mapstructure:"breakeven_offset_pips"`

	EnableTrailing         bool          `mapstructure:"enable_trailing"`
	TrailingAfterTP2       bool          `mapstructure:"trailing_activation_after_tp2"`
	TrailingActivationPips float64       `mapstructure:"trailing_activation_pips"`
	TrailingStopPips       float64       `mapstructure:"trailing_stop_pips"`
	TrailingMinChangePips  float64       `mapstructure:"trailing_min_change_pips"`
	TrailingCooldown       time.Duration `mapstructure:"trailing_cooldown"`

	RunnerRetracePips float64 `mapstructure:"runner_retrace_pips"`

	EnableAddon      bool          `mapstructure:"enable_addon"`
	AddonMax         int           `mapstructure:"addon_max_count"`
	AddonLotFactor   float64       `mapstructure:"addon_lot_factor"`
	AddonMinFromOpen time.Duration `mapstructure:"addon_min_seconds_from_open"`
	AddonEntrySLRate float64       `mapstructure:"addon_entry_sl_ratio"`

	// Scaling-out for TP-less providers.
	ScalingTramoPips        float64 `mapstructure:"scaling_tramo_pips"`
	ScalingPercentPerTramo  float64 `mapstructure:"scaling_percent_per_tramo"`
	TrailingLastTramoPips   float64 `mapstructure:"trailing_last_tramo_pips"`
	ToroFXProviderMatch     string  `mapstructure:"torofx_provider_tag_match"`
	ToroFXPartialPercent    float64 `mapstructure:"torofx_partial_default_percent"`
	ToroFXPartialMinPips    float64 `mapstructure:"torofx_partial_min_pips"`
	ToroFXCloseTolerancePip float64 `mapstructure:"torofx_close_entry_tolerance_pips"`

	// be_pips / be_pnl early close, and reentry runner sizing.
	BEClosePercent float64       `mapstructure:"be_close_percent"`
	ReentryPercent float64       `mapstructure:"reentry_volume_percent"`
	ReentryGrace   time.Duration `mapstructure:"reentry_grace"`
}

// NotifierConfig points at the remote notification API. Best-effort: a dead
// notifier never blocks trading.
type NotifierConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	APIURL    string        `mapstructure:"api_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	QueueSize int           `mapstructure:"queue_size"`
}

// OpsConfig controls the read-only operational server (health, snapshots,
// trade-event WebSocket tap).
type OpsConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file (if present) with env var overrides.
// The flat platform keys are honoured as-is: REDIS_URL, ACCOUNTS_JSON,
// CHANNELS_CONFIG_JSON, TRADING_WINDOWS, DEDUP_TTL_SECONDS,
// FAST_UPDATE_WINDOW_SECONDS, ENTRY_WAIT_SECONDS, ENTRY_POLL_MS,
// NOTIFY_API_URL, MAGIC_NUMBER, LOG_LEVEL.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if cfg.AccountsJSON != "" && len(cfg.Accounts) == 0 {
		if err := json.Unmarshal([]byte(cfg.AccountsJSON), &cfg.Accounts); err != nil {
			return nil, fmt.Errorf("parse ACCOUNTS_JSON: %w", err)
		}
	}
	if cfg.ChannelsJSON != "" && len(cfg.Channels) == 0 {
		if err := json.Unmarshal([]byte(cfg.ChannelsJSON), &cfg.Channels); err != nil {
			return nil, fmt.Errorf("parse CHANNELS_CONFIG_JSON: %w", err)
		}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redis.url", "redis://localhost:6379/0")

	v.SetDefault("router.dedup_ttl", 120*time.Second)
	v.SetDefault("router.fast_update_window", 30*time.Second)

	v.SetDefault("executor.magic", 987654)
	v.SetDefault("executor.deviation", 50)
	v.SetDefault("executor.comment_prefix", "YsaCopy")
	v.SetDefault("executor.entry_band_pips", 15.0)
	v.SetDefault("executor.entry_wait", 60*time.Second)
	v.SetDefault("executor.entry_poll", 500*time.Millisecond)
	v.SetDefault("executor.default_sl_pips", 100.0)
	v.SetDefault("executor.default_sl_xauusd_pips", 300.0)
	v.SetDefault("executor.account_timeout", 30*time.Second)
	v.SetDefault("executor.request_timeout", 10*time.Second)

	v.SetDefault("manager.loop_sleep", time.Second)
	v.SetDefault("manager.scalp_tp1_percent", 50.0)
	v.SetDefault("manager.scalp_tp2_percent", 100.0)
	v.SetDefault("manager.long_tp1_percent", 50.0)
	v.SetDefault("manager.long_tp2_percent", 50.0)
	v.SetDefault("manager.buffer_pips", 2.0)
	v.SetDefault("manager.enable_breakeven", true)
	v.SetDefault("manager.breakeven_offset_pips", 3.0)
	v.SetDefault("manager.enable_trailing", true)
	v.SetDefault("manager.trailing_activation_after_tp2", true)
	v.SetDefault("manager.trailing_activation_pips", 30.0)
	v.SetDefault("manager.trailing_stop_pips", 15.0)
	v.SetDefault("manager.trailing_min_change_pips", 1.0)
	v.SetDefault("manager.trailing_cooldown", 2*time.Second)
	v.SetDefault("manager.runner_retrace_pips", 10.0)
	v.SetDefault("manager.enable_addon", true)
	v.SetDefault("manager.addon_max_count", 1)
	v.SetDefault("manager.addon_lot_factor", 0.5)
	v.SetDefault("manager.addon_min_seconds_from_open", 5*time.Second)
	v.SetDefault("manager.addon_entry_sl_ratio", 0.5)
	v.SetDefault("manager.scaling_tramo_pips", 40.0)
	v.SetDefault("manager.scaling_percent_per_tramo", 25.0)
	v.SetDefault("manager.trailing_last_tramo_pips", 40.0)
	v.SetDefault("manager.torofx_provider_tag_match", "TOROFX")
	v.SetDefault("manager.torofx_partial_default_percent", 30.0)
	v.SetDefault("manager.torofx_partial_min_pips", 50.0)
	v.SetDefault("manager.torofx_close_entry_tolerance_pips", 10.0)
	v.SetDefault("manager.be_close_percent", 30.0)
	v.SetDefault("manager.reentry_volume_percent", 30.0)
	v.SetDefault("manager.reentry_grace", 3*time.Second)

	v.SetDefault("notifier.enabled", true)
	v.SetDefault("notifier.timeout", 5*time.Second)
	v.SetDefault("notifier.queue_size", 256)

	v.SetDefault("ops.enabled", true)
	v.SetDefault("ops.port", 8090)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("trading_windows", "03:00-12:00,08:00-17:00")
}

// applyEnvOverrides honours the flat platform environment keys over
// whatever the YAML said.
func applyEnvOverrides(cfg *Config) {
	if s := os.Getenv("REDIS_URL"); s != "" {
		cfg.Redis.URL = s
	}
	if s := os.Getenv("ACCOUNTS_JSON"); s != "" {
		cfg.AccountsJSON = s
		cfg.Accounts = nil
	}
	if s := os.Getenv("CHANNELS_CONFIG_JSON"); s != "" {
		cfg.ChannelsJSON = s
		cfg.Channels = nil
	}
	if s := os.Getenv("TRADING_WINDOWS"); s != "" {
		cfg.TradingWindows = s
	}
	if s := os.Getenv("LOG_LEVEL"); s != "" {
		cfg.Logging.Level = s
	}
	if s := os.Getenv("NOTIFY_API_URL"); s != "" {
		cfg.Notifier.APIURL = s
	}
	if d, ok := envSeconds("DEDUP_TTL_SECONDS"); ok {
		cfg.Router.DedupTTL = d
	}
	if d, ok := envSeconds("FAST_UPDATE_WINDOW_SECONDS"); ok {
		cfg.Router.FastUpdateWindow = d
	}
	if d, ok := envSeconds("ENTRY_WAIT_SECONDS"); ok {
		cfg.Executor.EntryWait = d
	}
	if d, ok := envMillis("ENTRY_POLL_MS"); ok {
		cfg.Executor.EntryPoll = d
	}
	if n, ok := envInt("MAGIC_NUMBER"); ok {
		cfg.Executor.Magic = n
	}
}

func envSeconds(key string) (time.Duration, bool) {
	s := os.Getenv(key)
	if s == "" {
		return 0, false
	}
	var f float64
	if _, err := fmt.Sscanf(s, "%g", &f); err != nil {
		return 0, false
	}
	return time.Duration(f * float64(time.Second)), true
}

func envMillis(key string) (time.Duration, bool) {
	s := os.Getenv(key)
	if s == "" {
		return 0, false
	}
	var f float64
	if _, err := fmt.Sscanf(s, "%g", &f); err != nil {
		return 0, false
	}
	return time.Duration(f * float64(time.Millisecond)), true
}

func envInt(key string) (int64, bool) {
	s := os.Getenv(key)
	if s == "" {
		return 0, false
	}
	var n int64
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required (set REDIS_URL)")
	}
	if len(c.Accounts) == 0 {
		return fmt.Errorf("no accounts configured (set ACCOUNTS_JSON or accounts in the config file)")
	}
	seen := make(map[string]bool, len(c.Accounts))
	for _, a := range c.Accounts {
		if a.Name == "" {
			return fmt.Errorf("account with empty name")
		}
		if seen[a.Name] {
			return fmt.Errorf("duplicate account name %q", a.Name)
		}
		seen[a.Name] = true
		if a.Host == "" || a.Port == 0 {
			return fmt.Errorf("account %q: host and port are required", a.Name)
		}
		if !a.TradingMode.Valid() {
			return fmt.Errorf("account %q: unknown trading_mode %q", a.Name, a.TradingMode)
		}
		if a.FixedLot < 0 || a.RiskPercent < 0 {
			return fmt.Errorf("account %q: fixed_lot and risk_percent must be >= 0", a.Name)
		}
	}
	if c.Executor.Magic <= 0 {
		return fmt.Errorf("executor.magic must be > 0")
	}
	if c.Executor.EntryPoll <= 0 {
		return fmt.Errorf("executor.entry_poll must be > 0")
	}
	if c.Manager.LoopSleep <= 0 {
		return fmt.Errorf("manager.loop_sleep must be > 0")
	}
	if c.Manager.ScalingPercentPerTramo <= 0 || c.Manager.ScalingPercentPerTramo > 100 {
		return fmt.Errorf("manager.scaling_percent_per_tramo must be in (0, 100]")
	}
	if c.Notifier.Enabled && c.Notifier.APIURL == "" {
		return fmt.Errorf("notifier.api_url is required when notifier.enabled (set NOTIFY_API_URL)")
	}
	return nil
}

// ActiveAccounts returns only the accounts flagged active.
func (c *Config) ActiveAccounts() []types.Account {
	out := make([]types.Account, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		if a.Active {
			out = append(out, a)
		}
	}
	return out
}
