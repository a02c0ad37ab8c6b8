package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"verdictd/internal/logging"
)

// EnvPrefix namespaces environment overrides, e.g. VERDICTD_ETHEREUM_PRIVATE_KEY.
const EnvPrefix = "VERDICTD"

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app" yaml:"app"`
	Logging    logging.Config   `mapstructure:"logging" yaml:"logging"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler" yaml:"scheduler"`
	Feed       FeedConfig       `mapstructure:"feed" yaml:"feed"`
	Oracle     OracleConfig     `mapstructure:"oracle" yaml:"oracle"`
	Ethereum   EthereumConfig   `mapstructure:"ethereum" yaml:"ethereum"`
	Thresholds ThresholdsConfig `mapstructure:"thresholds" yaml:"thresholds"`
	Alerting   AlertingConfig   `mapstructure:"alerting" yaml:"alerting"`
	State      StateConfig      `mapstructure:"state" yaml:"state"`
	Export     ExportConfig     `mapstructure:"export" yaml:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Environment string `mapstructure:"environment" yaml:"environment"`
	AgentLabel  string `mapstructure:"agent_label" yaml:"agent_label"`
}

// DatabaseConfig encapsulates the PostgreSQL mirror.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	MirrorKey       string        `mapstructure:"mirror_key" yaml:"mirror_key"`
}

// SchedulerConfig governs cycle cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval" yaml:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket" yaml:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key" yaml:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay" yaml:"startup_delay"`
	ClaimDelay      time.Duration `mapstructure:"claim_delay" yaml:"claim_delay"`
}

// FeedConfig points at the social feed claims are read from.
type FeedConfig struct {
	BaseURL         string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey          string        `mapstructure:"api_key" yaml:"api_key"`
	Submolts        []string      `mapstructure:"submolts" yaml:"submolts"`
	PostsPerSubmolt int           `mapstructure:"posts_per_submolt" yaml:"posts_per_submolt"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	UserAgent       string        `mapstructure:"user_agent" yaml:"user_agent"`
	DemoMode        bool          `mapstructure:"demo_mode" yaml:"demo_mode"`
	DemoClaims      []string      `mapstructure:"demo_claims" yaml:"demo_claims"`
}

// Configured reports whether a live feed can be polled.
func (f FeedConfig) Configured() bool {
	return f.BaseURL != "" && f.APIKey != ""
}

// OracleConfig covers the external data sources claims are checked against.
type OracleConfig struct {
	RequestTimeout    time.Duration        `mapstructure:"request_timeout" yaml:"request_timeout"`
	CacheTTL          time.Duration        `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	RequestsPerSecond float64              `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	UserAgent         string               `mapstructure:"user_agent" yaml:"user_agent"`
	Price             PriceOracleConfig    `mapstructure:"price" yaml:"price"`
	Weather           WeatherOracleConfig  `mapstructure:"weather" yaml:"weather"`
	Protocol          ProtocolOracleConfig `mapstructure:"protocol" yaml:"protocol"`
}

// PriceOracleConfig configures the market-data source.
type PriceOracleConfig struct {
	BaseURL string            `mapstructure:"base_url" yaml:"base_url"`
	APIKey  string            `mapstructure:"api_key" yaml:"api_key"`
	Assets  map[string]string `mapstructure:"assets" yaml:"assets"`
}

// WeatherOracleConfig configures the forecast source.
type WeatherOracleConfig struct {
	BaseURL         string `mapstructure:"base_url" yaml:"base_url"`
	APIKey          string `mapstructure:"api_key" yaml:"api_key"`
	DefaultLocation string `mapstructure:"default_location" yaml:"default_location"`
	ForecastHours   int    `mapstructure:"forecast_hours" yaml:"forecast_hours"`
}

// ProtocolOracleConfig configures the TVL aggregator.
type ProtocolOracleConfig struct {
	TVLBaseURL string `mapstructure:"tvl_base_url" yaml:"tvl_base_url"`
	SampleSize int    `mapstructure:"sample_size" yaml:"sample_size"`
}

// EthereumConfig covers the proof ledger and gas price RPCs.
type EthereumConfig struct {
	RPCURL          string        `mapstructure:"rpc_url" yaml:"rpc_url"`
	FallbackRPCURL  string        `mapstructure:"fallback_rpc_url" yaml:"fallback_rpc_url"`
	ChainID         int64         `mapstructure:"chain_id" yaml:"chain_id"`
	ContractAddress string        `mapstructure:"contract_address" yaml:"contract_address"`
	PrivateKey      string        `mapstructure:"private_key" yaml:"private_key"`
	GasLimit        uint64        `mapstructure:"gas_limit" yaml:"gas_limit"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ConfirmTimeout  time.Duration `mapstructure:"confirm_timeout" yaml:"confirm_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	ExplorerURL     string        `mapstructure:"explorer_url" yaml:"explorer_url"`
}

// ThresholdsConfig tunes verdict scoring.
type ThresholdsConfig struct {
	DecisiveGapPct        float64 `mapstructure:"decisive_gap_pct" yaml:"decisive_gap_pct"`
	WeatherDecisivePoints float64 `mapstructure:"weather_decisive_points" yaml:"weather_decisive_points"`
}

// AlertingConfig defines notification limits and routing.
type AlertingConfig struct {
	Enabled    bool           `mapstructure:"enabled" yaml:"enabled"`
	MaxPerHour int            `mapstructure:"max_per_hour" yaml:"max_per_hour"`
	Window     time.Duration  `mapstructure:"window" yaml:"window"`
	Channels   []string       `mapstructure:"channels" yaml:"channels"`
	Telegram   TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
}

// TelegramConfig describes the optional Telegram mirror channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	BotToken string `mapstructure:"bot_token" yaml:"bot_token"`
	ChatID   string `mapstructure:"chat_id" yaml:"chat_id"`
	APIBase  string `mapstructure:"api_base" yaml:"api_base"`
}

// StateConfig locates the local state database.
type StateConfig struct {
	Path   string `mapstructure:"path" yaml:"path"`
	LogCap int    `mapstructure:"log_cap" yaml:"log_cap"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points" yaml:"max_data_points"`
}

// Load builds configuration from an optional .env file, the config file,
// environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDotEnv reads .env (or VERDICTD_ENV_FILE) without overriding variables
// already present in the environment.
func loadDotEnv() error {
	file := os.Getenv(EnvPrefix + "_ENV_FILE")
	if file == "" {
		file = ".env"
	}
	if err := godotenv.Load(file); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", file, err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "verdictd")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.agent_label", "verdictd")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("scheduler.interval", "30m")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x76726463))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.claim_delay", "2s")

	v.SetDefault("feed.base_url", "https://www.moltbook.com/api/v1")
	v.SetDefault("feed.submolts", []string{"crypto", "defi", "weather"})
	v.SetDefault("feed.posts_per_submolt", 25)
	v.SetDefault("feed.request_timeout", "15s")
	v.SetDefault("feed.user_agent", "verdictd/1.0")
	v.SetDefault("feed.demo_mode", false)
	v.SetDefault("feed.demo_claims", []string{
		"ETH will exceed $3,500 by end of week",
		"BTC will drop below $60,000 this month",
		"London will see 80% chance of rain tomorrow",
		"Ethereum gas will exceed 50 gwei today",
		"DeFi TVL will drop 10% this week",
	})

	v.SetDefault("oracle.request_timeout", "10s")
	v.SetDefault("oracle.cache_ttl", "60s")
	v.SetDefault("oracle.requests_per_second", 2.0)
	v.SetDefault("oracle.user_agent", "verdictd/1.0")
	v.SetDefault("oracle.price.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("oracle.weather.base_url", "https://api.openweathermap.org/data/2.5")
	v.SetDefault("oracle.weather.default_location", "London")
	v.SetDefault("oracle.weather.forecast_hours", 48)
	v.SetDefault("oracle.protocol.tvl_base_url", "https://api.llama.fi")
	v.SetDefault("oracle.protocol.sample_size", 50)

	v.SetDefault("ethereum.rpc_url", "https://ethereum-sepolia-rpc.publicnode.com")
	v.SetDefault("ethereum.chain_id", int64(11155111))
	v.SetDefault("ethereum.gas_limit", uint64(120000))
	v.SetDefault("ethereum.request_timeout", "15s")
	v.SetDefault("ethereum.confirm_timeout", "2m")
	v.SetDefault("ethereum.poll_interval", "3s")
	v.SetDefault("ethereum.explorer_url", "https://sepolia.etherscan.io")

	v.SetDefault("thresholds.decisive_gap_pct", 20.0)
	v.SetDefault("thresholds.weather_decisive_points", 20.0)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.max_per_hour", 50)
	v.SetDefault("alerting.window", "1h")
	v.SetDefault("alerting.channels", []string{"feed"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("state.path", "verdictd.db")
	v.SetDefault("state.log_cap", 100)

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.mirror_key", "verdict_log")

	// keys without a default are invisible to AutomaticEnv during Unmarshal
	for _, key := range []string{
		"database.dsn",
		"feed.api_key",
		"oracle.price.api_key",
		"oracle.weather.api_key",
		"ethereum.fallback_rpc_url",
		"ethereum.contract_address",
		"ethereum.private_key",
		"alerting.telegram.bot_token",
		"alerting.telegram.chat_id",
	} {
		v.SetDefault(key, "")
	}
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.ClaimDelay < 0 {
		return fmt.Errorf("scheduler.claim_delay cannot be negative")
	}
	if c.Feed.PostsPerSubmolt <= 0 {
		return fmt.Errorf("feed.posts_per_submolt must be greater than zero")
	}
	if c.Feed.RequestTimeout <= 0 || c.Oracle.RequestTimeout <= 0 || c.Ethereum.RequestTimeout <= 0 {
		return fmt.Errorf("request timeouts must be greater than zero")
	}
	if c.Thresholds.DecisiveGapPct <= 0 {
		return fmt.Errorf("thresholds.decisive_gap_pct must be greater than zero")
	}
	if c.Thresholds.WeatherDecisivePoints <= 0 {
		return fmt.Errorf("thresholds.weather_decisive_points must be greater than zero")
	}
	if c.Alerting.MaxPerHour <= 0 {
		return fmt.Errorf("alerting.max_per_hour must be greater than zero")
	}
	if c.Alerting.Window <= 0 {
		return fmt.Errorf("alerting.window must be greater than zero")
	}
	if c.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if c.State.LogCap <= 0 {
		return fmt.Errorf("state.log_cap must be greater than zero")
	}
	if c.Ethereum.ContractAddress != "" && !common.IsHexAddress(c.Ethereum.ContractAddress) {
		return fmt.Errorf("ethereum.contract_address %q is not a hex address", c.Ethereum.ContractAddress)
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// Masked returns a copy with secrets replaced.
func (c Config) Masked() Config {
	out := c
	out.Feed.APIKey = mask(c.Feed.APIKey)
	out.Oracle.Price.APIKey = mask(c.Oracle.Price.APIKey)
	out.Oracle.Weather.APIKey = mask(c.Oracle.Weather.APIKey)
	out.Ethereum.PrivateKey = mask(c.Ethereum.PrivateKey)
	out.Alerting.Telegram.BotToken = mask(c.Alerting.Telegram.BotToken)
	out.Database.DSN = maskDSN(c.Database.DSN)
	return out
}

// YAML renders the masked configuration.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.Masked())
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****"
}

func maskDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		creds = creds[:colon] + ":****"
	}
	return dsn[:scheme+3] + creds + dsn[at:]
}
