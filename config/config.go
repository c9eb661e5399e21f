package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spooky-finn/go-depth-bridge/analytics"
	"github.com/spooky-finn/go-depth-bridge/domain"
	"gopkg.in/yaml.v3"
)

var logger = logrus.WithField("component", "config")

// DebugMode enables verbose book dumps in the sync path. Set by DEBUG=true.
var DebugMode = false

type Config struct {
	Symbol    string          `yaml:"symbol"`
	Threshold decimal.Decimal `yaml:"threshold"`
	Binance   BinanceConfig   `yaml:"binance"`
	Sync      SyncConfig      `yaml:"sync"`
	Hub       HubConfig       `yaml:"hub"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	RPC       RPCConfig       `yaml:"rpc"`
}

type BinanceConfig struct {
	SpotRestURL    string `yaml:"spotRestUrl"`
	FuturesRestURL string `yaml:"futuresRestUrl"`
	SpotWsURL      string `yaml:"spotWsUrl"`
	FuturesWsURL   string `yaml:"futuresWsUrl"`
	// UpdateSpeed is the diff stream cadence suffix, "100ms" or "1000ms".
	UpdateSpeed string        `yaml:"updateSpeed"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
}

type SyncConfig struct {
	SnapshotLimit        int           `yaml:"snapshotLimit"`
	BackoffBase          time.Duration `yaml:"backoffBase"`
	BackoffCap           time.Duration `yaml:"backoffCap"`
	MaxReconnectAttempts int           `yaml:"maxReconnectAttempts"`
	Jitter               float64       `yaml:"jitter"`
	HeartbeatInterval    time.Duration `yaml:"heartbeatInterval"`
	PongWait             time.Duration `yaml:"pongWait"`
	StaleResyncThreshold int           `yaml:"staleResyncThreshold"`
	ResyncInterval       time.Duration `yaml:"resyncInterval"`
	BufferSize           int           `yaml:"bufferSize"`
	// StrictSequence rejects diffs that skip update ids.
	StrictSequence bool `yaml:"strictSequence"`
}

type HubConfig struct {
	DepthLimit             int                        `yaml:"depthLimit"`
	SpotPublishInterval    time.Duration              `yaml:"spotPublishInterval"`
	FuturesPublishInterval time.Duration              `yaml:"futuresPublishInterval"`
	Bands                  []analytics.Band           `yaml:"bands"`
	Significance           analytics.ChangeThresholds `yaml:"significance"`
	MidPolicy              domain.MidPricePolicy      `yaml:"midPolicy"`
	SubscriberBuffer       int                        `yaml:"subscriberBuffer"`
}

func (h HubConfig) PublishInterval(market domain.MarketType) time.Duration {
	if market == domain.MarketFutures {
		return h.FuturesPublishInterval
	}
	return h.SpotPublishInterval
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Output is stdout, stderr or a file path.
	Output     string `yaml:"output"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type RPCConfig struct {
	Addr string `yaml:"addr"`
}

func Default() *Config {
	return &Config{
		Symbol:    "BTCUSDT",
		Threshold: decimal.Zero,
		Binance: BinanceConfig{
			SpotRestURL:    "https://api.binance.com",
			FuturesRestURL: "https://fapi.binance.com",
			SpotWsURL:      "wss://stream.binance.com:9443",
			FuturesWsURL:   "wss://fstream.binance.com",
			UpdateSpeed:    "100ms",
			DialTimeout:    10 * time.Second,
		},
		Sync: SyncConfig{
			SnapshotLimit:        1000,
			BackoffBase:          time.Second,
			BackoffCap:           30 * time.Second,
			MaxReconnectAttempts: 5,
			Jitter:               0.25,
			HeartbeatInterval:    30 * time.Second,
			PongWait:             60 * time.Second,
			StaleResyncThreshold: 50,
			BufferSize:           1000,
		},
		Hub: HubConfig{
			DepthLimit:             100,
			SpotPublishInterval:    300 * time.Millisecond,
			FuturesPublishInterval: 500 * time.Millisecond,
			Bands:                  analytics.DefaultBands(),
			Significance:           analytics.DefaultChangeThresholds(),
			MidPolicy:              domain.MidStrict,
			SubscriberBuffer:       16,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxAgeDays: 7,
			MaxBackups: 3,
		},
		Metrics: MetricsConfig{Addr: ":8080"},
		RPC:     RPCConfig{Addr: ":50051"},
	}
}

// Load builds the configuration from defaults, the optional YAML file at path
// and the environment (a local .env file included), in that order.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	cfg.applyEnv()
	DebugMode = getEnvBool("DEBUG", DebugMode)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Symbol = getEnv("SYMBOL", c.Symbol)
	c.Threshold = getEnvDecimal("THRESHOLD", c.Threshold)

	c.Binance.SpotRestURL = getEnv("BINANCE_API_ENDPOINT", c.Binance.SpotRestURL)
	c.Binance.FuturesRestURL = getEnv("BINANCE_FUTURES_API_ENDPOINT", c.Binance.FuturesRestURL)
	c.Binance.SpotWsURL = getEnv("BINANCE_WS_API_ENDPOINT", c.Binance.SpotWsURL)
	c.Binance.FuturesWsURL = getEnv("BINANCE_FUTURES_WS_API_ENDPOINT", c.Binance.FuturesWsURL)
	c.Binance.UpdateSpeed = getEnv("BINANCE_UPDATE_SPEED", c.Binance.UpdateSpeed)

	c.Sync.SnapshotLimit = getEnvInt("SNAPSHOT_LIMIT", c.Sync.SnapshotLimit)
	c.Sync.BackoffBase = getEnvDuration("RECONNECT_BASE_DELAY", c.Sync.BackoffBase)
	c.Sync.BackoffCap = getEnvDuration("RECONNECT_MAX_DELAY", c.Sync.BackoffCap)
	c.Sync.MaxReconnectAttempts = getEnvInt("MAX_RECONNECT_ATTEMPTS", c.Sync.MaxReconnectAttempts)
	c.Sync.Jitter = getEnvFloat("RECONNECT_JITTER", c.Sync.Jitter)
	c.Sync.HeartbeatInterval = getEnvDuration("HEARTBEAT_INTERVAL", c.Sync.HeartbeatInterval)
	c.Sync.PongWait = getEnvDuration("PONG_WAIT", c.Sync.PongWait)
	c.Sync.StaleResyncThreshold = getEnvInt("STALE_RESYNC_THRESHOLD", c.Sync.StaleResyncThreshold)
	c.Sync.ResyncInterval = getEnvDuration("RESYNC_INTERVAL", c.Sync.ResyncInterval)
	c.Sync.BufferSize = getEnvInt("DIFF_BUFFER_SIZE", c.Sync.BufferSize)
	c.Sync.StrictSequence = getEnvBool("STRICT_SEQUENCE", c.Sync.StrictSequence)

	c.Hub.DepthLimit = getEnvInt("DEPTH_LIMIT", c.Hub.DepthLimit)
	c.Hub.SpotPublishInterval = getEnvDuration("SPOT_PUBLISH_INTERVAL", c.Hub.SpotPublishInterval)
	c.Hub.FuturesPublishInterval = getEnvDuration("FUTURES_PUBLISH_INTERVAL", c.Hub.FuturesPublishInterval)
	c.Hub.MidPolicy = domain.MidPricePolicy(getEnv("MID_PRICE_POLICY", string(c.Hub.MidPolicy)))
	c.Hub.SubscriberBuffer = getEnvInt("SUBSCRIBER_BUFFER", c.Hub.SubscriberBuffer)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
	c.Logging.Output = getEnv("LOG_OUTPUT", c.Logging.Output)

	c.Metrics.Addr = getEnv("METRICS_ADDR", c.Metrics.Addr)
	c.RPC.Addr = getEnv("RPC_ADDR", c.RPC.Addr)
}

func (c *Config) Validate() error {
	if _, err := domain.NewPairKey(c.Symbol, domain.MarketSpot); err != nil {
		return fmt.Errorf("symbol: %w", err)
	}
	if c.Threshold.IsNegative() {
		return fmt.Errorf("threshold must not be negative, got %s", c.Threshold)
	}
	if c.Binance.SpotRestURL == "" || c.Binance.SpotWsURL == "" {
		return errors.New("binance spot endpoints are required")
	}
	if c.Binance.FuturesRestURL == "" || c.Binance.FuturesWsURL == "" {
		return errors.New("binance futures endpoints are required")
	}

	if c.Sync.SnapshotLimit <= 0 {
		return fmt.Errorf("sync.snapshotLimit must be positive, got %d", c.Sync.SnapshotLimit)
	}
	if c.Sync.BackoffBase <= 0 || c.Sync.BackoffCap < c.Sync.BackoffBase {
		return fmt.Errorf("invalid reconnect backoff %s..%s", c.Sync.BackoffBase, c.Sync.BackoffCap)
	}
	if c.Sync.MaxReconnectAttempts < 1 {
		return fmt.Errorf("sync.maxReconnectAttempts must be at least 1, got %d", c.Sync.MaxReconnectAttempts)
	}
	if c.Sync.Jitter < 0 || c.Sync.Jitter > 1 {
		return fmt.Errorf("sync.jitter must be within [0, 1], got %v", c.Sync.Jitter)
	}
	if c.Sync.HeartbeatInterval > 0 && c.Sync.PongWait < c.Sync.HeartbeatInterval {
		return fmt.Errorf("sync.pongWait %s is shorter than heartbeat interval %s", c.Sync.PongWait, c.Sync.HeartbeatInterval)
	}
	if c.Sync.StaleResyncThreshold < 0 || c.Sync.BufferSize < 0 {
		return errors.New("sync thresholds must not be negative")
	}

	if c.Hub.DepthLimit < 0 {
		return fmt.Errorf("hub.depthLimit must not be negative, got %d", c.Hub.DepthLimit)
	}
	if c.Hub.SpotPublishInterval < 0 || c.Hub.FuturesPublishInterval < 0 {
		return errors.New("publish intervals must not be negative")
	}
	if c.Hub.SubscriberBuffer <= 0 {
		return fmt.Errorf("hub.subscriberBuffer must be positive, got %d", c.Hub.SubscriberBuffer)
	}
	if _, err := domain.ParseMidPricePolicy(string(c.Hub.MidPolicy)); err != nil {
		return err
	}
	for _, band := range c.Hub.Bands {
		if err := band.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		logger.Warnf("ignoring %s=%q: %s", key, valueStr, err)
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		logger.Warnf("ignoring %s=%q: %s", key, valueStr, err)
		return defaultValue
	}
	return value
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		logger.Warnf("ignoring %s=%q: %s", key, valueStr, err)
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		logger.Warnf("ignoring %s=%q: %s", key, valueStr, err)
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
	if err != nil {
		logger.Warnf("ignoring %s=%q: %s", key, valueStr, err)
		return defaultValue
	}
	return value
}
