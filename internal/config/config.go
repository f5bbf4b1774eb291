package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gregtusar/carry/pkg/arbitrage"
	"github.com/gregtusar/carry/pkg/binance"
	"github.com/gregtusar/carry/pkg/models"
	"github.com/gregtusar/carry/pkg/secrets"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Binance BinanceConfig `mapstructure:"binance"`
	Trading TradingConfig `mapstructure:"trading"`
	Scan    ScanConfig    `mapstructure:"scan"`
	Logging LoggingConfig `mapstructure:"logging"`
	GCP     GCPConfig     `mapstructure:"gcp"`
}

type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
}

type BinanceConfig struct {
	APIKey            string          `mapstructure:"api_key"`
	APISecret         string          `mapstructure:"api_secret"`
	SpotURL           string          `mapstructure:"spot_url"`
	FuturesURL        string          `mapstructure:"futures_url"`
	RecvWindow        time.Duration   `mapstructure:"recv_window"`
	Timeout           time.Duration   `mapstructure:"timeout"`
	RequestsPerSecond float64         `mapstructure:"requests_per_second"`
	Burst             int             `mapstructure:"burst"`
	RetryCount        int             `mapstructure:"retry_count"`
	WebSocket         WebSocketConfig `mapstructure:"websocket"`
}

type WebSocketConfig struct {
	URL            string        `mapstructure:"url"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
}

type TradingConfig struct {
	SpotFeeRate     float64       `mapstructure:"spot_fee_rate"`
	FuturesFeeRate  float64       `mapstructure:"futures_fee_rate"`
	QuoteAsset      string        `mapstructure:"quote_asset"`
	HoldingInterval time.Duration `mapstructure:"holding_interval"`
}

// ScanConfig holds the defaults used when a caller does not pass thresholds.
type ScanConfig struct {
	MinFundingRate     float64 `mapstructure:"min_funding_rate"`
	MinAvgVolume       float64 `mapstructure:"min_avg_volume"`
	HistoryDays        int     `mapstructure:"history_days"`
	StabilityThreshold float64 `mapstructure:"stability_threshold"`
	Concurrency        int     `mapstructure:"concurrency"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type GCPConfig struct {
	ProjectID       string              `mapstructure:"project_id"`
	UseSecrets      bool                `mapstructure:"use_secrets"`
	CredentialsFile string              `mapstructure:"credentials_file"`
	SecretNames     secrets.SecretNames `mapstructure:"secret_names"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/carry")
	}

	v.SetEnvPrefix("CARRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&config)

	if config.GCP.UseSecrets && config.GCP.ProjectID != "" {
		if err := loadSecretsFromGCP(context.Background(), &config); err != nil {
			return nil, fmt.Errorf("error loading secrets from GCP: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.jwt_issuer", "carry")

	v.SetDefault("binance.spot_url", binance.DefaultSpotURL)
	v.SetDefault("binance.futures_url", binance.DefaultFuturesURL)
	v.SetDefault("binance.recv_window", "5s")
	v.SetDefault("binance.timeout", "30s")
	v.SetDefault("binance.requests_per_second", 10)
	v.SetDefault("binance.burst", 20)
	v.SetDefault("binance.retry_count", 2)
	v.SetDefault("binance.websocket.url", binance.DefaultStreamURL)
	v.SetDefault("binance.websocket.reconnect_delay", "5s")
	v.SetDefault("binance.websocket.max_reconnects", 10)

	v.SetDefault("trading.spot_fee_rate", 0.001)
	v.SetDefault("trading.futures_fee_rate", 0.0002)
	v.SetDefault("trading.quote_asset", arbitrage.DefaultQuoteAsset)
	v.SetDefault("trading.holding_interval", arbitrage.DefaultHoldInterval.String())

	v.SetDefault("scan.min_funding_rate", 0.0005)
	v.SetDefault("scan.min_avg_volume", 1_000_000)
	v.SetDefault("scan.history_days", 7)
	v.SetDefault("scan.stability_threshold", 0.8)
	v.SetDefault("scan.concurrency", 8)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")
	v.SetDefault("gcp.credentials_file", "")

	secretNames := secrets.DefaultSecretNames()
	v.SetDefault("gcp.secret_names.binance_api_key", secretNames.BinanceAPIKey)
	v.SetDefault("gcp.secret_names.binance_api_secret", secretNames.BinanceAPISecret)
	v.SetDefault("gcp.secret_names.jwt_secret", secretNames.JWTSecret)
}

func overrideFromEnv(config *Config) {
	if apiKey := os.Getenv("BINANCE_API_KEY"); apiKey != "" {
		config.Binance.APIKey = apiKey
	}
	if apiSecret := os.Getenv("BINANCE_API_SECRET"); apiSecret != "" {
		config.Binance.APISecret = apiSecret
	}
	if jwtSecret := os.Getenv("CARRY_JWT_SECRET"); jwtSecret != "" {
		config.Server.JWTSecret = jwtSecret
	}

	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		config.GCP.ProjectID = projectID
	}
	if useSecrets := os.Getenv("GCP_USE_SECRETS"); useSecrets == "true" {
		config.GCP.UseSecrets = true
	}
}

// secretSource is satisfied by *secrets.GCPSecretManager.
type secretSource interface {
	GetSecretWithDefault(ctx context.Context, secretName, defaultValue string) string
}

func loadSecretsFromGCP(ctx context.Context, config *Config) error {
	logger := logrus.New()
	secretManager, err := secrets.NewGCPSecretManager(ctx, config.GCP.ProjectID, config.GCP.CredentialsFile, logger)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	defer secretManager.Close()

	applySecrets(ctx, config, secretManager)
	logger.Info("Successfully loaded secrets from GCP Secret Manager")
	return nil
}

// applySecrets fills only the credentials not already set by file or env.
func applySecrets(ctx context.Context, config *Config, src secretSource) {
	names := config.GCP.SecretNames
	if config.Binance.APIKey == "" {
		config.Binance.APIKey = src.GetSecretWithDefault(ctx, names.BinanceAPIKey, "")
	}
	if config.Binance.APISecret == "" {
		config.Binance.APISecret = src.GetSecretWithDefault(ctx, names.BinanceAPISecret, "")
	}
	if config.Server.JWTSecret == "" {
		config.Server.JWTSecret = src.GetSecretWithDefault(ctx, names.JWTSecret, "")
	}
}

func (c *Config) Validate() error {
	if c.Trading.SpotFeeRate < 0 || c.Trading.FuturesFeeRate < 0 {
		return fmt.Errorf("trading fee rates must not be negative")
	}
	if c.Trading.HoldingInterval <= 0 {
		return fmt.Errorf("trading.holding_interval must be positive")
	}
	if strings.TrimSpace(c.Trading.QuoteAsset) == "" {
		return fmt.Errorf("trading.quote_asset must be set")
	}
	return c.Scan.Params().Validate()
}

func (t TradingConfig) FeeModel() models.FeeModel {
	return models.FeeModel{
		SpotFeeRate:    decimal.NewFromFloat(t.SpotFeeRate),
		FuturesFeeRate: decimal.NewFromFloat(t.FuturesFeeRate),
	}
}

func (t TradingConfig) ExecutorConfig() arbitrage.ExecutorConfig {
	return arbitrage.ExecutorConfig{
		Fees:         t.FeeModel(),
		QuoteAsset:   strings.ToUpper(t.QuoteAsset),
		HoldInterval: t.HoldingInterval,
	}
}

func (s ScanConfig) Params() arbitrage.ScanParams {
	return arbitrage.ScanParams{
		MinFundingRate:     decimal.NewFromFloat(s.MinFundingRate),
		MinAvgVolume:       decimal.NewFromFloat(s.MinAvgVolume),
		HistoryDays:        s.HistoryDays,
		StabilityThreshold: s.StabilityThreshold,
	}
}

func (b BinanceConfig) ClientConfig() binance.Config {
	return binance.Config{
		APIKey:            b.APIKey,
		APISecret:         b.APISecret,
		SpotURL:           b.SpotURL,
		FuturesURL:        b.FuturesURL,
		RecvWindow:        b.RecvWindow,
		Timeout:           b.Timeout,
		RequestsPerSecond: b.RequestsPerSecond,
		Burst:             b.Burst,
		RetryCount:        b.RetryCount,
	}
}
