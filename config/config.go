// config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"go.uber.org/zap"
)

type Config struct {
	HTTPAddr       string
	Env            string
	ServiceToken   string
	AllowedOrigins string

	Store      StoreConfig
	Sync       SyncConfig
	Aggregator AggregatorConfig
	LND        LNDConfig
	R2         R2Config
	Payments   PaymentsConfig

	Network string
	Params  *chaincfg.Params
}

type StoreConfig struct {
	Driver       string // "postgres", "memory"
	DatabaseURL  string
	MaxWriteOps  int
	TxAttempts   int
	RetryBackoff time.Duration
}

type SyncConfig struct {
	Interval        time.Duration
	BatchSize       int
	ClassifyWorkers int
}

type AggregatorConfig struct {
	Workers      int
	MaxAttempts  int
	RetryBackoff time.Duration
}

type LNDConfig struct {
	Host          string
	Port          int
	Timeout       time.Duration
	SecretsSource string // "env", "r2"
	MacaroonKey   string
	TLSCertKey    string
	PasswordKey   string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
}

type PaymentsConfig struct {
	MinAmount      int64 // sats
	MinFeeRate     int64 // sat/vB
	TransferMargin int64 // sats kept back on top of amount and fee
	AvgTxVBytes    int64
}

func (c *Config) Dev() bool {
	return c.Env == "dev"
}

func Load(logger *zap.Logger) (*Config, error) {
	// ============================================================================
	// Network
	// ============================================================================
	network := getEnv("BTC_NETWORK", "testnet")
	params, err := chainParams(network)
	if err != nil {
		return nil, err
	}

	// ============================================================================
	// Store
	// ============================================================================
	driver := getEnv("STORE_DRIVER", "postgres")
	dbURL := os.Getenv("DATABASE_URL")

	// ============================================================================
	// LND
	// ============================================================================
	secretsSource := getEnv("LND_SECRETS_SOURCE", "env")
	macaroonKey := getEnv("LND_MACAROON_KEY", "LND_MACAROON_HEX")
	certKey := getEnv("LND_TLS_CERT_KEY", "LND_TLS_CERT")
	passwordKey := getEnv("LND_PASSWORD_KEY", "LND_WALLET_PASSWORD")
	if secretsSource == "r2" {
		macaroonKey = getEnv("LND_MACAROON_KEY", "lnd/admin.macaroon")
		certKey = getEnv("LND_TLS_CERT_KEY", "lnd/tls.cert")
		passwordKey = getEnv("LND_PASSWORD_KEY", "lnd/wallet.password")
	}

	cfg := &Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":5200"),
		Env:            getEnv("APP_ENV", "production"),
		ServiceToken:   os.Getenv("SERVICE_TOKEN"),
		AllowedOrigins: allowedOrigins(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		Network:        network,
		Params:         params,
		Store: StoreConfig{
			Driver:       driver,
			DatabaseURL:  dbURL,
			MaxWriteOps:  getEnvAsInt("STORE_MAX_WRITE_OPS", 500),
			TxAttempts:   getEnvAsInt("STORE_TX_ATTEMPTS", 5),
			RetryBackoff: getEnvAsDuration("STORE_RETRY_BACKOFF", 20*time.Millisecond),
		},
		Sync: SyncConfig{
			Interval:        getEnvAsDuration("SYNC_INTERVAL", time.Minute),
			BatchSize:       getEnvAsInt("SYNC_BATCH_SIZE", 300),
			ClassifyWorkers: getEnvAsInt("SYNC_CLASSIFY_WORKERS", 4),
		},
		Aggregator: AggregatorConfig{
			Workers:      getEnvAsInt("AGGREGATOR_WORKERS", 4),
			MaxAttempts:  getEnvAsInt("AGGREGATOR_MAX_ATTEMPTS", 5),
			RetryBackoff: getEnvAsDuration("AGGREGATOR_RETRY_BACKOFF", 500*time.Millisecond),
		},
		LND: LNDConfig{
			Host:          getEnv("LND_HOST", "localhost"),
			Port:          getEnvAsInt("LND_PORT", 8080),
			Timeout:       getEnvAsDuration("LND_TIMEOUT", 30*time.Second),
			SecretsSource: secretsSource,
			MacaroonKey:   macaroonKey,
			TLSCertKey:    certKey,
			PasswordKey:   passwordKey,
		},
		R2: R2Config{
			AccountID:       os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
			AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
			AccessKeySecret: os.Getenv("R2_ACCESS_KEY_SECRET"),
			Bucket:          os.Getenv("R2_BUCKET_NAME"),
		},
		Payments: PaymentsConfig{
			MinAmount:      getEnvAsInt64("PAYMENT_MIN_AMOUNT", 2500),
			MinFeeRate:     getEnvAsInt64("PAYMENT_MIN_FEE_RATE", 1),
			TransferMargin: getEnvAsInt64("PAYMENT_TRANSFER_MARGIN", 1000),
			AvgTxVBytes:    getEnvAsInt64("PAYMENT_AVG_TX_VBYTES", 250),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info("configuration loaded",
		zap.String("network", cfg.Network),
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("lnd_secrets", cfg.LND.SecretsSource),
		zap.Duration("sync_interval", cfg.Sync.Interval),
		zap.Int("sync_batch_size", cfg.Sync.BatchSize),
	)
	return cfg, nil
}

// Validate checks values that would otherwise fail at runtime.
func (c *Config) Validate() error {
	var errs []error

	if c.ServiceToken == "" {
		errs = append(errs, errors.New("SERVICE_TOKEN is required"))
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver))
	}

	if c.Sync.BatchSize < 1 {
		errs = append(errs, errors.New("SYNC_BATCH_SIZE must be positive"))
	}
	// Every batch also writes the cursor.
	if c.Sync.BatchSize+1 > c.Store.MaxWriteOps {
		errs = append(errs, fmt.Errorf("SYNC_BATCH_SIZE %d plus the cursor exceeds STORE_MAX_WRITE_OPS %d",
			c.Sync.BatchSize, c.Store.MaxWriteOps))
	}
	if c.Sync.Interval <= 0 {
		errs = append(errs, errors.New("SYNC_INTERVAL must be positive"))
	}
	if c.Aggregator.Workers < 1 {
		errs = append(errs, errors.New("AGGREGATOR_WORKERS must be positive"))
	}

	switch c.LND.SecretsSource {
	case "env":
	case "r2":
		if c.R2.Bucket == "" || c.R2.AccountID == "" {
			errs = append(errs, errors.New("CLOUDFLARE_ACCOUNT_ID and R2_BUCKET_NAME are required for r2 secrets"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LND_SECRETS_SOURCE %q", c.LND.SecretsSource))
	}

	return errors.Join(errs...)
}

func chainParams(network string) (*chaincfg.Params, error) {
	switch strings.ToLower(network) {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, fmt.Errorf("unknown BTC_NETWORK %q", network)
	}
}

// allowedOrigins trims a comma separated origin list into the form fiber's
// cors middleware expects.
func allowedOrigins(raw string) string {
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ",")
}

// ============================================================================
// Helper Functions
// ============================================================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
