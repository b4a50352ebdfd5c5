package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"
)

// Config contains runtime configuration values for the sync lambdas.
type Config struct {
	Environment string
	LogLevel    string
	AWSRegion   string

	IntegrationsTable   string
	TokenEncKeyB64      string
	TokenEncKeySSMParam string

	SPAPIEndpoint     string
	LWATokenURL       string
	RequestsPerSecond float64
	HTTPTimeout       time.Duration

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	WarehouseBackend  string
	WarehouseTable    string
	DatabaseURL       string
	SalesTrafficTable string
	FinancialTable    string
	InventoryTable    string

	RawArchiveBucket   string
	RawArchivePrefix   string
	AnalyticsBucket    string
	SalesTrafficPrefix string

	RunClaimsTable string
	RunClaimTTL    time.Duration
	AlertsTopicArn string
	AlertsStage    string

	SyncTimezone    string
	FinanceDaysBack int
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment: getEnv("APP_ENV", "production"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		AWSRegion:   getEnv("AWS_REGION", ""),

		IntegrationsTable:   getEnv("INTEGRATIONS_TABLE", ""),
		TokenEncKeyB64:      getEnv("TOKEN_ENC_KEY_B64", ""),
		TokenEncKeySSMParam: getEnv("TOKEN_ENC_KEY_SSM_PARAM", ""),

		SPAPIEndpoint:     getEnv("SPAPI_ENDPOINT", "https://sellingpartnerapi-na.amazon.com"),
		LWATokenURL:       getEnv("LWA_TOKEN_URL", "https://api.amazon.com/auth/o2/token"),
		RequestsPerSecond: getFloat("SPAPI_REQUESTS_PER_SECOND", 0),
		HTTPTimeout:       getDuration("SPAPI_HTTP_TIMEOUT", 30*time.Second),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getInt("REDIS_DB", 0),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "spapi:lwa:"),

		WarehouseBackend:  strings.ToLower(getEnv("WAREHOUSE_BACKEND", "dynamodb")),
		WarehouseTable:    getEnv("WAREHOUSE_TABLE", ""),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		SalesTrafficTable: getEnv("SALES_TRAFFIC_TABLE", "amazon_sales_traffic"),
		FinancialTable:    getEnv("FINANCIAL_TABLE", "amazon_financial_transactions"),
		InventoryTable:    getEnv("INVENTORY_TABLE", "amazon_inventory"),

		RawArchiveBucket:   getEnv("RAW_ARCHIVE_BUCKET", ""),
		RawArchivePrefix:   getEnv("RAW_ARCHIVE_PREFIX", "spapi/raw/"),
		AnalyticsBucket:    getEnv("ANALYTICS_BUCKET", ""),
		SalesTrafficPrefix: getEnv("SALES_TRAFFIC_PREFIX", "sales_traffic/"),

		RunClaimsTable: getEnv("RUN_CLAIMS_TABLE", ""),
		RunClaimTTL:    getDuration("RUN_CLAIM_TTL", 7*24*time.Hour),
		AlertsTopicArn: getEnv("ALERTS_TOPIC_ARN", ""),
		AlertsStage:    getEnv("ALERTS_STAGE", "dev"),

		SyncTimezone:    getEnv("SYNC_TIMEZONE", "UTC"),
		FinanceDaysBack: getInt("FINANCE_DAYS_BACK", 2),
	}

	if cfg.IntegrationsTable == "" {
		return Config{}, fmt.Errorf("INTEGRATIONS_TABLE is required")
	}
	if cfg.TokenEncKeyB64 == "" && cfg.TokenEncKeySSMParam == "" {
		return Config{}, fmt.Errorf("TOKEN_ENC_KEY_B64 or TOKEN_ENC_KEY_SSM_PARAM is required")
	}

	switch cfg.WarehouseBackend {
	case "dynamodb":
		if cfg.WarehouseTable == "" {
			return Config{}, fmt.Errorf("WAREHOUSE_TABLE is required for the dynamodb backend")
		}
	case "postgres":
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case "memory":
	default:
		return Config{}, fmt.Errorf("WAREHOUSE_BACKEND must be dynamodb, postgres or memory, got %q", cfg.WarehouseBackend)
	}

	if _, err := time.LoadLocation(cfg.SyncTimezone); err != nil {
		return Config{}, fmt.Errorf("SYNC_TIMEZONE: %w", err)
	}
	if cfg.FinanceDaysBack < 1 || cfg.FinanceDaysBack > 180 {
		cfg.FinanceDaysBack = 2
	}
	if cfg.RequestsPerSecond < 0 {
		cfg.RequestsPerSecond = 0
	}

	return cfg, nil
}

// Location is the timezone that decides what "yesterday" means for default windows.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.SyncTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type SSMGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ResolveSecrets fills TokenEncKeyB64 from SSM when only the parameter name is configured.
func (c *Config) ResolveSecrets(ctx context.Context, client SSMGetter) error {
	if c.TokenEncKeyB64 != "" || c.TokenEncKeySSMParam == "" {
		return nil
	}
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(c.TokenEncKeySSMParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("ssm get %s: %w", c.TokenEncKeySSMParam, err)
	}
	if out.Parameter == nil || strings.TrimSpace(aws.ToString(out.Parameter.Value)) == "" {
		return fmt.Errorf("ssm parameter %s is empty", c.TokenEncKeySSMParam)
	}
	c.TokenEncKeyB64 = strings.TrimSpace(aws.ToString(out.Parameter.Value))
	return nil
}

// Athena holds the partition repair settings.
type Athena struct {
	Database  string
	Table     string
	Workgroup string
	Output    string
	Timeout   time.Duration
}

func LoadAthena() Athena {
	_ = godotenv.Load()
	return Athena{
		Database:  getEnv("ATHENA_DATABASE", ""),
		Table:     getEnv("ATHENA_TABLE", ""),
		Workgroup: getEnv("ATHENA_WORKGROUP", "primary"),
		Output:    getEnv("ATHENA_OUTPUT", ""),
		Timeout:   getDuration("ATHENA_REPAIR_TIMEOUT", 60*time.Second),
	}
}

// Health is the unvalidated subset of the environment the liveness endpoint reports.
type Health struct {
	WarehouseBackend string
	TokenCache       string
	RawArchive       bool
	ParquetExport    bool
	Alerts           bool
	SyncTimezone     string
}

func LoadHealth() Health {
	_ = godotenv.Load()
	h := Health{
		WarehouseBackend: strings.ToLower(getEnv("WAREHOUSE_BACKEND", "dynamodb")),
		TokenCache:       "memory",
		RawArchive:       getEnv("RAW_ARCHIVE_BUCKET", "") != "",
		ParquetExport:    getEnv("ANALYTICS_BUCKET", "") != "",
		Alerts:           getEnv("ALERTS_TOPIC_ARN", "") != "",
		SyncTimezone:     getEnv("SYNC_TIMEZONE", "UTC"),
	}
	if getEnv("REDIS_ADDR", "") != "" {
		h.TokenCache = "redis"
	}
	return h
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err == nil {
			return f
		}
	}
	return def
}
