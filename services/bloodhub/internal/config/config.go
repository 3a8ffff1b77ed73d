package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is used when Load gets an empty path. BLOODHUB_CONFIG overrides it.
var ConfigPath = "config.yaml"

const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"

	EventsNone  = "none"
	EventsAMQP  = "amqp"
	EventsKafka = "kafka"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                     string   `yaml:"port"`
	LogLevel                 string   `yaml:"logLevel"`
	StoreDriver              string   `yaml:"storeDriver"`
	DataDir                  string   `yaml:"dataDir"`
	DatabaseURL              string   `yaml:"databaseURL"`
	RedisAddr                string   `yaml:"redisAddr"`
	RedisPassword            string   `yaml:"redisPassword"`
	LocationsPath            string   `yaml:"locationsPath"`
	SeedUsersPath            string   `yaml:"seedUsersPath"`
	TokenSecret              string   `yaml:"tokenSecret"`
	TokenIssuer              string   `yaml:"tokenIssuer"`
	TokenLeeway              string   `yaml:"tokenLeeway"`
	CreateRateLimitPerMinute int      `yaml:"createRateLimitPerMinute"`
	LowStockThreshold        int      `yaml:"lowStockThreshold"`
	LowStockAlertWindow      string   `yaml:"lowStockAlertWindow"`
	MinioEndpoint            string   `yaml:"minioEndpoint"`
	MinioAccessKey           string   `yaml:"minioAccessKey"`
	MinioSecretKey           string   `yaml:"minioSecretKey"`
	MinioBucket              string   `yaml:"minioBucket"`
	MinioUseSSL              bool     `yaml:"minioUseSSL"`
	ReportURLTTL             string   `yaml:"reportURLTTL"`
	EventsDriver             string   `yaml:"eventsDriver"`
	AMQPURL                  string   `yaml:"amqpURL"`
	AMQPExchange             string   `yaml:"amqpExchange"`
	KafkaBrokers             []string `yaml:"kafkaBrokers"`
	KafkaTopic               string   `yaml:"kafkaTopic"`
	NotifyStream             string   `yaml:"notifyStream"`
	CORSEnabled              bool     `yaml:"corsEnabled"`
	TrustedProxies           []string `yaml:"trustedProxies"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
		if v := os.Getenv("BLOODHUB_CONFIG"); v != "" {
			path = v
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("BLOODHUB_PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("BLOODHUB_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("BLOODHUB_STORE_DRIVER"); v != "" {
		cfg.StoreDriver = strings.TrimSpace(v)
	}
	if v := os.Getenv("BLOODHUB_DATA_DIR"); v != "" {
		cfg.DataDir = strings.TrimSpace(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("BLOODHUB_TOKEN_SECRET"); v != "" {
		cfg.TokenSecret = v
	}
	if v := os.Getenv("BLOODHUB_CREATE_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.CreateRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("BLOODHUB_LOW_STOCK_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.LowStockThreshold = n
		}
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("BLOODHUB_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}
	if v := os.Getenv("BLOODHUB_EVENTS_DRIVER"); v != "" {
		cfg.EventsDriver = strings.TrimSpace(v)
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitCSV(v)
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = StoreFile
	}
	if cfg.StoreDriver == StoreFile && cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.EventsDriver == "" {
		cfg.EventsDriver = EventsNone
	}
	if cfg.TokenIssuer == "" {
		cfg.TokenIssuer = "bloodhub"
	}
	if cfg.AMQPExchange == "" {
		cfg.AMQPExchange = "bloodhub.events"
	}
	if cfg.KafkaTopic == "" {
		cfg.KafkaTopic = "bloodhub.events"
	}
	if cfg.NotifyStream == "" {
		cfg.NotifyStream = "bloodhub:deliveries"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	switch cfg.StoreDriver {
	case StoreMemory:
	case StoreFile:
		if strings.TrimSpace(cfg.DataDir) == "" {
			return errors.New("config: dataDir is required for the file store")
		}
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required for the postgres store (set in config.yaml or DATABASE_URL)")
		}
	default:
		return fmt.Errorf("config: unknown storeDriver %q (memory, file or postgres)", cfg.StoreDriver)
	}
	if len(cfg.TokenSecret) < 32 {
		return errors.New("config: tokenSecret must be at least 32 bytes (set in config.yaml or BLOODHUB_TOKEN_SECRET)")
	}
	if cfg.CreateRateLimitPerMinute < 0 {
		return errors.New("config: createRateLimitPerMinute must be >= 0")
	}
	if cfg.CreateRateLimitPerMinute > 0 && cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required when createRateLimitPerMinute is set")
	}
	if cfg.LowStockThreshold < 0 {
		return errors.New("config: lowStockThreshold must be >= 0")
	}
	minioSet := cfg.MinioEndpoint != "" || cfg.MinioBucket != "" || cfg.MinioAccessKey != "" || cfg.MinioSecretKey != ""
	if minioSet && (cfg.MinioEndpoint == "" || cfg.MinioBucket == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "") {
		return errors.New("config: minioEndpoint, minioBucket, minioAccessKey and minioSecretKey must be set together")
	}
	switch cfg.EventsDriver {
	case EventsNone:
	case EventsAMQP:
		if cfg.AMQPURL == "" {
			return errors.New("config: amqpURL is required for the amqp events driver")
		}
	case EventsKafka:
		if len(cfg.KafkaBrokers) == 0 {
			return errors.New("config: kafkaBrokers is required for the kafka events driver")
		}
	default:
		return fmt.Errorf("config: unknown eventsDriver %q (none, amqp or kafka)", cfg.EventsDriver)
	}
	for name, value := range map[string]string{
		"tokenLeeway":         cfg.TokenLeeway,
		"lowStockAlertWindow": cfg.LowStockAlertWindow,
		"reportURLTTL":        cfg.ReportURLTTL,
	} {
		if _, err := ParseDuration(name, value); err != nil {
			return err
		}
	}
	return nil
}

// ParseDuration parses an optional duration setting; empty means zero.
func ParseDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("config: %s must not be negative", name)
	}
	return dur, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
