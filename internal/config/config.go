package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Backend string

const (
	BackendBigQuery Backend = "bigquery"
	BackendDuckDB   Backend = "duckdb"
)

type ExportBucketType string

const (
	ExportBucketGCP ExportBucketType = "gcp"
	ExportBucketS3  ExportBucketType = "s3"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	UsageLog      UsageLogConfig
	ObjectStore   ObjectStoreConfig
	Warehouse     WarehouseConfig
	Export        ExportConfig
	Poll          PollConfig
	Stream        StreamConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type UsageLogConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type WarehouseConfig struct {
	Backend     Backend
	DataSource  string
	ProjectID   string
	KeyFile     string
	Credentials string
	Location    string
	ReadOnly    bool
	DuckDBPath  string
	Concurrency int
}

type ExportConfig struct {
	Bucket          string
	BucketType      ExportBucketType
	CSVEscapeSymbol string
	SignedURLTTL    time.Duration
}

type PollConfig struct {
	Timeout     time.Duration
	MaxInterval time.Duration
	BaseStep    time.Duration
}

type StreamConfig struct {
	HighWaterMark int
	MaxQueued     int
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("QUERYGATE_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid QUERYGATE_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	steps := []func() error{
		func() error { return applyString(lookup, "QUERYGATE_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "QUERYGATE_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "QUERYGATE_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "QUERYGATE_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "QUERYGATE_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyString(lookup, "QUERYGATE_USAGE_DSN", &cfg.UsageLog.DSN) },
		func() error { return applyInt(lookup, "QUERYGATE_USAGE_MAX_OPEN_CONNS", &cfg.UsageLog.MaxOpenConns) },
		func() error { return applyInt(lookup, "QUERYGATE_USAGE_MAX_IDLE_CONNS", &cfg.UsageLog.MaxIdleConns) },
		func() error {
			return applyDuration(lookup, "QUERYGATE_USAGE_CONN_MAX_IDLE_TIME", &cfg.UsageLog.ConnMaxIdleTime)
		},
		func() error {
			return applyDuration(lookup, "QUERYGATE_USAGE_CONN_MAX_LIFETIME", &cfg.UsageLog.ConnMaxLifetime)
		},
		func() error { return applyString(lookup, "QUERYGATE_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "QUERYGATE_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "QUERYGATE_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "QUERYGATE_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error {
			return applyString(lookup, "QUERYGATE_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey)
		},
		func() error { return applyBool(lookup, "QUERYGATE_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "QUERYGATE_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "QUERYGATE_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},
		func() error { return applyBackend(lookup, "QUERYGATE_WAREHOUSE_BACKEND", &cfg.Warehouse.Backend) },
		func() error { return applyString(lookup, "QUERYGATE_DATA_SOURCE", &cfg.Warehouse.DataSource) },
		func() error { return applyString(lookup, "QUERYGATE_BQ_PROJECT_ID", &cfg.Warehouse.ProjectID) },
		func() error { return applyString(lookup, "QUERYGATE_BQ_KEY_FILE", &cfg.Warehouse.KeyFile) },
		func() error { return applyString(lookup, "QUERYGATE_BQ_CREDENTIALS", &cfg.Warehouse.Credentials) },
		func() error { return applyString(lookup, "QUERYGATE_BQ_LOCATION", &cfg.Warehouse.Location) },
		func() error { return applyBool(lookup, "QUERYGATE_WAREHOUSE_READ_ONLY", &cfg.Warehouse.ReadOnly) },
		func() error { return applyString(lookup, "QUERYGATE_DUCKDB_PATH", &cfg.Warehouse.DuckDBPath) },
		func() error { return applyInt(lookup, "QUERYGATE_WAREHOUSE_CONCURRENCY", &cfg.Warehouse.Concurrency) },
		func() error { return applyString(lookup, "QUERYGATE_EXPORT_BUCKET", &cfg.Export.Bucket) },
		func() error { return applyBucketType(lookup, "QUERYGATE_EXPORT_BUCKET_TYPE", &cfg.Export.BucketType) },
		func() error {
			return applyString(lookup, "QUERYGATE_EXPORT_BUCKET_CSV_ESCAPE_SYMBOL", &cfg.Export.CSVEscapeSymbol)
		},
		func() error { return applyDuration(lookup, "QUERYGATE_EXPORT_SIGNED_URL_TTL", &cfg.Export.SignedURLTTL) },
		func() error { return applyDuration(lookup, "QUERYGATE_QUERY_TIMEOUT", &cfg.Poll.Timeout) },
		func() error { return applyDuration(lookup, "QUERYGATE_POLL_TIMEOUT", &cfg.Poll.Timeout) },
		func() error { return applyDuration(lookup, "QUERYGATE_POLL_MAX_INTERVAL", &cfg.Poll.MaxInterval) },
		func() error { return applyDuration(lookup, "QUERYGATE_POLL_BASE_STEP", &cfg.Poll.BaseStep) },
		func() error { return applyInt(lookup, "QUERYGATE_STREAM_HIGH_WATER_MARK", &cfg.Stream.HighWaterMark) },
		func() error { return applyInt(lookup, "QUERYGATE_STREAM_MAX_QUEUED", &cfg.Stream.MaxQueued) },
		func() error { return applyFloat(lookup, "QUERYGATE_RATE_LIMIT_RPS", &cfg.RateLimit.RequestsPerSecond) },
		func() error { return applyInt(lookup, "QUERYGATE_RATE_LIMIT_BURST", &cfg.RateLimit.Burst) },
		func() error { return applyBool(lookup, "QUERYGATE_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "QUERYGATE_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyBool(lookup, "QUERYGATE_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "QUERYGATE_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return Config{}, err
		}
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.Poll.Timeout <= 0 {
		return Config{}, fmt.Errorf("poll timeout must be > 0")
	}
	if cfg.Poll.MaxInterval < 0 {
		return Config{}, fmt.Errorf("poll max interval must be >= 0")
	}
	if cfg.Stream.HighWaterMark < 0 {
		return Config{}, fmt.Errorf("stream high water mark must be >= 0")
	}
	if cfg.Warehouse.Backend == BackendBigQuery && cfg.Export.Bucket != "" && cfg.Export.BucketType != ExportBucketGCP {
		return Config{}, fmt.Errorf("bigquery exports require QUERYGATE_EXPORT_BUCKET_TYPE=%s", ExportBucketGCP)
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "querygate-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		UsageLog: UsageLogConfig{
			DSN:             "",
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "querygate",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Warehouse: WarehouseConfig{
			Backend:     BackendDuckDB,
			DataSource:  "default",
			DuckDBPath:  "",
			Concurrency: 10,
		},
		Export: ExportConfig{
			BucketType:   ExportBucketS3,
			SignedURLTTL: time.Hour,
		},
		Poll: PollConfig{
			Timeout:     10 * time.Minute,
			MaxInterval: 5 * time.Second,
			BaseStep:    200 * time.Millisecond,
		},
		Stream: StreamConfig{
			HighWaterMark: 0,
			MaxQueued:     100,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 0,
			Burst:             20,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
		cfg.Poll.Timeout = 30 * time.Second
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
		cfg.RateLimit.RequestsPerSecond = 50
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

// applyDuration accepts Go durations ("1m30s") and bare integers, which are
// read as seconds.
func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if seconds, err := strconv.Atoi(raw); err == nil {
		*dst = time.Duration(seconds) * time.Second
		return nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBackend(lookup LookupFunc, key string, dst *Backend) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	backend := Backend(strings.ToLower(strings.TrimSpace(raw)))
	switch backend {
	case BackendBigQuery, BackendDuckDB:
		*dst = backend
		return nil
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
}

func applyBucketType(lookup LookupFunc, key string, dst *ExportBucketType) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	bucketType := ExportBucketType(strings.ToLower(strings.TrimSpace(raw)))
	switch bucketType {
	case ExportBucketGCP, ExportBucketS3:
		*dst = bucketType
		return nil
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
