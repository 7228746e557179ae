package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server     ServerConfig
	Backend    BackendConfig
	Permission PermissionConfig
	Session    SessionConfig
	Redis      RedisConfig
	Database   DatabaseConfig
	OpenFGA    OpenFGAConfig
	Storage    StorageConfig
	Telemetry  TelemetryConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Environment  string
}

// BackendConfig points at the REST backend that owns authentication and persistence.
type BackendConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
}

type PermissionConfig struct {
	// Authority selects who answers permission checks: "backend" or "openfga".
	Authority    string
	CacheTTL     time.Duration
	CacheSize    int
	CheckTimeout time.Duration
	GuardTimeout time.Duration
}

type SessionConfig struct {
	CookieName   string
	CookieSecure bool
	Expiration   time.Duration
	IdleTimeout  time.Duration
	// Storage is "memory" or "postgres".
	Storage string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	// Enabled turns on the audit trail.
	Enabled bool
}

type OpenFGAConfig struct {
	APIURL               string
	APIToken             string
	StoreID              string
	AuthorizationModelID string
}

type StorageConfig struct {
	Type      string
	LocalPath string
	BaseURL   string
	S3Bucket  string
	S3Region  string
	S3Prefix  string
}

type TelemetryConfig struct {
	Enabled        bool
	ExporterURL    string
	ServiceName    string
	ServiceVersion string
	Environment    string
	SamplingRatio  float64
}

func NewConfig() *Config {
	environment := getEnv("SERVER_ENVIRONMENT", "development")

	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "localhost"),
			Port:         getEnv("SERVER_PORT", "3001"),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			Environment:  environment,
		},
		Backend: BackendConfig{
			BaseURL:    getEnv("BACKEND_URL", "http://localhost:5000"),
			Timeout:    getEnvDuration("BACKEND_TIMEOUT", 15*time.Second),
			RetryCount: getEnvInt("BACKEND_RETRY_COUNT", 2),
		},
		Permission: PermissionConfig{
			Authority:    getEnv("PERMISSION_AUTHORITY", "backend"),
			CacheTTL:     getEnvDuration("PERMISSION_CACHE_TTL", 2*time.Minute),
			CacheSize:    getEnvInt("PERMISSION_CACHE_SIZE", 512),
			CheckTimeout: getEnvDuration("PERMISSION_CHECK_TIMEOUT", 5*time.Second),
			GuardTimeout: getEnvDuration("GUARD_TIMEOUT", 10*time.Second),
		},
		Session: SessionConfig{
			CookieName:   getEnv("SESSION_COOKIE_NAME", "churchadmin_session"),
			CookieSecure: getEnvBool("SESSION_COOKIE_SECURE", environment == "production"),
			Expiration:   getEnvDuration("SESSION_EXPIRATION", 24*time.Hour),
			IdleTimeout:  getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
			Storage:      getEnv("SESSION_STORAGE", "memory"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "password"),
			Name:         getEnv("DB_NAME", "postgres"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 10),
			Enabled:      getEnvBool("AUDIT_ENABLED", false),
		},
		OpenFGA: OpenFGAConfig{
			APIURL:               getEnv("OPENFGA_API_URL", "http://localhost:8080"),
			APIToken:             getEnv("OPENFGA_API_TOKEN", ""),
			StoreID:              getEnv("OPENFGA_STORE_ID", ""),
			AuthorizationModelID: getEnv("OPENFGA_AUTHORIZATION_MODEL_ID", ""),
		},
		Storage: StorageConfig{
			Type:      getEnv("STORAGE_TYPE", "local"),
			LocalPath: getEnv("STORAGE_LOCAL_PATH", "./exports"),
			BaseURL:   getEnv("STORAGE_BASE_URL", "/exports"),
			S3Bucket:  getEnv("STORAGE_S3_BUCKET", ""),
			S3Region:  getEnv("STORAGE_S3_REGION", "eu-west-1"),
			S3Prefix:  getEnv("STORAGE_S3_PREFIX", "exports/"),
		},
		Telemetry: TelemetryConfig{
			Enabled:        getEnvBool("TELEMETRY_ENABLED", false),
			ExporterURL:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "churchadmin"),
			ServiceVersion: getEnv("SERVICE_VERSION", "dev"),
			Environment:    environment,
			SamplingRatio:  getEnvFloat("OTEL_SAMPLING_RATIO", 1.0),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if durationValue, err := time.ParseDuration(value); err == nil {
			return durationValue
		}
	}
	return defaultValue
}
