package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string

	Server     ServerConfig
	Logging    LoggingConfig
	Redis      RedisConfig
	Scylla     ScyllaConfig
	Kafka      KafkaConfig
	Clickhouse ClickhouseConfig
	KMS        KMSConfig
	OTP        OTPConfig
	Session    SessionConfig
	RateLimit  RateLimitConfig
	Provider   ProviderConfig
	Hashing    HashingConfig
	Bucketing  BucketingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	TLSPort      int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Database string
	Username string
	Password string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type OTPConfig struct {
	TTL         time.Duration
	MaxAttempts int
	CodeLength  int
}

type SessionConfig struct {
	TTL           time.Duration
	SlidingExpiry bool
	CookieName    string
	CookieDomain  string
	CookieSecure  bool
}

type RateLimitConfig struct {
	Window      time.Duration
	MaxRequests int
	FailOpen    bool
}

type ProviderConfig struct {
	Name     string // "firebase" | "twilio"
	Timeout  time.Duration
	Firebase FirebaseConfig
	Twilio   TwilioConfig
}

type FirebaseConfig struct {
	APIKey  string
	BaseURL string
}

type TwilioConfig struct {
	AccountSID       string
	AuthToken        string
	VerifyServiceSID string
	BaseURL          string
}

type HashingConfig struct {
	Argon2MemoryCost   int
	Argon2TimeCost     int
	Argon2Parallelism  int
	PepperRotationDays int
}

type BucketingConfig struct {
	FarmerBuckets int
	EventBuckets  int
}

var (
	global   *Config
	globalMu sync.Mutex
)

// LoadConfig reads the environment (and an optional .env file) into a Config.
// Missing secrets are a startup failure, never a per-request one.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
			Domain:       getEnv("SERVER_DOMAIN", ""),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  getEnv("SERVER_AUTOCERT_DIR", "/var/lib/agri-auth/autocert"),
			Email:        getEnv("SERVER_ACME_EMAIL", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Scylla: ScyllaConfig{
			Nodes:    splitList(getEnv("SCYLLA_NODES", "127.0.0.1")),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "agri_auth"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Brokers: splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			Topic:   getEnv("KAFKA_AUTH_TOPIC", "auth-events"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  getEnvBool("CLICKHOUSE_ENABLED", true),
			URL:      getEnv("CLICKHOUSE_URL", "http://localhost:8123"),
			Database: getEnv("CLICKHOUSE_DATABASE", "agri_auth"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			KeyID:   getEnv("KMS_KEY_ID", ""),
			Region:  getEnv("AWS_REGION", "ap-south-1"),
		},
		OTP: OTPConfig{
			TTL:         getEnvDuration("OTP_TTL", 5*time.Minute),
			MaxAttempts: getEnvInt("OTP_MAX_ATTEMPTS", 5),
			CodeLength:  getEnvInt("OTP_CODE_LENGTH", 6),
		},
		Session: SessionConfig{
			TTL:           getEnvDuration("SESSION_TTL", 168*time.Hour),
			SlidingExpiry: getEnvBool("SESSION_SLIDING_EXPIRY", false),
			CookieName:    getEnv("SESSION_COOKIE_NAME", "agri_session"),
			CookieDomain:  getEnv("SESSION_COOKIE_DOMAIN", ""),
			CookieSecure:  getEnvBool("SESSION_COOKIE_SECURE", true),
		},
		RateLimit: RateLimitConfig{
			Window:      getEnvDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
			MaxRequests: getEnvInt("RATE_LIMIT_MAX_REQUESTS", 10),
			FailOpen:    getEnvBool("RATE_LIMIT_FAIL_OPEN", false),
		},
		Provider: ProviderConfig{
			Name:    getEnv("OTP_PROVIDER", "firebase"),
			Timeout: getEnvDuration("OTP_PROVIDER_TIMEOUT", 10*time.Second),
			Firebase: FirebaseConfig{
				APIKey:  getEnv("FIREBASE_API_KEY", ""),
				BaseURL: getEnv("FIREBASE_BASE_URL", "https://identitytoolkit.googleapis.com"),
			},
			Twilio: TwilioConfig{
				AccountSID:       getEnv("TWILIO_ACCOUNT_SID", ""),
				AuthToken:        getEnv("TWILIO_AUTH_TOKEN", ""),
				VerifyServiceSID: getEnv("TWILIO_VERIFY_SERVICE_SID", ""),
				BaseURL:          getEnv("TWILIO_BASE_URL", "https://verify.twilio.com"),
			},
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:   getEnvInt("ARGON2_MEMORY_COST", 65536),
			Argon2TimeCost:     getEnvInt("ARGON2_TIME_COST", 3),
			Argon2Parallelism:  getEnvInt("ARGON2_PARALLELISM", 2),
			PepperRotationDays: getEnvInt("PEPPER_ROTATION_DAYS", 30),
		},
		Bucketing: BucketingConfig{
			FarmerBuckets: getEnvInt("FARMER_BUCKETS", 256),
			EventBuckets:  getEnvInt("EVENT_BUCKETS", 64),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globalMu.Lock()
	global = cfg
	globalMu.Unlock()
	return cfg, nil
}

// Get returns the loaded config. Panics when called before LoadConfig; the
// factory loads config before anything else runs.
func Get() *Config {
	if global == nil {
		panic("config: Get called before LoadConfig")
	}
	return global
}

// Validate enforces the secrets the selected providers need.
func (c *Config) Validate() error {
	switch c.Provider.Name {
	case "firebase":
		if c.Provider.Firebase.APIKey == "" {
			return fmt.Errorf("CONFIGURATION_ERROR: FIREBASE_API_KEY is required when OTP_PROVIDER=firebase")
		}
	case "twilio":
		t := c.Provider.Twilio
		if t.AccountSID == "" || t.AuthToken == "" || t.VerifyServiceSID == "" {
			return fmt.Errorf("CONFIGURATION_ERROR: TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_VERIFY_SERVICE_SID are required when OTP_PROVIDER=twilio")
		}
	default:
		return fmt.Errorf("CONFIGURATION_ERROR: unknown OTP_PROVIDER %q", c.Provider.Name)
	}

	if c.KMS.Enabled && c.KMS.KeyID == "" {
		return fmt.Errorf("CONFIGURATION_ERROR: KMS_KEY_ID is required when KMS_ENABLED=true")
	}
	if c.OTP.MaxAttempts <= 0 {
		return fmt.Errorf("CONFIGURATION_ERROR: OTP_MAX_ATTEMPTS must be positive")
	}
	if c.Server.EnableTLS && c.Server.AutoCert && c.Server.Domain == "" {
		return fmt.Errorf("CONFIGURATION_ERROR: SERVER_DOMAIN is required with SERVER_AUTO_CERT")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return !c.IsProduction()
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
