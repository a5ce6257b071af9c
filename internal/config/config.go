package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration, loaded once from the environment.
type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Clickhouse    ClickhouseConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	KMS           KMSConfig
	Hashing       HashingConfig
	Bucketing     BucketingConfig
	SMS           SMSConfig
	Captcha       CaptchaConfig
	Verification  VerificationConfig
}

type ServerConfig struct {
	Port         int
	TLSPort      int
	EnableTLS    bool
	CertFile     string
	KeyFile      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
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

type ClickhouseConfig struct {
	URL      string
	Database string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers             []string
	SecurityEventsTopic string
	AlertsTopic         string
}

type ElasticsearchConfig struct {
	URL           string
	Username      string
	Password      string
	DeliveryIndex string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type HashingConfig struct {
	Argon2MemoryCost   int
	Argon2TimeCost     int
	Argon2Parallelism  int
	PepperRotationDays int
}

type BucketingConfig struct {
	PhoneBuckets int
}

// SMSConfig selects and configures the delivery providers. Provider is an
// explicit provider name or "auto" for the configured preference order.
type SMSConfig struct {
	Provider        string
	TestMode        bool
	TestPhones      []string
	StatusPollDelay time.Duration
	SafeStatusURL   string
	Twilio          TwilioConfig
	Infobip         InfobipConfig
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	BaseURL    string
}

type InfobipConfig struct {
	APIKey  string
	From    string
	BaseURL string
}

type CaptchaConfig struct {
	Secret    string
	VerifyURL string
	Timeout   time.Duration
}

type VerificationConfig struct {
	CodeTTL      time.Duration
	BypassLimits bool
}

var loaded *Config

// Load reads configuration from the environment (with optional .env file)
// and caches it for Get.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
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
			Nodes:    getEnvSlice("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "smsgate"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Clickhouse: ClickhouseConfig{
			URL:      getEnv("CLICKHOUSE_URL", "http://localhost:8123"),
			Database: getEnv("CLICKHOUSE_DATABASE", "smsgate"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers:             getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			SecurityEventsTopic: getEnv("KAFKA_SECURITY_EVENTS_TOPIC", "security-events"),
			AlertsTopic:         getEnv("KAFKA_ALERTS_TOPIC", "sms-alerts"),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:           getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username:      getEnv("ELASTICSEARCH_USERNAME", ""),
			Password:      getEnv("ELASTICSEARCH_PASSWORD", ""),
			DeliveryIndex: getEnv("ELASTICSEARCH_DELIVERY_INDEX", "sms-delivery"),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			KeyID:   getEnv("KMS_KEY_ID", ""),
			Region:  getEnv("AWS_REGION", "us-east-1"),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:   getEnvInt("ARGON2_MEMORY_COST", 64*1024),
			Argon2TimeCost:     getEnvInt("ARGON2_TIME_COST", 1),
			Argon2Parallelism:  getEnvInt("ARGON2_PARALLELISM", 4),
			PepperRotationDays: getEnvInt("PEPPER_ROTATION_DAYS", 30),
		},
		Bucketing: BucketingConfig{
			PhoneBuckets: getEnvInt("PHONE_BUCKETS", 256),
		},
		SMS: SMSConfig{
			Provider:        getEnv("SMS_PROVIDER", "auto"),
			TestMode:        getEnvBool("SMS_TEST_MODE", false),
			TestPhones:      getEnvSlice("SMS_TEST_PHONES", nil),
			StatusPollDelay: getEnvDuration("SMS_STATUS_POLL_DELAY", 2*time.Second),
			SafeStatusURL:   getEnv("SMS_SAFE_STATUS_URL", "https://status.emailtotext.io"),
			Twilio: TwilioConfig{
				AccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
				AuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
				From:       getEnv("TWILIO_FROM_NUMBER", ""),
				BaseURL:    getEnv("TWILIO_BASE_URL", "https://api.twilio.com"),
			},
			Infobip: InfobipConfig{
				APIKey:  getEnv("INFOBIP_API_KEY", ""),
				From:    getEnv("INFOBIP_FROM", ""),
				BaseURL: getEnv("INFOBIP_BASE_URL", "https://api.infobip.com"),
			},
		},
		Captcha: CaptchaConfig{
			Secret:    getEnv("CAPTCHA_SECRET", ""),
			VerifyURL: getEnv("CAPTCHA_VERIFY_URL", "https://challenges.cloudflare.com/turnstile/v0/siteverify"),
			Timeout:   getEnvDuration("CAPTCHA_TIMEOUT", 10*time.Second),
		},
		Verification: VerificationConfig{
			CodeTTL:      getEnvDuration("VERIFICATION_CODE_TTL", 10*time.Minute),
			BypassLimits: getEnvBool("VERIFICATION_BYPASS_LIMITS", false),
		},
	}

	loaded = cfg
	return cfg
}

// Get returns the last loaded configuration, loading defaults if needed.
func Get() *Config {
	if loaded == nil {
		return Load()
	}
	return loaded
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// IsTestPhone reports whether phone is in the configured test-phone list.
func (c *Config) IsTestPhone(phone string) bool {
	for _, p := range c.SMS.TestPhones {
		if p == phone {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
