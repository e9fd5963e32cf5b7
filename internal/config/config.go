package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Redis     RedisConfig
	Server    ServerConfig
	Database  DatabaseConfig
	Log       LogConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
	Analytics AnalyticsConfig
	Tasks     TasksConfig
	Edge      EdgeConfig
}

type RedisConfig struct {
	Host         string
	Port         string
	Password     string
	DB           int
	Addr         string
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
}

type ServerConfig struct {
	Port            string
	BaseURL         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RedirectStatus  int
	AllowedOrigins  []string
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	URL             string
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
	MaxConnIdleTime time.Duration
}

type LogConfig struct {
	Level      string
	Format     string
	OutputPath string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

type CacheConfig struct {
	LinkTTL time.Duration
}

// RateLimitConfig holds the per-tier quotas. Anonymous identities are
// counted per hour, authenticated ones per day.
type RateLimitConfig struct {
	Enabled         bool
	AnonymousLimit  int
	AnonymousWindow time.Duration
	FreeLimit       int
	FreeWindow      time.Duration
	ProLimit        int
	ProWindow       time.Duration
	FailOpen        bool
}

type WebhookConfig struct {
	Timeout         time.Duration
	PollInterval    time.Duration
	BatchSize       int
	Workers         int
	MaxPerOwner     int
	RetrySchedule   []time.Duration
	AllowInsecure   bool
	ClaimVisibility time.Duration
}

type AnalyticsConfig struct {
	Stream       string
	StreamMaxLen int64
	IPHashSalt   string
}

type TasksConfig struct {
	Workers    int
	QueueSize  int
	Timeout    time.Duration
	DrainAfter time.Duration
}

// EdgeConfig names the headers the edge platform uses to pass
// geolocation data to the origin.
type EdgeConfig struct {
	CountryHeader  string
	CityHeader     string
	TimezoneHeader string
	UserIDHeader   string
	PlanTierHeader string
}

var defaultRetrySchedule = []string{"0s", "5s", "30s", "2m", "10m", "1h", "6h"}

func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVER_BASE_URL", "http://localhost:8080")
	viper.SetDefault("SERVER_READ_TIMEOUT", "5s")
	viper.SetDefault("SERVER_WRITE_TIMEOUT", "10s")
	viper.SetDefault("SERVER_SHUTDOWN_TIMEOUT", "15s")
	viper.SetDefault("SERVER_REDIRECT_STATUS", 302)
	viper.SetDefault("SERVER_ALLOWED_ORIGINS", "*")

	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("REDIS_POOL_SIZE", 20)
	viper.SetDefault("REDIS_MIN_IDLE_CONNS", 5)
	viper.SetDefault("REDIS_MAX_RETRIES", 3)

	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "root")
	viper.SetDefault("DB_PASSWORD", "root")
	viper.SetDefault("DB_NAME", "edgelink")
	viper.SetDefault("DB_MAX_CONNS", 25)
	viper.SetDefault("DB_MIN_CONNS", 5)
	viper.SetDefault("DB_CONN_MAX_LIFETIME", "1h")
	viper.SetDefault("DB_MAX_CONN_IDLE_TIME", "30m")

	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")
	viper.SetDefault("LOG_OUTPUT_PATH", "")
	viper.SetDefault("LOG_MAX_SIZE", 100)
	viper.SetDefault("LOG_MAX_BACKUPS", 5)
	viper.SetDefault("LOG_MAX_AGE", 28)
	viper.SetDefault("LOG_COMPRESS", true)

	viper.SetDefault("CACHE_LINK_TTL", "1h")

	viper.SetDefault("RATE_LIMIT_ENABLED", true)
	viper.SetDefault("RATE_LIMIT_ANONYMOUS", 100)
	viper.SetDefault("RATE_LIMIT_ANONYMOUS_WINDOW", "1h")
	viper.SetDefault("RATE_LIMIT_FREE", 1000)
	viper.SetDefault("RATE_LIMIT_FREE_WINDOW", "24h")
	viper.SetDefault("RATE_LIMIT_PRO", 10000)
	viper.SetDefault("RATE_LIMIT_PRO_WINDOW", "24h")
	viper.SetDefault("RATE_LIMIT_FAIL_OPEN", true)

	viper.SetDefault("WEBHOOK_TIMEOUT", "5s")
	viper.SetDefault("WEBHOOK_POLL_INTERVAL", "1s")
	viper.SetDefault("WEBHOOK_BATCH_SIZE", 50)
	viper.SetDefault("WEBHOOK_WORKERS", 8)
	viper.SetDefault("WEBHOOK_MAX_PER_OWNER", 5)
	viper.SetDefault("WEBHOOK_RETRY_SCHEDULE", strings.Join(defaultRetrySchedule, ","))
	viper.SetDefault("WEBHOOK_ALLOW_INSECURE", false)
	viper.SetDefault("WEBHOOK_CLAIM_VISIBILITY", "1m")

	viper.SetDefault("ANALYTICS_STREAM", "analytics:events")
	viper.SetDefault("ANALYTICS_STREAM_MAXLEN", 1000000)
	viper.SetDefault("ANALYTICS_IP_HASH_SALT", "")

	viper.SetDefault("TASKS_WORKERS", 16)
	viper.SetDefault("TASKS_QUEUE_SIZE", 10000)
	viper.SetDefault("TASKS_TIMEOUT", "10s")
	viper.SetDefault("TASKS_DRAIN_AFTER", "10s")

	viper.SetDefault("EDGE_COUNTRY_HEADER", "CF-IPCountry")
	viper.SetDefault("EDGE_CITY_HEADER", "CF-IPCity")
	viper.SetDefault("EDGE_TIMEZONE_HEADER", "CF-Timezone")
	viper.SetDefault("EDGE_USER_ID_HEADER", "X-User-ID")
	viper.SetDefault("EDGE_PLAN_TIER_HEADER", "X-Plan-Tier")

	if err := viper.ReadInConfig(); err != nil {
		log.Println("Warning: .env file not found, using default values")
	}

	redisConfig := RedisConfig{
		Host:         viper.GetString("REDIS_HOST"),
		Port:         viper.GetString("REDIS_PORT"),
		Password:     viper.GetString("REDIS_PASSWORD"),
		DB:           viper.GetInt("REDIS_DB"),
		PoolSize:     viper.GetInt("REDIS_POOL_SIZE"),
		MinIdleConns: viper.GetInt("REDIS_MIN_IDLE_CONNS"),
		MaxRetries:   viper.GetInt("REDIS_MAX_RETRIES"),
	}

	redisConfig.Addr = fmt.Sprintf("%s:%s", redisConfig.Host, redisConfig.Port)

	dbConfig := DatabaseConfig{
		Host:            viper.GetString("DB_HOST"),
		Port:            viper.GetString("DB_PORT"),
		User:            viper.GetString("DB_USER"),
		Password:        viper.GetString("DB_PASSWORD"),
		Name:            viper.GetString("DB_NAME"),
		MaxConns:        viper.GetInt("DB_MAX_CONNS"),
		MinConns:        viper.GetInt("DB_MIN_CONNS"),
		ConnMaxLifetime: viper.GetDuration("DB_CONN_MAX_LIFETIME"),
		MaxConnIdleTime: viper.GetDuration("DB_MAX_CONN_IDLE_TIME"),
	}

	dbConfig.URL = viper.GetString("DATABASE_URL")
	if dbConfig.URL == "" {
		dbConfig.URL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
			dbConfig.User,
			dbConfig.Password,
			dbConfig.Host,
			dbConfig.Port,
			dbConfig.Name,
		)
	}

	retrySchedule, err := parseDurations(viper.GetString("WEBHOOK_RETRY_SCHEDULE"))
	if err != nil {
		return nil, fmt.Errorf("invalid WEBHOOK_RETRY_SCHEDULE: %w", err)
	}

	redirectStatus := viper.GetInt("SERVER_REDIRECT_STATUS")
	if redirectStatus != 301 && redirectStatus != 302 {
		return nil, fmt.Errorf("SERVER_REDIRECT_STATUS must be 301 or 302, got %d", redirectStatus)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            viper.GetString("SERVER_PORT"),
			BaseURL:         strings.TrimRight(viper.GetString("SERVER_BASE_URL"), "/"),
			ReadTimeout:     viper.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout:    viper.GetDuration("SERVER_WRITE_TIMEOUT"),
			ShutdownTimeout: viper.GetDuration("SERVER_SHUTDOWN_TIMEOUT"),
			RedirectStatus:  redirectStatus,
			AllowedOrigins:  splitList(viper.GetString("SERVER_ALLOWED_ORIGINS")),
		},
		Redis:    redisConfig,
		Database: dbConfig,
		Log: LogConfig{
			Level:      viper.GetString("LOG_LEVEL"),
			Format:     viper.GetString("LOG_FORMAT"),
			OutputPath: viper.GetString("LOG_OUTPUT_PATH"),
			MaxSize:    viper.GetInt("LOG_MAX_SIZE"),
			MaxBackups: viper.GetInt("LOG_MAX_BACKUPS"),
			MaxAge:     viper.GetInt("LOG_MAX_AGE"),
			Compress:   viper.GetBool("LOG_COMPRESS"),
		},
		Cache: CacheConfig{
			LinkTTL: viper.GetDuration("CACHE_LINK_TTL"),
		},
		RateLimit: RateLimitConfig{
			Enabled:         viper.GetBool("RATE_LIMIT_ENABLED"),
			AnonymousLimit:  viper.GetInt("RATE_LIMIT_ANONYMOUS"),
			AnonymousWindow: viper.GetDuration("RATE_LIMIT_ANONYMOUS_WINDOW"),
			FreeLimit:       viper.GetInt("RATE_LIMIT_FREE"),
			FreeWindow:      viper.GetDuration("RATE_LIMIT_FREE_WINDOW"),
			ProLimit:        viper.GetInt("RATE_LIMIT_PRO"),
			ProWindow:       viper.GetDuration("RATE_LIMIT_PRO_WINDOW"),
			FailOpen:        viper.GetBool("RATE_LIMIT_FAIL_OPEN"),
		},
		Webhook: WebhookConfig{
			Timeout:         viper.GetDuration("WEBHOOK_TIMEOUT"),
			PollInterval:    viper.GetDuration("WEBHOOK_POLL_INTERVAL"),
			BatchSize:       viper.GetInt("WEBHOOK_BATCH_SIZE"),
			Workers:         viper.GetInt("WEBHOOK_WORKERS"),
			MaxPerOwner:     viper.GetInt("WEBHOOK_MAX_PER_OWNER"),
			RetrySchedule:   retrySchedule,
			AllowInsecure:   viper.GetBool("WEBHOOK_ALLOW_INSECURE"),
			ClaimVisibility: viper.GetDuration("WEBHOOK_CLAIM_VISIBILITY"),
		},
		Analytics: AnalyticsConfig{
			Stream:       viper.GetString("ANALYTICS_STREAM"),
			StreamMaxLen: viper.GetInt64("ANALYTICS_STREAM_MAXLEN"),
			IPHashSalt:   viper.GetString("ANALYTICS_IP_HASH_SALT"),
		},
		Tasks: TasksConfig{
			Workers:    viper.GetInt("TASKS_WORKERS"),
			QueueSize:  viper.GetInt("TASKS_QUEUE_SIZE"),
			Timeout:    viper.GetDuration("TASKS_TIMEOUT"),
			DrainAfter: viper.GetDuration("TASKS_DRAIN_AFTER"),
		},
		Edge: EdgeConfig{
			CountryHeader:  viper.GetString("EDGE_COUNTRY_HEADER"),
			CityHeader:     viper.GetString("EDGE_CITY_HEADER"),
			TimezoneHeader: viper.GetString("EDGE_TIMEZONE_HEADER"),
			UserIDHeader:   viper.GetString("EDGE_USER_ID_HEADER"),
			PlanTierHeader: viper.GetString("EDGE_PLAN_TIER_HEADER"),
		},
	}

	return cfg, nil
}

func parseDurations(raw string) ([]time.Duration, error) {
	var out []time.Duration
	for _, part := range splitList(raw) {
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("schedule is empty")
	}
	return out, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
