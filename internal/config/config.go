package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	Postgres   PostgresConfig
	JWT        JWTConfig
	RateLimit  RateLimitConfig
	OpenRouter OpenRouterConfig
	Jimeng     JimengConfig
	Generation GenerationConfig
	R2         R2Config
	Zitadel    ZitadelConfig
	Gateway    GatewayConfig
	RabbitMQ   RabbitMQConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	URL      string
	MaxConns int
}

type JWTConfig struct {
	Secret string
}

type RateLimitConfig struct {
	GeneratePerHour int
	BatchPerHour    int
}

type OpenRouterConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	SiteURL  string
	AppTitle string
}

// JimengConfig holds credentials and endpoint data for the Volcengine
// visual API that hosts the Jimeng text-to-image model.
type JimengConfig struct {
	AccessKey string
	SecretKey string
	Host      string
	Region    string
	Service   string
	Version   string
	ReqKey    string
	Timeout   int // seconds
}

type GenerationConfig struct {
	Mode           string // "async" or "sync"
	AutoGenerate   bool
	ImageSize      string // e.g. "2048x2048"
	StyleImageURL  string
	SummaryEnabled bool
	ContentLimit   int
	RecheckDelay   int // seconds
	BackoffDelay   int // seconds
	PublishDelay   int // seconds
	PollAttempts   int
	PollInterval   int // seconds
	BatchDelayMs   int
	SweepSpec      string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type GatewayConfig struct {
	Enabled bool
}

type RabbitMQConfig struct {
	URL      string
	Exchange string
}

// ImageArea converts ImageSize ("WIDTHxHEIGHT") into the pixel area the image
// provider expects. Unparseable sizes fall back to 2048x2048.
func (g GenerationConfig) ImageArea() int {
	const fallback = 2048 * 2048
	parts := strings.Split(strings.ToLower(strings.TrimSpace(g.ImageSize)), "x")
	if len(parts) != 2 {
		return fallback
	}
	w, errW := strconv.Atoi(parts[0])
	h, errH := strconv.Atoi(parts[1])
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return fallback
	}
	return w * h
}

func (g GenerationConfig) RecheckInterval() time.Duration {
	return time.Duration(g.RecheckDelay) * time.Second
}

func (g GenerationConfig) BackoffInterval() time.Duration {
	return time.Duration(g.BackoffDelay) * time.Second
}

func (g GenerationConfig) PublishInterval() time.Duration {
	return time.Duration(g.PublishDelay) * time.Second
}

func (g GenerationConfig) PollEvery() time.Duration {
	return time.Duration(g.PollInterval) * time.Second
}

func (g GenerationConfig) BatchDelay() time.Duration {
	return time.Duration(g.BatchDelayMs) * time.Millisecond
}

func Load() (*Config, error) {
	// .env files are optional; real environment variables win.
	_ = godotenv.Load(".env", ".env.local")

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("DATABASE_URL")
	readSecret("OPENROUTER_API_KEY")
	readSecret("JIMENG_ACCESS_KEY")
	readSecret("JIMENG_SECRET_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("ZITADEL_CLIENT_ID")
	readSecret("RABBITMQ_URL")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	bindings := map[string]string{
		"server.port":                 "SERVER_PORT",
		"server.env":                  "SERVER_ENV",
		"server.log_level":            "LOG_LEVEL",
		"redis.addr":                  "REDIS_ADDR",
		"redis.password":              "REDIS_PASSWORD",
		"redis.db":                    "REDIS_DB",
		"postgres.url":                "DATABASE_URL",
		"postgres.max_conns":          "DB_MAX_CONNS",
		"jwt.secret":                  "JWT_SECRET",
		"ratelimit.generate_per_hour": "RATELIMIT_GENERATE_PER_HOUR",
		"ratelimit.batch_per_hour":    "RATELIMIT_BATCH_PER_HOUR",
		"openrouter.api_key":          "OPENROUTER_API_KEY",
		"openrouter.base_url":         "OPENROUTER_BASE_URL",
		"openrouter.model":            "OPENROUTER_MODEL",
		"openrouter.site_url":         "OPENROUTER_SITE_URL",
		"jimeng.access_key":           "JIMENG_ACCESS_KEY",
		"jimeng.secret_key":           "JIMENG_SECRET_KEY",
		"jimeng.host":                 "JIMENG_HOST",
		"jimeng.region":               "JIMENG_REGION",
		"generation.mode":             "GENERATION_MODE",
		"generation.auto_generate":    "AUTO_GENERATE",
		"generation.image_size":       "IMAGE_SIZE",
		"generation.style_image_url":  "STYLE_IMAGE_URL",
		"generation.summary_enabled":  "SUMMARY_ENABLED",
		"r2.account_id":               "R2_ACCOUNT_ID",
		"r2.access_key_id":            "R2_ACCESS_KEY_ID",
		"r2.secret_access_key":        "R2_SECRET_ACCESS_KEY",
		"r2.bucket_name":              "R2_BUCKET_NAME",
		"r2.public_url":               "R2_PUBLIC_URL",
		"zitadel.domain":              "ZITADEL_DOMAIN",
		"zitadel.client_id":           "ZITADEL_CLIENT_ID",
		"zitadel.issuer":              "ZITADEL_ISSUER",
		"gateway.enabled":             "GATEWAY_ENABLED",
		"rabbitmq.url":                "RABBITMQ_URL",
		"rabbitmq.exchange":           "RABBITMQ_EXCHANGE",
	}
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}

	setDefaults(v)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("server.port"),
			Env:      v.GetString("server.env"),
			LogLevel: v.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Postgres: PostgresConfig{
			URL:      v.GetString("postgres.url"),
			MaxConns: v.GetInt("postgres.max_conns"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
		},
		RateLimit: RateLimitConfig{
			GeneratePerHour: v.GetInt("ratelimit.generate_per_hour"),
			BatchPerHour:    v.GetInt("ratelimit.batch_per_hour"),
		},
		OpenRouter: OpenRouterConfig{
			APIKey:   v.GetString("openrouter.api_key"),
			BaseURL:  v.GetString("openrouter.base_url"),
			Model:    v.GetString("openrouter.model"),
			SiteURL:  v.GetString("openrouter.site_url"),
			AppTitle: v.GetString("openrouter.app_title"),
		},
		Jimeng: JimengConfig{
			AccessKey: v.GetString("jimeng.access_key"),
			SecretKey: v.GetString("jimeng.secret_key"),
			Host:      v.GetString("jimeng.host"),
			Region:    v.GetString("jimeng.region"),
			Service:   v.GetString("jimeng.service"),
			Version:   v.GetString("jimeng.version"),
			ReqKey:    v.GetString("jimeng.req_key"),
			Timeout:   v.GetInt("jimeng.timeout"),
		},
		Generation: GenerationConfig{
			Mode:           v.GetString("generation.mode"),
			AutoGenerate:   v.GetBool("generation.auto_generate"),
			ImageSize:      v.GetString("generation.image_size"),
			StyleImageURL:  v.GetString("generation.style_image_url"),
			SummaryEnabled: v.GetBool("generation.summary_enabled"),
			ContentLimit:   v.GetInt("generation.content_limit"),
			RecheckDelay:   v.GetInt("generation.recheck_delay"),
			BackoffDelay:   v.GetInt("generation.backoff_delay"),
			PublishDelay:   v.GetInt("generation.publish_delay"),
			PollAttempts:   v.GetInt("generation.poll_attempts"),
			PollInterval:   v.GetInt("generation.poll_interval"),
			BatchDelayMs:   v.GetInt("generation.batch_delay_ms"),
			SweepSpec:      v.GetString("generation.sweep_spec"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		Zitadel: ZitadelConfig{
			Domain:   v.GetString("zitadel.domain"),
			ClientID: v.GetString("zitadel.client_id"),
			Issuer:   v.GetString("zitadel.issuer"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      v.GetString("rabbitmq.url"),
			Exchange: v.GetString("rabbitmq.exchange"),
		},
	}

	if mode := cfg.Generation.Mode; mode != "async" && mode != "sync" {
		return nil, fmt.Errorf("invalid generation.mode %q (want async or sync)", mode)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("ratelimit.generate_per_hour", 30)
	v.SetDefault("ratelimit.batch_per_hour", 2)

	// OpenRouter defaults
	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openrouter.model", "openai/gpt-4o")
	v.SetDefault("openrouter.app_title", "Generate Cover")

	// Jimeng defaults
	v.SetDefault("jimeng.host", "visual.volcengineapi.com")
	v.SetDefault("jimeng.region", "cn-north-1")
	v.SetDefault("jimeng.service", "cv")
	v.SetDefault("jimeng.version", "2022-08-31")
	v.SetDefault("jimeng.req_key", "jimeng_t2i_v40")
	v.SetDefault("jimeng.timeout", 60)

	// Generation defaults
	v.SetDefault("generation.mode", "async")
	v.SetDefault("generation.auto_generate", false)
	v.SetDefault("generation.image_size", "2048x2048")
	v.SetDefault("generation.summary_enabled", true)
	v.SetDefault("generation.content_limit", 2000)
	v.SetDefault("generation.recheck_delay", 30)
	v.SetDefault("generation.backoff_delay", 60)
	v.SetDefault("generation.publish_delay", 30)
	v.SetDefault("generation.poll_attempts", 30)
	v.SetDefault("generation.poll_interval", 2)
	v.SetDefault("generation.batch_delay_ms", 1000)
	v.SetDefault("generation.sweep_spec", "@every 5m")

	v.SetDefault("rabbitmq.exchange", "covers.events")
	v.SetDefault("gateway.enabled", false)
}
