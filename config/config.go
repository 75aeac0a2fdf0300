package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. TIMECHAT_SERVER_PORT.
const EnvPrefix = "TIMECHAT"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	WorkerPool WorkerPoolConfig `mapstructure:"worker_pool"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Websocket  WebsocketConfig  `mapstructure:"websocket"`
	Chat       ChatConfig       `mapstructure:"chat"`
	Invite     InviteConfig     `mapstructure:"invite"`
	Cleanup    CleanupConfig    `mapstructure:"cleanup"`
	Upload     UploadConfig     `mapstructure:"upload"`
	Snowflake  SnowflakeConfig  `mapstructure:"snowflake"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig selects the persistence driver: postgres, sqlite or memory.
type StorageConfig struct {
	Driver     string         `mapstructure:"driver"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
	SQLitePath string         `mapstructure:"sqlite_path"`
	LogQueries bool           `mapstructure:"log_queries"`
}

type PostgresConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type JWTConfig struct {
	Secret       string `mapstructure:"secret"`
	ExpireHours  int    `mapstructure:"expire_hours"`
	RefreshHours int    `mapstructure:"refresh_hours"`
}

// RateLimitConfig holds per-endpoint limits, in requests per minute.
type RateLimitConfig struct {
	RegisterPerMinute int  `mapstructure:"register_per_minute"`
	LoginPerMinute    int  `mapstructure:"login_per_minute"`
	MessagePerMinute  int  `mapstructure:"message_per_minute"`
	InvitePerMinute   int  `mapstructure:"invite_per_minute"`
	APIPerMinute      int  `mapstructure:"api_per_minute"`
	FailOpen          bool `mapstructure:"fail_open"`
}

type WorkerPoolConfig struct {
	Size      int `mapstructure:"size"`
	QueueSize int `mapstructure:"queue_size"`
}

type KafkaConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Brokers        []string `mapstructure:"brokers"`
	Topic          string   `mapstructure:"topic"`
	MaxRetries     int      `mapstructure:"max_retries"`
	RetryBackoffMs int      `mapstructure:"retry_backoff_ms"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

type WebsocketConfig struct {
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
	SendBufferSize  int           `mapstructure:"send_buffer_size"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
	PresenceTTL     time.Duration `mapstructure:"presence_ttl"`
}

// PingPeriod must stay below PongWait.
func (c WebsocketConfig) PingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}

type ChatConfig struct {
	DefaultTTL     time.Duration `mapstructure:"default_ttl"`
	MaxMembers     int           `mapstructure:"max_members"`
	NameMaxLength  int           `mapstructure:"name_max_length"`
	GlobalRoomName string        `mapstructure:"global_room_name"`
}

type InviteConfig struct {
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	CodeLength  int           `mapstructure:"code_length"`
	Alphabet    string        `mapstructure:"alphabet"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type CleanupConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
}

type UploadConfig struct {
	Dir          string   `mapstructure:"dir"`
	PublicPrefix string   `mapstructure:"public_prefix"`
	MaxBytes     int64    `mapstructure:"max_bytes"`
	AllowedMIME  []string `mapstructure:"allowed_mime"`
}

type SnowflakeConfig struct {
	WorkerID int64 `mapstructure:"worker_id"`
}

// DefaultAllowedMIME is the attachment allowlist used when none is configured.
var DefaultAllowedMIME = []string{
	"image/jpeg", "image/png", "image/gif", "image/webp",
	"audio/mpeg", "audio/wav", "audio/ogg", "audio/webm",
	"video/mp4", "video/webm", "video/quicktime",
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.ms-powerpoint",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"text/plain",
	"application/zip",
	"application/x-rar-compressed",
	"application/vnd.rar",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("storage.postgres.host", "127.0.0.1")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.user", "postgres")
	v.SetDefault("storage.postgres.dbname", "timechat")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.postgres.max_idle_conns", 10)
	v.SetDefault("storage.postgres.max_open_conns", 50)
	v.SetDefault("storage.sqlite_path", "./data/timechat.db")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("jwt.expire_hours", 24*7)
	v.SetDefault("jwt.refresh_hours", 24)

	v.SetDefault("ratelimit.register_per_minute", 5)
	v.SetDefault("ratelimit.login_per_minute", 10)
	v.SetDefault("ratelimit.message_per_minute", 120)
	v.SetDefault("ratelimit.invite_per_minute", 20)
	v.SetDefault("ratelimit.api_per_minute", 300)
	v.SetDefault("ratelimit.fail_open", true)

	v.SetDefault("worker_pool.size", 8)
	v.SetDefault("worker_pool.queue_size", 1024)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic", "timechat.events")
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff_ms", 100)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.send_buffer_size", 256)
	v.SetDefault("websocket.max_message_size", 64*1024)
	v.SetDefault("websocket.write_wait", 10*time.Second)
	v.SetDefault("websocket.pong_wait", 60*time.Second)
	v.SetDefault("websocket.presence_ttl", 5*time.Minute)

	v.SetDefault("chat.default_ttl", 5*time.Hour)
	v.SetDefault("chat.max_members", 50)
	v.SetDefault("chat.name_max_length", 100)
	v.SetDefault("chat.global_room_name", "Global Chat")

	v.SetDefault("invite.default_ttl", 60*time.Minute)
	v.SetDefault("invite.code_length", 6)
	v.SetDefault("invite.alphabet", "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")
	v.SetDefault("invite.max_attempts", 50)

	v.SetDefault("cleanup.interval", time.Hour)
	v.SetDefault("cleanup.startup_delay", 10*time.Second)

	v.SetDefault("upload.dir", "./uploads")
	v.SetDefault("upload.public_prefix", "/uploads")
	v.SetDefault("upload.max_bytes", 10<<20)
	v.SetDefault("upload.allowed_mime", DefaultAllowedMIME)

	v.SetDefault("snowflake.worker_id", 1)
}

// LoadConfig reads the config file at path (optional), a .env file in the
// working directory (optional) and TIMECHAT_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}
	if c.Chat.MaxMembers < 2 {
		return fmt.Errorf("chat.max_members must be at least 2, got %d", c.Chat.MaxMembers)
	}
	if c.Invite.CodeLength < 4 || c.Invite.CodeLength > 16 {
		return fmt.Errorf("invite.code_length must be within [4, 16], got %d", c.Invite.CodeLength)
	}
	if c.Invite.MaxAttempts < 1 {
		return errors.New("invite.max_attempts must be positive")
	}
	if c.Websocket.PongWait <= 0 {
		return errors.New("websocket.pong_wait must be positive")
	}
	return nil
}
