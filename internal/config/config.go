package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration tree, decoded from config/config.yaml.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	MySQL   MySQLConfig   `mapstructure:"mysql"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Logging LoggingConfig `mapstructure:"logging"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"`
}

type RedisConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	LockTTL        time.Duration `mapstructure:"lock_ttl"`
	LockRetry      time.Duration `mapstructure:"lock_retry"`
	LockMaxRetries int           `mapstructure:"lock_max_retries"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	LedgerEvents string `mapstructure:"ledger_events"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// LedgerConfig holds the business limits of reward submissions.
type LedgerConfig struct {
	MinBillAmount      int64         `mapstructure:"min_bill_amount"`
	MaxBillAmount      int64         `mapstructure:"max_bill_amount"`
	BillDateWindowDays int           `mapstructure:"bill_date_window_days"`
	StaleUnownedAfter  time.Duration `mapstructure:"stale_unowned_after"`
	WelcomeBonusCoins  int64         `mapstructure:"welcome_bonus_coins"`
}

type JobsConfig struct {
	OutboxInterval  time.Duration `mapstructure:"outbox_interval"`
	OutboxBatchSize int           `mapstructure:"outbox_batch_size"`
	MaxRetryCount   int           `mapstructure:"max_retry_count"`
	CleanupSchedule string        `mapstructure:"cleanup_schedule"`
	CleanupBatch    int           `mapstructure:"cleanup_batch"`
}

const envPrefix = "CORRA"

// Default returns the configuration used when a key is absent from the file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Mode:         "release",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		MySQL: MySQLConfig{
			Host:         "127.0.0.1",
			Port:         3306,
			User:         "root",
			Database:     "corra_coins",
			MaxOpenConns: 50,
			MaxIdleConns: 10,
			LogLevel:     "warn",
		},
		Redis: RedisConfig{
			Host:           "127.0.0.1",
			Port:           6379,
			LockTTL:        30 * time.Second,
			LockRetry:      100 * time.Millisecond,
			LockMaxRetries: 30,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"127.0.0.1:9092"},
			Topic:   KafkaTopicConfig{LedgerEvents: "corra.ledger.events"},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSize:    100,
			MaxAge:     14,
			MaxBackups: 5,
		},
		Ledger: LedgerConfig{
			MinBillAmount:      1,
			MaxBillAmount:      100000,
			BillDateWindowDays: 30,
			StaleUnownedAfter:  72 * time.Hour,
			WelcomeBonusCoins:  50,
		},
		Jobs: JobsConfig{
			OutboxInterval:  500 * time.Millisecond,
			OutboxBatchSize: 100,
			MaxRetryCount:   5,
			CleanupSchedule: "@every 1h",
			CleanupBatch:    100,
		},
	}
}

// Load reads the yaml file at configPath. CORRA_* environment variables
// override file values (CORRA_MYSQL_HOST overrides mysql.host).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", configPath, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects limit combinations the ledger cannot operate with.
func (c *Config) Validate() error {
	l := c.Ledger
	if l.MinBillAmount < 1 || l.MaxBillAmount < l.MinBillAmount {
		return fmt.Errorf("invalid bill amount bounds [%d, %d]", l.MinBillAmount, l.MaxBillAmount)
	}
	if l.BillDateWindowDays < 0 {
		return fmt.Errorf("bill_date_window_days must not be negative")
	}
	if l.WelcomeBonusCoins < 0 {
		return fmt.Errorf("welcome_bonus_coins must not be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)

	v.SetDefault("mysql.host", d.MySQL.Host)
	v.SetDefault("mysql.port", d.MySQL.Port)
	v.SetDefault("mysql.user", d.MySQL.User)
	v.SetDefault("mysql.password", d.MySQL.Password)
	v.SetDefault("mysql.database", d.MySQL.Database)
	v.SetDefault("mysql.max_open_conns", d.MySQL.MaxOpenConns)
	v.SetDefault("mysql.max_idle_conns", d.MySQL.MaxIdleConns)
	v.SetDefault("mysql.log_level", d.MySQL.LogLevel)

	v.SetDefault("redis.host", d.Redis.Host)
	v.SetDefault("redis.port", d.Redis.Port)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.lock_ttl", d.Redis.LockTTL)
	v.SetDefault("redis.lock_retry", d.Redis.LockRetry)
	v.SetDefault("redis.lock_max_retries", d.Redis.LockMaxRetries)

	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.topic.ledger_events", d.Kafka.Topic.LedgerEvents)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
	v.SetDefault("logging.filename", d.Logging.Filename)
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_age", d.Logging.MaxAge)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.compress", d.Logging.Compress)

	v.SetDefault("ledger.min_bill_amount", d.Ledger.MinBillAmount)
	v.SetDefault("ledger.max_bill_amount", d.Ledger.MaxBillAmount)
	v.SetDefault("ledger.bill_date_window_days", d.Ledger.BillDateWindowDays)
	v.SetDefault("ledger.stale_unowned_after", d.Ledger.StaleUnownedAfter)
	v.SetDefault("ledger.welcome_bonus_coins", d.Ledger.WelcomeBonusCoins)

	v.SetDefault("jobs.outbox_interval", d.Jobs.OutboxInterval)
	v.SetDefault("jobs.outbox_batch_size", d.Jobs.OutboxBatchSize)
	v.SetDefault("jobs.max_retry_count", d.Jobs.MaxRetryCount)
	v.SetDefault("jobs.cleanup_schedule", d.Jobs.CleanupSchedule)
	v.SetDefault("jobs.cleanup_batch", d.Jobs.CleanupBatch)
}
