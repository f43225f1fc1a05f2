package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Name string
	Env  string
}

type ServerConfig struct {
	Port           string
	RequestTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type StorageConfig struct {
	Driver   string // postgres or bolt
	BoltPath string
}

type RedisConfig struct {
	Enabled bool
	Channel string
}

type KafkaConfig struct {
	Brokers string
	Topic   string
}

type EscrowConfig struct {
	PlatformFeeBps    int64
	PlatformAccountID string
	ResultDeadline    time.Duration
	MinStake          int64
	MaxStake          int64
}

type WorkersConfig struct {
	Enabled            bool
	EscalationInterval time.Duration
	EscalationBatch    int
	OutboxInterval     time.Duration
	OutboxBatch        int
	ReconcileInterval  time.Duration
}

type Config struct {
	App       AppConfig
	Server    ServerConfig
	Storage   StorageConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	JWTSecret string
	Escrow    EscrowConfig
	Workers   WorkersConfig

	MetricsPort string
}

// envBindings maps config keys to the environment variables that override
// them. Database and redis connection keys are read by the database package.
var envBindings = map[string]string{
	"app.name":                    "APP_NAME",
	"app.env":                     "APP_ENV",
	"server.port":                 "PORT",
	"server.request_timeout":      "SERVER_REQUEST_TIMEOUT",
	"server.read_timeout":         "SERVER_READ_TIMEOUT",
	"server.write_timeout":        "SERVER_WRITE_TIMEOUT",
	"server.idle_timeout":         "SERVER_IDLE_TIMEOUT",
	"storage.driver":              "STORAGE_DRIVER",
	"storage.bolt_path":           "STORAGE_BOLT_PATH",
	"database.host":               "DATABASE_HOST",
	"database.port":               "DATABASE_PORT",
	"database.user":               "DATABASE_USER",
	"database.password":           "DATABASE_PASSWORD",
	"database.name":               "DATABASE_NAME",
	"database.ssl_mode":           "DATABASE_SSL_MODE",
	"redis.enabled":               "REDIS_ENABLED",
	"redis.host":                  "REDIS_HOST",
	"redis.port":                  "REDIS_PORT",
	"redis.password":              "REDIS_PASSWORD",
	"redis.db":                    "REDIS_DB",
	"redis.channel":               "REDIS_CHANNEL",
	"kafka.brokers":               "KAFKA_BROKERS",
	"kafka.topic":                 "KAFKA_TOPIC",
	"jwt.secret_key":              "JWT_SECRET_KEY",
	"escrow.platform_fee_bps":     "ESCROW_PLATFORM_FEE_BPS",
	"escrow.platform_account_id":  "ESCROW_PLATFORM_ACCOUNT_ID",
	"escrow.result_deadline":      "ESCROW_RESULT_DEADLINE",
	"escrow.min_stake":            "ESCROW_MIN_STAKE",
	"escrow.max_stake":            "ESCROW_MAX_STAKE",
	"workers.enabled":             "WORKERS_ENABLED",
	"workers.escalation_interval": "WORKERS_ESCALATION_INTERVAL",
	"workers.escalation_batch":    "WORKERS_ESCALATION_BATCH",
	"workers.outbox_interval":     "WORKERS_OUTBOX_INTERVAL",
	"workers.outbox_batch":        "WORKERS_OUTBOX_BATCH",
	"workers.reconcile_interval":  "WORKERS_RECONCILE_INTERVAL",
	"metrics.port":                "METRICS_PORT",
}

func setDefaults() {
	viper.SetDefault("app.name", "clutchstake-escrow")
	viper.SetDefault("app.env", "local")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.request_timeout", 30*time.Second)
	viper.SetDefault("server.read_timeout", 15*time.Second)
	viper.SetDefault("server.write_timeout", 15*time.Second)
	viper.SetDefault("server.idle_timeout", 60*time.Second)
	viper.SetDefault("storage.driver", "postgres")
	viper.SetDefault("storage.bolt_path", "./data/escrow.db")
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.channel", "escrow:events")
	viper.SetDefault("kafka.topic", "escrow.events")
	viper.SetDefault("escrow.platform_fee_bps", 1000)
	viper.SetDefault("escrow.platform_account_id", "platform")
	viper.SetDefault("escrow.result_deadline", 24*time.Hour)
	viper.SetDefault("escrow.min_stake", 100)
	viper.SetDefault("escrow.max_stake", 10_000_000)
	viper.SetDefault("workers.enabled", true)
	viper.SetDefault("workers.escalation_interval", time.Minute)
	viper.SetDefault("workers.escalation_batch", 100)
	viper.SetDefault("workers.outbox_interval", 2*time.Second)
	viper.SetDefault("workers.outbox_batch", 100)
	viper.SetDefault("workers.reconcile_interval", 15*time.Minute)
	viper.SetDefault("metrics.port", "9090")
}

// Load reads configFile (usually .env) when present, applies environment
// overrides and defaults, and validates the result.
func Load(configFile string) (*Config, error) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}
	setDefaults()

	if configFile != "" {
		if err := viper.ReadInConfig(); err != nil {
			log.Printf("Config file not found, using defaults: %v", err)
		}
		// .env files are keyed by variable name; environment still wins.
		for key, env := range envBindings {
			if name := strings.ToLower(env); viper.InConfig(name) {
				viper.SetDefault(key, viper.Get(name))
			}
		}
	}

	cfg := &Config{
		App: AppConfig{
			Name: viper.GetString("app.name"),
			Env:  viper.GetString("app.env"),
		},
		Server: ServerConfig{
			Port:           viper.GetString("server.port"),
			RequestTimeout: viper.GetDuration("server.request_timeout"),
			ReadTimeout:    viper.GetDuration("server.read_timeout"),
			WriteTimeout:   viper.GetDuration("server.write_timeout"),
			IdleTimeout:    viper.GetDuration("server.idle_timeout"),
		},
		Storage: StorageConfig{
			Driver:   viper.GetString("storage.driver"),
			BoltPath: viper.GetString("storage.bolt_path"),
		},
		Redis: RedisConfig{
			Enabled: viper.GetBool("redis.enabled"),
			Channel: viper.GetString("redis.channel"),
		},
		Kafka: KafkaConfig{
			Brokers: viper.GetString("kafka.brokers"),
			Topic:   viper.GetString("kafka.topic"),
		},
		JWTSecret: viper.GetString("jwt.secret_key"),
		Escrow: EscrowConfig{
			PlatformFeeBps:    viper.GetInt64("escrow.platform_fee_bps"),
			PlatformAccountID: viper.GetString("escrow.platform_account_id"),
			ResultDeadline:    viper.GetDuration("escrow.result_deadline"),
			MinStake:          viper.GetInt64("escrow.min_stake"),
			MaxStake:          viper.GetInt64("escrow.max_stake"),
		},
		Workers: WorkersConfig{
			Enabled:            viper.GetBool("workers.enabled"),
			EscalationInterval: viper.GetDuration("workers.escalation_interval"),
			EscalationBatch:    viper.GetInt("workers.escalation_batch"),
			OutboxInterval:     viper.GetDuration("workers.outbox_interval"),
			OutboxBatch:        viper.GetInt("workers.outbox_batch"),
			ReconcileInterval:  viper.GetDuration("workers.reconcile_interval"),
		},
		MetricsPort: viper.GetString("metrics.port"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Storage.Driver != "postgres" && c.Storage.Driver != "bolt" {
		errs = append(errs, fmt.Errorf("storage.driver must be postgres or bolt, got %q", c.Storage.Driver))
	}
	if c.Escrow.PlatformFeeBps < 0 || c.Escrow.PlatformFeeBps > 10_000 {
		errs = append(errs, fmt.Errorf("escrow.platform_fee_bps must be within 0..10000, got %d", c.Escrow.PlatformFeeBps))
	}
	if c.Escrow.PlatformAccountID == "" {
		errs = append(errs, errors.New("escrow.platform_account_id is required"))
	}
	if c.Escrow.MinStake <= 0 || c.Escrow.MaxStake < c.Escrow.MinStake {
		errs = append(errs, fmt.Errorf("escrow stake bounds invalid: min %d max %d", c.Escrow.MinStake, c.Escrow.MaxStake))
	}
	// 2*max_stake*10000 must fit in int64 for the fee computation.
	if c.Escrow.MaxStake > (1<<63-1)/(2*10_000) {
		errs = append(errs, fmt.Errorf("escrow.max_stake %d too large", c.Escrow.MaxStake))
	}
	if c.Escrow.ResultDeadline <= 0 {
		errs = append(errs, errors.New("escrow.result_deadline must be positive"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt.secret_key is required"))
	}
	return errors.Join(errs...)
}
