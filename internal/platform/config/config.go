// Package config loads service configuration from YAML and environment
// variables with a predictable precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config is the root configuration. Sources in order of precedence:
//  1. the explicit path passed to Load;
//  2. CONFIG_PATH;
//  3. ./local.yaml in the working directory;
//  4. environment variables only.
//
// Environment variables always override file values.
type Config struct {
	Server     Server     `yaml:"server"`
	Auth       Auth       `yaml:"auth"`
	Storage    Storage    `yaml:"storage"`
	Postgres   Postgres   `yaml:"postgres"`
	Redis      Redis      `yaml:"redis"`
	Kafka      Kafka      `yaml:"kafka"`
	Attendance Attendance `yaml:"attendance"`
	Breaker    Breaker    `yaml:"breaker"`
	Audit      Audit      `yaml:"audit"`
	RateLimit  RateLimit  `yaml:"rate_limit"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `yaml:"addr"             env:"ROLLCALL_ADDR"     env-default:":8080"`
	Env             string        `yaml:"env"              env:"ROLLCALL_ENV"      env-default:"local"`
	LogLevel        string        `yaml:"log_level"        env:"LOG_LEVEL"         env-default:"info"`
	RequestTimeout  time.Duration `yaml:"request_timeout"  env:"REQUEST_TIMEOUT"   env-default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"  env-default:"15s"`
}

// Auth configures bearer-token validation for the identity layer.
type Auth struct {
	JWTSigningKey string `yaml:"jwt_signing_key" env:"JWT_SIGNING_KEY" env-default:"dev-secret-key-change-in-production"`
	JWTIssuer     string `yaml:"jwt_issuer"      env:"JWT_ISSUER"      env-default:"rollcall"`
	JWTAudience   string `yaml:"jwt_audience"    env:"JWT_AUDIENCE"    env-default:"rollcall-api"`
}

type Storage struct {
	Backend string `yaml:"backend" env:"STORAGE_BACKEND" env-default:"memory"`
}

type Postgres struct {
	URL             string        `yaml:"url"               env:"DATABASE_URL"`
	MaxOpenConns    int           `yaml:"max_open_conns"    env:"DB_MAX_OPEN_CONNS"    env-default:"25"`
	MaxIdleConns    int           `yaml:"max_idle_conns"    env:"DB_MAX_IDLE_CONNS"    env-default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME" env-default:"30m"`
	TxTimeout       time.Duration `yaml:"tx_timeout"        env:"DB_TX_TIMEOUT"        env-default:"5s"`
}

// Redis holds connection settings for the Redis backend.
type Redis struct {
	URL          string        `yaml:"url"            env:"REDIS_URL"`
	PoolSize     int           `yaml:"pool_size"      env:"REDIS_POOL_SIZE"      env-default:"10"`
	MinIdleConns int           `yaml:"min_idle_conns" env:"REDIS_MIN_IDLE_CONNS" env-default:"2"`
	DialTimeout  time.Duration `yaml:"dial_timeout"   env:"REDIS_DIAL_TIMEOUT"   env-default:"5s"`
	ReadTimeout  time.Duration `yaml:"read_timeout"   env:"REDIS_READ_TIMEOUT"   env-default:"3s"`
	WriteTimeout time.Duration `yaml:"write_timeout"  env:"REDIS_WRITE_TIMEOUT"  env-default:"3s"`
}

// Kafka configures the outbox relay. The relay only runs with the Postgres backend.
type Kafka struct {
	Enabled      bool          `yaml:"enabled"       env:"KAFKA_ENABLED"       env-default:"false"`
	Brokers      []string      `yaml:"brokers"       env:"KAFKA_BROKERS"       env-separator:","`
	Topic        string        `yaml:"topic"         env:"KAFKA_TOPIC"         env-default:"rollcall.audit"`
	Partitions   int32         `yaml:"partitions"    env:"KAFKA_PARTITIONS"    env-default:"3"`
	Replication  int16         `yaml:"replication"   env:"KAFKA_REPLICATION"   env-default:"1"`
	PollInterval time.Duration `yaml:"poll_interval" env:"OUTBOX_POLL_INTERVAL" env-default:"1s"`
	BatchSize    int           `yaml:"batch_size"    env:"OUTBOX_BATCH_SIZE"   env-default:"100"`
}

// Attendance holds token and ledger policy.
type Attendance struct {
	DefaultRadiusMeters    float64       `yaml:"default_radius_meters"    env:"DEFAULT_RADIUS_METERS"    env-default:"100"`
	DefaultDurationMinutes int           `yaml:"default_duration_minutes" env:"DEFAULT_DURATION_MINUTES" env-default:"10"`
	MaxDurationMinutes     int           `yaml:"max_duration_minutes"     env:"MAX_DURATION_MINUTES"     env-default:"240"`
	Timezone               string        `yaml:"timezone"                 env:"ATTENDANCE_TIMEZONE"      env-default:"Local"`
	SweepInterval          time.Duration `yaml:"sweep_interval"           env:"SWEEP_INTERVAL"           env-default:"1m"`
	RetentionGrace         time.Duration `yaml:"retention_grace"          env:"TOKEN_RETENTION_GRACE"    env-default:"24h"`
}

// Location resolves Timezone. "Local" means the server's zone.
func (a Attendance) Location() (*time.Location, error) {
	if a.Timezone == "" || strings.EqualFold(a.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", a.Timezone, err)
	}
	return loc, nil
}

// Breaker guards calls into the token store and ledger.
type Breaker struct {
	FailureThreshold int           `yaml:"failure_threshold" env:"BREAKER_FAILURE_THRESHOLD" env-default:"5"`
	SuccessThreshold int           `yaml:"success_threshold" env:"BREAKER_SUCCESS_THRESHOLD" env-default:"2"`
	Cooldown         time.Duration `yaml:"cooldown"          env:"BREAKER_COOLDOWN"          env-default:"5s"`
}

// Audit tunes the audit publishers. OpsActionRates overrides OpsSampleRate
// per action, e.g. AUDIT_OPS_ACTION_RATES="tokens_expired:0.1,token_issued:1".
type Audit struct {
	OpsSampleRate      float64            `yaml:"ops_sample_rate"      env:"AUDIT_OPS_SAMPLE_RATE"      env-default:"1"`
	OpsActionRates     map[string]float64 `yaml:"ops_action_rates"     env:"AUDIT_OPS_ACTION_RATES"`
	SecurityBufferSize int                `yaml:"security_buffer_size" env:"AUDIT_SECURITY_BUFFER_SIZE" env-default:"10000"`
}

// MustLoad wraps Load and panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

func Load(path string) (*Config, error) {
	var cfg Config

	readFile := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file does not exist: %s", p)
		}
		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", p, err)
		}
		return &cfg, nil
	}

	var (
		c   *Config
		err error
	)
	switch {
	case path != "":
		c, err = readFile(path)
	case os.Getenv("CONFIG_PATH") != "":
		c, err = readFile(os.Getenv("CONFIG_PATH"))
	default:
		if _, statErr := os.Stat("local.yaml"); statErr == nil {
			c, err = readFile("local.yaml")
		} else {
			if err = cleanenv.ReadEnv(&cfg); err == nil {
				c = &cfg
			}
		}
	}
	if err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Postgres.URL == "" {
			return fmt.Errorf("postgres backend requires DATABASE_URL")
		}
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("redis backend requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka enabled but KAFKA_BROKERS is empty")
	}
	if c.Auth.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required")
	}
	if c.Attendance.DefaultRadiusMeters <= 0 {
		return fmt.Errorf("default_radius_meters must be positive")
	}
	if c.Attendance.DefaultDurationMinutes <= 0 || c.Attendance.MaxDurationMinutes < c.Attendance.DefaultDurationMinutes {
		return fmt.Errorf("duration bounds invalid: default %d, max %d",
			c.Attendance.DefaultDurationMinutes, c.Attendance.MaxDurationMinutes)
	}
	if c.Attendance.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}
	if _, err := c.Attendance.Location(); err != nil {
		return err
	}
	return nil
}

// IsProduction reports whether the service runs with production defaults.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "prod" || c.Server.Env == "production"
}

// RateLimit throttles redeem and validate attempts per holder. With the Redis
// backend the window is shared across instances.
type RateLimit struct {
	Disabled      bool          `yaml:"disabled"        env:"RATE_LIMIT_DISABLED"        env-default:"false"`
	RedeemPerUser int           `yaml:"redeem_per_user" env:"RATE_LIMIT_REDEEM_PER_USER" env-default:"10"`
	Window        time.Duration `yaml:"window"          env:"RATE_LIMIT_WINDOW"          env-default:"1m"`
}
