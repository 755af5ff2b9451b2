// Package config loads the service configuration from the environment. A
// .env file in the working directory is read first when present.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is everything cmd/server and cmd/historian need.
type Config struct {
	Port      int    `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	// AllowedOrigins are the cross-origin patterns browsers may call from.
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"sqlite"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"gameroom.db"`
	Postgres    Postgres

	Redis Redis

	PregameDelay    time.Duration `env:"PREGAME_DELAY" envDefault:"1500ms"`
	DisconnectGrace time.Duration `env:"DISCONNECT_GRACE" envDefault:"3m"`
	RatingFloor     int           `env:"RATING_FLOOR" envDefault:"100"`

	Auth      Auth
	Historian Historian
}

// Postgres holds the connection parameters of the postgres user store.
type Postgres struct {
	User     string `env:"POSTGRES_USER" envDefault:"postgres"`
	Password string `env:"POSTGRES_PASSWORD"`
	Host     string `env:"PG_HOST" envDefault:"localhost"`
	Port     int    `env:"PG_PORT" envDefault:"5432"`
	Database string `env:"PG_DATABASE" envDefault:"gameroom"`
}

// DSN is the pgx connection string.
func (p Postgres) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", p.User, p.Password, p.Host, p.Port, p.Database)
}

// Redis configures the action queue and the user cache. An empty Addr turns both off.
type Redis struct {
	Addr     string        `env:"REDIS_ADDR"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB" envDefault:"0"`
	Queue    string        `env:"HISTORIAN_QUEUE_NAME" envDefault:"gameroom_actions"`
	UserTTL  time.Duration `env:"USER_CACHE_TTL" envDefault:"5m"`
}

// Auth locates the ed25519 key pair. Empty paths generate a key pair at startup.
type Auth struct {
	PrivateKeyPath string        `env:"JWT_PRIVATE_KEY_PATH"`
	PublicKeyPath  string        `env:"JWT_PUBLIC_KEY_PATH"`
	TokenExpire    time.Duration `env:"TOKEN_EXPIRE_TIME" envDefault:"72h"`
}

// Historian tunes the action queue consumer.
type Historian struct {
	BatchSize  int           `env:"HISTORIAN_BATCH_SIZE" envDefault:"20"`
	FlushDelay time.Duration `env:"HISTORIAN_FLUSH_DELAY" envDefault:"500ms"`
	Inactivity time.Duration `env:"GAME_INACTIVITY_TIMEOUT" envDefault:"10m"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(cfg.StoreDriver)
	switch cfg.StoreDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return Config{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	return cfg, nil
}

// Logger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c Config) Logger() (*logrus.Logger, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	logger.SetLevel(level)
	if strings.EqualFold(c.LogFormat, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
