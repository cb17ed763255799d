package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "LIVEQUIZ"

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	NotifyLocal    = "local"
	NotifyRedis    = "redis"
	NotifyNATS     = "nats"
	NotifyPostgres = "postgres"
)

type Config struct {
	ConfigFile string

	Bind string
	Port int

	Store  string
	Notify string

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	NATSURL   string
	PGChannel string

	QuestionSecret string
	SeatSecret     string
	SeatTTL        time.Duration
	QuestionSet    string
	RevealDelay    time.Duration

	LogLevel  string
	LogFormat string
}

// RegisterFlags declares every setting on fs with its default.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&c.ConfigFile, "config", "c", "", "path to a YAML config file (env: LIVEQUIZ_CONFIG)")
	fs.StringVarP(&c.Bind, "bind", "b", "localhost", "address to bind to (env: LIVEQUIZ_BIND)")
	fs.IntVarP(&c.Port, "port", "p", 8080, "port to listen on (env: LIVEQUIZ_PORT)")
	fs.StringVar(&c.Store, "store", StorePostgres, "game store: postgres or memory (env: LIVEQUIZ_STORE)")
	fs.StringVar(&c.Notify, "notify", NotifyLocal, "change notification bus: local, redis, nats or postgres (env: LIVEQUIZ_NOTIFY)")

	fs.StringVar(&c.DBHost, "db-host", "localhost", "postgres host (env: LIVEQUIZ_DB_HOST)")
	fs.IntVar(&c.DBPort, "db-port", 5432, "postgres port (env: LIVEQUIZ_DB_PORT)")
	fs.StringVar(&c.DBUser, "db-user", "livequiz", "postgres user (env: LIVEQUIZ_DB_USER)")
	fs.StringVar(&c.DBPassword, "db-password", "", "postgres password (env: LIVEQUIZ_DB_PASSWORD)")
	fs.StringVar(&c.DBName, "db-name", "livequiz", "postgres database (env: LIVEQUIZ_DB_NAME)")
	fs.StringVar(&c.DBSSLMode, "db-sslmode", "disable", "postgres sslmode (env: LIVEQUIZ_DB_SSLMODE)")

	fs.StringVar(&c.RedisAddr, "redis-addr", "localhost:6379", "redis address (env: LIVEQUIZ_REDIS_ADDR)")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "redis password (env: LIVEQUIZ_REDIS_PASSWORD)")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "redis database number (env: LIVEQUIZ_REDIS_DB)")
	fs.StringVar(&c.NATSURL, "nats-url", "nats://127.0.0.1:4222", "nats server url (env: LIVEQUIZ_NATS_URL)")
	fs.StringVar(&c.PGChannel, "pg-channel", "livequiz_changes", "postgres LISTEN/NOTIFY channel (env: LIVEQUIZ_PG_CHANNEL)")

	fs.StringVar(&c.QuestionSecret, "question-secret", "", "shared secret for POST /api/ques, empty disables it (env: LIVEQUIZ_QUESTION_SECRET)")
	fs.StringVar(&c.SeatSecret, "seat-secret", "", "HMAC key for seat tokens (env: LIVEQUIZ_SEAT_SECRET)")
	fs.DurationVar(&c.SeatTTL, "seat-ttl", 12*time.Hour, "seat token lifetime (env: LIVEQUIZ_SEAT_TTL)")
	fs.StringVar(&c.QuestionSet, "question-set", "", "YAML question set used when a host brings none (env: LIVEQUIZ_QUESTION_SET)")
	fs.DurationVar(&c.RevealDelay, "reveal-delay", time.Second, "pause between the last answer and the next question (env: LIVEQUIZ_REVEAL_DELAY)")

	fs.StringVar(&c.LogLevel, "log-level", "info", "log level: debug, info, warn or error (env: LIVEQUIZ_LOG_LEVEL)")
	fs.StringVar(&c.LogFormat, "log-format", "console", "log format: console or json (env: LIVEQUIZ_LOG_FORMAT)")
}

// Apply fills every flag the command line left unset from the environment
// and, if set, the config file. Command line beats env beats file.
func Apply(fs *pflag.FlagSet) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	path, _ := fs.GetString("config")
	if path == "" {
		path = v.GetString("config")
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(f.Name, f); err != nil {
			errs = append(errs, err)
			return
		}
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		if err := fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); err != nil {
			errs = append(errs, fmt.Errorf("invalid value for %s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if c.DBPort < 1 || c.DBPort > 65535 {
		return fmt.Errorf("invalid db port (must be between 1-65535 inclusive): %d", c.DBPort)
	}
	switch c.Store {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("unknown store %q (want postgres or memory)", c.Store)
	}
	switch c.Notify {
	case NotifyLocal, NotifyRedis, NotifyNATS, NotifyPostgres:
	default:
		return fmt.Errorf("unknown notify bus %q (want local, redis, nats or postgres)", c.Notify)
	}
	if c.Store == StoreMemory && c.Notify != NotifyLocal {
		return fmt.Errorf("the memory store only works with the local bus, not %q", c.Notify)
	}
	if c.SeatSecret == "" {
		return errors.New("--seat-secret is required")
	}
	if c.SeatTTL <= 0 {
		return fmt.Errorf("invalid seat ttl: %s", c.SeatTTL)
	}
	if c.RevealDelay < 0 {
		return fmt.Errorf("invalid reveal delay: %s", c.RevealDelay)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q (want console or json)", c.LogFormat)
	}
	return nil
}

func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}

// DatabaseURL is the DSN in the URL form pq.Listener expects.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}
