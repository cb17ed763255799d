package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"livequiz/notify"
	"livequiz/store"
)

func InitDB(cfg *Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

func InitRedis(ctx context.Context, cfg *Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

func InitNATS(cfg *Config) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("livequiz"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
	}

	nc, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Backend is the store and change bus picked by the config, plus whatever
// has to be torn down with them.
type Backend struct {
	Store store.Store
	Bus   notify.Bus

	closers []func() error
}

// Close tears the backend down in reverse order of construction.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

func (b *Backend) onClose(fn func() error) {
	b.closers = append(b.closers, fn)
}

// OpenBackend connects the configured store and bus. The postgres bus
// listens until ctx is done.
func OpenBackend(ctx context.Context, cfg *Config, clock clockwork.Clock) (*Backend, error) {
	b := &Backend{}

	if cfg.Store == StoreMemory {
		bus := notify.NewLocalBus()
		b.onClose(bus.Close)
		b.Bus = bus
		b.Store = store.NewMemoryStore(bus, clock)
		log.Info().Msg("using in-memory store")
		return b, nil
	}

	db, err := InitDB(cfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	b.onClose(sqlDB.Close)

	if err := b.openBus(ctx, cfg, sqlDB); err != nil {
		b.Close()
		return nil, err
	}

	gs := store.NewGormStore(db, b.Bus)
	if err := gs.Migrate(); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	b.Store = gs

	log.Info().Str("host", cfg.DBHost).Str("db", cfg.DBName).Str("notify", cfg.Notify).Msg("using postgres store")
	return b, nil
}

func (b *Backend) openBus(ctx context.Context, cfg *Config, sqlDB *sql.DB) error {
	switch cfg.Notify {
	case NotifyRedis:
		client, err := InitRedis(ctx, cfg)
		if err != nil {
			return err
		}
		// The bus owns the client and closes it.
		bus := notify.NewRedisBus(client)
		b.onClose(bus.Close)
		b.Bus = bus

	case NotifyNATS:
		nc, err := InitNATS(cfg)
		if err != nil {
			return err
		}
		bus := notify.NewNATSBus(nc)
		b.onClose(bus.Close)
		b.Bus = bus

	case NotifyPostgres:
		pgCfg := notify.DefaultPostgresConfig()
		pgCfg.DatabaseURL = cfg.DatabaseURL()
		pgCfg.Channel = cfg.PGChannel
		bus, err := notify.NewPostgresBus(sqlDB, pgCfg)
		if err != nil {
			return err
		}
		b.onClose(bus.Close)
		go func() {
			if err := bus.Start(ctx); err != nil {
				log.Error().Err(err).Msg("postgres listener stopped")
			}
		}()
		b.Bus = bus

	default:
		bus := notify.NewLocalBus()
		b.onClose(bus.Close)
		b.Bus = bus
	}
	return nil
}
