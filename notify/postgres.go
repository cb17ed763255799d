package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type PostgresConfig struct {
	DatabaseURL  string        // Postgres DSN for LISTEN/NOTIFY
	Channel      string        // Channel name to LISTEN on
	PingInterval time.Duration // How often to check the listener connection
	MinReconnect time.Duration
	MaxReconnect time.Duration
}

func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Channel:      "livequiz_changes",
		PingInterval: 90 * time.Second,
		MinReconnect: 10 * time.Second,
		MaxReconnect: time.Minute,
	}
}

// PostgresBus sends changes with pg_notify on a single channel and fans the
// notifications it LISTENs to out through a LocalBus.
type PostgresBus struct {
	db       *sql.DB
	listener *pq.Listener
	local    *LocalBus
	cfg      PostgresConfig
}

func NewPostgresBus(db *sql.DB, cfg PostgresConfig) (*PostgresBus, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		cfg.MinReconnect,
		cfg.MaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.Channel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.Channel).
		Msg("listening for notifications")

	return &PostgresBus{
		db:       db,
		listener: l,
		local:    NewLocalBus(),
		cfg:      cfg,
	}, nil
}

// Start dispatches notifications until ctx is done.
func (b *PostgresBus) Start(ctx context.Context) error {
	pingTicker := time.NewTicker(b.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("listener shutting down")
			return nil
		case note, ok := <-b.listener.Notify:
			if !ok {
				return nil
			}
			b.handle(ctx, note)
		case <-pingTicker.C:
			if err := b.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (b *PostgresBus) handle(ctx context.Context, note *pq.Notification) {
	if note == nil {
		// nil notification means the connection was re-established;
		// anything sent meanwhile is lost, so make everyone re-read.
		b.local.Resync()
		return
	}
	b.dispatch(ctx, note.Extra)
}

func (b *PostgresBus) dispatch(ctx context.Context, extra string) {
	var change Change
	if err := json.Unmarshal([]byte(extra), &change); err != nil {
		log.Error().Err(err).Msg("invalid change in notification")
		return
	}
	if err := b.local.Publish(ctx, change); err != nil {
		log.Error().Err(err).Msg("failed to dispatch notification")
	}
}

func (b *PostgresBus) Publish(ctx context.Context, change Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", b.cfg.Channel, string(data)); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

func (b *PostgresBus) Subscribe(ctx context.Context, topic Topic) (Subscription, error) {
	return b.local.Subscribe(ctx, topic)
}

func (b *PostgresBus) Close() error {
	err := b.listener.Close()
	b.local.Close()
	return err
}
