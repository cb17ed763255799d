package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"livequiz/config"
	"livequiz/handlers"
	"livequiz/middleware"
	"livequiz/questions"
	"livequiz/routes"
	"livequiz/services"
)

const releaseVersion = "0.1.0"

func main() {
	// A missing .env is fine; flags and the environment still apply.
	_ = godotenv.Load()

	cfg := &config.Config{}
	cobra.CheckErr(newCmd(cfg).Execute())
}

func newCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "livequiz",
		Short:         "Real-time multiplayer quiz server.",
		Args:          cobra.ExactArgs(0),
		Version:       releaseVersion,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Apply(cmd.Flags()); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := setupLogging(cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	cfg.RegisterFlags(cmd.Flags())

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("livequiz v{{.Version}}\n")

	return cmd
}

func setupLogging(cfg *config.Config) error {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	clock := clockwork.NewRealClock()

	backend, err := config.OpenBackend(ctx, cfg, clock)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close backend")
		}
	}()

	defaultSet := questions.Sample
	if cfg.QuestionSet != "" {
		set, err := questions.LoadFile(cfg.QuestionSet)
		if err != nil {
			return err
		}
		log.Info().Str("file", cfg.QuestionSet).Int("questions", len(set)).Msg("loaded default question set")
		defaultSet = func() questions.Set { return append(questions.Set(nil), set...) }
	}

	seats, err := services.NewSeatIssuer(cfg.SeatSecret, cfg.SeatTTL, clock)
	if err != nil {
		return err
	}

	st := backend.Store
	sessions := services.NewSessionService(st, clock)
	roster := services.NewRosterService(st)
	quiz := services.NewQuestionService(st, cfg.QuestionSecret)
	scoring := services.NewScoringService(st, clock)

	hub := services.NewHub(&services.BridgeFactory{
		Store:       st,
		Sessions:    sessions,
		Roster:      roster,
		Questions:   quiz,
		Scoring:     scoring,
		Clock:       clock,
		RevealDelay: cfg.RevealDelay,
	})
	go hub.Run(ctx)

	gameHandler := handlers.NewGameHandler(sessions, roster, quiz, scoring, seats, hub, defaultSet)
	questionHandler := handlers.NewQuestionHandler(quiz)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Logger(), middleware.CORS())
	routes.SetupRoutes(router, gameHandler, questionHandler, seats)

	srv := &http.Server{
		Addr:              cfg.Address(),
		Handler:           h2c.NewHandler(router, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", releaseVersion).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
