package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mcdev12/quizsync/go/internal/gateway"
)

func main() {
	configPath := flag.String("config", getEnv("QUIZSYNC_CONFIG", ""), "path to YAML config file")
	code := flag.String("join", "", "lobby code to join; empty creates a new lobby")
	name := flag.String("name", getEnv("QUIZSYNC_PLAYER_NAME", ""), "player name")
	flag.Parse()

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	config, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	level, _ := zerolog.ParseLevel(config.Log.Level)
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config, *code, *name); err != nil {
		log.Fatal().Err(err).Msg("quizsync failed")
	}
	log.Info().Msg("quizsync stopped")
}

func run(ctx context.Context, config *Config, code, name string) error {
	con := newConsole(os.Stdout)
	services, err := setupServices(config, con.hooks())
	if err != nil {
		return err
	}
	con.questions = services.Questions
	con.lobbies = services.Lobbies

	var session *gateway.Session
	if code == "" {
		session, err = services.Lobby.Create(ctx, name)
	} else {
		session, err = services.Lobby.Join(ctx, code, name)
	}
	if err != nil {
		return err
	}

	log.Info().
		Str("lobby_code", session.LobbyCode()).
		Str("transport", config.Transport.Kind).
		Msg("starting session")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return session.Run(ctx)
	})

	g.Go(func() error {
		con.watchRounds(ctx)
		return nil
	})

	g.Go(func() error {
		defer cancel()
		return con.run(ctx, os.Stdin, session, session.Done(), services.Lobby.Leave)
	})

	if config.Status.Addr != "" {
		server := setupServer(config.Status.Addr, services.Lobby, services.Metrics)
		g.Go(func() error {
			log.Info().Str("addr", server.Addr).Msg("status server starting")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
