package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/wsrelay/internal/logging"
	"github.com/Tyrowin/wsrelay/internal/server"
)

func main() {
	config := server.NewConfigFromEnv()
	logger := logging.New(config.LogLevel, config.LogFormat, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, config, logger)
	stop()
	os.Exit(code)
}

// run binds config.Port and serves the relay until ctx is cancelled. It
// returns the process exit code: 1 on bind failure, serve error or an
// incomplete shutdown, 0 otherwise.
func run(ctx context.Context, config *server.Config, logger zerolog.Logger) int {
	logger.Info().
		Str("mode", string(config.Mode)).
		Str("subprotocol", config.Subprotocol).
		Str("id_strategy", config.IDStrategy).
		Msg("starting wsrelay")

	relay := server.New(*config, logger)
	httpServer := server.CreateServer(config.Port, relay.Routes())

	ln, err := server.Listen(config.Port)
	if err != nil {
		logger.Error().Err(err).Msg("failed to bind listener")
		return 1
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.StartServer(httpServer, ln, logger)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server stopped")
			return 1
		}
		return 0
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	}

	code := 0
	if err := server.ShutdownServer(httpServer, config.ShutdownTimeout, logger); err != nil {
		code = 1
	}
	if err := relay.Shutdown(config.ShutdownTimeout); err != nil {
		logger.Error().Err(err).Msg("relay shutdown incomplete")
		code = 1
	}
	return code
}
