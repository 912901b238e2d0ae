// Command server runs the authoritative game server: websocket sessions,
// the fixed tick loop, the ranking API, and the static client bundle.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/GridStation/PelletRush/pkg/server"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	v := viper.New()
	v.SetDefault("PORT", 8080)
	v.SetDefault("RANKING_DB_PATH", ".data/ranking.json")
	v.SetDefault("STATIC_DIR", "dist/client")
	v.AutomaticEnv()

	config := server.Config{
		Addr:        ":" + v.GetString("PORT"),
		RankingPath: v.GetString("RANKING_DB_PATH"),
		StaticDir:   v.GetString("STATIC_DIR"),
	}

	srv := server.New(config, log)
	httpServer := &http.Server{
		Addr:    config.Addr,
		Handler: srv.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info().Str("addr", config.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		err := srv.RunTicker(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server runtime failed")
	}
	log.Info().Msg("server stopped")
}
