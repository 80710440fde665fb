package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"watchparty/relay"
	httpServer "watchparty/server/http"
	websocketServer "watchparty/server/websocket"
	"watchparty/service"
	store "watchparty/storage/memory"
)

// resolveListenAddr prefers the PORT environment value over the flag,
// the way the original deployment configured its single listener.
func resolveListenAddr(flagAddr, port string) string {
	if port != "" {
		return ":" + port
	}
	return flagAddr
}

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		staticListenAddr = fs.StringP("static-listen-addr", "a", ":8080", "static assets listen address")
		wsListenAddr     = fs.StringP("ws-listen-addr", "w", ":8888", "websocket listen address")
		staticDir        = fs.StringP("static-dir", "s", "./public", "static assets directory")
		logLevel         = fs.StringP("log-level", "l", "debug", "log level")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	*wsListenAddr = resolveListenAddr(*wsListenAddr, os.Getenv("PORT"))

	svc := service.NewService(service.Config{
		Store:    store.NewMemStore(),
		Relay:    relay.NewRelay(&logger),
		Playback: service.LastWriteWins{},
		Logger:   &logger,
	})
	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:     &logger,
		ListenAddr: *staticListenAddr,
		StaticDir:  *staticDir,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:         &logger,
		SessionService: svc,
		ListenAddr:     *wsListenAddr,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(2)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
