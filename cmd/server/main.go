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
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/Enty2905/AegisTalk-sub000/internal/adapters/http"
	"github.com/Enty2905/AegisTalk-sub000/internal/adapters/stream"
	"github.com/Enty2905/AegisTalk-sub000/internal/app"
	"github.com/Enty2905/AegisTalk-sub000/internal/app/orch"
	"github.com/Enty2905/AegisTalk-sub000/internal/calls"
	"github.com/Enty2905/AegisTalk-sub000/internal/config"
	"github.com/Enty2905/AegisTalk-sub000/internal/relay"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
	log.Info().Msg("Server exited gracefully")
}

func setupLogger(cfg *config.Config) {
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func run(ctx context.Context, cfg *config.Config) error {
	policy, err := app.ParsePolicy(cfg.SlowConsumer)
	if err != nil {
		return err
	}

	// Bind every socket before serving so a busy port fails fast.
	udp, err := relay.New(relay.Config{ListenAddr: cfg.UDPAddr, DropLogInterval: cfg.DropLogInterval})
	if err != nil {
		return err
	}
	callRegistry := calls.NewRegistry(udp)

	o := orch.New(
		app.NewRegistry(),
		app.NewRoomManager(),
		policy,
		app.NewRoomRateLimiter(cfg.ChatRateLimit, cfg.ChatRateInterval),
	)

	streamSrv := stream.NewServer(stream.Config{
		Addr:      cfg.StreamAddr,
		ReadLimit: cfg.ReadLimit,
		Options: stream.Options{
			SendBuffer:   cfg.SendBuffer,
			WriteTimeout: cfg.WriteTimeout,
		},
	}, o)
	if err := streamSrv.Listen(); err != nil {
		_ = udp.Stop()
		return err
	}

	if err := udp.Start(); err != nil {
		_ = streamSrv.Close()
		return err
	}

	// TCP and WebSocket stream connections share gctx, so both end together.
	g, gctx := errgroup.WithContext(ctx)
	httpSrv := &http.Server{
		Addr: cfg.HTTPAddr(),
		Handler: router.SetupRouter(gctx, cfg, router.Deps{
			Calls: callRegistry,
			Orch:  o,
			Relay: udp,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info().Str("addr", httpSrv.Addr).Msg("signaling facade started")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		// A failed stream listener leaves the facade and relay running.
		if err := streamSrv.Serve(gctx); err != nil && !errors.Is(err, stream.ErrServerClosed) {
			log.Error().Err(err).Msg("stream listener stopped")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		_ = streamSrv.Close()
		if err := udp.Stop(); err != nil && !errors.Is(err, relay.ErrClosed) {
			log.Error().Err(err).Msg("relay stop")
		}
		return nil
	})
	return g.Wait()
}
