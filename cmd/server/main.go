package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/woozymasta/quakemap/internal/config"
	"github.com/woozymasta/quakemap/internal/logger"
	"github.com/woozymasta/quakemap/internal/mapview"
	"github.com/woozymasta/quakemap/internal/observability"
	"github.com/woozymasta/quakemap/internal/quake"
	"github.com/woozymasta/quakemap/internal/server"
	"github.com/woozymasta/quakemap/internal/tiles"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile      string        `short:"c" long:"config"           env:"CONFIG_FILE"         description:"Path to configuration file (defaults are used when empty)"`
	Addr            string        `short:"a" long:"addr"             env:"LISTEN_ADDRESS"      description:"Address to listen on"                  default:"0.0.0.0"`
	Port            int           `short:"p" long:"port"             env:"LISTEN_PORT"         description:"Port to listen on"                     default:"8080"`
	EndpointURL     string        `short:"e" long:"endpoint"         env:"QUAKE_ENDPOINT_URL"  description:"Earthquake GeoJSON feed URL"`
	TileAccessToken string        `short:"t" long:"tile-token"       env:"MAPBOX_ACCESS_TOKEN" description:"Tile service access token"`
	TileProxy       bool          `short:"P" long:"tile-proxy"       env:"TILE_PROXY"          description:"Serve base layer tiles through the built-in proxy"`
	ShutdownTimeout time.Duration `long:"shutdown-timeout"           env:"SHUTDOWN_TIMEOUT"    description:"Graceful shutdown timeout"             default:"10s"`
}

func main() {
	// .env only feeds the env fallbacks of the options below
	envErr := godotenv.Load()

	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	// Setup Logging
	opts.Logger.Setup()
	if envErr != nil {
		log.Debug().Err(envErr).Msg("No .env file loaded")
	}

	// Load Config
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	cfg.ApplyOverrides(opts.EndpointURL, opts.TileAccessToken)
	if opts.TileProxy {
		cfg.Tiles.Proxy = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.TileAccessToken == "" {
		log.Warn().Msg("No tile access token configured, base layers will not load")
	}

	metrics := observability.NewMetrics()

	composer, err := mapview.NewComposer(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create map composer")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// One-shot pipeline: the server only starts once the feed has been read.
	// A failed read is served as an error page rather than aborting.
	client := quake.NewClient(cfg.EndpointURL, cfg.FetchTimeout, cfg.FetchRetries, metrics)
	view, err := mapview.Build(ctx, client, composer)
	if err != nil {
		log.Warn().Msg("Serving error page until restart")
	}

	var tileProxy http.Handler
	if cfg.Tiles.Proxy {
		httpClient := &http.Client{
			Transport: &http.Transport{
				TLSNextProto:        make(map[string]func(string, *tls.Conn) http.RoundTripper),
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
			},
			Timeout: 15 * time.Second,
		}
		p, err := tiles.NewProxy(httpClient, cfg, metrics)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create tile proxy")
		}
		tileProxy = p
	}

	srvCtx, err := server.NewServerContext(view, tileProxy, metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}

	listenAddr := fmt.Sprintf("%s:%d", opts.Addr, opts.Port)
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           srvCtx.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	log.Info().
		Str("addr", listenAddr).
		Str("endpoint", cfg.EndpointURL).
		Int("markers", len(view.Overlay.Markers)).
		Bool("tile_proxy", cfg.Tiles.Proxy).
		Msg("Web server started")

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Shutdown complete")
}
