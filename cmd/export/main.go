package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/woozymasta/quakemap/assets"
	"github.com/woozymasta/quakemap/internal/config"
	"github.com/woozymasta/quakemap/internal/geo"
	"github.com/woozymasta/quakemap/internal/logger"
	"github.com/woozymasta/quakemap/internal/mapview"
	"github.com/woozymasta/quakemap/internal/marker"
	"github.com/woozymasta/quakemap/internal/observability"
	"github.com/woozymasta/quakemap/internal/quake"
	"github.com/woozymasta/quakemap/internal/tiles"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile      string `short:"c" long:"config"       env:"CONFIG_FILE"         description:"Path to configuration file (defaults are used when empty)"`
	EndpointURL     string `short:"e" long:"endpoint"     env:"QUAKE_ENDPOINT_URL"  description:"Earthquake GeoJSON feed URL"`
	TileAccessToken string `short:"t" long:"tile-token"   env:"MAPBOX_ACCESS_TOKEN" description:"Tile service access token"`
	OutDir          string `short:"o" long:"out"          env:"OUT_DIR"             description:"Output directory" default:"public"`
	Format          string `long:"format"                 env:"GEOJSON_FORMAT"      description:"Marker collection format" choice:"json" choice:"yaml" default:"json"`
	GeoJSONOnly     bool   `short:"g" long:"geojson-only" description:"Write the marker collection only"`
	HTMLOnly        bool   `short:"H" long:"html-only"    description:"Write the map page only"`
	Force           bool   `short:"f" long:"force"        description:"Force overwrite of existing files"`
	WarmZoom        int    `short:"z" long:"warm-zoom"    env:"WARM_ZOOM"           description:"Warm the tile cache up to this zoom (-1 disables)" default:"-1"`
	Concurrency     int    `short:"p" long:"concurrency"  env:"CONCURRENCY"         description:"Tile warm-up concurrency" default:"50"`
}

func main() {
	envErr := godotenv.Load()

	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	opts.Logger.Setup()
	if envErr != nil {
		log.Debug().Err(envErr).Msg("No .env file loaded")
	}

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	cfg.ApplyOverrides(opts.EndpointURL, opts.TileAccessToken)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	writeHTML, writeGeo := selectOutputs(opts.HTMLOnly, opts.GeoJSONOnly)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

	// A static page has no proxy behind it.
	cfg.Tiles.Proxy = false

	composer, err := mapview.NewComposer(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create map composer")
	}

	log.Info().
		Str("endpoint", cfg.EndpointURL).
		Str("out", opts.OutDir).
		Bool("html", writeHTML).
		Bool("geojson", writeGeo).
		Msg("Starting export")

	client := quake.NewClient(cfg.EndpointURL, cfg.FetchTimeout, cfg.FetchRetries, metrics)
	features, err := client.Fetch(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to fetch earthquakes")
	}

	layer := marker.NewLayer(composer.OverlayName(), features, composer.Location())

	if writeHTML {
		if err := exportPage(composer.Compose(layer), opts.OutDir, opts.Force); err != nil {
			log.Fatal().Err(err).Msg("Failed to export map page")
		}
	}

	if writeGeo {
		if err := exportCollection(layer, opts.OutDir, opts.Format, opts.Force); err != nil {
			log.Fatal().Err(err).Msg("Failed to save marker collection")
		}
	}

	if opts.WarmZoom >= 0 {
		warmTiles(ctx, cfg, metrics, opts.WarmZoom, opts.Concurrency)
	}

	log.Info().Msg("Export finished successfully")
}

// selectOutputs resolves the --html-only/--geojson-only pair. Setting both
// is the same as setting neither.
func selectOutputs(htmlOnly, geoJSONOnly bool) (writeHTML, writeGeo bool) {
	if htmlOnly && !geoJSONOnly {
		return true, false
	}
	if geoJSONOnly && !htmlOnly {
		return false, true
	}
	return true, true
}

func exportCollection(layer marker.Layer, dir, format string, force bool) error {
	path := filepath.Join(dir, "earthquakes."+extension(format))
	if skip(path, force) {
		log.Info().Str("path", path).Msg("Marker collection exists, skipping")
		return nil
	}

	if err := geo.Save(path, layer.GeoJSON(), format); err != nil {
		return err
	}

	log.Info().Str("path", path).Int("markers", len(layer.Markers)).Msg("Marker collection saved")
	return nil
}

func exportPage(v *mapview.View, dir string, force bool) error {
	pagePath := filepath.Join(dir, "index.html")
	if skip(pagePath, force) {
		log.Info().Str("path", pagePath).Msg("Map page exists, skipping")
		return nil
	}

	page, err := mapview.RenderBytes(v)
	if err != nil {
		return err
	}
	favicon, err := mapview.MinifySVG(assets.Favicon)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(pagePath, page, 0644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "favicon.svg"), favicon, 0644); err != nil {
		return err
	}

	log.Info().
		Str("path", pagePath).
		Int("size", len(page)).
		Int("markers", len(v.Overlay.Markers)).
		Msg("Map page saved")
	return nil
}

func warmTiles(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, zoom, concurrency int) {
	client := &http.Client{
		Transport: &http.Transport{
			TLSNextProto:        make(map[string]func(string, *tls.Conn) http.RoundTripper),
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
		},
		Timeout: 15 * time.Second,
	}

	p, err := tiles.NewProxy(client, cfg, metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create tile proxy")
	}

	start := time.Now()
	total, err := p.Warm(ctx, zoom, concurrency)
	if errors.Is(err, tiles.ErrNoCache) {
		log.Error().Msg("Tile warm-up requires tiles.cache_dir")
		return
	}
	if err != nil {
		log.Error().Err(err).Int("tiles", total).Msg("Tile warm-up interrupted")
		return
	}

	log.Info().
		Int("tiles", total).
		Dur("duration", time.Since(start)).
		Msg("Tile warm-up finished")
}

func extension(format string) string {
	if format == "yaml" {
		return "yaml"
	}
	return "geojson"
}

func skip(path string, force bool) bool {
	if force {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
