// Package tiles proxies base layer tiles from the upstream tile service,
// keeping the access token server-side and transcoding tiles to WebP.
package tiles

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/woozymasta/quakemap/internal/config"
	"github.com/woozymasta/quakemap/internal/observability"
)

// Route is the ServeMux pattern served by Proxy.
const Route = "GET /tiles/{style}/{z}/{x}/{y}"

const (
	tileSize = 256
	etagCap  = 64
)

// PathTemplate returns the Leaflet URL template of the proxied style.
func PathTemplate(style string) string {
	return "/tiles/" + style + "/{z}/{x}/{y}.webp"
}

// Coordinate represents a specific tile.
type Coordinate struct {
	Z, X, Y int
}

// Valid reports whether the tile exists in a Web Mercator pyramid.
func (c Coordinate) Valid() bool {
	if c.Z < 0 || c.Z > 30 {
		return false
	}
	n := 1 << c.Z
	return c.X >= 0 && c.X < n && c.Y >= 0 && c.Y < n
}

// Proxy serves upstream tiles as WebP with an optional on-disk cache.
type Proxy struct {
	client      *http.Client
	urlTemplate string
	token       string
	styles      map[string]bool
	maxZoom     int
	cacheDir    string
	quality     float32
	transparent []byte
	metrics     *observability.Metrics
}

// NewProxy builds a proxy for the configured base layer styles.
func NewProxy(client *http.Client, cfg *config.Config, metrics *observability.Metrics) (*Proxy, error) {
	transparent, err := transparentTile()
	if err != nil {
		return nil, fmt.Errorf("encode transparent tile: %w", err)
	}

	styles := make(map[string]bool, len(cfg.BaseLayers))
	for _, s := range cfg.Styles() {
		styles[s] = true
	}

	if cfg.TileAccessToken == "" {
		log.Warn().Msg("Tile access token is empty, upstream tiles will likely fail")
	}

	return &Proxy{
		client:      client,
		urlTemplate: cfg.Tiles.URL,
		token:       cfg.TileAccessToken,
		styles:      styles,
		maxZoom:     cfg.Tiles.MaxZoom,
		cacheDir:    cfg.Tiles.CacheDir,
		quality:     cfg.Tiles.Quality,
		transparent: transparent,
		metrics:     metrics,
	}, nil
}

// ServeHTTP handles /tiles/{style}/{z}/{x}/{y}.webp.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	style := r.PathValue("style")
	if !p.styles[style] {
		http.NotFound(w, r)
		return
	}

	c, err := parseCoordinate(r.PathValue("z"), r.PathValue("x"), r.PathValue("y"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !c.Valid() || c.Z > p.maxZoom {
		http.NotFound(w, r)
		return
	}

	path := p.cachePath(style, c)
	if path != "" && serveFile(w, r, path) {
		p.metrics.TileRequests.WithLabelValues("hit").Inc()
		return
	}

	data, err := p.fetch(r.Context(), style, c)
	switch {
	case err != nil:
		p.metrics.TileRequests.WithLabelValues("error").Inc()
		log.Debug().
			Err(err).
			Str("style", style).
			Int("z", c.Z).Int("x", c.X).Int("y", c.Y).
			Msg("Failed to fetch tile")
		p.serveTransparent(w, "public, max-age=60")
		return
	case data == nil:
		p.metrics.TileRequests.WithLabelValues("empty").Inc()
		p.serveTransparent(w, "public, max-age=3600")
		return
	}

	p.metrics.TileRequests.WithLabelValues("miss").Inc()

	if path != "" {
		if err := writeAtomic(path, data); err != nil {
			log.Error().Err(err).Str("path", path).Msg("Failed to cache tile")
		}
	}

	w.Header().Set("Content-Type", "image/webp")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(data)
}

func (p *Proxy) serveTransparent(w http.ResponseWriter, cacheControl string) {
	w.Header().Set("Content-Type", "image/webp")
	w.Header().Set("Cache-Control", cacheControl)
	_, _ = w.Write(p.transparent)
}

func (p *Proxy) cachePath(style string, c Coordinate) string {
	if p.cacheDir == "" {
		return ""
	}
	return filepath.Join(
		p.cacheDir,
		style,
		strconv.Itoa(c.Z),
		strconv.Itoa(c.X),
		strconv.Itoa(c.Y)+".webp")
}

// fetch downloads one upstream tile and transcodes it. A nil slice without
// an error means the upstream has no data for the tile.
func (p *Proxy) fetch(ctx context.Context, style string, c Coordinate) ([]byte, error) {
	start := time.Now()
	defer func() { p.metrics.TileUpstreamDuration.Observe(time.Since(start).Seconds()) }()

	u := buildURL(p.urlTemplate, style, p.token, c)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status code %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode tile: %w", err)
	}

	// Filter out empty/1px tiles often returned by map servers for OOB areas
	if img.Bounds().Dx() <= 1 {
		return nil, nil
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Lossless: false, Quality: p.quality}); err != nil {
		return nil, fmt.Errorf("encode webp: %w", err)
	}
	return buf.Bytes(), nil
}

func parseCoordinate(zs, xs, ys string) (Coordinate, error) {
	ys, ok := strings.CutSuffix(ys, ".webp")
	if !ok {
		return Coordinate{}, errors.New("tile must end in .webp")
	}

	z, errZ := strconv.Atoi(zs)
	x, errX := strconv.Atoi(xs)
	y, errY := strconv.Atoi(ys)
	if err := errors.Join(errZ, errX, errY); err != nil {
		return Coordinate{}, fmt.Errorf("invalid tile coordinate: %w", err)
	}

	return Coordinate{Z: z, X: x, Y: y}, nil
}

func buildURL(tpl, style, token string, c Coordinate) string {
	s := strings.NewReplacer(
		"{id}", style,
		"{accessToken}", url.QueryEscape(token),
		"{z}", strconv.Itoa(c.Z),
		"{x}", strconv.Itoa(c.X),
		"{y}", strconv.Itoa(c.Y),
	).Replace(tpl)

	if strings.Contains(s, "{tms_y}") {
		maxCoord := (1 << c.Z) - 1
		s = strings.ReplaceAll(s, "{tms_y}", strconv.Itoa(maxCoord-c.Y))
	}

	return s
}

func transparentTile() ([]byte, error) {
	var buf bytes.Buffer
	img := image.NewNRGBA(image.Rect(0, 0, tileSize, tileSize))
	if err := webp.Encode(&buf, img, &webp.Options{Lossless: true}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeAtomic writes through a temp file so concurrent readers never see a partial tile.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, ".tile-*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, path)
}

// serveFile tries to serve a file from disk with ETag generation.
// It returns true if the file was found and served (or 304).
func serveFile(w http.ResponseWriter, r *http.Request, path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return false
	}

	buf := make([]byte, 0, etagCap)
	buf = append(buf, '"')
	buf = strconv.AppendInt(buf, info.Size(), 16)
	buf = append(buf, '-')
	buf = strconv.AppendInt(buf, info.ModTime().UnixNano(), 16)
	buf = append(buf, '"')
	etag := string(buf)

	// check If-None-Match (client sent ETag)
	if match := r.Header.Get("If-None-Match"); match == etag {
		w.WriteHeader(http.StatusNotModified)
		return true
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, no-cache")
	w.Header().Set("Content-Type", "image/webp")

	http.ServeFile(w, r, path)
	return true
}
