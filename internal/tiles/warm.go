package tiles

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrNoCache is returned by Warm when the proxy has no cache directory.
var ErrNoCache = errors.New("tile cache directory is not configured")

type job struct {
	Style string
	Coord Coordinate
}

type result struct {
	Coord Coordinate
	Valid bool
}

// Warm fills the disk cache for every style from zoom 0 up to zoomLimit.
// Children are only queued under tiles that had data, so sparse tile sets stop
// early. It returns the number of tiles present in the cache afterwards.
func (p *Proxy) Warm(ctx context.Context, zoomLimit, concurrency int) (int, error) {
	if p.cacheDir == "" {
		return 0, ErrNoCache
	}
	if zoomLimit > p.maxZoom {
		zoomLimit = p.maxZoom
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	total := 0
	for style := range p.styles {
		log.Info().
			Str("style", style).
			Int("zoom_limit", zoomLimit).
			Msg("Starting tile warm-up")

		current := []Coordinate{{0, 0, 0}}
		for z := 0; z <= zoomLimit && len(current) > 0; z++ {
			if err := ctx.Err(); err != nil {
				return total, err
			}

			valid := p.processBatch(ctx, concurrency, style, current)
			total += len(valid)

			log.Debug().
				Str("style", style).
				Int("zoom", z).
				Int("requested", len(current)).
				Int("stored", len(valid)).
				Msg("Zoom level processed")

			next := make([]Coordinate, 0, len(valid)*4)
			for _, t := range valid {
				nx, ny := t.X*2, t.Y*2
				next = append(next,
					Coordinate{Z: z + 1, X: nx, Y: ny},
					Coordinate{Z: z + 1, X: nx + 1, Y: ny},
					Coordinate{Z: z + 1, X: nx, Y: ny + 1},
					Coordinate{Z: z + 1, X: nx + 1, Y: ny + 1},
				)
			}
			current = next
		}
	}

	return total, nil
}

func (p *Proxy) processBatch(ctx context.Context, concurrency int, style string, tiles []Coordinate) []Coordinate {
	jobs := make(chan job, len(tiles))
	results := make(chan result, len(tiles))

	for _, t := range tiles {
		jobs <- job{Style: style, Coord: t}
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results <- result{Coord: j.Coord, Valid: p.warmOne(ctx, j)}
			}
		}()
	}
	wg.Wait()
	close(results)

	var valid []Coordinate
	for res := range results {
		if res.Valid {
			valid = append(valid, res.Coord)
		}
	}

	return valid
}

func (p *Proxy) warmOne(ctx context.Context, j job) bool {
	path := p.cachePath(j.Style, j.Coord)
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		return true
	}

	data, err := p.fetch(ctx, j.Style, j.Coord)
	if err != nil {
		log.Trace().
			Err(err).
			Str("style", j.Style).
			Int("z", j.Coord.Z).Int("x", j.Coord.X).Int("y", j.Coord.Y).
			Msg("Failed to download tile")
		return false
	}
	if data == nil {
		return false
	}

	if err := writeAtomic(path, data); err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to cache tile")
		return false
	}
	return true
}
