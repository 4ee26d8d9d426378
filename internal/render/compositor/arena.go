package compositor

import (
	"context"
	"fmt"
	"image"
	"sync"

	"go.uber.org/zap"

	"github.com/tracklight/backend/internal/render/geo"
	"github.com/tracklight/backend/internal/render/media"
)

// Arena owns every decoded resource a session touches: open video sources,
// still images, map tiles and GPS tracks. Resources are acquired lazily on
// first use and live until ReleaseAll, so repeated frames hit the cache.
// Arena is used from a single render goroutine; the tile cache alone takes a
// lock because tile fetches fan out.
type Arena struct {
	opener  media.Opener
	fetcher geo.TileFetcher
	logger  *zap.Logger

	videos map[string]media.FrameSource
	images map[string]image.Image
	tracks map[string]*geo.Track

	tileMu sync.Mutex
	tiles  map[tileKey]image.Image

	// last successfully decoded frame per clip, reused when a seek fails
	lastFrames map[string]image.Image

	released bool
}

type tileKey struct {
	x, y, zoom int
}

// NewArena creates an empty arena backed by the given opener and fetcher.
func NewArena(opener media.Opener, fetcher geo.TileFetcher, logger *zap.Logger) *Arena {
	return &Arena{
		opener:     opener,
		fetcher:    fetcher,
		logger:     logger,
		videos:     make(map[string]media.FrameSource),
		images:     make(map[string]image.Image),
		tracks:     make(map[string]*geo.Track),
		tiles:      make(map[tileKey]image.Image),
		lastFrames: make(map[string]image.Image),
	}
}

// Video returns an open frame source for the asset, opening it on first use.
func (a *Arena) Video(ctx context.Context, assetID, path string) (media.FrameSource, error) {
	if src, ok := a.videos[assetID]; ok {
		return src, nil
	}
	src, err := a.opener.OpenVideo(ctx, path)
	if err != nil {
		return nil, err
	}
	a.videos[assetID] = src
	return src, nil
}

// Image returns the decoded still for the asset, decoding it on first use.
func (a *Arena) Image(ctx context.Context, assetID, path string) (image.Image, error) {
	if img, ok := a.images[assetID]; ok {
		return img, nil
	}
	img, err := a.opener.OpenImage(ctx, path)
	if err != nil {
		return nil, err
	}
	a.images[assetID] = img
	return img, nil
}

// Track returns the GPS track for the asset. Tracks embedded in the project
// are preferred; otherwise the GPX file at path is parsed once.
func (a *Arena) Track(assetID, path string, embedded *geo.Track) (*geo.Track, error) {
	if track, ok := a.tracks[assetID]; ok {
		return track, nil
	}
	if embedded != nil && len(embedded.Points) > 0 {
		a.tracks[assetID] = embedded
		return embedded, nil
	}
	track, err := geo.ParseGPXFile(path)
	if err != nil {
		return nil, err
	}
	a.tracks[assetID] = track
	return track, nil
}

// Tile returns the map tile at x/y/zoom, fetching and caching on miss.
// Safe for concurrent use.
func (a *Arena) Tile(ctx context.Context, x, y, zoom int) (image.Image, error) {
	key := tileKey{x: x, y: y, zoom: zoom}

	a.tileMu.Lock()
	img, ok := a.tiles[key]
	a.tileMu.Unlock()
	if ok {
		return img, nil
	}

	img, err := a.fetcher.Fetch(ctx, x, y, zoom)
	if err != nil {
		return nil, fmt.Errorf("tile %d/%d/%d: %w", zoom, x, y, err)
	}

	a.tileMu.Lock()
	a.tiles[key] = img
	a.tileMu.Unlock()
	return img, nil
}

// LastFrame returns the most recent good frame rendered for the clip.
func (a *Arena) LastFrame(clipID string) (image.Image, bool) {
	img, ok := a.lastFrames[clipID]
	return img, ok
}

// KeepFrame records the clip's latest good frame.
func (a *Arena) KeepFrame(clipID string, img image.Image) {
	a.lastFrames[clipID] = img
}

// ReleaseAll closes every open source and drops all caches. Idempotent;
// sessions call it from both the success and the failure path.
func (a *Arena) ReleaseAll() {
	if a.released {
		return
	}
	a.released = true

	for id, src := range a.videos {
		if err := src.Close(); err != nil {
			a.logger.Warn("failed to close video source",
				zap.String("asset_id", id),
				zap.Error(err),
			)
		}
	}
	a.videos = make(map[string]media.FrameSource)
	a.images = make(map[string]image.Image)
	a.tracks = make(map[string]*geo.Track)
	a.lastFrames = make(map[string]image.Image)

	a.tileMu.Lock()
	a.tiles = make(map[tileKey]image.Image)
	a.tileMu.Unlock()
}
