package geo

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"time"
)

// TileFetcher retrieves one map tile raster keyed by (x, y, zoom).
type TileFetcher interface {
	Fetch(ctx context.Context, x, y, zoom int) (image.Image, error)
}

// HTTPTileFetcher fetches tiles from a slippy-map tile server. Caching is the
// caller's concern; every Fetch hits the network.
type HTTPTileFetcher struct {
	client      *http.Client
	urlTemplate string
	userAgent   string
}

// NewHTTPTileFetcher creates a fetcher for the given URL template. An empty
// template selects the OpenStreetMap default.
func NewHTTPTileFetcher(urlTemplate, userAgent string) *HTTPTileFetcher {
	if userAgent == "" {
		userAgent = "tracklight-render/1.0"
	}
	return &HTTPTileFetcher{
		client:      &http.Client{Timeout: 30 * time.Second},
		urlTemplate: urlTemplate,
		userAgent:   userAgent,
	}
}

// Fetch downloads and decodes a single tile.
func (f *HTTPTileFetcher) Fetch(ctx context.Context, x, y, zoom int) (image.Image, error) {
	url := TileURL(f.urlTemplate, x, y, zoom)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	// Tile usage policies require an identifying user agent.
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tile fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tile fetch returned status %d", resp.StatusCode)
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tile: %w", err)
	}
	return img, nil
}
