package compositor

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"
	"sync"

	"github.com/fogleman/gg"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tracklight/backend/internal/project"
	"github.com/tracklight/backend/internal/render/anim"
	"github.com/tracklight/backend/internal/render/geo"
)

const (
	defaultMapZoom = 15
	minMapZoom     = 1
	maxMapZoom     = 19

	// concurrent tile downloads per frame
	tileFetchLimit = 4
)

// elevationStops shades a track polyline green through red across its
// elevation range when the track style requests "elevation" coloring.
var elevationStops = []anim.GradientStop{
	{At: 0, Color: "#22c55e"},
	{At: 0.5, Color: "#eab308"},
	{At: 1, Color: "#ef4444"},
}

func defaultTrackStyle() project.TrackStyle {
	return project.TrackStyle{Color: "#3b82f6", Weight: 3, Opacity: 0.9}
}

func defaultMarkerStyle() project.MarkerStyle {
	return project.MarkerStyle{Color: "#ef4444", Kind: "dot"}
}

// renderMap draws a map clip layer: tiles centered on the interpolated GPS
// position, the track polyline, a position marker, and any overlay tracks.
// The GPS position advances with the clip's media time, so a trimmed or
// retimed clip traverses the track accordingly; keyframes stay on elapsed
// clip time like every other property.
func (c *Compositor) renderMap(ctx context.Context, clip *project.Clip, t, elapsed float64, pw, ph int) (image.Image, error) {
	asset, ok := c.state.Asset(clip)
	if !ok {
		return nil, errMissingAsset(clip)
	}
	track, err := c.arena.Track(asset.ID, asset.Source, asset.Geo)
	if err != nil {
		return nil, err
	}

	zoomF := c.prop(clip, "mapZoom", elapsed, clip.MapZoom)
	if zoomF <= 0 {
		zoomF = defaultMapZoom
	}
	zoom := int(zoomF + 0.5)
	if zoom < minMapZoom {
		zoom = minMapZoom
	}
	if zoom > maxMapZoom {
		zoom = maxMapZoom
	}

	local := clip.LocalTime(t)
	lon, lat, ok := track.PositionAt(syncSeconds(clip.SyncOffset, track, local))
	if !ok {
		return nil, fmt.Errorf("map clip %s has an empty gps track", clip.ID)
	}

	originX := geo.Lon2Tile(lon, zoom)*geo.TileSize - float64(pw)/2
	originY := geo.Lat2Tile(lat, zoom)*geo.TileSize - float64(ph)/2

	dc := gg.NewContext(pw, ph)
	dc.SetRGB(0.85, 0.85, 0.83)
	dc.Clear()

	c.drawTiles(ctx, dc, originX, originY, zoom, pw, ph)

	toPixel := func(plon, plat float64) (float64, float64) {
		return geo.Lon2Tile(plon, zoom)*geo.TileSize - originX,
			geo.Lat2Tile(plat, zoom)*geo.TileSize - originY
	}

	// Overlay tracks first so the clip's own track and marker stay on top.
	for _, overlay := range clip.Overlays {
		overlayAsset, ok := c.state.Assets[overlay.AssetID]
		if !ok {
			c.logger.Warn("map overlay references unknown asset",
				zap.String("clip_id", clip.ID),
				zap.String("asset_id", overlay.AssetID),
			)
			continue
		}
		overlayTrack, err := c.arena.Track(overlayAsset.ID, overlayAsset.Source, overlayAsset.Geo)
		if err != nil {
			c.logger.Warn("map overlay track unavailable",
				zap.String("clip_id", clip.ID),
				zap.String("asset_id", overlay.AssetID),
				zap.Error(err),
			)
			continue
		}

		style := defaultTrackStyle()
		if overlay.TrackStyle != nil {
			style = *overlay.TrackStyle
		}
		drawTrackLine(dc, overlayTrack, style, toPixel)

		if olon, olat, ok := overlayTrack.PositionAt(syncSeconds(overlay.SyncOffset, overlayTrack, local)); ok {
			marker := defaultMarkerStyle()
			if overlay.MarkerStyle != nil {
				marker = *overlay.MarkerStyle
			}
			x, y := toPixel(olon, olat)
			drawMarker(dc, x, y, marker)
		}
	}

	style := defaultTrackStyle()
	if clip.TrackStyle != nil {
		style = *clip.TrackStyle
	}
	drawTrackLine(dc, track, style, toPixel)

	marker := defaultMarkerStyle()
	if clip.MarkerStyle != nil {
		marker = *clip.MarkerStyle
	}
	mx, my := toPixel(lon, lat)
	drawMarker(dc, mx, my, marker)

	return dc.Image(), nil
}

// drawTiles fetches every tile intersecting the viewport concurrently, then
// draws the ones that arrived. A failed tile leaves its cell on the neutral
// background; the frame still renders.
func (c *Compositor) drawTiles(ctx context.Context, dc *gg.Context, originX, originY float64, zoom, pw, ph int) {
	x0 := int(math.Floor(originX / geo.TileSize))
	y0 := int(math.Floor(originY / geo.TileSize))
	x1 := int(math.Floor((originX + float64(pw)) / geo.TileSize))
	y1 := int(math.Floor((originY + float64(ph)) / geo.TileSize))
	maxTile := 1 << zoom

	type placed struct {
		img  image.Image
		x, y float64
	}
	var mu sync.Mutex
	var tiles []placed

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(tileFetchLimit)

	for ty := y0; ty <= y1; ty++ {
		for tx := x0; tx <= x1; tx++ {
			if tx < 0 || ty < 0 || tx >= maxTile || ty >= maxTile {
				continue
			}
			tx, ty := tx, ty
			g.Go(func() error {
				img, err := c.arena.Tile(gctx, tx, ty, zoom)
				if err != nil {
					c.logger.Warn("tile unavailable", zap.Error(err))
					return nil
				}
				mu.Lock()
				tiles = append(tiles, placed{
					img: img,
					x:   float64(tx)*geo.TileSize - originX,
					y:   float64(ty)*geo.TileSize - originY,
				})
				mu.Unlock()
				return nil
			})
		}
	}
	g.Wait()

	for _, tile := range tiles {
		dc.DrawImage(tile.img, int(tile.x), int(tile.y))
	}
}

// drawTrackLine strokes the track polyline. The style color "elevation"
// selects per-segment gradient shading across the track's elevation range.
func drawTrackLine(dc *gg.Context, track *geo.Track, style project.TrackStyle, toPixel func(lon, lat float64) (float64, float64)) {
	if len(track.Points) < 2 {
		return
	}
	if style.Weight <= 0 {
		style.Weight = defaultTrackStyle().Weight
	}
	if style.Opacity <= 0 {
		style.Opacity = defaultTrackStyle().Opacity
	}

	dc.SetLineWidth(style.Weight)
	dc.SetLineCapRound()
	dc.SetLineJoinRound()

	if style.Color == "elevation" {
		minEle, maxEle := elevationRange(track)
		span := maxEle - minEle
		for i := 0; i < len(track.Points)-1; i++ {
			p1 := track.Points[i]
			p2 := track.Points[i+1]
			value := 0.0
			if span > 0 {
				value = ((p1.Ele+p2.Ele)/2 - minEle) / span
			}
			seg := anim.GradientColor(value, elevationStops)
			dc.SetColor(withAlpha(seg, style.Opacity))
			x1, y1 := toPixel(p1.Lon, p1.Lat)
			x2, y2 := toPixel(p2.Lon, p2.Lat)
			dc.DrawLine(x1, y1, x2, y2)
			dc.Stroke()
		}
		return
	}

	dc.SetColor(hexWithAlpha(style.Color, style.Opacity))
	first := track.Points[0]
	x, y := toPixel(first.Lon, first.Lat)
	dc.MoveTo(x, y)
	for _, p := range track.Points[1:] {
		px, py := toPixel(p.Lon, p.Lat)
		dc.LineTo(px, py)
	}
	dc.Stroke()
}

// drawMarker draws the current-position marker: a ringed dot, or a pin whose
// tip sits on the position.
func drawMarker(dc *gg.Context, x, y float64, style project.MarkerStyle) {
	fill := hexWithAlpha(style.Color, 1)
	if style.Color == "" {
		fill = hexWithAlpha(defaultMarkerStyle().Color, 1)
	}

	if style.Kind == "pin" {
		dc.SetColor(fill)
		dc.MoveTo(x, y)
		dc.LineTo(x-7, y-14)
		dc.LineTo(x+7, y-14)
		dc.ClosePath()
		dc.Fill()
		dc.DrawCircle(x, y-16, 8)
		dc.Fill()
		dc.SetRGB(1, 1, 1)
		dc.DrawCircle(x, y-16, 3)
		dc.Fill()
		return
	}

	dc.SetRGB(1, 1, 1)
	dc.DrawCircle(x, y, 8)
	dc.Fill()
	dc.SetColor(fill)
	dc.DrawCircle(x, y, 6)
	dc.Fill()
}

func elevationRange(track *geo.Track) (min, max float64) {
	min = math.Inf(1)
	max = math.Inf(-1)
	for _, p := range track.Points {
		if p.Ele < min {
			min = p.Ele
		}
		if p.Ele > max {
			max = p.Ele
		}
	}
	return
}

// syncSeconds maps clip media seconds to seconds past the track start,
// honoring an explicit Unix-millis sync base when the clip carries one.
func syncSeconds(syncOffset *float64, track *geo.Track, local float64) float64 {
	if syncOffset == nil {
		return local
	}
	return (*syncOffset-float64(track.StartTime()))/1000 + local
}

func hexWithAlpha(s string, alpha float64) color.Color {
	if len(s) != 7 || s[0] != '#' {
		s = defaultTrackStyle().Color
	}
	r, _ := strconv.ParseUint(s[1:3], 16, 8)
	g, _ := strconv.ParseUint(s[3:5], 16, 8)
	b, _ := strconv.ParseUint(s[5:7], 16, 8)
	return withAlpha(color.RGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: 0xff}, alpha)
}

func withAlpha(c color.RGBA, alpha float64) color.Color {
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: uint8(clamp01(alpha)*255 + 0.5)}
}
