// Package geo holds the map-tile coordinate math and GPS track handling used
// by georeferenced map clips.
package geo

import (
	"fmt"
	"math"
)

// TileSize is the pixel edge length of a slippy-map tile.
const TileSize = 256

// DefaultTileURL is the tile URL template: %s subdomain, %d zoom/x/y.
const DefaultTileURL = "https://%s.tile.openstreetmap.org/%d/%d/%d.png"

// Lon2Tile converts longitude to a fractional tile X coordinate at zoom.
func Lon2Tile(lon float64, zoom int) float64 {
	return (lon + 180) / 360 * math.Exp2(float64(zoom))
}

// Lat2Tile converts latitude to a fractional tile Y coordinate at zoom.
func Lat2Tile(lat float64, zoom int) float64 {
	rad := lat * math.Pi / 180
	return (1 - math.Log(math.Tan(rad)+1/math.Cos(rad))/math.Pi) / 2 * math.Exp2(float64(zoom))
}

// Tile2Lon converts a tile X coordinate back to longitude.
func Tile2Lon(x float64, zoom int) float64 {
	return x/math.Exp2(float64(zoom))*360 - 180
}

// Tile2Lat converts a tile Y coordinate back to latitude.
func Tile2Lat(y float64, zoom int) float64 {
	n := math.Pi - 2*math.Pi*y/math.Exp2(float64(zoom))
	return 180 / math.Pi * math.Atan(0.5*(math.Exp(n)-math.Exp(-n)))
}

// TileURL builds the fetch URL for an integer tile, rotating across the
// a/b/c subdomains by tile position so neighboring tiles spread load.
func TileURL(template string, x, y, zoom int) string {
	if template == "" {
		template = DefaultTileURL
	}
	sub := "abc"[abs(x+y)%3 : abs(x+y)%3+1]
	return fmt.Sprintf(template, sub, zoom, x, y)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
