package anim

import (
	"fmt"
	"image/color"
	"sort"
	"strconv"
)

// GradientStop maps a scalar position to a hex color like "#ff8800".
type GradientStop struct {
	At    float64
	Color string
}

// GradientColor linearly interpolates a hex color for value across ordered
// gradient stops. Values outside the stop range clamp to the edge colors.
// Used for elevation and speed shading of GPS track polylines.
func GradientColor(value float64, stops []GradientStop) color.RGBA {
	if len(stops) == 0 {
		return color.RGBA{A: 0xff}
	}

	sorted := make([]GradientStop, len(stops))
	copy(sorted, stops)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At < sorted[j].At })

	if value <= sorted[0].At {
		return parseHexColor(sorted[0].Color)
	}
	if value >= sorted[len(sorted)-1].At {
		return parseHexColor(sorted[len(sorted)-1].Color)
	}

	lo := sorted[0]
	hi := sorted[len(sorted)-1]
	for _, s := range sorted {
		if s.At < value {
			lo = s
		}
		if s.At >= value {
			hi = s
			break
		}
	}

	span := hi.At - lo.At
	ratio := 1.0
	if span != 0 {
		ratio = (value - lo.At) / span
	}

	c1 := parseHexColor(lo.Color)
	c2 := parseHexColor(hi.Color)
	return color.RGBA{
		R: lerpByte(c1.R, c2.R, ratio),
		G: lerpByte(c1.G, c2.G, ratio),
		B: lerpByte(c1.B, c2.B, ratio),
		A: 0xff,
	}
}

// HexColor formats an RGBA color as "#rrggbb".
func HexColor(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func lerpByte(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t + 0.5)
}

func parseHexColor(s string) color.RGBA {
	if len(s) != 7 || s[0] != '#' {
		return color.RGBA{A: 0xff}
	}
	r, _ := strconv.ParseUint(s[1:3], 16, 8)
	g, _ := strconv.ParseUint(s[3:5], 16, 8)
	b, _ := strconv.ParseUint(s[5:7], 16, 8)
	return color.RGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: 0xff}
}
