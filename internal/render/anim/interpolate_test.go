package anim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterpolate(t *testing.T) {
	keyframes := []Keyframe{
		{Time: 1, Value: 10, Easing: EasingLinear},
		{Time: 3, Value: 30, Easing: EasingLinear},
		{Time: 5, Value: 20, Easing: EasingLinear},
	}

	t.Run("empty keyframes return default", func(t *testing.T) {
		assert.Equal(t, 42.0, Interpolate(nil, 1, 42))
	})

	t.Run("clamps before first keyframe", func(t *testing.T) {
		assert.Equal(t, 10.0, Interpolate(keyframes, 0, 0))
		assert.Equal(t, 10.0, Interpolate(keyframes, 1, 0))
	})

	t.Run("clamps after last keyframe", func(t *testing.T) {
		assert.Equal(t, 20.0, Interpolate(keyframes, 5, 0))
		assert.Equal(t, 20.0, Interpolate(keyframes, 100, 0))
	})

	t.Run("linear midpoint", func(t *testing.T) {
		assert.InDelta(t, 20.0, Interpolate(keyframes, 2, 0), 1e-9)
		assert.InDelta(t, 25.0, Interpolate(keyframes, 4, 0), 1e-9)
	})

	t.Run("interpolated value stays within bracket", func(t *testing.T) {
		for _, easing := range []Easing{EasingLinear, EasingEaseIn, EasingEaseOut, EasingEaseInOut} {
			kfs := []Keyframe{
				{Time: 0, Value: 0},
				{Time: 10, Value: 100, Easing: easing},
			}
			for tt := 0.5; tt < 10; tt += 0.5 {
				v := Interpolate(kfs, tt, 0)
				assert.GreaterOrEqual(t, v, 0.0, "easing %s at t=%v", easing, tt)
				assert.LessOrEqual(t, v, 100.0, "easing %s at t=%v", easing, tt)
			}
		}
	})

	t.Run("linear easing is monotonic", func(t *testing.T) {
		kfs := []Keyframe{{Time: 0, Value: 5}, {Time: 4, Value: 45, Easing: EasingLinear}}
		prev := Interpolate(kfs, 0, 0)
		for tt := 0.1; tt <= 4; tt += 0.1 {
			v := Interpolate(kfs, tt, 0)
			assert.GreaterOrEqual(t, v, prev)
			prev = v
		}
	})

	t.Run("ending keyframe easing shapes progress", func(t *testing.T) {
		kfs := []Keyframe{
			{Time: 0, Value: 0, Easing: EasingLinear},
			{Time: 2, Value: 100, Easing: EasingEaseIn},
		}
		// ease-in is progress squared: at half time the value is a quarter.
		assert.InDelta(t, 25.0, Interpolate(kfs, 1, 0), 1e-9)
	})

	t.Run("coincident keyframes jump to second value", func(t *testing.T) {
		kfs := []Keyframe{
			{Time: 0, Value: 0},
			{Time: 2, Value: 10},
			{Time: 2, Value: 50},
			{Time: 4, Value: 50},
		}
		assert.Equal(t, 50.0, Interpolate(kfs, 2, 0))
		assert.Equal(t, 50.0, Interpolate(kfs, 3, 0))
	})

	t.Run("unknown easing falls back to linear", func(t *testing.T) {
		kfs := []Keyframe{{Time: 0, Value: 0}, {Time: 2, Value: 10, Easing: "bounce"}}
		assert.InDelta(t, 5.0, Interpolate(kfs, 1, 0), 1e-9)
	})
}

func TestApplyEasing(t *testing.T) {
	tests := []struct {
		name   string
		easing Easing
		in     float64
		want   float64
	}{
		{"linear identity", EasingLinear, 0.25, 0.25},
		{"ease-in quad", EasingEaseIn, 0.5, 0.25},
		{"ease-out quad", EasingEaseOut, 0.5, 0.75},
		{"ease-in-out first half", EasingEaseInOut, 0.25, 0.125},
		{"ease-in-out second half", EasingEaseInOut, 0.75, 0.875},
		{"endpoints preserved", EasingEaseIn, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ApplyEasing(tt.in, tt.easing), 1e-9)
		})
	}
}

func TestObjectFit(t *testing.T) {
	t.Run("contain letterboxes wide source", func(t *testing.T) {
		fit := ObjectFit(200, 100, 100, 100, FitContain)
		assert.Equal(t, Fit{DW: 100, DH: 50, DX: -50, DY: -25}, fit)
	})

	t.Run("cover overflows wide source", func(t *testing.T) {
		fit := ObjectFit(200, 100, 100, 100, FitCover)
		assert.Equal(t, Fit{DW: 200, DH: 100, DX: -100, DY: -50}, fit)
	})

	t.Run("matching aspect fills exactly", func(t *testing.T) {
		for _, mode := range []FitMode{FitContain, FitCover} {
			fit := ObjectFit(1920, 1080, 192, 108, mode)
			assert.Equal(t, Fit{DW: 192, DH: 108, DX: -96, DY: -54}, fit)
		}
	})

	t.Run("contain tall source pillarboxes", func(t *testing.T) {
		fit := ObjectFit(100, 200, 100, 100, FitContain)
		assert.Equal(t, Fit{DW: 50, DH: 100, DX: -25, DY: -50}, fit)
	})
}

func TestGradientColor(t *testing.T) {
	stops := []GradientStop{
		{At: 0, Color: "#000000"},
		{At: 100, Color: "#ff0000"},
	}

	t.Run("clamps below first stop", func(t *testing.T) {
		assert.Equal(t, "#000000", HexColor(GradientColor(-5, stops)))
	})

	t.Run("clamps above last stop", func(t *testing.T) {
		assert.Equal(t, "#ff0000", HexColor(GradientColor(500, stops)))
	})

	t.Run("interpolates midpoint", func(t *testing.T) {
		c := GradientColor(50, stops)
		assert.InDelta(t, 128, float64(c.R), 1)
		assert.Equal(t, uint8(0), c.G)
		assert.Equal(t, uint8(0), c.B)
	})

	t.Run("empty stops yield opaque black", func(t *testing.T) {
		c := GradientColor(10, nil)
		assert.Equal(t, uint8(0xff), c.A)
	})
}
