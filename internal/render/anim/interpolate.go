// Package anim provides the keyframe interpolation and layout math shared by
// the live preview and the offline frame compositor.
package anim

import "sort"

// Easing identifies an easing curve applied between two keyframes.
type Easing string

const (
	EasingLinear    Easing = "linear"
	EasingEaseIn    Easing = "ease-in"
	EasingEaseOut   Easing = "ease-out"
	EasingEaseInOut Easing = "ease-in-out"
)

// Keyframe is a (time, value, easing) sample on an animated property.
// Time is in seconds relative to the owning clip's start.
type Keyframe struct {
	Time   float64 `json:"time"`
	Value  float64 `json:"value"`
	Easing Easing  `json:"easing,omitempty"`
}

// Interpolate returns the animated value at t (seconds relative to clip
// start) for an ascending keyframe sequence. Outside the keyframe range the
// first/last value is held. Between a bracketing pair the progress is shaped
// by the ending keyframe's easing. An empty sequence yields defaultValue.
func Interpolate(keyframes []Keyframe, t, defaultValue float64) float64 {
	if len(keyframes) == 0 {
		return defaultValue
	}

	if t <= keyframes[0].Time {
		return keyframes[0].Value
	}
	last := keyframes[len(keyframes)-1]
	if t >= last.Time {
		return last.Value
	}

	for i := 0; i < len(keyframes)-1; i++ {
		a := keyframes[i]
		b := keyframes[i+1]
		if t < a.Time || t >= b.Time {
			continue
		}

		span := b.Time - a.Time
		if span == 0 {
			// Coincident keyframes: jump to b as soon as its time is reached.
			return b.Value
		}

		progress := (t - a.Time) / span
		eased := ApplyEasing(progress, b.Easing)
		return a.Value + (b.Value-a.Value)*eased
	}

	return defaultValue
}

// ApplyEasing shapes a progress value in [0,1]. Unknown easings act as linear.
func ApplyEasing(t float64, easing Easing) float64 {
	switch easing {
	case EasingEaseIn:
		return t * t
	case EasingEaseOut:
		return t * (2 - t)
	case EasingEaseInOut:
		if t < 0.5 {
			return 2 * t * t
		}
		return -1 + (4-2*t)*t
	default:
		return t
	}
}

// SortKeyframes orders keyframes by time ascending. Project files are
// expected to be ordered already; this is a normalization safety net.
func SortKeyframes(keyframes []Keyframe) {
	sort.SliceStable(keyframes, func(i, j int) bool {
		return keyframes[i].Time < keyframes[j].Time
	})
}
