// Package project defines the immutable project state consumed by the render
// pipeline: assets, tracks, clips and their keyframed properties. The render
// core treats a State as read-only for the duration of one export session.
package project

import (
	"github.com/tracklight/backend/internal/render/anim"
	"github.com/tracklight/backend/internal/render/geo"
)

// AssetType identifies the media kind behind an asset.
type AssetType string

const (
	AssetVideo AssetType = "video"
	AssetImage AssetType = "image"
	AssetAudio AssetType = "audio"
	AssetGPX   AssetType = "gpx"
)

// Asset is a reference to source media. Source is a storage path resolvable
// by the worker. Geo is populated for gpx assets, either inline in the
// project file or parsed from Source during session initialization.
type Asset struct {
	ID       string     `json:"id"`
	Type     AssetType  `json:"type"`
	Name     string     `json:"name,omitempty"`
	Source   string     `json:"source"`
	Duration float64    `json:"duration,omitempty"` // seconds, when known
	Geo      *geo.Track `json:"geo,omitempty"`
}

// HasAudio reports whether the asset can contribute to the audio mixdown.
// Video clips contribute their soundtrack.
func (a *Asset) HasAudio() bool {
	return a.Type == AssetAudio || a.Type == AssetVideo
}

// Track is an ordered, optionally muted channel of clips. A muted track is
// skipped entirely by both the compositor and the mixdown.
type Track struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	IsMuted bool     `json:"isMuted"`
	Volume  float64  `json:"volume"`
	ClipIDs []string `json:"clips"`
}

// ClipType identifies what a clip draws.
type ClipType string

const (
	ClipVideo ClipType = "video"
	ClipImage ClipType = "image"
	ClipAudio ClipType = "audio"
	ClipText  ClipType = "text"
	ClipMap   ClipType = "map"
)

// TransitionType identifies a clip-start transition effect.
type TransitionType string

const (
	TransitionFade      TransitionType = "fade"
	TransitionCrossfade TransitionType = "crossfade"
	TransitionWipe      TransitionType = "wipe"
)

// Transition is a time-bounded effect applied at a clip's start. There is no
// symmetric end-of-clip transition; the editor only models transitionIn.
type Transition struct {
	Type     TransitionType `json:"type"`
	Duration float64        `json:"duration"`
}

// Transform places a clip on the canvas. X/Y/Width/Height are percentages of
// the output frame, Rotation is degrees clockwise about the rect center,
// Opacity is 0..1.
type Transform struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Rotation float64 `json:"rotation"`
	Opacity  float64 `json:"opacity"`
	ZIndex   int     `json:"zIndex"`
}

// DefaultTransform is a full-frame, fully opaque placement.
func DefaultTransform() Transform {
	return Transform{X: 0, Y: 0, Width: 100, Height: 100, Opacity: 1}
}

// TextStyle controls text clip rendering.
type TextStyle struct {
	FontFamily string  `json:"fontFamily"`
	FontSize   float64 `json:"fontSize"`
	FontWeight string  `json:"fontWeight"`
	Color      string  `json:"color"`
	Align      string  `json:"align"` // left, center, right
}

// DefaultTextStyle matches the editor's preview default.
func DefaultTextStyle() TextStyle {
	return TextStyle{
		FontFamily: "Arial",
		FontSize:   24,
		FontWeight: "bold",
		Color:      "#ffffff",
		Align:      "center",
	}
}

// TrackStyle controls how a GPS track polyline is stroked.
type TrackStyle struct {
	Color   string  `json:"color"`
	Weight  float64 `json:"weight"`
	Opacity float64 `json:"opacity"`
}

// MarkerStyle controls the moving position marker on map clips.
type MarkerStyle struct {
	Color string `json:"color"`
	Kind  string `json:"kind"` // dot, pin
}

// MapOverlay references an additional GPS track drawn on the same map clip,
// with its own time sync offset and styling.
type MapOverlay struct {
	AssetID     string       `json:"assetId"`
	SyncOffset  *float64     `json:"syncOffset,omitempty"` // Unix millis base
	TrackStyle  *TrackStyle  `json:"trackStyle,omitempty"`
	MarkerStyle *MarkerStyle `json:"markerStyle,omitempty"`
}

// Clip is a time-bounded placement of an asset (or text) on a track.
// Start/Duration/Offset are seconds; Offset is the read position within the
// source at clip start.
type Clip struct {
	ID      string   `json:"id"`
	TrackID string   `json:"trackId"`
	AssetID string   `json:"assetId,omitempty"`
	Type    ClipType `json:"type"`

	Start        float64  `json:"start"`
	Duration     float64  `json:"duration"`
	Offset       float64  `json:"offset"`
	PlaybackRate float64  `json:"playbackRate,omitempty"`
	Volume       *float64 `json:"volume,omitempty"`

	Transform    Transform                  `json:"transform"`
	Keyframes    map[string][]anim.Keyframe `json:"keyframes,omitempty"`
	TransitionIn *Transition                `json:"transitionIn,omitempty"`

	// Text clips.
	Content   string     `json:"content,omitempty"`
	TextStyle *TextStyle `json:"textStyle,omitempty"`

	// Map clips.
	MapZoom     float64      `json:"mapZoom,omitempty"`
	SyncOffset  *float64     `json:"syncOffset,omitempty"` // Unix millis base
	TrackStyle  *TrackStyle  `json:"trackStyle,omitempty"`
	MarkerStyle *MarkerStyle `json:"markerStyle,omitempty"`
	Overlays    []MapOverlay `json:"overlays,omitempty"`
}

// ActiveAt reports whether the clip is active at absolute timeline time t:
// start <= t < start+duration.
func (c *Clip) ActiveAt(t float64) bool {
	return t >= c.Start && t < c.Start+c.Duration
}

// Rate returns the playback rate, defaulting to 1.
func (c *Clip) Rate() float64 {
	if c.PlaybackRate <= 0 {
		return 1
	}
	return c.PlaybackRate
}

// Gain returns the clip volume, defaulting to 1 when unset.
func (c *Clip) Gain() float64 {
	if c.Volume == nil {
		return 1
	}
	return *c.Volume
}

// LocalTime maps absolute timeline time to the clip's media time, accounting
// for offset and playback rate. Never negative.
func (c *Clip) LocalTime(t float64) float64 {
	local := (t-c.Start)*c.Rate() + c.Offset
	if local < 0 {
		return 0
	}
	return local
}

// End returns the absolute end time of the clip.
func (c *Clip) End() float64 {
	return c.Start + c.Duration
}

// Settings carries the project canvas and timing configuration.
type Settings struct {
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	FPS      float64 `json:"fps"`
	Duration float64 `json:"duration"` // total timeline duration, seconds
}

// State is a complete project snapshot. TrackOrder defines back-to-front
// compositing order; the first entry is the bottom layer.
type State struct {
	ID         string           `json:"id"`
	Name       string           `json:"name,omitempty"`
	Settings   Settings         `json:"settings"`
	Assets     map[string]Asset `json:"assets"`
	Tracks     map[string]Track `json:"tracks"`
	Clips      map[string]Clip  `json:"clips"`
	TrackOrder []string         `json:"trackOrder"`
}

// OrderedTracks resolves TrackOrder into track values, skipping dangling ids.
func (s *State) OrderedTracks() []Track {
	tracks := make([]Track, 0, len(s.TrackOrder))
	for _, id := range s.TrackOrder {
		if track, ok := s.Tracks[id]; ok {
			tracks = append(tracks, track)
		}
	}
	return tracks
}

// Asset returns the asset backing a clip, if any.
func (s *State) Asset(clip *Clip) (*Asset, bool) {
	if clip.AssetID == "" {
		return nil, false
	}
	asset, ok := s.Assets[clip.AssetID]
	if !ok {
		return nil, false
	}
	return &asset, true
}
