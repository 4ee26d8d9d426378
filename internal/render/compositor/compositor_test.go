package compositor

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tracklight/backend/internal/project"
	"github.com/tracklight/backend/internal/render/anim"
	"github.com/tracklight/backend/internal/render/geo"
	"github.com/tracklight/backend/internal/render/media"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// fakeSource serves a solid frame until failAfter, then errors on every seek.
type fakeSource struct {
	frame     *image.RGBA
	failAfter float64
	calls     int
	closed    int
}

func (s *fakeSource) FrameAt(_ context.Context, t float64) (image.Image, error) {
	s.calls++
	if s.failAfter > 0 && t > s.failAfter {
		return nil, errors.New("seek past end")
	}
	return s.frame, nil
}

func (s *fakeSource) Bounds() image.Rectangle { return s.frame.Bounds() }
func (s *fakeSource) Close() error            { s.closed++; return nil }

type fakeOpener struct {
	videos map[string]*fakeSource
	images map[string]*image.RGBA
}

func (o *fakeOpener) OpenVideo(_ context.Context, path string) (media.FrameSource, error) {
	src, ok := o.videos[path]
	if !ok {
		return nil, errors.New("no such video")
	}
	return src, nil
}

func (o *fakeOpener) OpenImage(_ context.Context, path string) (image.Image, error) {
	img, ok := o.images[path]
	if !ok {
		return nil, errors.New("no such image")
	}
	return img, nil
}

// fakeFetcher serves solid tiles and can fail selectively. Fetches fan out
// across goroutines, so the counter is atomic.
type fakeFetcher struct {
	tile    *image.RGBA
	fetches atomic.Int64
	fail    bool
}

func (f *fakeFetcher) Fetch(_ context.Context, x, y, zoom int) (image.Image, error) {
	f.fetches.Add(1)
	if f.fail {
		return nil, errors.New("tile server down")
	}
	return f.tile, nil
}

func singleClipState(clip project.Clip, assets map[string]project.Asset, w, h int) *project.State {
	return &project.State{
		Settings: project.Settings{Width: w, Height: h, FPS: 30, Duration: 10},
		Assets:   assets,
		Tracks: map[string]project.Track{
			"t1": {ID: "t1", Volume: 1, ClipIDs: []string{clip.ID}},
		},
		Clips:      map[string]project.Clip{clip.ID: clip},
		TrackOrder: []string{"t1"},
	}
}

func newTestCompositor(state *project.State, opener media.Opener, fetcher geo.TileFetcher) (*Compositor, *Arena) {
	logger := zap.NewNop()
	arena := NewArena(opener, fetcher, logger)
	return New(state, arena, "", logger), arena
}

var (
	red   = color.RGBA{R: 0xff, A: 0xff}
	green = color.RGBA{G: 0xff, A: 0xff}
)

func TestRenderFrameBackground(t *testing.T) {
	state := &project.State{
		Settings: project.Settings{Width: 8, Height: 8, FPS: 30, Duration: 1},
	}
	comp, _ := newTestCompositor(state, &fakeOpener{}, &fakeFetcher{})

	frame, err := comp.RenderFrame(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{A: 0xff}, frame.RGBAAt(4, 4))
}

func TestRenderImageClip(t *testing.T) {
	clip := project.Clip{
		ID: "c1", TrackID: "t1", AssetID: "a1", Type: project.ClipImage,
		Start: 0, Duration: 5, Transform: project.DefaultTransform(),
	}
	state := singleClipState(clip, map[string]project.Asset{
		"a1": {ID: "a1", Type: project.AssetImage, Source: "/img.png"},
	}, 64, 36)
	opener := &fakeOpener{images: map[string]*image.RGBA{"/img.png": solidImage(64, 36, red)}}
	comp, _ := newTestCompositor(state, opener, &fakeFetcher{})

	frame, err := comp.RenderFrame(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, red, frame.RGBAAt(32, 18))
	assert.Equal(t, red, frame.RGBAAt(2, 2))
}

func TestRenderSkipsMutedTracks(t *testing.T) {
	clip := project.Clip{
		ID: "c1", TrackID: "t1", AssetID: "a1", Type: project.ClipImage,
		Start: 0, Duration: 5, Transform: project.DefaultTransform(),
	}
	state := singleClipState(clip, map[string]project.Asset{
		"a1": {ID: "a1", Type: project.AssetImage, Source: "/img.png"},
	}, 16, 16)
	muted := state.Tracks["t1"]
	muted.IsMuted = true
	state.Tracks["t1"] = muted

	opener := &fakeOpener{images: map[string]*image.RGBA{"/img.png": solidImage(16, 16, red)}}
	comp, _ := newTestCompositor(state, opener, &fakeFetcher{})

	frame, err := comp.RenderFrame(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{A: 0xff}, frame.RGBAAt(8, 8))
}

func TestFadeTransition(t *testing.T) {
	clip := project.Clip{
		ID: "c1", TrackID: "t1", AssetID: "a1", Type: project.ClipImage,
		Start: 0, Duration: 5, Transform: project.DefaultTransform(),
		TransitionIn: &project.Transition{Type: project.TransitionFade, Duration: 2},
	}
	state := singleClipState(clip, map[string]project.Asset{
		"a1": {ID: "a1", Type: project.AssetImage, Source: "/img.png"},
	}, 16, 16)
	opener := &fakeOpener{images: map[string]*image.RGBA{"/img.png": solidImage(16, 16, red)}}
	comp, _ := newTestCompositor(state, opener, &fakeFetcher{})

	t.Run("half faded at midpoint", func(t *testing.T) {
		frame, err := comp.RenderFrame(context.Background(), 1)
		require.NoError(t, err)
		got := frame.RGBAAt(8, 8)
		assert.InDelta(t, 128, int(got.R), 8)
		assert.Equal(t, uint8(0), got.G)
	})

	t.Run("fully opaque after the transition", func(t *testing.T) {
		frame, err := comp.RenderFrame(context.Background(), 3)
		require.NoError(t, err)
		assert.Equal(t, red, frame.RGBAAt(8, 8))
	})

	t.Run("invisible at the first instant", func(t *testing.T) {
		frame, err := comp.RenderFrame(context.Background(), 0)
		require.NoError(t, err)
		assert.Equal(t, color.RGBA{A: 0xff}, frame.RGBAAt(8, 8))
	})
}

func TestWipeTransition(t *testing.T) {
	clip := project.Clip{
		ID: "c1", TrackID: "t1", AssetID: "a1", Type: project.ClipImage,
		Start: 0, Duration: 5, Transform: project.DefaultTransform(),
		TransitionIn: &project.Transition{Type: project.TransitionWipe, Duration: 2},
	}
	state := singleClipState(clip, map[string]project.Asset{
		"a1": {ID: "a1", Type: project.AssetImage, Source: "/img.png"},
	}, 64, 16)
	opener := &fakeOpener{images: map[string]*image.RGBA{"/img.png": solidImage(64, 16, red)}}
	comp, _ := newTestCompositor(state, opener, &fakeFetcher{})

	frame, err := comp.RenderFrame(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, red, frame.RGBAAt(10, 8), "left half revealed at 50%%")
	assert.Equal(t, color.RGBA{A: 0xff}, frame.RGBAAt(50, 8), "right half still hidden")
}

func TestOpacityKeyframes(t *testing.T) {
	clip := project.Clip{
		ID: "c1", TrackID: "t1", AssetID: "a1", Type: project.ClipImage,
		Start: 0, Duration: 5, Transform: project.DefaultTransform(),
		Keyframes: map[string][]anim.Keyframe{
			"opacity": {
				{Time: 0, Value: 0},
				{Time: 4, Value: 1},
			},
		},
	}
	state := singleClipState(clip, map[string]project.Asset{
		"a1": {ID: "a1", Type: project.AssetImage, Source: "/img.png"},
	}, 16, 16)
	opener := &fakeOpener{images: map[string]*image.RGBA{"/img.png": solidImage(16, 16, red)}}
	comp, _ := newTestCompositor(state, opener, &fakeFetcher{})

	t.Run("zero opacity draws nothing", func(t *testing.T) {
		frame, err := comp.RenderFrame(context.Background(), 0)
		require.NoError(t, err)
		assert.Equal(t, color.RGBA{A: 0xff}, frame.RGBAAt(8, 8))
	})

	t.Run("interpolated opacity blends over the background", func(t *testing.T) {
		frame, err := comp.RenderFrame(context.Background(), 2)
		require.NoError(t, err)
		assert.InDelta(t, 128, int(frame.RGBAAt(8, 8).R), 8)
	})

	t.Run("full opacity past the last keyframe", func(t *testing.T) {
		frame, err := comp.RenderFrame(context.Background(), 4.5)
		require.NoError(t, err)
		assert.Equal(t, red, frame.RGBAAt(8, 8))
	})
}

func TestRenderVideoHoldsLastFrame(t *testing.T) {
	source := &fakeSource{frame: solidImage(16, 16, red), failAfter: 1}
	clip := project.Clip{
		ID: "c1", TrackID: "t1", AssetID: "a1", Type: project.ClipVideo,
		Start: 0, Duration: 5, Transform: project.DefaultTransform(),
	}
	state := singleClipState(clip, map[string]project.Asset{
		"a1": {ID: "a1", Type: project.AssetVideo, Source: "/v.mp4"},
	}, 16, 16)
	opener := &fakeOpener{videos: map[string]*fakeSource{"/v.mp4": source}}
	comp, _ := newTestCompositor(state, opener, &fakeFetcher{})

	t.Run("decodes while the source cooperates", func(t *testing.T) {
		frame, err := comp.RenderFrame(context.Background(), 0.5)
		require.NoError(t, err)
		assert.Equal(t, red, frame.RGBAAt(8, 8))
	})

	t.Run("holds the previous frame after a seek failure", func(t *testing.T) {
		frame, err := comp.RenderFrame(context.Background(), 3)
		require.NoError(t, err)
		assert.Equal(t, red, frame.RGBAAt(8, 8))
	})

	t.Run("skips the clip when no frame was ever decoded", func(t *testing.T) {
		fresh := &fakeSource{frame: solidImage(16, 16, red), failAfter: 0.001}
		opener := &fakeOpener{videos: map[string]*fakeSource{"/v.mp4": fresh}}
		comp, _ := newTestCompositor(state, opener, &fakeFetcher{})

		frame, err := comp.RenderFrame(context.Background(), 3)
		require.NoError(t, err, "clip failure must not abort the frame")
		assert.Equal(t, color.RGBA{A: 0xff}, frame.RGBAAt(8, 8))
	})
}

func TestRenderMapClip(t *testing.T) {
	track := &geo.Track{Points: []geo.Point{
		{Lon: 8.0, Lat: 47.0, Time: 1000},
		{Lon: 8.001, Lat: 47.001, Time: 11000},
	}}
	clip := project.Clip{
		ID: "c1", TrackID: "t1", AssetID: "g1", Type: project.ClipMap,
		Start: 0, Duration: 10, Transform: project.DefaultTransform(),
		MapZoom: 13,
	}
	state := singleClipState(clip, map[string]project.Asset{
		"g1": {ID: "g1", Type: project.AssetGPX, Source: "/t.gpx", Geo: track},
	}, 64, 64)

	t.Run("tiles and marker drawn", func(t *testing.T) {
		fetcher := &fakeFetcher{tile: solidImage(256, 256, green)}
		comp, _ := newTestCompositor(state, &fakeOpener{}, fetcher)

		frame, err := comp.RenderFrame(context.Background(), 0)
		require.NoError(t, err)

		assert.Positive(t, fetcher.fetches.Load())
		assert.Equal(t, uint8(0xff), frame.RGBAAt(2, 2).G, "viewport corner shows the tile")
		center := frame.RGBAAt(32, 32)
		assert.Greater(t, center.R, center.G, "marker covers the tracked position")
	})

	t.Run("tile failures leave the frame renderable", func(t *testing.T) {
		fetcher := &fakeFetcher{fail: true}
		comp, _ := newTestCompositor(state, &fakeOpener{}, fetcher)

		frame, err := comp.RenderFrame(context.Background(), 0)
		require.NoError(t, err)
		center := frame.RGBAAt(32, 32)
		assert.Greater(t, center.R, center.G, "marker still drawn without tiles")
	})

	t.Run("tiles cached across frames", func(t *testing.T) {
		fetcher := &fakeFetcher{tile: solidImage(256, 256, green)}
		comp, _ := newTestCompositor(state, &fakeOpener{}, fetcher)

		_, err := comp.RenderFrame(context.Background(), 0)
		require.NoError(t, err)
		first := fetcher.fetches.Load()
		_, err = comp.RenderFrame(context.Background(), 0.05)
		require.NoError(t, err)
		assert.Equal(t, first, fetcher.fetches.Load(), "static viewport refetches nothing")
	})
}

func TestMapClipTracksMediaTime(t *testing.T) {
	track := &geo.Track{Points: []geo.Point{
		{Lon: 8.0, Lat: 47.0, Time: 1000},
		{Lon: 8.02, Lat: 47.02, Time: 21000},
	}}
	assets := map[string]project.Asset{
		"g1": {ID: "g1", Type: project.AssetGPX, Source: "/t.gpx", Geo: track},
	}
	base := project.Clip{
		ID: "c1", TrackID: "t1", AssetID: "g1", Type: project.ClipMap,
		Start: 0, Duration: 12, Transform: project.DefaultTransform(),
		MapZoom: 13,
	}

	render := func(t *testing.T, clip project.Clip, at float64) []uint8 {
		t.Helper()
		state := singleClipState(clip, assets, 64, 64)
		comp, _ := newTestCompositor(state, &fakeOpener{}, &fakeFetcher{fail: true})
		frame, err := comp.RenderFrame(context.Background(), at)
		require.NoError(t, err)
		return frame.Pix
	}

	// All three clips put the playhead at media second 10 of the track.
	want := render(t, base, 10)

	t.Run("source offset shifts the traversal", func(t *testing.T) {
		trimmed := base
		trimmed.Offset = 10
		assert.Equal(t, want, render(t, trimmed, 0))
	})

	t.Run("playback rate scales the traversal", func(t *testing.T) {
		fast := base
		fast.PlaybackRate = 2
		assert.Equal(t, want, render(t, fast, 5))
	})

	t.Run("track start renders a different viewport", func(t *testing.T) {
		assert.NotEqual(t, want, render(t, base, 0))
	})
}

func TestRenderDeterminism(t *testing.T) {
	clip := project.Clip{
		ID: "c1", TrackID: "t1", AssetID: "a1", Type: project.ClipImage,
		Start: 0, Duration: 5,
		Transform: project.Transform{X: 10, Y: 10, Width: 50, Height: 50, Rotation: 30, Opacity: 0.7},
	}
	state := singleClipState(clip, map[string]project.Asset{
		"a1": {ID: "a1", Type: project.AssetImage, Source: "/img.png"},
	}, 64, 64)
	opener := &fakeOpener{images: map[string]*image.RGBA{"/img.png": solidImage(32, 32, red)}}
	comp, _ := newTestCompositor(state, opener, &fakeFetcher{})

	a, err := comp.RenderFrame(context.Background(), 1)
	require.NoError(t, err)
	b, err := comp.RenderFrame(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, a.Pix, b.Pix, "same instant renders identical bytes")
}

func TestArenaRelease(t *testing.T) {
	source := &fakeSource{frame: solidImage(4, 4, red)}
	opener := &fakeOpener{videos: map[string]*fakeSource{"/v.mp4": source}}
	arena := NewArena(opener, &fakeFetcher{}, zap.NewNop())

	_, err := arena.Video(context.Background(), "a1", "/v.mp4")
	require.NoError(t, err)

	arena.ReleaseAll()
	arena.ReleaseAll()
	assert.Equal(t, 1, source.closed, "release closes each source exactly once")
}
