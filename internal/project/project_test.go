package project

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }

func TestClipTiming(t *testing.T) {
	clip := Clip{ID: "c1", Start: 2, Duration: 5, Offset: 1}

	t.Run("active window is half open", func(t *testing.T) {
		assert.False(t, clip.ActiveAt(1.999))
		assert.True(t, clip.ActiveAt(2))
		assert.True(t, clip.ActiveAt(6.999))
		assert.False(t, clip.ActiveAt(7))
	})

	t.Run("local time applies offset", func(t *testing.T) {
		assert.InDelta(t, 1.0, clip.LocalTime(2), 1e-9)
		assert.InDelta(t, 4.0, clip.LocalTime(5), 1e-9)
	})

	t.Run("local time scales by playback rate", func(t *testing.T) {
		fast := Clip{Start: 2, Duration: 5, Offset: 1, PlaybackRate: 2}
		assert.InDelta(t, 7.0, fast.LocalTime(5), 1e-9)
	})

	t.Run("local time clamps at zero", func(t *testing.T) {
		negative := Clip{Start: 5, Duration: 5, Offset: 0}
		assert.Equal(t, 0.0, negative.LocalTime(1))
	})

	t.Run("defaults", func(t *testing.T) {
		c := Clip{}
		assert.Equal(t, 1.0, c.Rate())
		assert.Equal(t, 1.0, c.Gain())
		muted := Clip{Volume: floatPtr(0)}
		assert.Equal(t, 0.0, muted.Gain())
	})
}

func testState() *State {
	return &State{
		Settings: Settings{Width: 1920, Height: 1080, FPS: 30, Duration: 10},
		Assets: map[string]Asset{
			"a1": {ID: "a1", Type: AssetVideo, Source: "/data/assets/a1.mp4"},
		},
		Tracks: map[string]Track{
			"t1": {ID: "t1", Volume: 1, ClipIDs: []string{"c1", "c2"}},
			"t2": {ID: "t2", Volume: 1, IsMuted: true, ClipIDs: []string{"c3"}},
		},
		Clips: map[string]Clip{
			"c1": {ID: "c1", TrackID: "t1", AssetID: "a1", Type: ClipVideo, Start: 0, Duration: 4, Transform: DefaultTransform()},
			"c2": {ID: "c2", TrackID: "t1", AssetID: "a1", Type: ClipVideo, Start: 4, Duration: 4, Transform: DefaultTransform()},
			"c3": {ID: "c3", TrackID: "t2", AssetID: "a1", Type: ClipVideo, Start: 0, Duration: 8, Transform: DefaultTransform()},
		},
		TrackOrder: []string{"t1", "t2"},
	}
}

func TestActiveClips(t *testing.T) {
	state := testState()
	track := state.Tracks["t1"]

	t.Run("selects clips covering the query time", func(t *testing.T) {
		active := state.ActiveClips(&track, 2)
		require.Len(t, active, 1)
		assert.Equal(t, "c1", active[0].ID)
	})

	t.Run("clip end is exclusive", func(t *testing.T) {
		active := state.ActiveClips(&track, 4)
		require.Len(t, active, 1)
		assert.Equal(t, "c2", active[0].ID)
	})

	t.Run("sorted by start", func(t *testing.T) {
		wide := state
		tr := Track{ID: "t3", ClipIDs: []string{"c2", "c1"}}
		wideClips := map[string]Clip{
			"c1": {ID: "c1", Start: 0, Duration: 10},
			"c2": {ID: "c2", Start: 1, Duration: 10},
		}
		wide.Clips = wideClips
		active := wide.ActiveClips(&tr, 5)
		require.Len(t, active, 2)
		assert.Equal(t, "c1", active[0].ID)
		assert.Equal(t, "c2", active[1].ID)
	})
}

func TestCheckCollision(t *testing.T) {
	clips := []Clip{
		{ID: "c1", Start: 0, Duration: 4},
		{ID: "c2", Start: 6, Duration: 2},
	}

	tests := []struct {
		name     string
		start    float64
		duration float64
		exclude  string
		want     bool
	}{
		{"overlaps first clip", 2, 3, "", true},
		{"fits between clips", 4, 2, "", false},
		{"back to back is not a collision", 4, 2, "", false},
		{"covers second clip", 5, 4, "", true},
		{"ignores excluded clip", 0, 4, "c1", false},
		{"after everything", 8, 10, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckCollision(tt.start, tt.duration, clips, tt.exclude))
		})
	}
}

func TestSnapPoints(t *testing.T) {
	clips := map[string]Clip{
		"c1": {ID: "c1", Start: 1, Duration: 2},
	}

	points := SnapPoints(clips, 5, true)
	assert.Equal(t, []float64{0, 1, 3, 5}, points)

	t.Run("nearest within tolerance", func(t *testing.T) {
		p, ok := NearestSnapPoint(2.9, points, 0.2)
		require.True(t, ok)
		assert.Equal(t, 3.0, p)
	})

	t.Run("nothing within tolerance", func(t *testing.T) {
		_, ok := NearestSnapPoint(2.0, points, 0.5)
		assert.False(t, ok)
	})
}

func TestNearestValidTime(t *testing.T) {
	clips := []Clip{{ID: "c1", Start: 2, Duration: 4}}

	t.Run("valid target returned unchanged", func(t *testing.T) {
		start, ok := NearestValidTime(10, 2, clips, 1, "")
		require.True(t, ok)
		assert.Equal(t, 10.0, start)
	})

	t.Run("snaps to end of blocking clip", func(t *testing.T) {
		start, ok := NearestValidTime(5, 2, clips, 2, "")
		require.True(t, ok)
		assert.Equal(t, 6.0, start)
	})

	t.Run("snaps before blocking clip", func(t *testing.T) {
		start, ok := NearestValidTime(1, 2, clips, 2, "")
		require.True(t, ok)
		assert.Equal(t, 0.0, start)
	})

	t.Run("no candidate within tolerance", func(t *testing.T) {
		_, ok := NearestValidTime(4, 2, clips, 0.5, "")
		assert.False(t, ok)
	})
}

func TestParse(t *testing.T) {
	t.Run("parses and normalizes a minimal project", func(t *testing.T) {
		data := []byte(`{
			"id": "p1",
			"settings": {"width": 1280, "height": 720, "fps": 30, "duration": 5},
			"assets": {"a1": {"id": "a1", "type": "image", "source": "/data/a1.png"}},
			"tracks": {"t1": {"id": "t1", "clips": ["c1"]}},
			"clips": {"c1": {"id": "c1", "trackId": "t1", "assetId": "a1", "type": "image", "start": 0, "duration": 5,
				"keyframes": {"opacity": [{"time": 2, "value": 1}, {"time": 0, "value": 0}]}}},
			"trackOrder": ["t1"]
		}`)
		state, err := Parse(data)
		require.NoError(t, err)

		clip := state.Clips["c1"]
		assert.Equal(t, DefaultTransform(), clip.Transform)
		assert.Equal(t, 0.0, clip.Keyframes["opacity"][0].Time, "keyframes sorted on parse")
		assert.Equal(t, 1.0, state.Tracks["t1"].Volume, "unset track volume defaults to 1")
	})

	t.Run("rejects invalid json", func(t *testing.T) {
		_, err := Parse([]byte("{"))
		assert.Error(t, err)
	})

	t.Run("rejects unknown clip reference", func(t *testing.T) {
		data := []byte(`{
			"settings": {"width": 100, "height": 100, "fps": 30, "duration": 1},
			"tracks": {"t1": {"id": "t1", "clips": ["ghost"]}},
			"trackOrder": ["t1"]
		}`)
		_, err := Parse(data)
		assert.ErrorContains(t, err, "unknown clip")
	})

	t.Run("rejects overlapping clips on one track", func(t *testing.T) {
		data := []byte(`{
			"settings": {"width": 100, "height": 100, "fps": 30, "duration": 10},
			"tracks": {"t1": {"id": "t1", "clips": ["c1", "c2"]}},
			"clips": {
				"c1": {"id": "c1", "trackId": "t1", "type": "text", "content": "a", "start": 0, "duration": 5},
				"c2": {"id": "c2", "trackId": "t1", "type": "text", "content": "b", "start": 3, "duration": 5}
			},
			"trackOrder": ["t1"]
		}`)
		_, err := Parse(data)
		assert.ErrorContains(t, err, "overlaps")
	})

	t.Run("rejects decreasing gps timestamps", func(t *testing.T) {
		data := []byte(`{
			"settings": {"width": 100, "height": 100, "fps": 30, "duration": 10},
			"assets": {"g1": {"id": "g1", "type": "gpx", "source": "/data/g.gpx",
				"geo": {"points": [{"lon": 0, "lat": 0, "time": 2000}, {"lon": 1, "lat": 1, "time": 1000}]}}}
		}`)
		_, err := Parse(data)
		assert.ErrorContains(t, err, "decreasing gps timestamps")
	})

	t.Run("rejects zero fps", func(t *testing.T) {
		_, err := Parse([]byte(`{"settings": {"width": 100, "height": 100, "fps": 0, "duration": 1}}`))
		assert.ErrorContains(t, err, "fps")
	})
}
