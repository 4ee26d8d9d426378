package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tracklight/backend/internal/project"
)

// fakeDecoder serves constant-value stereo PCM per path.
type fakeDecoder struct {
	levels  map[string]float32
	seconds float64
	fail    map[string]bool
	decodes int
}

func (d *fakeDecoder) DecodePCM(_ context.Context, path string, sampleRate int) ([][]float32, error) {
	if d.fail[path] {
		return nil, errors.New("decode failed")
	}
	level, ok := d.levels[path]
	if !ok {
		return nil, errors.New("no such file")
	}
	d.decodes++
	frames := int(d.seconds * float64(sampleRate))
	left := make([]float32, frames)
	right := make([]float32, frames)
	for i := range left {
		left[i] = level
		right[i] = level
	}
	return [][]float32{left, right}, nil
}

func floatPtr(v float64) *float64 { return &v }

func mixState(clip project.Clip, track project.Track, duration float64) *project.State {
	track.ClipIDs = []string{clip.ID}
	return &project.State{
		Settings: project.Settings{Width: 100, Height: 100, FPS: 30, Duration: duration},
		Assets: map[string]project.Asset{
			"a1": {ID: "a1", Type: project.AssetAudio, Source: "/a1.wav", Duration: 30},
		},
		Tracks:     map[string]project.Track{track.ID: track},
		Clips:      map[string]project.Clip{clip.ID: clip},
		TrackOrder: []string{track.ID},
	}
}

func frameAt(buf *Buffer, seconds float64) float32 {
	return buf.Data[0][int(seconds*float64(buf.SampleRate))]
}

func TestRenderSchedulesClipWindow(t *testing.T) {
	clip := project.Clip{
		ID: "c1", TrackID: "t1", AssetID: "a1", Type: project.ClipAudio,
		Start: 2, Duration: 5, PlaybackRate: 2,
	}
	track := project.Track{ID: "t1", Volume: 1}
	decoder := &fakeDecoder{levels: map[string]float32{"/a1.wav": 0.5}, seconds: 30}
	engine := NewEngine(mixState(clip, track, 10), decoder, zap.NewNop())

	buf, err := engine.Render(context.Background())
	require.NoError(t, err)
	require.Equal(t, 10*SampleRate, buf.Frames())

	t.Run("silent before the clip", func(t *testing.T) {
		assert.Equal(t, float32(0), frameAt(buf, 1.0))
	})

	t.Run("audible inside the window regardless of rate", func(t *testing.T) {
		assert.InDelta(t, 0.5, frameAt(buf, 3.0), 1e-4)
		assert.InDelta(t, 0.5, frameAt(buf, 6.9), 1e-4)
	})

	t.Run("silent after the clip ends", func(t *testing.T) {
		assert.Equal(t, float32(0), frameAt(buf, 7.5))
	})
}

func TestRenderGainGraph(t *testing.T) {
	clip := project.Clip{
		ID: "c1", TrackID: "t1", AssetID: "a1", Type: project.ClipAudio,
		Start: 0, Duration: 4, Volume: floatPtr(0.5),
	}
	track := project.Track{ID: "t1", Volume: 0.5}
	decoder := &fakeDecoder{levels: map[string]float32{"/a1.wav": 0.8}, seconds: 30}
	engine := NewEngine(mixState(clip, track, 4), decoder, zap.NewNop())

	buf, err := engine.Render(context.Background())
	require.NoError(t, err)

	// clip 0.5 * track 0.5 * master 1 applied to a 0.8 source
	assert.InDelta(t, 0.2, frameAt(buf, 2.0), 1e-4)
}

func TestRenderMutedTrackIsSilent(t *testing.T) {
	clip := project.Clip{
		ID: "c1", TrackID: "t1", AssetID: "a1", Type: project.ClipAudio,
		Start: 0, Duration: 4,
	}
	track := project.Track{ID: "t1", Volume: 1, IsMuted: true}
	decoder := &fakeDecoder{levels: map[string]float32{"/a1.wav": 0.8}, seconds: 30}
	engine := NewEngine(mixState(clip, track, 4), decoder, zap.NewNop())

	buf, err := engine.Render(context.Background())
	require.NoError(t, err)

	assert.Equal(t, float32(0), frameAt(buf, 2.0))
	assert.Zero(t, decoder.decodes, "muted tracks never decode")
}

func TestRenderFadeRampsGain(t *testing.T) {
	clip := project.Clip{
		ID: "c1", TrackID: "t1", AssetID: "a1", Type: project.ClipAudio,
		Start: 0, Duration: 6,
		TransitionIn: &project.Transition{Type: project.TransitionFade, Duration: 2},
	}
	track := project.Track{ID: "t1", Volume: 1}
	decoder := &fakeDecoder{levels: map[string]float32{"/a1.wav": 0.8}, seconds: 30}
	engine := NewEngine(mixState(clip, track, 6), decoder, zap.NewNop())

	buf, err := engine.Render(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 0.0, frameAt(buf, 0), 1e-3)
	assert.InDelta(t, 0.4, frameAt(buf, 1.0), 1e-3)
	assert.InDelta(t, 0.8, frameAt(buf, 3.0), 1e-3)
}

func TestRenderDecodeFailureMixesSilence(t *testing.T) {
	clip := project.Clip{
		ID: "c1", TrackID: "t1", AssetID: "a1", Type: project.ClipAudio,
		Start: 0, Duration: 4,
	}
	track := project.Track{ID: "t1", Volume: 1}
	decoder := &fakeDecoder{
		levels:  map[string]float32{"/a1.wav": 0.8},
		fail:    map[string]bool{"/a1.wav": true},
		seconds: 30,
	}
	engine := NewEngine(mixState(clip, track, 4), decoder, zap.NewNop())

	buf, err := engine.Render(context.Background())
	require.NoError(t, err, "decode failures degrade to silence")
	assert.Equal(t, float32(0), frameAt(buf, 2.0))
}

func TestRenderOffsetReadsIntoSource(t *testing.T) {
	// source: first 10s at 0.2, rest at 0.9 is approximated by a short source
	// so reads past the decoded range go silent
	clip := project.Clip{
		ID: "c1", TrackID: "t1", AssetID: "a1", Type: project.ClipAudio,
		Start: 0, Duration: 6, Offset: 2,
	}
	track := project.Track{ID: "t1", Volume: 1}
	decoder := &fakeDecoder{levels: map[string]float32{"/a1.wav": 0.5}, seconds: 5}
	engine := NewEngine(mixState(clip, track, 6), decoder, zap.NewNop())

	buf, err := engine.Render(context.Background())
	require.NoError(t, err)

	t.Run("offset region is audible", func(t *testing.T) {
		assert.InDelta(t, 0.5, frameAt(buf, 1.0), 1e-4)
	})

	t.Run("reads past the source are silent", func(t *testing.T) {
		// read head = offset 2 + elapsed 4 = 6s into a 5s source
		assert.Equal(t, float32(0), frameAt(buf, 4.0))
	})
}

func TestRenderCachesDecodedSources(t *testing.T) {
	c1 := project.Clip{ID: "c1", TrackID: "t1", AssetID: "a1", Type: project.ClipAudio, Start: 0, Duration: 2}
	c2 := project.Clip{ID: "c2", TrackID: "t1", AssetID: "a1", Type: project.ClipAudio, Start: 2, Duration: 2}
	state := mixState(c1, project.Track{ID: "t1", Volume: 1}, 4)
	state.Clips["c2"] = c2
	track := state.Tracks["t1"]
	track.ClipIDs = []string{"c1", "c2"}
	state.Tracks["t1"] = track

	decoder := &fakeDecoder{levels: map[string]float32{"/a1.wav": 0.5}, seconds: 30}
	engine := NewEngine(state, decoder, zap.NewNop())

	_, err := engine.Render(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, decoder.decodes, "shared source decodes once")
}

func TestEncodeWAV(t *testing.T) {
	buf := NewBuffer(SampleRate, 100)
	buf.Data[0][0] = 0.5
	buf.Data[1][0] = -2.0 // clamps to -1

	var out bytes.Buffer
	require.NoError(t, EncodeWAV(&out, buf))

	raw := out.Bytes()
	require.Len(t, raw, wavHeaderSize+100*Channels*bytesPerSample)

	assert.Equal(t, "RIFF", string(raw[0:4]))
	assert.Equal(t, "WAVE", string(raw[8:12]))
	assert.Equal(t, "data", string(raw[36:40]))
	assert.Equal(t, uint32(SampleRate), binary.LittleEndian.Uint32(raw[24:28]))
	assert.Equal(t, uint16(Channels), binary.LittleEndian.Uint16(raw[22:24]))
	assert.Equal(t, uint32(100*Channels*bytesPerSample), binary.LittleEndian.Uint32(raw[40:44]))

	left := int16(binary.LittleEndian.Uint16(raw[wavHeaderSize:]))
	right := int16(binary.LittleEndian.Uint16(raw[wavHeaderSize+2:]))
	assert.InDelta(t, 16383, left, 1)
	assert.Equal(t, int16(-32767), right)
}
