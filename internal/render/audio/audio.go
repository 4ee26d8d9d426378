// Package audio performs the offline audio mixdown for an export: every
// audible clip is decoded, resampled onto the timeline and summed through the
// clip, track and master gain stages into one stereo buffer.
package audio

import (
	"context"

	"go.uber.org/zap"

	"github.com/tracklight/backend/internal/project"
	"github.com/tracklight/backend/internal/render/media"
)

const (
	// SampleRate is the fixed mixdown rate.
	SampleRate = 44100
	// Channels is the fixed mixdown channel count.
	Channels = 2
)

// Buffer is a planar stereo sample buffer.
type Buffer struct {
	SampleRate int
	Data       [][]float32
}

// NewBuffer allocates a silent stereo buffer holding frames samples per
// channel.
func NewBuffer(sampleRate, frames int) *Buffer {
	data := make([][]float32, Channels)
	for ch := range data {
		data[ch] = make([]float32, frames)
	}
	return &Buffer{SampleRate: sampleRate, Data: data}
}

// Frames returns the per-channel sample count.
func (b *Buffer) Frames() int {
	if len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// Engine mixes a project's audio. Decoded PCM is cached per asset so a source
// used by several clips decodes once.
type Engine struct {
	state      *project.State
	decoder    media.PCMDecoder
	logger     *zap.Logger
	masterGain float64

	cache map[string][][]float32
}

// NewEngine creates a mixdown engine over the given project state.
func NewEngine(state *project.State, decoder media.PCMDecoder, logger *zap.Logger) *Engine {
	return &Engine{
		state:      state,
		decoder:    decoder,
		logger:     logger,
		masterGain: 1,
		cache:      make(map[string][][]float32),
	}
}

// Render mixes the full timeline into one buffer. A clip whose source fails
// to decode contributes silence; the mixdown itself only fails on
// cancellation.
func (e *Engine) Render(ctx context.Context) (*Buffer, error) {
	frames := int(e.state.Settings.Duration*SampleRate + 0.5)
	out := NewBuffer(SampleRate, frames)

	for _, track := range e.state.OrderedTracks() {
		if track.IsMuted {
			continue
		}
		trackGain := track.Volume

		for _, clipID := range track.ClipIDs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			clip, ok := e.state.Clips[clipID]
			if !ok {
				continue
			}
			if clip.Type != project.ClipAudio && clip.Type != project.ClipVideo {
				continue
			}
			asset, ok := e.state.Asset(&clip)
			if !ok || !asset.HasAudio() {
				continue
			}

			pcm, err := e.pcm(ctx, asset)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				e.logger.Warn("audio decode failed, clip mixes as silence",
					zap.String("clip_id", clip.ID),
					zap.String("asset_id", asset.ID),
					zap.Error(err),
				)
				continue
			}

			mixClip(out, pcm, &clip, trackGain*e.masterGain)
		}
	}

	return out, nil
}

func (e *Engine) pcm(ctx context.Context, asset *project.Asset) ([][]float32, error) {
	if cached, ok := e.cache[asset.ID]; ok {
		return cached, nil
	}
	pcm, err := e.decoder.DecodePCM(ctx, asset.Source, SampleRate)
	if err != nil {
		return nil, err
	}
	e.cache[asset.ID] = pcm
	return pcm, nil
}

// mixClip sums one clip into the output. The destination window is the
// clip's timeline placement [start, start+duration); the source read head
// advances at the playback rate from the clip offset, resampled linearly.
func mixClip(out *Buffer, pcm [][]float32, clip *project.Clip, baseGain float64) {
	startFrame := int(clip.Start * float64(out.SampleRate))
	endFrame := int(clip.End() * float64(out.SampleRate))
	if endFrame > out.Frames() {
		endFrame = out.Frames()
	}
	if startFrame < 0 {
		startFrame = 0
	}

	rate := clip.Rate()
	clipGain := clip.Gain()

	for i := startFrame; i < endFrame; i++ {
		elapsed := float64(i)/float64(out.SampleRate) - clip.Start
		srcPos := (clip.Offset + elapsed*rate) * float64(out.SampleRate)
		gain := baseGain * clipGain * fadeGain(clip, elapsed)
		if gain == 0 {
			continue
		}

		for ch := 0; ch < Channels && ch < len(pcm); ch++ {
			out.Data[ch][i] += sampleAt(pcm[ch], srcPos) * float32(gain)
		}
	}
}

// sampleAt reads a fractional source position with linear interpolation.
// Positions outside the decoded range are silent.
func sampleAt(channel []float32, pos float64) float32 {
	if pos < 0 || len(channel) == 0 {
		return 0
	}
	idx := int(pos)
	if idx >= len(channel)-1 {
		if idx == len(channel)-1 {
			return channel[idx]
		}
		return 0
	}
	frac := float32(pos - float64(idx))
	return channel[idx]*(1-frac) + channel[idx+1]*frac
}

// fadeGain ramps the clip gain 0 to 1 across a fade or crossfade start
// transition. Wipes are purely visual.
func fadeGain(clip *project.Clip, elapsed float64) float64 {
	tr := clip.TransitionIn
	if tr == nil || tr.Duration <= 0 || elapsed >= tr.Duration {
		return 1
	}
	switch tr.Type {
	case project.TransitionFade, project.TransitionCrossfade:
		if elapsed < 0 {
			return 0
		}
		return elapsed / tr.Duration
	default:
		return 1
	}
}
