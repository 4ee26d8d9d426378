// Package media provides decoded access to source assets for the render
// pipeline: single video frames at arbitrary timestamps, still images, and
// PCM audio. All decoding is delegated to an external FFmpeg binary; the
// interfaces here exist so the compositor and mixdown can be tested with
// in-memory fakes.
package media

import (
	"context"
	"image"
)

// Info describes a probed media file.
type Info struct {
	Width      int
	Height     int
	Duration   float64 // seconds
	HasAudio   bool
	SampleRate int
}

// FrameSource yields decoded frames from one video asset. Implementations
// are not required to be safe for concurrent use; the compositor serializes
// access per source.
type FrameSource interface {
	// FrameAt decodes the frame nearest to media time t (seconds).
	FrameAt(ctx context.Context, t float64) (image.Image, error)
	Bounds() image.Rectangle
	Close() error
}

// Opener opens assets for frame extraction and still decoding.
type Opener interface {
	OpenVideo(ctx context.Context, path string) (FrameSource, error)
	OpenImage(ctx context.Context, path string) (image.Image, error)
}

// PCMDecoder decodes an asset's audio to interleaved-free planar stereo
// samples at the given rate. Channels are returned as [2][]float32.
type PCMDecoder interface {
	DecodePCM(ctx context.Context, path string, sampleRate int) ([][]float32, error)
}
