// Package encoder turns rendered frames and the audio mixdown into a
// finished video file. Frames stream as raw RGBA into an FFmpeg child
// process; the muxed result is read back as an in-memory blob.
package encoder

import (
	"fmt"
	"image"
)

// Format selects the output container.
type Format string

const (
	FormatMP4  Format = "mp4"
	FormatWebM Format = "webm"
)

// VideoCodec and AudioCodec name the recognized encoders. Container/codec
// pairing is the caller's responsibility; only unknown names are rejected.
type VideoCodec string

type AudioCodec string

const (
	VideoH264 VideoCodec = "h264"
	VideoVP8  VideoCodec = "vp8"
	VideoVP9  VideoCodec = "vp9"

	AudioAAC  AudioCodec = "aac"
	AudioOpus AudioCodec = "opus"
)

const (
	defaultVideoBitrate = 6_000_000
	defaultAudioBitrate = 128_000
)

// videoEncoders maps codec names to FFmpeg encoder names.
var videoEncoders = map[VideoCodec]string{
	VideoH264: "libx264",
	VideoVP8:  "libvpx",
	VideoVP9:  "libvpx-vp9",
}

var audioEncoders = map[AudioCodec]string{
	AudioAAC:  "aac",
	AudioOpus: "libopus",
}

// Settings configures one encode.
type Settings struct {
	Format       Format     `json:"format"`
	Width        int        `json:"width"`
	Height       int        `json:"height"`
	FPS          float64    `json:"fps"`
	VideoCodec   VideoCodec `json:"videoCodec,omitempty"`
	AudioCodec   AudioCodec `json:"audioCodec,omitempty"`
	VideoBitrate int        `json:"videoBitrate"` // bits per second
	AudioBitrate int        `json:"audioBitrate"` // bits per second
}

// Normalize fills defaults: mp4 container, 6 Mbps video, 128 kbps audio,
// h264/aac in mp4 and vp9/opus in webm.
func (s *Settings) Normalize() {
	if s.Format != FormatWebM {
		s.Format = FormatMP4
	}
	// WebCodecs-style name for h264
	if s.VideoCodec == "avc" {
		s.VideoCodec = VideoH264
	}
	if s.VideoCodec == "" {
		s.VideoCodec = VideoH264
		if s.Format == FormatWebM {
			s.VideoCodec = VideoVP9
		}
	}
	if s.AudioCodec == "" {
		s.AudioCodec = AudioAAC
		if s.Format == FormatWebM {
			s.AudioCodec = AudioOpus
		}
	}
	if s.VideoBitrate <= 0 {
		s.VideoBitrate = defaultVideoBitrate
	}
	if s.AudioBitrate <= 0 {
		s.AudioBitrate = defaultAudioBitrate
	}
}

// MIMEType returns the container's media type.
func (s *Settings) MIMEType() string {
	if s.Format == FormatWebM {
		return "video/webm"
	}
	return "video/mp4"
}

// Validate rejects settings FFmpeg would choke on. Codecs require even
// dimensions.
func (s *Settings) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("invalid output size %dx%d", s.Width, s.Height)
	}
	if s.Width%2 != 0 || s.Height%2 != 0 {
		return fmt.Errorf("output size %dx%d must have even dimensions", s.Width, s.Height)
	}
	if s.FPS <= 0 {
		return fmt.Errorf("invalid fps %v", s.FPS)
	}
	if s.VideoCodec != "" {
		if _, ok := videoEncoders[s.VideoCodec]; !ok {
			return fmt.Errorf("unknown video codec %q", s.VideoCodec)
		}
	}
	if s.AudioCodec != "" {
		if _, ok := audioEncoders[s.AudioCodec]; !ok {
			return fmt.Errorf("unknown audio codec %q", s.AudioCodec)
		}
	}
	return nil
}

// Blob is the finished export payload.
type Blob struct {
	Data []byte
	MIME string
}

// frameBytes returns the packed RGBA bytes of a frame, rebuilding only when
// the raster carries row padding.
func frameBytes(img *image.RGBA, width, height int) []byte {
	rowLen := width * 4
	if img.Stride == rowLen {
		return img.Pix[:rowLen*height]
	}

	packed := make([]byte, rowLen*height)
	for y := 0; y < height; y++ {
		copy(packed[y*rowLen:], img.Pix[y*img.Stride:y*img.Stride+rowLen])
	}
	return packed
}
