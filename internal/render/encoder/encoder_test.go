package encoder

import (
	"image"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSettingsNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   Settings
		want Settings
	}{
		{
			name: "empty settings get mp4 defaults",
			in:   Settings{Width: 1280, Height: 720, FPS: 30},
			want: Settings{Format: FormatMP4, Width: 1280, Height: 720, FPS: 30, VideoCodec: VideoH264, AudioCodec: AudioAAC, VideoBitrate: 6_000_000, AudioBitrate: 128_000},
		},
		{
			name: "webm gets vp9 and opus",
			in:   Settings{Format: FormatWebM, Width: 1280, Height: 720, FPS: 30},
			want: Settings{Format: FormatWebM, Width: 1280, Height: 720, FPS: 30, VideoCodec: VideoVP9, AudioCodec: AudioOpus, VideoBitrate: 6_000_000, AudioBitrate: 128_000},
		},
		{
			name: "unknown format coerced to mp4",
			in:   Settings{Format: "mov", Width: 1280, Height: 720, FPS: 30},
			want: Settings{Format: FormatMP4, Width: 1280, Height: 720, FPS: 30, VideoCodec: VideoH264, AudioCodec: AudioAAC, VideoBitrate: 6_000_000, AudioBitrate: 128_000},
		},
		{
			name: "avc aliases h264",
			in:   Settings{Width: 1280, Height: 720, FPS: 30, VideoCodec: "avc"},
			want: Settings{Format: FormatMP4, Width: 1280, Height: 720, FPS: 30, VideoCodec: VideoH264, AudioCodec: AudioAAC, VideoBitrate: 6_000_000, AudioBitrate: 128_000},
		},
		{
			name: "explicit codecs kept even across containers",
			in:   Settings{Format: FormatMP4, Width: 1280, Height: 720, FPS: 30, VideoCodec: VideoVP9, AudioCodec: AudioOpus},
			want: Settings{Format: FormatMP4, Width: 1280, Height: 720, FPS: 30, VideoCodec: VideoVP9, AudioCodec: AudioOpus, VideoBitrate: 6_000_000, AudioBitrate: 128_000},
		},
		{
			name: "explicit bitrates kept",
			in:   Settings{Format: FormatMP4, Width: 100, Height: 100, FPS: 24, VideoBitrate: 2_000_000, AudioBitrate: 96_000},
			want: Settings{Format: FormatMP4, Width: 100, Height: 100, FPS: 24, VideoCodec: VideoH264, AudioCodec: AudioAAC, VideoBitrate: 2_000_000, AudioBitrate: 96_000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.Normalize()
			assert.Equal(t, tt.want, tt.in)
		})
	}
}

func TestSettingsMIMEType(t *testing.T) {
	mp4 := Settings{Format: FormatMP4}
	webm := Settings{Format: FormatWebM}
	assert.Equal(t, "video/mp4", mp4.MIMEType())
	assert.Equal(t, "video/webm", webm.MIMEType())
}

func TestSettingsValidate(t *testing.T) {
	valid := Settings{Format: FormatMP4, Width: 1920, Height: 1080, FPS: 30}
	assert.NoError(t, valid.Validate())

	odd := Settings{Format: FormatMP4, Width: 1919, Height: 1080, FPS: 30}
	assert.ErrorContains(t, odd.Validate(), "even")

	zeroFPS := Settings{Format: FormatMP4, Width: 1920, Height: 1080}
	assert.ErrorContains(t, zeroFPS.Validate(), "fps")

	badVideo := Settings{Format: FormatMP4, Width: 1920, Height: 1080, FPS: 30, VideoCodec: "av1"}
	assert.ErrorContains(t, badVideo.Validate(), "video codec")

	badAudio := Settings{Format: FormatMP4, Width: 1920, Height: 1080, FPS: 30, AudioCodec: "mp3"}
	assert.ErrorContains(t, badAudio.Validate(), "audio codec")
}

func TestBuildArgs(t *testing.T) {
	base := Settings{Format: FormatMP4, Width: 1920, Height: 1080, FPS: 30}
	base.Normalize()

	t.Run("mp4 video only", func(t *testing.T) {
		args := strings.Join(buildArgs(base, "", "/tmp/out.mp4"), " ")
		assert.Contains(t, args, "-f rawvideo")
		assert.Contains(t, args, "-pix_fmt rgba")
		assert.Contains(t, args, "-s 1920x1080")
		assert.Contains(t, args, "-r 30")
		assert.Contains(t, args, "-i pipe:0")
		assert.Contains(t, args, "-c:v libx264")
		assert.Contains(t, args, "-b:v 6000k")
		assert.Contains(t, args, "-movflags +faststart")
		assert.NotContains(t, args, "-c:a")
		assert.NotContains(t, args, "-shortest")
		assert.True(t, strings.HasSuffix(args, "/tmp/out.mp4"))
	})

	t.Run("mp4 with audio", func(t *testing.T) {
		args := strings.Join(buildArgs(base, "/tmp/mix.wav", "/tmp/out.mp4"), " ")
		assert.Contains(t, args, "-i /tmp/mix.wav")
		assert.Contains(t, args, "-c:a aac")
		assert.Contains(t, args, "-b:a 128k")
		assert.Contains(t, args, "-shortest")
	})

	t.Run("webm codecs", func(t *testing.T) {
		webm := Settings{Format: FormatWebM, Width: 1920, Height: 1080, FPS: 30}
		webm.Normalize()
		args := strings.Join(buildArgs(webm, "/tmp/mix.wav", "/tmp/out.webm"), " ")
		assert.Contains(t, args, "-c:v libvpx-vp9")
		assert.Contains(t, args, "-c:a libopus")
		assert.NotContains(t, args, "libx264")
		assert.NotContains(t, args, "faststart")
	})

	t.Run("vp8 selects libvpx", func(t *testing.T) {
		webm := Settings{Format: FormatWebM, Width: 1920, Height: 1080, FPS: 30, VideoCodec: VideoVP8}
		webm.Normalize()
		args := strings.Join(buildArgs(webm, "", "/tmp/out.webm"), " ")
		assert.Contains(t, args, "-c:v libvpx ")
		assert.NotContains(t, args, "libvpx-vp9")
	})

	t.Run("requested pairing passes through unvalidated", func(t *testing.T) {
		crossed := base
		crossed.VideoCodec = VideoVP9
		crossed.AudioCodec = AudioOpus
		args := strings.Join(buildArgs(crossed, "/tmp/mix.wav", "/tmp/out.mp4"), " ")
		assert.Contains(t, args, "-c:v libvpx-vp9")
		assert.Contains(t, args, "-c:a libopus")
		assert.Contains(t, args, "-movflags +faststart")
	})

	t.Run("fractional frame rates keep precision", func(t *testing.T) {
		ntsc := base
		ntsc.FPS = 29.97
		args := strings.Join(buildArgs(ntsc, "", "/tmp/out.mp4"), " ")
		assert.Contains(t, args, "-r 29.97")
	})
}

func TestFrameBytes(t *testing.T) {
	t.Run("tight stride passes through", func(t *testing.T) {
		img := image.NewRGBA(image.Rect(0, 0, 4, 2))
		img.Pix[0] = 0xaa
		got := frameBytes(img, 4, 2)
		assert.Len(t, got, 4*2*4)
		assert.Equal(t, uint8(0xaa), got[0])
	})

	t.Run("padded stride repacks rows", func(t *testing.T) {
		img := &image.RGBA{
			Pix:    make([]byte, 2*24),
			Stride: 24, // 4px * 4 bytes + 8 padding
			Rect:   image.Rect(0, 0, 4, 2),
		}
		img.Pix[24] = 0xbb // first byte of row 1
		got := frameBytes(img, 4, 2)
		require.Len(t, got, 4*2*4)
		assert.Equal(t, uint8(0xbb), got[16])
	})
}

func TestWriterLifecycle(t *testing.T) {
	t.Run("rejects invalid settings", func(t *testing.T) {
		_, err := NewWriter(Settings{Width: 0, Height: 0, FPS: 30}, "", zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("write before start fails", func(t *testing.T) {
		w, err := NewWriter(Settings{Width: 64, Height: 64, FPS: 30}, "", zap.NewNop())
		require.NoError(t, err)
		defer w.Abort()

		err = w.WriteFrame(image.NewRGBA(image.Rect(0, 0, 64, 64)))
		assert.ErrorContains(t, err, "not running")
	})

	t.Run("abort is idempotent", func(t *testing.T) {
		w, err := NewWriter(Settings{Width: 64, Height: 64, FPS: 30}, "", zap.NewNop())
		require.NoError(t, err)
		w.Abort()
		w.Abort()
	})
}
