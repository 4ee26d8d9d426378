package media

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"

	"go.uber.org/zap"

	_ "image/jpeg"
	_ "image/png"
)

// FFmpeg decodes media through the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	logger      *zap.Logger
}

// NewFFmpeg creates an FFmpeg-backed opener and decoder. Empty paths fall
// back to binaries resolved from PATH.
func NewFFmpeg(ffmpegPath, ffprobePath string, logger *zap.Logger) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, logger: logger}
}

// Available reports whether the ffmpeg binary can be resolved. Export
// sessions refuse to start without it.
func (f *FFmpeg) Available() bool {
	_, err := exec.LookPath(f.ffmpegPath)
	return err == nil
}

type probeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		SampleRate string `json:"sample_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe extracts dimensions, duration and audio presence via ffprobe.
func (f *FFmpeg) Probe(ctx context.Context, path string) (*Info, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, f.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	var probed probeOutput
	if err := json.Unmarshal(output, &probed); err != nil {
		return nil, fmt.Errorf("ffprobe output unreadable for %s: %w", path, err)
	}

	info := &Info{}
	if probed.Format.Duration != "" {
		info.Duration, _ = strconv.ParseFloat(probed.Format.Duration, 64)
	}
	for _, stream := range probed.Streams {
		switch stream.CodecType {
		case "video":
			if info.Width == 0 {
				info.Width = stream.Width
				info.Height = stream.Height
			}
		case "audio":
			info.HasAudio = true
			if stream.SampleRate != "" {
				info.SampleRate, _ = strconv.Atoi(stream.SampleRate)
			}
		}
	}
	return info, nil
}

// OpenVideo probes the file and returns a seekable frame source.
func (f *FFmpeg) OpenVideo(ctx context.Context, path string) (FrameSource, error) {
	info, err := f.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("no video stream in %s", path)
	}
	return &videoSource{
		ffmpeg: f,
		path:   path,
		info:   *info,
	}, nil
}

// OpenImage decodes a still image from disk.
func (f *FFmpeg) OpenImage(ctx context.Context, path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", path, err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}
	return img, nil
}

// DecodePCM decodes the file's audio to planar stereo float32 at sampleRate.
func (f *FFmpeg) DecodePCM(ctx context.Context, path string, sampleRate int) ([][]float32, error) {
	args := []string{
		"-v", "error",
		"-i", path,
		"-vn",
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"-ac", "2",
		"-ar", strconv.Itoa(sampleRate),
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)
	raw, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("pcm decode failed for %s: %w", path, err)
	}

	frames := len(raw) / 8 // 2 channels * 4 bytes
	left := make([]float32, frames)
	right := make([]float32, frames)
	for i := 0; i < frames; i++ {
		left[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*8:]))
		right[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*8+4:]))
	}
	return [][]float32{left, right}, nil
}

// videoSource extracts single frames by seeking with a fresh ffmpeg process
// per request. Random access dominates the compositor's read pattern (clips
// seek, rates vary), so a long-lived streaming decode buys little.
type videoSource struct {
	ffmpeg *FFmpeg
	path   string
	info   Info
}

func (v *videoSource) Bounds() image.Rectangle {
	return image.Rect(0, 0, v.info.Width, v.info.Height)
}

func (v *videoSource) FrameAt(ctx context.Context, t float64) (image.Image, error) {
	if t < 0 {
		t = 0
	}
	if v.info.Duration > 0 && t > v.info.Duration {
		t = v.info.Duration
	}

	args := []string{
		"-v", "error",
		"-ss", fmt.Sprintf("%.4f", t),
		"-i", v.path,
		"-frames:v", "1",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, v.ffmpeg.ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("frame pipe for %s: %w", v.path, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("frame extract start for %s: %w", v.path, err)
	}

	want := v.info.Width * v.info.Height * 4
	pixels := make([]byte, want)
	_, readErr := io.ReadFull(stdout, pixels)
	io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	if readErr != nil {
		// Seeks past the last frame produce no output. Callers hold the
		// last good frame, so report it distinctly.
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("no frame at %.3fs in %s", t, v.path)
		}
		return nil, fmt.Errorf("frame read for %s: %w", v.path, readErr)
	}
	if waitErr != nil {
		return nil, fmt.Errorf("frame extract for %s: %w", v.path, waitErr)
	}

	img := &image.RGBA{
		Pix:    pixels,
		Stride: v.info.Width * 4,
		Rect:   image.Rect(0, 0, v.info.Width, v.info.Height),
	}
	return img, nil
}

func (v *videoSource) Close() error { return nil }
