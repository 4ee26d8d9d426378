package encoder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/tracklight/backend/internal/render/audio"
)

// Writer encodes one export. Call AddAudio before Start, then WriteFrame for
// every frame in order, then Finalize. Abort is safe at any point and
// idempotent.
type Writer struct {
	settings   Settings
	ffmpegPath string
	logger     *zap.Logger

	tmpDir    string
	audioPath string
	outPath   string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer

	started bool
	done    bool
}

// NewWriter creates an encode writer. Settings are normalized in place.
func NewWriter(settings Settings, ffmpegPath string, logger *zap.Logger) (*Writer, error) {
	settings.Normalize()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}

	tmpDir, err := os.MkdirTemp("", "tracklight-encode-")
	if err != nil {
		return nil, fmt.Errorf("encode scratch dir: %w", err)
	}

	return &Writer{
		settings:   settings,
		ffmpegPath: ffmpegPath,
		logger:     logger,
		tmpDir:     tmpDir,
		outPath:    filepath.Join(tmpDir, "out."+string(settings.Format)),
	}, nil
}

// AddAudio stages the mixdown as a WAV side input. Must precede Start.
func (w *Writer) AddAudio(buf *audio.Buffer) error {
	if w.started {
		return fmt.Errorf("audio must be added before the encode starts")
	}
	path := filepath.Join(w.tmpDir, "mix.wav")
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio scratch file: %w", err)
	}
	if err := audio.EncodeWAV(file, buf); err != nil {
		file.Close()
		return fmt.Errorf("audio encode: %w", err)
	}
	if err := file.Close(); err != nil {
		return err
	}
	w.audioPath = path
	return nil
}

// Start launches the FFmpeg process and opens the frame pipe.
func (w *Writer) Start(ctx context.Context) error {
	if w.started {
		return fmt.Errorf("encode already started")
	}

	args := buildArgs(w.settings, w.audioPath, w.outPath)
	w.logger.Info("starting encode",
		zap.String("format", string(w.settings.Format)),
		zap.Int("width", w.settings.Width),
		zap.Int("height", w.settings.Height),
		zap.Float64("fps", w.settings.FPS),
		zap.Bool("has_audio", w.audioPath != ""),
	)

	cmd := exec.CommandContext(ctx, w.ffmpegPath, args...)
	cmd.Stderr = &w.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("frame pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start: %w", err)
	}

	w.cmd = cmd
	w.stdin = stdin
	w.started = true
	return nil
}

// WriteFrame streams one frame. Frames must match the configured size.
func (w *Writer) WriteFrame(img *image.RGBA) error {
	if !w.started || w.done {
		return fmt.Errorf("encode not running")
	}
	bounds := img.Bounds()
	if bounds.Dx() != w.settings.Width || bounds.Dy() != w.settings.Height {
		return fmt.Errorf("frame size %dx%d does not match output %dx%d",
			bounds.Dx(), bounds.Dy(), w.settings.Width, w.settings.Height)
	}

	if _, err := w.stdin.Write(frameBytes(img, w.settings.Width, w.settings.Height)); err != nil {
		return fmt.Errorf("frame write: %w (ffmpeg: %s)", err, w.stderr.String())
	}
	return nil
}

// Finalize closes the stream, waits for FFmpeg and returns the muxed blob.
func (w *Writer) Finalize() (*Blob, error) {
	if !w.started || w.done {
		return nil, fmt.Errorf("encode not running")
	}
	w.done = true

	if err := w.stdin.Close(); err != nil {
		w.cleanup()
		return nil, fmt.Errorf("frame pipe close: %w", err)
	}
	if err := w.cmd.Wait(); err != nil {
		w.cleanup()
		return nil, fmt.Errorf("ffmpeg failed: %w (ffmpeg: %s)", err, w.stderr.String())
	}

	data, err := os.ReadFile(w.outPath)
	w.cleanup()
	if err != nil {
		return nil, fmt.Errorf("read encoded output: %w", err)
	}

	return &Blob{Data: data, MIME: w.settings.MIMEType()}, nil
}

// Abort kills a running encode and removes scratch files. Idempotent.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true

	if w.stdin != nil {
		w.stdin.Close()
	}
	if w.cmd != nil && w.cmd.Process != nil {
		w.cmd.Process.Kill()
		w.cmd.Wait()
	}
	w.cleanup()
}

func (w *Writer) cleanup() {
	if w.tmpDir == "" {
		return
	}
	if err := os.RemoveAll(w.tmpDir); err != nil {
		w.logger.Warn("encode scratch dir not removed",
			zap.String("dir", w.tmpDir),
			zap.Error(err),
		)
	}
	w.tmpDir = ""
}

// buildArgs assembles the FFmpeg invocation: raw RGBA frames on stdin, an
// optional WAV side input, and the requested codecs. Normalize has already
// filled per-container codec defaults; pairing is not second-guessed here.
func buildArgs(s Settings, audioPath, outPath string) []string {
	args := []string{
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", s.Width, s.Height),
		"-r", strconv.FormatFloat(s.FPS, 'f', -1, 64),
		"-i", "pipe:0",
	}

	if audioPath != "" {
		args = append(args, "-i", audioPath)
	}

	switch s.VideoCodec {
	case VideoVP9:
		args = append(args, "-c:v", videoEncoders[VideoVP9], "-cpu-used", "4", "-row-mt", "1")
	case VideoVP8:
		args = append(args, "-c:v", videoEncoders[VideoVP8], "-cpu-used", "4")
	default:
		args = append(args, "-c:v", videoEncoders[VideoH264], "-preset", "veryfast")
	}
	args = append(args, "-b:v", bitrateArg(s.VideoBitrate), "-pix_fmt", "yuv420p")

	if s.Format == FormatMP4 {
		args = append(args, "-movflags", "+faststart")
	}

	if audioPath != "" {
		enc := audioEncoders[AudioAAC]
		if s.AudioCodec == AudioOpus {
			enc = audioEncoders[AudioOpus]
		}
		args = append(args, "-c:a", enc, "-b:a", bitrateArg(s.AudioBitrate), "-shortest")
	}

	args = append(args, outPath)
	return args
}

func bitrateArg(bitsPerSecond int) string {
	return fmt.Sprintf("%dk", bitsPerSecond/1000)
}
