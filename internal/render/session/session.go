// Package session orchestrates one export: frame rendering, audio mixdown
// and encoding, driven through an explicit state machine with cancellation
// and progress reporting. It also provides the worker-side command/event
// protocol the job handler and the render CLI speak.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tracklight/backend/internal/project"
	"github.com/tracklight/backend/internal/render/audio"
	"github.com/tracklight/backend/internal/render/compositor"
	"github.com/tracklight/backend/internal/render/encoder"
	"github.com/tracklight/backend/internal/render/geo"
	"github.com/tracklight/backend/internal/render/media"
)

// Status is the export state machine position.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusRendering    Status = "rendering"
	StatusEncoding     Status = "encoding"
	StatusCompleted    Status = "completed"
	StatusCancelled    Status = "cancelled"
	StatusError        Status = "error"
)

// Progress is one progress report. Percent is 0..100 across the whole
// export, not just the rendering phase.
type Progress struct {
	Status      Status  `json:"status"`
	Percent     float64 `json:"percent"`
	Frame       int     `json:"frame"`
	TotalFrames int     `json:"totalFrames"`
}

// ErrCancelled marks an export stopped by its token. A cancelled export is
// not a failure; callers resolve it with no output.
var ErrCancelled = errors.New("export cancelled")

// progress reports are emitted every progressInterval frames and for the
// final frame.
const progressInterval = 10

// rendering advances percent up to renderShare; the remainder covers the
// encode finalize.
const renderShare = 95.0

// FrameWriter is the encoder surface the session drives. *encoder.Writer
// implements it; tests substitute a recorder.
type FrameWriter interface {
	AddAudio(buf *audio.Buffer) error
	Start(ctx context.Context) error
	WriteFrame(img *image.RGBA) error
	Finalize() (*encoder.Blob, error)
	Abort()
}

// Pipeline bundles the external dependencies an export needs. Every field
// is an interface or constructor so sessions run in tests without FFmpeg or
// a network.
type Pipeline struct {
	Opener  media.Opener
	Fetcher geo.TileFetcher
	Decoder media.PCMDecoder

	// NewWriter creates the encoder for one export. Nil selects the
	// FFmpeg-backed encoder.Writer.
	NewWriter func(settings encoder.Settings) (FrameWriter, error)

	// Capable reports whether encoding can run at all. Nil means capable.
	Capable func() bool

	// OnFrame and OnEncode observe per-frame compositing time and the
	// total container encode time. Nil disables observation.
	OnFrame  func(time.Duration)
	OnEncode func(format string, d time.Duration)

	FFmpegPath string
	FontPath   string
	Logger     *zap.Logger
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func (p *Pipeline) newWriter(settings encoder.Settings) (FrameWriter, error) {
	if p.NewWriter != nil {
		return p.NewWriter(settings)
	}
	return encoder.NewWriter(settings, p.FFmpegPath, p.logger())
}

// Session renders one project once. Sessions are single-use.
type Session struct {
	pipeline Pipeline
	state    *project.State
	logger   *zap.Logger
}

// New creates a session over a parsed project.
func New(pipeline Pipeline, state *project.State) *Session {
	return &Session{
		pipeline: pipeline,
		state:    state,
		logger:   pipeline.logger(),
	}
}

// Export runs the full pipeline and returns the encoded blob. A token
// cancellation returns ErrCancelled. Resources are released exactly once on
// every exit path.
func (s *Session) Export(ctx context.Context, settings encoder.Settings, token *Token, onProgress func(Progress)) (*encoder.Blob, error) {
	if token == nil {
		token = NewToken()
	}
	report := func(p Progress) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	var (
		cleanupOnce sync.Once
		arena       *compositor.Arena
		writer      FrameWriter
	)
	cleanup := func() {
		cleanupOnce.Do(func() {
			if writer != nil {
				writer.Abort()
			}
			if arena != nil {
				arena.ReleaseAll()
			}
		})
	}
	defer cleanup()

	report(Progress{Status: StatusInitializing})

	if s.pipeline.Capable != nil && !s.pipeline.Capable() {
		return nil, errors.New("video encoding is not available on this host")
	}

	fps := s.state.Settings.FPS
	totalFrames := int(math.Ceil(s.state.Settings.Duration * fps))
	if totalFrames <= 0 {
		return nil, fmt.Errorf("nothing to export: %v seconds at %v fps", s.state.Settings.Duration, fps)
	}

	// Token cancellation propagates into every blocking operation.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-token.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	arena = compositor.NewArena(s.pipeline.Opener, s.pipeline.Fetcher, s.logger)
	comp := compositor.New(s.state, arena, s.pipeline.FontPath, s.logger)

	if settings.Width == 0 {
		settings.Width = s.state.Settings.Width
	}
	if settings.Height == 0 {
		settings.Height = s.state.Settings.Height
	}
	if settings.FPS == 0 {
		settings.FPS = fps
	}
	settings.Normalize()

	writer, err := s.pipeline.newWriter(settings)
	if err != nil {
		return nil, err
	}

	if err := s.addAudio(ctx, writer); err != nil {
		return nil, err
	}

	encodeStart := time.Now()
	if err := writer.Start(ctx); err != nil {
		return nil, s.mapErr(token, err)
	}

	report(Progress{Status: StatusRendering, TotalFrames: totalFrames})
	for i := 0; i < totalFrames; i++ {
		if token.Cancelled() {
			return nil, ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return nil, s.mapErr(token, err)
		}

		frameStart := time.Now()
		frame, err := comp.RenderFrame(ctx, float64(i)/fps)
		if err != nil {
			return nil, s.mapErr(token, err)
		}
		if s.pipeline.OnFrame != nil {
			s.pipeline.OnFrame(time.Since(frameStart))
		}
		if err := writer.WriteFrame(frame); err != nil {
			return nil, s.mapErr(token, err)
		}

		if (i+1)%progressInterval == 0 || i == totalFrames-1 {
			report(Progress{
				Status:      StatusRendering,
				Percent:     float64(i+1) / float64(totalFrames) * renderShare,
				Frame:       i + 1,
				TotalFrames: totalFrames,
			})
		}
	}

	if token.Cancelled() {
		return nil, ErrCancelled
	}

	report(Progress{Status: StatusEncoding, Percent: 98, Frame: totalFrames, TotalFrames: totalFrames})
	blob, err := writer.Finalize()
	if err != nil {
		return nil, s.mapErr(token, err)
	}
	if s.pipeline.OnEncode != nil {
		s.pipeline.OnEncode(string(settings.Format), time.Since(encodeStart))
	}

	cleanup()
	report(Progress{Status: StatusCompleted, Percent: 100, Frame: totalFrames, TotalFrames: totalFrames})
	return blob, nil
}

// addAudio mixes the timeline audio and stages it on the writer. Mixdown
// failures degrade the export to video-only; only cancellation aborts.
func (s *Session) addAudio(ctx context.Context, writer FrameWriter) error {
	engine := audio.NewEngine(s.state, s.pipeline.Decoder, s.logger)
	mix, err := engine.Render(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		s.logger.Warn("audio mixdown failed, exporting video only", zap.Error(err))
		return nil
	}
	if mix.Frames() == 0 {
		return nil
	}
	if err := writer.AddAudio(mix); err != nil {
		s.logger.Warn("audio staging failed, exporting video only", zap.Error(err))
	}
	return nil
}

// mapErr converts a context failure caused by our own token into
// ErrCancelled; everything else passes through.
func (s *Session) mapErr(token *Token, err error) error {
	if token.Cancelled() {
		return ErrCancelled
	}
	return err
}
