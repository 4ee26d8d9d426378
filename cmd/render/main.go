// Command render runs one export locally: project JSON in, video file out.
// It drives the same worker protocol the queue handler uses, so a render
// that works here behaves identically under the job queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/tracklight/backend/internal/render/encoder"
	"github.com/tracklight/backend/internal/render/geo"
	"github.com/tracklight/backend/internal/render/media"
	"github.com/tracklight/backend/internal/render/session"
	"github.com/tracklight/backend/internal/shared/config"
	"github.com/tracklight/backend/internal/shared/logging"
)

func main() {
	var (
		projectPath = flag.String("project", "", "path to the project JSON")
		outPath     = flag.String("o", "", "output file (extension selects the container)")
		width       = flag.Int("width", 0, "output width (default: project setting)")
		height      = flag.Int("height", 0, "output height (default: project setting)")
		fps         = flag.Float64("fps", 0, "output frame rate (default: project setting)")
		videoCodec  = flag.String("vcodec", "", "video codec: h264, vp8 or vp9 (default: per container)")
		audioCodec  = flag.String("acodec", "", "audio codec: aac or opus (default: per container)")
		bitrate     = flag.Int("bitrate", 0, "video bitrate in bits/s (default 6M)")
		quiet       = flag.Bool("quiet", false, "suppress the progress bar")
	)
	flag.Parse()

	if *projectPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: render -project timeline.json -o out.mp4")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fatal("load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fatal("init logger: %v", err)
	}
	defer logger.Sync()

	doc, err := os.ReadFile(*projectPath)
	if err != nil {
		fatal("read project: %v", err)
	}

	format := encoder.FormatMP4
	if strings.EqualFold(filepath.Ext(*outPath), ".webm") {
		format = encoder.FormatWebM
	}

	ff := media.NewFFmpeg(cfg.Render.FFmpegPath, cfg.Render.FFprobePath, logger)
	worker := session.NewWorker(session.Pipeline{
		Opener:     ff,
		Fetcher:    geo.NewHTTPTileFetcher(cfg.Render.TileURL, cfg.Render.TileUserAgent),
		Decoder:    ff,
		Capable:    ff.Available,
		FFmpegPath: cfg.Render.FFmpegPath,
		FontPath:   cfg.Render.FontPath,
		Logger:     logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx)

	// Ctrl-C cancels the export; the worker answers with a cancelled
	// progress event and we exit cleanly.
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-interrupts
		worker.Commands() <- session.Command{Type: session.CommandCancel}
	}()

	worker.Commands() <- session.Command{
		Type:    session.CommandStart,
		Project: doc,
		Settings: encoder.Settings{
			Format:       format,
			Width:        *width,
			Height:       *height,
			FPS:          *fps,
			VideoCodec:   encoder.VideoCodec(*videoCodec),
			AudioCodec:   encoder.AudioCodec(*audioCodec),
			VideoBitrate: *bitrate,
		},
	}

	var bar *progressbar.ProgressBar
	for event := range worker.Events() {
		switch event.Type {
		case session.EventProgress:
			p := event.Progress
			switch p.Status {
			case session.StatusRendering:
				if bar == nil && !*quiet && p.TotalFrames > 0 {
					bar = progressbar.NewOptions(p.TotalFrames,
						progressbar.OptionSetDescription("rendering"),
						progressbar.OptionShowCount(),
						progressbar.OptionSetPredictTime(true),
					)
				}
				if bar != nil {
					bar.Set(p.Frame)
				}
			case session.StatusEncoding:
				if bar != nil {
					bar.Finish()
					bar = nil
				}
				if !*quiet {
					fmt.Fprintln(os.Stderr, "encoding...")
				}
			case session.StatusCancelled:
				if bar != nil {
					bar.Finish()
				}
				fmt.Fprintln(os.Stderr, "cancelled")
				os.Exit(130)
			}

		case session.EventError:
			if bar != nil {
				bar.Finish()
			}
			fatal("export failed: %s", event.Err)

		case session.EventComplete:
			if err := os.WriteFile(*outPath, event.Blob.Data, 0644); err != nil {
				fatal("write output: %v", err)
			}
			logger.Info("Export written",
				zap.String("path", *outPath),
				zap.Int("bytes", len(event.Blob.Data)),
				zap.String("mime", event.Blob.MIME),
			)
			fmt.Printf("%s (%d bytes)\n", *outPath, len(event.Blob.Data))
			return
		}
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
