// Package compositor renders finished output frames from a project state:
// one RGBA raster per timeline instant, with every visible track's clips
// layered, transformed and blended. It owns no encoding; frames are handed
// to the session which pipes them to the encoder.
package compositor

import (
	"context"
	"image"
	"image/color"
	stddraw "image/draw"
	"math"

	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/tracklight/backend/internal/project"
	"github.com/tracklight/backend/internal/render/anim"
)

// Compositor renders frames for one project. It is bound to a single Arena
// and must be used from one goroutine at a time.
type Compositor struct {
	state  *project.State
	arena  *Arena
	fonts  *fontCache
	logger *zap.Logger
}

// New creates a compositor for the given project state. fontPath points at a
// TTF used for text clips; when empty or unreadable a built-in bitmap face is
// used instead.
func New(state *project.State, arena *Arena, fontPath string, logger *zap.Logger) *Compositor {
	return &Compositor{
		state:  state,
		arena:  arena,
		fonts:  newFontCache(fontPath, logger),
		logger: logger,
	}
}

// RenderFrame composites the full frame at timeline time t. Tracks render
// bottom to top in project order; muted tracks are skipped. A clip that fails
// to render is logged and dropped from this frame rather than failing the
// export.
func (c *Compositor) RenderFrame(ctx context.Context, t float64) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frame := image.NewRGBA(image.Rect(0, 0, c.state.Settings.Width, c.state.Settings.Height))
	stddraw.Draw(frame, frame.Bounds(), image.NewUniform(color.Black), image.Point{}, stddraw.Src)

	for _, track := range c.state.OrderedTracks() {
		if track.IsMuted {
			continue
		}
		for _, clip := range c.state.ActiveClips(&track, t) {
			if clip.Type == project.ClipAudio {
				continue
			}
			if err := c.renderClip(ctx, frame, &clip, t); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				c.logger.Warn("clip failed to render, skipping for this frame",
					zap.String("clip_id", clip.ID),
					zap.String("clip_type", string(clip.Type)),
					zap.Float64("time", t),
					zap.Error(err),
				)
			}
		}
	}

	return frame, nil
}

func (c *Compositor) renderClip(ctx context.Context, frame *image.RGBA, clip *project.Clip, t float64) error {
	elapsed := t - clip.Start

	canvasW := float64(c.state.Settings.Width)
	canvasH := float64(c.state.Settings.Height)

	px := c.prop(clip, "x", elapsed, clip.Transform.X) / 100 * canvasW
	py := c.prop(clip, "y", elapsed, clip.Transform.Y) / 100 * canvasH
	pw := int(c.prop(clip, "width", elapsed, clip.Transform.Width)/100*canvasW + 0.5)
	ph := int(c.prop(clip, "height", elapsed, clip.Transform.Height)/100*canvasH + 0.5)
	rotation := c.prop(clip, "rotation", elapsed, clip.Transform.Rotation)
	opacity := clamp01(c.prop(clip, "opacity", elapsed, clip.Transform.Opacity))

	fadeAlpha, wipeFrac := transitionProgress(clip, elapsed)
	opacity *= fadeAlpha

	if pw < 1 || ph < 1 || opacity <= 0 {
		return nil
	}

	layer, err := c.renderContent(ctx, clip, t, elapsed, pw, ph)
	if err != nil {
		return err
	}
	if layer == nil {
		return nil
	}

	c.composite(frame, layer, px, py, pw, ph, rotation, opacity, wipeFrac)
	return nil
}

// renderContent draws the clip's content into a pw x ph layer.
func (c *Compositor) renderContent(ctx context.Context, clip *project.Clip, t, elapsed float64, pw, ph int) (image.Image, error) {
	switch clip.Type {
	case project.ClipVideo:
		return c.renderVideo(ctx, clip, t, pw, ph)
	case project.ClipImage:
		return c.renderImage(ctx, clip, pw, ph)
	case project.ClipText:
		return c.renderText(clip, pw, ph)
	case project.ClipMap:
		return c.renderMap(ctx, clip, t, elapsed, pw, ph)
	default:
		return nil, nil
	}
}

func (c *Compositor) renderVideo(ctx context.Context, clip *project.Clip, t float64, pw, ph int) (image.Image, error) {
	asset, ok := c.state.Asset(clip)
	if !ok {
		return nil, errMissingAsset(clip)
	}

	src, err := c.arena.Video(ctx, asset.ID, asset.Source)
	if err != nil {
		return nil, err
	}

	raster, err := src.FrameAt(ctx, clip.LocalTime(t))
	if err != nil {
		// Seek failures near the end of the source hold the last good frame
		// instead of flashing black.
		held, ok := c.arena.LastFrame(clip.ID)
		if !ok {
			return nil, err
		}
		c.logger.Debug("holding previous frame after seek failure",
			zap.String("clip_id", clip.ID),
			zap.Error(err),
		)
		raster = held
	}
	c.arena.KeepFrame(clip.ID, raster)

	return fitRaster(raster, pw, ph, anim.FitCover), nil
}

func (c *Compositor) renderImage(ctx context.Context, clip *project.Clip, pw, ph int) (image.Image, error) {
	asset, ok := c.state.Asset(clip)
	if !ok {
		return nil, errMissingAsset(clip)
	}
	raster, err := c.arena.Image(ctx, asset.ID, asset.Source)
	if err != nil {
		return nil, err
	}
	return fitRaster(raster, pw, ph, anim.FitContain), nil
}

// fitRaster scales a source raster into a pw x ph layer, centered and
// preserving aspect ratio. Cover crops, contain letterboxes.
func fitRaster(src image.Image, pw, ph int, mode anim.FitMode) image.Image {
	srcBounds := src.Bounds()
	if srcBounds.Dx() == pw && srcBounds.Dy() == ph {
		return src
	}

	fit := anim.ObjectFit(float64(srcBounds.Dx()), float64(srcBounds.Dy()), float64(pw), float64(ph), mode)
	layer := image.NewRGBA(image.Rect(0, 0, pw, ph))

	x0 := int(float64(pw)/2 + fit.DX + 0.5)
	y0 := int(float64(ph)/2 + fit.DY + 0.5)
	dst := image.Rect(x0, y0, x0+int(fit.DW+0.5), y0+int(fit.DH+0.5))

	xdraw.ApproxBiLinear.Scale(layer, dst, src, srcBounds, xdraw.Src, nil)
	return layer
}

// composite blends a rendered layer onto the frame with placement, rotation
// about the layer center, uniform opacity, and an optional left-to-right wipe
// reveal.
func (c *Compositor) composite(frame *image.RGBA, layer image.Image, px, py float64, pw, ph int, rotation, opacity, wipeFrac float64) {
	srcRect := image.Rect(0, 0, pw, ph)
	if wipeFrac < 1 {
		visible := int(float64(pw)*wipeFrac + 0.5)
		if visible < 1 {
			return
		}
		srcRect.Max.X = visible
	}

	mask := image.NewUniform(color.Alpha{A: uint8(opacity*255 + 0.5)})

	if rotation == 0 {
		dst := image.Rect(int(px+0.5), int(py+0.5), int(px+0.5)+srcRect.Dx(), int(py+0.5)+ph)
		stddraw.DrawMask(frame, dst, layer, srcRect.Min, mask, image.Point{}, stddraw.Over)
		return
	}

	theta := rotation * math.Pi / 180
	sin, cos := math.Sincos(theta)
	cx := px + float64(pw)/2
	cy := py + float64(ph)/2
	halfW := float64(pw) / 2
	halfH := float64(ph) / 2

	// Source-to-destination affine: move the layer center to the origin,
	// rotate, then translate to the placement center.
	aff := f64.Aff3{
		cos, -sin, cx - cos*halfW + sin*halfH,
		sin, cos, cy - sin*halfW - cos*halfH,
	}

	xdraw.BiLinear.Transform(frame, aff, layer, srcRect, xdraw.Over, &xdraw.Options{
		SrcMask:  mask,
		SrcMaskP: image.Point{},
	})
}

// prop evaluates a keyframed property at elapsed seconds into the clip,
// falling back to the static transform value.
func (c *Compositor) prop(clip *project.Clip, name string, elapsed, def float64) float64 {
	keyframes := clip.Keyframes[name]
	if len(keyframes) == 0 {
		return def
	}
	return anim.Interpolate(keyframes, elapsed, def)
}

// transitionProgress returns the fade multiplier and wipe reveal fraction for
// a clip's start transition at elapsed seconds. Both are 1 outside the
// transition window.
func transitionProgress(clip *project.Clip, elapsed float64) (fadeAlpha, wipeFrac float64) {
	fadeAlpha, wipeFrac = 1, 1
	tr := clip.TransitionIn
	if tr == nil || tr.Duration <= 0 || elapsed >= tr.Duration {
		return
	}

	progress := clamp01(elapsed / tr.Duration)
	switch tr.Type {
	case project.TransitionFade, project.TransitionCrossfade:
		// Crossfade reduces to a fade-in here: the outgoing clip is already
		// composited below this layer.
		fadeAlpha = progress
	case project.TransitionWipe:
		wipeFrac = progress
	}
	return
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

type missingAssetError struct {
	clipID  string
	assetID string
}

func (e *missingAssetError) Error() string {
	return "clip " + e.clipID + " references missing asset " + e.assetID
}

func errMissingAsset(clip *project.Clip) error {
	return &missingAssetError{clipID: clip.ID, assetID: clip.AssetID}
}
