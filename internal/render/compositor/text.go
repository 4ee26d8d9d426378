package compositor

import (
	"image"
	"os"
	"sync"

	"github.com/fogleman/gg"
	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"

	"github.com/tracklight/backend/internal/project"
)

// fontCache loads one TTF and hands out faces per point size. Missing or
// unreadable fonts degrade to a built-in bitmap face so text clips still
// render something legible.
type fontCache struct {
	mu     sync.Mutex
	parsed *opentype.Font
	faces  map[float64]font.Face
	logger *zap.Logger
}

func newFontCache(path string, logger *zap.Logger) *fontCache {
	cache := &fontCache{
		faces:  make(map[float64]font.Face),
		logger: logger,
	}
	if path == "" {
		return cache
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("font file unreadable, using builtin face",
			zap.String("path", path),
			zap.Error(err),
		)
		return cache
	}
	parsed, err := opentype.Parse(data)
	if err != nil {
		logger.Warn("font file unparseable, using builtin face",
			zap.String("path", path),
			zap.Error(err),
		)
		return cache
	}
	cache.parsed = parsed
	return cache
}

func (fc *fontCache) face(size float64) font.Face {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if face, ok := fc.faces[size]; ok {
		return face
	}
	if fc.parsed == nil {
		return basicfont.Face7x13
	}

	face, err := opentype.NewFace(fc.parsed, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		fc.logger.Warn("face creation failed, using builtin face",
			zap.Float64("size", size),
			zap.Error(err),
		)
		return basicfont.Face7x13
	}
	fc.faces[size] = face
	return face
}

// renderText draws a text clip into its layer. Font size scales with the
// layer so the exported frame matches the editor preview at any resolution.
func (c *Compositor) renderText(clip *project.Clip, pw, ph int) (image.Image, error) {
	style := project.DefaultTextStyle()
	if clip.TextStyle != nil {
		style = *clip.TextStyle
	}
	if style.FontSize <= 0 {
		style.FontSize = project.DefaultTextStyle().FontSize
	}
	if style.Color == "" {
		style.Color = project.DefaultTextStyle().Color
	}

	// Preview font sizes are authored against a 1080p canvas.
	scale := float64(c.state.Settings.Height) / 1080
	if scale <= 0 {
		scale = 1
	}

	dc := gg.NewContext(pw, ph)
	dc.SetFontFace(c.fonts.face(style.FontSize * scale))
	dc.SetHexColor(style.Color)

	var align gg.Align
	var anchorX float64
	switch style.Align {
	case "left":
		align = gg.AlignLeft
		anchorX = 0
	case "right":
		align = gg.AlignRight
		anchorX = 1
	default:
		align = gg.AlignCenter
		anchorX = 0.5
	}

	dc.DrawStringWrapped(clip.Content,
		float64(pw)*anchorX, float64(ph)/2,
		anchorX, 0.5,
		float64(pw), 1.4,
		align,
	)
	return dc.Image(), nil
}
