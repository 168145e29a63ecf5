package thumbnail

import (
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"

	"github.com/gen2brain/go-fitz"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/docman-backlog/internal/models"
)

// Renderer writes a PNG preview of the first page of src to dst
type Renderer interface {
	Name() string
	Render(ctx context.Context, src, dst string) error
}

// Generator produces review thumbnails. Generation is best effort: when every
// renderer fails the shared placeholder name is returned.
type Generator struct {
	dir       string
	renderers []Renderer
	logger    *zap.Logger
}

// NewGenerator creates a new Generator writing into dir
func NewGenerator(dir string, logger *zap.Logger, renderers ...Renderer) *Generator {
	return &Generator{
		dir:       dir,
		renderers: renderers,
		logger:    logger,
	}
}

// Generate returns the thumbnail file name relative to the thumbnails directory
func (g *Generator) Generate(ctx context.Context, path string) string {
	if err := os.MkdirAll(g.dir, 0755); err != nil {
		g.logger.Warn("Failed to create thumbnails directory", zap.String("dir", g.dir), zap.Error(err))
		return models.FallbackThumbnail
	}

	name := "auto-" + uuid.NewString() + ".png"
	dst := filepath.Join(g.dir, name)

	for _, r := range g.renderers {
		if ctx.Err() != nil {
			break
		}
		err := r.Render(ctx, path, dst)
		if err == nil {
			if info, statErr := os.Stat(dst); statErr == nil && info.Size() > 0 {
				g.logger.Debug("Generated thumbnail",
					zap.String("file", path),
					zap.String("thumbnail", name),
					zap.String("renderer", r.Name()))
				return name
			}
			err = fmt.Errorf("renderer produced no output")
		}
		os.Remove(dst)
		g.logger.Debug("Thumbnail renderer failed",
			zap.String("file", path),
			zap.String("renderer", r.Name()),
			zap.Error(err))
	}

	g.logger.Warn("Thumbnail generation failed, using placeholder", zap.String("file", path))
	return models.FallbackThumbnail
}

// FitzRenderer rasterizes the first page with MuPDF. It reads PDFs and the
// common image formats.
type FitzRenderer struct {
	// Width is the target pixel width of the thumbnail
	Width int
}

// Name returns the renderer name
func (r FitzRenderer) Name() string { return "mupdf" }

// Render draws page 0 scaled to Width pixels wide
func (r FitzRenderer) Render(ctx context.Context, src, dst string) error {
	doc, err := fitz.New(src)
	if err != nil {
		return fmt.Errorf("failed to open document: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return fmt.Errorf("document has no pages")
	}

	bound, err := doc.Bound(0)
	if err != nil {
		return fmt.Errorf("failed to read page bounds: %w", err)
	}

	// bounds are in points at 72 DPI
	dpi := 150.0
	if r.Width > 0 && bound.Dx() > 0 {
		dpi = float64(r.Width) * 72 / float64(bound.Dx())
	}

	img, err := doc.ImageDPI(0, dpi)
	if err != nil {
		return fmt.Errorf("failed to render page: %w", err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create thumbnail: %w", err)
	}
	if err := png.Encode(out, img); err != nil {
		out.Close()
		return fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return out.Close()
}

// commandRunner matches converter.Runner
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// MagickRenderer shells out to ImageMagick for formats MuPDF cannot read
type MagickRenderer struct {
	Runner commandRunner
	Width  int
}

// Name returns the renderer name
func (r MagickRenderer) Name() string { return "imagemagick" }

// Render runs convert -density 150 src[0] -quality 85 -resize <width>x dst
func (r MagickRenderer) Render(ctx context.Context, src, dst string) error {
	width := r.Width
	if width <= 0 {
		width = 800
	}
	_, err := r.Runner.Run(ctx, "convert",
		"-density", "150",
		src+"[0]",
		"-quality", "85",
		"-resize", fmt.Sprintf("%dx", width),
		dst)
	return err
}
