package thumbnail

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/docman-backlog/internal/models"
)

type stubRenderer struct {
	name  string
	err   error
	write bool
	calls int
}

func (s *stubRenderer) Name() string { return s.name }

func (s *stubRenderer) Render(ctx context.Context, src, dst string) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	if s.write {
		return os.WriteFile(dst, []byte("png"), 0644)
	}
	return nil
}

func TestGenerator_Generate(t *testing.T) {
	logger := zap.NewNop()

	t.Run("first renderer that writes output wins", func(t *testing.T) {
		dir := t.TempDir()
		failing := &stubRenderer{name: "a", err: errors.New("boom")}
		silent := &stubRenderer{name: "b"}
		working := &stubRenderer{name: "c", write: true}
		unused := &stubRenderer{name: "d", write: true}
		g := NewGenerator(dir, logger, failing, silent, working, unused)

		name := g.Generate(context.Background(), "/nas/doc.pdf")

		assert.True(t, strings.HasPrefix(name, "auto-"))
		assert.True(t, strings.HasSuffix(name, ".png"))
		assert.FileExists(t, filepath.Join(dir, name))
		assert.Equal(t, 0, unused.calls)
	})

	t.Run("placeholder when every renderer fails", func(t *testing.T) {
		dir := t.TempDir()
		g := NewGenerator(dir, logger, &stubRenderer{name: "a", err: errors.New("boom")})

		assert.Equal(t, models.FallbackThumbnail, g.Generate(context.Background(), "/nas/doc.pdf"))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("names are unique", func(t *testing.T) {
		g := NewGenerator(t.TempDir(), logger, &stubRenderer{name: "a", write: true})
		assert.NotEqual(t, g.Generate(context.Background(), "x"), g.Generate(context.Background(), "x"))
	})
}

type recordingRunner struct {
	args []string
}

func (r *recordingRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.args = append([]string{name}, args...)
	return nil, nil
}

func TestMagickRenderer_Args(t *testing.T) {
	runner := &recordingRunner{}
	r := MagickRenderer{Runner: runner}

	require.NoError(t, r.Render(context.Background(), "/in/a.pdf", "/out/t.png"))
	assert.Equal(t, []string{"convert", "-density", "150", "/in/a.pdf[0]", "-quality", "85", "-resize", "800x", "/out/t.png"}, runner.args)
}

func TestFitzRenderer_Image(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scan.png")

	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for x := 0; x < 40; x++ {
		img.Set(x, 10, color.Black)
	}
	f, err := os.Create(src)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	g := NewGenerator(filepath.Join(dir, "thumbs"), zap.NewNop(), FitzRenderer{Width: 200})
	name := g.Generate(context.Background(), src)

	require.NotEqual(t, models.FallbackThumbnail, name)
	out, err := os.Open(filepath.Join(dir, "thumbs", name))
	require.NoError(t, err)
	defer out.Close()
	cfg, err := png.DecodeConfig(out)
	require.NoError(t, err)
	assert.InDelta(t, 200, cfg.Width, 2)
}

func TestFitzRenderer_Unreadable(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "broken.pdf")
	require.NoError(t, os.WriteFile(src, []byte("not a pdf"), 0644))

	g := NewGenerator(filepath.Join(dir, "thumbs"), zap.NewNop(), FitzRenderer{Width: 800})
	assert.Equal(t, models.FallbackThumbnail, g.Generate(context.Background(), src))
}
