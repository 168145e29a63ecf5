package converter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/docman-backlog/internal/models"
)

// Converter normalizes msg, txt and heic files into formats the DMS can
// display. Tools are optional host dependencies; a missing tool only degrades
// the conversion of the affected file.
type Converter struct {
	runner     Runner
	scratchDir string
	logger     *zap.Logger
}

// NewConverter creates a new Converter. Scratch files live in per-conversion
// directories under scratchDir (the OS temp dir when empty).
func NewConverter(runner Runner, scratchDir string, logger *zap.Logger) *Converter {
	if scratchDir == "" {
		scratchDir = filepath.Join(os.TempDir(), "dms-convert")
	}
	return &Converter{
		runner:     runner,
		scratchDir: scratchDir,
		logger:     logger,
	}
}

// NeedsConversion reports whether files with this extension are converted
func NeedsConversion(ext string) bool {
	switch strings.ToLower(ext) {
	case "msg", "txt", "heic":
		return true
	}
	return false
}

// Convert never returns an error; on failure OutputPath is the input path
func (c *Converter) Convert(ctx context.Context, inputPath, outputDir string) models.ConversionResult {
	filename := filepath.Base(inputPath)
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	result := models.ConversionResult{
		Success:       true,
		OutputPath:    inputPath,
		OriginalPath:  inputPath,
		ConvertedFrom: ext,
	}
	if !NeedsConversion(ext) {
		return result
	}

	targetExt := "pdf"
	if ext == "heic" {
		targetExt = "jpg"
	}
	outputPath := filepath.Join(outputDir, base+"."+targetExt)

	fail := func(err error) models.ConversionResult {
		c.logger.Warn("Conversion failed, keeping original file",
			zap.String("file", inputPath),
			zap.String("from", ext),
			zap.Error(err))
		result.Success = false
		result.OutputPath = inputPath
		result.Error = fmt.Sprintf("Conversion from %s failed: %v", ext, err)
		return result
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fail(fmt.Errorf("failed to create output directory: %w", err))
	}
	if err := os.MkdirAll(c.scratchDir, 0755); err != nil {
		return fail(fmt.Errorf("failed to create scratch directory: %w", err))
	}
	scratch, err := os.MkdirTemp(c.scratchDir, "convert-*")
	if err != nil {
		return fail(fmt.Errorf("failed to create scratch directory: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			c.logger.Warn("Failed to remove scratch directory", zap.String("dir", scratch), zap.Error(err))
		}
	}()

	job := Job{SourcePath: inputPath, OutputPath: outputPath, ScratchDir: scratch}

	var outcome StrategyResult
	switch ext {
	case "txt":
		content, err := os.ReadFile(inputPath)
		if err != nil {
			return fail(fmt.Errorf("failed to read text file: %w", err))
		}
		outcome = c.renderText(ctx, job, string(content))
	case "msg":
		extracted := runChain(ctx, msgExtractChain(c.runner), job, c.logFailure(inputPath))
		if !extracted.OK {
			return fail(extracted.Err)
		}
		c.logger.Debug("Extracted message text",
			zap.String("file", inputPath),
			zap.String("tool", extracted.Tool))
		outcome = c.renderText(ctx, job, extracted.Text)
	case "heic":
		outcome = runChain(ctx, imageChain(c.runner), job, c.logFailure(inputPath))
	}

	if !outcome.OK {
		os.Remove(outputPath)
		return fail(outcome.Err)
	}

	c.logger.Info("Converted file",
		zap.String("file", inputPath),
		zap.String("output", outputPath),
		zap.String("tool", outcome.Tool))

	result.OutputPath = outputPath
	result.Tool = outcome.Tool
	return result
}

// renderText writes the HTML wrapper into the job scratch dir and runs the text chain
func (c *Converter) renderText(ctx context.Context, job Job, text string) StrategyResult {
	job.Text = text
	job.HTMLPath = filepath.Join(job.ScratchDir, "document.html")
	if err := os.WriteFile(job.HTMLPath, []byte(WrapHTML(text)), 0644); err != nil {
		return failed("", fmt.Errorf("failed to write html wrapper: %w", err))
	}
	return runChain(ctx, textRenderChain(c.runner), job, c.logFailure(job.SourcePath))
}

func (c *Converter) logFailure(file string) func(StrategyResult) {
	return func(r StrategyResult) {
		c.logger.Debug("Conversion strategy failed, trying next",
			zap.String("file", file),
			zap.String("tool", r.Tool),
			zap.Error(r.Err))
	}
}

// ToolStatus reports which optional tools are installed
type ToolStatus struct {
	Wkhtmltopdf bool `json:"wkhtmltopdf"`
	LibreOffice bool `json:"libreoffice"`
	ImageMagick bool `json:"imagemagick"`
	MsgConvert  bool `json:"msgconvert"`
}

// Missing lists the tools that were not found
func (s ToolStatus) Missing() []string {
	tools := []struct {
		name string
		ok   bool
	}{
		{ToolWkhtmltopdf, s.Wkhtmltopdf},
		{ToolLibreOffice, s.LibreOffice},
		{ToolImageMagick, s.ImageMagick},
		{ToolMsgConvert, s.MsgConvert},
	}

	var missing []string
	for _, tool := range tools {
		if !tool.ok {
			missing = append(missing, tool.name)
		}
	}
	return missing
}

// ProbeTools looks every optional tool up on PATH
func (c *Converter) ProbeTools(ctx context.Context) ToolStatus {
	has := func(name string) bool {
		if ctx.Err() != nil {
			return false
		}
		_, err := c.runner.LookPath(name)
		return err == nil
	}

	status := ToolStatus{
		Wkhtmltopdf: has(ToolWkhtmltopdf),
		LibreOffice: has(ToolLibreOffice),
		ImageMagick: has(ToolImageMagick),
		MsgConvert:  has(ToolMsgConvert),
	}

	c.logger.Info("Conversion tools",
		zap.Bool("wkhtmltopdf", status.Wkhtmltopdf),
		zap.Bool("libreoffice", status.LibreOffice),
		zap.Bool("imagemagick", status.ImageMagick),
		zap.Bool("msgconvert", status.MsgConvert))

	return status
}
