package converter

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Tool names as they appear on PATH
const (
	ToolWkhtmltopdf = "wkhtmltopdf"
	ToolLibreOffice = "libreoffice"
	ToolImageMagick = "convert"
	ToolMsgConvert  = "msgconvert"
	ToolStrings     = "strings"
)

const (
	// annotateLimit bounds the text drawn by the raster fallback
	annotateLimit = 3000

	msgPlaceholderTemplate = "MSG File: %s\n\nThis file could not be automatically converted.\nPlease view the original .msg file in Outlook."
	msgNoTextFallback      = "Could not extract text from MSG file"
)

// Job is the input shared by every strategy of one conversion
type Job struct {
	SourcePath string
	OutputPath string
	ScratchDir string
	// Text and HTMLPath are set before the text rendering chain runs
	Text     string
	HTMLPath string
}

// StrategyResult is the tagged outcome of one strategy attempt
type StrategyResult struct {
	Tool string
	OK   bool
	// Text is the extracted plain text of an extraction strategy
	Text string
	Err  error
}

func succeeded(tool string) StrategyResult { return StrategyResult{Tool: tool, OK: true} }

func failed(tool string, err error) StrategyResult {
	return StrategyResult{Tool: tool, Err: err}
}

// Strategy is one step of a fallback chain. Apply must not panic.
type Strategy interface {
	Name() string
	Apply(ctx context.Context, job Job) StrategyResult
}

type strategyFunc struct {
	name string
	fn   func(ctx context.Context, job Job) StrategyResult
}

func (s strategyFunc) Name() string { return s.name }

func (s strategyFunc) Apply(ctx context.Context, job Job) StrategyResult { return s.fn(ctx, job) }

// runChain applies strategies in order and returns the first success, or the
// last failure when the chain is exhausted.
func runChain(ctx context.Context, chain []Strategy, job Job, onFailure func(StrategyResult)) StrategyResult {
	last := failed("", errors.New("no conversion strategy configured"))
	for _, strategy := range chain {
		if err := ctx.Err(); err != nil {
			return failed(strategy.Name(), err)
		}
		result := strategy.Apply(ctx, job)
		if result.OK {
			return result
		}
		if result.Tool == "" {
			result.Tool = strategy.Name()
		}
		if onFailure != nil {
			onFailure(result)
		}
		last = result
	}
	return last
}

// textRenderChain turns Job.Text/Job.HTMLPath into a PDF at Job.OutputPath
func textRenderChain(runner Runner) []Strategy {
	return []Strategy{
		strategyFunc{name: ToolWkhtmltopdf, fn: func(ctx context.Context, job Job) StrategyResult {
			if _, err := runner.Run(ctx, ToolWkhtmltopdf, "--quiet", "--page-size", "Letter", job.HTMLPath, job.OutputPath); err != nil {
				return failed(ToolWkhtmltopdf, err)
			}
			return verifyOutput(ToolWkhtmltopdf, job.OutputPath)
		}},
		strategyFunc{name: ToolLibreOffice, fn: func(ctx context.Context, job Job) StrategyResult {
			if _, err := runner.Run(ctx, ToolLibreOffice, "--headless", "--convert-to", "pdf", "--outdir", job.ScratchDir, job.HTMLPath); err != nil {
				return failed(ToolLibreOffice, err)
			}
			produced := strings.TrimSuffix(job.HTMLPath, filepath.Ext(job.HTMLPath)) + ".pdf"
			if err := moveFile(produced, job.OutputPath); err != nil {
				return failed(ToolLibreOffice, err)
			}
			return verifyOutput(ToolLibreOffice, job.OutputPath)
		}},
		strategyFunc{name: ToolImageMagick, fn: func(ctx context.Context, job Job) StrategyResult {
			text := truncateRunes(job.Text, annotateLimit)
			_, err := runner.Run(ctx, ToolImageMagick,
				"-size", "612x792", "xc:white",
				"-font", "Courier", "-pointsize", "10",
				"-fill", "black", "-annotate", "+36+36", text,
				job.OutputPath)
			if err != nil {
				return failed(ToolImageMagick, err)
			}
			return verifyOutput(ToolImageMagick, job.OutputPath)
		}},
	}
}

var lettersRun = regexp.MustCompile(`[a-zA-Z]{3,}`)

// msgExtractChain turns an Outlook message into plain text. The last step
// always succeeds so a message never ends the chain without output.
func msgExtractChain(runner Runner) []Strategy {
	return []Strategy{
		strategyFunc{name: ToolMsgConvert, fn: func(ctx context.Context, job Job) StrategyResult {
			eml := filepath.Join(job.ScratchDir, "message.eml")
			if _, err := runner.Run(ctx, ToolMsgConvert, "--outfile", eml, job.SourcePath); err != nil {
				return failed(ToolMsgConvert, err)
			}
			content, err := os.ReadFile(eml)
			if err != nil {
				return failed(ToolMsgConvert, fmt.Errorf("failed to read converted message: %w", err))
			}
			return StrategyResult{Tool: ToolMsgConvert, OK: true, Text: string(content)}
		}},
		strategyFunc{name: ToolStrings, fn: func(ctx context.Context, job Job) StrategyResult {
			out, err := runner.Run(ctx, ToolStrings, "-e", "l", job.SourcePath)
			if err != nil {
				return failed(ToolStrings, err)
			}
			text := FilterReadableLines(string(out))
			if text == "" {
				text = msgNoTextFallback
			}
			return StrategyResult{Tool: ToolStrings, OK: true, Text: text}
		}},
		strategyFunc{name: "placeholder", fn: func(ctx context.Context, job Job) StrategyResult {
			return StrategyResult{Tool: "placeholder", OK: true, Text: fmt.Sprintf(msgPlaceholderTemplate, job.SourcePath)}
		}},
	}
}

// imageChain converts a HEIC photo; failure is terminal
func imageChain(runner Runner) []Strategy {
	return []Strategy{
		strategyFunc{name: ToolImageMagick, fn: func(ctx context.Context, job Job) StrategyResult {
			if _, err := runner.Run(ctx, ToolImageMagick, job.SourcePath, job.OutputPath); err != nil {
				return failed(ToolImageMagick, err)
			}
			return verifyOutput(ToolImageMagick, job.OutputPath)
		}},
	}
}

// FilterReadableLines drops binary noise from a strings(1) dump, keeping
// lines longer than three characters with at least three consecutive letters.
func FilterReadableLines(dump string) string {
	var kept []string
	for _, line := range strings.Split(dump, "\n") {
		if len(line) > 3 && lettersRun.MatchString(line) {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// WrapHTML renders text as a minimal monospace HTML page
func WrapHTML(text string) string {
	return `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <style>
    body {
      font-family: 'Courier New', monospace;
      font-size: 12px;
      line-height: 1.4;
      padding: 20px;
      white-space: pre-wrap;
      word-wrap: break-word;
    }
  </style>
</head>
<body>
` + html.EscapeString(text) + `
</body>
</html>`
}

func verifyOutput(tool, path string) StrategyResult {
	info, err := os.Stat(path)
	if err != nil {
		return failed(tool, fmt.Errorf("%s produced no output: %w", tool, err))
	}
	if info.Size() == 0 {
		return failed(tool, fmt.Errorf("%s produced an empty file", tool))
	}
	return succeeded(tool)
}

// moveFile renames src to dst, copying when they live on different devices
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", dst, err)
	}
	return os.Remove(src)
}
