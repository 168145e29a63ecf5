package classifier

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// maxTextBytes bounds how much of a document is read for classification
const maxTextBytes = 64 * 1024

// ExtractText returns the plain text of a PDF or text file. Other formats
// (scanned images, outlook messages) yield an empty string and no error.
func ExtractText(path string) (string, error) {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "pdf":
		return extractPDF(path)
	case "txt":
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("failed to open text file: %w", err)
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, maxTextBytes))
		if err != nil {
			return "", fmt.Errorf("failed to read text file: %w", err)
		}
		return string(data), nil
	}
	return "", nil
}

func extractPDF(path string) (string, error) {
	f, doc, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for page := 1; page <= doc.NumPage() && b.Len() < maxTextBytes; page++ {
		p := doc.Page(page)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("failed to read page %d: %w", page, err)
		}
		b.WriteString(content)
		b.WriteString("\n")
	}
	return b.String(), nil
}
