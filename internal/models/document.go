package models

// ParsedFilename holds the fields derived from a scanned document's filename.
// ParseSuccess is true exactly when PolicyNumber is set.
type ParsedFilename struct {
	Original          string  `json:"original"`
	PolicyNumber      *string `json:"policyNumber"`
	DocumentType      *string `json:"documentType"`
	DocumentTypeLabel *string `json:"documentTypeLabel"`
	SeriesNumber      *string `json:"seriesNumber"`
	DateCode          *string `json:"dateCode"`
	DateFormatted     *string `json:"dateFormatted"` // YYYY-MM-DD
	Extension         string  `json:"extension"`
	ParseSuccess      bool    `json:"parseSuccess"`
	ParseError        string  `json:"parseError,omitempty"`
}

// Policy returns the policy number or an empty string
func (p ParsedFilename) Policy() string {
	return deref(p.PolicyNumber)
}

// TypeCode returns the raw document type code or an empty string
func (p ParsedFilename) TypeCode() string {
	return deref(p.DocumentType)
}

// TypeLabel returns the document type label or an empty string
func (p ParsedFilename) TypeLabel() string {
	return deref(p.DocumentTypeLabel)
}

// Date returns the normalized date or an empty string
func (p ParsedFilename) Date() string {
	return deref(p.DateFormatted)
}

// Code returns the raw MMDDYY date code or an empty string
func (p ParsedFilename) Code() string {
	return deref(p.DateCode)
}

// DuplicateCheckResult reports whether a document already exists in storage or the catalog
type DuplicateCheckResult struct {
	IsDuplicate        bool   `json:"isDuplicate"`
	ExistsInFilesystem bool   `json:"existsInFilesystem"`
	ExistsInDatabase   bool   `json:"existsInDatabase"`
	ExistingFID        int64  `json:"existingFid,omitempty"`
	ExistingPath       string `json:"existingPath,omitempty"`
	Message            string `json:"message"`
}

// DuplicateQuery carries the optional parsed metadata passed alongside a filename
type DuplicateQuery struct {
	Filename     string
	PolicyNumber string
	DocumentType string
	DateCode     string
}

// ConversionResult is the outcome of normalizing a file to a DMS friendly format.
// When Success is false OutputPath equals OriginalPath.
type ConversionResult struct {
	Success       bool   `json:"success"`
	OutputPath    string `json:"outputPath"`
	OriginalPath  string `json:"originalPath"`
	ConvertedFrom string `json:"convertedFrom"`
	Tool          string `json:"tool,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Converted reports whether a new file distinct from the source was produced
func (c *ConversionResult) Converted() bool {
	return c != nil && c.Success && c.OutputPath != c.OriginalPath
}

// Document type values written for files that need manual review
const (
	NeedsReviewType   = "AUTOMATED - Needs Review"
	UnknownPolicy     = "UNKNOWN"
	UnknownValue      = "Unknown"
	FullConfidence    = 100
	NoConfidence      = 0
	FallbackThumbnail = "deadbeef.png"
)

// DocumentSubmission is one document handed to the record store
type DocumentSubmission struct {
	Filename      string
	PolicyNumber  string
	DocumentType  string
	SuggestedType string
	Confidence    int // 0-100
	Client        string
	ThumbnailPath string
	FilePath      string // storage URI, e.g. public://Documents/x.pdf
	FileSize      int64
	MimeType      string
}

// ClassificationHint is a best-effort document type suggestion from OCR/AI
type ClassificationHint struct {
	DocumentType string `json:"documentType"`
	Confidence   int    `json:"confidence"`
	Client       string `json:"client,omitempty"`
	Notes        string `json:"notes,omitempty"`
	Source       string `json:"source"` // openai or rules
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
