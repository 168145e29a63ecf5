package parser

import (
	"regexp"
	"strings"

	"github.com/garyjia/docman-backlog/internal/models"
)

// ErrNoPolicyNumber is the parse error recorded when no policy pattern matches
const ErrNoPolicyNumber = "Could not extract policy number from filename"

var (
	extensionPattern = regexp.MustCompile(`(?i)\.([a-z0-9]+)$`)
	trailingSuffix   = regexp.MustCompile(`\.[^.]+$`)
)

// Parser extracts policy number, document type, series and date from
// filenames like ca12135endo060225.pdf or GALIMO0001811mvr2060225.jpeg.
// A Parser is immutable and safe for concurrent use.
type Parser struct {
	policy *compiledPolicy
}

// NewParser creates a new Parser for the given naming policy
func NewParser(policy Policy) (*Parser, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	compiled, err := policy.compile()
	if err != nil {
		return nil, err
	}
	return &Parser{policy: compiled}, nil
}

// Default returns a Parser using DefaultPolicy
func Default() *Parser {
	p, err := NewParser(DefaultPolicy())
	if err != nil {
		panic("parser: default policy does not compile: " + err.Error())
	}
	return p
}

// Parse never fails; ParseSuccess reports whether a policy number was found
func (p *Parser) Parse(filename string) models.ParsedFilename {
	result := models.ParsedFilename{Original: filename}

	if m := extensionPattern.FindStringSubmatch(filename); m != nil {
		result.Extension = strings.ToLower(m[1])
	}

	nameOnly := trailingSuffix.ReplaceAllString(filename, "")

	remaining := nameOnly
	for _, re := range p.policy.policyPatterns {
		m := re.FindStringSubmatch(nameOnly)
		if m == nil {
			continue
		}
		policy := strings.ToUpper(m[1])
		result.PolicyNumber = &policy
		remaining = nameOnly[len(m[1]):]
		break
	}

	dateStart, dateEnd := -1, -1
	if m := p.policy.date.FindStringSubmatchIndex(filename); len(m) > 3 && m[2] >= 0 {
		dateStart, dateEnd = m[2], m[3]
		code := filename[dateStart:dateEnd]
		result.DateCode = &code
		if formatted, ok := p.formatDate(code); ok {
			result.DateFormatted = &formatted
		}
	}

	if m := p.policy.docType.FindStringSubmatchIndex(remaining); len(m) > 3 && m[2] >= 0 {
		code := strings.ToLower(remaining[m[2]:m[3]])
		label, ok := p.policy.labels[code]
		if !ok {
			label = strings.ToUpper(code)
		}
		result.DocumentType = &code
		result.DocumentTypeLabel = &label

		// A digit right after the type code is a series number unless it
		// is the first digit of the date code (ca12135endo060225).
		if len(m) > 5 && m[4] >= 0 {
			offset := len(nameOnly) - len(remaining) + m[4]
			if offset < dateStart || offset >= dateEnd {
				series := remaining[m[4]:m[5]]
				result.SeriesNumber = &series
			}
		}
	}

	if result.PolicyNumber != nil {
		result.ParseSuccess = true
	} else {
		result.ParseError = ErrNoPolicyNumber
	}

	return result
}

// formatDate turns MMDDYY into YYYY-MM-DD without calendar validation,
// so 957512 becomes 2012-95-75.
func (p *Parser) formatDate(code string) (string, bool) {
	if len(code) != 6 {
		return "", false
	}
	mm, dd, yy := code[0:2], code[2:4], code[4:6]

	year := int(yy[0]-'0')*10 + int(yy[1]-'0')
	century := "19"
	if year <= p.policy.pivot {
		century = "20"
	}
	return century + yy + "-" + mm + "-" + dd, true
}

// StorageFilename rebuilds the canonical lowercase name of a parsed document.
// Unparsed documents keep their original name.
func StorageFilename(parsed models.ParsedFilename) string {
	if parsed.PolicyNumber == nil {
		return parsed.Original
	}

	var b strings.Builder
	b.WriteString(strings.ToLower(*parsed.PolicyNumber))
	b.WriteString(parsed.TypeCode())
	if parsed.SeriesNumber != nil {
		b.WriteString(*parsed.SeriesNumber)
	}
	b.WriteString(parsed.Code())

	ext := parsed.Extension
	if ext == "" {
		ext = "pdf"
	}
	b.WriteString(".")
	b.WriteString(ext)
	return b.String()
}

// ParseAll parses every filename in order
func (p *Parser) ParseAll(filenames []string) []models.ParsedFilename {
	results := make([]models.ParsedFilename, 0, len(filenames))
	for _, name := range filenames {
		results = append(results, p.Parse(name))
	}
	return results
}
