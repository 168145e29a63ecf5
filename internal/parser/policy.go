package parser

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy holds the naming heuristics the parser applies. Pattern order is
// priority order: the first policy pattern that matches wins.
type Policy struct {
	PolicyPatterns []string          `yaml:"policy_patterns"`
	DocTypePattern string            `yaml:"doc_type_pattern"`
	DocTypeLabels  map[string]string `yaml:"doc_type_labels"`
	DatePattern    string            `yaml:"date_pattern"`
	// CenturyPivot is the highest two-digit year mapped to 20xx; later years map to 19xx
	CenturyPivot int `yaml:"century_pivot"`
}

// DefaultPolicy returns the naming conventions used by the scanning desk
func DefaultPolicy() Policy {
	return Policy{
		PolicyPatterns: []string{
			// GALIMO0001862, GATAXI0002309, GALC0001624
			`^(GALIMO\d{7})`,
			`^(GATAXI\d{7})`,
			`^(GALC\d{7})`,
			// gal0086, ca12135, ca6116
			`^(gal\d{4})`,
			`^(ca\d{4,5})`,
			// 8789-GALC-1234
			`^(\d{4}-[A-Z]{2,4}-\d{4})`,
		},
		DocTypePattern: `(endo|mvr|coi|noloss|drv|frt|pass|rear|vin|dl|pics?|forme|vehreg|canc(?:el)?|appr?|claim|corr|letter|auth|bill|certcomp|chargeback|bidem|buslic|aceoff|addrchg|autodec|log)(\d)?`,
		DocTypeLabels: map[string]string{
			"endo":       "Endorsement",
			"mvr":        "MVR",
			"coi":        "CERT OF LIABILITY",
			"noloss":     "NO LOSS",
			"drv":        "Vehicle Picture",
			"frt":        "Vehicle Picture",
			"pass":       "Vehicle Picture",
			"rear":       "Vehicle Picture",
			"vin":        "Vehicle Picture",
			"dl":         "MVR",
			"pic":        "Vehicle Picture",
			"pics":       "Vehicle Picture",
			"forme":      "AUTHORIZATION",
			"vehreg":     "Vehicle Picture",
			"canc":       "Cancellation notice",
			"cancel":     "Cancellation notice",
			"app":        "Appraisal",
			"appr":       "Appraisal",
			"claim":      "CLAIM FILE",
			"corr":       "Correspondence",
			"letter":     "AGENCY LETTER",
			"auth":       "AUTHORIZATION",
			"bill":       "Bill of Sale",
			"certcomp":   "CERTIFICATE OF COMPLETION",
			"chargeback": "CHARGE BACK",
			"bidem":      "BI Demand",
			"buslic":     "BUSINESS LICENSE",
			"aceoff":     "ACE Offer",
			"addrchg":    "ADDRESS CHANGE",
			"autodec":    "AUTO DECLARATION",
			"log":        "Letter of Guarantee",
		},
		DatePattern:  `(\d{6})\.[a-z0-9]+$`,
		CenturyPivot: 30,
	}
}

// LoadPolicy reads a YAML policy file. Missing keys keep their default values.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()

	data, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}

	var file Policy
	file.CenturyPivot = -1
	if err := yaml.Unmarshal(data, &file); err != nil {
		return policy, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}

	if len(file.PolicyPatterns) > 0 {
		policy.PolicyPatterns = file.PolicyPatterns
	}
	if file.DocTypePattern != "" {
		policy.DocTypePattern = file.DocTypePattern
	}
	if len(file.DocTypeLabels) > 0 {
		policy.DocTypeLabels = file.DocTypeLabels
	}
	if file.DatePattern != "" {
		policy.DatePattern = file.DatePattern
	}
	if file.CenturyPivot >= 0 {
		policy.CenturyPivot = file.CenturyPivot
	}

	if err := policy.Validate(); err != nil {
		return policy, err
	}
	return policy, nil
}

// Validate checks that every pattern compiles and the pivot is a two-digit year
func (p Policy) Validate() error {
	if len(p.PolicyPatterns) == 0 {
		return fmt.Errorf("policy must define at least one policy pattern")
	}
	if p.CenturyPivot < 0 || p.CenturyPivot > 99 {
		return fmt.Errorf("century_pivot must be between 0 and 99, got %d", p.CenturyPivot)
	}
	_, err := p.compile()
	return err
}

// compiledPolicy is a Policy with its expressions compiled case-insensitively
type compiledPolicy struct {
	policyPatterns []*regexp.Regexp
	docType        *regexp.Regexp
	date           *regexp.Regexp
	labels         map[string]string
	pivot          int
}

func (p Policy) compile() (*compiledPolicy, error) {
	c := &compiledPolicy{
		labels: make(map[string]string, len(p.DocTypeLabels)),
		pivot:  p.CenturyPivot,
	}

	for _, pattern := range p.PolicyPatterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid policy pattern %q: %w", pattern, err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("policy pattern %q must capture the policy number", pattern)
		}
		c.policyPatterns = append(c.policyPatterns, re)
	}

	var err error
	if c.docType, err = regexp.Compile("(?i)" + p.DocTypePattern); err != nil {
		return nil, fmt.Errorf("invalid doc type pattern: %w", err)
	}
	if c.date, err = regexp.Compile("(?i)" + p.DatePattern); err != nil {
		return nil, fmt.Errorf("invalid date pattern: %w", err)
	}

	for code, label := range p.DocTypeLabels {
		c.labels[strings.ToLower(code)] = label
	}
	return c, nil
}
