package classifier

import (
	"fmt"
	"strings"

	"github.com/garyjia/docman-backlog/internal/models"
)

// SourceRules marks hints produced by keyword matching
const SourceRules = "rules"

type keywordRule struct {
	keywords   []string
	docType    string
	confidence int
}

// Checked in order; the first keyword found in the filename or text wins
var keywordRules = []keywordRule{
	{[]string{"endo", "endorsement"}, "Endorsement", 80},
	{[]string{"mvr", "motor vehicle"}, "MVR", 85},
	{[]string{"appraisal", "estimate"}, "Appraisal", 75},
	{[]string{"claim file", "claim"}, "CLAIM FILE", 70},
	{[]string{"certificate", "cert of"}, "CERT OF LIABILITY", 75},
	{[]string{"letter of guarantee", "log"}, "Letter of Guarantee", 80},
	{[]string{"correspondence", "letter"}, "Correspondence", 60},
	{[]string{"cancel"}, "Cancellation notice", 70},
	{[]string{"payment", "check"}, "Claim Payment Request", 65},
}

// ClassifyByRules matches known keywords against the filename and text.
// ok is false when no keyword matched.
func ClassifyByRules(text, filename string) (models.ClassificationHint, bool) {
	haystack := strings.ToLower(filename + " " + text)

	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(haystack, kw) {
				return models.ClassificationHint{
					DocumentType: rule.docType,
					Confidence:   rule.confidence,
					Notes:        fmt.Sprintf("Matched keyword: %s", kw),
					Source:       SourceRules,
				}, true
			}
		}
	}
	return models.ClassificationHint{}, false
}

// DocumentTypes are the review types the AI may choose from
var DocumentTypes = []string{
	"ACE Offer",
	"ADDRESS CHANGE",
	"AGENCY LETTER",
	"Ace Review",
	"Appraisal",
	"Appraisal request",
	"Appraisal invoice",
	"AUTHORIZATION",
	"AUTO DECLARATION",
	"BI Demand",
	"BI Evaluation",
	"BI offer letter",
	"BUSINESS LICENSE",
	"Bill of Sale",
	"CERT OF LIABILITY",
	"CERTIFICATE OF COMPLETION",
	"CERTIFICATE OF LIABILITY REQUEST",
	"CHARGE BACK",
	"CLAIM FILE",
	"COURT LETTER",
	"Cancelation Request",
	"Cancellation notice",
	"Cancellation request",
	"Change Request",
	"Check Image",
	"Claim Payment Request - Appraisal",
	"Claim Payment Request - BI",
	"Claim Payment Request - Investigation Fee",
	"Claim Payment Request - Property Damage",
	"Claim payment request-Legal Fees",
	"Claimant estimate",
	"Claimant's Documents",
	"Correspondence",
	"Endorsement",
	"Letter of Guarantee",
	"MVR",
}
