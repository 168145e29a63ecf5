package utils

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	dailyFolderRegex = regexp.MustCompile(`^\d{2}-\d{2}-\d{4}$`)
	controlCharRegex = regexp.MustCompile(`[\x00-\x1f\x7f]`)
)

// IsDailyFolderName reports whether name follows the MM-DD-YYYY folder convention
func IsDailyFolderName(name string) bool {
	return dailyFolderRegex.MatchString(name)
}

// ValidateYear checks that a configured processing year is a plausible four digit year
func ValidateYear(year int) error {
	if year < 1900 || year > time.Now().Year()+1 {
		return fmt.Errorf("year out of range: %d", year)
	}
	return nil
}

// ValidateConfidence validates a confidence score on the 0-100 scale
func ValidateConfidence(confidence int) error {
	if confidence < 0 || confidence > 100 {
		return fmt.Errorf("confidence must be between 0 and 100: %d", confidence)
	}
	return nil
}

// SanitizeString removes control characters from free text
func SanitizeString(s string) string {
	return controlCharRegex.ReplaceAllString(s, "")
}

// SanitizeCSVField flattens free text so it can sit in one comma separated cell
func SanitizeCSVField(s string) string {
	s = SanitizeString(strings.ReplaceAll(s, "\n", " "))
	return strings.ReplaceAll(s, ",", ";")
}
