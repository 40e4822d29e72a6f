package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	riskIDRegex      = regexp.MustCompile(`^RISK-[0-9]{3,}$`)
	controlCharRegex = regexp.MustCompile(`[\x00-\x08\x0b-\x1f\x7f]`)
)

// ValidateRiskID validates a risk identifier such as RISK-010
func ValidateRiskID(riskID string) error {
	if !riskIDRegex.MatchString(riskID) {
		return fmt.Errorf("invalid risk id format: %q", riskID)
	}
	return nil
}

// NormalizeRiskID upper-cases and trims a risk id typed by a user
func NormalizeRiskID(riskID string) string {
	return strings.ToUpper(strings.TrimSpace(riskID))
}

// SanitizeString removes control characters other than tab and newline
func SanitizeString(s string) string {
	return controlCharRegex.ReplaceAllString(s, "")
}

// SplitList splits a comma separated flag or header value, dropping blanks
func SplitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
