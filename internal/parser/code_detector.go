package parser

import (
	"regexp"
	"strings"

	"github.com/mixelka/mailchat/pkg/models"
)

// CodeDetector finds one-time codes in mail bodies so they can be offered as buttons
type CodeDetector struct {
	patterns []codePattern
}

type codePattern struct {
	kind  string
	regex *regexp.Regexp
}

// NewCodeDetector creates a new code detector
func NewCodeDetector() *CodeDetector {
	return &CodeDetector{
		patterns: []codePattern{
			{"otp", regexp.MustCompile(`(?i)\b(?:code|otp|pin|passcode)\b(?:\s+is)?[\s:\-]*(\d{4,8})\b`)},
			{"verification", regexp.MustCompile(`(?i)\b(?:verification|verify|confirm(?:ation)?|activation)\b[\s\w]{0,20}?[\s:\-]+(\d{4,8})\b`)},
			{"code", regexp.MustCompile(`(?m)^\s*(\d{4,8})\s*$`)},
			{"code", regexp.MustCompile(`\b(?:code|CODE|Code)(?:\s+is)?[\s:\-]+([A-Z0-9]{6,12})\b`)},
			{"security", regexp.MustCompile(`(?i)\b(?:security|2fa|two.factor)\b[\s\w]{0,20}?[\s:\-]+(\d{4,8})\b`)},
		},
	}
}

// DetectCodes returns distinct codes in order of pattern priority
func (d *CodeDetector) DetectCodes(text string) []models.DetectedCode {
	var codes []models.DetectedCode
	seen := make(map[string]bool)

	for _, pattern := range d.patterns {
		for _, match := range pattern.regex.FindAllStringSubmatch(text, -1) {
			if len(match) < 2 {
				continue
			}
			code := strings.TrimSpace(match[1])
			if seen[code] || len(code) < 4 || !hasDigit(code) {
				continue
			}
			seen[code] = true
			codes = append(codes, models.DetectedCode{Type: pattern.kind, Value: code})
		}
	}

	return codes
}

func hasDigit(s string) bool {
	return strings.ContainsAny(s, "0123456789")
}
