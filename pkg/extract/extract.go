// Package extract pulls the contract phone number out of recognized text.
// It looks for the "Sözleşme-5XXXXXXXXX" label first and falls back to any
// ten-digit number starting with 5 in the digit stream.
package extract

import (
	"regexp"
	"strings"

	"github.com/bkose/ocr-relay/pkg/ocr"
)

var (
	// The label is frequently misread: the ş may come through as s and the
	// dash as any unicode hyphen.
	contractPattern = regexp.MustCompile(`[Ss]özle[sş]me[-‐–—]?\s*(\d{10})`)
	fallbackPattern = regexp.MustCompile(`5\d{9}`)
	nonDigits       = regexp.MustCompile(`[^0-9]`)
)

// ContractNumber extracts the contract phone number from OCR fragments.
// It returns the number and a confidence score; an empty number with zero
// confidence means nothing was found, which is not an error.
func ContractNumber(fragments []ocr.Fragment) (string, float64) {
	texts := make([]string, 0, len(fragments))
	for _, f := range fragments {
		texts = append(texts, f.Text)
	}
	fullText := strings.Join(texts, " ")

	if m := contractPattern.FindStringSubmatch(fullText); m != nil {
		number := m[1]
		if strings.HasPrefix(number, "5") {
			// Score of the fragment the number came from, if we can find it.
			for _, f := range fragments {
				if strings.Contains(f.Text, number) || strings.Contains(f.Text, "Sözle") {
					return number, f.Confidence
				}
			}
			return number, 0.99
		}
	}

	// Fallback: collapse everything to digits and look for a 5XXXXXXXXX run.
	cleanText := nonDigits.ReplaceAllString(fullText, "")
	if number := fallbackPattern.FindString(cleanText); number != "" {
		maxScore := 0.0
		for _, f := range fragments {
			if f.Confidence > maxScore {
				maxScore = f.Confidence
			}
		}
		return number, maxScore
	}

	return "", 0.0
}

// FormatNumber renders a raw ten-digit number in the national
// "0535 631 48 48" form, or with the +90 country code.
func FormatNumber(number string, withCountryCode bool) string {
	if len(number) != 10 {
		return number
	}
	formatted := number[0:3] + " " + number[3:6] + " " + number[6:8] + " " + number[8:10]
	if withCountryCode {
		return "+90 " + formatted
	}
	return "0" + formatted
}
