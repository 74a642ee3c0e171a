package utils

import (
	"strings"
)

// NormalizeISBN strips the separators commonly typed into ISBN fields.
func NormalizeISBN(s string) string {
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return strings.ToUpper(s)
}

// ValidateISBN checks an ISBN-10 or ISBN-13 checksum. Empty input is
// accepted; the field is optional on books.
func ValidateISBN(s string) bool {
	s = NormalizeISBN(s)
	switch len(s) {
	case 0:
		return true
	case 10:
		return validateISBN10(s)
	case 13:
		return validateISBN13(s)
	default:
		return false
	}
}

// validateISBN10 checks the weighted mod-11 checksum. The final
// position may be 'X', standing for 10.
func validateISBN10(s string) bool {
	sum := 0
	for i, r := range s {
		var v int
		switch {
		case r >= '0' && r <= '9':
			v = int(r - '0')
		case r == 'X' && i == 9:
			v = 10
		default:
			return false
		}
		sum += (10 - i) * v
	}
	return sum%11 == 0
}

// validateISBN13 checks the EAN-13 alternating 1/3 weight checksum.
func validateISBN13(s string) bool {
	sum := 0
	for i, r := range s {
		if r < '0' || r > '9' {
			return false
		}
		v := int(r - '0')
		if i%2 == 1 {
			v *= 3
		}
		sum += v
	}
	return sum%10 == 0
}
