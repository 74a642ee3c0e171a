package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateISBN(t *testing.T) {
	tests := []struct {
		name string
		isbn string
		want bool
	}{
		{"empty is accepted", "", true},
		{"isbn10 valid", "0306406152", true},
		{"isbn10 with hyphens", "0-306-40615-2", true},
		{"isbn10 X check digit", "097522980X", true},
		{"isbn10 bad checksum", "0306406153", false},
		{"isbn10 X not last", "09X7522980", false},
		{"isbn13 valid", "9780306406157", true},
		{"isbn13 with hyphens", "978-0-306-40615-7", true},
		{"isbn13 bad checksum", "9780306406158", false},
		{"wrong length", "12345", false},
		{"letters", "abcdefghij", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateISBN(tt.isbn))
		})
	}
}
