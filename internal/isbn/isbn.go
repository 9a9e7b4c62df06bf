// Package isbn normalises and validates ISBN-10 and ISBN-13 codes.
//
// Books and cover embeddings are keyed by Key: the ISBN-10 form when the code
// carries the 978 prefix, the ISBN-13 form otherwise.
package isbn

import (
	"fmt"
	"strings"

	"coverscan/internal/apperr"
)

type ISBN struct {
	ISBN10 string // empty for 979-prefixed codes
	ISBN13 string
}

// Key is the canonical identifier used by the book store and the index.
func (i ISBN) Key() string {
	if i.ISBN10 != "" {
		return i.ISBN10
	}
	return i.ISBN13
}

// Normalize strips separators and upper-cases a trailing X.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == 'x' || r == 'X':
			b.WriteRune('X')
		case r == '-' || r == ' ':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Parse normalises s and validates its checksum.
func Parse(s string) (ISBN, error) {
	n := Normalize(s)
	switch len(n) {
	case 10:
		if !Valid10(n) {
			return ISBN{}, fmt.Errorf("isbn %q: bad ISBN-10 checksum: %w", s, apperr.ErrInvalidArgument)
		}
		return ISBN{ISBN10: n, ISBN13: To13(n)}, nil
	case 13:
		if !Valid13(n) {
			return ISBN{}, fmt.Errorf("isbn %q: bad ISBN-13 checksum: %w", s, apperr.ErrInvalidArgument)
		}
		ten, _ := To10(n)
		return ISBN{ISBN10: ten, ISBN13: n}, nil
	default:
		return ISBN{}, fmt.Errorf("isbn %q: want 10 or 13 digits: %w", s, apperr.ErrInvalidArgument)
	}
}

func Valid10(s string) bool {
	if len(s) != 10 {
		return false
	}
	sum := 0
	for i := 0; i < 10; i++ {
		c := s[i]
		var d int
		switch {
		case c >= '0' && c <= '9':
			d = int(c - '0')
		case c == 'X' && i == 9:
			d = 10
		default:
			return false
		}
		sum += d * (10 - i)
	}
	return sum%11 == 0
}

func Valid13(s string) bool {
	if len(s) != 13 {
		return false
	}
	for i := 0; i < 13; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return check13(s[:12]) == s[12]
}

// To13 converts a valid ISBN-10 to its 978-prefixed ISBN-13.
func To13(isbn10 string) string {
	body := "978" + isbn10[:9]
	return body + string(check13(body))
}

// To10 converts a 978-prefixed ISBN-13. 979 codes have no ISBN-10 form.
func To10(isbn13 string) (string, bool) {
	if !strings.HasPrefix(isbn13, "978") || len(isbn13) != 13 {
		return "", false
	}
	body := isbn13[3:12]
	sum := 0
	for i := 0; i < 9; i++ {
		sum += int(body[i]-'0') * (10 - i)
	}
	check := (11 - sum%11) % 11
	if check == 10 {
		return body + "X", true
	}
	return body + string(rune('0'+check)), true
}

func check13(body string) byte {
	sum := 0
	for i := 0; i < 12; i++ {
		d := int(body[i] - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	return byte('0' + (10-sum%10)%10)
}
