// Package identity validates identity documents and keeps document numbers
// sealed at rest.
package identity

import (
	"errors"
	"net/http"
	"strings"
)

const AadhaarLength = 12

var (
	ErrInvalidAadhaar   = errors.New("INVALID_AADHAAR")
	ErrDocumentRequired = errors.New("DOCUMENT_REQUIRED")
	ErrInvalidDocument  = errors.New("INVALID_DOCUMENT")
)

// NormalizeAadhaar strips the separators people type and checks that what
// remains is a 12 digit number.
func NormalizeAadhaar(raw string) (string, error) {
	number := strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' || r == '\t' {
			return -1
		}
		return r
	}, raw)
	if len(number) != AadhaarLength {
		return "", ErrInvalidAadhaar
	}
	for i := 0; i < len(number); i++ {
		if number[i] < '0' || number[i] > '9' {
			return "", ErrInvalidAadhaar
		}
	}
	return number, nil
}

func Last4(number string) string {
	if len(number) < 4 {
		return number
	}
	return number[len(number)-4:]
}

// Mask renders a number as "XXXX XXXX 1234".
func Mask(last4 string) string {
	if last4 == "" {
		return ""
	}
	return "XXXX XXXX " + last4
}

// CheckDocument sniffs the first bytes of an uploaded scan. Images and PDFs
// up to maxBytes are accepted.
func CheckDocument(head []byte, size, maxBytes int64) error {
	if size <= 0 || len(head) == 0 {
		return ErrDocumentRequired
	}
	if maxBytes > 0 && size > maxBytes {
		return ErrInvalidDocument
	}
	contentType := http.DetectContentType(head)
	if strings.HasPrefix(contentType, "image/") || contentType == "application/pdf" {
		return nil
	}
	return ErrInvalidDocument
}
