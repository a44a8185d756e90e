// Package cpf validates and normalises Brazilian CPF identity documents.
package cpf

import (
	"strings"

	appErrors "github.com/cursolab/gestao-api/pkg/errors"
)

const digits = 11

// Normalize strips formatting from a raw CPF string and validates the
// result. It returns the digits-only form. Validation is intentionally
// limited to length and the all-same-digit pattern; check-digit
// verification is not applied so that identities already stored by the
// legacy system keep validating.
func Normalize(raw string) (string, error) {
	var b strings.Builder
	b.Grow(digits)
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	normalized := b.String()

	if len(normalized) != digits {
		return "", appErrors.Clone(appErrors.ErrInvalidIdentity, "identity document must contain 11 digits")
	}
	if allSame(normalized) {
		return "", appErrors.Clone(appErrors.ErrInvalidIdentity, "identity document digits cannot be all identical")
	}
	return normalized, nil
}

// Valid reports whether the raw string normalises successfully.
func Valid(raw string) bool {
	_, err := Normalize(raw)
	return err == nil
}

func allSame(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}
