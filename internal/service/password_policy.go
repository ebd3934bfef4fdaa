package service

import (
	"unicode"

	"github.com/basecrm/basecrm-api/pkg/i18n"
)

const minPasswordLength = 8

// PasswordPolicyViolations checks a candidate password against the account
// policy and returns the violated rule codes, empty when the password is
// acceptable. The codes resolve to messages through the i18n catalogue.
func PasswordPolicyViolations(password string) []string {
	var codes []string
	if len(password) < minPasswordLength {
		codes = append(codes, i18n.CodePasswordTooShort)
	}

	var hasDigit, hasLower, hasUpper, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		default:
			hasSymbol = true
		}
	}
	if !hasDigit {
		codes = append(codes, i18n.CodePasswordRequiresDigit)
	}
	if !hasLower {
		codes = append(codes, i18n.CodePasswordRequiresLower)
	}
	if !hasUpper {
		codes = append(codes, i18n.CodePasswordRequiresUpper)
	}
	if !hasSymbol {
		codes = append(codes, i18n.CodePasswordRequiresNonAlphanum)
	}
	return codes
}
