package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEveryKnownCodeHasDistinctMessage(t *testing.T) {
	codes := []string{
		CodeInvalidCredentials, CodeUnauthorizedAccess, CodeInvalidEmail,
		CodeDuplicateEmail, CodeInvalidUserName, CodeDuplicateUserName,
		CodePasswordTooShort, CodePasswordRequiresDigit, CodePasswordRequiresLower,
		CodePasswordRequiresUpper, CodePasswordRequiresNonAlphanum,
		CodeInvalidMfaCode, CodeInvalidRoleName, CodeDuplicateRoleName,
		CodeUserAlreadyInRole, CodeUserNotInRole, CodeConcurrencyFailure,
		CodeSuccessfulRegistration, CodeSuccessfulForgotPassword,
		CodeSuccessfulPasswordReset, CodeEmailConfirmed, CodeDefaultError,
	}

	seen := make(map[string]string)
	for _, code := range codes {
		msg := LocalizeError(code)
		assert.NotEmpty(t, msg, "code %s", code)
		if prev, ok := seen[msg]; ok {
			t.Errorf("codes %s and %s share message %q", prev, code, msg)
		}
		seen[msg] = code
	}
}

func TestUnknownCodeFallsBack(t *testing.T) {
	assert.Equal(t, LocalizeError(CodeDefaultError), LocalizeError("NoSuchCode"))
}

func TestLocalizeErrorsPreservesOrder(t *testing.T) {
	out := LocalizeErrors([]string{CodePasswordTooShort, CodePasswordRequiresDigit})
	assert.Equal(t, []string{
		LocalizeError(CodePasswordTooShort),
		LocalizeError(CodePasswordRequiresDigit),
	}, out)
}
