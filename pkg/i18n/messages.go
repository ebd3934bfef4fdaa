// Package i18n maps identity error codes to human-readable messages. The
// codes are a stable contract with the front end; resolving them to other
// languages happens client-side, so a single English catalogue lives here.
package i18n

// Identity error codes surfaced by account and password flows.
const (
	CodeInvalidCredentials          = "InvalidCredentials"
	CodeUnauthorizedAccess          = "UnauthorizedAccess"
	CodeInvalidEmail                = "InvalidEmail"
	CodeDuplicateEmail              = "DuplicateEmail"
	CodeInvalidUserName             = "InvalidUserName"
	CodeDuplicateUserName           = "DuplicateUserName"
	CodePasswordTooShort            = "PasswordTooShort"
	CodePasswordRequiresDigit       = "PasswordRequiresDigit"
	CodePasswordRequiresLower       = "PasswordRequiresLower"
	CodePasswordRequiresUpper       = "PasswordRequiresUpper"
	CodePasswordRequiresNonAlphanum = "PasswordRequiresNonAlphanumeric"
	CodeInvalidMfaCode              = "InvalidMfaCode"
	CodeInvalidRoleName             = "InvalidRoleName"
	CodeDuplicateRoleName           = "DuplicateRoleName"
	CodeUserAlreadyInRole           = "UserAlreadyInRole"
	CodeUserNotInRole               = "UserNotInRole"
	CodeConcurrencyFailure          = "ConcurrencyFailure"
	CodeSuccessfulRegistration      = "SuccessfulRegistration"
	CodeSuccessfulForgotPassword    = "SuccessfulForgotPassword"
	CodeSuccessfulPasswordReset     = "SuccessfulPasswordReset"
	CodeEmailConfirmed              = "EmailConfirmed"
	CodeDefaultError                = "DefaultError"
)

var messages = map[string]string{
	CodeInvalidCredentials:          "Invalid email or password.",
	CodeUnauthorizedAccess:          "You are not authorized to perform this action.",
	CodeInvalidEmail:                "The email address is not valid.",
	CodeDuplicateEmail:              "An account with this email already exists.",
	CodeInvalidUserName:             "The user name contains invalid characters.",
	CodeDuplicateUserName:           "This user name is already taken.",
	CodePasswordTooShort:            "The password is too short.",
	CodePasswordRequiresDigit:       "The password must contain at least one digit.",
	CodePasswordRequiresLower:       "The password must contain at least one lowercase letter.",
	CodePasswordRequiresUpper:       "The password must contain at least one uppercase letter.",
	CodePasswordRequiresNonAlphanum: "The password must contain at least one non-alphanumeric character.",
	CodeInvalidMfaCode:              "Invalid authenticator code.",
	CodeInvalidRoleName:             "The role name is not valid.",
	CodeDuplicateRoleName:           "A role with this name already exists.",
	CodeUserAlreadyInRole:           "The user already has this role.",
	CodeUserNotInRole:               "The user does not have this role.",
	CodeConcurrencyFailure:          "The record was modified by another request. Please retry.",
	CodeSuccessfulRegistration:      "User registered successfully. A confirmation email is on its way.",
	CodeSuccessfulForgotPassword:    "If the email exists, a reset link will be sent.",
	CodeSuccessfulPasswordReset:     "Your password has been reset.",
	CodeEmailConfirmed:              "Email address confirmed.",
	CodeDefaultError:                "An unexpected error occurred.",
}

// LocalizeError resolves an identity error code. Unknown codes fall back to
// the default message rather than failing.
func LocalizeError(code string) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return messages[CodeDefaultError]
}

// LocalizeErrors resolves a batch of codes in order.
func LocalizeErrors(codes []string) []string {
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		out = append(out, LocalizeError(code))
	}
	return out
}
