package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

// Subjects for the outbound auth emails.
const (
	SubjectConfirmEmail  = "Confirm your email"
	SubjectResetPassword = "Reset your password"
)

var emailTmpl = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>{{.Title}}</title></head>
<body style="margin:0;padding:0;font-family:'Segoe UI',Tahoma,sans-serif;background-color:#f5f5f5;">
  <div style="max-width:600px;margin:0 auto;background-color:#ffffff;border-radius:8px;overflow:hidden;">
    <div style="background:linear-gradient(135deg,#667eea 0%,#764ba2 100%);padding:40px 20px;text-align:center;">
      <h1 style="color:#ffffff;margin:0;font-size:28px;">{{.Title}}</h1>
    </div>
    <div style="padding:40px 30px;">
      <p style="color:#333;font-size:16px;line-height:1.6;">{{.Greeting}}</p>
      <p style="color:#555;font-size:15px;line-height:1.6;">{{.Message}}</p>
      <div style="text-align:center;margin:30px 0;">
        <a href="{{.ActionURL}}" style="display:inline-block;background-color:#667eea;color:#ffffff;padding:14px 40px;border-radius:6px;text-decoration:none;font-weight:600;">{{.ButtonText}}</a>
      </div>
      <p style="color:#999;font-size:14px;text-align:center;">If the button does not work, copy this link into your browser:</p>
      <div style="background-color:#f8f8f8;padding:15px;border-radius:4px;word-break:break-all;">
        <p style="color:#667eea;font-size:13px;margin:0;font-family:monospace;">{{.ActionURL}}</p>
      </div>
      <p style="color:#777;font-size:14px;margin-top:30px;">{{.Warning}}</p>
    </div>
    <div style="background-color:#1e1e1e;padding:20px 30px;text-align:center;">
      <p style="color:#888;font-size:13px;margin:0 0 10px 0;">&copy; {{.Year}} BaseCRM. All rights reserved.</p>
      <p style="color:#bbb;font-size:12px;margin:0;">This is an automated message, please do not reply.</p>
    </div>
  </div>
</body>
</html>`))

type templateData struct {
	Title      string
	Greeting   string
	Message    string
	ActionURL  string
	ButtonText string
	Warning    string
	Year       int
}

// ConfirmationEmailHTML renders the account confirmation email body.
func ConfirmationEmailHTML(userName, confirmationURL string) (string, error) {
	return render(templateData{
		Title:      SubjectConfirmEmail,
		Greeting:   fmt.Sprintf("Hello %s,", userName),
		Message:    "Welcome to BaseCRM. Please confirm your email address to activate your account.",
		ActionURL:  confirmationURL,
		ButtonText: "Confirm email",
		Warning:    "If you did not create this account, you can safely ignore this email.",
		Year:       time.Now().Year(),
	})
}

// ResetPasswordEmailHTML renders the password reset email body.
func ResetPasswordEmailHTML(resetURL string) (string, error) {
	return render(templateData{
		Title:      SubjectResetPassword,
		Greeting:   "Hello,",
		Message:    "We received a request to reset your password. Use the button below to choose a new one.",
		ActionURL:  resetURL,
		ButtonText: "Reset password",
		Warning:    "If you did not request a password reset, no action is required.",
		Year:       time.Now().Year(),
	})
}

func render(data templateData) (string, error) {
	var buf bytes.Buffer
	if err := emailTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render email template: %w", err)
	}
	return buf.String(), nil
}
