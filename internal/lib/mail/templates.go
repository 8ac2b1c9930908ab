package mail

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"text/template"

	"github.com/magabrotheeeer/plugin-licensing/internal/models"
)

type layout struct {
	subject string
	text    *template.Template
	html    *htmltemplate.Template
}

var layouts = map[models.MailKind]layout{
	models.MailVerifyEmail: {
		subject: "Confirm your email address",
		text: template.Must(template.New("verify_text").Parse(
			"Hello {{.Name}},\n\nPlease confirm your email address by opening the link below:\n\n{{.Link}}\n\nThe link is valid for 24 hours.\n")),
		html: htmltemplate.Must(htmltemplate.New("verify_html").Parse(
			`<p>Hello {{.Name}},</p><p>Please confirm your email address:</p><p><a href="{{.Link}}">Confirm email</a></p><p>The link is valid for 24 hours.</p>`)),
	},
	models.MailResetPassword: {
		subject: "Reset your password",
		text: template.Must(template.New("reset_text").Parse(
			"Hello {{.Name}},\n\nA password reset was requested for your account. Open the link below to choose a new password:\n\n{{.Link}}\n\nThe link is valid for one hour. If you did not request a reset, ignore this message.\n")),
		html: htmltemplate.Must(htmltemplate.New("reset_html").Parse(
			`<p>Hello {{.Name}},</p><p>A password reset was requested for your account.</p><p><a href="{{.Link}}">Choose a new password</a></p><p>The link is valid for one hour. If you did not request a reset, ignore this message.</p>`)),
	},
	models.MailPasswordChanged: {
		subject: "Your password was changed",
		text: template.Must(template.New("changed_text").Parse(
			"Hello {{.Name}},\n\nThe password of your account was just changed and every session was signed out.\nIf this was not you, reset your password immediately.\n")),
	},
	models.MailTwoFactorOn: {
		subject: "Two-factor authentication enabled",
		text: template.Must(template.New("2fa_text").Parse(
			"Hello {{.Name}},\n\nTwo-factor authentication is now enabled on your account. Keep your backup codes in a safe place.\n")),
	},
	models.MailLicenseIssued: {
		subject: "Your license key",
		text: template.Must(template.New("license_text").Parse(
			"Hello {{.Name}},\n\nThank you for your purchase{{if .Extra}} of {{.Extra}}{{end}}. Your license key is:\n\n{{.Token}}\n")),
	},
}

// Render turns job into a Message. Unknown kinds are an error.
func Render(job models.MailJob) (Message, error) {
	const op = "mail.Render"
	l, ok := layouts[job.Kind]
	if !ok {
		return Message{}, fmt.Errorf("%s: unknown mail kind %q", op, job.Kind)
	}

	msg := Message{To: job.To, Subject: l.subject}

	var buf bytes.Buffer
	if err := l.text.Execute(&buf, job); err != nil {
		return Message{}, fmt.Errorf("%s: %w", op, err)
	}
	msg.Text = buf.String()

	if l.html != nil {
		buf.Reset()
		if err := l.html.Execute(&buf, job); err != nil {
			return Message{}, fmt.Errorf("%s: %w", op, err)
		}
		msg.HTML = buf.String()
	}
	return msg, nil
}
