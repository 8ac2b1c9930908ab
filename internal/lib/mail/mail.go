// Package mail renders outbound messages and delivers them over SMTP.
package mail

import (
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/magabrotheeeer/plugin-licensing/internal/config"
)

// Message is a rendered mail ready to be sent.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Dialer is the part of gomail.Dialer used by Sender.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Sender delivers messages through an SMTP relay.
type Sender struct {
	dialer   Dialer
	from     string
	fromName string
}

// NewSender builds a Sender on top of a gomail dialer for cfg.
func NewSender(cfg config.SMTP) *Sender {
	return NewSenderWithDialer(gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass), cfg.SMTPFrom)
}

// NewSenderWithDialer builds a Sender using d.
func NewSenderWithDialer(d Dialer, from string) *Sender {
	return &Sender{dialer: d, from: from, fromName: "Kollabor8"}
}

// Send delivers msg with a plain text part and, when present, an HTML alternative.
func (s *Sender) Send(msg Message) error {
	const op = "mail.Send"
	if msg.To == "" {
		return fmt.Errorf("%s: empty recipient", op)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(s.from, s.fromName))
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Text)
	if msg.HTML != "" {
		m.AddAlternative("text/html", msg.HTML)
	}

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
