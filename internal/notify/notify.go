// Package notify sends account notification mail.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"log/slog"

	"github.com/clmc/procurement/internal/config"
	"github.com/clmc/procurement/internal/model"
	"github.com/clmc/procurement/internal/worker"
	mail "github.com/go-mail/mail/v2"
)

// Mailer delivers one HTML message.
type Mailer interface {
	Send(ctx context.Context, to, subject, html string) error
}

// SMTP delivers through an SMTP server with mandatory STARTTLS.
type SMTP struct {
	dialer *mail.Dialer
	from   string
}

// NewSMTP creates an SMTP mailer from cfg.
func NewSMTP(cfg config.MailConfig) *SMTP {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	d.StartTLSPolicy = mail.MandatoryStartTLS
	d.TLSConfig = &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.SkipTLSVerify, //nolint:gosec // opt-in for development relays
	}
	return &SMTP{dialer: d, from: cfg.From}
}

// Send implements Mailer.
func (s *SMTP) Send(ctx context.Context, to, subject, html string) error {
	if to == "" {
		return errors.New("no recipient")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m := mail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", html)
	return s.dialer.DialAndSend(m)
}

// LogMailer logs messages instead of sending them. Used when SMTP is not configured.
type LogMailer struct {
	Log *slog.Logger
}

// Send implements Mailer.
func (l LogMailer) Send(_ context.Context, to, subject, _ string) error {
	l.Log.Info("mail not sent: smtp disabled", "to", to, "subject", subject)
	return nil
}

// FromConfig returns an SMTP mailer, or a LogMailer when no host is set.
func FromConfig(cfg config.MailConfig, log *slog.Logger) Mailer {
	if cfg.Host == "" {
		return LogMailer{Log: log}
	}
	return NewSMTP(cfg)
}

// Register installs the send_mail task handler.
func Register(reg *worker.Registry, m Mailer) {
	worker.Handle(reg, func(ctx context.Context, args worker.SendMailArgs) error {
		if err := m.Send(ctx, args.To, args.Subject, args.Body); err != nil {
			return fmt.Errorf("send mail to %s: %w", args.To, err)
		}
		return nil
	})
}

var approvedTmpl = template.Must(template.New("approved").Parse(`<p>Hello {{.Name}},</p>
<p>Your CLMC Procurement account has been approved with the <strong>{{.Role}}</strong> role.</p>
<p><a href="{{.URL}}">Sign in</a></p>`))

// Approved builds the account approval mail for u.
func Approved(u *model.User, baseURL string) (worker.SendMailArgs, error) {
	var buf bytes.Buffer
	err := approvedTmpl.Execute(&buf, map[string]string{
		"Name": u.DisplayName(),
		"Role": string(u.Role),
		"URL":  baseURL + "/#/login",
	})
	if err != nil {
		return worker.SendMailArgs{}, err
	}
	return worker.SendMailArgs{
		To:      u.Email,
		Subject: "Your CLMC Procurement account is active",
		Body:    buf.String(),
	}, nil
}
