// Package mailer delivers verification and password-reset codes. SMTP
// settings live in the system config row and may change at runtime, so the
// SMTP sender re-reads them per send.
package mailer

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	gomail "github.com/wneessen/go-mail"

	"github.com/arclabs/arcgate/pkg/store"
)

// Sender delivers a code to an address.
type Sender interface {
	SendVerificationCode(ctx context.Context, email, code string) error
	SendPasswordReset(ctx context.Context, email, code string) error
}

// NewSender returns a sender that delivers over SMTP when the system config
// has an SMTP host and only logs the message otherwise; the choice is made
// on every send.
func NewSender(log logrus.FieldLogger, st store.Store) Sender {
	return &configuredSender{
		log:   log.WithField("component", "mailer"),
		store: st,
	}
}

// configuredSender picks SMTP or log delivery per send, so an admin adding
// SMTP settings takes effect without a restart.
type configuredSender struct {
	log   logrus.FieldLogger
	store store.Store
}

func (s *configuredSender) SendVerificationCode(
	ctx context.Context, email, code string,
) error {
	return s.send(ctx, email, code,
		"Your verification code",
		verificationBody(code),
	)
}

func (s *configuredSender) SendPasswordReset(
	ctx context.Context, email, code string,
) error {
	return s.send(ctx, email, code,
		"Password reset code",
		resetBody(code),
	)
}

func (s *configuredSender) send(
	ctx context.Context, email, code, subject, body string,
) error {
	cfg, err := s.store.GetSystemConfig(ctx)
	if err != nil {
		return fmt.Errorf("loading smtp config: %w", err)
	}

	if cfg.SMTPHost == "" {
		// No SMTP configured: log-only delivery for development.
		s.log.WithField("email", email).
			WithField("code", code).
			Debug("SMTP not configured; code logged instead of sent")

		return nil
	}

	msg := gomail.NewMsg()

	if err := msg.FromFormat(cfg.FromName, cfg.FromEmail); err != nil {
		return fmt.Errorf("setting from address: %w", err)
	}

	if err := msg.To(email); err != nil {
		return fmt.Errorf("setting to address: %w", err)
	}

	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, body)

	opts := []gomail.Option{
		gomail.WithPort(cfg.SMTPPort),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(cfg.SMTPUser),
		gomail.WithPassword(cfg.SMTPPass),
	}

	if cfg.SMTPPort == 465 {
		opts = append(opts, gomail.WithSSL())
	}

	client, err := gomail.NewClient(cfg.SMTPHost, opts...)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending mail: %w", err)
	}

	return nil
}

func verificationBody(code string) string {
	return fmt.Sprintf(`<html>
<body style="font-family: Arial, sans-serif; padding: 20px;">
<h2>Your verification code</h2>
<p style="font-size: 32px; font-weight: bold; letter-spacing: 8px;">%s</p>
<p>The code is valid for 10 minutes. Do not share it.</p>
<hr style="margin: 20px 0; border: none; border-top: 1px solid #e5e7eb;">
<p style="color: #6b7280; font-size: 12px;">If you did not request this code, ignore this mail.</p>
</body>
</html>`, code)
}

func resetBody(code string) string {
	return fmt.Sprintf(`<html>
<body style="font-family: Arial, sans-serif; padding: 20px;">
<h2>Password reset</h2>
<p style="font-size: 32px; font-weight: bold; letter-spacing: 8px;">%s</p>
<p>The code is valid for 10 minutes. If you did not request a reset,
change your password immediately.</p>
</body>
</html>`, code)
}
