// Package mailer delivers transactional mail. The driver is picked once at
// startup from configuration: resend for production delivery, log for
// development, test for assertions in tests.
package mailer

import (
	"context"
	"log/slog"
	"sync"
)

// Email is a prepared plain-text message.
type Email struct {
	To      string
	Subject string
	Text    string
}

// Sender delivers a prepared email.
type Sender interface {
	Send(ctx context.Context, email Email) error
}

// LogSender writes mail to the process log instead of delivering it.
type LogSender struct {
	Log *slog.Logger
}

func (s *LogSender) Send(ctx context.Context, email Email) error {
	s.Log.InfoContext(ctx, "mail delivery",
		slog.String("to", email.To),
		slog.String("subject", email.Subject),
		slog.String("body", email.Text),
	)
	return nil
}

// TestSender records sent mail for inspection.
type TestSender struct {
	mu   sync.Mutex
	sent []Email
}

func (s *TestSender) Send(_ context.Context, email Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, email)
	return nil
}

// Sent returns a copy of all delivered mail.
func (s *TestSender) Sent() []Email {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Email, len(s.sent))
	copy(out, s.sent)
	return out
}
