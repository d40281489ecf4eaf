package email

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/ErlanBelekov/pwchain/internal/domain"
	"github.com/resend/resend-go/v2"
)

type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogSender logs emails instead of sending them. Used in ENV=local.
type LogSender struct {
	logger *slog.Logger
}

func (s *LogSender) Send(_ context.Context, to, subject, body string) error {
	s.logger.Info("notification email (local dev)", "to", to, "subject", subject, "body", body)
	return nil
}

// ResendSender sends emails via the Resend API. Used in staging/production.
type ResendSender struct {
	client *resend.Client
	from   string
}

func (s *ResendSender) Send(ctx context.Context, to, subject, body string) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		Html:    body,
	}
	_, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// NewSender returns a LogSender for ENV=local, ResendSender otherwise.
func NewSender(env, apiKey, from string, logger *slog.Logger) Sender {
	if env == "local" {
		return &LogSender{logger: logger}
	}
	return &ResendSender{
		client: resend.NewClient(apiKey),
		from:   from,
	}
}

// Notifier tells the owner of a workchain that it reached a terminal status.
type Notifier struct {
	sender Sender
	logger *slog.Logger
}

func NewNotifier(sender Sender, logger *slog.Logger) *Notifier {
	return &Notifier{sender: sender, logger: logger.With("component", "notifier")}
}

// WorkchainDone sends the notification if the workchain asked for one.
// Delivery failures are logged, never returned: the workchain outcome is
// already persisted.
func (n *Notifier) WorkchainDone(ctx context.Context, wc *domain.Workchain) {
	if wc.NotifyEmail == nil || *wc.NotifyEmail == "" {
		return
	}
	subject, body := Render(wc)
	if err := n.sender.Send(ctx, *wc.NotifyEmail, subject, body); err != nil {
		n.logger.WarnContext(ctx, "send workchain notification", "workchain_id", wc.ID, "error", err)
	}
}

// Render builds the subject and HTML body of a terminal-status notification.
func Render(wc *domain.Workchain) (subject, body string) {
	name := wc.Label
	if name == "" {
		name = wc.ID
	}
	subject = fmt.Sprintf("pw.x workchain %s %s", name, wc.Status)

	var b strings.Builder
	fmt.Fprintf(&b, "<p>Workchain <b>%s</b> is <b>%s</b> after %d iteration(s).</p>",
		html.EscapeString(name), wc.Status, wc.Iterations)
	if wc.AbortReason != nil {
		fmt.Fprintf(&b, "<p>Reason: %s</p>", html.EscapeString(*wc.AbortReason))
	}
	if wc.Outputs != nil && wc.Outputs.OutputParameters != nil {
		if x := wc.Outputs.OutputParameters.XML; x != nil && x.FermiEnergy != nil {
			fmt.Fprintf(&b, "<p>Fermi energy: %.6f %s</p>", *x.FermiEnergy, x.FermiEnergyUnits)
		}
	}
	return subject, b.String()
}
