package notifier

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html"
	"strings"

	mail "github.com/go-mail/mail/v2"

	"udata-harvest/internal/domain/entity"
	"udata-harvest/internal/resilience/retry"
)

// MailConfig configures the SMTP channel.
type MailConfig struct {
	Enabled bool
	Host    string
	Port    int
	User    string
	Pass    string
	From    string
	To      []string

	// SkipTLSVerify is for local relays only.
	SkipTLSVerify bool
}

// sender is the part of *mail.Dialer the notifier uses.
type sender interface {
	DialAndSend(m ...*mail.Message) error
}

// MailNotifier e-mails operators about sources waiting for validation and
// jobs that did not fully succeed. Routine runs are not mailed.
type MailNotifier struct {
	config MailConfig
	dialer sender
	retry  retry.Config
}

// NewMailNotifier creates a notifier sending through config.Host with
// mandatory STARTTLS.
func NewMailNotifier(config MailConfig) (*MailNotifier, error) {
	if config.Host == "" || config.From == "" {
		return nil, errors.New("smtp not configured (SMTP_HOST/SMTP_FROM)")
	}
	if config.Port == 0 {
		config.Port = 587
	}
	d := mail.NewDialer(config.Host, config.Port, config.User, config.Pass)
	d.StartTLSPolicy = mail.MandatoryStartTLS
	d.TLSConfig = &tls.Config{
		ServerName:         config.Host,
		InsecureSkipVerify: config.SkipTLSVerify, // #nosec G402 -- opt-in for local relays
	}
	return &MailNotifier{config: config, dialer: d, retry: retry.NotifyConfig()}, nil
}

func (m *MailNotifier) buildMessage(sum Summary) *mail.Message {
	msg := mail.NewMessage()
	msg.SetHeader("From", m.config.From)
	msg.SetHeader("To", m.config.To...)
	msg.SetHeader("Subject", "[harvest] "+sum.Headline())

	var b strings.Builder
	fmt.Fprintf(&b, "<p><strong>%s</strong></p>", html.EscapeString(sum.Headline()))
	if sum.SourceURL != "" {
		fmt.Fprintf(&b, `<p>Remote catalog: <a href="%[1]s">%[1]s</a></p>`, html.EscapeString(sum.SourceURL))
	}
	if sum.Status != "" {
		fmt.Fprintf(&b, "<p>Job %s: %s.</p>", html.EscapeString(sum.JobID), html.EscapeString(sum.Details()))
	}
	msg.SetBody("text/html", b.String())
	return msg
}

// Notify implements Notifier.
func (m *MailNotifier) Notify(ctx context.Context, src *entity.HarvestSource, events []entity.Event) error {
	if len(m.config.To) == 0 {
		return nil
	}
	sum := Summarize(src, events)
	if !sum.NeedsAttention() {
		return nil
	}
	msg := m.buildMessage(sum)
	return sendWithRetry(ctx, "mail", m.retry, func() error {
		return m.dialer.DialAndSend(msg)
	})
}
