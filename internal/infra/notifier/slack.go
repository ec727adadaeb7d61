package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"udata-harvest/internal/domain/entity"
	"udata-harvest/internal/observability/logging"
	"udata-harvest/internal/resilience/retry"
)

// SlackConfig contains configuration for Slack webhook notifications.
type SlackConfig struct {
	Enabled bool

	// WebhookURL is the Incoming Webhook URL. It embeds the token and must
	// never be logged.
	WebhookURL string

	Timeout time.Duration

	// OnlyAttention limits messages to pending sources and jobs that did
	// not fully succeed.
	OnlyAttention bool
}

// SlackNotifier posts one Block Kit message per batch to a Slack webhook.
type SlackNotifier struct {
	config      SlackConfig
	httpClient  *http.Client
	rateLimiter *RateLimiter
	retry       retry.Config
}

// NewSlackNotifier creates a notifier limited to 1 message per second, the
// documented Incoming Webhook limit.
func NewSlackNotifier(config SlackConfig) *SlackNotifier {
	return &SlackNotifier{
		config:      config,
		httpClient:  &http.Client{Timeout: config.Timeout},
		rateLimiter: NewRateLimiter(1.0, 1),
		retry:       retry.NotifyConfig(),
	}
}

// SlackWebhookPayload is the JSON body sent to the webhook.
type SlackWebhookPayload struct {
	Text   string       `json:"text"`
	Blocks []SlackBlock `json:"blocks"`
}

// SlackBlock is a Block Kit block ("section" or "context").
type SlackBlock struct {
	Type     string            `json:"type"`
	Text     *SlackTextObject  `json:"text,omitempty"`
	Elements []SlackTextObject `json:"elements,omitempty"`
}

// SlackTextObject is a Block Kit text object.
type SlackTextObject struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	maxSectionTextLength = 3000
	maxFallbackLength    = 150
	truncationSuffix     = "..."
)

func (s *SlackNotifier) buildPayload(sum Summary) SlackWebhookPayload {
	headline := sum.Headline()
	section := fmt.Sprintf("*%s*\n%s", headline, sum.Details())
	if sum.Pending {
		section = fmt.Sprintf("*%s*\n<%s|%s>", headline, sum.SourceURL, sum.SourceURL)
	}

	footer := sum.SourceURL
	if sum.JobID != "" {
		footer = fmt.Sprintf("job %s • %s", sum.JobID, footer)
	}
	if !sum.At.IsZero() {
		footer += " • " + sum.At.Format(time.RFC3339)
	}

	return SlackWebhookPayload{
		Text: truncate(headline, maxFallbackLength, truncationSuffix),
		Blocks: []SlackBlock{
			{Type: "section", Text: &SlackTextObject{Type: "mrkdwn", Text: truncate(section, maxSectionTextLength, truncationSuffix)}},
			{Type: "context", Elements: []SlackTextObject{{Type: "mrkdwn", Text: footer}}},
		},
	}
}

func (s *SlackNotifier) send(ctx context.Context, payload SlackWebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute http request: %s", logging.SanitizeError(err))
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return statusError("slack", resp, respBody)
}

// Notify implements Notifier.
func (s *SlackNotifier) Notify(ctx context.Context, src *entity.HarvestSource, events []entity.Event) error {
	sum := Summarize(src, events)
	if s.config.OnlyAttention && !sum.NeedsAttention() {
		return nil
	}
	if err := s.rateLimiter.Allow(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	payload := s.buildPayload(sum)
	err := sendWithRetry(ctx, "slack", s.retry, func() error {
		return s.send(ctx, payload)
	})
	if err != nil {
		return err
	}
	slog.Debug("slack notification sent",
		slog.String("source_id", sum.SourceID),
		slog.String("job_id", sum.JobID))
	return nil
}
