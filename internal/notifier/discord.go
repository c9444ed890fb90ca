package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/italolelis/yuque_exporter/internal/exporter"
	"github.com/italolelis/yuque_exporter/internal/logctx"
)

const notifyTimeout = 10 * time.Second

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

type DiscordNotifier struct {
	WebhookURL string
	Client     *http.Client
}

func NewDiscordNotifier(webhookURL string, client *http.Client) *DiscordNotifier {
	return &DiscordNotifier{WebhookURL: webhookURL, Client: client}
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	payload := map[string]string{"content": content}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// ExportSink forwards the outcome of each export run to a Notifier.
// Progress messages are dropped.
type ExportSink struct {
	Notifier Notifier
}

func (s ExportSink) Status(ctx context.Context, st exporter.Status) {
	if !st.Terminal() || s.Notifier == nil {
		return
	}

	logger := logctx.LoggerFromContext(ctx)

	content := "✅ " + st.Message
	if st.Kind == exporter.KindError {
		content = "❌ " + st.Message
	}

	// A cancelled run still reports its failure.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := s.Notifier.Notify(ctx, content); err != nil {
		logger.ErrorContext(ctx, "failed to send notification", "run_id", st.RunID, "err", err)
	}
}
