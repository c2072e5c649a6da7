// Package notify delivers campaign completion notifications.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/creatorscout/searchjobs/pkg/types"
)

// Notifier is invoked once per completed campaign.
type Notifier interface {
	Notify(ctx context.Context, n types.Notification) error
}

// LogNotifier only logs. Used when no webhook is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, n types.Notification) error {
	log.Info().
		Str("campaign_id", n.CampaignID).
		Str("user_id", n.UserID).
		Str("campaign", n.CampaignName).
		Msg("campaign complete")
	return nil
}

// WebhookNotifier POSTs the notification as JSON to the API layer, which
// owns user records and sends the email.
type WebhookNotifier struct {
	url        string
	token      string
	httpClient *http.Client
}

func NewWebhookNotifier(url, token string, httpClient *http.Client) *WebhookNotifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookNotifier{url: url, token: token, httpClient: httpClient}
}

func (w *WebhookNotifier) Notify(ctx context.Context, n types.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("notification webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
