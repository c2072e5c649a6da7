package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/creatorscout/searchjobs/pkg/errors"
	"github.com/creatorscout/searchjobs/pkg/retry"
	"github.com/creatorscout/searchjobs/pkg/scheduler"
)

// QStashConfig configures the HTTP delayed-delivery publisher.
type QStashConfig struct {
	// BaseURL of the queue API, e.g. https://qstash.upstash.io
	BaseURL string
	Token   string
	// Callback is the public URL of the task endpoint.
	Callback string
	Retries  int
}

// QStashPublisher enqueues continuations through an HTTP queue that delays
// delivery natively and de-duplicates on a caller-supplied id.
type QStashPublisher struct {
	cfg        QStashConfig
	httpClient *http.Client
	retry      retry.Config
}

func NewQStashPublisher(cfg QStashConfig, httpClient *http.Client) *QStashPublisher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &QStashPublisher{cfg: cfg, httpClient: httpClient, retry: retry.Publish}
}

// WithRetry overrides the publish retry configuration.
func (p *QStashPublisher) WithRetry(cfg retry.Config) *QStashPublisher {
	p.retry = cfg
	return p
}

// DeduplicationID is stable per job and run count so a re-published
// continuation for the same tick outcome collapses into one delivery.
// Re-kicks are stamped so they are not dropped as a copy of the lost message.
func DeduplicationID(c scheduler.Continuation) string {
	if !c.RekickedAt.IsZero() {
		return fmt.Sprintf("%s-%d-rekick-%d", c.JobID, c.RunCount, c.RekickedAt.Unix())
	}
	return fmt.Sprintf("%s-%d", c.JobID, c.RunCount)
}

func (p *QStashPublisher) Publish(ctx context.Context, c scheduler.Continuation) error {
	body := NewBody(c)
	body.NotBefore = nil
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode continuation: %w", err)
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v2/publish/" + p.cfg.Callback
	if _, err := url.Parse(endpoint); err != nil {
		return apperrors.Wrap(err, apperrors.ErrInvalidInput, "invalid queue endpoint")
	}

	id, err := retry.ExecuteWithRetry(ctx, func() (string, error) {
		return p.post(ctx, endpoint, data, c)
	}, p.retry)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrQueuePublish, "publish continuation")
	}

	log.Debug().
		Str("job_id", c.JobID).
		Int("run_count", c.RunCount).
		Str("message_id", id).
		Dur("delay", c.Delay).
		Msg("continuation published")
	return nil
}

func (p *QStashPublisher) post(ctx context.Context, endpoint string, data []byte, c scheduler.Continuation) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build publish request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Upstash-Deduplication-Id", DeduplicationID(c))
	if c.Delay > 0 {
		req.Header.Set("Upstash-Delay", fmt.Sprintf("%ds", int(c.Delay.Round(time.Second)/time.Second)))
	}
	if p.cfg.Retries > 0 {
		req.Header.Set("Upstash-Retries", fmt.Sprintf("%d", p.cfg.Retries))
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("publish request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		appErr := apperrors.Newf(apperrors.ErrQueuePublish, "queue returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		// only throttling and server faults are worth another attempt
		appErr.Retryable = resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", appErr
	}

	var out struct {
		MessageID string `json:"messageId"`
	}
	_ = json.Unmarshal(raw, &out)
	return out.MessageID, nil
}
