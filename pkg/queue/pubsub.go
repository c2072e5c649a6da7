package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/creatorscout/searchjobs/pkg/errors"
	"github.com/creatorscout/searchjobs/pkg/retry"
	"github.com/creatorscout/searchjobs/pkg/scheduler"
)

// MessagePublisher is the slice of gcp.Client the Pub/Sub publisher needs.
type MessagePublisher interface {
	PublishMessage(ctx context.Context, topicName string, data []byte, attributes map[string]string) (string, error)
}

// PubSubPublisher publishes continuations to a Pub/Sub topic. Pub/Sub has no
// delayed delivery, so the due time travels in the not_before attribute and
// the worker answers early deliveries with 429 until it passes.
type PubSubPublisher struct {
	client MessagePublisher
	topic  string
	retry  retry.Config
}

func NewPubSubPublisher(client MessagePublisher, topic string) *PubSubPublisher {
	return &PubSubPublisher{client: client, topic: topic, retry: retry.Publish}
}

// WithRetry overrides the publish retry configuration.
func (p *PubSubPublisher) WithRetry(cfg retry.Config) *PubSubPublisher {
	p.retry = cfg
	return p
}

func (p *PubSubPublisher) Publish(ctx context.Context, c scheduler.Continuation) error {
	data, err := json.Marshal(NewBody(c))
	if err != nil {
		return fmt.Errorf("encode continuation: %w", err)
	}
	attrs := map[string]string{
		AttrJobID:    c.JobID,
		AttrRunCount: strconv.Itoa(c.RunCount),
	}
	if !c.NotBefore.IsZero() {
		attrs[AttrNotBefore] = c.NotBefore.UTC().Format(time.RFC3339Nano)
	}

	id, err := retry.ExecuteWithRetry(ctx, func() (string, error) {
		return p.client.PublishMessage(ctx, p.topic, data, attrs)
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
