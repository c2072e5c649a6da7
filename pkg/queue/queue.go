// Package queue carries continuation commands to the external queue and turns
// inbound deliveries back into tick requests.
package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/creatorscout/searchjobs/pkg/errors"
	"github.com/creatorscout/searchjobs/pkg/scheduler"
)

// Transport names a delivery mechanism.
type Transport string

const (
	TransportPubSub Transport = "pubsub"
	TransportQStash Transport = "qstash"
	TransportLocal  Transport = "local"
)

// Attribute keys set on Pub/Sub messages.
const (
	AttrJobID     = "job_id"
	AttrRunCount  = "run_count"
	AttrNotBefore = "not_before"
)

// Publisher enqueues continuation commands.
type Publisher interface {
	Publish(ctx context.Context, c scheduler.Continuation) error
}

// Delivery is one decoded inbound tick request.
type Delivery struct {
	JobID string
	// RunCount is the job's run count when the continuation was issued, or
	// -1 when the message did not carry one.
	RunCount int
	// NotBefore is zero when the transport delays natively.
	NotBefore time.Time
	MessageID string
	Attempt   int
}

// Body is the JSON payload every transport carries.
type Body struct {
	JobID     string     `json:"jobId"`
	RunCount  *int       `json:"runCount,omitempty"`
	NotBefore *time.Time `json:"notBefore,omitempty"`
}

// NewBody builds the payload for c.
func NewBody(c scheduler.Continuation) Body {
	run := c.RunCount
	b := Body{JobID: c.JobID, RunCount: &run}
	if !c.NotBefore.IsZero() {
		nb := c.NotBefore.UTC()
		b.NotBefore = &nb
	}
	return b
}

type pushEnvelope struct {
	Message struct {
		Data       string            `json:"data"`
		Attributes map[string]string `json:"attributes"`
		MessageID  string            `json:"messageId"`
	} `json:"message"`
	Subscription    string `json:"subscription"`
	DeliveryAttempt int    `json:"deliveryAttempt"`
}

// Decode parses a raw request body according to transport.
func Decode(transport Transport, body []byte) (Delivery, error) {
	switch transport {
	case TransportPubSub:
		return decodePush(body)
	case TransportQStash, TransportLocal:
		return decodeBody(body)
	default:
		return Delivery{}, apperrors.Newf(apperrors.ErrInvalidInput, "unknown transport %q", transport)
	}
}

func decodeBody(raw []byte) (Delivery, error) {
	var b Body
	if err := json.Unmarshal(raw, &b); err != nil {
		return Delivery{}, apperrors.Wrap(err, apperrors.ErrMalformedPayload, "invalid task body")
	}
	return fromBody(b)
}

func decodePush(raw []byte) (Delivery, error) {
	var env pushEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Delivery{}, apperrors.Wrap(err, apperrors.ErrMalformedPayload, "invalid push envelope")
	}

	var b Body
	if env.Message.Data != "" {
		data, err := base64.StdEncoding.DecodeString(env.Message.Data)
		if err != nil {
			return Delivery{}, apperrors.Wrap(err, apperrors.ErrMalformedPayload, "push data is not base64")
		}
		if err := json.Unmarshal(data, &b); err != nil {
			return Delivery{}, apperrors.Wrap(err, apperrors.ErrMalformedPayload, "invalid task body")
		}
	}

	// attributes win over the body
	attrs := env.Message.Attributes
	if v := attrs[AttrJobID]; v != "" {
		b.JobID = v
	}
	if v := attrs[AttrRunCount]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Delivery{}, apperrors.Wrap(err, apperrors.ErrMalformedPayload, "invalid run_count attribute")
		}
		b.RunCount = &n
	}
	if v := attrs[AttrNotBefore]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return Delivery{}, apperrors.Wrap(err, apperrors.ErrMalformedPayload, "invalid not_before attribute")
		}
		b.NotBefore = &t
	}

	d, err := fromBody(b)
	if err != nil {
		return Delivery{}, err
	}
	d.MessageID = env.Message.MessageID
	d.Attempt = env.DeliveryAttempt
	return d, nil
}

func fromBody(b Body) (Delivery, error) {
	id := strings.TrimSpace(b.JobID)
	if id == "" {
		return Delivery{}, apperrors.New(apperrors.ErrMalformedJobID, "job id is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return Delivery{}, apperrors.Wrap(err, apperrors.ErrMalformedJobID, fmt.Sprintf("job id %q is not a UUID", id))
	}

	d := Delivery{JobID: id, RunCount: -1}
	if b.RunCount != nil {
		if *b.RunCount < 0 {
			return Delivery{}, apperrors.New(apperrors.ErrMalformedPayload, "run count is negative")
		}
		d.RunCount = *b.RunCount
	}
	if b.NotBefore != nil {
		d.NotBefore = *b.NotBefore
	}
	return d, nil
}
