package gcp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// Client wraps the GCP service clients the search service talks to
type Client struct {
	ProjectID       string
	FirestoreClient *firestore.Client
	PubSubClient    *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// Services selects which clients NewClient opens
type Services struct {
	Firestore bool
	PubSub    bool
}

// NewClient creates the requested GCP clients
func NewClient(ctx context.Context, projectID string, services Services, opts ...option.ClientOption) (*Client, error) {
	c := &Client{ProjectID: projectID, topics: make(map[string]*pubsub.Topic)}

	if services.Firestore {
		firestoreClient, err := firestore.NewClient(ctx, projectID, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Firestore client: %w", err)
		}
		c.FirestoreClient = firestoreClient
	}

	if services.PubSub {
		pubsubClient, err := pubsub.NewClient(ctx, projectID, opts...)
		if err != nil {
			if c.FirestoreClient != nil {
				c.FirestoreClient.Close()
			}
			return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
		}
		c.PubSubClient = pubsubClient
	}

	return c, nil
}

// Close flushes pending publishes and closes all clients
func (c *Client) Close() error {
	var errs []error

	c.mu.Lock()
	for _, t := range c.topics {
		t.Stop()
	}
	c.topics = make(map[string]*pubsub.Topic)
	c.mu.Unlock()

	if c.FirestoreClient != nil {
		if err := c.FirestoreClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Firestore client: %w", err))
		}
	}

	if c.PubSubClient != nil {
		if err := c.PubSubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Pub/Sub client: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing clients: %v", errs)
	}

	return nil
}

// EnsureTopic returns the topic, creating it when missing
func (c *Client) EnsureTopic(ctx context.Context, topicName string) (*pubsub.Topic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.topics[topicName]; ok {
		return t, nil
	}

	topic := c.PubSubClient.Topic(topicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check topic existence: %w", err)
	}

	if !exists {
		topic, err = c.PubSubClient.CreateTopic(ctx, topicName)
		if err != nil {
			return nil, fmt.Errorf("failed to create topic: %w", err)
		}
		log.Info().Str("topic", topicName).Msg("created Pub/Sub topic")
	}

	c.topics[topicName] = topic
	return topic, nil
}

// PushConfig describes the push subscription that delivers ticks over HTTP
type PushConfig struct {
	Subscription        string
	Topic               string
	Endpoint            string
	ServiceAccountEmail string
	Audience            string
	AckDeadline         time.Duration
	MinBackoff          time.Duration
	MaxBackoff          time.Duration
}

// EnsurePushSubscription creates the push subscription when it does not exist
func (c *Client) EnsurePushSubscription(ctx context.Context, cfg PushConfig) error {
	sub := c.PubSubClient.Subscription(cfg.Subscription)

	exists, err := sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check subscription existence: %w", err)
	}
	if exists {
		return nil
	}

	topic, err := c.EnsureTopic(ctx, cfg.Topic)
	if err != nil {
		return err
	}

	push := pubsub.PushConfig{Endpoint: cfg.Endpoint}
	if cfg.ServiceAccountEmail != "" {
		push.AuthenticationMethod = &pubsub.OIDCToken{
			ServiceAccountEmail: cfg.ServiceAccountEmail,
			Audience:            cfg.Audience,
		}
	}

	_, err = c.PubSubClient.CreateSubscription(ctx, cfg.Subscription, pubsub.SubscriptionConfig{
		Topic:       topic,
		PushConfig:  push,
		AckDeadline: cfg.AckDeadline,
		RetryPolicy: &pubsub.RetryPolicy{
			MinimumBackoff: cfg.MinBackoff,
			MaximumBackoff: cfg.MaxBackoff,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	log.Info().Str("subscription", cfg.Subscription).Str("endpoint", cfg.Endpoint).Msg("created push subscription")
	return nil
}

// PublishMessage publishes a message to a Pub/Sub topic and waits for the server id
func (c *Client) PublishMessage(ctx context.Context, topicName string, data []byte, attributes map[string]string) (string, error) {
	topic, err := c.EnsureTopic(ctx, topicName)
	if err != nil {
		return "", err
	}

	msg := &pubsub.Message{
		Data:       data,
		Attributes: attributes,
	}

	result := topic.Publish(ctx, msg)

	// Wait for publish to complete
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	return id, nil
}
