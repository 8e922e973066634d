// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// Publisher wraps a Pub/Sub publisher client.
type Publisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	logger    *zap.Logger
}

// New creates a Publisher for the provided topic publisher.
func New(publisher *pubsub.Publisher) *Publisher {
	return &Publisher{publisher: publisher, logger: zap.NewNop()}
}

// Dial connects to projectID using Application Default Credentials and checks
// that topicID exists and is active before returning a Publisher for it.
func Dial(ctx context.Context, projectID, topicID string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	name := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	topic, err := client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
	if err != nil {
		closeClient(client, logger)
		return nil, fmt.Errorf("get pubsub topic %q: %w", topicID, err)
	}
	if topic.State != pubsubpb.Topic_ACTIVE {
		closeClient(client, logger)
		return nil, fmt.Errorf("pubsub topic %q is not active in project %q", topicID, projectID)
	}
	return &Publisher{
		client:    client,
		publisher: client.Publisher(topic.Name),
		logger:    logger,
	}, nil
}

// Publish marshals the payload to JSON and publishes it to the topic. The
// routing key is carried as the "event" attribute.
func (p *Publisher) Publish(ctx context.Context, event string, payload any) (string, error) {
	if p.publisher == nil {
		return "", errors.New("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: map[string]string{}}
	if event != "" {
		msg.Attributes["event"] = event
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	result := p.publisher.Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and closes the client if Dial created it.
func (p *Publisher) Close() error {
	if p.publisher != nil {
		p.publisher.Stop()
	}
	if p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

func closeClient(client *pubsub.Client, logger *zap.Logger) {
	if err := client.Close(); err != nil {
		logger.Warn("close pubsub client after topic check failure", zap.Error(err))
	}
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
