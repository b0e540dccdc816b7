package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/shelfsort/api/internal/services"
)

// PubSubEventPublisher publishes resort outcome events to a Pub/Sub topic.
type PubSubEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubEventPublisher constructs a Pub/Sub backed resort event publisher.
func NewPubSubEventPublisher(topic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	return &PubSubEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishResortEvent enqueues a resort outcome message on the configured topic.
func (p *PubSubEventPublisher) PublishResortEvent(ctx context.Context, message services.ResortEventMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub event publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal resort event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "attemptId", message.AttemptID)
	setAttr(attrs, "shop", message.Shop)
	setAttr(attrs, "collectionId", message.CollectionID)
	setAttr(attrs, "outcome", message.Outcome)
	setAttr(attrs, "jobId", message.JobID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish resort event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
