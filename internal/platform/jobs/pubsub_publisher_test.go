package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/shelfsort/api/internal/services"
)

func TestPubSubEventPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "resort-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}

	finishedAt := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	msg := services.ResortEventMessage{
		AttemptID:    "ra_test",
		Shop:         "demo.myshopify.com",
		CollectionID: "gid://shopify/Collection/42",
		Outcome:      "success",
		JobID:        "job-9",
		MoveCount:    17,
		DurationMS:   1250,
		FinishedAt:   finishedAt,
	}

	if _, err := publisher.PublishResortEvent(ctx, msg); err != nil {
		t.Fatalf("PublishResortEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.ResortEventMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.AttemptID != msg.AttemptID || payload.CollectionID != msg.CollectionID {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["outcome"]; attr != "success" {
		t.Fatalf("expected outcome attribute, got %q", attr)
	}
	if _, ok := messages[0].Attributes["moveCount"]; ok {
		t.Fatalf("moveCount attribute should not be present")
	}
}
