// Package pubsub implements a Google Cloud Pub/Sub ResultSink.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/scrapekit/scrapekit/internal/engine"
)

// Config names the topic results are published to.
type Config struct {
	ProjectID string
	TopicID   string
}

// Sink publishes each extracted result as a JSON message.
type Sink struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// New creates a Pub/Sub client and binds the configured topic.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("sink.pubsub.project_id is required")
	}
	if cfg.TopicID == "" {
		return nil, fmt.Errorf("sink.pubsub.topic_id is required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Sink{client: client, topic: client.Topic(cfg.TopicID)}, nil
}

// Accept publishes the result and waits for the server ack.
func (s *Sink) Accept(ctx context.Context, res engine.Result) error {
	if s == nil || s.topic == nil {
		return fmt.Errorf("pubsub sink is not configured")
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"job_id":  res.JobID,
			"backend": string(res.Backend),
		},
	}
	if _, err := s.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish result: %w", err)
	}
	return nil
}

// Close stops the topic's publish goroutines and closes the client.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	if s.topic != nil {
		s.topic.Stop()
	}
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
