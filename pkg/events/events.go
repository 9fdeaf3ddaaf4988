package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/spawn-mcp/research-pipeline/pkg/types"
)

// Event announces a task status transition
type Event struct {
	TaskID     string           `json:"task_id"`
	Status     types.TaskStatus `json:"status"`
	Phase      string           `json:"phase"`
	Message    string           `json:"message"`
	PublishURL string           `json:"publish_url,omitempty"`
	Error      string           `json:"error,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// FromTask builds the event for the task's current state
func FromTask(t *types.ResearchTask) Event {
	e := Event{
		TaskID:     t.ID,
		Status:     t.Status,
		Phase:      t.Progress.Phase,
		Message:    t.Progress.Message,
		PublishURL: t.PublishURL,
		Timestamp:  t.UpdatedAt,
	}
	if t.Error != nil {
		e.Error = t.Error.Message
	}
	return e
}

// Publisher emits lifecycle events. Delivery is best effort; callers log
// errors and carry on.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// MessagePublisher is the Pub/Sub surface of gcp.Client
type MessagePublisher interface {
	PublishMessage(ctx context.Context, topicName string, data []byte, attributes map[string]string) error
}

// PubSubPublisher sends events to a Pub/Sub topic as JSON
type PubSubPublisher struct {
	client MessagePublisher
	topic  string
}

// NewPubSubPublisher creates a publisher for the given topic
func NewPubSubPublisher(client MessagePublisher, topic string) *PubSubPublisher {
	return &PubSubPublisher{client: client, topic: topic}
}

// Publish implements Publisher
func (p *PubSubPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	attrs := map[string]string{
		"task_id": e.TaskID,
		"status":  string(e.Status),
	}
	if err := p.client.PublishMessage(ctx, p.topic, data, attrs); err != nil {
		return fmt.Errorf("failed to publish event for task %s: %w", e.TaskID, err)
	}
	return nil
}

// LogPublisher writes events to the standard logger
type LogPublisher struct{}

// Publish implements Publisher
func (LogPublisher) Publish(ctx context.Context, e Event) error {
	log.Printf("Task %s: %s (%s) %s", e.TaskID, e.Status, e.Phase, e.Message)
	return nil
}

// Multi fans an event out to several publishers and joins their errors
type Multi []Publisher

// Publish implements Publisher
func (m Multi) Publish(ctx context.Context, e Event) error {
	var failed []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d publishers failed: %v", len(failed), len(m), failed)
	}
	return nil
}
