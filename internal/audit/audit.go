package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Record holds one host or team action for the audit trail. Records are
// pushed to a Redis list and persisted in batches by the auditor process.
type Record struct {
	SessionID uuid.UUID              `json:"session_id"`
	Actor     string                 `json:"actor"`
	Action    string                 `json:"action"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp int64                  `json:"timestamp"`
}

// Publisher pushes audit records onto the queue. Losing a record is
// acceptable; blocking a live session is not, so Record never returns an
// error to the caller.
type Publisher struct {
	client *redis.Client
	queue  string
}

func NewPublisher(client *redis.Client, queue string) *Publisher {
	return &Publisher{client: client, queue: queue}
}

// Publish serializes the record and pushes it onto the Redis queue.
func (p *Publisher) Publish(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}
	if err := p.client.RPush(ctx, p.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", p.queue, err)
	}
	return nil
}

// Record publishes asynchronously with a short timeout, logging failures
// instead of surfacing them.
func (p *Publisher) Record(sessionID uuid.UUID, actor, action string, payload map[string]interface{}) {
	if p == nil {
		return
	}
	rec := Record{
		SessionID: sessionID,
		Actor:     actor,
		Action:    action,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := p.Publish(ctx, rec); err != nil {
			logrus.Warnf("audit: %v", err)
		}
	}()
}
