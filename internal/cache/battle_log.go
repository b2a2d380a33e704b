package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list battle events are pushed to for the historian.
const DefaultQueueName = "battle_events"

// BattleEventRecord is one archived battle event.
type BattleEventRecord struct {
	BattleID    string                 `json:"battle_id"`
	ActorUserID uuid.UUID              `json:"actor_user_id"`
	EventType   string                 `json:"event_type"`
	Payload     map[string]interface{} `json:"payload"`
	Timestamp   int64                  `json:"timestamp"`
}

// Publisher pushes BattleEventRecords onto a Redis list.
type Publisher struct {
	rdb   redis.UniversalClient
	queue string
}

// NewPublisher returns a Publisher for queue (DefaultQueueName when empty).
func NewPublisher(rdb redis.UniversalClient, queue string) *Publisher {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &Publisher{rdb: rdb, queue: queue}
}

// Queue is the list name records are pushed to.
func (p *Publisher) Queue() string { return p.queue }

// Publish serializes the given record to JSON, then pushes it to the Redis queue.
func (p *Publisher) Publish(ctx context.Context, record BattleEventRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal BattleEventRecord: %w", err)
	}
	if err := p.rdb.RPush(ctx, p.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", p.queue, err)
	}
	return nil
}
