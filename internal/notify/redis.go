package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/beamsim/spearsim/internal/protocol"
)

// Publisher is the subset of the Redis client used for fault publication.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisNotifier publishes system.fault messages on the fault channel so
// monitors and dashboards see Down transitions without polling.
type RedisNotifier struct {
	client  Publisher
	source  protocol.Source
	channel string
}

// NewRedisNotifier creates a Redis pub/sub backend.
func NewRedisNotifier(client Publisher, source protocol.Source) *RedisNotifier {
	return &RedisNotifier{
		client:  client,
		source:  source,
		channel: protocol.FaultChannel,
	}
}

// Notify publishes one fault message.
func (n *RedisNotifier) Notify(ctx context.Context, ev Event) error {
	msg, err := protocol.NewMessage(n.source, protocol.TypeSystemFault, protocol.FaultPayload{
		Mode:        ev.Mode,
		PriorMode:   ev.PriorMode,
		Reason:      ev.Reason,
		Description: ev.Message,
	})
	if err != nil {
		return fmt.Errorf("build fault message: %w", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal fault message: %w", err)
	}

	if err := n.client.Publish(ctx, n.channel, data).Err(); err != nil {
		return fmt.Errorf("publish fault: %w", err)
	}
	return nil
}
