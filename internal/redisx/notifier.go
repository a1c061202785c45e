package redisx

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
	"github.com/redis/go-redis/v9"
)

// Notifier publishes order notifications on the owner's pub/sub channel.
type Notifier struct {
	Redis *redis.Client
}

func (n *Notifier) Notify(ctx context.Context, note orders.Notification) error {
	b, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("redisx: encode notification: %w", err)
	}
	return n.Redis.Publish(ctx, note.Channel(), b).Err()
}
