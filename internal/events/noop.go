package events

import "context"

// NoopPublisher discards messages (used when NATS is not configured).
type NoopPublisher struct{}

func (n *NoopPublisher) Publish(ctx context.Context, msg Message) error {
	return nil
}

func (n *NoopPublisher) Close() error {
	return nil
}
