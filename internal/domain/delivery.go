package domain

import "context"

// Deliverer posts conversion results to the downstream consumer
type Deliverer interface {
	Deliver(ctx context.Context, req DeliveryRequest) WebhookDeliveryOutcome
	DeliverBatch(ctx context.Context, reqs []DeliveryRequest) []WebhookDeliveryOutcome
}

// EventPublisher broadcasts document status events
type EventPublisher interface {
	Publish(ctx context.Context, event DocumentEvent) error
	Close() error
}
