package usecases

import (
	"context"

	"go.uber.org/zap"

	"github.com/your-org/docconv/internal/domain"
	"github.com/your-org/docconv/internal/events"
)

// StatusTracker records every status transition in the registry and broadcasts it.
// Failures are logged and never interrupt the conversion that caused them.
type StatusTracker struct {
	registry  domain.DocumentRegistry
	publisher domain.EventPublisher
	logger    *zap.Logger
}

// NewStatusTracker creates a tracker; a nil publisher discards events
func NewStatusTracker(registry domain.DocumentRegistry, publisher domain.EventPublisher, logger *zap.Logger) *StatusTracker {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &StatusTracker{registry: registry, publisher: publisher, logger: logger}
}

// DocumentChanged implements domain.StatusObserver
func (t *StatusTracker) DocumentChanged(ctx context.Context, doc domain.StagedDocument) {
	if err := t.registry.Put(ctx, doc); err != nil {
		t.logger.Warn("cannot register document",
			zap.String("document_id", doc.ID),
			zap.Error(err),
		)
	}
	if err := t.publisher.Publish(ctx, events.EventFor(doc)); err != nil {
		t.logger.Warn("cannot publish document event",
			zap.String("document_id", doc.ID),
			zap.String("status", string(doc.Status)),
			zap.Error(err),
		)
	}
}

var _ domain.StatusObserver = (*StatusTracker)(nil)
