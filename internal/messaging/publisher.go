package messaging

import (
	"context"

	"github.com/collectible-market/chain-sync/internal/domain"
)

// Publisher defines the interface for publishing persisted events to the
// message broker for downstream consumers (feed builders, notifications)
//
//go:generate mockgen -source=publisher.go -destination=../mocks/publisher.go -package=mocks -mock_names=Publisher=MockPublisher
type Publisher interface {
	// PublishEvent publishes a persisted collectible event to the message broker
	PublishEvent(ctx context.Context, event *domain.EventEnvelope) error
	// Close closes the connection
	Close()
	// CloseChan returns a channel that is closed when the publisher is closed
	CloseChan() <-chan struct{}
}
