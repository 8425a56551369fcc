package jetstream

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	natsjs "github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/collectible-market/chain-sync/internal/adapter"
	"github.com/collectible-market/chain-sync/internal/domain"
	"github.com/collectible-market/chain-sync/internal/logger"
	"github.com/collectible-market/chain-sync/internal/messaging"
)

// subjectPrefix is the envelope subject namespace; the event kind is appended
const subjectPrefix = "collectibles.events"

// Config holds the configuration for NATS JetStream connection
type Config struct {
	URL            string
	StreamName     string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectionName string
}

type publisher struct {
	nc         adapter.NatsConn
	js         adapter.JetStream
	streamName string
	json       adapter.JSON
	closeChan  chan struct{}
}

// NewPublisher creates a new NATS JetStream publisher and ensures the target
// stream exists
func NewPublisher(ctx context.Context, cfg Config, natsJS adapter.NatsJetStream, jsonAdapter adapter.JSON) (messaging.Publisher, error) {
	closeChan := make(chan struct{})

	connectionName := cfg.ConnectionName
	if connectionName == "" {
		connectionName = fmt.Sprintf("chain-sync-%s", uuid.NewString())
	}

	opts := []nats.Option{
		nats.Name(connectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, zap.String("message", "Disconnected from NATS"))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
			close(closeChan)
		}),
	}

	nc, js, err := natsJS.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS and create JetStream: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, natsjs.StreamConfig{
		Name:       cfg.StreamName,
		Subjects:   []string{subjectPrefix + ".>"},
		Storage:    natsjs.FileStorage,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream %s: %w", cfg.StreamName, err)
	}

	return &publisher{
		nc:         nc,
		js:         js,
		streamName: cfg.StreamName,
		json:       jsonAdapter,
		closeChan:  closeChan,
	}, nil
}

// PublishEvent publishes a persisted collectible event to NATS JetStream.
// The event key doubles as the Nats-Msg-Id so redeliveries within the
// duplicate window collapse broker-side.
func (p *publisher) PublishEvent(ctx context.Context, event *domain.EventEnvelope) error {
	data, err := p.json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &nats.Msg{
		Subject: fmt.Sprintf("%s.%s", subjectPrefix, event.Kind),
		Data:    data,
	}

	_, err = p.js.PublishMsg(ctx, msg, natsjs.WithMsgID(event.Key().String()))
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Close closes the NATS connection
func (p *publisher) Close() {
	if p.nc == nil {
		return
	}

	p.nc.Close()
}

// CloseChan returns a channel that is closed when the connection is closed
func (p *publisher) CloseChan() <-chan struct{} {
	return p.closeChan
}
