package jetstream_test

import (
	"context"
	"errors"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/nats-io/nats.go"
	natsjs "github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collectible-market/chain-sync/internal/adapter"
	"github.com/collectible-market/chain-sync/internal/domain"
	"github.com/collectible-market/chain-sync/internal/logger"
	"github.com/collectible-market/chain-sync/internal/messaging"
	"github.com/collectible-market/chain-sync/internal/mocks"
	"github.com/collectible-market/chain-sync/internal/providers/jetstream"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}

	code := m.Run()
	os.Exit(code)
}

var testConfig = jetstream.Config{
	URL:            "nats://localhost:4222",
	StreamName:     "COLLECTIBLE_EVENTS",
	MaxReconnects:  5,
	ReconnectWait:  time.Second,
	ConnectionName: "chain-sync-test",
}

// testPublisherMocks contains all the mocks needed for testing the publisher
type testPublisherMocks struct {
	ctrl     *gomock.Controller
	natsJS   *mocks.MockNatsJetStream
	nc       *mocks.MockNatsConn
	js       *mocks.MockJetStream
	captured []nats.Option
}

func setupPublisherTest(t *testing.T) *testPublisherMocks {
	ctrl := gomock.NewController(t)

	return &testPublisherMocks{
		ctrl:   ctrl,
		natsJS: mocks.NewMockNatsJetStream(ctrl),
		nc:     mocks.NewMockNatsConn(ctrl),
		js:     mocks.NewMockJetStream(ctrl),
	}
}

func tearDownPublisherTest(m *testPublisherMocks) {
	m.ctrl.Finish()
}

// expectConnect wires the happy connection path, capturing the nats options
// so tests can exercise the registered handlers
func expectConnect(m *testPublisherMocks) {
	m.natsJS.EXPECT().Connect(testConfig.URL, gomock.Any()).DoAndReturn(
		func(_ string, options ...nats.Option) (adapter.NatsConn, adapter.JetStream, error) {
			m.captured = options
			return m.nc, m.js, nil
		})
}

func newTestPublisher(t *testing.T, m *testPublisherMocks) messaging.Publisher {
	expectConnect(m)
	m.js.EXPECT().CreateOrUpdateStream(gomock.Any(), gomock.Any()).Return(nil, nil)

	p, err := jetstream.NewPublisher(context.Background(), testConfig, m.natsJS, adapter.NewJSON())
	require.NoError(t, err)
	return p
}

func TestNewPublisherCreatesStream(t *testing.T) {
	m := setupPublisherTest(t)
	defer tearDownPublisherTest(m)

	expectConnect(m)
	m.js.EXPECT().CreateOrUpdateStream(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, cfg natsjs.StreamConfig) (natsjs.Stream, error) {
			assert.Equal(t, "COLLECTIBLE_EVENTS", cfg.Name)
			assert.Equal(t, []string{"collectibles.events.>"}, cfg.Subjects)
			assert.Equal(t, natsjs.FileStorage, cfg.Storage)
			assert.Equal(t, 2*time.Minute, cfg.Duplicates)
			return nil, nil
		})

	p, err := jetstream.NewPublisher(context.Background(), testConfig, m.natsJS, adapter.NewJSON())
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestNewPublisherConnectError(t *testing.T) {
	m := setupPublisherTest(t)
	defer tearDownPublisherTest(m)

	m.natsJS.EXPECT().Connect(testConfig.URL, gomock.Any()).
		Return(nil, nil, errors.New("connection refused"))

	_, err := jetstream.NewPublisher(context.Background(), testConfig, m.natsJS, adapter.NewJSON())
	assert.ErrorContains(t, err, "failed to connect to NATS")
}

func TestNewPublisherStreamErrorClosesConnection(t *testing.T) {
	m := setupPublisherTest(t)
	defer tearDownPublisherTest(m)

	expectConnect(m)
	m.js.EXPECT().CreateOrUpdateStream(gomock.Any(), gomock.Any()).
		Return(nil, errors.New("stream rejected"))
	m.nc.EXPECT().Close()

	_, err := jetstream.NewPublisher(context.Background(), testConfig, m.natsJS, adapter.NewJSON())
	assert.ErrorContains(t, err, "failed to create stream")
}

func TestPublishEvent(t *testing.T) {
	m := setupPublisherTest(t)
	defer tearDownPublisherTest(m)

	p := newTestPublisher(t, m)

	fromID := "user-1"
	toID := "user-2"
	event := &domain.EventEnvelope{
		Kind: domain.EventKindTransferSingle,
		Transfer: &domain.TransferEvent{
			FromID:        &fromID,
			ToID:          &toID,
			CollectibleID: "0x7",
			Value:         big.NewInt(5),
			BlockNumber:   100,
			LogIndex:      2,
		},
	}

	m.js.EXPECT().PublishMsg(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, msg *nats.Msg, opts ...natsjs.PublishOpt) (*natsjs.PubAck, error) {
			assert.Equal(t, "collectibles.events.transfer_single", msg.Subject)

			var published domain.EventEnvelope
			require.NoError(t, adapter.NewJSON().Unmarshal(msg.Data, &published))
			assert.Equal(t, domain.EventKindTransferSingle, published.Kind)
			require.NotNil(t, published.Transfer)
			assert.Equal(t, "0x7", published.Transfer.CollectibleID)

			// The event key rides along as the deduplication message ID
			assert.Len(t, opts, 1)
			return &natsjs.PubAck{}, nil
		})

	err := p.PublishEvent(context.Background(), event)
	assert.NoError(t, err)
}

func TestPublishEventBrokerError(t *testing.T) {
	m := setupPublisherTest(t)
	defer tearDownPublisherTest(m)

	p := newTestPublisher(t, m)

	event := &domain.EventEnvelope{
		Kind:   domain.EventKindCreate,
		Create: &domain.CreateEvent{CreatorID: "user-1", CollectibleID: "0x7", BlockNumber: 100},
	}

	m.js.EXPECT().PublishMsg(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("no responders"))

	err := p.PublishEvent(context.Background(), event)
	assert.ErrorContains(t, err, "failed to publish event")
}

func TestPublishEventMarshalError(t *testing.T) {
	m := setupPublisherTest(t)
	defer tearDownPublisherTest(m)

	mockJSON := mocks.NewMockJSON(m.ctrl)

	expectConnect(m)
	m.js.EXPECT().CreateOrUpdateStream(gomock.Any(), gomock.Any()).Return(nil, nil)

	p, err := jetstream.NewPublisher(context.Background(), testConfig, m.natsJS, mockJSON)
	require.NoError(t, err)

	mockJSON.EXPECT().Marshal(gomock.Any()).Return(nil, errors.New("cyclic value"))

	err = p.PublishEvent(context.Background(), &domain.EventEnvelope{
		Kind:   domain.EventKindCreate,
		Create: &domain.CreateEvent{},
	})
	assert.ErrorContains(t, err, "failed to marshal event")
}

func TestCloseChanSignalsConnectionClosed(t *testing.T) {
	m := setupPublisherTest(t)
	defer tearDownPublisherTest(m)

	p := newTestPublisher(t, m)

	select {
	case <-p.CloseChan():
		t.Fatal("close channel closed before the connection")
	default:
	}

	// Apply the captured options and fire the closed handler the way the
	// nats client would on terminal disconnect
	options := nats.GetDefaultOptions()
	for _, opt := range m.captured {
		require.NoError(t, opt(&options))
	}
	require.NotNil(t, options.ClosedCB)
	options.ClosedCB(nil)

	select {
	case <-p.CloseChan():
	case <-time.After(time.Second):
		t.Fatal("close channel not closed")
	}
}

func TestClose(t *testing.T) {
	m := setupPublisherTest(t)
	defer tearDownPublisherTest(m)

	p := newTestPublisher(t, m)

	m.nc.EXPECT().Close()
	p.Close()
}
