package sync_test

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"testing"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collectible-market/chain-sync/internal/domain"
	"github.com/collectible-market/chain-sync/internal/mocks"
	"github.com/collectible-market/chain-sync/internal/sync"
)

// testBackfillerMocks contains all the mocks needed for testing the backfiller
type testBackfillerMocks struct {
	ctrl       *gomock.Controller
	source     *mocks.MockLogSource
	projector  *mocks.MockProjector
	backfiller *sync.Backfiller
}

func setupBackfillerTest(t *testing.T, pageBlocks uint64) *testBackfillerMocks {
	ctrl := gomock.NewController(t)

	mockSource := mocks.NewMockLogSource(ctrl)
	mockProjector := mocks.NewMockProjector(ctrl)

	pool := pond.NewPool(1)
	t.Cleanup(pool.StopAndWait)

	return &testBackfillerMocks{
		ctrl:       ctrl,
		source:     mockSource,
		projector:  mockProjector,
		backfiller: sync.NewBackfiller(mockSource, mockProjector, pool, pageBlocks),
	}
}

func tearDownBackfillerTest(m *testBackfillerMocks) {
	m.ctrl.Finish()
}

// recordProjections returns a gomock DoAndReturn callback counting projected
// logs per event key, safe for the concurrent page workers
func recordProjections(counts map[string]int) (func(context.Context, domain.EventKind, types.Log) error, *gosync.Mutex) {
	var mu gosync.Mutex
	return func(_ context.Context, _ domain.EventKind, l types.Log) error {
		mu.Lock()
		defer mu.Unlock()
		counts[fmt.Sprintf("%d-%d", l.BlockNumber, l.Index)]++
		return nil
	}, &mu
}

func TestBackfillExhaustedRange(t *testing.T) {
	m := setupBackfillerTest(t, 100)
	defer tearDownBackfillerTest(m)

	cursor := sync.NewCursor(200)

	result, err := m.backfiller.Run(context.Background(), domain.EventKindCreate, cursor, 150)
	assert.NoError(t, err)
	assert.Equal(t, uint64(200), result.FromBlock)
}

func TestBackfillSinglePage(t *testing.T) {
	m := setupBackfillerTest(t, 100)
	defer tearDownBackfillerTest(m)

	logs := []types.Log{
		{BlockNumber: 120, Index: 0},
		{BlockNumber: 150, Index: 1},
		{BlockNumber: 150, Index: 2},
	}
	m.source.EXPECT().FilterLogs(gomock.Any(), domain.EventKindCreate, uint64(100), uint64(150)).Return(logs, nil)

	counts := map[string]int{}
	record, mu := recordProjections(counts)
	m.projector.EXPECT().Project(gomock.Any(), domain.EventKindCreate, gomock.Any()).DoAndReturn(record).Times(3)

	result, err := m.backfiller.Run(context.Background(), domain.EventKindCreate, sync.NewCursor(100), 150)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{"120-0": 1, "150-1": 1, "150-2": 1}, counts)

	// The resume cursor guards the boundary block's projected indices
	assert.Equal(t, uint64(150), result.FromBlock)
	assert.True(t, result.Seen(1))
	assert.True(t, result.Seen(2))
	assert.False(t, result.Seen(0))
}

func TestBackfillBoundaryDeduplication(t *testing.T) {
	m := setupBackfillerTest(t, 10)
	defer tearDownBackfillerTest(m)

	// The boundary log at 109-3 is returned by both pages but must be
	// projected only once
	page1 := []types.Log{
		{BlockNumber: 105, Index: 0},
		{BlockNumber: 109, Index: 3},
	}
	page2 := []types.Log{
		{BlockNumber: 109, Index: 3},
		{BlockNumber: 112, Index: 1},
	}
	gomock.InOrder(
		m.source.EXPECT().FilterLogs(gomock.Any(), domain.EventKindTransferSingle, uint64(100), uint64(109)).Return(page1, nil),
		m.source.EXPECT().FilterLogs(gomock.Any(), domain.EventKindTransferSingle, uint64(109), uint64(115)).Return(page2, nil),
	)

	counts := map[string]int{}
	record, mu := recordProjections(counts)
	m.projector.EXPECT().Project(gomock.Any(), domain.EventKindTransferSingle, gomock.Any()).DoAndReturn(record).Times(3)

	result, err := m.backfiller.Run(context.Background(), domain.EventKindTransferSingle, sync.NewCursor(100), 115)
	require.NoError(t, err)
	assert.Equal(t, uint64(115), result.FromBlock)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{"105-0": 1, "109-3": 1, "112-1": 1}, counts)
}

func TestBackfillSingleBlockPages(t *testing.T) {
	m := setupBackfillerTest(t, 1)
	defer tearDownBackfillerTest(m)

	gomock.InOrder(
		m.source.EXPECT().FilterLogs(gomock.Any(), domain.EventKindMint, uint64(100), uint64(100)).
			Return([]types.Log{{BlockNumber: 100, Index: 0}}, nil),
		m.source.EXPECT().FilterLogs(gomock.Any(), domain.EventKindMint, uint64(101), uint64(101)).
			Return(nil, nil),
		m.source.EXPECT().FilterLogs(gomock.Any(), domain.EventKindMint, uint64(102), uint64(102)).
			Return(nil, nil),
	)
	m.projector.EXPECT().Project(gomock.Any(), domain.EventKindMint, gomock.Any()).Return(nil)

	result, err := m.backfiller.Run(context.Background(), domain.EventKindMint, sync.NewCursor(100), 102)
	require.NoError(t, err)
	assert.Equal(t, uint64(102), result.FromBlock)
}

func TestBackfillResumeSkipsProjectedBoundaryLogs(t *testing.T) {
	m := setupBackfillerTest(t, 10)
	defer tearDownBackfillerTest(m)

	// A cursor from an earlier run: block 109 partially projected
	cursor := sync.Cursor{
		FromBlock:      109,
		SeenLogIndices: map[uint]struct{}{3: {}},
	}

	m.source.EXPECT().FilterLogs(gomock.Any(), domain.EventKindCreate, uint64(109), uint64(109)).
		Return([]types.Log{
			{BlockNumber: 109, Index: 3},
			{BlockNumber: 109, Index: 4},
		}, nil)

	counts := map[string]int{}
	record, mu := recordProjections(counts)
	m.projector.EXPECT().Project(gomock.Any(), domain.EventKindCreate, gomock.Any()).DoAndReturn(record)

	result, err := m.backfiller.Run(context.Background(), domain.EventKindCreate, cursor, 109)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{"109-4": 1}, counts)

	// Both the carried-over and the newly projected index guard the boundary
	assert.Equal(t, uint64(109), result.FromBlock)
	assert.True(t, result.Seen(3))
	assert.True(t, result.Seen(4))
}

func TestBackfillSkipsMalformedLogs(t *testing.T) {
	m := setupBackfillerTest(t, 100)
	defer tearDownBackfillerTest(m)

	logs := []types.Log{
		{BlockNumber: 101, Index: 0},
		{BlockNumber: 102, Index: 0},
	}
	m.source.EXPECT().FilterLogs(gomock.Any(), domain.EventKindCreate, uint64(100), uint64(110)).Return(logs, nil)

	m.projector.EXPECT().Project(gomock.Any(), domain.EventKindCreate, logs[0]).
		Return(fmt.Errorf("%w: truncated data", domain.ErrMalformedLog))
	m.projector.EXPECT().Project(gomock.Any(), domain.EventKindCreate, logs[1]).Return(nil)

	result, err := m.backfiller.Run(context.Background(), domain.EventKindCreate, sync.NewCursor(100), 110)
	assert.NoError(t, err)
	assert.Equal(t, uint64(110), result.FromBlock)
}

func TestBackfillAbortsOnInfrastructureError(t *testing.T) {
	m := setupBackfillerTest(t, 100)
	defer tearDownBackfillerTest(m)

	logs := []types.Log{{BlockNumber: 101, Index: 0}}
	m.source.EXPECT().FilterLogs(gomock.Any(), domain.EventKindCreate, uint64(100), uint64(110)).Return(logs, nil)
	m.projector.EXPECT().Project(gomock.Any(), domain.EventKindCreate, logs[0]).
		Return(errors.New("database unavailable"))

	_, err := m.backfiller.Run(context.Background(), domain.EventKindCreate, sync.NewCursor(100), 110)
	assert.ErrorContains(t, err, "database unavailable")
}

func TestBackfillAbortsOnFilterError(t *testing.T) {
	m := setupBackfillerTest(t, 100)
	defer tearDownBackfillerTest(m)

	m.source.EXPECT().FilterLogs(gomock.Any(), domain.EventKindCreate, uint64(100), uint64(110)).
		Return(nil, errors.New("rpc timeout"))

	_, err := m.backfiller.Run(context.Background(), domain.EventKindCreate, sync.NewCursor(100), 110)
	assert.ErrorContains(t, err, "rpc timeout")
}
