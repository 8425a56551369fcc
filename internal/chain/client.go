package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/collectible-market/chain-sync/internal/adapter"
	"github.com/collectible-market/chain-sync/internal/domain"
	"github.com/collectible-market/chain-sync/internal/logger"
)

// Event signatures of the collectible contract
var (
	// Create(address indexed creator, uint256 indexed tokenId)
	createEventSignature = crypto.Keccak256Hash([]byte("Create(address,uint256)"))

	// Mint(address indexed to, uint256 indexed tokenId, uint256 amount, uint256 income, uint256 ownerFee, uint256 profit)
	mintEventSignature = crypto.Keccak256Hash([]byte("Mint(address,uint256,uint256,uint256,uint256,uint256)"))

	// ERC1155 TransferSingle(address indexed operator, address indexed from, address indexed to, uint256 id, uint256 value)
	transferSingleEventSignature = crypto.Keccak256Hash([]byte("TransferSingle(address,address,address,uint256,uint256)"))

	// ERC1155 TransferBatch(address indexed operator, address indexed from, address indexed to, uint256[] ids, uint256[] values)
	transferBatchEventSignature = crypto.Keccak256Hash([]byte("TransferBatch(address,address,address,uint256[],uint256[])"))
)

// TopicFor returns the topic hash that identifies an event kind in chain logs
func TopicFor(kind domain.EventKind) common.Hash {
	switch kind {
	case domain.EventKindCreate:
		return createEventSignature
	case domain.EventKindMint:
		return mintEventSignature
	case domain.EventKindTransferSingle:
		return transferSingleEventSignature
	case domain.EventKindTransferBatch:
		return transferBatchEventSignature
	}
	return common.Hash{}
}

// LogSource is the chain boundary the sync engine depends on: range queries
// over historical logs, live subscriptions, and block metadata.
//
//go:generate mockgen -source=client.go -destination=../mocks/log_source.go -package=mocks -mock_names=LogSource=MockLogSource
type LogSource interface {
	// FilterLogs returns all contract logs of the given kind in [fromBlock, toBlock],
	// ordered by (blockNumber, logIndex)
	FilterLogs(ctx context.Context, kind domain.EventKind, fromBlock, toBlock uint64) ([]types.Log, error)

	// SubscribeLogs registers a live filter for the given kind and streams
	// matching logs into ch until the subscription is unsubscribed
	SubscribeLogs(ctx context.Context, kind domain.EventKind, ch chan<- types.Log) (ethereum.Subscription, error)

	// HeadBlock returns the current chain head block number
	HeadBlock(ctx context.Context) (uint64, error)

	// BlockTime returns the timestamp of a block
	BlockTime(ctx context.Context, blockNumber uint64) (time.Time, error)

	// Close closes the underlying connection
	Close()
}

type client struct {
	contract common.Address
	eth      adapter.EthClient
	clock    adapter.Clock
}

// NewClient creates a LogSource scoped to one collectible contract
func NewClient(contractAddress string, eth adapter.EthClient, clock adapter.Clock) LogSource {
	return &client{
		contract: common.HexToAddress(contractAddress),
		eth:      eth,
		clock:    clock,
	}
}

func (c *client) query(kind domain.EventKind, fromBlock, toBlock *big.Int) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{TopicFor(kind)}},
	}
}

// FilterLogs returns all contract logs of the given kind in [fromBlock, toBlock]
func (c *client) FilterLogs(ctx context.Context, kind domain.EventKind, fromBlock, toBlock uint64) ([]types.Log, error) {
	query := c.query(kind, new(big.Int).SetUint64(fromBlock), new(big.Int).SetUint64(toBlock))

	var logs []types.Log
	operation := func() error {
		var err error
		logs, err = c.eth.FilterLogs(ctx, query)
		if err == nil {
			return nil
		}
		if isPermanentRPCError(err) {
			return backoff.Permanent(err)
		}
		logger.WarnCtx(ctx, "Retrying log query",
			zap.String("kind", string(kind)),
			zap.Uint64("fromBlock", fromBlock),
			zap.Uint64("toBlock", toBlock),
			zap.Error(err))
		return err
	}

	if err := backoff.Retry(operation, backoff.WithContext(newRPCBackOff(), ctx)); err != nil {
		return nil, fmt.Errorf("failed to filter %s logs in range %d-%d: %w", kind, fromBlock, toBlock, err)
	}

	return logs, nil
}

// SubscribeLogs registers a live filter for the given kind
func (c *client) SubscribeLogs(ctx context.Context, kind domain.EventKind, ch chan<- types.Log) (ethereum.Subscription, error) {
	sub, err := c.eth.SubscribeFilterLogs(ctx, c.query(kind, nil, nil), ch)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", domain.ErrSubscriptionFailed, kind, err)
	}
	return sub, nil
}

// HeadBlock returns the current chain head block number
func (c *client) HeadBlock(ctx context.Context) (uint64, error) {
	var head uint64
	operation := func() error {
		header, err := c.eth.HeaderByNumber(ctx, nil)
		if err != nil {
			return err
		}
		head = header.Number.Uint64()
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(newRPCBackOff(), ctx)); err != nil {
		return 0, fmt.Errorf("failed to get chain head: %w", err)
	}

	return head, nil
}

// BlockTime returns the timestamp of a block
func (c *client) BlockTime(ctx context.Context, blockNumber uint64) (time.Time, error) {
	var timestamp time.Time
	operation := func() error {
		block, err := c.eth.BlockByNumber(ctx, new(big.Int).SetUint64(blockNumber))
		if err != nil {
			return err
		}
		timestamp = c.clock.Unix(int64(block.Time()), 0) //nolint:gosec,G115 // block.Time() returns a uint64 from geth which is safe to cast
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(newRPCBackOff(), ctx)); err != nil {
		return time.Time{}, fmt.Errorf("failed to get block %d: %w", blockNumber, err)
	}

	return timestamp, nil
}

// Close closes the underlying connection
func (c *client) Close() {
	c.eth.Close()
}

// newRPCBackOff configures the retry policy shared by all chain RPC calls
func newRPCBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.5 // jitter to avoid thundering herd against the provider
	return b
}

// isPermanentRPCError reports errors that retrying cannot fix
func isPermanentRPCError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "invalid argument") ||
		strings.Contains(errStr, "method not found") ||
		strings.Contains(errStr, "not supported")
}
