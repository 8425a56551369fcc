package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind identifies one of the collectible contract event types the sync
// pipeline tracks. Each kind is synced independently and lands in its own table.
type EventKind string

const (
	EventKindCreate         EventKind = "create"
	EventKindMint           EventKind = "mint"
	EventKindTransferSingle EventKind = "transfer_single"
	EventKindTransferBatch  EventKind = "transfer_batch"
)

// EventKinds lists every kind the engine runs a sync loop for.
var EventKinds = []EventKind{
	EventKindCreate,
	EventKindMint,
	EventKindTransferSingle,
	EventKindTransferBatch,
}

// IsValidEventKind checks if an event kind is valid
func IsValidEventKind(kind EventKind) bool {
	switch kind {
	case EventKindCreate, EventKindMint, EventKindTransferSingle, EventKindTransferBatch:
		return true
	}
	return false
}

// EventKey is the unique identity of a persisted event. SubIndex is always 0
// except for events fanned out of a TransferBatch log, where it is the
// position within the batched arrays.
type EventKey struct {
	BlockNumber uint64
	LogIndex    uint
	SubIndex    uint
}

// Less orders keys by (blockNumber, logIndex, subIndex)
func (k EventKey) Less(other EventKey) bool {
	if k.BlockNumber != other.BlockNumber {
		return k.BlockNumber < other.BlockNumber
	}
	if k.LogIndex != other.LogIndex {
		return k.LogIndex < other.LogIndex
	}
	return k.SubIndex < other.SubIndex
}

// String returns the canonical "block-logIndex-subIndex" form, also used as
// the broker-side dedupe ID when events are published.
func (k EventKey) String() string {
	return fmt.Sprintf("%d-%d-%d", k.BlockNumber, k.LogIndex, k.SubIndex)
}

// CreateEvent records a collectible being declared on-chain by its creator.
type CreateEvent struct {
	CreatorID     string    `json:"creator_id"`
	CollectibleID string    `json:"collectible_id"`
	BlockNumber   uint64    `json:"block_number"`
	LogIndex      uint      `json:"log_index"`
	TxHash        string    `json:"tx_hash"`
	CreatedAt     time.Time `json:"created_at"`

	// Raw is the source chain log, kept for auditing
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Key returns the unique identity of the event
func (e *CreateEvent) Key() EventKey {
	return EventKey{BlockNumber: e.BlockNumber, LogIndex: e.LogIndex}
}

// MintEvent records editions of a collectible being minted to a buyer.
// All amounts are wei-scale integers and routinely exceed 64-bit range.
type MintEvent struct {
	ToID          string    `json:"to_id"`
	CollectibleID string    `json:"collectible_id"`
	Amount        *big.Int  `json:"amount"`
	Income        *big.Int  `json:"income"`
	OwnerFee      *big.Int  `json:"owner_fee"`
	Profit        *big.Int  `json:"profit"`
	BlockNumber   uint64    `json:"block_number"`
	LogIndex      uint      `json:"log_index"`
	TxHash        string    `json:"tx_hash"`
	CreatedAt     time.Time `json:"created_at"`

	// Raw is the source chain log, kept for auditing
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Key returns the unique identity of the event
func (e *MintEvent) Key() EventKey {
	return EventKey{BlockNumber: e.BlockNumber, LogIndex: e.LogIndex}
}

// TransferEvent records editions moving between users. A nil FromID means the
// transfer mints value out of the zero address; a nil ToID means a burn.
// Balance aggregation skips nil sides.
type TransferEvent struct {
	FromID        *string   `json:"from_id"`
	ToID          *string   `json:"to_id"`
	CollectibleID string    `json:"collectible_id"`
	SubIndex      uint      `json:"sub_index"`
	Value         *big.Int  `json:"value"`
	BlockNumber   uint64    `json:"block_number"`
	LogIndex      uint      `json:"log_index"`
	TxHash        string    `json:"tx_hash"`
	CreatedAt     time.Time `json:"created_at"`

	// Raw is the source chain log, kept for auditing
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Key returns the unique identity of the event
func (e *TransferEvent) Key() EventKey {
	return EventKey{BlockNumber: e.BlockNumber, LogIndex: e.LogIndex, SubIndex: e.SubIndex}
}

// EventEnvelope is the normalized form published to the message broker after
// an event has been persisted. Exactly one of Create/Mint/Transfer is set,
// matching Kind.
type EventEnvelope struct {
	Kind     EventKind      `json:"kind"`
	Create   *CreateEvent   `json:"create,omitempty"`
	Mint     *MintEvent     `json:"mint,omitempty"`
	Transfer *TransferEvent `json:"transfer,omitempty"`
}

// Key returns the identity of the wrapped event
func (e *EventEnvelope) Key() EventKey {
	switch e.Kind {
	case EventKindCreate:
		return e.Create.Key()
	case EventKindMint:
		return e.Mint.Key()
	default:
		return e.Transfer.Key()
	}
}

// CollectibleIDFromTokenID renders an on-chain uint256 token ID as the 0x-hex
// string used as the collectible primary key across the marketplace tables.
func CollectibleIDFromTokenID(tokenID *big.Int) string {
	return "0x" + strings.ToLower(tokenID.Text(16))
}

// ZeroAddress is the on-chain sentinel for "no account"; transfers from it
// are mints, transfers to it are burns. It never gets a User row.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// IsZeroAddress reports whether an address is the zero sentinel
func IsZeroAddress(address common.Address) bool {
	return address == (common.Address{})
}

// NormalizeAddress normalizes an address to its EIP-55 checksummed form,
// which is the format user rows are keyed by.
func NormalizeAddress(address string) string {
	return common.HexToAddress(address).Hex()
}
