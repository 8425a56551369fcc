package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/collectible-market/chain-sync/internal/domain"
)

const evmWordSize = 32

// uint256ArrayArgs describes TransferBatch's data section: two dynamic
// uint256 arrays (ids and values)
var uint256ArrayArgs abi.Arguments

func init() {
	uint256ArrayType, err := abi.NewType("uint256[]", "", nil)
	if err != nil {
		panic(fmt.Sprintf("failed to construct uint256[] abi type: %s", err))
	}
	uint256ArrayArgs = abi.Arguments{
		{Name: "ids", Type: uint256ArrayType},
		{Name: "values", Type: uint256ArrayType},
	}
}

// CreateLog is a decoded Create event
type CreateLog struct {
	Creator common.Address
	TokenID *big.Int
}

// MintLog is a decoded Mint event
type MintLog struct {
	To       common.Address
	TokenID  *big.Int
	Amount   *big.Int
	Income   *big.Int
	OwnerFee *big.Int
	Profit   *big.Int
}

// TransferLog is a decoded ERC1155 transfer. A TransferSingle always has
// SubIndex 0. A TransferBatch fans out into one TransferLog per (id, value)
// pair with SubIndex running from 0 up.
type TransferLog struct {
	Operator common.Address
	From     common.Address
	To       common.Address
	TokenID  *big.Int
	Value    *big.Int
	SubIndex uint
}

// DecodeCreateLog decodes a Create(address,uint256) log
func DecodeCreateLog(l types.Log) (*CreateLog, error) {
	if len(l.Topics) != 3 {
		return nil, fmt.Errorf("%w: create log %d-%d has %d topics, want 3", domain.ErrMalformedLog, l.BlockNumber, l.Index, len(l.Topics))
	}

	return &CreateLog{
		Creator: common.BytesToAddress(l.Topics[1].Bytes()),
		TokenID: new(big.Int).SetBytes(l.Topics[2].Bytes()),
	}, nil
}

// DecodeMintLog decodes a Mint(address,uint256,uint256,uint256,uint256,uint256) log
func DecodeMintLog(l types.Log) (*MintLog, error) {
	if len(l.Topics) != 3 {
		return nil, fmt.Errorf("%w: mint log %d-%d has %d topics, want 3", domain.ErrMalformedLog, l.BlockNumber, l.Index, len(l.Topics))
	}
	if len(l.Data) != 4*evmWordSize {
		return nil, fmt.Errorf("%w: mint log %d-%d has %d data bytes, want %d", domain.ErrMalformedLog, l.BlockNumber, l.Index, len(l.Data), 4*evmWordSize)
	}

	return &MintLog{
		To:       common.BytesToAddress(l.Topics[1].Bytes()),
		TokenID:  new(big.Int).SetBytes(l.Topics[2].Bytes()),
		Amount:   new(big.Int).SetBytes(l.Data[0:32]),
		Income:   new(big.Int).SetBytes(l.Data[32:64]),
		OwnerFee: new(big.Int).SetBytes(l.Data[64:96]),
		Profit:   new(big.Int).SetBytes(l.Data[96:128]),
	}, nil
}

// DecodeTransferSingleLog decodes an ERC1155 TransferSingle log into a
// single-element slice so callers handle both transfer shapes uniformly
func DecodeTransferSingleLog(l types.Log) ([]TransferLog, error) {
	if len(l.Topics) != 4 {
		return nil, fmt.Errorf("%w: transfer single log %d-%d has %d topics, want 4", domain.ErrMalformedLog, l.BlockNumber, l.Index, len(l.Topics))
	}
	if len(l.Data) != 2*evmWordSize {
		return nil, fmt.Errorf("%w: transfer single log %d-%d has %d data bytes, want %d", domain.ErrMalformedLog, l.BlockNumber, l.Index, len(l.Data), 2*evmWordSize)
	}

	return []TransferLog{{
		Operator: common.BytesToAddress(l.Topics[1].Bytes()),
		From:     common.BytesToAddress(l.Topics[2].Bytes()),
		To:       common.BytesToAddress(l.Topics[3].Bytes()),
		TokenID:  new(big.Int).SetBytes(l.Data[0:32]),
		Value:    new(big.Int).SetBytes(l.Data[32:64]),
		SubIndex: 0,
	}}, nil
}

// DecodeTransferBatchLog decodes an ERC1155 TransferBatch log into one
// TransferLog per (id, value) pair, with SubIndex preserving pair order
func DecodeTransferBatchLog(l types.Log) ([]TransferLog, error) {
	if len(l.Topics) != 4 {
		return nil, fmt.Errorf("%w: transfer batch log %d-%d has %d topics, want 4", domain.ErrMalformedLog, l.BlockNumber, l.Index, len(l.Topics))
	}

	unpacked, err := uint256ArrayArgs.Unpack(l.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: transfer batch log %d-%d data: %s", domain.ErrMalformedLog, l.BlockNumber, l.Index, err)
	}

	ids, ok := unpacked[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: transfer batch log %d-%d ids are not uint256[]", domain.ErrMalformedLog, l.BlockNumber, l.Index)
	}
	values, ok := unpacked[1].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: transfer batch log %d-%d values are not uint256[]", domain.ErrMalformedLog, l.BlockNumber, l.Index)
	}
	if len(ids) != len(values) {
		return nil, fmt.Errorf("%w: transfer batch log %d-%d has %d ids but %d values", domain.ErrMalformedLog, l.BlockNumber, l.Index, len(ids), len(values))
	}

	operator := common.BytesToAddress(l.Topics[1].Bytes())
	from := common.BytesToAddress(l.Topics[2].Bytes())
	to := common.BytesToAddress(l.Topics[3].Bytes())

	transfers := make([]TransferLog, 0, len(ids))
	for i := range ids {
		transfers = append(transfers, TransferLog{
			Operator: operator,
			From:     from,
			To:       to,
			TokenID:  ids[i],
			Value:    values[i],
			SubIndex: uint(i), //nolint:gosec,G115 // batch sizes are bounded by block gas limits
		})
	}

	return transfers, nil
}
