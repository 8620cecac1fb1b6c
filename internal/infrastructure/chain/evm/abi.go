package evmchain

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/arkade-os/solverd/internal/core/ports"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SettlerABI covers both sides of the settlement contracts: the input settler
// on the origin chain emits Open and settles, the output settler on the
// destination chain takes fills.
const SettlerABI = `[
	{
		"anonymous": false,
		"name": "Open",
		"type": "event",
		"inputs": [
			{"indexed": true, "name": "orderId", "type": "bytes32"},
			{"indexed": false, "name": "user", "type": "address"},
			{"indexed": false, "name": "inputToken", "type": "address"},
			{"indexed": false, "name": "inputAmount", "type": "uint256"},
			{"indexed": false, "name": "destinationChainId", "type": "uint256"},
			{"indexed": false, "name": "outputToken", "type": "address"},
			{"indexed": false, "name": "outputAmount", "type": "uint256"},
			{"indexed": false, "name": "recipient", "type": "address"},
			{"indexed": false, "name": "openDeadline", "type": "uint32"},
			{"indexed": false, "name": "fillDeadline", "type": "uint32"}
		]
	},
	{
		"name": "fill",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "orderId", "type": "bytes32"},
			{"name": "token", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{"name": "recipient", "type": "address"}
		],
		"outputs": []
	},
	{
		"name": "isFilled",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "orderId", "type": "bytes32"}],
		"outputs": [{"name": "", "type": "bool"}]
	},
	{
		"name": "settle",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [{"name": "orderId", "type": "bytes32"}],
		"outputs": []
	},
	{
		"name": "canSettle",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "orderId", "type": "bytes32"}],
		"outputs": [{"name": "", "type": "bool"}]
	},
	{
		"name": "getOrder",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "orderId", "type": "bytes32"}],
		"outputs": [{"name": "status", "type": "uint8"}]
	}
]`

const ERC20ABI = `[
	{
		"name": "balanceOf",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "account", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}]
	}
]`

var (
	settlerABI = mustParseABI(SettlerABI)
	erc20ABI   = mustParseABI(ERC20ABI)

	// OpenEventId is topic0 of the Open logs.
	OpenEventId = settlerABI.Events["Open"].ID
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid abi: %s", err))
	}
	return parsed
}

type openEvent struct {
	User               common.Address
	InputToken         common.Address
	InputAmount        *big.Int
	DestinationChainId *big.Int
	OutputToken        common.Address
	OutputAmount       *big.Int
	Recipient          common.Address
	OpenDeadline       uint32
	FillDeadline       uint32
}

// decodeOpenLog turns an Open log emitted on sourceChain into a discovered
// intent.
func decodeOpenLog(sourceChain uint64, log ports.ChainLog) (*domain.Intent, error) {
	if len(log.Topics) < 2 {
		return nil, fmt.Errorf("expected 2 topics, got %d", len(log.Topics))
	}
	if common.HexToHash(log.Topics[0]) != OpenEventId {
		return nil, fmt.Errorf("unexpected event topic %s", log.Topics[0])
	}
	orderId, err := hexutil.Decode(log.Topics[1])
	if err != nil || len(orderId) != 32 {
		return nil, fmt.Errorf("invalid order id topic %s", log.Topics[1])
	}

	var event openEvent
	if err := settlerABI.UnpackIntoInterface(&event, "Open", log.Data); err != nil {
		return nil, fmt.Errorf("failed to unpack open event: %w", err)
	}
	if event.DestinationChainId == nil || !event.DestinationChainId.IsUint64() {
		return nil, fmt.Errorf("destination chain id out of range")
	}
	if event.FillDeadline < event.OpenDeadline {
		return nil, fmt.Errorf(
			"fill deadline %d precedes open deadline %d", event.FillDeadline, event.OpenDeadline,
		)
	}

	intent := &domain.Intent{
		OrderId:          hexutil.Encode(orderId),
		SourceChain:      sourceChain,
		DestinationChain: event.DestinationChainId.Uint64(),
		User:             strings.ToLower(event.User.Hex()),
		InputToken:       strings.ToLower(event.InputToken.Hex()),
		InputAmount:      event.InputAmount,
		OutputToken:      strings.ToLower(event.OutputToken.Hex()),
		OutputAmount:     event.OutputAmount,
		Recipient:        strings.ToLower(event.Recipient.Hex()),
		OpenDeadline:     time.Unix(int64(event.OpenDeadline), 0),
		FillDeadline:     time.Unix(int64(event.FillDeadline), 0),
		BlockNumber:      log.BlockNumber,
		TxHash:           log.TxHash,
	}
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	return intent, nil
}

func toOrderId(orderId string) ([32]byte, error) {
	var id [32]byte
	buf, err := hexutil.Decode(domain.NormalizeOrderId(orderId))
	if err != nil || len(buf) != 32 {
		return id, fmt.Errorf("invalid order id %q", orderId)
	}
	copy(id[:], buf)
	return id, nil
}
