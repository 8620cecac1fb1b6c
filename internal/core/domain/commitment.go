package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// FillParams are the fill parameters hidden behind a commitment until reveal.
type FillParams struct {
	DestinationChain uint64
	Token            string
	Amount           *big.Int
	Recipient        string
}

// Packed returns the tightly packed encoding of the params:
// chainId (8 bytes) ‖ token (20) ‖ amount (32) ‖ recipient (20).
func (p FillParams) Packed() []byte {
	buf := make([]byte, 0, 80)
	buf = append(buf, new(big.Int).SetUint64(p.DestinationChain).FillBytes(make([]byte, 8))...)
	buf = append(buf, common.HexToAddress(p.Token).Bytes()...)
	amount := p.Amount
	if amount == nil {
		amount = big.NewInt(0)
	}
	buf = append(buf, common.LeftPadBytes(amount.Bytes(), 32)...)
	buf = append(buf, common.HexToAddress(p.Recipient).Bytes()...)
	return buf
}

type Commitment struct {
	OrderId        string
	Committer      string
	CommitHash     string
	RevealDeadline time.Time
	CreatedAt      time.Time
}

func (c Commitment) IsExpired(now time.Time) bool {
	return now.After(c.RevealDeadline)
}

// Reveal is the pre-image of a Commitment.
type Reveal struct {
	OrderId    string
	Nonce      string
	FillParams FillParams
	RevealedAt time.Time
}

// ComputeCommitHash returns keccak256(orderId ‖ nonce ‖ packed(params)) in hex.
func ComputeCommitHash(orderId, nonce string, params FillParams) (string, error) {
	id, err := hexutil.Decode(orderId)
	if err != nil || len(id) != 32 {
		return "", fmt.Errorf("invalid order id %q", orderId)
	}
	n, err := hexutil.Decode(nonce)
	if err != nil || len(n) != 32 {
		return "", fmt.Errorf("invalid nonce")
	}
	return crypto.Keccak256Hash(id, n, params.Packed()).Hex(), nil
}

func (r Reveal) CommitHash() (string, error) {
	return ComputeCommitHash(r.OrderId, r.Nonce, r.FillParams)
}
