package domain

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

type LiquidityPosition struct {
	Chain       uint64
	Token       string
	Exposure    *big.Int
	Available   *big.Int
	MaxExposure *big.Int
	Spent       *big.Int
	UpdatedAt   time.Time
}

func NewLiquidityPosition(chain uint64, token string, available, maxExposure *big.Int) *LiquidityPosition {
	return &LiquidityPosition{
		Chain:       chain,
		Token:       strings.ToLower(token),
		Exposure:    new(big.Int),
		Available:   orZero(available),
		MaxExposure: orZero(maxExposure),
		Spent:       new(big.Int),
		UpdatedAt:   time.Now(),
	}
}

func (p LiquidityPosition) Key() string {
	return PositionKey(p.Chain, p.Token)
}

// Free is the amount that can still be reserved: available - exposure.
func (p LiquidityPosition) Free() *big.Int {
	return new(big.Int).Sub(orZero(p.Available), orZero(p.Exposure))
}

func (p LiquidityPosition) Clone() LiquidityPosition {
	return LiquidityPosition{
		Chain:       p.Chain,
		Token:       p.Token,
		Exposure:    new(big.Int).Set(orZero(p.Exposure)),
		Available:   new(big.Int).Set(orZero(p.Available)),
		MaxExposure: new(big.Int).Set(orZero(p.MaxExposure)),
		Spent:       new(big.Int).Set(orZero(p.Spent)),
		UpdatedAt:   p.UpdatedAt,
	}
}

func PositionKey(chain uint64, token string) string {
	return fmt.Sprintf("%d:%s", chain, strings.ToLower(token))
}

// Reservation remembers what an intent holds in the liquidity ledger.
type Reservation struct {
	OrderId string
	Chain   uint64
	Token   string
	Amount  *big.Int
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
