package application

import (
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/arkade-os/solverd/internal/core/ports"
	"github.com/shopspring/decimal"
)

type position struct {
	sync.Mutex
	domain.LiquidityPosition

	symbol      string
	targetRatio decimal.Decimal
	floorRatio  decimal.Decimal
}

// LiquidityManager tracks the solver's balances and reservations per (chain, token).
// Each position has its own lock, so reservations on different keys never
// contend.
type LiquidityManager struct {
	lock      sync.RWMutex
	positions map[string]*position
	metrics   ports.Metrics
}

func NewLiquidityManager(chains Chains, metrics ports.Metrics) *LiquidityManager {
	m := &LiquidityManager{
		positions: make(map[string]*position),
		metrics:   metricsOrNoop(metrics),
	}
	for _, chain := range chains {
		for _, token := range chain.Tokens {
			p := domain.NewLiquidityPosition(chain.ChainId, token.Address, nil, token.MaxExposure)
			m.positions[p.Key()] = &position{
				LiquidityPosition: *p,
				symbol:            strings.ToUpper(token.Symbol),
				targetRatio:       token.TargetRatio,
				floorRatio:        token.FloorRatio,
			}
		}
	}
	return m
}

// Reserve locks amount of the token on the chain if it's free and within the
// position's max exposure.
func (m *LiquidityManager) Reserve(chain uint64, token string, amount *big.Int) bool {
	p := m.get(chain, token)
	if p == nil || amount == nil || amount.Sign() <= 0 {
		m.metrics.ReservationAttempted(chain, token, false)
		return false
	}

	p.Lock()
	defer p.Unlock()

	ok := p.Free().Cmp(amount) >= 0
	if ok && p.MaxExposure.Sign() > 0 {
		exposure := new(big.Int).Add(p.Exposure, amount)
		ok = exposure.Cmp(p.MaxExposure) <= 0
	}
	if ok {
		p.Exposure = new(big.Int).Add(p.Exposure, amount)
		p.UpdatedAt = time.Now()
	}
	m.metrics.ReservationAttempted(chain, token, ok)
	return ok
}

func (m *LiquidityManager) Release(chain uint64, token string, amount *big.Int) {
	p := m.get(chain, token)
	if p == nil || amount == nil {
		return
	}

	p.Lock()
	defer p.Unlock()

	p.Exposure = subFloorZero(p.Exposure, amount)
	p.UpdatedAt = time.Now()
}

// Settle turns a reservation into realized spend once the fill is confirmed.
func (m *LiquidityManager) Settle(chain uint64, token string, amount *big.Int) {
	p := m.get(chain, token)
	if p == nil || amount == nil {
		return
	}

	p.Lock()
	defer p.Unlock()

	p.Exposure = subFloorZero(p.Exposure, amount)
	p.Available = subFloorZero(p.Available, amount)
	p.Spent = new(big.Int).Add(p.Spent, amount)
	p.UpdatedAt = time.Now()
}

// SetAvailable replaces the available balance, usually with the on-chain one.
func (m *LiquidityManager) SetAvailable(chain uint64, token string, amount *big.Int) {
	p := m.get(chain, token)
	if p == nil || amount == nil {
		return
	}

	p.Lock()
	defer p.Unlock()

	p.Available = new(big.Int).Set(amount)
	p.UpdatedAt = time.Now()
}

// Restore loads the realized spend and last known balances of a previous run.
// Exposure is not restored: reservations are rebuilt from the live intents.
func (m *LiquidityManager) Restore(positions []domain.LiquidityPosition) {
	for _, snapshot := range positions {
		p := m.get(snapshot.Chain, snapshot.Token)
		if p == nil {
			continue
		}
		p.Lock()
		if snapshot.Available != nil {
			p.Available = new(big.Int).Set(snapshot.Available)
		}
		if snapshot.Spent != nil {
			p.Spent = new(big.Int).Set(snapshot.Spent)
		}
		p.UpdatedAt = snapshot.UpdatedAt
		p.Unlock()
	}
}

func (m *LiquidityManager) Positions() []domain.LiquidityPosition {
	m.lock.RLock()
	defer m.lock.RUnlock()

	positions := make([]domain.LiquidityPosition, 0, len(m.positions))
	for _, p := range m.positions {
		p.Lock()
		positions = append(positions, p.Clone())
		p.Unlock()
	}
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].Chain != positions[j].Chain {
			return positions[i].Chain < positions[j].Chain
		}
		return positions[i].Token < positions[j].Token
	})
	return positions
}

// Rebalance returns an advisory for every position whose share of the token's
// cross-chain available balance fell below its floor ratio.
func (m *LiquidityManager) Rebalance() []RebalanceAdvice {
	type entry struct {
		position  domain.LiquidityPosition
		symbol    string
		target    decimal.Decimal
		floor     decimal.Decimal
		available decimal.Decimal
	}

	m.lock.RLock()
	bySymbol := make(map[string][]entry)
	totals := make(map[string]decimal.Decimal)
	for _, p := range m.positions {
		p.Lock()
		e := entry{
			position:  p.Clone(),
			symbol:    p.symbol,
			target:    p.targetRatio,
			floor:     p.floorRatio,
			available: decimal.NewFromBigInt(p.Available, 0),
		}
		p.Unlock()
		bySymbol[e.symbol] = append(bySymbol[e.symbol], e)
		totals[e.symbol] = totals[e.symbol].Add(e.available)
	}
	m.lock.RUnlock()

	advices := make([]RebalanceAdvice, 0)
	for symbol, entries := range bySymbol {
		total := totals[symbol]
		if !total.IsPositive() || len(entries) < 2 {
			continue
		}
		for _, e := range entries {
			if !e.floor.IsPositive() || !e.target.IsPositive() {
				continue
			}
			share := e.available.Div(total)
			if !share.LessThan(e.floor) {
				continue
			}
			target := total.Mul(e.target).Truncate(0)
			deficit := target.Sub(e.available)
			if !deficit.IsPositive() {
				continue
			}
			advices = append(advices, RebalanceAdvice{
				Chain:     e.position.Chain,
				Token:     e.position.Token,
				Symbol:    symbol,
				Available: e.position.Available,
				Target:    target.BigInt(),
				Deficit:   deficit.BigInt(),
				Share:     share,
			})
		}
	}
	sort.Slice(advices, func(i, j int) bool {
		if advices[i].Symbol != advices[j].Symbol {
			return advices[i].Symbol < advices[j].Symbol
		}
		return advices[i].Chain < advices[j].Chain
	})
	return advices
}

func (m *LiquidityManager) get(chain uint64, token string) *position {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.positions[domain.PositionKey(chain, token)]
}

func subFloorZero(a, b *big.Int) *big.Int {
	res := new(big.Int).Sub(a, b)
	if res.Sign() < 0 {
		return new(big.Int)
	}
	return res
}
