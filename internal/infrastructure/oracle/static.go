package oracle

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/arkade-os/solverd/internal/core/ports"
	"github.com/shopspring/decimal"
)

// staticOracle serves operator provided USD prices. They change only through
// Update.
type staticOracle struct {
	lock   sync.RWMutex
	prices ports.Prices
}

func NewStaticOracle(prices map[string]decimal.Decimal) (ports.PriceOracle, error) {
	o := &staticOracle{prices: make(ports.Prices, len(prices))}
	if err := o.Update(context.Background(), prices); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *staticOracle) Prices(_ context.Context) (ports.Prices, error) {
	o.lock.RLock()
	defer o.lock.RUnlock()

	prices := make(ports.Prices, len(o.prices))
	for symbol, price := range o.prices {
		prices[symbol] = price
	}
	return prices, nil
}

func (o *staticOracle) Update(_ context.Context, prices ports.Prices) error {
	for symbol, price := range prices {
		if strings.TrimSpace(symbol) == "" {
			return fmt.Errorf("missing token symbol")
		}
		if !price.IsPositive() {
			return fmt.Errorf("price of %s must be positive, got %s", symbol, price)
		}
	}

	o.lock.Lock()
	defer o.lock.Unlock()
	for symbol, price := range prices {
		o.prices[strings.ToUpper(strings.TrimSpace(symbol))] = price
	}
	return nil
}
