package oracle_test

import (
	"testing"

	"github.com/arkade-os/solverd/internal/core/ports"
	"github.com/arkade-os/solverd/internal/infrastructure/oracle"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestStaticOracle(t *testing.T) {
	o, err := oracle.NewStaticOracle(map[string]decimal.Decimal{
		"usdc": decimal.NewFromInt(1),
		"ETH":  decimal.NewFromInt(3000),
	})
	require.NoError(t, err)

	prices, err := o.Prices(t.Context())
	require.NoError(t, err)
	price, ok := prices.Get("USDC")
	require.True(t, ok)
	require.True(t, price.Equal(decimal.NewFromInt(1)))

	require.NoError(t, o.Update(t.Context(), ports.Prices{"eth": decimal.NewFromInt(2500)}))
	prices, err = o.Prices(t.Context())
	require.NoError(t, err)
	price, ok = prices.Get("eth")
	require.True(t, ok)
	require.True(t, price.Equal(decimal.NewFromInt(2500)))

	err = o.Update(t.Context(), ports.Prices{"DAI": decimal.Zero})
	require.Error(t, err)
	prices, err = o.Prices(t.Context())
	require.NoError(t, err)
	_, ok = prices.Get("DAI")
	require.False(t, ok)

	_, err = oracle.NewStaticOracle(map[string]decimal.Decimal{"": decimal.NewFromInt(1)})
	require.Error(t, err)
}
