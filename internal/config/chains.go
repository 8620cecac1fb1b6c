package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/arkade-os/solverd/internal/core/application"
	evmchain "github.com/arkade-os/solverd/internal/infrastructure/chain/evm"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Topology is the content of the chains config file, either YAML or TOML: the
// chains the solver operates on, the tokens it holds on each of them and the
// initial USD prices.
type Topology struct {
	Chains []ChainEntry      `yaml:"chains" toml:"chains"`
	Prices map[string]string `yaml:"prices" toml:"prices"`
}

type ChainEntry struct {
	ChainId        uint64       `yaml:"chainId" toml:"chainId"`
	Name           string       `yaml:"name" toml:"name"`
	NativeSymbol   string       `yaml:"nativeSymbol" toml:"nativeSymbol"`
	RpcUrl         string       `yaml:"rpcUrl" toml:"rpcUrl"`
	InputSettler   string       `yaml:"inputSettler" toml:"inputSettler"`
	OutputSettler  string       `yaml:"outputSettler" toml:"outputSettler"`
	ExplorerUrl    string       `yaml:"explorerUrl" toml:"explorerUrl"`
	Confirmations  uint64       `yaml:"confirmations" toml:"confirmations"`
	StartBlock     uint64       `yaml:"startBlock" toml:"startBlock"`
	FillGasUnits   uint64       `yaml:"fillGasUnits" toml:"fillGasUnits"`
	SettleGasUnits uint64       `yaml:"settleGasUnits" toml:"settleGasUnits"`
	Tokens         []TokenEntry `yaml:"tokens" toml:"tokens"`
}

type TokenEntry struct {
	Address     string `yaml:"address" toml:"address"`
	Symbol      string `yaml:"symbol" toml:"symbol"`
	Decimals    int32  `yaml:"decimals" toml:"decimals"`
	MaxExposure string `yaml:"maxExposure" toml:"maxExposure"`
	TargetRatio string `yaml:"targetRatio" toml:"targetRatio"`
	FloorRatio  string `yaml:"floorRatio" toml:"floorRatio"`
}

func LoadTopology(path string) (*Topology, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chains config: %s", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return ParseTopologyToml(buf)
	}
	return ParseTopology(buf)
}

func ParseTopology(buf []byte) (*Topology, error) {
	topology := &Topology{}
	if err := yaml.Unmarshal(buf, topology); err != nil {
		return nil, fmt.Errorf("invalid chains config: %s", err)
	}
	if err := topology.Validate(); err != nil {
		return nil, err
	}
	return topology, nil
}

func ParseTopologyToml(buf []byte) (*Topology, error) {
	topology := &Topology{}
	meta, err := toml.Decode(string(buf), topology)
	if err != nil {
		return nil, fmt.Errorf("invalid chains config: %s", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown chains config key %q", undecoded[0].String())
	}
	if err := topology.Validate(); err != nil {
		return nil, err
	}
	return topology, nil
}

func (t *Topology) Validate() error {
	if len(t.Chains) < 2 {
		return fmt.Errorf("at least 2 chains are required, got %d", len(t.Chains))
	}

	seen := make(map[uint64]struct{}, len(t.Chains))
	for _, chain := range t.Chains {
		if chain.ChainId == 0 {
			return fmt.Errorf("missing chain id for chain %q", chain.Name)
		}
		if _, ok := seen[chain.ChainId]; ok {
			return fmt.Errorf("duplicated chain %d", chain.ChainId)
		}
		seen[chain.ChainId] = struct{}{}

		if chain.RpcUrl == "" {
			return fmt.Errorf("missing rpc url for chain %d", chain.ChainId)
		}
		if !common.IsHexAddress(chain.InputSettler) {
			return fmt.Errorf("invalid input settler for chain %d", chain.ChainId)
		}
		if !common.IsHexAddress(chain.OutputSettler) {
			return fmt.Errorf("invalid output settler for chain %d", chain.ChainId)
		}
		if chain.NativeSymbol == "" {
			return fmt.Errorf("missing native symbol for chain %d", chain.ChainId)
		}
		for _, token := range chain.Tokens {
			if err := token.validate(chain.ChainId); err != nil {
				return err
			}
		}
	}

	for symbol, price := range t.Prices {
		p, err := decimal.NewFromString(price)
		if err != nil {
			return fmt.Errorf("invalid price %q for %s", price, symbol)
		}
		if !p.IsPositive() {
			return fmt.Errorf("price for %s must be positive", symbol)
		}
	}
	return nil
}

func (t TokenEntry) validate(chainId uint64) error {
	if !common.IsHexAddress(t.Address) {
		return fmt.Errorf("invalid token address %q on chain %d", t.Address, chainId)
	}
	if t.Symbol == "" {
		return fmt.Errorf("missing symbol for token %s on chain %d", t.Address, chainId)
	}
	if t.Decimals < 0 || t.Decimals > 36 {
		return fmt.Errorf("invalid decimals for token %s on chain %d", t.Symbol, chainId)
	}
	if t.MaxExposure != "" {
		if _, ok := new(big.Int).SetString(t.MaxExposure, 10); !ok {
			return fmt.Errorf("invalid max exposure for token %s on chain %d", t.Symbol, chainId)
		}
	}
	target, err := parseRatio(t.TargetRatio)
	if err != nil {
		return fmt.Errorf("invalid target ratio for token %s on chain %d", t.Symbol, chainId)
	}
	floor, err := parseRatio(t.FloorRatio)
	if err != nil {
		return fmt.Errorf("invalid floor ratio for token %s on chain %d", t.Symbol, chainId)
	}
	if floor.GreaterThan(target) {
		return fmt.Errorf(
			"floor ratio must not exceed target ratio for token %s on chain %d", t.Symbol, chainId,
		)
	}
	return nil
}

// ChainConfigs returns the application view of the topology.
func (t *Topology) ChainConfigs() []application.ChainConfig {
	chains := make([]application.ChainConfig, 0, len(t.Chains))
	for _, chain := range t.Chains {
		tokens := make([]application.TokenConfig, 0, len(chain.Tokens))
		for _, token := range chain.Tokens {
			var maxExposure *big.Int
			if token.MaxExposure != "" {
				maxExposure, _ = new(big.Int).SetString(token.MaxExposure, 10)
			}
			target, _ := parseRatio(token.TargetRatio)
			floor, _ := parseRatio(token.FloorRatio)
			tokens = append(tokens, application.TokenConfig{
				Address:     strings.ToLower(token.Address),
				Symbol:      strings.ToUpper(token.Symbol),
				Decimals:    token.Decimals,
				MaxExposure: maxExposure,
				TargetRatio: target,
				FloorRatio:  floor,
			})
		}
		chains = append(chains, application.ChainConfig{
			ChainId:        chain.ChainId,
			Name:           chain.Name,
			NativeSymbol:   strings.ToUpper(chain.NativeSymbol),
			Confirmations:  chain.Confirmations,
			StartBlock:     chain.StartBlock,
			FillGasUnits:   chain.FillGasUnits,
			SettleGasUnits: chain.SettleGasUnits,
			Tokens:         tokens,
		})
	}
	return chains
}

func (t *Topology) ClientConfigs(rateLimit float64) []evmchain.Config {
	configs := make([]evmchain.Config, 0, len(t.Chains))
	for _, chain := range t.Chains {
		configs = append(configs, evmchain.Config{
			ChainId:       chain.ChainId,
			RpcUrl:        chain.RpcUrl,
			InputSettler:  chain.InputSettler,
			OutputSettler: chain.OutputSettler,
			RateLimit:     rateLimit,
		})
	}
	return configs
}

func (t *Topology) ExplorerUrls() map[uint64]string {
	urls := make(map[uint64]string)
	for _, chain := range t.Chains {
		if chain.ExplorerUrl != "" {
			urls[chain.ChainId] = strings.TrimSuffix(chain.ExplorerUrl, "/")
		}
	}
	return urls
}

func (t *Topology) InitialPrices() map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(t.Prices))
	for symbol, price := range t.Prices {
		p, _ := decimal.NewFromString(price)
		prices[strings.ToUpper(symbol)] = p
	}
	return prices
}

func parseRatio(ratio string) (decimal.Decimal, error) {
	if ratio == "" {
		return decimal.Zero, nil
	}
	r, err := decimal.NewFromString(ratio)
	if err != nil {
		return decimal.Zero, err
	}
	if r.IsNegative() || r.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("ratio %s out of range [0, 1]", ratio)
	}
	return r, nil
}
