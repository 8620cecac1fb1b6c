package evmchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/arkade-os/solverd/internal/core/ports"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	defaultReceiptPollInterval = 2 * time.Second
	// gas estimates are bumped by this percentage before signing.
	gasLimitBumpPercent = 20
)

type Config struct {
	ChainId       uint64
	RpcUrl        string
	InputSettler  string
	OutputSettler string
	// RateLimit caps the RPC requests per second, 0 means unlimited.
	RateLimit           float64
	ReceiptPollInterval time.Duration
}

type chainClient struct {
	cfg           Config
	key           *ecdsa.PrivateKey
	solver        common.Address
	inputSettler  common.Address
	outputSettler common.Address
	signer        types.Signer
	limiter       *rate.Limiter

	lock sync.Mutex
	rpc  *ethclient.Client

	// nonces are allocated under nonceLock, one tx at a time per key.
	nonceLock sync.Mutex
	nonce     *uint64
}

// NewChainClient returns a client that dials the RPC endpoint lazily and
// redials it after a transport failure.
func NewChainClient(cfg Config, key *ecdsa.PrivateKey) (ports.ChainClient, error) {
	if cfg.ChainId == 0 {
		return nil, fmt.Errorf("missing chain id")
	}
	if strings.TrimSpace(cfg.RpcUrl) == "" {
		return nil, fmt.Errorf("missing rpc url for chain %d", cfg.ChainId)
	}
	if key == nil {
		return nil, fmt.Errorf("missing solver key")
	}
	for _, addr := range []string{cfg.InputSettler, cfg.OutputSettler} {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid settler address %q for chain %d", addr, cfg.ChainId)
		}
	}
	if cfg.ReceiptPollInterval <= 0 {
		cfg.ReceiptPollInterval = defaultReceiptPollInterval
	}

	limit := rate.Inf
	burst := 1
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		burst = max(1, int(cfg.RateLimit))
	}

	return &chainClient{
		cfg:           cfg,
		key:           key,
		solver:        crypto.PubkeyToAddress(key.PublicKey),
		inputSettler:  common.HexToAddress(cfg.InputSettler),
		outputSettler: common.HexToAddress(cfg.OutputSettler),
		signer:        types.LatestSignerForChainID(new(big.Int).SetUint64(cfg.ChainId)),
		limiter:       rate.NewLimiter(limit, burst),
	}, nil
}

func (c *chainClient) ChainId() uint64 {
	return c.cfg.ChainId
}

func (c *chainClient) SolverAddress() string {
	return strings.ToLower(c.solver.Hex())
}

func (c *chainClient) BlockNumber(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.call(ctx, func(ec *ethclient.Client) (err error) {
		height, err = ec.BlockNumber(ctx)
		return
	})
	return height, err
}

func (c *chainClient) FilterOpenLogs(
	ctx context.Context, fromBlock, toBlock uint64,
) ([]ports.ChainLog, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.inputSettler},
		Topics:    [][]common.Hash{{OpenEventId}},
	}

	var logs []types.Log
	if err := c.call(ctx, func(ec *ethclient.Client) (err error) {
		logs, err = ec.FilterLogs(ctx, query)
		return
	}); err != nil {
		return nil, err
	}

	chainLogs := make([]ports.ChainLog, 0, len(logs))
	for _, l := range logs {
		topics := make([]string, 0, len(l.Topics))
		for _, topic := range l.Topics {
			topics = append(topics, topic.Hex())
		}
		chainLogs = append(chainLogs, ports.ChainLog{
			ChainId:     c.cfg.ChainId,
			BlockNumber: l.BlockNumber,
			TxHash:      l.TxHash.Hex(),
			LogIndex:    l.Index,
			Address:     strings.ToLower(l.Address.Hex()),
			Topics:      topics,
			Data:        l.Data,
			Removed:     l.Removed,
		})
	}
	return chainLogs, nil
}

func (c *chainClient) DecodeOpenLog(l ports.ChainLog) (*domain.Intent, error) {
	return decodeOpenLog(c.cfg.ChainId, l)
}

func (c *chainClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := c.call(ctx, func(ec *ethclient.Client) (err error) {
		price, err = ec.SuggestGasPrice(ctx)
		return
	})
	return price, err
}

func (c *chainClient) TokenBalance(ctx context.Context, token string) (*big.Int, error) {
	if !common.IsHexAddress(token) {
		return nil, fmt.Errorf("invalid token address %q", token)
	}
	out, err := c.callContract(ctx, erc20ABI, common.HexToAddress(token), "balanceOf", c.solver)
	if err != nil {
		return nil, err
	}
	return abi256(out)
}

func (c *chainClient) IsFilled(ctx context.Context, orderId string) (bool, error) {
	id, err := toOrderId(orderId)
	if err != nil {
		return false, err
	}
	out, err := c.callContract(ctx, settlerABI, c.outputSettler, "isFilled", id)
	if err != nil {
		return false, err
	}
	return abiBool(out)
}

func (c *chainClient) Fill(
	ctx context.Context, orderId, token string, amount *big.Int, recipient string,
) (string, error) {
	id, err := toOrderId(orderId)
	if err != nil {
		return "", err
	}
	if !common.IsHexAddress(token) || !common.IsHexAddress(recipient) {
		return "", fmt.Errorf("invalid fill token %q or recipient %q", token, recipient)
	}
	data, err := settlerABI.Pack(
		"fill", id, common.HexToAddress(token), amount, common.HexToAddress(recipient),
	)
	if err != nil {
		return "", fmt.Errorf("failed to encode fill: %w", err)
	}
	return c.sendTx(ctx, c.outputSettler, data)
}

func (c *chainClient) GetOrder(ctx context.Context, orderId string) (ports.OrderStatus, error) {
	id, err := toOrderId(orderId)
	if err != nil {
		return ports.OrderUnknown, err
	}
	out, err := c.callContract(ctx, settlerABI, c.inputSettler, "getOrder", id)
	if err != nil {
		return ports.OrderUnknown, err
	}
	if len(out) != 1 {
		return ports.OrderUnknown, fmt.Errorf("unexpected getOrder output")
	}
	status, ok := out[0].(uint8)
	if !ok || status > uint8(ports.OrderRefunded) {
		return ports.OrderUnknown, fmt.Errorf("unexpected order status %v", out[0])
	}
	return ports.OrderStatus(status), nil
}

func (c *chainClient) CanSettle(ctx context.Context, orderId string) (bool, error) {
	id, err := toOrderId(orderId)
	if err != nil {
		return false, err
	}
	out, err := c.callContract(ctx, settlerABI, c.inputSettler, "canSettle", id)
	if err != nil {
		return false, err
	}
	return abiBool(out)
}

func (c *chainClient) Settle(ctx context.Context, orderId string) (string, error) {
	id, err := toOrderId(orderId)
	if err != nil {
		return "", err
	}
	data, err := settlerABI.Pack("settle", id)
	if err != nil {
		return "", fmt.Errorf("failed to encode settle: %w", err)
	}
	return c.sendTx(ctx, c.inputSettler, data)
}

// WaitForConfirmation polls the receipt of the tx until its block is buried
// under the given confirmations and still part of the canonical chain. When
// the context deadline expires first the tx is considered abandoned and the
// next tx resyncs its nonce with the node.
func (c *chainClient) WaitForConfirmation(
	ctx context.Context, txHash string, confirmations uint64,
) (*ports.TxConfirmation, error) {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(c.cfg.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		conf, err := c.confirmation(ctx, hash, confirmations)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"chain_id": c.cfg.ChainId,
				"tx_hash":  txHash,
			}).Debug("tx not confirmed yet")
		}
		if conf != nil {
			return conf, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				c.resetNonce()
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// resetNonce drops the cached nonce so that a dropped tx leaves no gap.
func (c *chainClient) resetNonce() {
	c.nonceLock.Lock()
	defer c.nonceLock.Unlock()
	c.nonce = nil
}

func (c *chainClient) Close() {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.rpc != nil {
		c.rpc.Close()
		c.rpc = nil
	}
}

func (c *chainClient) confirmation(
	ctx context.Context, hash common.Hash, confirmations uint64,
) (*ports.TxConfirmation, error) {
	var receipt *types.Receipt
	if err := c.call(ctx, func(ec *ethclient.Client) (err error) {
		receipt, err = ec.TransactionReceipt(ctx, hash)
		return
	}); err != nil {
		return nil, err
	}
	if receipt == nil || receipt.BlockNumber == nil {
		return nil, fmt.Errorf("receipt unavailable")
	}

	head, err := c.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	block := receipt.BlockNumber.Uint64()
	if head < block || head-block+1 < confirmations {
		return nil, fmt.Errorf("insufficient confirmations")
	}

	// the receipt block must still be canonical
	var header *types.Header
	if err := c.call(ctx, func(ec *ethclient.Client) (err error) {
		header, err = ec.HeaderByNumber(ctx, receipt.BlockNumber)
		return
	}); err != nil {
		return nil, err
	}
	if header.Hash() != receipt.BlockHash {
		return nil, fmt.Errorf("block %d was reorged", block)
	}

	return &ports.TxConfirmation{
		TxHash:      hash.Hex(),
		BlockNumber: block,
		Success:     receipt.Status == types.ReceiptStatusSuccessful,
	}, nil
}

// sendTx signs and broadcasts a legacy tx from the solver key.
func (c *chainClient) sendTx(ctx context.Context, to common.Address, data []byte) (string, error) {
	c.nonceLock.Lock()
	defer c.nonceLock.Unlock()

	if c.nonce == nil {
		var nonce uint64
		if err := c.call(ctx, func(ec *ethclient.Client) (err error) {
			nonce, err = ec.PendingNonceAt(ctx, c.solver)
			return
		}); err != nil {
			return "", fmt.Errorf("failed to get nonce: %w", err)
		}
		c.nonce = &nonce
	}

	gasPrice, err := c.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	var gas uint64
	if err := c.call(ctx, func(ec *ethclient.Client) (err error) {
		gas, err = ec.EstimateGas(ctx, ethereum.CallMsg{From: c.solver, To: &to, Data: data})
		return
	}); err != nil {
		return "", fmt.Errorf("failed to estimate gas: %w", err)
	}
	gas += gas * gasLimitBumpPercent / 100

	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    *c.nonce,
		To:       &to,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	}), c.signer, c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign tx: %w", err)
	}

	if err := c.call(ctx, func(ec *ethclient.Client) error {
		return ec.SendTransaction(ctx, tx)
	}); err != nil {
		// resync the nonce with the node on the next tx
		c.nonce = nil
		return "", fmt.Errorf("failed to broadcast tx: %w", err)
	}
	*c.nonce++

	log.WithFields(log.Fields{
		"chain_id": c.cfg.ChainId,
		"tx_hash":  tx.Hash().Hex(),
		"nonce":    tx.Nonce(),
		"to":       to.Hex(),
	}).Debug("broadcasted tx")
	return tx.Hash().Hex(), nil
}

func (c *chainClient) callContract(
	ctx context.Context, contract abi.ABI, to common.Address, method string, args ...any,
) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", method, err)
	}

	var out []byte
	if err := c.call(ctx, func(ec *ethclient.Client) (err error) {
		out, err = ec.CallContract(ctx, ethereum.CallMsg{From: c.solver, To: &to, Data: data}, nil)
		return
	}); err != nil {
		return nil, err
	}
	return contract.Unpack(method, out)
}

// call runs fn against the rpc client under the rate limiter. Transport
// errors drop the connection so that the next call redials.
func (c *chainClient) call(ctx context.Context, fn func(*ethclient.Client) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	client, err := c.client(ctx)
	if err != nil {
		return err
	}

	err = fn(client)
	if err == nil || errors.Is(err, ethereum.NotFound) || ctx.Err() != nil {
		return err
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return err
	}

	c.lock.Lock()
	if c.rpc == client {
		c.rpc.Close()
		c.rpc = nil
	}
	c.lock.Unlock()
	return err
}

func (c *chainClient) client(ctx context.Context) (*ethclient.Client, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.rpc != nil {
		return c.rpc, nil
	}

	client, err := ethclient.DialContext(ctx, c.cfg.RpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain %d: %w", c.cfg.ChainId, err)
	}
	c.rpc = client
	log.WithField("chain_id", c.cfg.ChainId).Debug("connected to rpc")
	return client, nil
}

func abiBool(out []any) (bool, error) {
	if len(out) != 1 {
		return false, fmt.Errorf("unexpected output length %d", len(out))
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected output type %T", out[0])
	}
	return v, nil
}

func abi256(out []any) (*big.Int, error) {
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected output length %d", len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T", out[0])
	}
	return v, nil
}
