package evmchain

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arkade-os/solverd/internal/core/ports"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

const (
	testOrderId   = "0x0101010101010101010101010101010101010101010101010101010101010101"
	inputSettler  = "0x00000000000000000000000000000000000000c1"
	outputSettler = "0x00000000000000000000000000000000000000c2"
)

func TestDecodeOpenLog(t *testing.T) {
	user := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	inputToken := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	outputToken := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	now := uint32(time.Now().Unix())

	pack := func(t *testing.T, destination *big.Int, openDeadline, fillDeadline uint32) []byte {
		data, err := settlerABI.Events["Open"].Inputs.NonIndexed().Pack(
			user, inputToken, big.NewInt(100_000_000), destination, outputToken,
			big.NewInt(99_500_000), recipient, openDeadline, fillDeadline,
		)
		require.NoError(t, err)
		return data
	}

	t.Run("valid", func(t *testing.T) {
		log := ports.ChainLog{
			ChainId:     1,
			BlockNumber: 42,
			TxHash:      "0xabc",
			Topics:      []string{OpenEventId.Hex(), testOrderId},
			Data:        pack(t, big.NewInt(10), now+60, now+3600),
		}

		intent, err := decodeOpenLog(1, log)
		require.NoError(t, err)
		require.Equal(t, testOrderId, intent.OrderId)
		require.EqualValues(t, 1, intent.SourceChain)
		require.EqualValues(t, 10, intent.DestinationChain)
		require.Equal(t, "0x00000000000000000000000000000000000000aa", intent.User)
		require.Equal(t, "0x00000000000000000000000000000000000000b1", intent.OutputToken)
		require.Zero(t, big.NewInt(99_500_000).Cmp(intent.OutputAmount))
		require.Equal(t, int64(now+3600), intent.FillDeadline.Unix())
		require.EqualValues(t, 42, intent.BlockNumber)
	})

	t.Run("invalid", func(t *testing.T) {
		fixtures := []struct {
			name string
			log  ports.ChainLog
		}{
			{
				name: "missing order id topic",
				log: ports.ChainLog{
					Topics: []string{OpenEventId.Hex()},
					Data:   pack(t, big.NewInt(10), now+60, now+3600),
				},
			},
			{
				name: "wrong event",
				log: ports.ChainLog{
					Topics: []string{crypto.Keccak256Hash([]byte("Other()")).Hex(), testOrderId},
					Data:   pack(t, big.NewInt(10), now+60, now+3600),
				},
			},
			{
				name: "short data",
				log: ports.ChainLog{
					Topics: []string{OpenEventId.Hex(), testOrderId},
					Data:   []byte{0x01, 0x02},
				},
			},
			{
				name: "destination chain overflow",
				log: ports.ChainLog{
					Topics: []string{OpenEventId.Hex(), testOrderId},
					Data:   pack(t, new(big.Int).Lsh(big.NewInt(1), 70), now+60, now+3600),
				},
			},
			{
				name: "fill before open deadline",
				log: ports.ChainLog{
					Topics: []string{OpenEventId.Hex(), testOrderId},
					Data:   pack(t, big.NewInt(10), now+3600, now+60),
				},
			},
		}
		for _, f := range fixtures {
			t.Run(f.name, func(t *testing.T) {
				intent, err := decodeOpenLog(1, f.log)
				require.Error(t, err)
				require.Nil(t, intent)
			})
		}
	})
}

func TestNewChainClient(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	valid := Config{
		ChainId:       1,
		RpcUrl:        "http://localhost:8545",
		InputSettler:  inputSettler,
		OutputSettler: outputSettler,
	}

	client, err := NewChainClient(valid, key)
	require.NoError(t, err)
	require.EqualValues(t, 1, client.ChainId())
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Hex(), common.HexToAddress(client.SolverAddress()).Hex())

	invalid := valid
	invalid.InputSettler = "not an address"
	_, err = NewChainClient(invalid, key)
	require.Error(t, err)

	invalid = valid
	invalid.RpcUrl = ""
	_, err = NewChainClient(invalid, key)
	require.Error(t, err)

	_, err = NewChainClient(valid, nil)
	require.Error(t, err)
}

// rpcServer answers the json-rpc methods in results.
func rpcServer(t *testing.T, results map[string]any) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Id     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": req.Id}
		if result, ok := results[req.Method]; ok {
			resp["result"] = result
		} else {
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		}
		w.Header().Set("Content-Type", "application/json")
		// nolint:errcheck
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestChainClientCalls(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	filled, err := settlerABI.Methods["isFilled"].Outputs.Pack(true)
	require.NoError(t, err)

	server := rpcServer(t, map[string]any{
		"eth_blockNumber": "0x64",
		"eth_gasPrice":    "0x3b9aca00",
		"eth_call":        hexutil.Encode(filled),
	})

	client, err := NewChainClient(Config{
		ChainId:       1,
		RpcUrl:        server.URL,
		InputSettler:  inputSettler,
		OutputSettler: outputSettler,
		RateLimit:     100,
	}, key)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	height, err := client.BlockNumber(t.Context())
	require.NoError(t, err)
	require.EqualValues(t, 100, height)

	price, err := client.SuggestGasPrice(t.Context())
	require.NoError(t, err)
	require.Zero(t, big.NewInt(1_000_000_000).Cmp(price))

	ok, err := client.IsFilled(t.Context(), testOrderId)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = client.IsFilled(t.Context(), "0x1234")
	require.Error(t, err)

	// json-rpc errors are returned as is
	_, err = client.FilterOpenLogs(t.Context(), 1, 2)
	require.Error(t, err)
}

func TestChainClientConfirmationTimeout(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	server := rpcServer(t, map[string]any{
		"eth_getTransactionCount":   "0x5",
		"eth_gasPrice":              "0x3b9aca00",
		"eth_estimateGas":           "0x5208",
		"eth_sendRawTransaction":    common.Hash{0x01}.Hex(),
		"eth_getTransactionReceipt": nil,
	})

	client, err := NewChainClient(Config{
		ChainId:             1,
		RpcUrl:              server.URL,
		InputSettler:        inputSettler,
		OutputSettler:       outputSettler,
		ReceiptPollInterval: 5 * time.Millisecond,
	}, key)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	cc := client.(*chainClient)

	txHash, err := client.Settle(t.Context(), testOrderId)
	require.NoError(t, err)
	require.NotNil(t, cc.nonce)
	require.EqualValues(t, 6, *cc.nonce)

	// canceled waits keep the nonce
	canceled, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = client.WaitForConfirmation(canceled, txHash, 1)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, cc.nonce)

	// the tx never gets a receipt: the wait gives up and the nonce is resynced
	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	conf, err := client.WaitForConfirmation(ctx, txHash, 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Nil(t, conf)
	require.Nil(t, cc.nonce)
}
