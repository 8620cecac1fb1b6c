package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arkade-os/solverd/internal/core/application"
	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/arkade-os/solverd/internal/core/ports"
	solvererrors "github.com/arkade-os/solverd/pkg/errors"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testOrderId  = "0x1111111111111111111111111111111111111111111111111111111111111111"
	testSender   = "0x00000000000000000000000000000000000000a1"
	testReceiver = "0x00000000000000000000000000000000000000b2"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) Start() error { return nil }
func (m *mockService) Stop()        {}

func (m *mockService) GetInfo(ctx context.Context) (*application.ServiceInfo, error) {
	args := m.Called(ctx)
	info, _ := args.Get(0).(*application.ServiceInfo)
	return info, args.Error(1)
}

func (m *mockService) ListIntents(
	ctx context.Context, statuses ...domain.IntentStatus,
) ([]domain.Intent, error) {
	args := m.Called(ctx, statuses)
	intents, _ := args.Get(0).([]domain.Intent)
	return intents, args.Error(1)
}

func (m *mockService) GetIntent(ctx context.Context, orderId string) (*domain.Intent, error) {
	args := m.Called(ctx, orderId)
	intent, _ := args.Get(0).(*domain.Intent)
	return intent, args.Error(1)
}

func (m *mockService) LiquidityPositions(ctx context.Context) []domain.LiquidityPosition {
	args := m.Called(ctx)
	positions, _ := args.Get(0).([]domain.LiquidityPosition)
	return positions
}

func (m *mockService) PendingReconciliations(
	ctx context.Context,
) ([]domain.SettlementRecord, error) {
	args := m.Called(ctx)
	records, _ := args.Get(0).([]domain.SettlementRecord)
	return records, args.Error(1)
}

func (m *mockService) Reconcile(
	ctx context.Context, orderId string,
) (*domain.SettlementRecord, error) {
	args := m.Called(ctx, orderId)
	record, _ := args.Get(0).(*domain.SettlementRecord)
	return record, args.Error(1)
}

func (m *mockService) UpdatePrices(ctx context.Context, prices ports.Prices) error {
	return m.Called(ctx, prices).Error(0)
}

func (m *mockService) AddReceipt(ctx context.Context, receipt domain.TransferReceipt) error {
	return m.Called(ctx, receipt).Error(0)
}

func (m *mockService) VerifyReceipt(
	ctx context.Context, receipt domain.TransferReceipt, expectedSender, expectedReceiver string,
) application.Verification {
	args := m.Called(ctx, receipt, expectedSender, expectedReceiver)
	return args.Get(0).(application.Verification)
}

func (m *mockService) AggregateReceipts(
	ctx context.Context, sender string,
) (*domain.AggregatedReceipt, error) {
	args := m.Called(ctx, sender)
	aggregated, _ := args.Get(0).(*domain.AggregatedReceipt)
	return aggregated, args.Error(1)
}

func newTestMux(t *testing.T, svc application.Service) *runtime.ServeMux {
	t.Helper()
	mux := runtime.NewServeMux()
	require.NoError(t, NewAdminHandler(svc).RegisterRoutes(mux))
	return mux
}

func doRequest(
	t *testing.T, mux http.Handler, method, path string, body any,
) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	resp := make(map[string]any)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestAdminHandler(t *testing.T) {
	intent := domain.Intent{
		OrderId:          testOrderId,
		SourceChain:      1,
		DestinationChain: 10,
		User:             testSender,
		InputToken:       "0x00000000000000000000000000000000000000c1",
		InputAmount:      big.NewInt(1000),
		OutputToken:      "0x00000000000000000000000000000000000000c2",
		OutputAmount:     big.NewInt(990),
		Recipient:        testReceiver,
		OpenDeadline:     time.Unix(1700000000, 0),
		FillDeadline:     time.Unix(1700003600, 0),
		Status:           domain.IntentAccepted,
	}

	t.Run("info", func(t *testing.T) {
		svc := &mockService{}
		svc.On("GetInfo", mock.Anything).Return(&application.ServiceInfo{
			SolverAddress: testSender, Chains: []uint64{1, 10}, CurrentEpoch: 42,
			MinProfitBps: 10, PendingIntents: 3,
		}, nil)

		rec := doRequest(t, newTestMux(t, svc), http.MethodGet, "/v1/info", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeResponse(t, rec)
		require.Equal(t, testSender, resp["solverAddress"])
		require.EqualValues(t, 42, resp["currentEpoch"])
		require.EqualValues(t, 3, resp["pendingIntents"])
	})

	t.Run("list intents", func(t *testing.T) {
		svc := &mockService{}
		svc.On(
			"ListIntents", mock.Anything,
			[]domain.IntentStatus{domain.IntentAccepted, domain.IntentFilled},
		).Return([]domain.Intent{intent}, nil)

		rec := doRequest(
			t, newTestMux(t, svc), http.MethodGet, "/v1/intents?status=accepted,Filled", nil,
		)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeResponse(t, rec)
		list := resp["intents"].([]any)
		require.Len(t, list, 1)
		view := list[0].(map[string]any)
		require.Equal(t, testOrderId, view["orderId"])
		require.Equal(t, "1000", view["inputAmount"])
		require.Equal(t, "Accepted", view["status"])

		rec = doRequest(t, newTestMux(t, svc), http.MethodGet, "/v1/intents?status=bogus", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		svc.AssertNumberOfCalls(t, "ListIntents", 1)
	})

	t.Run("get intent", func(t *testing.T) {
		svc := &mockService{}
		svc.On("GetIntent", mock.Anything, testOrderId).Return(&intent, nil)

		rec := doRequest(
			t, newTestMux(t, svc), http.MethodGet, "/v1/intents/"+testOrderId[2:], nil,
		)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doRequest(t, newTestMux(t, svc), http.MethodGet, "/v1/intents/0x1234", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("get unknown intent", func(t *testing.T) {
		svc := &mockService{}
		svc.On("GetIntent", mock.Anything, testOrderId).Return(
			nil,
			solvererrors.INTENT_NOT_FOUND.New("intent %s not found", testOrderId).
				WithMetadata(solvererrors.OrderMetadata{OrderId: testOrderId}),
		)

		rec := doRequest(t, newTestMux(t, svc), http.MethodGet, "/v1/intents/"+testOrderId, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
		resp := decodeResponse(t, rec)
		require.Equal(t, "INTENT_NOT_FOUND", resp["name"])
		require.EqualValues(t, solvererrors.INTENT_NOT_FOUND.Code, resp["code"])
		metadata := resp["metadata"].(map[string]any)
		require.Equal(t, testOrderId, metadata["order_id"])
	})

	t.Run("liquidity", func(t *testing.T) {
		svc := &mockService{}
		position := domain.NewLiquidityPosition(10, "0xc2", big.NewInt(5000), big.NewInt(4000))
		position.Exposure = big.NewInt(1000)
		svc.On("LiquidityPositions", mock.Anything).Return(
			[]domain.LiquidityPosition{*position},
		)

		rec := doRequest(t, newTestMux(t, svc), http.MethodGet, "/v1/liquidity", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		list := decodeResponse(t, rec)["positions"].([]any)
		require.Len(t, list, 1)
		view := list[0].(map[string]any)
		require.Equal(t, "5000", view["available"])
		require.Equal(t, "1000", view["exposure"])
		require.Equal(t, position.Free().String(), view["free"])
	})

	t.Run("reconcile", func(t *testing.T) {
		svc := &mockService{}
		record := domain.SettlementRecord{
			OrderId: testOrderId, SourceChain: 1, DestinationChain: 10,
			Stage: domain.StageSettlementPending, FillTxHash: "0xfill", LastError: "reverted",
		}
		svc.On("PendingReconciliations", mock.Anything).Return(
			[]domain.SettlementRecord{record}, nil,
		)
		settled := record
		settled.Stage = domain.StageSettled
		svc.On("Reconcile", mock.Anything, testOrderId).Return(&settled, nil)

		mux := newTestMux(t, svc)
		rec := doRequest(t, mux, http.MethodGet, "/v1/reconciliations", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		list := decodeResponse(t, rec)["settlements"].([]any)
		require.Len(t, list, 1)
		require.Equal(t, string(domain.StageSettlementPending), list[0].(map[string]any)["stage"])

		rec = doRequest(t, mux, http.MethodPost, "/v1/reconciliations/"+testOrderId, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, string(domain.StageSettled), decodeResponse(t, rec)["stage"])
	})

	t.Run("update prices", func(t *testing.T) {
		svc := &mockService{}
		svc.On("UpdatePrices", mock.Anything, mock.MatchedBy(func(prices ports.Prices) bool {
			eth, ok := prices["ETH"]
			return ok && len(prices) == 2 && eth.Equal(decimal.NewFromInt(3000))
		})).Return(nil)

		mux := newTestMux(t, svc)
		rec := doRequest(t, mux, http.MethodPost, "/v1/prices", map[string]any{
			"prices": map[string]string{"eth": "3000", "USDC": "1.0001"},
		})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doRequest(t, mux, http.MethodPost, "/v1/prices", map[string]any{
			"prices": map[string]string{"ETH": "-1"},
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		rec = doRequest(t, mux, http.MethodPost, "/v1/prices", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		svc.AssertNumberOfCalls(t, "UpdatePrices", 1)
	})

	t.Run("receipts", func(t *testing.T) {
		receipt := domain.TransferReceipt{
			Id:          "r1",
			Sender:      testSender,
			Receiver:    testReceiver,
			ContentHash: "0x" + fmt.Sprintf("%064x", 1),
			Size:        1024,
			Epoch:       100,
			Signature:   "0xsig",
			Timestamp:   1700000000,
		}
		svc := &mockService{}
		svc.On("AddReceipt", mock.Anything, receipt).Return(nil)
		svc.On("VerifyReceipt", mock.Anything, receipt, testSender, testReceiver).Return(
			application.Verification{Valid: true, Errors: []string{}},
		)
		svc.On("AggregateReceipts", mock.Anything, testSender).Return(&domain.AggregatedReceipt{
			Sender: testSender, ReceiptIds: []string{"r1"}, TotalUploaded: 1024,
			AggregateHash: "0xagg", EpochRange: domain.EpochRange{Min: 100, Max: 100},
		}, nil)

		mux := newTestMux(t, svc)
		rec := doRequest(t, mux, http.MethodPost, "/v1/receipts", receipt)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "r1", decodeResponse(t, rec)["id"])

		rec = doRequest(t, mux, http.MethodPost, "/v1/receipts/verify", map[string]any{
			"receipt": receipt, "expectedSender": testSender, "expectedReceiver": testReceiver,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, true, decodeResponse(t, rec)["valid"])

		rec = doRequest(t, mux, http.MethodPost, "/v1/receipts/aggregate", map[string]any{
			"sender": testSender,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		require.EqualValues(t, 1024, decodeResponse(t, rec)["totalUploaded"])

		rec = doRequest(t, mux, http.MethodPost, "/v1/receipts/aggregate", map[string]any{})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("receipt errors", func(t *testing.T) {
		svc := &mockService{}
		svc.On("AddReceipt", mock.Anything, mock.Anything).Return(
			solvererrors.DOUBLE_SPEND_RECEIPT.New("receipt r1 already used"),
		)
		svc.On("AggregateReceipts", mock.Anything, testSender).Return(
			nil, fmt.Errorf("boom"),
		)

		mux := newTestMux(t, svc)
		rec := doRequest(t, mux, http.MethodPost, "/v1/receipts", domain.TransferReceipt{Id: "r1"})
		require.Equal(
			t, runtime.HTTPStatusFromCode(solvererrors.DOUBLE_SPEND_RECEIPT.GrpcCode), rec.Code,
		)
		require.Equal(t, "DOUBLE_SPEND_RECEIPT", decodeResponse(t, rec)["name"])

		rec = doRequest(t, mux, http.MethodPost, "/v1/receipts/aggregate", map[string]any{
			"sender": testSender,
		})
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		require.Equal(t, "INTERNAL_ERROR", decodeResponse(t, rec)["name"])
	})
}
