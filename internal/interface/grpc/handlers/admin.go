package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/arkade-os/solverd/internal/core/application"
	"github.com/arkade-os/solverd/internal/core/domain"
	solvererrors "github.com/arkade-os/solverd/pkg/errors"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	log "github.com/sirupsen/logrus"
)

type AdminHandler struct {
	svc application.Service
}

func NewAdminHandler(svc application.Service) *AdminHandler {
	return &AdminHandler{svc}
}

// RegisterRoutes adds the admin API to the gateway mux.
func (h *AdminHandler) RegisterRoutes(mux *runtime.ServeMux) error {
	routes := []struct {
		method  string
		path    string
		handler runtime.HandlerFunc
	}{
		{http.MethodGet, "/v1/info", h.GetInfo},
		{http.MethodGet, "/v1/intents", h.ListIntents},
		{http.MethodGet, "/v1/intents/{order_id}", h.GetIntent},
		{http.MethodGet, "/v1/liquidity", h.GetLiquidity},
		{http.MethodGet, "/v1/reconciliations", h.ListReconciliations},
		{http.MethodPost, "/v1/reconciliations/{order_id}", h.Reconcile},
		{http.MethodPost, "/v1/prices", h.UpdatePrices},
		{http.MethodPost, "/v1/receipts", h.AddReceipt},
		{http.MethodPost, "/v1/receipts/verify", h.VerifyReceipt},
		{http.MethodPost, "/v1/receipts/aggregate", h.AggregateReceipts},
	}
	for _, route := range routes {
		if err := mux.HandlePath(route.method, route.path, route.handler); err != nil {
			return err
		}
	}
	return nil
}

func (h *AdminHandler) GetInfo(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	info, err := h.svc.GetInfo(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, infoView{
		SolverAddress:  info.SolverAddress,
		Chains:         info.Chains,
		CurrentEpoch:   info.CurrentEpoch,
		MinProfitBps:   info.MinProfitBps,
		PendingIntents: info.PendingIntents,
	})
}

func (h *AdminHandler) ListIntents(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	statuses, err := parseStatuses(r.URL.Query()["status"])
	if err != nil {
		writeError(w, err)
		return
	}

	intents, err := h.svc.ListIntents(r.Context(), statuses...)
	if err != nil {
		writeError(w, err)
		return
	}

	list := make([]intentView, 0, len(intents))
	for _, intent := range intents {
		list = append(list, toIntentView(intent))
	}
	writeJSON(w, http.StatusOK, map[string]any{"intents": list})
}

func (h *AdminHandler) GetIntent(w http.ResponseWriter, r *http.Request, params map[string]string) {
	orderId, err := parseOrderId(params["order_id"])
	if err != nil {
		writeError(w, err)
		return
	}

	intent, err := h.svc.GetIntent(r.Context(), orderId)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toIntentView(*intent))
}

func (h *AdminHandler) GetLiquidity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	positions := h.svc.LiquidityPositions(r.Context())
	list := make([]positionView, 0, len(positions))
	for _, p := range positions {
		list = append(list, toPositionView(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": list})
}

func (h *AdminHandler) ListReconciliations(
	w http.ResponseWriter, r *http.Request, _ map[string]string,
) {
	records, err := h.svc.PendingReconciliations(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	list := make([]settlementView, 0, len(records))
	for _, record := range records {
		list = append(list, toSettlementView(record))
	}
	writeJSON(w, http.StatusOK, map[string]any{"settlements": list})
}

func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request, params map[string]string) {
	orderId, err := parseOrderId(params["order_id"])
	if err != nil {
		writeError(w, err)
		return
	}

	record, err := h.svc.Reconcile(r.Context(), orderId)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementView(*record))
}

type updatePricesRequest struct {
	Prices map[string]string `json:"prices"`
}

func (h *AdminHandler) UpdatePrices(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req updatePricesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	prices, err := parsePrices(req.Prices)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.svc.UpdatePrices(r.Context(), prices); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (h *AdminHandler) AddReceipt(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var receipt domain.TransferReceipt
	if err := decodeBody(r, &receipt); err != nil {
		writeError(w, err)
		return
	}

	if err := h.svc.AddReceipt(r.Context(), receipt); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": receipt.Id})
}

type verifyReceiptRequest struct {
	Receipt          domain.TransferReceipt `json:"receipt"`
	ExpectedSender   string                 `json:"expectedSender"`
	ExpectedReceiver string                 `json:"expectedReceiver"`
}

func (h *AdminHandler) VerifyReceipt(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req verifyReceiptRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sender, err := parseAddress(req.ExpectedSender)
	if err != nil {
		writeError(w, err)
		return
	}
	receiver, err := parseAddress(req.ExpectedReceiver)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.svc.VerifyReceipt(r.Context(), req.Receipt, sender, receiver))
}

type aggregateRequest struct {
	Sender string `json:"sender"`
}

func (h *AdminHandler) AggregateReceipts(
	w http.ResponseWriter, r *http.Request, _ map[string]string,
) {
	var req aggregateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sender, err := parseAddress(req.Sender)
	if err != nil {
		writeError(w, err)
		return
	}
	if sender == "" {
		writeError(w, badRequest("missing sender"))
		return
	}

	aggregated, err := h.svc.AggregateReceipts(r.Context(), sender)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, aggregated)
}

type errorResponse struct {
	Code     uint16            `json:"code"`
	Name     string            `json:"name"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	var badReq badRequestError
	if errors.As(err, &badReq) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Name: "BAD_REQUEST", Message: err.Error()})
		return
	}

	var structuredErr solvererrors.Error
	if errors.As(err, &structuredErr) {
		writeJSON(w, runtime.HTTPStatusFromCode(structuredErr.GrpcCode()), errorResponse{
			Code:     structuredErr.Code(),
			Name:     structuredErr.CodeName(),
			Message:  structuredErr.Error(),
			Metadata: structuredErr.Metadata(),
		})
		return
	}

	log.WithError(err).Error("admin request failed")
	writeJSON(w, http.StatusInternalServerError, errorResponse{
		Code:    solvererrors.INTERNAL_ERROR.Code,
		Name:    solvererrors.INTERNAL_ERROR.Name,
		Message: err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("failed to write response")
	}
}

type infoView struct {
	SolverAddress  string   `json:"solverAddress"`
	Chains         []uint64 `json:"chains"`
	CurrentEpoch   uint64   `json:"currentEpoch"`
	MinProfitBps   int64    `json:"minProfitBps"`
	PendingIntents int64    `json:"pendingIntents"`
}

type intentView struct {
	OrderId          string `json:"orderId"`
	SourceChain      uint64 `json:"sourceChain"`
	DestinationChain uint64 `json:"destinationChain"`
	User             string `json:"user"`
	InputToken       string `json:"inputToken"`
	InputAmount      string `json:"inputAmount"`
	OutputToken      string `json:"outputToken"`
	OutputAmount     string `json:"outputAmount"`
	Recipient        string `json:"recipient"`
	OpenDeadline     int64  `json:"openDeadline"`
	FillDeadline     int64  `json:"fillDeadline"`
	Status           string `json:"status"`
	RejectReason     string `json:"rejectReason,omitempty"`
	BlockNumber      uint64 `json:"blockNumber"`
	TxHash           string `json:"txHash"`
	UpdatedAt        int64  `json:"updatedAt"`
}

func toIntentView(i domain.Intent) intentView {
	return intentView{
		OrderId:          i.OrderId,
		SourceChain:      i.SourceChain,
		DestinationChain: i.DestinationChain,
		User:             i.User,
		InputToken:       i.InputToken,
		InputAmount:      amountString(i.InputAmount),
		OutputToken:      i.OutputToken,
		OutputAmount:     amountString(i.OutputAmount),
		Recipient:        i.Recipient,
		OpenDeadline:     i.OpenDeadline.Unix(),
		FillDeadline:     i.FillDeadline.Unix(),
		Status:           string(i.Status),
		RejectReason:     string(i.RejectReason),
		BlockNumber:      i.BlockNumber,
		TxHash:           i.TxHash,
		UpdatedAt:        unixOrZero(i.UpdatedAt),
	}
}

type positionView struct {
	Chain       uint64 `json:"chain"`
	Token       string `json:"token"`
	Available   string `json:"available"`
	Exposure    string `json:"exposure"`
	Free        string `json:"free"`
	MaxExposure string `json:"maxExposure"`
	Spent       string `json:"spent"`
	UpdatedAt   int64  `json:"updatedAt"`
}

func toPositionView(p domain.LiquidityPosition) positionView {
	return positionView{
		Chain:       p.Chain,
		Token:       p.Token,
		Available:   amountString(p.Available),
		Exposure:    amountString(p.Exposure),
		Free:        p.Free().String(),
		MaxExposure: amountString(p.MaxExposure),
		Spent:       amountString(p.Spent),
		UpdatedAt:   unixOrZero(p.UpdatedAt),
	}
}

type settlementView struct {
	OrderId          string `json:"orderId"`
	SourceChain      uint64 `json:"sourceChain"`
	DestinationChain uint64 `json:"destinationChain"`
	Stage            string `json:"stage"`
	FillTxHash       string `json:"fillTxHash,omitempty"`
	FillBlock        uint64 `json:"fillBlock,omitempty"`
	SettleTxHash     string `json:"settleTxHash,omitempty"`
	SettleAttempts   int    `json:"settleAttempts"`
	LastError        string `json:"lastError,omitempty"`
	UpdatedAt        int64  `json:"updatedAt"`
}

func toSettlementView(r domain.SettlementRecord) settlementView {
	return settlementView{
		OrderId:          r.OrderId,
		SourceChain:      r.SourceChain,
		DestinationChain: r.DestinationChain,
		Stage:            string(r.Stage),
		FillTxHash:       r.FillTxHash,
		FillBlock:        r.FillBlock,
		SettleTxHash:     r.SettleTxHash,
		SettleAttempts:   r.SettleAttempts,
		LastError:        r.LastError,
		UpdatedAt:        unixOrZero(r.UpdatedAt),
	}
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
