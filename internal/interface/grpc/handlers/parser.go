package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/arkade-os/solverd/internal/core/ports"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

const maxBodySize = 1 << 20

var intentStatuses = map[string]domain.IntentStatus{
	strings.ToLower(string(domain.IntentDiscovered)):        domain.IntentDiscovered,
	strings.ToLower(string(domain.IntentAccepted)):          domain.IntentAccepted,
	strings.ToLower(string(domain.IntentRejected)):          domain.IntentRejected,
	strings.ToLower(string(domain.IntentCommitted)):         domain.IntentCommitted,
	strings.ToLower(string(domain.IntentRevealed)):          domain.IntentRevealed,
	strings.ToLower(string(domain.IntentFilled)):            domain.IntentFilled,
	strings.ToLower(string(domain.IntentSettlementPending)): domain.IntentSettlementPending,
	strings.ToLower(string(domain.IntentSettled)):           domain.IntentSettled,
	strings.ToLower(string(domain.IntentFailed)):            domain.IntentFailed,
	strings.ToLower(string(domain.IntentExpired)):           domain.IntentExpired,
}

type badRequestError struct {
	msg string
}

func (e badRequestError) Error() string {
	return e.msg
}

func badRequest(format string, args ...any) error {
	return badRequestError{fmt.Sprintf(format, args...)}
}

func parseOrderId(orderId string) (string, error) {
	if len(orderId) <= 0 {
		return "", badRequest("missing order id")
	}
	id := domain.NormalizeOrderId(orderId)
	buf, err := hexutil.Decode(id)
	if err != nil || len(buf) != 32 {
		return "", badRequest("invalid order id %q", orderId)
	}
	return id, nil
}

// parseStatuses accepts both repeated and comma separated status values.
func parseStatuses(values []string) ([]domain.IntentStatus, error) {
	statuses := make([]domain.IntentStatus, 0, len(values))
	for _, value := range values {
		for _, s := range strings.Split(value, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			status, ok := intentStatuses[strings.ToLower(s)]
			if !ok {
				return nil, badRequest("unknown intent status %q", s)
			}
			statuses = append(statuses, status)
		}
	}
	return statuses, nil
}

func parsePrices(raw map[string]string) (ports.Prices, error) {
	if len(raw) <= 0 {
		return nil, badRequest("missing prices")
	}
	prices := make(ports.Prices, len(raw))
	for symbol, value := range raw {
		price, err := decimal.NewFromString(value)
		if err != nil {
			return nil, badRequest("invalid price %q for %s", value, symbol)
		}
		if !price.IsPositive() {
			return nil, badRequest("price for %s must be positive", symbol)
		}
		prices[strings.ToUpper(symbol)] = price
	}
	return prices, nil
}

func parseAddress(address string) (string, error) {
	if address == "" {
		return "", nil
	}
	buf, err := hexutil.Decode(address)
	if err != nil || len(buf) != 20 {
		return "", badRequest("invalid address %q", address)
	}
	return strings.ToLower(address), nil
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return badRequest("failed to read request body: %s", err)
	}
	if len(body) <= 0 {
		return badRequest("missing request body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return badRequest("invalid request body: %s", err)
	}
	return nil
}

func amountString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
