package alertsmanager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/arkade-os/solverd/internal/core/ports"
)

const (
	serviceName = "solverd"

	maxRetries = 5
)

type Alert struct {
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
}

type service struct {
	baseUrl      string
	explorerUrls map[uint64]string
	httpClient   *http.Client
	baseDelay    time.Duration
}

// NewService returns an Alertmanager publisher. explorerUrls optionally maps a
// chain id to a block explorer base url used to link txs in the alerts.
func NewService(alertManagerURL string, explorerUrls map[uint64]string) ports.Alerts {
	if explorerUrls == nil {
		explorerUrls = make(map[uint64]string)
	}
	return &service{
		baseUrl:      alertManagerURL,
		explorerUrls: explorerUrls,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseDelay: 100 * time.Millisecond,
	}
}

func (s *service) Publish(ctx context.Context, topic ports.Topic, message any) error {
	labels := map[string]string{
		"alertname": string(topic),
		"service":   serviceName,
		"severity":  "info",
	}

	desc := ""
	annotations := map[string]string{}
	switch topic {
	case ports.SettlementPending:
		annotations["firing_title"] = "🚨 Settlement Pending"
		m, ok := message.(ports.SettlementPendingAlert)
		if !ok {
			return fmt.Errorf("invalid message type: %T", message)
		}
		desc = s.formatSettlementPendingAlert(m)
		labels["severity"] = "critical"
		labels["order_id"] = m.OrderId
	case ports.RebalanceRequired:
		annotations["firing_title"] = "⚖️ Rebalance Required"
		m, ok := message.(ports.RebalanceAlert)
		if !ok {
			return fmt.Errorf("invalid message type: %T", message)
		}
		desc = formatRebalanceAlert(m)
		labels["severity"] = "warning"
		labels["chain"] = fmt.Sprintf("%d", m.Chain)
		labels["token"] = m.Token
	case ports.DoubleSpendReceipt:
		annotations["firing_title"] = "🛑 Double Spend Receipt"
		m, ok := message.(ports.DoubleSpendAlert)
		if !ok {
			return fmt.Errorf("invalid message type: %T", message)
		}
		desc = formatGenericAlert(map[string]any{
			"receipt":  m.ReceiptId,
			"sender":   m.Sender,
			"receiver": m.Receiver,
		})
		labels["severity"] = "warning"
		labels["receipt_id"] = m.ReceiptId
	default:
		annotations["firing_title"] = fmt.Sprintf("🔔 %s", topic)
		desc = formatGenericAlert(map[string]any{"event": message})
	}

	annotations["description"] = desc
	alert := Alert{
		Labels:      labels,
		Annotations: annotations,
		StartsAt:    time.Now(),
	}

	if err := s.sendAlert(ctx, alert); err != nil {
		return fmt.Errorf("failed to send alert to AlertManager: %w", err)
	}

	return nil
}

func (s *service) sendAlert(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal([]Alert{alert})
	if err != nil {
		return fmt.Errorf("failed to marshal alerts: %w", err)
	}

	for attempt := range maxRetries {
		req, err := http.NewRequestWithContext(
			ctx, http.MethodPost, s.baseUrl, bytes.NewReader(payload),
		)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		retry := err != nil
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			// 4xx are not retried
			if resp.StatusCode < 500 {
				return fmt.Errorf(
					"failed to send alert to AlertManager with status %d after %d attempts",
					resp.StatusCode, attempt+1,
				)
			}
			retry = true
			err = fmt.Errorf("status %d", resp.StatusCode)
		}

		if retry && attempt < maxRetries-1 {
			// exponential: 100ms, 200ms, 400ms, 800ms
			delay := s.baseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return fmt.Errorf("failed to send alert after %d attempts: %w", attempt+1, err)
	}

	return fmt.Errorf("failed to send alert after %d attempts", maxRetries)
}

func (s *service) formatSettlementPendingAlert(data ports.SettlementPendingAlert) string {
	lines := make([]string, 0)
	if explorer, ok := s.explorerUrls[data.DestinationChain]; ok && data.FillTxHash != "" {
		lines = append(lines, fmt.Sprintf("%s/tx/%s", strings.TrimRight(explorer, "/"), data.FillTxHash))
	}
	lines = append(lines, fmt.Sprintf("\n*Order:* `%s`", data.OrderId))
	lines = append(lines, fmt.Sprintf("• Route: %d → %d", data.SourceChain, data.DestinationChain))
	lines = append(lines, fmt.Sprintf("• Fill tx: %s", data.FillTxHash))
	lines = append(lines, fmt.Sprintf("• Settle attempts: %d", data.Attempts))
	if data.LastError != "" {
		lines = append(lines, fmt.Sprintf("• Last error: %s", data.LastError))
	}
	lines = append(lines, "\nThe fill is confirmed, the settlement needs an operator reconcile.")
	return strings.Join(lines, "\n")
}

func formatRebalanceAlert(data ports.RebalanceAlert) string {
	lines := make([]string, 0)
	lines = append(lines, fmt.Sprintf("*%s on chain %d* (`%s`)", data.Symbol, data.Chain, data.Token))
	lines = append(lines, fmt.Sprintf("• Available: %s", data.Available))
	lines = append(lines, fmt.Sprintf("• Share of total: %s", data.Share))
	lines = append(lines, fmt.Sprintf("• Target: %s", data.Target))
	lines = append(lines, fmt.Sprintf("• Deficit: %s", data.Deficit))
	return strings.Join(lines, "\n")
}

func formatGenericAlert(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("• %s: %v", key, data[key]))
	}
	return strings.Join(lines, "\n")
}
