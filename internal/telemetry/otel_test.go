package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/arkade-os/solverd/internal/core/application"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/embedded"
)

type staticInfo struct{}

func (staticInfo) GetInfo(context.Context) (*application.ServiceInfo, error) {
	return &application.ServiceInfo{SolverAddress: "0xf0", PendingIntents: 3, CurrentEpoch: 7}, nil
}

func TestParseEndpoint(t *testing.T) {
	fixtures := []struct {
		endpoint string
		host     string
		insecure bool
	}{
		{"localhost:4318", "localhost:4318", true},
		{"http://otel-collector:4318", "otel-collector:4318", true},
		{"https://collector.example.com", "collector.example.com", false},
	}
	for _, f := range fixtures {
		t.Run(f.endpoint, func(t *testing.T) {
			host, insecure, err := parseEndpoint(f.endpoint)
			require.NoError(t, err)
			require.Equal(t, f.host, host)
			require.Equal(t, f.insecure, insecure)
		})
	}

	for _, endpoint := range []string{"", "grpc://collector:4317", "http://"} {
		_, _, err := parseEndpoint(endpoint)
		require.Error(t, err, endpoint)
	}
}

func TestInitOtelSDK(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	shutdown, err := InitOtelSDK(ctx, "http://127.0.0.1:4318", time.Hour, staticInfo{})
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	// nothing is listening on the collector port, only make sure shutdown returns
	shutdownCtx, cancelShutdown := context.WithTimeout(t.Context(), time.Second)
	defer cancelShutdown()
	// nolint
	shutdown(shutdownCtx)

	_, err = InitOtelSDK(ctx, "", time.Second, nil)
	require.Error(t, err)
}

type recordingLogger struct {
	embedded.Logger
	records []otellog.Record
}

func (l *recordingLogger) Emit(_ context.Context, record otellog.Record) {
	l.records = append(l.records, record)
}

func (l *recordingLogger) Enabled(context.Context, otellog.EnabledParameters) bool {
	return true
}

func TestLogHook(t *testing.T) {
	logger := &recordingLogger{}
	hook := newLogHook(logger, log.InfoLevel)
	require.NotContains(t, hook.Levels(), log.DebugLevel)
	require.Contains(t, hook.Levels(), log.WarnLevel)

	entry := log.NewEntry(log.New()).WithFields(log.Fields{
		"order_id": "0x01",
		"chain":    uint64(10),
	})
	entry.Message = "intent scored"
	entry.Level = log.WarnLevel
	require.NoError(t, hook.Fire(entry))

	require.Len(t, logger.records, 1)
	record := logger.records[0]
	require.Equal(t, "intent scored", record.Body().AsString())
	require.Equal(t, otellog.SeverityWarn, record.Severity())
	require.Equal(t, 2, record.AttributesLen())
}
