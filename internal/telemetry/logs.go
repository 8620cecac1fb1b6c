package telemetry

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	otellog "go.opentelemetry.io/otel/log"
)

var severities = map[log.Level]otellog.Severity{
	log.TraceLevel: otellog.SeverityTrace,
	log.DebugLevel: otellog.SeverityDebug,
	log.InfoLevel:  otellog.SeverityInfo,
	log.WarnLevel:  otellog.SeverityWarn,
	log.ErrorLevel: otellog.SeverityError,
	log.FatalLevel: otellog.SeverityFatal,
	log.PanicLevel: otellog.SeverityFatal4,
}

// logHook forwards logrus entries to an otel logger.
type logHook struct {
	logger otellog.Logger
	levels []log.Level
}

func newLogHook(logger otellog.Logger, minLevel log.Level) *logHook {
	levels := make([]log.Level, 0, len(log.AllLevels))
	for _, level := range log.AllLevels {
		if level <= minLevel {
			levels = append(levels, level)
		}
	}
	return &logHook{logger, levels}
}

func (h *logHook) Levels() []log.Level {
	return h.levels
}

func (h *logHook) Fire(entry *log.Entry) error {
	ctx := entry.Context
	if ctx == nil {
		ctx = context.Background()
	}
	h.logger.Emit(ctx, toRecord(entry))
	return nil
}

func toRecord(entry *log.Entry) otellog.Record {
	var record otellog.Record
	record.SetTimestamp(entry.Time)
	record.SetObservedTimestamp(entry.Time)
	record.SetBody(otellog.StringValue(entry.Message))
	record.SetSeverity(severities[entry.Level])
	record.SetSeverityText(entry.Level.String())

	attrs := make([]otellog.KeyValue, 0, len(entry.Data))
	for k, v := range entry.Data {
		switch value := v.(type) {
		case string:
			attrs = append(attrs, otellog.String(k, value))
		case int:
			attrs = append(attrs, otellog.Int(k, value))
		case int64:
			attrs = append(attrs, otellog.Int64(k, value))
		case uint64:
			attrs = append(attrs, otellog.Int64(k, int64(value)))
		case bool:
			attrs = append(attrs, otellog.Bool(k, value))
		case error:
			attrs = append(attrs, otellog.String(k, value.Error()))
		default:
			attrs = append(attrs, otellog.String(k, fmt.Sprint(value)))
		}
	}
	record.AddAttributes(attrs...)
	return record
}
