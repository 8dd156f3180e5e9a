package cashflow

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the process-wide structured logger. JSON formatting in
// production, text in development — mirrors evalgo-org-eve's
// common.LoggerConfig split on the same axis.
func NewLogger(level string, jsonFormat bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if jsonFormat {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

// RequestFields builds the standard field set every log line for a
// mutating command should carry, per SPEC_FULL.md's ambient-logging note.
func RequestFields(tenantID, correlationID, idempotencyKey string) logrus.Fields {
	return logrus.Fields{
		"tenant_id":       tenantID,
		"correlation_id":  correlationID,
		"idempotency_key": idempotencyKey,
	}
}
