package worker

import (
	"context"

	"github.com/astra-platform/backbone/internal/eventlog"
	"github.com/astra-platform/backbone/internal/logging"
)

// AuditGroup is the consumer group name of the cross-domain audit trail.
const AuditGroup = "audit"

// NewAuditPool builds the fan-in pool that records every domain event under
// the given namespace. It subscribes with a wildcard pattern so a single
// group observes all domains.
func NewAuditPool(log *eventlog.Log, namespace string, logger *logging.Logger) (*Pool, error) {
	if namespace == "" {
		namespace = "astra"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	auditLog := logger.Component("audit")

	handler := func(_ context.Context, d eventlog.Delivery) error {
		auditLog.With("correlation_id", d.CorrelationID).
			With("event_id", d.ID).
			Infof("%s partition=%d offset=%d", d.Topic, d.Partition, d.Offset)
		return nil
	}

	return NewPool(log, Config{
		Group:       AuditGroup,
		Pattern:     namespace + ".*.*.v1",
		Concurrency: 1,
		DedupeSize:  4096,
	}, handler, logger)
}
