package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Rounit002/silentlibrary-sub001/internal/domain"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_operations_total",
		Help: "Reconciliation operations, labeled by outcome",
	}, []string{"operation", "outcome"})

	consistencyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_consistency_failures_total",
		Help: "Fee accounts whose paid total disagreed with the ledger",
	})

	idempotentReplays = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_idempotent_replays_total",
		Help: "Operations answered from a stored idempotency record",
	}, []string{"operation"})
)

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrLedgerMismatch):
		return "mismatch"
	case domain.IsRetryable(err):
		return "unavailable"
	case domain.IsValidation(err), domain.IsNotFound(err), domain.IsConflict(err):
		return "rejected"
	default:
		return "error"
	}
}
