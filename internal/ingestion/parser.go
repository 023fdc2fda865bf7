// Package ingestion receives confirmed executions from NATS JetStream,
// parses the wire payloads into typed triggers, and feeds them to the
// reconciliation orchestrator. Malformed payloads are acked and counted so
// a poisoned message is never redelivered forever.
package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/ledger"
	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/reconcile"
)

// executionJSON is the wire shape the strategy's execution layer publishes
// on basis.executions.*. One message is one confirmed execution: a stable
// identity plus the deltas it produced, delivered at least once.
type executionJSON struct {
	ExecutionID string      `json:"execution_id"`
	Timestamp   time.Time   `json:"timestamp"`
	Deltas      []deltaJSON `json:"deltas"`
}

type deltaJSON struct {
	Key      string            `json:"key"`
	Amount   decimal.Decimal   `json:"amount"`
	Source   string            `json:"source"`
	Price    *decimal.Decimal  `json:"price,omitempty"`
	Fee      *decimal.Decimal  `json:"fee,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ParseExecution converts a wire payload into an execution trigger. The
// parse validates shape only; whether the keys are declared is the
// ledger's call.
func ParseExecution(data []byte) (*reconcile.ExecutionTrigger, error) {
	var j executionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse execution: %w", err)
	}

	execID, err := uuid.Parse(j.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("parse execution_id %q: %w", j.ExecutionID, err)
	}
	if j.Timestamp.IsZero() {
		return nil, fmt.Errorf("execution %s: missing timestamp", execID)
	}
	if len(j.Deltas) == 0 {
		return nil, fmt.Errorf("execution %s: empty delta batch", execID)
	}

	deltas := make([]ledger.Delta, 0, len(j.Deltas))
	for i, dj := range j.Deltas {
		key, err := ledger.ParsePositionKey(dj.Key)
		if err != nil {
			return nil, fmt.Errorf("execution %s delta %d: %w", execID, i, err)
		}
		source, err := ledger.ParseSource(dj.Source)
		if err != nil {
			return nil, fmt.Errorf("execution %s delta %d: %w", execID, i, err)
		}
		d := ledger.Delta{
			Key:      key,
			Amount:   dj.Amount,
			Source:   source,
			Metadata: dj.Metadata,
		}
		if dj.Price != nil {
			d.Price = *dj.Price
		}
		if dj.Fee != nil {
			d.Fee = *dj.Fee
		}
		deltas = append(deltas, d)
	}

	return &reconcile.ExecutionTrigger{
		ExecutionID: execID,
		Time:        j.Timestamp.UTC(),
		Deltas:      deltas,
	}, nil
}
