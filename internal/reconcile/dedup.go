package reconcile

import (
	"container/list"
	"context"

	"github.com/rs/zerolog"

	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/observability"
)

// DurableChecker probes the durable audit store for an execution ID. The
// Postgres implementation lives in internal/persistence.
type DurableChecker interface {
	Seen(ctx context.Context, executionID string) (bool, error)
}

// Deduper is the two-tier execution-ID idempotency check: an in-memory
// LRU in front of the durable store. A durable-store error is answered
// conservatively with "not seen" so a database hiccup cannot block
// execution processing.
//
// Not thread-safe; the orchestrator's single-flight guard serializes all
// access.
type Deduper struct {
	lru     *executionLRU
	durable DurableChecker
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewDeduper builds a deduper. durable may be nil, leaving only the LRU
// tier. metrics may be nil.
func NewDeduper(capacity int, durable DurableChecker, logger zerolog.Logger, metrics *observability.Metrics) *Deduper {
	return &Deduper{
		lru:     newExecutionLRU(capacity),
		durable: durable,
		logger:  logger,
		metrics: metrics,
	}
}

// Seen reports whether the execution ID was already processed. A durable
// hit is promoted into the LRU so the next delivery stays on the hot path.
func (d *Deduper) Seen(ctx context.Context, executionID string) bool {
	if d.lru.Contains(executionID) {
		d.countDuplicate("lru")
		return true
	}

	if d.durable == nil {
		return false
	}
	seen, err := d.durable.Seen(ctx, executionID)
	if err != nil {
		d.logger.Warn().
			Err(err).
			Str("execution_id", executionID).
			Msg("Durable dedup lookup failed, assuming new execution")
		return false
	}
	if seen {
		d.countDuplicate("durable")
		d.lru.Add(executionID)
		return true
	}
	return false
}

// Mark records the execution ID after its cycle completed.
func (d *Deduper) Mark(executionID string) {
	d.lru.Add(executionID)
}

func (d *Deduper) countDuplicate(tier string) {
	if d.metrics != nil {
		d.metrics.DuplicateTriggers.WithLabelValues(tier).Inc()
	}
}

// executionLRU is a capacity-bounded recency cache over execution IDs.
type executionLRU struct {
	capacity int
	cache    map[string]*list.Element
	order    *list.List
}

func newExecutionLRU(capacity int) *executionLRU {
	if capacity <= 0 {
		capacity = 1024
	}
	return &executionLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

func (l *executionLRU) Contains(id string) bool {
	elem, ok := l.cache[id]
	if ok {
		l.order.MoveToFront(elem)
	}
	return ok
}

func (l *executionLRU) Add(id string) {
	if elem, ok := l.cache[id]; ok {
		l.order.MoveToFront(elem)
		return
	}
	l.cache[id] = l.order.PushFront(id)
	if l.order.Len() > l.capacity {
		oldest := l.order.Back()
		l.order.Remove(oldest)
		delete(l.cache, oldest.Value.(string))
	}
}

func (l *executionLRU) Len() int {
	return l.order.Len()
}
