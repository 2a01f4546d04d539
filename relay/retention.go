package relay

import (
	"time"

	"github.com/duskline/e2ee-core/core/envelope"
	"github.com/duskline/e2ee-core/internal/logger"
	"github.com/duskline/e2ee-core/internal/metrics"
)

func (r *Relay) sweepLoop() {
	interval := r.cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.runCleanup()
		case <-r.stop:
			return
		}
	}
}

// runCleanup enforces spec.md's three retention rules: delivered
// envelope metadata expires after DeliveredRetention, KEP messages
// expire after KEPRetention (whether or not they were ever marked
// delivered — a KEP exchange that never completed is no more useful
// to retain), and if the store exceeds HalveAboveRecords the oldest
// half is dropped regardless of type or age.
func (r *Relay) runCleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for id, rec := range r.records {
		if isKEP(rec.Type) {
			if now.Sub(rec.receivedAt) > r.cfg.KEPRetention {
				delete(r.records, id)
			}
			continue
		}
		if rec.Delivered && now.Sub(rec.DeliveredAt) > r.cfg.DeliveredRetention {
			delete(r.records, id)
		}
	}

	if r.cfg.HalveAboveRecords > 0 && len(r.records) > r.cfg.HalveAboveRecords {
		r.evictOldestHalf()
	}

	metrics.RelayCleanupRuns.Inc()
	metrics.RelayRecordsRetained.Set(float64(len(r.records)))
	r.log.Info("relay retention sweep complete", logger.Int("records_retained", len(r.records)))
}

func isKEP(t envelope.Type) bool {
	return t == envelope.KEPInit || t == envelope.KEPResponse
}

// evictOldestHalf drops the oldest-received half of the store. Called
// only while r.mu is already held.
func (r *Relay) evictOldestHalf() {
	ids := make([]string, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && r.records[ids[j]].receivedAt.Before(r.records[ids[j-1]].receivedAt); j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
	cut := len(ids) / 2
	for _, id := range ids[:cut] {
		delete(r.records, id)
	}
}
