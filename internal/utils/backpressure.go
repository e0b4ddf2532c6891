package utils

import (
	"sync/atomic"
)

// BackpressureMetrics tracks channel overflow statistics
type BackpressureMetrics struct {
	channelOverflows int64
	droppedMessages  int64
}

// IncOverflows increments the overflow counter
func (bm *BackpressureMetrics) IncOverflows() {
	atomic.AddInt64(&bm.channelOverflows, 1)
}

// IncDropped increments the dropped messages counter
func (bm *BackpressureMetrics) IncDropped() {
	atomic.AddInt64(&bm.droppedMessages, 1)
}

// GetStats returns current metrics
func (bm *BackpressureMetrics) GetStats() (overflows, dropped int64) {
	return atomic.LoadInt64(&bm.channelOverflows),
		atomic.LoadInt64(&bm.droppedMessages)
}

// TrySend attempts a non-blocking send, recording an overflow when the channel is full
func TrySend[T any](ch chan<- T, data T, metrics *BackpressureMetrics) bool {
	select {
	case ch <- data:
		return true
	default:
		if metrics != nil {
			metrics.IncOverflows()
			metrics.IncDropped()
		}
		return false
	}
}
