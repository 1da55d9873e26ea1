package runtime

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	jsoncodec "github.com/drblury/busflow/internal/runtime/jsoncodec"
)

const latencySampleSize = 256

// HandlerKind tells saga handlers and plain consumers apart.
type HandlerKind string

const (
	HandlerKindConsumer HandlerKind = "consumer"
	HandlerKindSaga     HandlerKind = "saga"
)

// HandlerInfo describes a registered handler.
type HandlerInfo struct {
	Name        string        `json:"name"`
	Kind        HandlerKind   `json:"kind"`
	Queue       string        `json:"queue"`
	MessageType string        `json:"message_type"`
	SagaType    string        `json:"saga_type,omitempty"`
	Policy      string        `json:"policy,omitempty"`
	Stats       *HandlerStats `json:"stats"`
}

// HandlerStats aggregates per-handler processing counters.
type HandlerStats struct {
	mu            sync.Mutex
	current       HandlerStatsSnapshot
	latencyWindow *latencyWindow
}

// HandlerStatsSnapshot is a point-in-time copy of HandlerStats.
type HandlerStatsSnapshot struct {
	MessagesProcessed   uint64         `json:"messages_processed"`
	MessagesFailed      uint64         `json:"messages_failed"`
	InFlight            int64          `json:"in_flight"`
	TotalProcessingTime int64          `json:"total_processing_time_ns"`
	LastProcessedAt     time.Time      `json:"last_processed_at"`
	Latency             LatencyMetrics `json:"latency"`
	Errors              ErrorBreakdown `json:"errors"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

// ErrorBreakdown counts failed deliveries per ErrorCategory.
type ErrorBreakdown struct {
	Decode      uint64 `json:"decode"`
	Saga        uint64 `json:"saga"`
	Concurrency uint64 `json:"concurrency"`
	Transport   uint64 `json:"transport"`
	Cancelled   uint64 `json:"cancelled"`
	Skipped     uint64 `json:"skipped"`
	Other       uint64 `json:"other"`
	LastError   string `json:"last_error,omitempty"`
}

type ErrorCategory string

const (
	ErrorCategoryNone        ErrorCategory = "none"
	ErrorCategoryDecode      ErrorCategory = "decode"
	ErrorCategorySaga        ErrorCategory = "saga"
	ErrorCategoryConcurrency ErrorCategory = "concurrency"
	ErrorCategoryTransport   ErrorCategory = "transport"
	ErrorCategoryCancelled   ErrorCategory = "cancelled"
	ErrorCategorySkipped     ErrorCategory = "skipped"
	ErrorCategoryOther       ErrorCategory = "other"
)

// ErrorClassifier maps a handler error onto an ErrorCategory.
type ErrorClassifier func(error) ErrorCategory

func newHandlerStats() *HandlerStats {
	return &HandlerStats{latencyWindow: newLatencyWindow(latencySampleSize)}
}

func (h *HandlerStats) onMessageStart() {
	h.mu.Lock()
	h.current.InFlight++
	h.mu.Unlock()
}

func (h *HandlerStats) onMessageFinish(duration time.Duration, err error, classifier ErrorClassifier) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := &h.current
	c.InFlight--
	c.MessagesProcessed++
	c.TotalProcessingTime += int64(duration)
	c.LastProcessedAt = time.Now().UTC()

	h.latencyWindow.Add(duration)
	c.Latency = h.latencyWindow.Snapshot()
	c.Latency.AverageNs = c.TotalProcessingTime / int64(c.MessagesProcessed)

	if err == nil {
		return
	}
	c.MessagesFailed++
	if classifier == nil {
		classifier = defaultErrorClassifier
	}
	c.Errors.Record(classifier(err), err)
}

// Snapshot returns a copy of the counters.
func (h *HandlerStats) Snapshot() HandlerStatsSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

func (h *HandlerStats) MarshalJSON() ([]byte, error) {
	return jsoncodec.Marshal(h.Snapshot())
}

func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		if err == nil {
			return
		}
		e.Other++
	case ErrorCategoryDecode:
		e.Decode++
	case ErrorCategorySaga:
		e.Saga++
	case ErrorCategoryConcurrency:
		e.Concurrency++
	case ErrorCategoryTransport:
		e.Transport++
	case ErrorCategoryCancelled:
		e.Cancelled++
	case ErrorCategorySkipped:
		e.Skipped++
	default:
		e.Other++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

func defaultErrorClassifier(err error) ErrorCategory {
	switch {
	case err == nil:
		return ErrorCategoryNone
	case errors.Is(err, errspkg.ErrSkip):
		return ErrorCategorySkipped
	case errors.Is(err, errspkg.ErrDecode):
		return ErrorCategoryDecode
	case errors.Is(err, errspkg.ErrSagaProtocolViolation):
		return ErrorCategorySaga
	case errors.Is(err, errspkg.ErrDuplicateSaga), errors.Is(err, errspkg.ErrSagaConcurrency):
		return ErrorCategoryConcurrency
	case errors.Is(err, errspkg.ErrTransport):
		return ErrorCategoryTransport
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorCategoryCancelled
	default:
		return ErrorCategoryOther
	}
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	metrics := LatencyMetrics{LastNs: lw.last}
	if lw.filled == 0 {
		return metrics
	}
	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	return metrics
}

func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}

// Handlers returns the registered handlers.
func (s *Service) Handlers() []*HandlerInfo {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	out := make([]*HandlerInfo, len(s.handlers))
	copy(out, s.handlers)
	return out
}

// IntrospectionHandler serves the registered handlers and move counters as JSON.
func (s *Service) IntrospectionHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body := struct {
			Handlers []*HandlerInfo      `json:"handlers"`
			Moves    MoveMetricsSnapshot `json:"moves"`
		}{
			Handlers: s.Handlers(),
			Moves:    s.moveMetrics.GetSnapshot(),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := jsoncodec.Encode(w, body); err != nil {
			s.Logger.Error("Failed to encode introspection response", err, nil)
		}
	})
}
