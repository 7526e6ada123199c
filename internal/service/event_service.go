package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/pharmalink/pharmagate/internal/domain/audit"
)

// EventService records security events asynchronously with a buffered
// channel and a background worker, so the request path never waits on
// the store.
type EventService struct {
	store         audit.EventStore
	eventChan     chan audit.SecurityEvent
	wg            sync.WaitGroup
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration
	channelSize   int
	sendTimeout   time.Duration
	now           func() time.Time

	// mu guards stopped against a concurrent close of eventChan.
	mu      sync.RWMutex
	stopped bool

	dropCount atomic.Int64
	onDrop    func()
	dropWarn  rate.Sometimes

	countsMu sync.Mutex
	counts   map[audit.EventType]int64

	eventCounter metric.Int64Counter
}

// EventOption configures EventService.
type EventOption func(*EventService)

// WithBatchSize sets the number of events to batch before writing.
func WithBatchSize(size int) EventOption {
	return func(s *EventService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithFlushInterval sets the interval to flush pending events.
func WithFlushInterval(interval time.Duration) EventOption {
	return func(s *EventService) {
		if interval > 0 {
			s.flushInterval = interval
		}
	}
}

// WithChannelSize sets the size of the event channel buffer.
func WithChannelSize(size int) EventOption {
	return func(s *EventService) {
		if size > 0 {
			s.eventChan = make(chan audit.SecurityEvent, size)
			s.channelSize = size
		}
	}
}

// WithSendTimeout sets the backpressure timeout.
// 0 = drop immediately, >0 = block up to this duration before dropping.
func WithSendTimeout(timeout time.Duration) EventOption {
	return func(s *EventService) {
		s.sendTimeout = timeout
	}
}

// WithDropHook registers a callback run for every dropped event.
func WithDropHook(fn func()) EventOption {
	return func(s *EventService) {
		s.onDrop = fn
	}
}

// WithMeter counts recorded events on an OpenTelemetry counter named
// pharmagate.security.events, with type and severity attributes.
func WithMeter(meter metric.Meter) EventOption {
	return func(s *EventService) {
		counter, err := meter.Int64Counter("pharmagate.security.events",
			metric.WithDescription("Security events recorded, including dropped ones"),
			metric.WithUnit("{event}"),
		)
		if err != nil {
			s.logger.Warn("security event counter unavailable", "error", err)
			return
		}
		s.eventCounter = counter
	}
}

// NewEventService creates an EventService writing to store.
func NewEventService(store audit.EventStore, logger *slog.Logger, opts ...EventOption) *EventService {
	const defaultChannelSize = 1000
	s := &EventService{
		store:         store,
		eventChan:     make(chan audit.SecurityEvent, defaultChannelSize),
		logger:        logger,
		batchSize:     100,
		flushInterval: time.Second,
		channelSize:   defaultChannelSize,
		sendTimeout:   100 * time.Millisecond,
		now:           time.Now,
		dropWarn:      rate.Sometimes{Interval: time.Second},
		counts:        make(map[audit.EventType]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the background worker.
func (s *EventService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Record queues an event. Missing ID, timestamp and severity are filled in.
// If the buffer stays full for sendTimeout the event is dropped and counted.
func (s *EventService) Record(e audit.SecurityEvent) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now().UTC()
	}
	if e.Severity == "" {
		e.Severity = audit.DefaultSeverity(e.Type)
	}

	s.countsMu.Lock()
	s.counts[e.Type]++
	s.countsMu.Unlock()
	if s.eventCounter != nil {
		s.eventCounter.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("type", string(e.Type)),
			attribute.String("severity", string(e.Severity)),
		))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		s.recordDrop(e)
		return
	}

	select {
	case s.eventChan <- e:
		return
	default:
	}

	if s.sendTimeout <= 0 {
		s.recordDrop(e)
		return
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case s.eventChan <- e:
	case <-timer.C:
		s.recordDrop(e)
	}
}

func (s *EventService) recordDrop(e audit.SecurityEvent) {
	drops := s.dropCount.Add(1)
	if s.onDrop != nil {
		s.onDrop()
	}
	s.dropWarn.Do(func() {
		s.logger.Warn("security event dropped",
			"type", e.Type,
			"total_drops", drops,
		)
	})
}

// Query returns stored events matching filter.
func (s *EventService) Query(ctx context.Context, filter audit.Filter) ([]audit.SecurityEvent, error) {
	return s.store.Query(ctx, filter)
}

// Counts returns the number of events recorded per type since start,
// including dropped ones.
func (s *EventService) Counts() map[audit.EventType]int64 {
	s.countsMu.Lock()
	defer s.countsMu.Unlock()
	out := make(map[audit.EventType]int64, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

// DroppedEvents returns the total number of dropped events.
func (s *EventService) DroppedEvents() int64 {
	return s.dropCount.Load()
}

// ChannelDepth returns current channel usage.
func (s *EventService) ChannelDepth() int {
	return len(s.eventChan)
}

// Stop closes the channel and waits for the worker to flush everything
// still buffered. Call it after the HTTP server has returned.
// Safe to call multiple times.
func (s *EventService) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.eventChan)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// worker consumes until Stop closes the channel. Cancelling ctx flushes
// the pending batch but keeps the worker running, so events recorded
// while the server shuts down still reach the store.
func (s *EventService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]audit.SecurityEvent, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	done := ctx.Done()
	write := func(events []audit.SecurityEvent) {
		if ctx.Err() != nil {
			s.finalFlush(events)
			return
		}
		s.flush(ctx, events)
	}

	for {
		select {
		case e, ok := <-s.eventChan:
			if !ok {
				s.finalFlush(batch)
				return
			}
			batch = append(batch, e)
			if len(batch) >= s.batchSize {
				write(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				write(batch)
				batch = batch[:0]
			}

		case <-done:
			s.logger.Debug("event worker context done, draining until stop")
			s.finalFlush(batch)
			batch = batch[:0]
			done = nil
		}
	}
}

// finalFlush writes a batch with its own bounded deadline, for use once
// the worker context is gone.
func (s *EventService) finalFlush(batch []audit.SecurityEvent) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.flush(ctx, batch)
}

// flush writes a batch. Errors are logged, never propagated.
func (s *EventService) flush(ctx context.Context, batch []audit.SecurityEvent) {
	if err := s.store.Append(ctx, batch...); err != nil {
		s.logger.Error("failed to write security events",
			"error", err,
			"count", len(batch),
		)
	}
}
