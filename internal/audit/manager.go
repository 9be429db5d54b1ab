package audit

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strukta/bastion/internal/logger"
	"github.com/strukta/bastion/internal/metrics"
)

var (
	// ErrManagerClosed is returned when events are recorded after shutdown.
	ErrManagerClosed = errors.New("audit manager closed")
	// ErrNilEvent is returned when callers attempt to record a nil event.
	ErrNilEvent = errors.New("audit event is nil")
	// ErrBufferFull is returned when the submission queue is saturated.
	ErrBufferFull = errors.New("audit buffer full")

	// errSinkStalled marks a sink write that outlived the write timeout.
	// The event is tracked until the write resolves; callers must not
	// buffer it again.
	errSinkStalled = errors.New("audit sink write timed out")
	// errSinkBusy marks a write refused because an earlier one is still
	// outstanding. The caller keeps ownership of the event.
	errSinkBusy = errors.New("audit sink write outstanding")
)

// Config holds audit trail configuration.
type Config struct {
	Enabled       bool
	Sink          string
	FilePath      string
	BufferSize    int
	FlushInterval time.Duration
	Retention     time.Duration
	// WriteTimeout bounds a single sink write. A write that exceeds it
	// is treated as a sink failure and the manager enters degraded
	// buffering instead of stalling the delivery goroutine. Zero
	// disables the bound.
	WriteTimeout time.Duration
	// DegradedCapacity bounds the in-memory fallback buffer used while
	// the durable sink is failing. Oldest events are dropped first.
	DegradedCapacity int
}

// Manager buffers security events and delivers them asynchronously to
// the durable sink and the query index. Record never blocks on sink
// latency; callers on the request path fire and forget.
type Manager struct {
	cfg    Config
	log    logger.Logger
	writer Writer
	index  *Index

	events chan *Event
	wg     sync.WaitGroup

	flushTicker *time.Ticker
	stopOnce    sync.Once

	// degraded-mode state, touched only by the writer goroutine
	pending      []*Event
	droppedCount int
	degraded     bool

	// inflight holds the pending result of a sink write that outlived
	// WriteTimeout, with the event it carried. The write keeps running
	// in its own goroutine; its outcome is collected before the next
	// sink attempt.
	inflight      chan error
	inflightEvent *Event

	enabled bool
	closed  bool
	mu      sync.RWMutex
}

// NewManager builds an audit manager. A disabled config yields a no-op
// manager so call sites never branch.
func NewManager(cfg Config, index *Index, log logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.GetDefault()
	}

	if !cfg.Enabled {
		return &Manager{cfg: cfg, log: log, enabled: false}, nil
	}

	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.DegradedCapacity <= 0 {
		cfg.DegradedCapacity = 1024
	}

	writer, err := newWriter(cfg)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:         cfg,
		log:         log,
		writer:      writer,
		index:       index,
		events:      make(chan *Event, cfg.BufferSize),
		flushTicker: time.NewTicker(cfg.FlushInterval),
		enabled:     true,
	}

	m.wg.Add(1)
	go m.run()

	return m, nil
}

// Enabled indicates whether audit recording is active.
func (m *Manager) Enabled() bool {
	return m != nil && m.enabled
}

// Record enqueues an event for asynchronous persistence and returns
// immediately. A full queue drops the event with a metric rather than
// blocking the caller.
func (m *Manager) Record(ctx context.Context, event *Event) (string, error) {
	if m == nil || !m.enabled {
		return "", nil
	}
	if event == nil {
		return "", ErrNilEvent
	}

	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		metrics.AuditEventsDroppedTotal.WithLabelValues(m.cfg.Sink, "manager_closed").Inc()
		return "", ErrManagerClosed
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	select {
	case m.events <- event:
		return event.ID, nil
	default:
		metrics.AuditEventsDroppedTotal.WithLabelValues(m.cfg.Sink, "queue_full").Inc()
		return "", ErrBufferFull
	}
}

// Query serves events from the index.
func (m *Manager) Query(f Filter) ([]Event, error) {
	if m == nil || m.index == nil {
		return nil, nil
	}
	return m.index.Query(f)
}

// Compact drops indexed events past the retention period.
func (m *Manager) Compact(now time.Time) (int, error) {
	if m == nil || m.index == nil {
		return 0, nil
	}
	retention := m.cfg.Retention
	if retention <= 0 {
		retention = 365 * 24 * time.Hour
	}
	return m.index.Compact(now.Add(-retention))
}

func (m *Manager) run() {
	defer m.wg.Done()

	for {
		select {
		case event, ok := <-m.events:
			if !ok {
				m.drainPending()
				if n := len(m.pending); n > 0 {
					m.log.Error("audit events unflushed at shutdown",
						logger.Int("count", n))
				}
				m.flush()
				return
			}
			m.deliver(event)
		case <-m.flushTicker.C:
			m.drainPending()
			m.flush()
		}
	}
}

// deliver writes one event to the sink and the index, falling back to
// the degraded buffer when the sink is unavailable.
func (m *Manager) deliver(event *Event) {
	if event == nil {
		return
	}

	if len(m.pending) > 0 || m.degraded {
		m.buffer(event)
		m.drainPending()
		return
	}

	switch err := m.writeSink(event); {
	case err == nil:
		m.indexEvent(event)
		metrics.AuditEventsTotal.WithLabelValues(m.cfg.Sink, "written").Inc()
	case errors.Is(err, errSinkStalled):
		// The stalled write still holds the event; it is indexed or
		// buffered when its result lands.
		m.enterDegraded(err)
	default:
		m.enterDegraded(err)
		m.buffer(event)
	}
}

// writeSink writes one event to the sink, bounded by WriteTimeout. On
// timeout the write keeps running in the background and the event stays
// tracked as inflight.
func (m *Manager) writeSink(event *Event) error {
	if !m.settleInflight() {
		return errSinkBusy
	}
	if m.cfg.WriteTimeout <= 0 {
		return m.writer.Write(event)
	}

	done := make(chan error, 1)
	go func() { done <- m.writer.Write(event) }()

	timer := time.NewTimer(m.cfg.WriteTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		m.inflight = done
		m.inflightEvent = event
		return errSinkStalled
	}
}

// settleInflight collects the result of a write that outlived its
// timeout. Returns false while that write is still outstanding.
func (m *Manager) settleInflight() bool {
	if m.inflight == nil {
		return true
	}
	select {
	case err := <-m.inflight:
		event := m.inflightEvent
		m.inflight, m.inflightEvent = nil, nil
		if err != nil {
			m.buffer(event)
			return true
		}
		m.indexEvent(event)
		metrics.AuditEventsTotal.WithLabelValues(m.cfg.Sink, "written").Inc()
		return true
	default:
		return false
	}
}

func (m *Manager) buffer(event *Event) {
	if len(m.pending) >= m.cfg.DegradedCapacity {
		// Oldest buffered events go first, never silently: the drop
		// count surfaces in the recovery event.
		m.pending = m.pending[1:]
		m.droppedCount++
		metrics.AuditEventsDroppedTotal.WithLabelValues(m.cfg.Sink, "degraded_overflow").Inc()
	}
	m.pending = append(m.pending, event)
}

// drainPending replays the degraded buffer. On full recovery a single
// audit.degraded event records how many events were lost.
func (m *Manager) drainPending() {
	if !m.settleInflight() {
		return
	}
	if len(m.pending) == 0 {
		if m.degraded {
			m.exitDegraded()
		}
		return
	}

	for len(m.pending) > 0 {
		event := m.pending[0]
		err := m.writeSink(event)
		if errors.Is(err, errSinkStalled) {
			// Tracked as inflight now; resolved on the next pass.
			m.pending = m.pending[1:]
			return
		}
		if err != nil {
			return // still down, try again on next tick
		}
		m.pending = m.pending[1:]
		m.indexEvent(event)
		metrics.AuditEventsTotal.WithLabelValues(m.cfg.Sink, "written").Inc()
	}
	m.exitDegraded()
}

func (m *Manager) enterDegraded(err error) {
	if m.degraded {
		return
	}
	m.degraded = true
	metrics.AuditDegraded.Set(1)
	m.log.Error("audit sink unavailable, buffering in memory", logger.Error(err))
}

func (m *Manager) exitDegraded() {
	if !m.degraded {
		return
	}
	m.degraded = false
	metrics.AuditDegraded.Set(0)

	recovery := &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      EventAuditDegraded,
		Result:    ResultSuccess,
		Severity:  SeverityWarning,
		Context: map[string]string{
			CtxKeyDropped: strconv.Itoa(m.droppedCount),
		},
	}
	m.droppedCount = 0

	if err := m.writer.Write(recovery); err != nil {
		m.log.Error("failed to write audit recovery event", logger.Error(err))
		return
	}
	m.indexEvent(recovery)
	m.log.Warn("audit sink recovered",
		logger.String("dropped", recovery.Context[CtxKeyDropped]))
}

func (m *Manager) indexEvent(event *Event) {
	if m.index == nil {
		return
	}
	if err := m.index.Put(event); err != nil {
		m.log.Error("failed to index audit event",
			logger.String("event_id", event.ID),
			logger.Error(err))
	}
}

func (m *Manager) flush() {
	start := time.Now()
	if err := m.writer.Flush(); err != nil {
		m.log.Error("failed to flush audit writer", logger.Error(err))
		return
	}
	metrics.AuditFlushDuration.WithLabelValues(m.cfg.Sink).Observe(time.Since(start).Seconds())
}

// Shutdown drains the queue, flushes the writer, and closes resources.
// Events enqueued before shutdown are flushed even if the originating
// requests were cancelled.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil || !m.enabled {
		return nil
	}

	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.events)
	})

	m.flushTicker.Stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.flush()
	return m.writer.Close(ctx)
}
