package alert

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Notifier delivers one rendered alert message to an external channel.
type Notifier interface {
	Notify(ctx context.Context, msg string) error
}

// Alerter is the surface the engine raises important events through. The
// zero value (a nil *Manager) is a valid no-op implementation.
type Alerter interface {
	Important(event string, fields map[string]string)
}

const (
	defaultQueueSize          = 128
	defaultDropReportInterval = time.Minute
	notifyTimeout             = 20 * time.Second
)

type ManagerOptions struct {
	QueueSize          int
	DropReportInterval time.Duration
}

// Manager queues alerts and delivers them asynchronously so a slow or down
// notifier never blocks the trading loop. When the queue is full new alerts
// are dropped and the drops are counted and reported.
type Manager struct {
	symbol   string
	runID    string
	notifier Notifier
	logger   *log.Logger

	queue chan event
	stop  chan struct{}
	done  chan struct{}

	dropInterval  time.Duration
	dropped       uint64
	droppedWindow uint64

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

type event struct {
	name   string
	fields map[string]string
}

func NewManager(symbol, runID string, notifier Notifier, logger *log.Logger) *Manager {
	return NewManagerWithOptions(symbol, runID, notifier, logger, ManagerOptions{
		QueueSize:          defaultQueueSize,
		DropReportInterval: defaultDropReportInterval,
	})
}

func NewManagerWithOptions(symbol, runID string, notifier Notifier, logger *log.Logger, opts ManagerOptions) *Manager {
	if notifier == nil {
		return nil
	}
	if logger == nil {
		logger = log.Default()
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	interval := opts.DropReportInterval
	if interval < 0 {
		interval = 0
	}
	m := &Manager{
		symbol:       symbol,
		runID:        runID,
		notifier:     notifier,
		logger:       logger,
		queue:        make(chan event, queueSize),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		dropInterval: interval,
	}
	m.wg.Add(1)
	go m.deliverLoop()
	if m.dropInterval > 0 {
		m.wg.Add(1)
		go m.dropReportLoop()
	}
	go func() {
		m.wg.Wait()
		close(m.done)
	}()
	return m
}

// Important enqueues an alert without blocking. A full queue drops the
// alert; the first drop in each report window is logged immediately.
func (m *Manager) Important(name string, fields map[string]string) {
	if m == nil || m.notifier == nil {
		return
	}
	ev := event{name: name, fields: cloneFields(fields)}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- ev:
	default:
		total := atomic.AddUint64(&m.dropped, 1)
		window := atomic.AddUint64(&m.droppedWindow, 1)
		if window == 1 {
			m.logger.Printf("level=WARN event=alert_dropped target_event=%q reason=queue_full dropped_total=%d queue_cap=%d",
				name, total, cap(m.queue))
		}
	}
}

// Close drains the queue and waits for delivery to finish, bounded by ctx.
func (m *Manager) Close(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stop)
	m.mu.Unlock()

	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) deliverLoop() {
	defer m.wg.Done()
	for {
		select {
		case ev := <-m.queue:
			m.deliver(ev)
		case <-m.stop:
			for {
				select {
				case ev := <-m.queue:
					m.deliver(ev)
				default:
					m.reportDrops()
					return
				}
			}
		}
	}
}

func (m *Manager) dropReportLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.dropInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.reportDrops()
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) reportDrops() {
	window := atomic.SwapUint64(&m.droppedWindow, 0)
	if window == 0 {
		return
	}
	m.logger.Printf("level=WARN event=alert_drop_report dropped_in_window=%d dropped_total=%d queue_len=%d queue_cap=%d",
		window, atomic.LoadUint64(&m.dropped), len(m.queue), cap(m.queue))
}

func (m *Manager) deliver(ev event) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := m.notifier.Notify(ctx, m.render(ev)); err != nil {
		m.logger.Printf("level=ERROR event=alert_notify_failed target_event=%q err=%q", ev.name, err.Error())
	}
}

func (m *Manager) render(ev event) string {
	lines := []string{
		"[backpack-grid] " + ev.name,
		"time: " + time.Now().UTC().Format(time.RFC3339),
		"symbol: " + m.symbol,
		"run: " + m.runID,
	}
	keys := make([]string, 0, len(ev.fields))
	for k := range ev.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, k+": "+ev.fields[k])
	}
	return strings.Join(lines, "\n")
}

func cloneFields(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
