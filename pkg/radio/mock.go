package radio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/irctrakz/wildprobe/pkg/logging"
)

// MockMetrics contains counters for a mock driver.
type MockMetrics struct {
	// Injected is the number of events accepted by Inject.
	Injected uint64

	// Delivered is the number of events handed to the receive callback.
	Delivered uint64

	// Dropped is the number of events discarded because the receive path
	// was disabled, no callback was registered, or the queue was full.
	Dropped uint64
}

// MockDriver is a Driver for development platforms and tests. Events passed
// to Inject are delivered to the registered callback from a dedicated
// goroutine, the same way a platform radio task would.
type MockDriver[E any] struct {
	name     string
	queueCap int

	mu       sync.Mutex
	open     bool
	fn       ReceiveFunc[E]
	ctx      any
	eventCh  chan E
	stopCh   chan struct{}
	loopWG   sync.WaitGroup
	pending  sync.WaitGroup
	enabled  atomic.Bool
	inFn     atomic.Bool
	interval uint16
	window   uint16

	// Failure injection, consulted by the corresponding calls.
	FailOpen     error
	FailRegister error
	FailEnable   error

	injected  uint64
	delivered uint64
	dropped   uint64
	opens     uint64
	closes    uint64
}

var _ Driver[int] = (*MockDriver[int])(nil)
var _ ScanParamSetter = (*MockDriver[int])(nil)

// NewMockDriver creates a mock driver with room for queueCap undelivered events.
func NewMockDriver[E any](name string, queueCap int) *MockDriver[E] {
	if queueCap <= 0 {
		queueCap = 256
	}
	return &MockDriver[E]{name: name, queueCap: queueCap}
}

// Name returns the driver name.
func (m *MockDriver[E]) Name() string { return m.name }

// Open implements Driver.
func (m *MockDriver[E]) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailOpen != nil {
		return fmt.Errorf("%s: open: %w", m.name, m.FailOpen)
	}
	if m.open {
		return ErrAlreadyOpen
	}

	m.eventCh = make(chan E, m.queueCap)
	m.stopCh = make(chan struct{})
	m.open = true
	m.opens++

	m.loopWG.Add(1)
	go m.readLoop(m.eventCh, m.stopCh)

	logging.Debugf("Mock radio %s opened", m.name)
	return nil
}

// Close implements Driver. It waits for the delivery goroutine to exit,
// except while a receive callback is running, since the callback may itself
// be the caller.
func (m *MockDriver[E]) Close() error {
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return nil
	}
	m.open = false
	m.enabled.Store(false)
	close(m.stopCh)
	m.closes++
	m.mu.Unlock()

	if !m.inFn.Load() {
		m.loopWG.Wait()
	}

	logging.Debugf("Mock radio %s closed", m.name)
	return nil
}

// Register implements Driver.
func (m *MockDriver[E]) Register(fn ReceiveFunc[E], ctx any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return ErrNotOpen
	}
	if m.FailRegister != nil {
		return fmt.Errorf("%s: register: %w", m.name, m.FailRegister)
	}
	m.fn = fn
	m.ctx = ctx
	return nil
}

// Unregister implements Driver.
func (m *MockDriver[E]) Unregister() {
	m.mu.Lock()
	m.fn = nil
	m.ctx = nil
	m.mu.Unlock()
}

// Enable implements Driver.
func (m *MockDriver[E]) Enable() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return ErrNotOpen
	}
	if m.FailEnable != nil {
		return fmt.Errorf("%s: enable: %w", m.name, m.FailEnable)
	}
	if m.fn == nil {
		return ErrNoReceiver
	}
	m.enabled.Store(true)
	return nil
}

// Disable implements Driver.
func (m *MockDriver[E]) Disable() error {
	m.enabled.Store(false)
	return nil
}

// Enabled reports whether the receive path is on.
func (m *MockDriver[E]) Enabled() bool { return m.enabled.Load() }

// IsOpen reports whether the driver is open.
func (m *MockDriver[E]) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// Registered reports whether a receive callback is installed.
func (m *MockDriver[E]) Registered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fn != nil
}

// SetScanParams implements ScanParamSetter.
func (m *MockDriver[E]) SetScanParams(interval, window uint16) error {
	if window > interval {
		return ErrInvalidScanParam
	}
	m.mu.Lock()
	m.interval = interval
	m.window = window
	m.mu.Unlock()
	return nil
}

// ScanParams returns the last applied scan timing.
func (m *MockDriver[E]) ScanParams() (interval, window uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval, m.window
}

// Inject queues ev for delivery. It never blocks.
func (m *MockDriver[E]) Inject(ev E) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return ErrNotOpen
	}

	m.pending.Add(1)
	select {
	case m.eventCh <- ev:
		atomic.AddUint64(&m.injected, 1)
		return nil
	default:
		m.pending.Done()
		atomic.AddUint64(&m.dropped, 1)
		return ErrQueueFull
	}
}

// Drain blocks until every injected event has been delivered or dropped.
// It must not be called concurrently with Inject.
func (m *MockDriver[E]) Drain() {
	m.pending.Wait()
}

// Metrics returns the driver counters.
func (m *MockDriver[E]) Metrics() MockMetrics {
	return MockMetrics{
		Injected:  atomic.LoadUint64(&m.injected),
		Delivered: atomic.LoadUint64(&m.delivered),
		Dropped:   atomic.LoadUint64(&m.dropped),
	}
}

// Lifecycle returns how many times the driver was opened and closed.
func (m *MockDriver[E]) Lifecycle() (opens, closes uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens, m.closes
}

func (m *MockDriver[E]) readLoop(eventCh chan E, stopCh chan struct{}) {
	defer m.loopWG.Done()

	for {
		select {
		case <-stopCh:
			// Anything still queued is discarded with the handle.
			for {
				select {
				case <-eventCh:
					atomic.AddUint64(&m.dropped, 1)
					m.pending.Done()
				default:
					return
				}
			}
		case ev := <-eventCh:
			m.deliver(ev)
			m.pending.Done()
		}
	}
}

func (m *MockDriver[E]) deliver(ev E) {
	if !m.enabled.Load() {
		atomic.AddUint64(&m.dropped, 1)
		return
	}
	m.mu.Lock()
	fn, ctx := m.fn, m.ctx
	m.mu.Unlock()

	if fn == nil {
		atomic.AddUint64(&m.dropped, 1)
		return
	}
	atomic.AddUint64(&m.delivered, 1)
	m.inFn.Store(true)
	defer m.inFn.Store(false)
	fn(ctx, ev)
}
