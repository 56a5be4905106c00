// Package capture runs protocol capture sessions: it owns the result store
// and dispatcher, and routes driver events through an adapter and the MAC
// filter before anything is recorded.
package capture

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/irctrakz/wildprobe/pkg/adapter"
	"github.com/irctrakz/wildprobe/pkg/core"
	"github.com/irctrakz/wildprobe/pkg/filter"
	"github.com/irctrakz/wildprobe/pkg/logging"
	"github.com/irctrakz/wildprobe/pkg/radio"
	"github.com/irctrakz/wildprobe/pkg/timesource"
)

// State is the lifecycle state of a session. Scanning is tracked
// separately, see Session.IsScanning.
type State int32

const (
	// Uninitialized sessions have not acquired the radio.
	Uninitialized State = iota
	// Initialized sessions hold the radio and may scan.
	Initialized
	// Closed sessions have released the radio for good.
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options holds the collaborators of a session. All fields are optional.
type Options struct {
	// Name tags log lines, e.g. "WiFiScanner".
	Name string

	// Storage receives every accepted record.
	Storage core.Storage

	// TimeSource stamps records. When nil or returning "", the local
	// wall clock is used.
	TimeSource core.TimeSource

	// Filter decides which addresses are kept. Defaults to filter.Default.
	Filter *filter.Filter
}

// Session is a capture session for driver events of type E.
type Session[E any] struct {
	name       string
	adapter    adapter.Adapter[E]
	driver     radio.Driver[E]
	storage    core.Storage
	timeSource core.TimeSource
	fallback   core.TimeSource
	filter     *filter.Filter
	log        *logrus.Entry

	store      *Store
	dispatcher Dispatcher

	// mu serialises lifecycle operations. The capture path never takes it.
	mu        sync.Mutex
	state     State
	scanning  atomic.Bool
	sessionID atomic.Value

	// configure applies protocol settings to the driver during Initialize.
	// It runs with mu held.
	configure func() error

	metrics core.CaptureMetrics
}

// NewSession creates a session that parses events from driver with a.
func NewSession[E any](a adapter.Adapter[E], driver radio.Driver[E], opts Options) *Session[E] {
	if opts.Name == "" {
		opts.Name = a.Protocol().DataType() + "Scanner"
	}
	if opts.Filter == nil {
		opts.Filter = filter.Default
	}
	s := &Session[E]{
		name:       opts.Name,
		adapter:    a,
		driver:     driver,
		storage:    opts.Storage,
		timeSource: opts.TimeSource,
		fallback:   timesource.NewSystem(clock.New()),
		filter:     opts.Filter,
		log:        logging.WithComponent(opts.Name),
		store:      NewStore(),
	}
	s.sessionID.Store("")
	s.log.Debug("Scanner instance created")
	return s
}

// receive is the driver callback. The session travels in ctx so that no
// package state is needed to find it.
func receive[E any](ctx any, ev E) {
	s, ok := ctx.(*Session[E])
	if !ok || s == nil {
		return
	}
	s.handle(ev)
}

// Name returns the session name.
func (s *Session[E]) Name() string { return s.name }

// Protocol returns the protocol captured by this session.
func (s *Session[E]) Protocol() core.Protocol { return s.adapter.Protocol() }

// State returns the lifecycle state.
func (s *Session[E]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID returns the id of the current or most recent scan.
func (s *Session[E]) SessionID() string {
	return s.sessionID.Load().(string)
}

// Initialize acquires the radio, registers the receive callback and applies
// protocol settings. On failure nothing is retained and it may be retried.
func (s *Session[E]) Initialize() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Initialized:
		s.log.Debug("Already initialized")
		return true
	case Closed:
		s.log.Warn("Cannot initialize a cleaned-up scanner")
		return false
	}

	s.log.Info("Initializing scanner...")

	if err := safely(s.driver.Open); err != nil {
		s.log.WithError(err).Error("Initialization failed: radio bring-up")
		return false
	}
	if err := safely(func() error { return s.driver.Register(receive[E], s) }); err != nil {
		s.log.WithError(err).Error("Initialization failed: callback registration")
		s.releaseDriver()
		return false
	}
	if s.configure != nil {
		if err := safely(s.configure); err != nil {
			s.log.WithError(err).Error("Initialization failed: applying configuration")
			s.releaseDriver()
			return false
		}
	}

	s.state = Initialized
	s.log.Info("Scanner initialization successful")
	return true
}

// StartScan clears previous results and enables the receive path. It fails
// when the session is not initialized or is already scanning.
func (s *Session[E]) StartScan() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Initialized {
		s.log.Warnf("Cannot start scan: scanner %s", s.state)
		return false
	}
	if s.scanning.Load() {
		s.log.Warn("Scan already in progress")
		return false
	}

	s.log.Info("Starting scan...")
	if n := s.store.Clear(); n > 0 {
		s.log.Debugf("Cleared %d previous scan results", n)
	}

	id := uuid.NewString()
	s.sessionID.Store(id)
	s.scanning.Store(true)

	if err := safely(s.driver.Enable); err != nil {
		s.scanning.Store(false)
		s.log.WithError(err).Error("Failed to start scan")
		return false
	}

	s.log.WithField("session", id).Info("Scan started successfully")
	return true
}

// StopScan disables the receive path. Results are kept until the next
// StartScan or ClearResults. Stopping an idle session succeeds.
func (s *Session[E]) StopScan() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Session[E]) stopLocked() bool {
	if !s.scanning.CompareAndSwap(true, false) {
		s.log.Debug("No active scan to stop")
		return true
	}

	s.log.Info("Stopping scan...")
	if err := safely(s.driver.Disable); err != nil {
		s.log.WithError(err).Warn("Failed to disable receive path")
	}
	s.log.Infof("Scan stopped - captured %d records", s.store.Len())
	return true
}

// Cleanup stops scanning, releases the radio and clears results. It may
// be called any number of times and never panics.
func (s *Session[E]) Cleanup() {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddUint64(&s.metrics.Panics, 1)
			s.log.Errorf("Panic during cleanup: %v", r)
		}
	}()

	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.log.Info("Cleaning up scanner...")
	s.stopLocked()
	release := s.state == Initialized
	s.state = Closed
	s.mu.Unlock()

	// The radio is released without mu: closing it waits for in-flight
	// callbacks, and those may call back into the session.
	if release {
		s.releaseDriver()
	}
	if n := s.store.Clear(); n > 0 {
		s.log.Debugf("Cleared %d stored results", n)
	}
	s.log.Info("Scanner cleanup completed")
}

// Close implements io.Closer.
func (s *Session[E]) Close() error {
	s.Cleanup()
	return nil
}

func (s *Session[E]) releaseDriver() {
	s.driver.Unregister()
	if err := safely(s.driver.Close); err != nil {
		s.log.WithError(err).Warn("Failed to release radio")
	}
}

// whileIdle runs fn with the lifecycle lock held, unless scanning.
func (s *Session[E]) whileIdle(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanning.Load() {
		return false
	}
	fn()
	return true
}

// IsScanning reports whether the session is scanning.
func (s *Session[E]) IsScanning() bool { return s.scanning.Load() }

// Results returns a snapshot of the records captured so far.
func (s *Session[E]) Results() []core.CaptureRecord {
	return s.store.Snapshot()
}

// ResultCount returns the number of records captured so far.
func (s *Session[E]) ResultCount() int {
	return s.store.Len()
}

// ClearResults discards all captured records.
func (s *Session[E]) ClearResults() {
	n := s.store.Clear()
	s.log.Debugf("Manually cleared %d scan results", n)
}

// SetCallback replaces the record handler. A nil handler clears it.
func (s *Session[E]) SetCallback(h core.RecordHandler) {
	s.dispatcher.Set(h)
	if h != nil {
		s.log.Debug("Result callback registered")
	} else {
		s.log.Debug("Result callback cleared")
	}
}

// Metrics returns the session counters.
func (s *Session[E]) Metrics() core.CaptureMetrics {
	return core.CaptureMetrics{
		EventsReceived:   atomic.LoadUint64(&s.metrics.EventsReceived),
		EventsIgnored:    atomic.LoadUint64(&s.metrics.EventsIgnored),
		Malformed:        atomic.LoadUint64(&s.metrics.Malformed),
		Filtered:         atomic.LoadUint64(&s.metrics.Filtered),
		Accepted:         atomic.LoadUint64(&s.metrics.Accepted),
		StorageFailures:  atomic.LoadUint64(&s.metrics.StorageFailures),
		CallbackFailures: atomic.LoadUint64(&s.metrics.CallbackFailures),
		Panics:           atomic.LoadUint64(&s.metrics.Panics),
	}
}

// handle runs on the driver goroutine: validate, parse, filter, append,
// persist, dispatch. Nothing here may unwind into the driver.
func (s *Session[E]) handle(ev E) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddUint64(&s.metrics.Panics, 1)
			s.log.Errorf("Panic on capture path: %v", r)
		}
	}()

	atomic.AddUint64(&s.metrics.EventsReceived, 1)

	if !s.scanning.Load() {
		atomic.AddUint64(&s.metrics.EventsIgnored, 1)
		s.log.Debug("Ignoring event - scanner not active")
		return
	}

	c, ok := s.adapter.Parse(ev)
	if !ok {
		atomic.AddUint64(&s.metrics.Malformed, 1)
		return
	}
	if !s.filter.Allow(c.MACAddress) {
		atomic.AddUint64(&s.metrics.Filtered, 1)
		s.log.Debugf("Ignoring event from filtered MAC: %s", c.MACAddress)
		return
	}

	rec := c.Record(s.timestamp())
	n := s.store.Append(rec)
	atomic.AddUint64(&s.metrics.Accepted, 1)
	if logging.IsDebug() {
		s.log.Debugf("Stored record #%d from MAC: %s (RSSI: %d)", n, rec.MACAddress, rec.RSSI)
	}

	s.persist(rec)

	if err := s.dispatcher.Notify(rec); err != nil {
		atomic.AddUint64(&s.metrics.CallbackFailures, 1)
		s.log.WithError(err).Error("Error in result callback")
	}
}

func (s *Session[E]) persist(rec core.CaptureRecord) {
	if s.storage == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			atomic.AddUint64(&s.metrics.StorageFailures, 1)
			s.log.Errorf("Panic writing record to storage: %v", r)
		}
	}()
	filename := rec.Filename()
	if !s.storage.WriteData(rec, filename) {
		atomic.AddUint64(&s.metrics.StorageFailures, 1)
		s.log.Errorf("Failed to write record to storage: %s", filename)
	}
}

func (s *Session[E]) timestamp() string {
	if s.timeSource != nil {
		if ts := s.timeSource.CurrentDateTime(); ts != "" {
			return ts
		}
	}
	return s.fallback.CurrentDateTime()
}

// safely runs fn, turning a panic into an error.
func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
