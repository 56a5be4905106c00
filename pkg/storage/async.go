package storage

import (
	"sync"
	"sync/atomic"

	"github.com/irctrakz/wildprobe/pkg/core"
	"github.com/irctrakz/wildprobe/pkg/logging"
)

type writeJob struct {
	rec      core.CaptureRecord
	filename string
}

// AsyncWriter moves storage I/O off the capture goroutine. WriteData only
// enqueues; a single worker writes to the wrapped storage in arrival order.
// When the queue is full the record is dropped and WriteData returns false.
type AsyncWriter struct {
	next core.Storage

	mu      sync.RWMutex
	queue   chan writeJob
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	stopped bool

	enqueued uint64
	written  uint64
	failed   uint64
	dropped  uint64
}

var _ core.Storage = (*AsyncWriter)(nil)

// NewAsyncWriter wraps next with a queue of queueCap records.
func NewAsyncWriter(next core.Storage, queueCap int) *AsyncWriter {
	if queueCap <= 0 {
		queueCap = 1000
	}
	return &AsyncWriter{
		next:   next,
		queue:  make(chan writeJob, queueCap),
		stopCh: make(chan struct{}),
	}
}

// Start starts the worker.
func (a *AsyncWriter) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started || a.stopped {
		return nil
	}
	a.started = true
	a.wg.Add(1)
	go a.worker()
	logging.Infof("Async storage writer started (queue %d)", cap(a.queue))
	return nil
}

// Stop flushes queued records and stops the worker. Later writes fail.
func (a *AsyncWriter) Stop() error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	started := a.started
	close(a.stopCh)
	a.mu.Unlock()

	if started {
		a.wg.Wait()
	} else {
		a.flush()
	}
	logging.Infof("Async storage writer stopped")
	return nil
}

// WriteData implements core.Storage. It never blocks.
func (a *AsyncWriter) WriteData(rec core.CaptureRecord, filename string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.stopped {
		atomic.AddUint64(&a.dropped, 1)
		return false
	}
	select {
	case a.queue <- writeJob{rec: rec, filename: filename}:
		atomic.AddUint64(&a.enqueued, 1)
		return true
	default:
		atomic.AddUint64(&a.dropped, 1)
		logging.Debugf("Storage queue full, dropping record from %s", rec.MACAddress)
		return false
	}
}

// Pending returns the number of queued records.
func (a *AsyncWriter) Pending() int { return len(a.queue) }

func (a *AsyncWriter) worker() {
	defer a.wg.Done()

	for {
		select {
		case <-a.stopCh:
			a.flush()
			return
		case job := <-a.queue:
			a.write(job)
		}
	}
}

// flush writes whatever is still queued.
func (a *AsyncWriter) flush() {
	for {
		select {
		case job := <-a.queue:
			a.write(job)
		default:
			return
		}
	}
}

func (a *AsyncWriter) write(job writeJob) {
	if a.next.WriteData(job.rec, job.filename) {
		atomic.AddUint64(&a.written, 1)
		return
	}
	atomic.AddUint64(&a.failed, 1)
}

// Metrics returns writer counters.
func (a *AsyncWriter) Metrics() map[string]uint64 {
	return map[string]uint64{
		"enqueued": atomic.LoadUint64(&a.enqueued),
		"written":  atomic.LoadUint64(&a.written),
		"failed":   atomic.LoadUint64(&a.failed),
		"dropped":  atomic.LoadUint64(&a.dropped),
		"pending":  uint64(len(a.queue)),
	}
}
