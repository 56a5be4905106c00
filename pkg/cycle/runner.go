// Package cycle drives capture sessions through alternating scan windows.
package cycle

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/irctrakz/wildprobe/pkg/logging"
)

// Scanner is a capture session the runner can drive.
type Scanner interface {
	Name() string
	StartScan() bool
	StopScan() bool
	ResultCount() int
}

// BLETuner is a scanner whose BLE settings can change between windows.
type BLETuner interface {
	SetMinRSSI(rssi int) bool
	SetScanParams(interval, window uint16) bool
}

// BLESettings are applied to the BLE scanner while it is idle.
type BLESettings struct {
	MinRSSI      int
	ScanInterval uint16
	ScanWindow   uint16
}

// Stats describes one completed cycle.
type Stats struct {
	Cycle    int
	WiFi     int
	BLE      int
	Duration time.Duration
}

// Options configures a Runner. A nil scanner or a zero window skips that
// protocol.
type Options struct {
	WiFi       Scanner
	BLE        Scanner
	WiFiWindow time.Duration
	BLEWindow  time.Duration
	Idle       time.Duration

	// Cycles stops the runner after this many cycles. Zero runs until the
	// context is cancelled.
	Cycles int

	// OnCycle is called after every cycle.
	OnCycle func(Stats)

	Clock clock.Clock
}

// Runner alternates a WiFi window and a BLE window, then idles.
type Runner struct {
	opts Options
	log  *logrus.Entry

	mu      sync.Mutex
	pending *BLESettings
	cycles  int
}

// NewRunner creates a runner.
func NewRunner(opts Options) *Runner {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Runner{opts: opts, log: logging.WithComponent("Scheduler")}
}

// QueueBLESettings stores s to be applied at the next gap between windows.
// A later call replaces an earlier one that has not been applied yet.
func (r *Runner) QueueBLESettings(s BLESettings) {
	r.mu.Lock()
	r.pending = &s
	r.mu.Unlock()
	r.log.Debugf("BLE settings queued: minRSSI=%d interval=0x%04x window=0x%04x", s.MinRSSI, s.ScanInterval, s.ScanWindow)
}

// Cycles returns the number of completed cycles.
func (r *Runner) Cycles() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cycles
}

// Run scans until ctx is cancelled or the configured number of cycles has
// completed. It returns ctx.Err() when cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("Entering scan loop")
	r.applyPending()

	for n := 1; r.opts.Cycles == 0 || n <= r.opts.Cycles; n++ {
		start := r.opts.Clock.Now()

		wifi := r.window(ctx, r.opts.WiFi, r.opts.WiFiWindow)
		r.applyPending()
		ble := r.window(ctx, r.opts.BLE, r.opts.BLEWindow)
		r.applyPending()

		stats := Stats{Cycle: n, WiFi: wifi, BLE: ble, Duration: r.opts.Clock.Since(start)}
		r.mu.Lock()
		r.cycles = n
		r.mu.Unlock()
		r.log.Infof("Cycle complete - WiFi: %d, BLE: %d, Duration: %s", wifi, ble, stats.Duration.Round(time.Millisecond))
		if r.opts.OnCycle != nil {
			r.opts.OnCycle(stats)
		}

		if ctx.Err() != nil {
			break
		}
		if r.opts.Cycles != 0 && n == r.opts.Cycles {
			break
		}
		if !r.sleep(ctx, r.opts.Idle) {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		r.log.Info("Scan loop cancelled")
		return err
	}
	r.log.Info("Scan loop finished")
	return nil
}

// window runs one scan window and returns the number of records captured.
func (r *Runner) window(ctx context.Context, s Scanner, d time.Duration) int {
	if s == nil || d <= 0 || ctx.Err() != nil {
		return 0
	}
	if !s.StartScan() {
		r.log.Warnf("%s failed to start, skipping window", s.Name())
		return 0
	}
	r.sleep(ctx, d)
	s.StopScan()
	return s.ResultCount()
}

func (r *Runner) applyPending() {
	r.mu.Lock()
	p := r.pending
	r.pending = nil
	r.mu.Unlock()
	if p == nil {
		return
	}

	tuner, ok := r.opts.BLE.(BLETuner)
	if !ok {
		return
	}

	// The runner only calls this between windows, so a rejection here is
	// a bad value rather than an active scan.
	if !tuner.SetMinRSSI(p.MinRSSI) || !tuner.SetScanParams(p.ScanInterval, p.ScanWindow) {
		r.log.Error("Could not apply BLE settings")
		return
	}
	r.log.Info("BLE settings applied")
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := r.opts.Clock.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
