package cycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScanner struct {
	name string

	mu        sync.Mutex
	scanning  bool
	starts    int
	stops     int
	perScan   int
	failStart bool
	log       *[]string
	logMu     *sync.Mutex

	minRSSI  int
	interval uint16
	window   uint16
}

func newFake(name string, perScan int, log *[]string, logMu *sync.Mutex) *fakeScanner {
	return &fakeScanner{name: name, perScan: perScan, log: log, logMu: logMu}
}

func (f *fakeScanner) record(ev string) {
	f.logMu.Lock()
	*f.log = append(*f.log, f.name+":"+ev)
	f.logMu.Unlock()
}

func (f *fakeScanner) Name() string { return f.name }

func (f *fakeScanner) StartScan() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStart || f.scanning {
		return false
	}
	f.scanning = true
	f.starts++
	f.record("start")
	return true
}

func (f *fakeScanner) StopScan() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scanning {
		f.scanning = false
		f.stops++
		f.record("stop")
	}
	return true
}

func (f *fakeScanner) ResultCount() int { return f.perScan }

func (f *fakeScanner) SetMinRSSI(v int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scanning {
		return false
	}
	f.minRSSI = v
	f.record("rssi")
	return true
}

func (f *fakeScanner) SetScanParams(interval, window uint16) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scanning || window > interval {
		return false
	}
	f.interval, f.window = interval, window
	return true
}

func TestRunnerAlternatesWindows(t *testing.T) {
	var events []string
	var mu sync.Mutex
	wifi := newFake("wifi", 4, &events, &mu)
	ble := newFake("ble", 2, &events, &mu)

	var stats []Stats
	r := NewRunner(Options{
		WiFi:       wifi,
		BLE:        ble,
		WiFiWindow: 5 * time.Millisecond,
		BLEWindow:  2 * time.Millisecond,
		Idle:       time.Millisecond,
		Cycles:     2,
		OnCycle:    func(s Stats) { stats = append(stats, s) },
	})

	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []string{
		"wifi:start", "wifi:stop", "ble:start", "ble:stop",
		"wifi:start", "wifi:stop", "ble:start", "ble:stop",
	}, events)
	require.Len(t, stats, 2)
	assert.Equal(t, 4, stats[0].WiFi)
	assert.Equal(t, 2, stats[1].BLE)
	assert.Equal(t, 2, stats[1].Cycle)
	assert.GreaterOrEqual(t, stats[0].Duration, 7*time.Millisecond)
	assert.Equal(t, 2, r.Cycles())
}

func TestRunnerSkipsDisabledAndFailingScanners(t *testing.T) {
	var events []string
	var mu sync.Mutex
	wifi := newFake("wifi", 1, &events, &mu)
	wifi.failStart = true
	ble := newFake("ble", 3, &events, &mu)

	var stats []Stats
	r := NewRunner(Options{
		WiFi:       wifi,
		BLE:        ble,
		WiFiWindow: time.Millisecond,
		BLEWindow:  0,
		Cycles:     1,
		OnCycle:    func(s Stats) { stats = append(stats, s) },
	})
	require.NoError(t, r.Run(context.Background()))

	assert.Empty(t, events)
	require.Len(t, stats, 1)
	assert.Zero(t, stats[0].WiFi)
	assert.Zero(t, stats[0].BLE)
}

func TestRunnerStopsOnCancel(t *testing.T) {
	var events []string
	var mu sync.Mutex
	wifi := newFake("wifi", 0, &events, &mu)

	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner(Options{
		WiFi:       wifi,
		WiFiWindow: time.Hour,
	})

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		wifi.mu.Lock()
		defer wifi.mu.Unlock()
		return wifi.scanning
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
	wifi.mu.Lock()
	defer wifi.mu.Unlock()
	assert.False(t, wifi.scanning, "window is closed on cancel")
	assert.Equal(t, 1, wifi.stops)
}

func TestRunnerAppliesBLESettingsBetweenWindows(t *testing.T) {
	var events []string
	var mu sync.Mutex
	wifi := newFake("wifi", 0, &events, &mu)
	ble := newFake("ble", 0, &events, &mu)

	r := NewRunner(Options{
		WiFi:       wifi,
		BLE:        ble,
		WiFiWindow: time.Millisecond,
		BLEWindow:  time.Millisecond,
		Cycles:     1,
	})
	r.QueueBLESettings(BLESettings{MinRSSI: -90, ScanInterval: 0x50, ScanWindow: 0x30})
	r.QueueBLESettings(BLESettings{MinRSSI: -70, ScanInterval: 0x80, ScanWindow: 0x40})
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, -70, ble.minRSSI, "latest queued settings win")
	assert.Equal(t, uint16(0x80), ble.interval)
	assert.Equal(t, "ble:rssi", events[0], "applied before the first window")
}

func TestRunnerDropsInvalidBLESettings(t *testing.T) {
	var events []string
	var mu sync.Mutex
	ble := newFake("ble", 0, &events, &mu)

	r := NewRunner(Options{BLE: ble, BLEWindow: time.Millisecond, Cycles: 2})
	r.QueueBLESettings(BLESettings{MinRSSI: -70, ScanInterval: 0x10, ScanWindow: 0x20})
	require.NoError(t, r.Run(context.Background()))

	assert.Zero(t, ble.interval)
	rssiApplies := 0
	for _, ev := range events {
		if ev == "ble:rssi" {
			rssiApplies++
		}
	}
	assert.Equal(t, 1, rssiApplies, "not retried")
}
