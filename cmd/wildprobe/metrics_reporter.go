package main

import (
	"context"
	"encoding/json"
	"runtime"
	"time"

	"github.com/irctrakz/wildprobe/pkg/core"
	"github.com/irctrakz/wildprobe/pkg/logging"
)

// counterSource is any component exposing named counters.
type counterSource interface {
	Metrics() map[string]uint64
}

// sessionSource is a capture session.
type sessionSource interface {
	Name() string
	ResultCount() int
	Metrics() core.CaptureMetrics
}

type metricsSnapshot struct {
	Timestamp string            `json:"ts"`
	Device    string            `json:"device"`
	Cycles    int               `json:"cycles"`
	WiFi      map[string]uint64 `json:"wifi"`
	BLE       map[string]uint64 `json:"ble"`
	Storage   map[string]uint64 `json:"storage"`
	Async     map[string]uint64 `json:"async,omitempty"`
	PCAP      map[string]uint64 `json:"pcap,omitempty"`
	RT        map[string]uint64 `json:"rt"`
}

// metricsReporter periodically logs a snapshot of every component's counters.
type metricsReporter struct {
	device  string
	wifi    sessionSource
	ble     sessionSource
	storage counterSource
	async   counterSource
	pcap    counterSource
	cycles  func() int
}

func (m *metricsReporter) run(ctx context.Context, interval time.Duration, format string) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.dump(format)
		}
	}
}

func sessionCounters(s sessionSource) map[string]uint64 {
	if s == nil {
		return map[string]uint64{}
	}
	cm := s.Metrics()
	return map[string]uint64{
		"received":     cm.EventsReceived,
		"ignored":      cm.EventsIgnored,
		"malformed":    cm.Malformed,
		"filtered":     cm.Filtered,
		"accepted":     cm.Accepted,
		"results":      uint64(s.ResultCount()),
		"storage_fail": cm.StorageFailures,
		"cb_fail":      cm.CallbackFailures,
		"panics":       cm.Panics,
	}
}

func counters(c counterSource) map[string]uint64 {
	if c == nil {
		return nil
	}
	return c.Metrics()
}

func (m *metricsReporter) snapshot() metricsSnapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	snap := metricsSnapshot{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Device:    m.device,
		WiFi:      sessionCounters(m.wifi),
		BLE:       sessionCounters(m.ble),
		Storage:   counters(m.storage),
		Async:     counters(m.async),
		PCAP:      counters(m.pcap),
		RT: map[string]uint64{
			"heap_alloc": ms.HeapAlloc,
			"heap_inuse": ms.HeapInuse,
			"sys":        ms.Sys,
			"num_gc":     uint64(ms.NumGC),
			"goroutines": uint64(runtime.NumGoroutine()),
		},
	}
	if snap.Storage == nil {
		snap.Storage = map[string]uint64{}
	}
	if m.cycles != nil {
		snap.Cycles = m.cycles()
	}
	return snap
}

func (m *metricsReporter) dump(format string) {
	snap := m.snapshot()

	switch format {
	case "json":
		b, err := json.Marshal(snap)
		if err != nil {
			logging.Warnf("metrics: %v", err)
			return
		}
		logging.Infof("metrics: %s", string(b))
	default:
		logging.Infof("metrics: ts=%s dev=%s cycles=%d | wifi: recv=%d acc=%d filt=%d bad=%d res=%d | ble: recv=%d acc=%d filt=%d bad=%d res=%d | store: w=%d fail=%d bytes=%d rot=%d low=%d | async: q=%d drop=%d | pcap: w=%d | rt: heap=%dMi gor=%d gc=%d",
			snap.Timestamp, snap.Device, snap.Cycles,
			snap.WiFi["received"], snap.WiFi["accepted"], snap.WiFi["filtered"], snap.WiFi["malformed"], snap.WiFi["results"],
			snap.BLE["received"], snap.BLE["accepted"], snap.BLE["filtered"], snap.BLE["malformed"], snap.BLE["results"],
			snap.Storage["writes"], snap.Storage["writeFailures"], snap.Storage["bytesWritten"], snap.Storage["rotations"], snap.Storage["lowSpaceRefusals"],
			snap.Async["pending"], snap.Async["dropped"],
			snap.PCAP["written"],
			snap.RT["heap_alloc"]/(1024*1024), snap.RT["goroutines"], snap.RT["num_gc"],
		)
	}
}
