package capture

import (
	"github.com/irctrakz/wildprobe/pkg/adapter"
	"github.com/irctrakz/wildprobe/pkg/radio"
)

// BLESession captures BLE advertisements. Its RSSI threshold and scan
// timing may only be changed while it is not scanning.
type BLESession struct {
	*Session[adapter.BLEAdvertisement]

	adapter *adapter.BLEAdapter

	// Guarded by Session.mu.
	interval uint16
	window   uint16
}

// NewBLESession creates a BLE capture session.
func NewBLESession(driver radio.Driver[adapter.BLEAdvertisement], cfg adapter.BLEConfig, opts Options) *BLESession {
	if opts.Name == "" {
		opts.Name = "BLEScanner"
	}
	a := adapter.NewBLEAdapter(cfg)
	b := &BLESession{
		Session:  NewSession[adapter.BLEAdvertisement](a, driver, opts),
		adapter:  a,
		interval: cfg.ScanInterval,
		window:   cfg.ScanWindow,
	}
	b.Session.configure = b.applyScanParams
	return b
}

// applyScanParams pushes the scan timing to drivers that support it.
func (b *BLESession) applyScanParams() error {
	setter, ok := b.driver.(radio.ScanParamSetter)
	if !ok {
		return nil
	}
	if err := setter.SetScanParams(b.interval, b.window); err != nil {
		return err
	}
	b.log.Debugf("Scan parameters applied: interval=0x%04x window=0x%04x", b.interval, b.window)
	return nil
}

// MinRSSI returns the RSSI threshold in dBm.
func (b *BLESession) MinRSSI() int { return b.adapter.MinRSSI() }

// SetMinRSSI changes the RSSI threshold. It fails while scanning.
func (b *BLESession) SetMinRSSI(rssi int) bool {
	ok := b.whileIdle(func() { b.adapter.SetMinRSSI(rssi) })
	if !ok {
		b.log.Warn("Cannot change RSSI threshold while scanning")
		return false
	}
	b.log.Infof("Minimum RSSI threshold set to %d dBm", rssi)
	return true
}

// ScanParams returns the configured scan interval and window.
func (b *BLESession) ScanParams() (interval, window uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.interval, b.window
}

// SetScanParams changes the scan timing. It fails while scanning or when
// window exceeds interval. An initialized session applies it immediately.
func (b *BLESession) SetScanParams(interval, window uint16) bool {
	if window > interval {
		b.log.Warnf("Invalid scan parameters: window 0x%04x exceeds interval 0x%04x", window, interval)
		return false
	}

	var applyErr error
	ok := b.whileIdle(func() {
		prevInterval, prevWindow := b.interval, b.window
		b.interval, b.window = interval, window
		if b.state != Initialized {
			return
		}
		if applyErr = b.applyScanParams(); applyErr != nil {
			b.interval, b.window = prevInterval, prevWindow
		}
	})
	if !ok {
		b.log.Warn("Cannot change scan parameters while scanning")
		return false
	}
	if applyErr != nil {
		b.log.WithError(applyErr).Error("Failed to apply scan parameters")
		return false
	}
	b.log.Infof("Scan parameters updated: interval=0x%04x window=0x%04x", interval, window)
	return true
}
