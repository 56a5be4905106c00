package adapter

import (
	"sync/atomic"

	"github.com/irctrakz/wildprobe/pkg/core"
	"github.com/irctrakz/wildprobe/pkg/logging"
)

// MaxADLength is the protocol limit for legacy advertising data.
const MaxADLength = 31

// BLEAdvertisement is one scan result delivered by a BLE driver.
type BLEAdvertisement struct {
	// Addr is the 6-byte device address, most significant byte first.
	Addr []byte

	// RSSI is the received signal strength in dBm.
	RSSI int

	// Data is the advertising data (AD structures).
	Data []byte
}

// BLEConfig contains BLE scanning parameters.
type BLEConfig struct {
	// MinRSSI drops advertisements weaker than this, in dBm.
	MinRSSI int `json:"min_rssi" yaml:"minRSSI"`

	// ScanInterval is the controller scan interval in 0.625 ms units.
	ScanInterval uint16 `json:"scan_interval" yaml:"scanInterval"`

	// ScanWindow is the controller scan window in 0.625 ms units.
	ScanWindow uint16 `json:"scan_window" yaml:"scanWindow"`

	// MaxADLength is the largest advertising data buffer accepted.
	MaxADLength int `json:"max_ad_length" yaml:"maxADLength"`
}

// DefaultBLEConfig returns the default scanning parameters.
func DefaultBLEConfig() BLEConfig {
	return BLEConfig{
		MinRSSI:      -120,
		ScanInterval: 0x50,
		ScanWindow:   0x30,
		MaxADLength:  MaxADLength,
	}
}

// BLEAdapter parses advertisements. The RSSI threshold may be changed
// while events are being delivered.
type BLEAdapter struct {
	minRSSI     atomic.Int64
	maxADLength int
}

var _ Adapter[BLEAdvertisement] = (*BLEAdapter)(nil)

// NewBLEAdapter creates an adapter from cfg. MaxADLength is clamped to the
// protocol limit.
func NewBLEAdapter(cfg BLEConfig) *BLEAdapter {
	a := &BLEAdapter{maxADLength: cfg.MaxADLength}
	if a.maxADLength <= 0 || a.maxADLength > MaxADLength {
		a.maxADLength = MaxADLength
	}
	a.minRSSI.Store(int64(cfg.MinRSSI))
	return a
}

// MinRSSI returns the current threshold.
func (a *BLEAdapter) MinRSSI() int { return int(a.minRSSI.Load()) }

// SetMinRSSI replaces the threshold.
func (a *BLEAdapter) SetMinRSSI(v int) { a.minRSSI.Store(int64(v)) }

// Protocol implements Adapter.
func (a *BLEAdapter) Protocol() core.Protocol { return core.BLE }

// Parse implements Adapter.
func (a *BLEAdapter) Parse(ev BLEAdvertisement) (Capture, bool) {
	if len(ev.Addr) != 6 {
		logging.Debugf("BLE: bad device address length %d", len(ev.Addr))
		return Capture{}, false
	}
	if threshold := a.MinRSSI(); ev.RSSI < threshold {
		logging.Debugf("BLE: advertisement below RSSI threshold: %d < %d", ev.RSSI, threshold)
		return Capture{}, false
	}
	if len(ev.Data) == 0 || len(ev.Data) > a.maxADLength {
		logging.Debugf("BLE: invalid advertisement data length: %d", len(ev.Data))
		return Capture{}, false
	}

	sum := ParseAD(ev.Data)
	return Capture{
		Protocol:     core.BLE,
		RSSI:         ev.RSSI,
		PacketLength: len(ev.Data),
		MACAddress:   FormatMAC(ev.Addr),
		Payload:      sum.Annotate(HexString(ev.Data)),
	}, true
}
