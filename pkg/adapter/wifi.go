package adapter

import (
	"github.com/irctrakz/wildprobe/pkg/core"
	"github.com/irctrakz/wildprobe/pkg/logging"
)

// WiFiFrame is one management frame delivered by a promiscuous WiFi driver.
type WiFiFrame struct {
	// Data is the 802.11 frame, starting at the frame control field.
	Data []byte

	// RSSI is the received signal strength in dBm.
	RSSI int
}

// WiFiConfig contains the probe request framing parameters.
type WiFiConfig struct {
	// MinPacketSize is the smallest frame accepted (802.11 MAC header).
	MinPacketSize int `json:"min_packet_size" yaml:"minPacketSize"`

	// FrameMarker is the expected first byte (frame control of a probe request).
	// Zero means unset and selects the probe request marker.
	FrameMarker byte `json:"frame_marker" yaml:"frameMarker"`

	// MACOffset is the offset of the transmitter address.
	MACOffset int `json:"mac_offset" yaml:"macOffset"`
}

// DefaultWiFiConfig returns the 802.11 probe request layout.
func DefaultWiFiConfig() WiFiConfig {
	return WiFiConfig{
		MinPacketSize: 24,
		FrameMarker:   0x40,
		MACOffset:     10,
	}
}

// WiFiAdapter parses probe requests.
type WiFiAdapter struct {
	cfg WiFiConfig
}

var _ Adapter[WiFiFrame] = (*WiFiAdapter)(nil)

// NewWiFiAdapter creates an adapter. Out-of-range values fall back to the
// defaults so that the MAC read can never run past the frame.
func NewWiFiAdapter(cfg WiFiConfig) *WiFiAdapter {
	def := DefaultWiFiConfig()
	if cfg.FrameMarker == 0 {
		cfg.FrameMarker = def.FrameMarker
	}
	if cfg.MinPacketSize <= 0 {
		cfg.MinPacketSize = def.MinPacketSize
	}
	if cfg.MACOffset < 0 {
		cfg.MACOffset = def.MACOffset
	}
	if cfg.MinPacketSize < cfg.MACOffset+6 {
		cfg.MinPacketSize = cfg.MACOffset + 6
	}
	return &WiFiAdapter{cfg: cfg}
}

// Config returns the effective configuration.
func (a *WiFiAdapter) Config() WiFiConfig { return a.cfg }

// Protocol implements Adapter.
func (a *WiFiAdapter) Protocol() core.Protocol { return core.WiFi }

// Parse implements Adapter.
func (a *WiFiAdapter) Parse(ev WiFiFrame) (Capture, bool) {
	if ev.Data == nil {
		logging.Debugf("WiFi: null frame received")
		return Capture{}, false
	}
	if len(ev.Data) < a.cfg.MinPacketSize {
		logging.Debugf("WiFi: frame too small: %d bytes (minimum: %d)", len(ev.Data), a.cfg.MinPacketSize)
		return Capture{}, false
	}
	if ev.Data[0] != a.cfg.FrameMarker {
		logging.Debugf("WiFi: wrong frame type: 0x%02x (expected: 0x%02x)", ev.Data[0], a.cfg.FrameMarker)
		return Capture{}, false
	}

	return Capture{
		Protocol:     core.WiFi,
		RSSI:         ev.RSSI,
		PacketLength: len(ev.Data),
		MACAddress:   FormatMAC(ev.Data[a.cfg.MACOffset : a.cfg.MACOffset+6]),
		Payload:      HexString(ev.Data),
	}, true
}
