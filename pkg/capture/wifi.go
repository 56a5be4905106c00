package capture

import (
	"github.com/irctrakz/wildprobe/pkg/adapter"
	"github.com/irctrakz/wildprobe/pkg/radio"
)

// WiFiSession captures 802.11 frames from a promiscuous-mode radio.
type WiFiSession = Session[adapter.WiFiFrame]

// NewWiFiSession creates a WiFi capture session.
func NewWiFiSession(driver radio.Driver[adapter.WiFiFrame], cfg adapter.WiFiConfig, opts Options) *WiFiSession {
	if opts.Name == "" {
		opts.Name = "WiFiScanner"
	}
	return NewSession[adapter.WiFiFrame](adapter.NewWiFiAdapter(cfg), driver, opts)
}
