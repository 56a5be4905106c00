// Package adapter turns raw, untrusted radio buffers into capture data.
//
// Adapters never return errors: anything that does not validate is dropped
// with a debug log, so that a misbehaving transmitter nearby cannot disturb
// the capture path.
package adapter

import (
	"net"
	"strings"

	"github.com/irctrakz/wildprobe/pkg/core"
)

// Capture is the protocol-independent result of a successful parse. It
// becomes a core.CaptureRecord once the session stamps it with a time.
type Capture struct {
	Protocol     core.Protocol
	RSSI         int
	PacketLength int
	MACAddress   string
	Payload      string
}

// Record stamps c with timestamp.
func (c Capture) Record(timestamp string) core.CaptureRecord {
	return core.CaptureRecord{
		Protocol:     c.Protocol,
		Timestamp:    timestamp,
		RSSI:         c.RSSI,
		PacketLength: c.PacketLength,
		MACAddress:   c.MACAddress,
		Payload:      c.Payload,
	}
}

// Adapter validates and parses one driver event of type E.
type Adapter[E any] interface {
	Protocol() core.Protocol
	Parse(ev E) (Capture, bool)
}

const hexDigits = "0123456789abcdef"

// HexString renders b as lowercase two-digit hex octets separated by
// single spaces, with no trailing space.
func HexString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(b)*3 - 1)
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteByte(hexDigits[c>>4])
		sb.WriteByte(hexDigits[c&0x0f])
	}
	return sb.String()
}

// FormatMAC renders a 6-byte address as aa:bb:cc:dd:ee:ff. It returns ""
// unless addr is exactly six bytes.
func FormatMAC(addr []byte) string {
	if len(addr) != 6 {
		return ""
	}
	return net.HardwareAddr(addr).String()
}
