// Package filter decides which device addresses are worth recording.
package filter

import (
	"net"
	"strings"
)

// denylist holds addresses that never identify a single nearby device.
var denylist = []string{
	"00:00:00:00:00:00",
	"FF:FF:FF:FF:FF:FF",
	"01:00:5E:00:00:00", // IPv4 multicast
	"33:33:00:00:00:00", // IPv6 multicast
	"01:80:C2:00:00:00", // spanning tree
}

// Filter rejects reserved, broadcast and group addresses, plus any
// additional addresses supplied by the operator (typically the sensor's
// own radios). A Filter is immutable and safe for concurrent use.
type Filter struct {
	ignored map[string]struct{}
}

// New returns a Filter that also rejects every address in extra.
// Entries are matched case-insensitively.
func New(extra ...string) *Filter {
	f := &Filter{ignored: make(map[string]struct{}, len(denylist)+len(extra))}
	for _, mac := range denylist {
		f.ignored[mac] = struct{}{}
	}
	for _, mac := range extra {
		mac = strings.TrimSpace(mac)
		if hw, err := net.ParseMAC(mac); err == nil {
			mac = hw.String()
		}
		if mac != "" {
			f.ignored[strings.ToUpper(mac)] = struct{}{}
		}
	}
	return f
}

// Default is the filter with only the fixed denylist.
var Default = New()

// Allow reports whether mac should be kept. The group bit of the first
// octet is checked for every address, independent of the denylist.
// Addresses that are not six colon-separated hex octets are rejected.
func (f *Filter) Allow(mac string) bool {
	hw, err := net.ParseMAC(mac)
	if err != nil || len(hw) != 6 {
		return false
	}
	canon := hw.String()
	if !strings.EqualFold(canon, mac) {
		return false
	}
	if _, ok := f.ignored[strings.ToUpper(canon)]; ok {
		return false
	}
	return hw[0]&0x01 == 0
}

// IsIgnored is the inverse of Allow.
func (f *Filter) IsIgnored(mac string) bool { return !f.Allow(mac) }

// Allow checks mac against the Default filter.
func Allow(mac string) bool { return Default.Allow(mac) }
