package main

import (
	"context"
	"math/rand"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/sirupsen/logrus"

	"github.com/irctrakz/wildprobe/pkg/adapter"
	"github.com/irctrakz/wildprobe/pkg/logging"
	"github.com/irctrakz/wildprobe/pkg/radio"
)

// simDevice is a phone or wearable seen by the simulated radios.
type simDevice struct {
	mac  net.HardwareAddr
	rssi int
	ssid string
	ad   []byte
}

var broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func mustMAC(s string) net.HardwareAddr {
	mac, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return mac
}

// adName returns flags followed by a complete local name.
func adName(name string) []byte {
	b := []byte{0x02, adapter.ADTypeFlags, 0x06, byte(len(name) + 1), adapter.ADTypeCompleteName}
	return append(b, name...)
}

var (
	simProbers = []simDevice{
		{mac: mustMAC("aa:bb:cc:dd:ee:01"), rssi: -45, ssid: "HomeNet"},
		{mac: mustMAC("a4:cc:dd:ee:ff:02"), rssi: -67, ssid: ""},
		{mac: mustMAC("dc:dd:ee:ff:00:03"), rssi: -82, ssid: "CoffeeShop"},
		{mac: mustMAC("02:11:22:33:44:04"), rssi: -91, ssid: ""},
	}

	simAdvertisers = []simDevice{
		{mac: mustMAC("c4:12:34:56:78:9a"), rssi: -48, ad: adName("iPhone 12")},
		{mac: mustMAC("e8:50:8b:12:34:56"), rssi: -63, ad: adName("Galaxy S21")},
		{mac: mustMAC("f0:27:2d:aa:bb:cc"), rssi: -77, ad: adName("Fitbit Versa")},
		{mac: mustMAC("5a:01:02:03:04:05"), rssi: -88, ad: []byte{0x02, adapter.ADTypeFlags, 0x06}},
	}
)

// probeRequest builds an 802.11 probe request from src for ssid. An empty
// ssid is a wildcard probe.
func probeRequest(src net.HardwareAddr, ssid string, seq uint16) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{},
		&layers.Dot11{
			Type:           layers.Dot11TypeMgmtProbeReq,
			Address1:       broadcastMAC,
			Address2:       src,
			Address3:       broadcastMAC,
			SequenceNumber: seq,
		},
		&layers.Dot11InformationElement{ID: layers.Dot11InformationElementIDSSID, Info: []byte(ssid)},
		&layers.Dot11InformationElement{ID: layers.Dot11InformationElementIDRates, Info: []byte{0x82, 0x84, 0x8b, 0x96}},
	)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Simulator feeds mock radios with traffic from a fixed set of devices.
type Simulator struct {
	wifi  *radio.MockDriver[adapter.WiFiFrame]
	ble   *radio.MockDriver[adapter.BLEAdvertisement]
	clock clock.Clock
	rng   *rand.Rand
	log   *logrus.Entry

	// Interval between bursts. Every enabled radio sees one event per
	// device per burst.
	Interval time.Duration

	seq uint16
}

// NewSimulator creates a simulator. Either driver may be nil.
func NewSimulator(wifi *radio.MockDriver[adapter.WiFiFrame], ble *radio.MockDriver[adapter.BLEAdvertisement], c clock.Clock, seed int64) *Simulator {
	if c == nil {
		c = clock.New()
	}
	return &Simulator{
		wifi:     wifi,
		ble:      ble,
		clock:    c,
		rng:      rand.New(rand.NewSource(seed)),
		log:      logging.WithComponent("Simulator"),
		Interval: 20 * time.Millisecond,
	}
}

// Run injects bursts until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) {
	ticker := s.clock.Ticker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Burst()
		}
	}
}

// Burst injects one event per device into every enabled radio and returns
// the number injected.
func (s *Simulator) Burst() int {
	n := 0
	if s.wifi != nil && s.wifi.Enabled() {
		for _, d := range simProbers {
			s.seq++
			frame, err := probeRequest(d.mac, d.ssid, s.seq&0x0fff)
			if err != nil {
				s.log.WithError(err).Warn("Failed to build probe request")
				continue
			}
			if s.wifi.Inject(adapter.WiFiFrame{Data: frame, RSSI: s.jitter(d.rssi)}) == nil {
				n++
			}
		}
	}
	if s.ble != nil && s.ble.Enabled() {
		for _, d := range simAdvertisers {
			ev := adapter.BLEAdvertisement{Addr: d.mac, RSSI: s.jitter(d.rssi), Data: d.ad}
			if s.ble.Inject(ev) == nil {
				n++
			}
		}
	}
	return n
}

// jitter moves rssi by up to 3 dB either way.
func (s *Simulator) jitter(rssi int) int {
	return rssi + s.rng.Intn(7) - 3
}
