package pcap

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/irctrakz/wildprobe/pkg/adapter"
	"github.com/irctrakz/wildprobe/pkg/logging"
)

// fcsLen is the 802.11 frame check sequence length.
const fcsLen = 4

// ReadFrames reads every frame of the pcap file at path. Frames without
// signal information get defaultRSSI.
func ReadFrames(path string, defaultRSSI int) ([]adapter.WiFiFrame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadFramesFrom(f, defaultRSSI)
}

// ReadFramesFrom reads a pcap stream with raw 802.11 or RadioTap link type.
func ReadFramesFrom(r io.Reader, defaultRSSI int) ([]adapter.WiFiFrame, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pcap header: %w", err)
	}

	var decode func([]byte) (adapter.WiFiFrame, bool)
	switch pr.LinkType() {
	case layers.LinkTypeIEEE802_11:
		decode = func(data []byte) (adapter.WiFiFrame, bool) {
			return adapter.WiFiFrame{Data: data, RSSI: defaultRSSI}, true
		}
	case layers.LinkTypeIEEE80211Radio:
		decode = func(data []byte) (adapter.WiFiFrame, bool) {
			return decodeRadioTap(data, defaultRSSI)
		}
	default:
		return nil, fmt.Errorf("unsupported link type %s", pr.LinkType())
	}

	var frames []adapter.WiFiFrame
	for {
		data, _, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return frames, fmt.Errorf("failed to read packet %d: %w", len(frames)+1, err)
		}
		if fr, ok := decode(data); ok {
			frames = append(frames, fr)
		}
	}
	logging.Debugf("Read %d frames from pcap (%s)", len(frames), pr.LinkType())
	return frames, nil
}

// decodeRadioTap strips the RadioTap header and the FCS. The decoder
// appends a computed FCS when the capture has none, so one is always there.
func decodeRadioTap(data []byte, defaultRSSI int) (fr adapter.WiFiFrame, ok bool) {
	// The decoder trusts the header length fields.
	defer func() {
		if r := recover(); r != nil {
			logging.Debugf("Skipping truncated RadioTap packet: %v", r)
			fr, ok = adapter.WiFiFrame{}, false
		}
	}()

	var rt layers.RadioTap
	if err := rt.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		logging.Debugf("Skipping undecodable RadioTap packet: %v", err)
		return adapter.WiFiFrame{}, false
	}
	payload := rt.LayerPayload()
	if len(payload) < fcsLen {
		return adapter.WiFiFrame{}, false
	}

	fr = adapter.WiFiFrame{
		Data: append([]byte(nil), payload[:len(payload)-fcsLen]...),
		RSSI: defaultRSSI,
	}
	if rt.Present.DBMAntennaSignal() {
		fr.RSSI = int(rt.DBMAntennaSignal)
	}
	return fr, true
}
