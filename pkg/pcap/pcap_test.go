package pcap

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irctrakz/wildprobe/pkg/adapter"
	"github.com/irctrakz/wildprobe/pkg/core"
)

func probeBytes(last byte) []byte {
	b := make([]byte, 24)
	b[0] = 0x40
	for i := 4; i < 10; i++ {
		b[i] = 0xff
	}
	copy(b[10:16], []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, last})
	return b
}

func wifiRecord(t *testing.T, frame []byte, rssi int) core.CaptureRecord {
	t.Helper()
	a := adapter.NewWiFiAdapter(adapter.DefaultWiFiConfig())
	c, ok := a.Parse(adapter.WiFiFrame{Data: frame, RSSI: rssi})
	require.True(t, ok)
	return c.Record("2024-01-02T03:04:05")
}

func TestWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)

	frames := [][]byte{probeBytes(1), probeBytes(2)}
	rssi := []int{-45, -82}
	for i, fr := range frames {
		require.NoError(t, w.HandleRecord(wifiRecord(t, fr, rssi[i])))
	}

	ble := core.CaptureRecord{Protocol: core.BLE, Payload: "02 01 06", MACAddress: "12:34:56:78:9a:bc"}
	require.NoError(t, w.HandleRecord(ble))

	assert.Equal(t, uint64(2), w.Metrics()["written"])
	assert.Equal(t, uint64(1), w.Metrics()["skipped"])
	require.NoError(t, w.Close())

	got, err := ReadFramesFrom(bytes.NewReader(buf.Bytes()), -100)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for i := range frames {
		assert.Equal(t, frames[i], got[i].Data)
		assert.Equal(t, rssi[i], got[i].RSSI)
	}
}

func TestWriterUsesRecordTimestamp(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, w.HandleRecord(wifiRecord(t, probeBytes(1), -50)))

	r, err := pcapgo.NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, layers.LinkTypeIEEE80211Radio, r.LinkType())
	_, ci, err := r.ReadPacketData()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.January, 2, 3, 4, 5, 0, time.Local).Unix(), ci.Timestamp.Unix())
}

func TestWriterRejectsBadPayload(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)

	rec := core.CaptureRecord{Protocol: core.WiFi, Payload: "40 zz"}
	assert.Error(t, w.HandleRecord(rec))
	assert.Equal(t, uint64(1), w.Metrics()["failed"])
}

func TestCreateAndReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tee.pcap")
	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.HandleRecord(wifiRecord(t, probeBytes(3), -67)))
	require.NoError(t, w.Close())
	require.NoError(t, w.HandleRecord(wifiRecord(t, probeBytes(4), -67)), "closed writer ignores records")

	got, err := ReadFrames(path, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, -67, got[0].RSSI)
}

func TestReadRawDot11(t *testing.T) {
	var buf bytes.Buffer
	pw := pcapgo.NewWriter(&buf)
	require.NoError(t, pw.WriteFileHeader(SnapLen, layers.LinkTypeIEEE802_11))

	frame := probeBytes(5)
	ci := gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(frame), Length: len(frame)}
	require.NoError(t, pw.WritePacket(ci, frame))

	got, err := ReadFramesFrom(&buf, -70)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, frame, got[0].Data)
	assert.Equal(t, -70, got[0].RSSI)
}

func TestReadRejectsOtherLinkTypes(t *testing.T) {
	var buf bytes.Buffer
	pw := pcapgo.NewWriter(&buf)
	require.NoError(t, pw.WriteFileHeader(SnapLen, layers.LinkTypeEthernet))

	_, err := ReadFramesFrom(&buf, 0)
	assert.Error(t, err)
}

func TestDecodeRadioTapTruncated(t *testing.T) {
	// Header claims 64 bytes but only 9 are present.
	data := []byte{0x00, 0x00, 0x40, 0x00, 0x20, 0x00, 0x00, 0x00, 0xc4}
	_, ok := decodeRadioTap(data, 0)
	assert.False(t, ok)
}
