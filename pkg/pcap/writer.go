// Package pcap tees captured WiFi frames to pcap files and reads them back
// for replay.
package pcap

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/irctrakz/wildprobe/pkg/core"
	"github.com/irctrakz/wildprobe/pkg/logging"
	"github.com/irctrakz/wildprobe/pkg/timesource"
)

// SnapLen is the snapshot length written in the file header.
const SnapLen = 65535

// Writer writes accepted WiFi records as RadioTap-framed 802.11 packets,
// so that the RSSI survives a round trip. Other records are skipped.
type Writer struct {
	mu     sync.Mutex
	w      *pcapgo.Writer
	closer io.Closer

	written uint64
	skipped uint64
	failed  uint64
}

var _ core.RecordHandler = (*Writer)(nil)

// Create creates the file at path and writes the pcap header.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create pcap file: %w", err)
	}
	w, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	logging.Infof("Writing WiFi capture tee to %s", path)
	return w, nil
}

// NewWriter writes the pcap header to out.
func NewWriter(out io.Writer) (*Writer, error) {
	w := pcapgo.NewWriter(out)
	if err := w.WriteFileHeader(SnapLen, layers.LinkTypeIEEE80211Radio); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &Writer{w: w}, nil
}

// HandleRecord implements core.RecordHandler.
func (w *Writer) HandleRecord(rec core.CaptureRecord) error {
	if rec.Protocol != core.WiFi {
		atomic.AddUint64(&w.skipped, 1)
		return nil
	}
	frame, err := rec.RawBytes()
	if err != nil {
		atomic.AddUint64(&w.failed, 1)
		return fmt.Errorf("pcap: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	rt := &layers.RadioTap{
		Present:          layers.RadioTapPresentDBMAntennaSignal,
		DBMAntennaSignal: int8(rec.RSSI),
	}
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, rt, gopacket.Payload(frame)); err != nil {
		atomic.AddUint64(&w.failed, 1)
		return fmt.Errorf("pcap: serialize: %w", err)
	}
	data := buf.Bytes()

	ci := gopacket.CaptureInfo{
		Timestamp:     captureTime(rec.Timestamp),
		CaptureLength: len(data),
		Length:        len(data),
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	if err := w.w.WritePacket(ci, data); err != nil {
		atomic.AddUint64(&w.failed, 1)
		return fmt.Errorf("pcap: write: %w", err)
	}
	atomic.AddUint64(&w.written, 1)
	return nil
}

// captureTime uses the record timestamp when it parses.
func captureTime(ts string) time.Time {
	if t, err := time.ParseInLocation(timesource.Layout, ts, time.Local); err == nil {
		return t
	}
	return time.Now()
}

// Metrics returns writer counters.
func (w *Writer) Metrics() map[string]uint64 {
	return map[string]uint64{
		"written": atomic.LoadUint64(&w.written),
		"skipped": atomic.LoadUint64(&w.skipped),
		"failed":  atomic.LoadUint64(&w.failed),
	}
}

// Close closes the underlying file, if the writer owns one. Later records
// are ignored.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.w = nil
	if w.closer == nil {
		return nil
	}
	c := w.closer
	w.closer = nil
	return c.Close()
}
