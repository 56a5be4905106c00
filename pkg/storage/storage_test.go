package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irctrakz/wildprobe/pkg/core"
)

func testRecord(mac string) core.CaptureRecord {
	return core.CaptureRecord{
		Protocol:     core.BLE,
		Timestamp:    "2024-01-02T03:04:05",
		RSSI:         -67,
		PacketLength: 3,
		MACAddress:   mac,
		Payload:      "02 01 06 [Services: 180d,180f]",
	}
}

func newStore(t *testing.T, opts CSVOptions) *CSVStore {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	s, err := NewCSVStore(opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVStoreWritesHeaderOnce(t *testing.T) {
	s := newStore(t, CSVOptions{})
	rec := testRecord("12:34:56:78:9a:bc")

	require.True(t, s.WriteData(rec, rec.Filename()))
	require.True(t, s.WriteData(rec, rec.Filename()))

	path := s.DataPath("2024-01-02T03_04_05.csv")
	assert.Equal(t, DataDir, filepath.Base(filepath.Dir(path)))

	rows := readCSV(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, strings.Split(core.CSVHeader, ","), rows[0])
	assert.Equal(t, []string{"BLE", "2024-01-02T03:04:05", "ble", "-67", "3", "12:34:56:78:9a:bc", "02 01 06 [Services: 180d,180f]"}, rows[1])
	assert.Equal(t, uint64(2), s.Metrics()["writes"])
}

func TestCSVStoreAppendsToExistingFile(t *testing.T) {
	dir := t.TempDir()
	rec := testRecord("12:34:56:78:9a:bc")

	first, err := NewCSVStore(CSVOptions{Dir: dir})
	require.NoError(t, err)
	require.True(t, first.WriteData(rec, "a.csv"))
	require.NoError(t, first.Close())
	assert.False(t, first.WriteData(rec, "a.csv"), "closed store")

	second := newStore(t, CSVOptions{Dir: dir})
	require.True(t, second.WriteData(rec, "a.csv"))

	assert.Len(t, readCSV(t, second.DataPath("a.csv")), 3)
}

func TestCSVStoreBoundsOpenFiles(t *testing.T) {
	s := newStore(t, CSVOptions{})
	rec := testRecord("12:34:56:78:9a:bc")

	const names = 300
	for i := 0; i < names; i++ {
		require.True(t, s.WriteData(rec, fmt.Sprintf("%03d.csv", i)))
		s.mu.Lock()
		open := len(s.files)
		s.mu.Unlock()
		require.LessOrEqual(t, open, maxOpenFiles)
	}

	// Files whose handle was closed are reopened and appended to.
	require.True(t, s.WriteData(rec, "000.csv"))
	rows := readCSV(t, s.DataPath("000.csv"))
	require.Len(t, rows, 3)
	assert.Equal(t, strings.Split(core.CSVHeader, ","), rows[0])
	assert.Equal(t, rows[1], rows[2])

	for _, name := range []string{"001.csv", "150.csv", "299.csv"} {
		assert.Len(t, readCSV(t, s.DataPath(name)), 2, name)
	}
	assert.Equal(t, uint64(names+1), s.Metrics()["writes"])
}

func TestCSVStoreRejectsBadFilenames(t *testing.T) {
	s := newStore(t, CSVOptions{})
	rec := testRecord("12:34:56:78:9a:bc")

	for _, name := range []string{"", ".", "..", "../escape.csv", "sub/dir.csv"} {
		assert.False(t, s.WriteData(rec, name), name)
	}
	assert.Equal(t, uint64(5), s.Metrics()["writeFailures"])
}

func TestCSVStoreRotation(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, time.February, 3, 4, 5, 6, 0, time.Local))
	s := newStore(t, CSVOptions{MaxFileSize: 100, Clock: mock})
	rec := testRecord("12:34:56:78:9a:bc")

	// The header plus one row is over 100 bytes, so the second write rotates.
	require.True(t, s.WriteData(rec, "cap.csv"))
	require.True(t, s.WriteData(rec, "cap.csv"))

	rotated := s.DataPath("cap.csv.20240203_040506")
	require.FileExists(t, rotated)
	assert.Len(t, readCSV(t, rotated), 2)
	assert.Len(t, readCSV(t, s.DataPath("cap.csv")), 2)

	// Same second again does not overwrite the first rotation.
	require.True(t, s.WriteData(rec, "cap.csv"))
	assert.FileExists(t, s.DataPath("cap.csv.20240203_040506_1"))
	assert.Equal(t, uint64(2), s.Metrics()["rotations"])
}

func fakeUsage(free *uint64) func(string) (*disk.UsageStat, error) {
	return func(string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Total: 1000, Free: *free}, nil
	}
}

func TestCSVStoreRefusesOnLowSpace(t *testing.T) {
	mock := clock.NewMock()
	s := newStore(t, CSVOptions{LowSpacePercent: 10, SpaceCheckInterval: time.Minute, Clock: mock})
	free := uint64(50)
	s.usage = fakeUsage(&free)
	rec := testRecord("12:34:56:78:9a:bc")

	assert.False(t, s.WriteData(rec, "a.csv"))
	assert.Equal(t, uint64(1), s.Metrics()["lowSpaceRefusals"])

	// Cached until the next check.
	free = 500
	assert.False(t, s.WriteData(rec, "a.csv"))

	mock.Add(time.Minute)
	assert.True(t, s.WriteData(rec, "a.csv"))
}

func TestCSVStoreUsageErrorDoesNotBlockWrites(t *testing.T) {
	s := newStore(t, CSVOptions{LowSpacePercent: 10})
	s.usage = func(string) (*disk.UsageStat, error) { return nil, errors.New("no statfs") }
	assert.True(t, s.WriteData(testRecord("12:34:56:78:9a:bc"), "a.csv"))
}

func TestCSVStoreCleanupRemovesRotatedOldestFirst(t *testing.T) {
	s := newStore(t, CSVOptions{LowSpacePercent: 10, AutoCleanup: true})

	old := s.DataPath("a.csv.20240101_000000")
	newer := s.DataPath("a.csv.20240102_000000")
	live := s.DataPath("a.csv")
	for i, p := range []string{old, newer, live} {
		require.NoError(t, os.WriteFile(p, []byte("x\n"), 0o644))
		mod := time.Now().Add(time.Duration(i-3) * time.Hour)
		require.NoError(t, os.Chtimes(p, mod, mod))
	}

	// Free space starts at 8% and each deleted file frees another 2%.
	s.usage = func(string) (*disk.UsageStat, error) {
		entries, err := os.ReadDir(s.dataDir)
		if err != nil {
			return nil, err
		}
		removed := uint64(3 - len(entries))
		return &disk.UsageStat{Total: 1000, Free: 80 + removed*20}, nil
	}

	assert.Equal(t, 1, s.Cleanup())
	assert.NoFileExists(t, old)
	assert.FileExists(t, newer)
	assert.FileExists(t, live)
	assert.Equal(t, uint64(1), s.Metrics()["filesRemoved"])
}

func TestCSVStoreQuotesPayloadWithCommas(t *testing.T) {
	s := newStore(t, CSVOptions{})
	rec := testRecord("12:34:56:78:9a:bc")
	require.True(t, s.WriteData(rec, "q.csv"))

	raw, err := os.ReadFile(s.DataPath("q.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"02 01 06 [Services: 180d,180f]"`)
}

type recordingStorage struct {
	mu    sync.Mutex
	names []string
	block chan struct{}
	fail  bool
}

func (r *recordingStorage) WriteData(rec core.CaptureRecord, filename string) bool {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, rec.MACAddress)
	return !r.fail
}

func (r *recordingStorage) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func TestAsyncWriterPreservesOrderAndFlushes(t *testing.T) {
	next := &recordingStorage{}
	w := NewAsyncWriter(next, 16)
	require.NoError(t, w.Start())

	macs := []string{"02:00:00:00:00:01", "02:00:00:00:00:02", "02:00:00:00:00:03"}
	for _, mac := range macs {
		require.True(t, w.WriteData(testRecord(mac), "a.csv"))
	}
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	assert.Equal(t, macs, next.seen())
	assert.Equal(t, uint64(3), w.Metrics()["written"])
	assert.False(t, w.WriteData(testRecord(macs[0]), "a.csv"), "stopped writer")
}

func TestAsyncWriterDropsWhenFull(t *testing.T) {
	next := &recordingStorage{block: make(chan struct{})}
	w := NewAsyncWriter(next, 1)

	// Not started, so nothing drains the queue.
	assert.True(t, w.WriteData(testRecord("02:00:00:00:00:01"), "a.csv"))
	assert.False(t, w.WriteData(testRecord("02:00:00:00:00:02"), "a.csv"))
	assert.Equal(t, uint64(1), w.Metrics()["dropped"])
	assert.Equal(t, 1, w.Pending())

	close(next.block)
	require.NoError(t, w.Stop())
	assert.Equal(t, []string{"02:00:00:00:00:01"}, next.seen())
}

func TestAsyncWriterCountsFailures(t *testing.T) {
	next := &recordingStorage{fail: true}
	w := NewAsyncWriter(next, 4)
	require.NoError(t, w.Start())
	require.True(t, w.WriteData(testRecord("02:00:00:00:00:01"), "a.csv"))
	require.NoError(t, w.Stop())
	assert.Equal(t, uint64(1), w.Metrics()["failed"])
}
