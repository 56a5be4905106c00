// Package storage persists capture records to CSV files.
package storage

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/sirupsen/logrus"

	"github.com/irctrakz/wildprobe/pkg/core"
	"github.com/irctrakz/wildprobe/pkg/logging"
)

// DataDir is the subdirectory of the storage root that holds capture files.
const DataDir = "data"

// rotationLayout is appended to a file name when it is rotated.
const rotationLayout = "20060102_150405"

// ErrBadFilename is returned for names that would escape the data directory.
var ErrBadFilename = errors.New("invalid capture file name")

// CSVOptions configures a CSVStore.
type CSVOptions struct {
	// Dir is the storage root. Files are written to Dir/data.
	Dir string

	// MaxFileSize rotates a file once it grows past this many bytes.
	// Zero disables rotation.
	MaxFileSize int64

	// LowSpacePercent refuses writes while the free space of the volume is
	// below this percentage. Zero disables the check.
	LowSpacePercent float64

	// AutoCleanup deletes the oldest rotated files when space runs low.
	AutoCleanup bool

	// SpaceCheckInterval limits how often the volume is queried.
	SpaceCheckInterval time.Duration

	// Clock supplies rotation timestamps. Defaults to the real clock.
	Clock clock.Clock
}

type openFile struct {
	f    *os.File
	size int64
}

// maxOpenFiles bounds the handles a CSVStore keeps open. Records normally
// land in one file per day, so older handles are closed rather than kept.
const maxOpenFiles = 4

// CSVStore implements core.Storage on a local filesystem. Each file starts
// with core.CSVHeader.
type CSVStore struct {
	opts    CSVOptions
	dataDir string
	log     *logrus.Entry

	mu    sync.Mutex
	files map[string]*openFile

	// usage is disk.Usage, replaceable in tests.
	usage     func(path string) (*disk.UsageStat, error)
	lastCheck time.Time
	lowSpace  bool
	closed    bool

	writes           uint64
	writeFailures    uint64
	bytesWritten     uint64
	rotations        uint64
	lowSpaceRefusals uint64
	filesRemoved     uint64
}

var _ core.Storage = (*CSVStore)(nil)

// NewCSVStore creates the data directory and returns a store writing into it.
func NewCSVStore(opts CSVOptions) (*CSVStore, error) {
	if opts.Dir == "" {
		return nil, errors.New("storage directory is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.SpaceCheckInterval <= 0 {
		opts.SpaceCheckInterval = 30 * time.Second
	}

	dataDir := filepath.Join(opts.Dir, DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &CSVStore{
		opts:    opts,
		dataDir: dataDir,
		log:     logging.WithComponent("Storage"),
		files:   make(map[string]*openFile),
		usage:   disk.Usage,
	}
	s.log.Infof("CSV storage ready at %s", dataDir)
	return s, nil
}

// DataPath returns the path a capture file with the given name is written to.
func (s *CSVStore) DataPath(filename string) string {
	return filepath.Join(s.dataDir, filename)
}

// WriteData implements core.Storage.
func (s *CSVStore) WriteData(rec core.CaptureRecord, filename string) bool {
	if err := s.write(rec, filename); err != nil {
		atomic.AddUint64(&s.writeFailures, 1)
		s.log.WithError(err).Errorf("Failed to write record to %s", filename)
		return false
	}
	atomic.AddUint64(&s.writes, 1)
	return true
}

func (s *CSVStore) write(rec core.CaptureRecord, filename string) error {
	if filename == "" || filename != filepath.Base(filename) || filename == "." || filename == ".." {
		return fmt.Errorf("%w: %q", ErrBadFilename, filename)
	}

	var line bytes.Buffer
	w := csv.NewWriter(&line)
	if err := w.Write(rec.CSVFields()); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("storage closed")
	}
	if s.checkLowSpace() {
		atomic.AddUint64(&s.lowSpaceRefusals, 1)
		return errors.New("insufficient free space")
	}

	of, err := s.open(filename)
	if err != nil {
		return err
	}
	if s.opts.MaxFileSize > 0 && of.size > s.opts.MaxFileSize {
		if of, err = s.rotate(filename); err != nil {
			return err
		}
	}

	n, err := of.f.Write(line.Bytes())
	of.size += int64(n)
	atomic.AddUint64(&s.bytesWritten, uint64(n))
	return err
}

// open returns the cached handle for filename, creating the file with a
// header when it does not exist or is empty. Must hold mu.
func (s *CSVStore) open(filename string) (*openFile, error) {
	if of, ok := s.files[filename]; ok {
		return of, nil
	}
	if len(s.files) >= maxOpenFiles {
		s.closeIdle()
	}

	path := s.DataPath(filename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	of := &openFile{f: f, size: info.Size()}
	if of.size == 0 {
		n, err := io.WriteString(f, core.CSVHeader+"\n")
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
		of.size = int64(n)
		logging.Debugf("Created data file %s", path)
	}
	s.files[filename] = of
	return of, nil
}

// closeIdle closes every cached handle. Sizes are re-read from the file
// when it is next opened. Must hold mu.
func (s *CSVStore) closeIdle() {
	for name, of := range s.files {
		if err := of.f.Close(); err != nil {
			s.log.WithError(err).Warnf("Failed to close %s", name)
		}
		delete(s.files, name)
	}
}

// rotate renames filename aside with a timestamp suffix and reopens it.
// Must hold mu.
func (s *CSVStore) rotate(filename string) (*openFile, error) {
	if of, ok := s.files[filename]; ok {
		of.f.Close()
		delete(s.files, filename)
	}

	path := s.DataPath(filename)
	rotated := path + "." + s.opts.Clock.Now().Format(rotationLayout)
	for i := 1; fileExists(rotated); i++ {
		rotated = fmt.Sprintf("%s.%s_%d", path, s.opts.Clock.Now().Format(rotationLayout), i)
	}
	if err := os.Rename(path, rotated); err != nil {
		return nil, fmt.Errorf("failed to rotate %s: %w", filename, err)
	}
	atomic.AddUint64(&s.rotations, 1)
	s.log.Infof("File size limit reached, rotated %s to %s", filename, filepath.Base(rotated))

	return s.open(filename)
}

// checkLowSpace reports whether writes should be refused. The volume is
// queried at most once per SpaceCheckInterval. Must hold mu.
func (s *CSVStore) checkLowSpace() bool {
	if s.opts.LowSpacePercent <= 0 {
		return false
	}
	now := s.opts.Clock.Now()
	if !s.lastCheck.IsZero() && now.Sub(s.lastCheck) < s.opts.SpaceCheckInterval {
		return s.lowSpace
	}
	s.lastCheck = now

	free, err := s.freePercent()
	if err != nil {
		s.log.WithError(err).Debug("Disk usage unavailable")
		s.lowSpace = false
		return false
	}
	if free >= s.opts.LowSpacePercent {
		s.lowSpace = false
		return false
	}

	s.log.Warnf("Low storage space: %.1f%% free (threshold %.1f%%)", free, s.opts.LowSpacePercent)
	if s.opts.AutoCleanup {
		s.cleanupLocked()
		if free, err = s.freePercent(); err == nil && free >= s.opts.LowSpacePercent {
			s.lowSpace = false
			return false
		}
	}
	s.lowSpace = true
	return true
}

func (s *CSVStore) freePercent() (float64, error) {
	u, err := s.usage(s.dataDir)
	if err != nil {
		return 0, err
	}
	if u.Total == 0 {
		return 0, errors.New("volume reports zero capacity")
	}
	return float64(u.Free) / float64(u.Total) * 100, nil
}

// Cleanup deletes rotated capture files, oldest first, until the free space
// reaches the low-space threshold. It returns the number of files removed.
func (s *CSVStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupLocked()
}

func (s *CSVStore) cleanupLocked() int {
	rotated, err := s.rotatedFiles()
	if err != nil {
		s.log.WithError(err).Warn("Failed to list rotated files")
		return 0
	}

	removed := 0
	for _, path := range rotated {
		if free, err := s.freePercent(); err == nil && free >= s.opts.LowSpacePercent {
			break
		}
		if err := os.Remove(path); err != nil {
			s.log.WithError(err).Warnf("Failed to delete %s", path)
			continue
		}
		removed++
		atomic.AddUint64(&s.filesRemoved, 1)
		s.log.Infof("Deleted old file: %s", filepath.Base(path))
	}
	if removed > 0 {
		s.log.Infof("Cleanup complete - deleted %d files", removed)
	}
	return removed
}

// rotatedFiles lists rotated files in the data directory, oldest first.
func (s *CSVStore) rotatedFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, err
	}
	type aged struct {
		path string
		mod  time.Time
	}
	var files []aged
	for _, e := range entries {
		if e.IsDir() || !strings.Contains(e.Name(), ".csv.") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, aged{filepath.Join(s.dataDir, e.Name()), info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })

	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}

// Metrics returns storage counters.
func (s *CSVStore) Metrics() map[string]uint64 {
	return map[string]uint64{
		"writes":           atomic.LoadUint64(&s.writes),
		"writeFailures":    atomic.LoadUint64(&s.writeFailures),
		"bytesWritten":     atomic.LoadUint64(&s.bytesWritten),
		"rotations":        atomic.LoadUint64(&s.rotations),
		"lowSpaceRefusals": atomic.LoadUint64(&s.lowSpaceRefusals),
		"filesRemoved":     atomic.LoadUint64(&s.filesRemoved),
	}
}

// Close closes every open file. Later writes fail.
func (s *CSVStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var result *multierror.Error
	for name, of := range s.files {
		if err := of.f.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
		}
		delete(s.files, name)
	}
	return result.ErrorOrNil()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
