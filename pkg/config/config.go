// Package config provides configuration handling for the wildprobe sensor.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/irctrakz/wildprobe/pkg/adapter"
	"github.com/irctrakz/wildprobe/pkg/filter"
	"github.com/irctrakz/wildprobe/pkg/logging"
)

// Config represents the complete sensor configuration.
type Config struct {
	// Device identifies the sensor.
	Device DeviceConfig `json:"device" yaml:"device"`

	// WiFi contains the probe request framing parameters.
	WiFi adapter.WiFiConfig `json:"wifi" yaml:"wifi"`

	// BLE contains the BLE scanning parameters.
	BLE adapter.BLEConfig `json:"ble" yaml:"ble"`

	// Filter contains additional addresses to ignore.
	Filter FilterConfig `json:"filter" yaml:"filter"`

	// Storage contains the CSV persistence configuration.
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Schedule contains the scan cycle timing.
	Schedule ScheduleConfig `json:"schedule" yaml:"schedule"`

	// PCAP contains the WiFi capture tee configuration.
	PCAP PCAPConfig `json:"pcap" yaml:"pcap"`

	// Metrics contains the periodic metrics report configuration.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Logging contains the logging configuration.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// DeviceConfig identifies the sensor in logs and reports.
type DeviceConfig struct {
	ID       string `json:"id" yaml:"id"`
	Location string `json:"location" yaml:"location"`
}

// FilterConfig contains MAC filter settings.
type FilterConfig struct {
	// IgnoredMACs are rejected in addition to the fixed denylist, typically
	// the sensor's own radios.
	IgnoredMACs []string `json:"ignoredMACs" yaml:"ignoredMACs"`
}

// StorageConfig contains configuration for CSV persistence.
type StorageConfig struct {
	// Dir is the storage root. Empty disables persistence.
	Dir string `json:"dir" yaml:"dir"`

	// MaxFileSize rotates capture files larger than this many bytes. Zero disables rotation.
	MaxFileSize int64 `json:"maxFileSize" yaml:"maxFileSize"`

	// LowSpacePercent refuses writes below this much free space.
	LowSpacePercent float64 `json:"lowSpacePercent" yaml:"lowSpacePercent"`

	// AutoCleanup deletes the oldest rotated files when space runs low.
	AutoCleanup bool `json:"autoCleanup" yaml:"autoCleanup"`

	// Async moves file I/O off the capture path.
	Async bool `json:"async" yaml:"async"`

	// QueueSize is the async queue capacity.
	QueueSize int `json:"queueSize" yaml:"queueSize"`
}

// ScheduleConfig contains the scan cycle timing in milliseconds.
type ScheduleConfig struct {
	WiFiWindowMS int `json:"wifiWindowMS" yaml:"wifiWindowMS"`
	BLEWindowMS  int `json:"bleWindowMS" yaml:"bleWindowMS"`
	IdleMS       int `json:"idleMS" yaml:"idleMS"`

	// Cycles stops the runner after this many cycles. Zero runs until cancelled.
	Cycles int `json:"cycles" yaml:"cycles"`
}

// PCAPConfig contains the capture tee configuration.
type PCAPConfig struct {
	// Path of the pcap file. Empty disables the tee.
	Path string `json:"path" yaml:"path"`
}

// MetricsConfig contains the metrics report configuration.
type MetricsConfig struct {
	// IntervalSec between reports. Zero disables reporting.
	IntervalSec int `json:"intervalSec" yaml:"intervalSec"`

	// Format is "text" or "json".
	Format string `json:"format" yaml:"format"`

	// HealthListen is the address of the /health endpoint. Empty disables it.
	HealthListen string `json:"healthListen" yaml:"healthListen"`
}

// LoggingConfig contains configuration for logging.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `json:"level" yaml:"level"`

	// File is the log file path.
	File string `json:"file" yaml:"file"`

	// MaxSize is the maximum size of the log file in megabytes.
	MaxSize int `json:"maxSize" yaml:"maxSize"`

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `json:"maxBackups" yaml:"maxBackups"`

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `json:"maxAge" yaml:"maxAge"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			ID:       "wildprobe",
			Location: "",
		},
		WiFi: adapter.DefaultWiFiConfig(),
		BLE:  adapter.DefaultBLEConfig(),
		Storage: StorageConfig{
			Dir:             "./sdcard",
			MaxFileSize:     0,
			LowSpacePercent: 10,
			AutoCleanup:     true,
			Async:           true,
			QueueSize:       1000,
		},
		Schedule: ScheduleConfig{
			WiFiWindowMS: 600,
			BLEWindowMS:  60,
			IdleMS:       5000,
		},
		Metrics: MetricsConfig{
			IntervalSec: 30,
			Format:      "text",
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// LoadFromFile loads configuration from a file.
func LoadFromFile(path string, config *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch {
	case strings.HasSuffix(path, ".json"):
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	return nil
}

// Load returns the defaults overlaid with path (if not empty) and then the
// environment, validated.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := LoadFromFile(path, cfg); err != nil {
			return nil, err
		}
	}
	LoadFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envInt(name string, dst *int) {
	if val := os.Getenv(name); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(name); val != "" {
		*dst = val == "true" || val == "1"
	}
}

// LoadFromEnv loads configuration from WILDPROBE_* environment variables.
func LoadFromEnv(config *Config) {
	// Device config
	if val := os.Getenv("WILDPROBE_DEVICE_ID"); val != "" {
		config.Device.ID = val
	}
	if val := os.Getenv("WILDPROBE_DEVICE_LOCATION"); val != "" {
		config.Device.Location = val
	}

	// BLE config
	envInt("WILDPROBE_BLE_MIN_RSSI", &config.BLE.MinRSSI)
	if val := os.Getenv("WILDPROBE_BLE_SCAN_INTERVAL"); val != "" {
		if n, err := strconv.ParseUint(val, 0, 16); err == nil {
			config.BLE.ScanInterval = uint16(n)
		}
	}
	if val := os.Getenv("WILDPROBE_BLE_SCAN_WINDOW"); val != "" {
		if n, err := strconv.ParseUint(val, 0, 16); err == nil {
			config.BLE.ScanWindow = uint16(n)
		}
	}

	// Filter config
	if val := os.Getenv("WILDPROBE_IGNORED_MACS"); val != "" {
		config.Filter.IgnoredMACs = nil
		for _, mac := range strings.Split(val, ",") {
			if mac = strings.TrimSpace(mac); mac != "" {
				config.Filter.IgnoredMACs = append(config.Filter.IgnoredMACs, mac)
			}
		}
	}

	// Storage config
	if val := os.Getenv("WILDPROBE_STORAGE_DIR"); val != "" {
		config.Storage.Dir = val
	}
	if val := os.Getenv("WILDPROBE_STORAGE_MAX_FILE_SIZE"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			config.Storage.MaxFileSize = n
		}
	}
	envBool("WILDPROBE_STORAGE_ASYNC", &config.Storage.Async)

	// Schedule config
	envInt("WILDPROBE_WIFI_WINDOW_MS", &config.Schedule.WiFiWindowMS)
	envInt("WILDPROBE_BLE_WINDOW_MS", &config.Schedule.BLEWindowMS)
	envInt("WILDPROBE_IDLE_MS", &config.Schedule.IdleMS)
	envInt("WILDPROBE_CYCLES", &config.Schedule.Cycles)

	// PCAP config
	if val := os.Getenv("WILDPROBE_PCAP"); val != "" {
		config.PCAP.Path = val
	}

	// Metrics config
	envInt("WILDPROBE_METRICS_INTERVAL_SEC", &config.Metrics.IntervalSec)
	if val := os.Getenv("WILDPROBE_METRICS_FORMAT"); val != "" {
		config.Metrics.Format = val
	}
	if val := os.Getenv("WILDPROBE_HEALTH_LISTEN"); val != "" {
		config.Metrics.HealthListen = val
	}

	// Logging config
	if val := os.Getenv("WILDPROBE_LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("WILDPROBE_LOG_FILE"); val != "" {
		config.Logging.File = val
	}
	envInt("WILDPROBE_LOG_MAX_SIZE", &config.Logging.MaxSize)
	envInt("WILDPROBE_LOG_MAX_BACKUPS", &config.Logging.MaxBackups)
	envInt("WILDPROBE_LOG_MAX_AGE", &config.Logging.MaxAge)
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	// WiFi config
	if c.WiFi.MinPacketSize <= 0 {
		result = multierror.Append(result, fmt.Errorf("invalid WiFi minimum packet size: %d", c.WiFi.MinPacketSize))
	}
	if c.WiFi.MACOffset < 0 || c.WiFi.MACOffset+6 > c.WiFi.MinPacketSize {
		result = multierror.Append(result, fmt.Errorf("WiFi MAC offset %d does not fit in %d-byte frames", c.WiFi.MACOffset, c.WiFi.MinPacketSize))
	}

	// BLE config
	if c.BLE.ScanWindow > c.BLE.ScanInterval {
		result = multierror.Append(result, fmt.Errorf("BLE scan window 0x%04x exceeds interval 0x%04x", c.BLE.ScanWindow, c.BLE.ScanInterval))
	}
	if c.BLE.MaxADLength <= 0 || c.BLE.MaxADLength > adapter.MaxADLength {
		result = multierror.Append(result, fmt.Errorf("invalid BLE max advertising data length: %d", c.BLE.MaxADLength))
	}

	// Filter config
	for _, mac := range c.Filter.IgnoredMACs {
		if len(mac) != 17 {
			result = multierror.Append(result, fmt.Errorf("invalid ignored MAC address: %q", mac))
		}
	}

	// Storage config
	if c.Storage.MaxFileSize < 0 {
		result = multierror.Append(result, fmt.Errorf("invalid storage max file size: %d", c.Storage.MaxFileSize))
	}
	if c.Storage.LowSpacePercent < 0 || c.Storage.LowSpacePercent >= 100 {
		result = multierror.Append(result, fmt.Errorf("invalid storage low space threshold: %.1f%%", c.Storage.LowSpacePercent))
	}
	if c.Storage.Async && c.Storage.QueueSize <= 0 {
		result = multierror.Append(result, fmt.Errorf("invalid storage queue size: %d", c.Storage.QueueSize))
	}

	// Schedule config
	if c.Schedule.WiFiWindowMS < 0 || c.Schedule.BLEWindowMS < 0 || c.Schedule.IdleMS < 0 {
		result = multierror.Append(result, fmt.Errorf("schedule durations cannot be negative"))
	}
	if c.Schedule.WiFiWindowMS == 0 && c.Schedule.BLEWindowMS == 0 {
		result = multierror.Append(result, fmt.Errorf("at least one scan window must be enabled"))
	}
	if c.Schedule.Cycles < 0 {
		result = multierror.Append(result, fmt.Errorf("invalid cycle count: %d", c.Schedule.Cycles))
	}

	// Metrics config
	if c.Metrics.IntervalSec < 0 {
		result = multierror.Append(result, fmt.Errorf("invalid metrics interval: %d", c.Metrics.IntervalSec))
	}
	switch c.Metrics.Format {
	case "text", "json":
	default:
		result = multierror.Append(result, fmt.Errorf("invalid metrics format: %s", c.Metrics.Format))
	}

	// Logging config
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil || c.Logging.Level == "" {
		result = multierror.Append(result, fmt.Errorf("invalid logging level: %s", c.Logging.Level))
	}

	return result.ErrorOrNil()
}

// MACFilter builds the address filter for this configuration.
func (c *Config) MACFilter() *filter.Filter {
	return filter.New(c.Filter.IgnoredMACs...)
}

// ApplyLogging applies the logging configuration.
func (c *Config) ApplyLogging() error {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		logging.Warnf("%v, using info", err)
	}
	logging.SetLevel(level)

	if c.Logging.File != "" {
		err := logging.EnableFileLogging(
			filepath.Dir(c.Logging.File),
			filepath.Base(c.Logging.File),
			c.Logging.MaxSize,
			c.Logging.MaxBackups,
			c.Logging.MaxAge,
		)
		if err != nil {
			return fmt.Errorf("failed to enable file logging: %w", err)
		}
	}

	return nil
}

// SaveToFile saves the configuration to a file.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	switch {
	case strings.HasSuffix(path, ".json"):
		data, err = json.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		data, err = yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
