package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/irctrakz/wildprobe/pkg/adapter"
	"github.com/irctrakz/wildprobe/pkg/capture"
	"github.com/irctrakz/wildprobe/pkg/config"
	"github.com/irctrakz/wildprobe/pkg/core"
	"github.com/irctrakz/wildprobe/pkg/cycle"
	"github.com/irctrakz/wildprobe/pkg/logging"
	"github.com/irctrakz/wildprobe/pkg/pcap"
	"github.com/irctrakz/wildprobe/pkg/radio"
	"github.com/irctrakz/wildprobe/pkg/storage"
	"github.com/irctrakz/wildprobe/pkg/timesource"
)

// strongSignal is the RSSI above which a WiFi record is logged immediately.
const strongSignal = -50

var (
	runCycles   int
	runSimulate bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scan loop",
	Long: `Run alternates WiFi and BLE scan windows until interrupted, storing
every accepted record. Without radio hardware the mock radios are fed by a
simulator.`,
	RunE: runSensor,
}

func init() {
	runCmd.Flags().IntVar(&runCycles, "cycles", 0, "Stop after this many cycles (0 runs until interrupted)")
	runCmd.Flags().BoolVar(&runSimulate, "simulate", true, "Feed the mock radios with simulated devices")
}

// realtimeHandler logs strong WiFi signals and named BLE devices as they
// are captured.
func realtimeHandler(log *logrus.Entry) core.HandlerFunc {
	return func(rec core.CaptureRecord) error {
		switch rec.Protocol {
		case core.WiFi:
			if rec.RSSI > strongSignal {
				log.Infof("High-strength WiFi signal detected: %s (%d dBm)", rec.MACAddress, rec.RSSI)
			}
		case core.BLE:
			raw, err := rec.RawBytes()
			if err != nil {
				return err
			}
			if name := adapter.ExtractDeviceName(raw); name != "" {
				log.Infof("Named BLE device: '%s' [%s]", name, rec.MACAddress)
			}
		}
		return nil
	}
}

func runSensor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("cycles") {
		cfg.Schedule.Cycles = runCycles
	}
	defer logging.Close()

	log := logging.WithComponent("Main")
	log.Infof("Starting wildprobe %s on device %s", Version, cfg.Device.ID)
	if cfg.Device.Location != "" {
		log.Infof("Location: %s", cfg.Device.Location)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage. Deferred closes run in reverse, so the async queue drains
	// into the CSV store before its files close.
	var (
		store    core.Storage
		csvStore *storage.CSVStore
		async    *storage.AsyncWriter
	)
	if cfg.Storage.Dir != "" {
		csvStore, err = storage.NewCSVStore(storage.CSVOptions{
			Dir:             cfg.Storage.Dir,
			MaxFileSize:     cfg.Storage.MaxFileSize,
			LowSpacePercent: cfg.Storage.LowSpacePercent,
			AutoCleanup:     cfg.Storage.AutoCleanup,
		})
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		defer func() {
			if err := csvStore.Close(); err != nil {
				log.WithError(err).Warn("Closing capture files")
			}
		}()
		store = csvStore

		if cfg.Storage.Async {
			async = storage.NewAsyncWriter(csvStore, cfg.Storage.QueueSize)
			if err := async.Start(); err != nil {
				return fmt.Errorf("storage: %w", err)
			}
			defer async.Stop()
			store = async
		}
		log.Infof("Storing captures under %s", csvStore.DataPath(""))
	} else {
		log.Warn("No storage directory configured, records are kept in memory only")
	}

	handlers := core.Handlers{realtimeHandler(logging.WithComponent("Realtime"))}
	var pw *pcap.Writer
	if cfg.PCAP.Path != "" {
		pw, err = pcap.Create(cfg.PCAP.Path)
		if err != nil {
			return fmt.Errorf("pcap: %w", err)
		}
		defer pw.Close()
		handlers = append(handlers, pw)
		log.Infof("Writing WiFi captures to %s", cfg.PCAP.Path)
	}

	// Radios and sessions.
	wifiDrv := radio.NewMockDriver[adapter.WiFiFrame]("mock-wifi", 256)
	bleDrv := radio.NewMockDriver[adapter.BLEAdvertisement]("mock-ble", 256)

	opts := capture.Options{
		Storage:    store,
		TimeSource: timesource.NewSystem(nil),
		Filter:     cfg.MACFilter(),
	}
	wifiSess := capture.NewWiFiSession(wifiDrv, cfg.WiFi, opts)
	bleSess := capture.NewBLESession(bleDrv, cfg.BLE, opts)
	wifiSess.SetCallback(handlers)
	bleSess.SetCallback(handlers)
	defer wifiSess.Cleanup()
	defer bleSess.Cleanup()

	var wifiScanner, bleScanner cycle.Scanner
	if cfg.Schedule.WiFiWindowMS > 0 {
		if wifiSess.Initialize() {
			wifiScanner = wifiSess
		} else {
			log.Error("WiFi scanner failed to initialize")
		}
	}
	if cfg.Schedule.BLEWindowMS > 0 {
		if bleSess.Initialize() {
			bleScanner = bleSess
		} else {
			log.Error("BLE scanner failed to initialize")
		}
	}
	if wifiScanner == nil && bleScanner == nil {
		return errors.New("no scanner could be initialized")
	}

	runner := cycle.NewRunner(cycle.Options{
		WiFi:       wifiScanner,
		BLE:        bleScanner,
		WiFiWindow: time.Duration(cfg.Schedule.WiFiWindowMS) * time.Millisecond,
		BLEWindow:  time.Duration(cfg.Schedule.BLEWindowMS) * time.Millisecond,
		Idle:       time.Duration(cfg.Schedule.IdleMS) * time.Millisecond,
		Cycles:     cfg.Schedule.Cycles,
	})

	if runSimulate {
		sim := NewSimulator(wifiDrv, bleDrv, nil, time.Now().UnixNano())
		go sim.Run(ctx)
	}

	reporter := &metricsReporter{device: cfg.Device.ID, wifi: wifiSess, ble: bleSess, cycles: runner.Cycles}
	if csvStore != nil {
		reporter.storage = csvStore
	}
	if async != nil {
		reporter.async = async
	}
	if pw != nil {
		reporter.pcap = pw
	}
	go reporter.run(ctx, time.Duration(cfg.Metrics.IntervalSec)*time.Second, cfg.Metrics.Format)

	if cfg.Metrics.HealthListen != "" {
		h := &healthHandler{
			device:   cfg.Device.ID,
			started:  time.Now(),
			sessions: []sessionStatus{wifiSess, bleSess},
			dataDir:  cfg.Storage.Dir,
			cycles:   runner.Cycles,
		}
		go serveHealth(ctx, cfg.Metrics.HealthListen, h)
	}

	if configPath != "" {
		w := config.NewWatcher(configPath, func(c *config.Config) {
			runner.QueueBLESettings(cycle.BLESettings{
				MinRSSI:      c.BLE.MinRSSI,
				ScanInterval: c.BLE.ScanInterval,
				ScanWindow:   c.BLE.ScanWindow,
			})
		})
		if err := w.Start(ctx); err != nil {
			log.WithError(err).Warn("Config hot reload disabled")
		} else {
			defer w.Stop()
		}
	}

	err = runner.Run(ctx)
	stop()
	reporter.dump(cfg.Metrics.Format)
	if errors.Is(err, context.Canceled) {
		log.Info("Shutting down")
		return nil
	}
	return err
}
