package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/irctrakz/wildprobe/pkg/capture"
	"github.com/irctrakz/wildprobe/pkg/logging"
)

// sessionStatus is a session with lifecycle state.
type sessionStatus interface {
	sessionSource
	State() capture.State
	IsScanning() bool
	SessionID() string
}

type sessionHealth struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	Scanning  bool   `json:"scanning"`
	SessionID string `json:"sessionId,omitempty"`
	Results   int    `json:"results"`
	Accepted  uint64 `json:"accepted"`
}

type diskHealth struct {
	Path        string  `json:"path"`
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"usedPercent"`
}

type healthReport struct {
	Status   string          `json:"status"`
	Device   string          `json:"device"`
	Version  string          `json:"version"`
	Uptime   string          `json:"uptime"`
	Cycles   int             `json:"cycles"`
	Sessions []sessionHealth `json:"sessions"`
	Disk     *diskHealth     `json:"disk,omitempty"`
}

// healthHandler serves /health. The status is "ok" while every session is
// initialized and "degraded" otherwise.
type healthHandler struct {
	device   string
	started  time.Time
	sessions []sessionStatus
	dataDir  string
	cycles   func() int
	usage    func(string) (*disk.UsageStat, error)
}

func (h *healthHandler) report() healthReport {
	rep := healthReport{
		Status:  "ok",
		Device:  h.device,
		Version: Version,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
	}
	if h.cycles != nil {
		rep.Cycles = h.cycles()
	}
	for _, s := range h.sessions {
		st := s.State()
		if st != capture.Initialized {
			rep.Status = "degraded"
		}
		rep.Sessions = append(rep.Sessions, sessionHealth{
			Name:      s.Name(),
			State:     st.String(),
			Scanning:  s.IsScanning(),
			SessionID: s.SessionID(),
			Results:   s.ResultCount(),
			Accepted:  s.Metrics().Accepted,
		})
	}
	if h.dataDir != "" {
		usage := h.usage
		if usage == nil {
			usage = disk.Usage
		}
		if u, err := usage(h.dataDir); err == nil {
			rep.Disk = &diskHealth{Path: u.Path, Total: u.Total, Free: u.Free, UsedPercent: u.UsedPercent}
		} else {
			logging.Debugf("Health: disk usage for %s: %v", h.dataDir, err)
		}
	}
	return rep
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rep := h.report()
	w.Header().Set("Content-Type", "application/json")
	if rep.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(rep)
}

// serveHealth runs the health endpoint on addr until ctx is cancelled.
func serveHealth(ctx context.Context, addr string, h http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/health", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.Infof("Health endpoint listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Warnf("Health endpoint stopped: %v", err)
	}
}
