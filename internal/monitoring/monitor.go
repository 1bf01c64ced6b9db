package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/bert-ruber/internal/logger"
)

// Status is the JSON document served on /status.
type Status struct {
	Status    string     `json:"status"`
	RunID     string     `json:"run_id"`
	Stage     string     `json:"stage"`
	Timestamp time.Time  `json:"timestamp"`
	Uptime    string     `json:"uptime"`
	Progress  Progress   `json:"progress"`
	System    SystemInfo `json:"system"`
	Alerts    []Alert    `json:"alerts"`
}

type Progress struct {
	Epoch       int       `json:"epoch"`
	Batches     int       `json:"batches"`
	Loss        float64   `json:"loss"`
	Accuracy    float64   `json:"accuracy"`
	LastUpdated time.Time `json:"last_updated"`
}

type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	NumCPU       int    `json:"num_cpu"`
	MemoryUsedMB int    `json:"memory_used_mb"`
}

type Alert struct {
	Level     string    `json:"level"` // warning, error
	Component string    `json:"component"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Monitor tracks the state of one training or evaluation run and serves it
// next to the Prometheus registry.
type Monitor struct {
	runID     string
	startTime time.Time
	server    *http.Server

	mu       sync.RWMutex
	stage    string
	progress Progress
	alerts   []Alert
}

func NewMonitor(runID string) *Monitor {
	return &Monitor{
		runID:     runID,
		startTime: time.Now(),
		stage:     "idle",
	}
}

// Handler exposes /healthz, /status and /metrics.
func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", m.handleHealth)
	mux.HandleFunc("/status", m.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start serves Handler on addr in the background. Listen errors other than
// a clean shutdown are logged.
func (m *Monitor) Start(addr string) {
	m.server = &http.Server{
		Addr:         addr,
		Handler:      m.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Log.Info("metrics serving", "addr", addr)
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Err(err, "metrics server stopped")
		}
	}()
}

func (m *Monitor) Stop(ctx context.Context) error {
	if m.server != nil {
		return m.server.Shutdown(ctx)
	}
	return nil
}

func (m *Monitor) SetStage(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stage = stage
}

// RecordBatch folds one optimisation step into the live progress.
func (m *Monitor) RecordBatch(loss float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress.Batches++
	m.progress.LastUpdated = time.Now()
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		m.addAlertLocked("error", "trainer", fmt.Sprintf("non-finite loss at batch %d", m.progress.Batches))
	}
}

func (m *Monitor) RecordEpoch(epoch int, loss, accuracy float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress.Epoch = epoch
	m.progress.Loss = loss
	m.progress.Accuracy = accuracy
	m.progress.LastUpdated = time.Now()
}

func (m *Monitor) AddAlert(level, component, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addAlertLocked(level, component, message)
}

func (m *Monitor) addAlertLocked(level, component, message string) {
	m.alerts = append(m.alerts, Alert{
		Level:     level,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	})
	// Keep only last 100 alerts
	if len(m.alerts) > 100 {
		m.alerts = m.alerts[1:]
	}
	logger.Log.Warn("alert", "level", level, "component", component, "message", message)
}

func (m *Monitor) Snapshot() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := "healthy"
	for _, a := range m.alerts {
		if a.Level == "error" {
			status = "degraded"
			break
		}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	alerts := make([]Alert, len(m.alerts))
	copy(alerts, m.alerts)

	return Status{
		Status:    status,
		RunID:     m.runID,
		Stage:     m.stage,
		Timestamp: time.Now(),
		Uptime:    time.Since(m.startTime).Round(time.Second).String(),
		Progress:  m.progress,
		System: SystemInfo{
			GoVersion:    runtime.Version(),
			NumCPU:       runtime.NumCPU(),
			MemoryUsedMB: int(ms.Alloc / 1024 / 1024),
		},
		Alerts: alerts,
	}
}

func (m *Monitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	s := m.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if s.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":    s.Status,
		"timestamp": s.Timestamp.Format(time.RFC3339),
	})
}

func (m *Monitor) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.Snapshot())
}
