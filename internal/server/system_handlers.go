package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/allocator/internal/cache"
	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/scheduler"
)

// Pinger is a dependency that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// JobRunner exposes scheduler state and manual triggering.
type JobRunner interface {
	Status() []scheduler.JobStatus
	RunNow(name string) error
}

// SystemHandlers handles system-wide monitoring and operations endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	databases   []*database.DB
	cache       *cache.Cache
	shared      Pinger // nil when Redis is not configured
	jobs        JobRunner
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(
	log zerolog.Logger,
	dataDir string,
	databases []*database.DB,
	c *cache.Cache,
	shared Pinger,
	jobs JobRunner,
) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		databases:   databases,
		cache:       c,
		shared:      shared,
		jobs:        jobs,
	}
}

// SystemStatusResponse represents the system status
type SystemStatusResponse struct {
	Status        string                `json:"status"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	CPUPercent    float64               `json:"cpu_percent"`
	MemoryPercent float64               `json:"memory_percent"`
	DiskFreeGB    float64               `json:"disk_free_gb"`
	Databases     []DBHealth            `json:"databases"`
	Cache         cache.Stats           `json:"cache"`
	SharedCache   string                `json:"shared_cache"`
	Jobs          []scheduler.JobStatus `json:"jobs"`
}

// DBHealth reports one database's reachability
type DBHealth struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// JobsStatusResponse represents scheduler job status
type JobsStatusResponse struct {
	TotalJobs int                   `json:"total_jobs"`
	Jobs      []scheduler.JobStatus `json:"jobs"`
}

// HandleSystemStatus returns process, database, cache and job status.
// A failing database marks the status degraded, not the request failed.
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := SystemStatusResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
		Databases:     make([]DBHealth, 0, len(h.databases)),
		SharedCache:   "disabled",
		Jobs:          h.jobStatuses(),
	}

	response.CPUPercent, response.MemoryPercent = h.getSystemStats()
	if usage, err := disk.UsageWithContext(ctx, h.dataDir); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get disk usage")
	} else {
		response.DiskFreeGB = float64(usage.Free) / 1e9
	}

	for _, db := range h.databases {
		health := DBHealth{Name: db.Name(), Path: db.Path(), Healthy: true}
		if err := db.QuickCheck(ctx); err != nil {
			health.Healthy = false
			health.Error = err.Error()
			response.Status = "degraded"
		}
		response.Databases = append(response.Databases, health)
	}

	if h.cache != nil {
		response.Cache = h.cache.Stats()
	}

	if h.shared != nil {
		response.SharedCache = "ok"
		if err := h.shared.Ping(ctx); err != nil {
			h.log.Warn().Err(err).Msg("Shared cache unreachable")
			response.SharedCache = "unreachable"
			response.Status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, response, h.log)
}

// HandleJobsStatus returns scheduler job status
func (h *SystemHandlers) HandleJobsStatus(w http.ResponseWriter, r *http.Request) {
	jobs := h.jobStatuses()
	writeJSON(w, http.StatusOK, JobsStatusResponse{
		TotalJobs: len(jobs),
		Jobs:      jobs,
	}, h.log)
}

// HandleRunJob runs a registered job immediately
// POST /api/system/jobs/{name}
func (h *SystemHandlers) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if h.jobs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "scheduler not available"}, h.log)
		return
	}

	start := time.Now()
	if err := h.jobs.RunNow(name); err != nil {
		if errors.Is(err, scheduler.ErrUnknownJob) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()}, h.log)
			return
		}
		h.log.Error().Err(err).Str("job", name).Msg("Manual job run failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"job":   name,
			"error": err.Error(),
		}, h.log)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job":         name,
		"status":      "completed",
		"duration_ms": time.Since(start).Milliseconds(),
	}, h.log)
}

func (h *SystemHandlers) jobStatuses() []scheduler.JobStatus {
	if h.jobs == nil {
		return []scheduler.JobStatus{}
	}
	return h.jobs.Status()
}

// getSystemStats calculates CPU and RAM usage percentages
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	// 100ms sample keeps the endpoint responsive
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}, log zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
