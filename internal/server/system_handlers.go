package server

import (
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/quantfold/holdwatch/internal/database"
)

// SystemHandlers serves health and host telemetry endpoints.
type SystemHandlers struct {
	holdingsDB *database.DB
	cacheDB    *database.DB
	dataDir    string
	startedAt  time.Time
	log        zerolog.Logger
}

// NewSystemHandlers creates system handlers.
func NewSystemHandlers(holdingsDB, cacheDB *database.DB, dataDir string, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		holdingsDB: holdingsDB,
		cacheDB:    cacheDB,
		dataDir:    dataDir,
		startedAt:  time.Now(),
		log:        log.With().Str("component", "system_handlers").Logger(),
	}
}

// HealthResponse reports per-database health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Databases map[string]string `json:"databases"`
}

// HandleHealth pings every database.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Databases: make(map[string]string),
	}

	status := http.StatusOK
	for _, db := range []*database.DB{h.holdingsDB, h.cacheDB} {
		if err := db.HealthCheck(r.Context()); err != nil {
			h.log.Error().Err(err).Str("database", db.Name()).Msg("Health check failed")
			resp.Databases[db.Name()] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			resp.Databases[db.Name()] = "ok"
		}
	}

	respondJSON(w, status, resp)
}

// SystemInfoResponse carries host and process telemetry.
type SystemInfoResponse struct {
	UptimeSeconds  int64   `json:"uptime_seconds"`
	CPUPercent     float64 `json:"cpu_percent"`
	MemUsedPercent float64 `json:"mem_used_percent"`
	MemUsedMB      float64 `json:"mem_used_mb"`
	DataDirMB      float64 `json:"data_dir_mb"`
	Goroutines     int     `json:"goroutines"`
	HostUptime     uint64  `json:"host_uptime_seconds"`
}

// HandleInfo returns host telemetry. Metric collection failures degrade to
// zero values rather than failing the request.
func (h *SystemHandlers) HandleInfo(w http.ResponseWriter, _ *http.Request) {
	resp := SystemInfoResponse{
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
		DataDirMB:     h.dirSizeMB(h.dataDir),
	}

	// Short sampling interval keeps the endpoint responsive.
	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err != nil {
		h.log.Warn().Err(err).Msg("Failed to read CPU usage")
	} else if len(cpuPercent) > 0 {
		resp.CPUPercent = cpuPercent[0]
	}

	if memStat, err := mem.VirtualMemory(); err != nil {
		h.log.Warn().Err(err).Msg("Failed to read memory usage")
	} else {
		resp.MemUsedPercent = memStat.UsedPercent
		resp.MemUsedMB = float64(memStat.Used) / 1024 / 1024
	}

	if info, err := host.Info(); err != nil {
		h.log.Warn().Err(err).Msg("Failed to read host info")
	} else {
		resp.HostUptime = info.Uptime
	}

	respondJSON(w, http.StatusOK, resp)
}

// dirSizeMB walks the data directory and sums file sizes.
func (h *SystemHandlers) dirSizeMB(dirPath string) float64 {
	var totalSize int64
	err := filepath.Walk(dirPath, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})
	if err != nil {
		h.log.Warn().Err(err).Str("dir", dirPath).Msg("Failed to calculate directory size")
		return 0
	}
	return float64(totalSize) / 1024 / 1024
}
