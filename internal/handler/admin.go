package handler

import (
	"net/http"
	"runtime"
	"time"

	"listing-snapshot-api/internal/scheduler"
	"listing-snapshot-api/internal/service"
	"listing-snapshot-api/pkg/response"
)

// AdminHandler handles admin-related HTTP requests.
type AdminHandler struct {
	listingService *service.ListingService
	scheduler      *scheduler.Scheduler
	dbType         string // sqlite, postgres, mysql or mongodb
	startTime      time.Time
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(listingService *service.ListingService, s *scheduler.Scheduler, dbType string) *AdminHandler {
	return &AdminHandler{
		listingService: listingService,
		scheduler:      s,
		dbType:         dbType,
		startTime:      time.Now(),
	}
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := make(map[string]interface{})

	// System info
	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)
	stats["db_type"] = h.dbType

	// Memory stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]interface{}{
		"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
		"heap_inuse_mb": float64(memStats.HeapInuse) / 1024 / 1024,
		"num_gc":        memStats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	// Queue stats
	if h.scheduler != nil {
		queueStats := map[string]interface{}{"status": "connected"}
		counts, err := h.scheduler.Counts(ctx)
		if err == nil {
			queueStats["jobs"] = counts
			if paused, err := h.scheduler.IsPaused(ctx); err == nil {
				queueStats["paused"] = paused
			}
		} else {
			queueStats = map[string]interface{}{"status": "error", "error": err.Error()}
		}
		stats["queue"] = queueStats
	}

	// Database stats
	dbStats, err := h.listingService.Stats(ctx)
	if err == nil {
		dbStats["status"] = "connected"
		stats["database"] = dbStats
	} else {
		stats["database"] = map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		}
	}

	stats["runtime"] = map[string]interface{}{
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
	}

	response.OK(w, stats)
}
