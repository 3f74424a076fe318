package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"facecraft/internal/domain"
	"facecraft/internal/http-server/handler/health/dto"

	"github.com/wb-go/wbf/zlog"
)

const checkTimeout = 2 * time.Second

// Check is one readiness probe. Fn returns nil when the dependency is usable.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

type Info struct {
	Device    string
	AsyncJobs bool
	Models    []dto.ModelStatus
}

type HealthHandler struct {
	pipeline pipeline
	checks   []Check
	info     Info
	started  time.Time
	now      func() time.Time
	logger   *zlog.Zerolog
}

func NewHealthHandler(p pipeline, info Info, checks []Check, logger *zlog.Zerolog) *HealthHandler {
	return &HealthHandler{
		pipeline: p,
		checks:   checks,
		info:     info,
		started:  time.Now(),
		now:      time.Now,
		logger:   logger,
	}
}

// Health is the liveness probe.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, dto.HealthResponse{Status: "ok"})
}

// Ready runs every check and answers 503 if any of them fails.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	resp := dto.ReadyResponse{Ready: true, Checks: make([]dto.CheckResult, 0, len(h.checks))}
	for _, c := range h.checks {
		res := dto.CheckResult{Name: c.Name, OK: true}
		if err := c.Fn(ctx); err != nil {
			res.OK = false
			res.Error = err.Error()
			resp.Ready = false
			h.logger.Warn().Err(err).Str("check", c.Name).Msg("Readiness check failed")
		}
		resp.Checks = append(resp.Checks, res)
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	h.respondJSON(w, status, resp)
}

func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	caps := h.pipeline.Capabilities()
	snap := h.pipeline.Stats()

	status := "healthy"
	for _, m := range h.info.Models {
		if m.Required && !m.Loaded {
			status = "degraded"
		}
	}

	h.respondJSON(w, http.StatusOK, dto.StatusResponse{
		Status:        status,
		Version:       domain.Version,
		UptimeSeconds: h.now().Sub(h.started).Seconds(),
		Device:        h.info.Device,
		Capabilities: dto.CapabilitiesResponse{
			FaceEnhancement: caps.FaceEnhancement,
			Alignment:       caps.Alignment,
			Annotation:      caps.Annotation,
			AsyncJobs:       h.info.AsyncJobs,
		},
		Statistics: dto.StatisticsResponse{Snapshot: snap, AverageTimeMS: snap.AverageMillis()},
		Models:     h.info.Models,
	})
}

// ResetStatistics clears the processing counters and returns their last values.
func (h *HealthHandler) ResetStatistics(w http.ResponseWriter, r *http.Request) {
	snap := h.pipeline.ResetStats()
	h.logger.Info().Int64("total_processed", snap.Total).Msg("Statistics reset")
	h.respondJSON(w, http.StatusOK, dto.StatisticsResponse{Snapshot: snap, AverageTimeMS: snap.AverageMillis()})
}

func (h *HealthHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}
