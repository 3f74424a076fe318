package dto

import "facecraft/internal/stats"

type HealthResponse struct {
	Status string `json:"status"`
}

type CheckResult struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type ReadyResponse struct {
	Ready  bool          `json:"ready"`
	Checks []CheckResult `json:"checks"`
}

type ModelStatus struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Loaded   bool   `json:"loaded"`
	Error    string `json:"error,omitempty"`
}

type CapabilitiesResponse struct {
	FaceEnhancement bool `json:"face_enhancement"`
	Alignment       bool `json:"alignment"`
	Annotation      bool `json:"annotation"`
	AsyncJobs       bool `json:"async_jobs"`
}

type StatisticsResponse struct {
	stats.Snapshot
	AverageTimeMS float64 `json:"average_time_ms"`
}

type StatusResponse struct {
	Status        string               `json:"status"`
	Version       string               `json:"version"`
	UptimeSeconds float64              `json:"uptime_seconds"`
	Device        string               `json:"device"`
	Capabilities  CapabilitiesResponse `json:"capabilities"`
	Statistics    StatisticsResponse   `json:"statistics"`
	Models        []ModelStatus        `json:"models"`
}
