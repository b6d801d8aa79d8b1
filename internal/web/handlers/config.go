package handlers

import (
	"fmt"
	"net/http"

	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/config"
)

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	config *config.Config
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
	}
}

// ConfigResponse represents the configuration response
type ConfigResponse struct {
	Matching    MatchingInfo   `json:"matching"`
	Attendance  AttendanceInfo `json:"attendance"`
	Embedding   EmbeddingInfo  `json:"embedding"`
	AuthEnabled bool           `json:"auth_enabled"`
}

// MatchingInfo describes the matcher calibration
type MatchingInfo struct {
	Metric      string  `json:"metric"`
	Threshold   float64 `json:"threshold"`
	MaxDistance float64 `json:"max_distance"`
	Epsilon     float64 `json:"epsilon"`
	Normalize   bool    `json:"normalize"`
	Index       string  `json:"index"`
}

// AttendanceInfo describes date and status rules
type AttendanceInfo struct {
	Timezone  string `json:"timezone"`
	LateAfter string `json:"late_after,omitempty"`
}

// EmbeddingInfo describes the extractor contract
type EmbeddingInfo struct {
	Dim         int     `json:"dim,omitempty"`
	MinDetScore float64 `json:"min_det_score"`
}

// Get returns the effective read-only configuration
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	m := h.config.Matching
	index := m.Index
	if index == "" {
		index = "exact"
	}

	tz := h.config.Attendance.Timezone
	if loc, err := h.config.Attendance.Location(); err == nil {
		tz = loc.String()
	}
	var lateAfter string
	if d := h.config.Attendance.LateAfter; d > 0 {
		lateAfter = formatClock(int(d.Minutes()))
	}

	respondJSON(w, http.StatusOK, ConfigResponse{
		Matching: MatchingInfo{
			Metric:      m.Metric,
			Threshold:   m.Threshold,
			MaxDistance: m.MaxDistance,
			Epsilon:     m.Epsilon,
			Normalize:   m.Normalize,
			Index:       index,
		},
		Attendance: AttendanceInfo{Timezone: tz, LateAfter: lateAfter},
		Embedding: EmbeddingInfo{
			Dim:         h.config.Embedding.Dim,
			MinDetScore: h.config.Embedding.MinDetScore,
		},
		AuthEnabled: h.config.Auth.JWTSecret != "",
	})
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
