package handlers

import (
	"math"
	"net/http"
	"time"

	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/attendance"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/facematch"
)

// VerifyHandler handles verification attempts
type VerifyHandler struct {
	service *attendance.Service
}

// NewVerifyHandler creates a new verify handler
func NewVerifyHandler(svc *attendance.Service) *VerifyHandler {
	return &VerifyHandler{service: svc}
}

// VerifyResponse is the outcome of one verification attempt.
type VerifyResponse struct {
	Decision      facematch.Outcome  `json:"decision"`
	StudentID     string             `json:"student_id,omitempty"`
	Confidence    *float64           `json:"confidence,omitempty"`
	Distance      *float64           `json:"distance,omitempty"`
	AlreadyMarked bool               `json:"already_marked"`
	Record        *AttendanceRecord  `json:"record,omitempty"`
	Reason        string             `json:"reason,omitempty"`
	Candidates    []string           `json:"candidates,omitempty"`
	Evaluated     int                `json:"evaluated"`
	Path          []attendance.State `json:"path"`
}

func verifyToResponse(res *attendance.Result, loc *time.Location) VerifyResponse {
	d := res.Decision
	out := VerifyResponse{
		Decision:      d.Outcome,
		StudentID:     d.StudentID,
		AlreadyMarked: res.AlreadyMarked,
		Reason:        res.Reason,
		Candidates:    d.Tied,
		Evaluated:     d.Evaluated,
		Path:          res.Path,
	}
	if !math.IsInf(d.Distance, 0) && !math.IsNaN(d.Distance) {
		dist := d.Distance
		out.Distance = &dist
	}
	if d.Outcome == facematch.OutcomeMatched {
		conf := d.Confidence
		out.Confidence = &conf
	}
	if res.Record != nil {
		rec := recordToResponse(res.Record, loc)
		out.Record = &rec
	}
	return out
}

// Verify matches the uploaded image and marks the student present.
// Rejections (no match, ambiguous) are 200 responses; extraction and
// storage failures are errors.
func (h *VerifyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	image, err := readImage(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, reasonInvalidRequest, err.Error())
		return
	}

	var capturedAt time.Time
	if s := r.FormValue("captured_at"); s != "" {
		if capturedAt, err = time.Parse(time.RFC3339, s); err != nil {
			respondError(w, http.StatusBadRequest, reasonInvalidRequest, "captured_at must be RFC3339")
			return
		}
	}

	res, err := h.service.Verify(r.Context(), image, capturedAt)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, verifyToResponse(res, h.service.Location()))
}
