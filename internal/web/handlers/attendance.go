package handlers

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/attendance"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/constants"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/database"
)

// AttendanceHandler handles report endpoints
type AttendanceHandler struct {
	service *attendance.Service
}

// NewAttendanceHandler creates a new attendance handler
func NewAttendanceHandler(svc *attendance.Service) *AttendanceHandler {
	return &AttendanceHandler{service: svc}
}

// AttendanceRecord represents a ledger entry in API responses
type AttendanceRecord struct {
	ID          string          `json:"id"`
	StudentID   string          `json:"student_id"`
	StudentName string          `json:"student_name"`
	RollNumber  string          `json:"roll_number"`
	ClassName   string          `json:"class_name"`
	Date        string          `json:"date"`
	Timestamp   time.Time       `json:"timestamp"`
	Status      database.Status `json:"status"`
	Confidence  float64         `json:"confidence"`
	Distance    float64         `json:"distance"`
}

func recordToResponse(rec *database.AttendanceRecord, loc *time.Location) AttendanceRecord {
	return AttendanceRecord{
		ID:          rec.ID,
		StudentID:   rec.StudentID,
		StudentName: rec.StudentName,
		RollNumber:  rec.RollNumber,
		ClassName:   rec.ClassName,
		Date:        rec.Date,
		Timestamp:   rec.Timestamp.In(loc),
		Status:      rec.Status,
		Confidence:  rec.Confidence,
		Distance:    rec.Distance,
	}
}

// AttendanceListResponse is the JSON report body
type AttendanceListResponse struct {
	Records []AttendanceRecord `json:"records"`
	Count   int                `json:"count"`
}

// List returns attendance records as JSON, or as CSV with format=csv.
// Without any date filter the current day is reported.
func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	q := attendance.ReportQuery{
		Date:      qs.Get("date"),
		From:      qs.Get("from"),
		To:        qs.Get("to"),
		StudentID: qs.Get("student_id"),
		ClassName: qs.Get("class"),
		Search:    qs.Get("q"),
	}
	if q.Date == "" && q.From == "" && q.To == "" {
		q.Date = h.service.Today()
	}
	if err := q.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, reasonInvalidRequest, err.Error())
		return
	}

	if qs.Get("format") == "csv" {
		h.writeCSV(w, r, q)
		return
	}

	records, err := attendance.Collect(h.service.Report(r.Context(), q))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	loc := h.service.Location()
	out := AttendanceListResponse{Records: make([]AttendanceRecord, len(records)), Count: len(records)}
	for i := range records {
		out.Records[i] = recordToResponse(&records[i], loc)
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *AttendanceHandler) writeCSV(w http.ResponseWriter, r *http.Request, q attendance.ReportQuery) {
	records, err := attendance.Collect(h.service.Report(r.Context(), q))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	name := q.Date
	if name == "" {
		name = q.From + "_" + q.To
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="attendance_report_%s.csv"`, name))
	w.WriteHeader(http.StatusOK)

	seq := func(yield func(database.AttendanceRecord, error) bool) {
		for _, rec := range records {
			if !yield(rec, nil) {
				return
			}
		}
	}
	if err := attendance.WriteCSV(w, seq, h.service.Location()); err != nil {
		log.Printf("writing CSV report: %v", err)
	}
}

// SummaryResponse is the dashboard summary body
type SummaryResponse struct {
	Today attendance.DaySummary   `json:"today"`
	Days  []attendance.DaySummary `json:"days"`
}

// Summary returns per-day totals for the days ending at ?date (default today).
func (h *AttendanceHandler) Summary(w http.ResponseWriter, r *http.Request) {
	days := constants.DefaultSummaryDays
	if s := r.URL.Query().Get("days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > constants.MaxSummaryDays {
			respondError(w, http.StatusBadRequest, reasonInvalidRequest,
				fmt.Sprintf("days must be between 1 and %d", constants.MaxSummaryDays))
			return
		}
		days = n
	}

	date := r.URL.Query().Get("date")
	if err := (attendance.ReportQuery{Date: date}).Validate(); err != nil {
		respondError(w, http.StatusBadRequest, reasonInvalidRequest, err.Error())
		return
	}

	summary, err := h.service.Summary(r.Context(), date, days)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, SummaryResponse{Today: summary[len(summary)-1], Days: summary})
}
