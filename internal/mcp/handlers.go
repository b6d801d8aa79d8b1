package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/attendance"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/constants"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/database"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/facematch"
)

// Handlers contains the handler functions for all MCP tools
type Handlers struct {
	service *attendance.Service
}

type studentEntry struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	RollNumber string `json:"roll_number"`
	ClassName  string `json:"class_name"`
	References int    `json:"references"`
}

type recordEntry struct {
	Date       string          `json:"date"`
	Time       string          `json:"time"`
	StudentID  string          `json:"student_id"`
	Name       string          `json:"name"`
	RollNumber string          `json:"roll_number"`
	ClassName  string          `json:"class_name"`
	Status     database.Status `json:"status"`
	Confidence float64         `json:"confidence"`
}

// ListStudents handles the list_students tool
func (h *Handlers) ListStudents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	class := request.GetString("class", "")
	query := request.GetString("query", "")

	students, err := h.service.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list students: %v", err)), nil
	}

	out := make([]studentEntry, 0, len(students))
	for _, st := range students {
		if class != "" && st.ClassName != class {
			continue
		}
		if !facematch.MatchesSearch(query, st.Name, st.RollNumber) {
			continue
		}
		out = append(out, studentEntry{
			ID:         st.ID,
			Name:       st.Name,
			RollNumber: st.RollNumber,
			ClassName:  st.ClassName,
			References: len(st.Embeddings),
		})
	}

	return jsonResult(map[string]any{
		"students": out,
		"count":    len(out),
	})
}

// QueryAttendance handles the query_attendance tool
func (h *Handlers) QueryAttendance(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := attendance.ReportQuery{
		Date:      request.GetString("date", ""),
		From:      request.GetString("from", ""),
		To:        request.GetString("to", ""),
		StudentID: request.GetString("student_id", ""),
		ClassName: request.GetString("class", ""),
		Search:    request.GetString("query", ""),
	}
	if q.Date == "" && q.From == "" && q.To == "" {
		q.Date = h.service.Today()
	}
	if err := q.Validate(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	loc := h.service.Location()
	out := []recordEntry{}
	for rec, err := range h.service.Report(ctx, q) {
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to query attendance: %v", err)), nil
		}
		out = append(out, recordEntry{
			Date:       rec.Date,
			Time:       rec.Timestamp.In(loc).Format(time.TimeOnly),
			StudentID:  rec.StudentID,
			Name:       rec.StudentName,
			RollNumber: rec.RollNumber,
			ClassName:  rec.ClassName,
			Status:     rec.Status,
			Confidence: rec.Confidence,
		})
	}

	return jsonResult(map[string]any{
		"records": out,
		"count":   len(out),
	})
}

// AttendanceSummary handles the attendance_summary tool
func (h *Handlers) AttendanceSummary(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	date := request.GetString("date", "")
	days := request.GetInt("days", constants.DefaultSummaryDays)
	if days < 1 || days > constants.MaxSummaryDays {
		return mcp.NewToolResultError(fmt.Sprintf("days must be between 1 and %d", constants.MaxSummaryDays)), nil
	}
	if err := (attendance.ReportQuery{Date: date}).Validate(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	summary, err := h.service.Summary(ctx, date, days)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to summarize attendance: %v", err)), nil
	}
	return jsonResult(map[string]any{"days": summary})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	responseJSON, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(responseJSON)), nil
}
