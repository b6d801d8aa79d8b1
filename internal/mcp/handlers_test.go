package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/attendance"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/database/mock"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/extractor"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/facematch"
)

var faces = map[string][]float32{
	"ana":  {1, 0, 0},
	"jiri": {0, 1, 0},
}

func testHandlers(t *testing.T) (*Handlers, *mock.MockBackend) {
	t.Helper()
	m, err := facematch.NewMatcher(facematch.Config{Metric: facematch.MetricEuclidean, Threshold: 0.1, MaxDistance: 2})
	if err != nil {
		t.Fatal(err)
	}
	ex := extractor.Func(func(ctx context.Context, image []byte) ([]float32, error) {
		if emb, ok := faces[string(image)]; ok {
			return emb, nil
		}
		return nil, &extractor.Error{Reason: extractor.ReasonNoFace}
	})
	backend := mock.NewMockBackend()
	svc := attendance.NewService(backend, ex, m, attendance.Options{
		Location:  time.UTC,
		LateAfter: 8 * time.Hour,
		Now:       func() time.Time { return time.Date(2026, 5, 12, 10, 0, 0, 0, time.UTC) },
	})

	backend.StudentStore.Add("Ana Šťastná", "7B", "11", faces["ana"])
	backend.StudentStore.Add("Jiří Novák", "8A", "12", faces["jiri"])
	for _, mark := range []struct {
		image string
		at    time.Time
	}{
		{"ana", time.Date(2026, 5, 11, 7, 50, 0, 0, time.UTC)},
		{"ana", time.Date(2026, 5, 12, 7, 55, 0, 0, time.UTC)},
		{"jiri", time.Date(2026, 5, 12, 8, 20, 0, 0, time.UTC)},
	} {
		if _, err := svc.Verify(context.Background(), []byte(mark.image), mark.at); err != nil {
			t.Fatal(err)
		}
	}
	return &Handlers{service: svc}, backend
}

func call(t *testing.T, fn func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any, out any) *mcp.CallToolResult {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	result, err := fn(context.Background(), req)
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if result.IsError || out == nil {
		return result
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", result.Content[0])
	}
	if err := json.Unmarshal([]byte(text.Text), out); err != nil {
		t.Fatalf("invalid JSON result: %v", err)
	}
	return result
}

func TestListStudents(t *testing.T) {
	h, _ := testHandlers(t)

	tests := []struct {
		name      string
		args      map[string]any
		wantCount int
	}{
		{"all", nil, 2},
		{"by class", map[string]any{"class": "8A"}, 1},
		{"accent insensitive search", map[string]any{"query": "stastna"}, 1},
		{"roll search", map[string]any{"query": "12"}, 1},
		{"no match", map[string]any{"query": "nobody"}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var resp struct {
				Students []studentEntry `json:"students"`
				Count    int            `json:"count"`
			}
			call(t, h.ListStudents, tc.args, &resp)
			if resp.Count != tc.wantCount || len(resp.Students) != tc.wantCount {
				t.Errorf("expected %d students, got %d", tc.wantCount, resp.Count)
			}
		})
	}
}

func TestListStudents_StorageError(t *testing.T) {
	h, backend := testHandlers(t)
	backend.StudentStore.ListError = context.DeadlineExceeded
	result := call(t, h.ListStudents, nil, nil)
	if !result.IsError {
		t.Error("expected tool error")
	}
}

func TestQueryAttendance(t *testing.T) {
	h, _ := testHandlers(t)

	var today struct {
		Records []recordEntry `json:"records"`
		Count   int           `json:"count"`
	}
	call(t, h.QueryAttendance, nil, &today)
	if today.Count != 2 {
		t.Fatalf("expected 2 records today, got %d", today.Count)
	}
	if today.Records[1].Name != "Jiří Novák" || today.Records[1].Status != "late" || today.Records[1].Time != "08:20:00" {
		t.Errorf("unexpected record %+v", today.Records[1])
	}

	var ranged struct {
		Count int `json:"count"`
	}
	call(t, h.QueryAttendance, map[string]any{"from": "2026-05-01", "to": "2026-05-31", "query": "ana"}, &ranged)
	if ranged.Count != 2 {
		t.Errorf("expected 2 records for Ana, got %d", ranged.Count)
	}

	result := call(t, h.QueryAttendance, map[string]any{"date": "12.5.2026"}, nil)
	if !result.IsError {
		t.Error("expected tool error for invalid date")
	}
}

func TestAttendanceSummary(t *testing.T) {
	h, _ := testHandlers(t)

	var resp struct {
		Days []attendance.DaySummary `json:"days"`
	}
	call(t, h.AttendanceSummary, map[string]any{"days": 2}, &resp)
	want := []attendance.DaySummary{
		{Date: "2026-05-11", Total: 2, Present: 1, Absent: 1, Rate: 50},
		{Date: "2026-05-12", Total: 2, Present: 1, Late: 1, Rate: 100},
	}
	if len(resp.Days) != len(want) {
		t.Fatalf("expected %d days, got %d", len(want), len(resp.Days))
	}
	for i := range want {
		if resp.Days[i] != want[i] {
			t.Errorf("day %d: expected %+v, got %+v", i, want[i], resp.Days[i])
		}
	}

	for _, args := range []map[string]any{{"days": 0}, {"days": 5000}, {"date": "yesterday"}} {
		if result := call(t, h.AttendanceSummary, args, nil); !result.IsError {
			t.Errorf("expected tool error for %v", args)
		}
	}
}

func TestNewServer_RegistersTools(t *testing.T) {
	h, _ := testHandlers(t)
	server := NewServer("attendance", "test", h.service)
	tools := server.ListTools()
	for _, name := range []string{"list_students", "query_attendance", "attendance_summary"} {
		if _, ok := tools[name]; !ok {
			t.Errorf("tool %s not registered", name)
		}
	}
}
