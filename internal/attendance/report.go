package attendance

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/database"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/facematch"
)

// ReportQuery filters attendance reports. Date, when set, overrides From and To.
type ReportQuery struct {
	Date      string
	From      string
	To        string
	StudentID string
	ClassName string
	Search    string // name or roll number, case and accent insensitive
}

// Validate checks the date fields.
func (q ReportQuery) Validate() error {
	for _, d := range []string{q.Date, q.From, q.To} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(database.DateLayout, d); err != nil {
			return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", d)
		}
	}
	if q.Date == "" && q.From != "" && q.To != "" && q.From > q.To {
		return fmt.Errorf("from %s is after to %s", q.From, q.To)
	}
	return nil
}

func (q ReportQuery) ledgerQuery() database.AttendanceQuery {
	lq := database.AttendanceQuery{From: q.From, To: q.To, StudentID: q.StudentID, ClassName: q.ClassName}
	if q.Date != "" {
		lq.From, lq.To = q.Date, q.Date
	}
	return lq
}

// Report yields ledger records matching q, oldest first. Each call re-reads the ledger.
func (s *Service) Report(ctx context.Context, q ReportQuery) iter.Seq2[database.AttendanceRecord, error] {
	search := strings.TrimSpace(q.Search)
	return func(yield func(database.AttendanceRecord, error) bool) {
		for rec, err := range s.ledger.Query(ctx, q.ledgerQuery()) {
			if err != nil {
				yield(database.AttendanceRecord{}, err)
				return
			}
			if search != "" && !facematch.MatchesSearch(search, rec.StudentName, rec.RollNumber) {
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Collect drains a record sequence.
func Collect(seq iter.Seq2[database.AttendanceRecord, error]) ([]database.AttendanceRecord, error) {
	var out []database.AttendanceRecord
	for rec, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// DaySummary aggregates one attendance date.
type DaySummary struct {
	Date    string  `json:"date"`
	Total   int     `json:"total_students"`
	Present int     `json:"present"`
	Late    int     `json:"late"`
	Absent  int     `json:"absent"`
	Rate    float64 `json:"attendance_rate"` // percent of students marked
}

// Summary returns one entry per day for the days ending at date (inclusive),
// oldest first. Absent is derived from the current number of active students.
func (s *Service) Summary(ctx context.Context, date string, days int) ([]DaySummary, error) {
	if date == "" {
		date = s.Today()
	}
	end, err := time.ParseInLocation(database.DateLayout, date, s.loc)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", date)
	}
	days = max(1, days)

	students, err := s.students.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	total := len(students)

	out := make([]DaySummary, days)
	index := make(map[string]int, days)
	for i := range days {
		d := end.AddDate(0, 0, i-days+1).Format(database.DateLayout)
		out[i] = DaySummary{Date: d, Total: total}
		index[d] = i
	}

	q := database.AttendanceQuery{From: out[0].Date, To: out[days-1].Date}
	for rec, err := range s.ledger.Query(ctx, q) {
		if err != nil {
			return nil, fmt.Errorf("failed to query attendance: %w", err)
		}
		i, ok := index[rec.Date]
		if !ok {
			continue
		}
		switch rec.Status {
		case database.StatusLate:
			out[i].Late++
		default:
			out[i].Present++
		}
	}

	for i := range out {
		marked := out[i].Present + out[i].Late
		out[i].Absent = max(0, total-marked)
		if total > 0 {
			out[i].Rate = min(100, float64(marked)*100/float64(total))
		}
	}
	return out, nil
}

var csvHeader = []string{"Date", "Name", "Roll No", "Time", "Status", "Confidence"}

// WriteCSV writes records as a delimited report. Times are rendered in loc.
func WriteCSV(w io.Writer, records iter.Seq2[database.AttendanceRecord, error], loc *time.Location) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for rec, err := range records {
		if err != nil {
			return err
		}
		row := []string{
			rec.Date,
			rec.StudentName,
			rec.RollNumber,
			rec.Timestamp.In(loc).Format("15:04:05"),
			statusLabel(rec.Status),
			fmt.Sprintf("%.1f%%", rec.Confidence*100),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func statusLabel(s database.Status) string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}
