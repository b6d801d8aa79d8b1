package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/database"
)

// AttendanceRepository is the SQL Ledger. The UNIQUE (student_id, date)
// constraint makes RecordIfAbsent atomic across connections.
type AttendanceRepository struct {
	s *DB
}

const attendanceColumns = "id, student_id, student_name, roll_number, class_name, date, captured_at, status, confidence, distance"

func scanRecord(row rowScanner) (database.AttendanceRecord, error) {
	var (
		rec      database.AttendanceRecord
		captured int64
		status   string
	)
	err := row.Scan(&rec.ID, &rec.StudentID, &rec.StudentName, &rec.RollNumber, &rec.ClassName,
		&rec.Date, &captured, &status, &rec.Confidence, &rec.Distance)
	if err != nil {
		return rec, err
	}
	rec.Timestamp = fromUnixNano(captured)
	rec.Status = database.Status(status)
	return rec, nil
}

// RecordIfAbsent inserts rec unless (student, date) is already recorded.
func (r *AttendanceRepository) RecordIfAbsent(ctx context.Context, rec database.AttendanceRecord) (database.AttendanceRecord, bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Timestamp = fromUnixNano(unixNano(rec.Timestamp))

	res, err := r.s.db.ExecContext(ctx, r.s.d.insertAttendance,
		rec.ID, rec.StudentID, rec.StudentName, rec.RollNumber, rec.ClassName,
		rec.Date, unixNano(rec.Timestamp), string(rec.Status), rec.Confidence, rec.Distance)
	if err != nil {
		return database.AttendanceRecord{}, false, r.s.wrap("record attendance", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return database.AttendanceRecord{}, false, r.s.wrap("record attendance", err)
	}
	if n == 1 {
		return rec, true, nil
	}

	existing, err := scanRecord(r.s.db.QueryRowContext(ctx,
		"SELECT "+attendanceColumns+" FROM attendance WHERE student_id = ? AND date = ?", rec.StudentID, rec.Date))
	if errors.Is(err, sql.ErrNoRows) {
		return database.AttendanceRecord{}, false, fmt.Errorf("record attendance: conflicting row for %s on %s vanished", rec.StudentID, rec.Date)
	}
	if err != nil {
		return database.AttendanceRecord{}, false, r.s.wrap("load existing attendance", err)
	}
	return existing, false, nil
}

// Query yields records ordered by capture time. Rows are streamed, so the
// loop body must not issue other queries on a single-connection pool.
func (r *AttendanceRepository) Query(ctx context.Context, q database.AttendanceQuery) iter.Seq2[database.AttendanceRecord, error] {
	return func(yield func(database.AttendanceRecord, error) bool) {
		where, args := q.Where(func(int) string { return "?" })
		rows, err := r.s.db.QueryContext(ctx,
			"SELECT "+attendanceColumns+" FROM attendance"+where+" ORDER BY captured_at, id", args...)
		if err != nil {
			yield(database.AttendanceRecord{}, r.s.wrap("query attendance", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				yield(database.AttendanceRecord{}, r.s.wrap("scan attendance", err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(database.AttendanceRecord{}, r.s.wrap("iterate attendance", err))
		}
	}
}
