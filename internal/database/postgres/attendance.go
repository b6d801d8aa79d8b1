package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/database"
)

// AttendanceRepository provides the PostgreSQL ledger.
type AttendanceRepository struct {
	pool *Pool
}

const attendanceColumns = `id, student_id, student_name, roll_number, class_name,
	to_char(date, 'YYYY-MM-DD'), captured_at, status, confidence, distance`

func scanRecord(scanner interface{ Scan(...any) error }) (database.AttendanceRecord, error) {
	var (
		rec    database.AttendanceRecord
		status string
	)
	err := scanner.Scan(&rec.ID, &rec.StudentID, &rec.StudentName, &rec.RollNumber, &rec.ClassName,
		&rec.Date, &rec.Timestamp, &status, &rec.Confidence, &rec.Distance)
	if err != nil {
		return rec, err
	}
	rec.Timestamp = rec.Timestamp.UTC()
	rec.Status = database.Status(status)
	return rec, nil
}

// RecordIfAbsent inserts rec unless (student, date) already exists.
func (r *AttendanceRepository) RecordIfAbsent(ctx context.Context, rec database.AttendanceRecord) (database.AttendanceRecord, bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Timestamp = rec.Timestamp.UTC().Truncate(time.Microsecond)

	var id string
	err := r.pool.db.QueryRowContext(ctx, `
		INSERT INTO attendance (id, student_id, student_name, roll_number, class_name, date, captured_at, status, confidence, distance)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (student_id, date) DO NOTHING
		RETURNING id
	`, rec.ID, rec.StudentID, rec.StudentName, rec.RollNumber, rec.ClassName,
		rec.Date, rec.Timestamp, string(rec.Status), rec.Confidence, rec.Distance).Scan(&id)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return database.AttendanceRecord{}, false, classify("record attendance", err)
	}

	existing, err := scanRecord(r.pool.db.QueryRowContext(ctx,
		"SELECT "+attendanceColumns+" FROM attendance WHERE student_id = $1 AND date = $2", rec.StudentID, rec.Date))
	if err != nil {
		return database.AttendanceRecord{}, false, classify("load existing attendance", err)
	}
	return existing, false, nil
}

// Query yields records ordered by capture time.
func (r *AttendanceRepository) Query(ctx context.Context, q database.AttendanceQuery) iter.Seq2[database.AttendanceRecord, error] {
	return func(yield func(database.AttendanceRecord, error) bool) {
		if q.StudentID != "" && uuid.Validate(q.StudentID) != nil {
			return
		}
		where, args := q.Where(func(n int) string { return "$" + strconv.Itoa(n) })
		rows, err := r.pool.db.QueryContext(ctx,
			"SELECT "+attendanceColumns+" FROM attendance"+where+" ORDER BY captured_at, id", args...)
		if err != nil {
			yield(database.AttendanceRecord{}, classify("query attendance", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				yield(database.AttendanceRecord{}, fmt.Errorf("scan attendance: %w", err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(database.AttendanceRecord{}, classify("iterate attendance", err))
		}
	}
}
