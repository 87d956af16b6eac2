package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrScheduleNotFound = errors.New("schedule not found")

// Schedule is one recurring announcement.
type Schedule struct {
	ID        int64      `json:"id"`
	CronExpr  string     `json:"cronExpr"`
	Message   string     `json:"message"`
	Enabled   bool       `json:"enabled"`
	CreatedBy string     `json:"createdBy"`
	CreatedAt time.Time  `json:"createdAt"`
	LastRun   *time.Time `json:"lastRun,omitempty"`
	NextRun   *time.Time `json:"nextRun,omitempty"`
}

// InsertSchedule stores a new announcement schedule. The caller
// computes nextRun from the cron expression; persistence does not parse
// cron.
func (s *Store) InsertSchedule(ctx context.Context, cronExpr, message, createdBy string, nextRun time.Time) (Schedule, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (cron_expr, message, created_by, next_run) VALUES (?, ?, ?, ?);
	`, cronExpr, message, createdBy, nextRun.UTC())
	if err != nil {
		return Schedule{}, fmt.Errorf("insert schedule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Schedule{}, fmt.Errorf("schedule id: %w", err)
	}
	return s.ScheduleByID(ctx, id)
}

// ScheduleByID returns one schedule.
func (s *Store) ScheduleByID(ctx context.Context, id int64) (Schedule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, cron_expr, message, enabled, created_by, created_at, last_run, next_run
		FROM schedules WHERE id = ?;
	`, id)
	sched, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Schedule{}, ErrScheduleNotFound
	}
	return sched, err
}

// ListSchedules returns all schedules ordered by creation.
func (s *Store) ListSchedules(ctx context.Context) ([]Schedule, error) {
	return s.querySchedules(ctx, `
		SELECT id, cron_expr, message, enabled, created_by, created_at, last_run, next_run
		FROM schedules ORDER BY id;
	`)
}

// DueSchedules returns the enabled schedules whose next run is at or
// before now.
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]Schedule, error) {
	return s.querySchedules(ctx, `
		SELECT id, cron_expr, message, enabled, created_by, created_at, last_run, next_run
		FROM schedules
		WHERE enabled = 1 AND next_run IS NOT NULL AND next_run <= ?
		ORDER BY id;
	`, now.UTC())
}

// SetScheduleEnabled flips a schedule on or off.
func (s *Store) SetScheduleEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET enabled = ? WHERE id = ?;
	`, boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// SetScheduleNextRun rearms a schedule, typically after re-enabling it
// with a stale next_run.
func (s *Store) SetScheduleNextRun(ctx context.Context, id int64, nextRun time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET next_run = ? WHERE id = ?;
	`, nextRun.UTC(), id)
	if err != nil {
		return fmt.Errorf("update schedule next run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// DeleteSchedule removes a schedule.
func (s *Store) DeleteSchedule(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// MarkScheduleRun records that the schedule just fired and when it
// fires next.
func (s *Store) MarkScheduleRun(ctx context.Context, id int64, at, nextRun time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET last_run = ?, next_run = ? WHERE id = ?;
	`, at.UTC(), nextRun.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark schedule run: %w", err)
	}
	return nil
}

func (s *Store) querySchedules(ctx context.Context, query string, args ...any) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (Schedule, error) {
	var sched Schedule
	var enabled int
	var lastRun, nextRun sql.NullTime
	err := row.Scan(&sched.ID, &sched.CronExpr, &sched.Message, &enabled, &sched.CreatedBy, &sched.CreatedAt, &lastRun, &nextRun)
	if err != nil {
		return Schedule{}, err
	}
	sched.Enabled = enabled != 0
	if lastRun.Valid {
		t := lastRun.Time
		sched.LastRun = &t
	}
	if nextRun.Valid {
		t := nextRun.Time
		sched.NextRun = &t
	}
	return sched, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
