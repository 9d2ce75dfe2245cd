// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package job

import (
	"context"
	"database/sql"
)

// SQLStore persists jobs and reports via the shared *sql.DB pool. The
// succeeded transition writes the report row and the job row in one
// transaction.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps db, creating the jobs and reports tables if absent.
func NewSQLStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	const ddl = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id          TEXT PRIMARY KEY,
	inspection_id   TEXT NOT NULL,
	status          TEXT NOT NULL,
	completed       INTEGER NOT NULL DEFAULT 0,
	total           INTEGER NOT NULL DEFAULT 0,
	report_id       TEXT,
	error           TEXT,
	created_at      TIMESTAMP NOT NULL,
	finished_at     TIMESTAMP,
	owner_client_id TEXT NOT NULL,
	thread_id       TEXT
);
CREATE TABLE IF NOT EXISTS reports (
	report_id     TEXT PRIMARY KEY,
	inspection_id TEXT NOT NULL,
	content       TEXT NOT NULL,
	summary       TEXT,
	created_at    TIMESTAMP NOT NULL
)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) CreateJob(ctx context.Context, j Job) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO jobs (job_id, inspection_id, status, completed, total, report_id, error, created_at, finished_at, owner_client_id, thread_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.JobID, j.InspectionID, string(j.Status), j.Progress.Completed, j.Progress.Total,
		nullable(j.ReportID), nullable(j.Error), j.CreatedAt, j.FinishedAt, j.OwnerClientID, nullable(j.ThreadID))
	return err
}

func (s *SQLStore) GetJob(ctx context.Context, jobID string) (Job, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT job_id, inspection_id, status, completed, total, report_id, error, created_at, finished_at, owner_client_id, thread_id
FROM jobs WHERE job_id = ?`, jobID)
	return scanJob(row)
}

func (s *SQLStore) UpdateJob(ctx context.Context, j Job) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE jobs SET status = ?, completed = ?, total = ?, report_id = ?, error = ?, finished_at = ?, thread_id = ?
WHERE job_id = ?`,
		string(j.Status), j.Progress.Completed, j.Progress.Total,
		nullable(j.ReportID), nullable(j.Error), j.FinishedAt, nullable(j.ThreadID), j.JobID)
	return err
}

func (s *SQLStore) SetProgress(ctx context.Context, jobID string, p Progress) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET completed = ?, total = ? WHERE job_id = ?`,
		p.Completed, p.Total, jobID)
	return err
}

func (s *SQLStore) ListJobs(ctx context.Context) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT job_id, inspection_id, status, completed, total, report_id, error, created_at, finished_at, owner_client_id, thread_id
FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, _, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *SQLStore) Succeed(ctx context.Context, j Job, r Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO reports (report_id, inspection_id, content, summary, created_at)
VALUES (?, ?, ?, ?, ?)`,
		r.ReportID, r.InspectionID, r.Content, r.Summary, r.CreatedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE jobs SET status = ?, report_id = ?, completed = ?, total = ?, finished_at = ? WHERE job_id = ?`,
		string(StatusSucceeded), r.ReportID, j.Progress.Completed, j.Progress.Total, j.FinishedAt, j.JobID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) GetReport(ctx context.Context, reportID string) (Report, bool, error) {
	var r Report
	err := s.db.QueryRowContext(ctx, `
SELECT report_id, inspection_id, content, summary, created_at
FROM reports WHERE report_id = ?`, reportID).
		Scan(&r.ReportID, &r.InspectionID, &r.Content, &r.Summary, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return Report{}, false, nil
	}
	if err != nil {
		return Report{}, false, err
	}
	return r, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, bool, error) {
	var (
		j          Job
		status     string
		reportID   sql.NullString
		errText    sql.NullString
		threadID   sql.NullString
		finishedAt sql.NullTime
	)
	err := row.Scan(&j.JobID, &j.InspectionID, &status, &j.Progress.Completed, &j.Progress.Total,
		&reportID, &errText, &j.CreatedAt, &finishedAt, &j.OwnerClientID, &threadID)
	if err == sql.ErrNoRows {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	j.Status = Status(status)
	j.ReportID = reportID.String
	j.Error = errText.String
	j.ThreadID = threadID.String
	if finishedAt.Valid {
		t := finishedAt.Time
		j.FinishedAt = &t
	}
	return j, true, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ Store = (*SQLStore)(nil)
