package labels

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"PRISM-backend/internal/platform/db"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS imposition_jobs (
	job_id          BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
	job_ulid        CHAR(26)     NOT NULL,
	status          VARCHAR(16)  NOT NULL,
	request_id      VARCHAR(64)  NULL,
	slot_count      INT          NOT NULL DEFAULT 0,
	frame_count     INT          NULL,
	total_meters    DOUBLE       NULL,
	delivery        VARCHAR(16)  NOT NULL,
	proof_generated TINYINT(1)   NOT NULL DEFAULT 0,
	warning_count   INT          NOT NULL DEFAULT 0,
	error_code      VARCHAR(32)  NULL,
	error_message   TEXT         NULL,
	started_at      DATETIME(3)  NOT NULL,
	finished_at     DATETIME(3)  NULL,
	duration_ms     BIGINT       NULL,
	PRIMARY KEY (job_id),
	UNIQUE KEY uq_imposition_jobs_ulid (job_ulid),
	KEY idx_imposition_jobs_started (started_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

const jobColumns = `job_id, job_ulid, status, request_id, slot_count, frame_count, total_meters,
	delivery, proof_generated, warning_count, error_code, error_message,
	started_at, finished_at, duration_ms`

type Store struct {
	db *sql.DB
}

func NewStore(conn *sql.DB) *Store { return &Store{db: conn} }

// Migrate は台帳テーブルが無ければ作る。
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createJobsTable); err != nil {
		return fmt.Errorf("create imposition_jobs: %w", err)
	}
	return nil
}

func (s *Store) InsertJob(ctx context.Context, j *Job) error {
	const q = `
		INSERT INTO imposition_jobs
			(job_ulid, status, request_id, slot_count, delivery, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q, j.JobULID, j.Status, j.RequestID, j.SlotCount, j.Delivery, j.StartedAt.UTC())
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		j.JobID = id
	}
	return nil
}

// FinishJob は終了時の結果を書き込む。
func (s *Store) FinishJob(ctx context.Context, j *Job) error {
	return db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		const q = `
			UPDATE imposition_jobs
			SET status = ?, frame_count = ?, total_meters = ?, proof_generated = ?,
				warning_count = ?, error_code = ?, error_message = ?,
				finished_at = ?, duration_ms = ?
			WHERE job_ulid = ?`
		var finished any
		if j.FinishedAt.Valid {
			finished = j.FinishedAt.Time.UTC()
		}
		res, err := tx.ExecContext(ctx, q,
			j.Status, j.FrameCount, j.TotalMeters, j.ProofGenerated,
			j.WarningCount, j.ErrorCode, j.ErrorMessage,
			finished, j.DurationMS, j.JobULID)
		if err != nil {
			return err
		}
		aff, _ := res.RowsAffected()
		if aff == 0 {
			// 開始時の INSERT に失敗していた場合は結果だけでも残す
			const ins = `
				INSERT INTO imposition_jobs
					(job_ulid, status, request_id, slot_count, frame_count, total_meters, delivery,
					 proof_generated, warning_count, error_code, error_message, started_at, finished_at, duration_ms)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
			_, err = tx.ExecContext(ctx, ins,
				j.JobULID, j.Status, j.RequestID, j.SlotCount, j.FrameCount, j.TotalMeters, j.Delivery,
				j.ProofGenerated, j.WarningCount, j.ErrorCode, j.ErrorMessage, j.StartedAt.UTC(), finished, j.DurationMS)
			return err
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (Job, error) {
	var j Job
	err := r.Scan(&j.JobID, &j.JobULID, &j.Status, &j.RequestID, &j.SlotCount, &j.FrameCount, &j.TotalMeters,
		&j.Delivery, &j.ProofGenerated, &j.WarningCount, &j.ErrorCode, &j.ErrorMessage,
		&j.StartedAt, &j.FinishedAt, &j.DurationMS)
	return j, err
}

func (s *Store) GetJob(ctx context.Context, jobULID string) (*Job, error) {
	q := `SELECT ` + jobColumns + ` FROM imposition_jobs WHERE job_ulid = ?`
	j, err := scanJob(s.db.QueryRowContext(ctx, q, jobULID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound("job not found")
		}
		return nil, err
	}
	return &j, nil
}

func buildJobWhere(f JobFilter) (string, []any) {
	var conds []string
	var args []any
	if f.Status != nil && *f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, *f.Status)
	}
	if f.From != nil {
		conds = append(conds, "started_at >= ?")
		args = append(args, f.From.UTC())
	}
	if f.To != nil {
		conds = append(conds, "started_at < ?")
		args = append(args, f.To.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListJobs は一覧と総件数を同じ読み取り専用 Tx で取る。
func (s *Store) ListJobs(ctx context.Context, f JobFilter, p Page) ([]Job, int64, error) {
	where, args := buildJobWhere(f)
	order := "DESC"
	if p.Order == "asc" {
		order = "ASC"
	}

	var jobs []Job
	var total int64
	err := db.ReadOnly(ctx, s.db, func(ctx context.Context, tx db.DBTX) error {
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM imposition_jobs`+where, args...).Scan(&total); err != nil {
			return err
		}
		q := `SELECT ` + jobColumns + ` FROM imposition_jobs` + where +
			` ORDER BY started_at ` + order + `, job_id ` + order + ` LIMIT ? OFFSET ?`
		rows, err := tx.QueryContext(ctx, q, append(args, p.Limit, p.Offset)...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			j, err := scanJob(rows)
			if err != nil {
				return err
			}
			jobs = append(jobs, j)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// EachJob は条件に合う全件を古い順に fn へ渡す (CSV 出力用)。
func (s *Store) EachJob(ctx context.Context, f JobFilter, fn func(*Job) error) error {
	where, args := buildJobWhere(f)
	return db.ReadOnly(ctx, s.db, func(ctx context.Context, tx db.DBTX) error {
		q := `SELECT ` + jobColumns + ` FROM imposition_jobs` + where + ` ORDER BY started_at ASC, job_id ASC`
		rows, err := tx.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			j, err := scanJob(rows)
			if err != nil {
				return err
			}
			if err := fn(&j); err != nil {
				return err
			}
		}
		return rows.Err()
	})
}
