package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"contrisk/internal/ports"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// reclaimStale returns running jobs whose lease expired to the queue, or fails
// them once they have used up MaxJobAttempts. A zero lease disables reclaiming.
func (db *DB) reclaimStale(ctx context.Context, q execer) (int64, error) {
	if db.JobLease <= 0 {
		return 0, nil
	}
	tag, err := q.Exec(ctx, `
        UPDATE risk_jobs
        SET status = CASE WHEN attempts >= $2 THEN 'failed' ELSE 'queued' END,
            finished_at = CASE WHEN attempts >= $2 THEN now() END,
            last_error = 'lease expired'
        WHERE status = 'running' AND started_at < now() - make_interval(secs => $1)
    `, db.JobLease.Seconds(), db.MaxJobAttempts)
	if err != nil {
		return 0, errors.Wrap(err, "reclaim stale jobs")
	}
	return tag.RowsAffected(), nil
}

// Enqueue queues a refresh for the contract unless one is already queued or running,
// in which case the live job's id is returned. An expired running job is
// reclaimed first so that it is not mistaken for a live one.
func (db *DB) Enqueue(ctx context.Context, contractID string) (string, error) {
	cid, err := parseContractID(contractID)
	if err != nil {
		return "", err
	}
	if _, err = db.reclaimStale(ctx, db.Pool); err != nil {
		return "", err
	}
	var jobID string
	err = db.Pool.QueryRow(ctx, `
        INSERT INTO risk_jobs (contract_id) VALUES ($1)
        ON CONFLICT (contract_id) WHERE status IN ('queued', 'running') DO NOTHING
        RETURNING id::text
    `, cid).Scan(&jobID)
	if errors.Is(err, pgx.ErrNoRows) {
		err = db.Pool.QueryRow(ctx, `
            SELECT id::text FROM risk_jobs
            WHERE contract_id = $1 AND status IN ('queued', 'running')
        `, cid).Scan(&jobID)
	}
	if err != nil {
		return "", missingContract(err, contractID, "enqueue refresh")
	}
	return jobID, nil
}

// ClaimNext reclaims expired running jobs, then selects the next queued job
// using SKIP LOCKED and marks it running.
func (db *DB) ClaimNext(ctx context.Context) (job ports.RefreshJob, found bool, err error) {
	if _, err = db.reclaimStale(ctx, db.Pool); err != nil {
		return job, false, err
	}
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return job, false, errors.Wrap(err, "begin")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = tx.QueryRow(ctx, `
        SELECT id::text, contract_id::text FROM risk_jobs
        WHERE status = 'queued'
        ORDER BY queued_at
        FOR UPDATE SKIP LOCKED
        LIMIT 1
    `).Scan(&job.ID, &job.ContractID)
	if errors.Is(err, pgx.ErrNoRows) {
		return job, false, nil
	}
	if err != nil {
		return job, false, errors.Wrap(err, "select queued job")
	}
	if _, err = tx.Exec(ctx, `
        UPDATE risk_jobs SET status='running', started_at=now(), attempts=attempts+1 WHERE id=$1
    `, job.ID); err != nil {
		return job, false, errors.Wrapf(err, "start job %s", job.ID)
	}
	return job, true, nil
}

func (db *DB) MarkCompleted(ctx context.Context, jobID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := db.Pool.Exec(ctx, `
        UPDATE risk_jobs SET status='completed', last_error=NULL, finished_at=now() WHERE id=$1
    `, jobID)
	return errors.Wrapf(err, "complete job %s", jobID)
}

func (db *DB) MarkFailed(ctx context.Context, jobID string, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := db.Pool.Exec(ctx, `
        UPDATE risk_jobs SET status='failed', last_error=$2, finished_at=now() WHERE id=$1
    `, jobID, reason)
	return errors.Wrapf(err, "fail job %s", jobID)
}

// StartJobForContract claims the contract's queued job, or opens a running one
// when none is queued. It returns ports.ErrJobInFlight if a worker holds the job.
func (db *DB) StartJobForContract(ctx context.Context, contractID string) (jobID string, err error) {
	cid, err := parseContractID(contractID)
	if err != nil {
		return "", err
	}
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", errors.Wrap(err, "begin")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	if _, err = db.reclaimStale(ctx, tx); err != nil {
		return "", err
	}
	err = tx.QueryRow(ctx, `
        SELECT id::text FROM risk_jobs
        WHERE contract_id = $1 AND status = 'queued'
        FOR UPDATE SKIP LOCKED
    `, cid).Scan(&jobID)
	switch {
	case err == nil:
		if _, err = tx.Exec(ctx, `
            UPDATE risk_jobs SET status='running', started_at=now(), attempts=attempts+1 WHERE id=$1
        `, jobID); err != nil {
			return "", errors.Wrapf(err, "start job %s", jobID)
		}
		return jobID, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return "", errors.Wrapf(err, "select job for %s", cid)
	}

	err = tx.QueryRow(ctx, `
        INSERT INTO risk_jobs (contract_id, status, started_at, attempts) VALUES ($1, 'running', now(), 1)
        ON CONFLICT (contract_id) WHERE status IN ('queued', 'running') DO NOTHING
        RETURNING id::text
    `, cid).Scan(&jobID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ports.ErrJobInFlight
	}
	if err != nil {
		return "", missingContract(err, contractID, "open job")
	}
	return jobID, nil
}
