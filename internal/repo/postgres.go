/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package repo

import (
    "context"
    "errors"
    "time"

    "github.com/jackc/pgx/v5"
    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/rs/zerolog"

    "github.com/HamedShams/epic-pulse/internal/config"
    "github.com/HamedShams/epic-pulse/internal/domain"
)

type DB struct {
    Pool *pgxpool.Pool
    log  zerolog.Logger
}

func MustOpen(ctx context.Context, cfg config.Config, logger zerolog.Logger) *DB {
    pool, err := pgxpool.New(ctx, cfg.DBDSN)
    if err != nil { logger.Fatal().Err(err).Msg("db connect failed") }
    ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
    defer cancel()
    if err := pool.Ping(ctx2); err != nil { logger.Fatal().Err(err).Msg("db ping failed") }
    return &DB{Pool: pool, log: logger}
}

func (d *DB) Close() { d.Pool.Close() }

type Repository struct {
    db  *DB
    log zerolog.Logger
}

func NewRepository(d *DB, logger zerolog.Logger) *Repository { return &Repository{db: d, log: logger} }

func (r *Repository) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
    var ok bool
    err := r.db.Pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok)
    return ok, err
}

func (r *Repository) AdvisoryUnlock(ctx context.Context, key int64) error {
    var ok bool
    err := r.db.Pool.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", key).Scan(&ok)
    if !ok && err == nil { return errors.New("advisory unlock returned false") }
    return err
}

// InsertSnapshot records an Epic's totals at fetch time. At most one row per
// epic per day; a same-day re-fetch overwrites.
func (r *Repository) InsertSnapshot(ctx context.Context, s domain.Snapshot) error {
    const q = `
        INSERT INTO epic_snapshots(epic_key, taken_at, total_sp, completed_sp, total_issues, closed_issues)
        VALUES($1,$2,$3,$4,$5,$6)
        ON CONFLICT (epic_key, (taken_at::date)) DO UPDATE SET
            taken_at=EXCLUDED.taken_at,
            total_sp=EXCLUDED.total_sp,
            completed_sp=EXCLUDED.completed_sp,
            total_issues=EXCLUDED.total_issues,
            closed_issues=EXCLUDED.closed_issues`
    _, err := r.db.Pool.Exec(ctx, q, s.EpicKey, s.TakenAt, s.TotalSP, s.CompletedSP, s.TotalIssues, s.ClosedIssues)
    return err
}

// EarliestSnapshot returns the scope-change baseline, or nil when the Epic
// has never been snapshotted.
func (r *Repository) EarliestSnapshot(ctx context.Context, epicKey string) (*domain.Snapshot, error) {
    const q = `SELECT epic_key, taken_at, total_sp, completed_sp, total_issues, closed_issues
        FROM epic_snapshots WHERE epic_key=$1 ORDER BY taken_at ASC LIMIT 1`
    s := &domain.Snapshot{}
    err := r.db.Pool.QueryRow(ctx, q, epicKey).Scan(&s.EpicKey, &s.TakenAt, &s.TotalSP, &s.CompletedSP, &s.TotalIssues, &s.ClosedIssues)
    if errors.Is(err, pgx.ErrNoRows) { return nil, nil }
    if err != nil { return nil, err }
    return s, nil
}

// ListSnapshots returns the snapshot history for an Epic, oldest first.
func (r *Repository) ListSnapshots(ctx context.Context, epicKey string) ([]domain.Snapshot, error) {
    const q = `SELECT epic_key, taken_at, total_sp, completed_sp, total_issues, closed_issues
        FROM epic_snapshots WHERE epic_key=$1 ORDER BY taken_at ASC`
    rows, err := r.db.Pool.Query(ctx, q, epicKey)
    if err != nil { return nil, err }
    defer rows.Close()
    var out []domain.Snapshot
    for rows.Next() {
        var s domain.Snapshot
        if err := rows.Scan(&s.EpicKey, &s.TakenAt, &s.TotalSP, &s.CompletedSP, &s.TotalIssues, &s.ClosedIssues); err != nil { return nil, err }
        out = append(out, s)
    }
    return out, rows.Err()
}

type LastRun struct {
    StartedAt    time.Time  `json:"started_at"`
    FinishedAt   *time.Time `json:"finished_at"`
    Epics        string     `json:"epics"`
    EpicsOK      int        `json:"epics_ok"`
    EpicsFailed  int        `json:"epics_failed"`
    IssuesFetched int       `json:"issues_fetched"`
    Success      bool       `json:"success"`
    Error        string     `json:"error"`
}

func (r *Repository) StartJobRun(ctx context.Context, epicsJSON string) (int64, error) {
    const q = `INSERT INTO job_runs(started_at, epics, success) VALUES(now(), $1, false) RETURNING id`
    var id int64
    if err := r.db.Pool.QueryRow(ctx, q, epicsJSON).Scan(&id); err != nil { return 0, err }
    return id, nil
}

func (r *Repository) FinishJobRun(ctx context.Context, id int64, epicsOK, epicsFailed, issuesFetched int, success bool, errStr string) error {
    const q = `UPDATE job_runs SET finished_at=now(), epics_ok=$2, epics_failed=$3, issues_fetched=$4, success=$5, error=$6 WHERE id=$1`
    _, err := r.db.Pool.Exec(ctx, q, id, epicsOK, epicsFailed, issuesFetched, success, errStr)
    return err
}

func (r *Repository) GetLastRun(ctx context.Context) (*LastRun, error) {
    const q = `SELECT started_at, finished_at, epics::text, coalesce(epics_ok,0), coalesce(epics_failed,0),
        coalesce(issues_fetched,0), coalesce(success,false), coalesce(error,'')
        FROM job_runs ORDER BY id DESC LIMIT 1`
    lr := &LastRun{}
    row := r.db.Pool.QueryRow(ctx, q)
    if err := row.Scan(&lr.StartedAt, &lr.FinishedAt, &lr.Epics, &lr.EpicsOK, &lr.EpicsFailed, &lr.IssuesFetched, &lr.Success, &lr.Error); err != nil { return nil, err }
    return lr, nil
}
