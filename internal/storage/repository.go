package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertAlertSQL = `INSERT INTO alerts (
        chain_id,
        bid_id,
        borrower,
        token_symbol,
        principal,
        next_due_date,
        status,
        endpoint
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (chain_id, bid_id) DO UPDATE
    SET borrower      = EXCLUDED.borrower,
        token_symbol  = EXCLUDED.token_symbol,
        principal     = EXCLUDED.principal,
        next_due_date = EXCLUDED.next_due_date,
        status        = EXCLUDED.status,
        endpoint      = EXCLUDED.endpoint
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        chain_id,
        bid_id,
        borrower,
        token_symbol,
        principal,
        next_due_date,
        status,
        endpoint,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	listAlertsBetweenSQL = `SELECT
        id,
        chain_id,
        bid_id,
        borrower,
        token_symbol,
        principal,
        next_due_date,
        status,
        endpoint,
        created_at
    FROM alerts
    WHERE created_at >= $1
      AND created_at < $2
    ORDER BY created_at;`

	countAlertsSQL = `SELECT COUNT(*) FROM alerts;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	insertFailureSQL = `INSERT INTO endpoint_failures (
        endpoint,
        url,
        error
    ) VALUES (
        $1,$2,$3
    )
    RETURNING id, created_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AlertStore defines operations for the alert history.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	InsertFailure(ctx context.Context, failure FailureRecord) (FailureRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	ListAlertsBetween(ctx context.Context, from, to time.Time) ([]AlertRecord, error)
	CountAlerts(ctx context.Context) (int64, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store provides pgx-backed access to the alert history.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.ChainID,
		alert.BidID,
		alert.Borrower,
		alert.TokenSymbol,
		alert.Principal.String(),
		alert.NextDueDate,
		alert.Status,
		alert.Endpoint,
	)

	rec := alert
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// InsertFailure persists an endpoint failure alert.
func (s *Store) InsertFailure(ctx context.Context, failure FailureRecord) (FailureRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return FailureRecord{}, err
	}

	row := pool.QueryRow(ctx, insertFailureSQL,
		failure.Endpoint,
		failure.URL,
		failure.Error,
	)

	rec := failure
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return FailureRecord{}, fmt.Errorf("insert failure: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	return collectAlerts(rows, limit)
}

// ListAlertsBetween lists alerts emitted within a time window.
func (s *Store) ListAlertsBetween(ctx context.Context, from, to time.Time) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAlertsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list alerts between: %w", queryErr)
	}
	defer rows.Close()

	return collectAlerts(rows, 0)
}

// CountAlerts counts stored alerts.
func (s *Store) CountAlerts(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countAlertsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count alerts: %w", scanErr)
	}
	return count, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func collectAlerts(rows pgx.Rows, sizeHint int) ([]AlertRecord, error) {
	alerts := make([]AlertRecord, 0, sizeHint)
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func scanAlert(rows pgx.Rows) (AlertRecord, error) {
	var (
		rec          AlertRecord
		principalStr string
	)

	if err := rows.Scan(
		&rec.ID,
		&rec.ChainID,
		&rec.BidID,
		&rec.Borrower,
		&rec.TokenSymbol,
		&principalStr,
		&rec.NextDueDate,
		&rec.Status,
		&rec.Endpoint,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}

	principal, err := decimal.NewFromString(principalStr)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("parse principal: %w", err)
	}
	rec.Principal = principal

	return rec, nil
}
