package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ErrLeaseHeld is returned when another holder owns a live lease for the key.
type ErrLeaseHeld struct {
	Key    string
	Holder string
}

func (e *ErrLeaseHeld) Error() string {
	return fmt.Sprintf("run lease %q is held by %s", e.Key, e.Holder)
}

// AcquireLease claims an exclusive lease on a result key space (a portfolio
// code or a factor/horizon/date-range key) for the duration of a
// delete+insert run. Expired leases are reclaimed; a live lease owned by
// someone else yields ErrLeaseHeld. The returned release func must be
// called after the run's commit or rollback.
func (s *Store) AcquireLease(ctx context.Context, key, holder string, ttl time.Duration) (func(), error) {
	now := time.Now().UTC()
	expires := now.Add(ttl)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var existingHolder, existingExpiry string
	err = tx.QueryRowContext(ctx,
		`SELECT holder, expires_at FROM sys_backtest_run_lease WHERE lease_key = ?`,
		key).Scan(&existingHolder, &existingExpiry)
	switch {
	case err == nil:
		expiry, parseErr := time.Parse(time.RFC3339, existingExpiry)
		if parseErr == nil && now.Before(expiry) && existingHolder != holder {
			return nil, &ErrLeaseHeld{Key: key, Holder: existingHolder}
		}
		// Stale or our own: take it over.
		_, err = tx.ExecContext(ctx,
			`UPDATE sys_backtest_run_lease
             SET holder = ?, acquired_at = ?, expires_at = ?
             WHERE lease_key = ?`,
			holder, now.Format(time.RFC3339), expires.Format(time.RFC3339), key)
		if err != nil {
			return nil, err
		}
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sys_backtest_run_lease (lease_key, holder, acquired_at, expires_at)
             VALUES (?, ?, ?, ?)`,
			key, holder, now.Format(time.RFC3339), expires.Format(time.RFC3339))
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	release := func() {
		_, _ = s.db.Exec(
			`DELETE FROM sys_backtest_run_lease WHERE lease_key = ? AND holder = ?`,
			key, holder)
	}
	return release, nil
}
