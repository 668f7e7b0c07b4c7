package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/jlindberg/omxtrader/pkg/errors"
)

// The run lease is a single row guarding the whole decision cycle. Only
// one runner may hold it at a time; a crashed runner's lease expires on
// its own after the TTL.

// AcquireLease claims the run lease for owner until now+ttl. Returns
// ErrCodeLeaseHeld when another live owner holds it.
func (s *Store) AcquireLease(owner string, ttl time.Duration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin lease transaction: %w", err)
	}
	defer tx.Rollback()

	query := s.sq.
		Select("owner", "expires_at").
		From("run_lease").
		Where(squirrel.Eq{"id": 1}).
		RunWith(tx)

	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	var holder string
	var holderExpiry time.Time
	err = query.QueryRow().Scan(&holder, &holderExpiry)
	switch {
	case err == sql.ErrNoRows:
		insert := s.sq.
			Insert("run_lease").
			Columns("id", "owner", "expires_at").
			Values(1, owner, expiresAt).
			RunWith(tx)
		if _, err := insert.Exec(); err != nil {
			return fmt.Errorf("failed to insert lease: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to query lease: %w", err)
	case holder != owner && holderExpiry.After(now):
		return errors.Newf(errors.ErrCodeLeaseHeld, "run lease held by %s until %s", holder, holderExpiry.Format(time.RFC3339))
	default:
		update := s.sq.
			Update("run_lease").
			Set("owner", owner).
			Set("expires_at", expiresAt).
			Where(squirrel.Eq{"id": 1}).
			RunWith(tx)
		if _, err := update.Exec(); err != nil {
			return fmt.Errorf("failed to update lease: %w", err)
		}
	}

	return tx.Commit()
}

// ReleaseLease gives up the lease if owner still holds it. Releasing a
// lease taken over by someone else is a no-op.
func (s *Store) ReleaseLease(owner string) error {
	update := s.sq.
		Update("run_lease").
		Set("expires_at", time.Time{}).
		Where(squirrel.Eq{"id": 1, "owner": owner}).
		RunWith(s.db)
	if _, err := update.Exec(); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}

	return nil
}
