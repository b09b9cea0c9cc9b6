package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/referral-board/internal/apperror"
	"github.com/sakif/referral-board/internal/model"
	"github.com/sakif/referral-board/internal/repository"
)

// compile-time check that *DB implements repository.ParticipantRepository
var _ repository.ParticipantRepository = (*DB)(nil)

// GetByID retrieves a participant by their platform ID.
// Returns apperror.ErrNotFound if no participant exists with that ID.
func (db *DB) GetByID(ctx context.Context, id int64) (*model.Participant, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, display_name, referred_by, invites_credited, created_at
		FROM participants WHERE id = ?`,
		id,
	)

	p, err := scanParticipant(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("participant", id)
		}
		return nil, storeErr(fmt.Errorf("sqlite: getting participant %d: %w", id, err))
	}

	return p, nil
}

// CreateIfAbsent inserts the participant unless the ID is already taken.
//
// FIRST WRITER WINS:
// ON CONFLICT(id) DO NOTHING rides on the PRIMARY KEY constraint — when two
// registrations for the same ID race, SQLite picks exactly one winner and the
// loser's statement affects zero rows. There is no check-then-insert window
// for a second writer to slip through, and the existing row is never
// overwritten (a replayed start event cannot rewrite referred_by).
func (db *DB) CreateIfAbsent(ctx context.Context, p *model.Participant) (bool, error) {
	createdAt := time.Now().UTC()

	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO participants (id, display_name, referred_by, invites_credited, created_at)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(id) DO NOTHING`,
		p.ID,
		p.DisplayName,
		nullableID(p.ReferredBy),
		createdAt,
	)
	if err != nil {
		return false, storeErr(fmt.Errorf("sqlite: inserting participant %d: %w", p.ID, err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr(fmt.Errorf("sqlite: inserting participant %d: %w", p.ID, err))
	}
	if n == 0 {
		return false, nil // row already existed — normal idempotent outcome
	}

	p.InvitesCredited = 0
	p.CreatedAt = createdAt
	return true, nil
}

// IncrementCredit decides the one-time credit for inviteeID's registration.
//
// Everything runs in one transaction:
//
//  1. Insert a ledger row keyed by the invitee. The PRIMARY KEY on invitee_id
//     means the decision is made at most once — a retry after a partial
//     failure conflicts here and the whole call degrades to a no-op.
//  2. Bump the referrer's counter with a single
//     `SET invites_credited = invites_credited + 1`.
//
// ATOMIC INCREMENT:
// The increment is one UPDATE statement, never a read in Go followed by a
// write. N concurrent credits against the same referrer serialize inside
// SQLite and the counter goes up by exactly N — no interleaved
// read-modify-write window, no lost updates.
//
// If the referrer row does not exist the UPDATE affects zero rows and the
// ledger row is COMMITTED with credited = 0: the skip is as final as a
// credit. Were the row rolled back instead, a replay of the same event after
// the referrer registers would find the ledger empty and hand out the credit
// retroactively — the decision is made against the store as it was at
// registration time, once.
func (db *DB) IncrementCredit(ctx context.Context, referrerID, inviteeID int64) (repository.CreditResult, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr(fmt.Errorf("sqlite: beginning credit tx: %w", err))
	}
	defer tx.Rollback() // no-op after Commit; releases the tx on every error path

	res, err := tx.ExecContext(ctx, `
		INSERT INTO referral_credits (invitee_id, referrer_id, entry_id, credited, created_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(invitee_id) DO NOTHING`,
		inviteeID,
		referrerID,
		xid.New().String(),
		time.Now().UTC(),
	)
	if err != nil {
		return 0, storeErr(fmt.Errorf("sqlite: recording credit for invitee %d: %w", inviteeID, err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr(fmt.Errorf("sqlite: recording credit for invitee %d: %w", inviteeID, err))
	}
	if n == 0 {
		// The decision for this invitee was already made (credited or
		// skipped) — nothing more to do.
		return repository.CreditAlreadyApplied, nil
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE participants
		SET invites_credited = invites_credited + 1
		WHERE id = ?`,
		referrerID,
	)
	if err != nil {
		return 0, storeErr(fmt.Errorf("sqlite: incrementing credit for referrer %d: %w", referrerID, err))
	}

	n, err = res.RowsAffected()
	if err != nil {
		return 0, storeErr(fmt.Errorf("sqlite: incrementing credit for referrer %d: %w", referrerID, err))
	}
	if n == 0 {
		// Unknown referrer — keep the ledger row, mark it skipped, commit.
		if _, err := tx.ExecContext(ctx,
			`UPDATE referral_credits SET credited = 0 WHERE invitee_id = ?`,
			inviteeID,
		); err != nil {
			return 0, storeErr(fmt.Errorf("sqlite: recording skipped credit for invitee %d: %w", inviteeID, err))
		}
		if err := tx.Commit(); err != nil {
			return 0, storeErr(fmt.Errorf("sqlite: committing credit tx: %w", err))
		}
		return repository.CreditReferrerNotFound, nil
	}

	if err := tx.Commit(); err != nil {
		return 0, storeErr(fmt.Errorf("sqlite: committing credit tx: %w", err))
	}

	return repository.CreditApplied, nil
}

// ListReferredBy returns the participants invited by id, oldest first.
func (db *DB) ListReferredBy(ctx context.Context, id int64) ([]model.Participant, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, display_name, referred_by, invites_credited, created_at
		FROM participants
		WHERE referred_by = ?
		ORDER BY created_at ASC, id ASC`,
		id,
	)
	if err != nil {
		return nil, storeErr(fmt.Errorf("sqlite: listing referrals of %d: %w", id, err))
	}
	defer rows.Close()

	return collectParticipants(rows)
}

// TopByCredit returns up to limit participants ranked by credit count.
//
// RANKING ORDER:
// invites_credited DESC, then created_at ASC (earlier registrants rank higher
// on ties), then id ASC as the final tiebreak for rows created within the
// same timestamp granularity. The order is total — the same data always
// produces the same board.
func (db *DB) TopByCredit(ctx context.Context, limit int) ([]model.Participant, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, display_name, referred_by, invites_credited, created_at
		FROM participants
		ORDER BY invites_credited DESC, created_at ASC, id ASC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, storeErr(fmt.Errorf("sqlite: querying leaderboard: %w", err))
	}
	defer rows.Close()

	return collectParticipants(rows)
}

// CreditCount returns the participant's counter, 0 if the row is absent.
func (db *DB) CreditCount(ctx context.Context, id int64) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT invites_credited FROM participants WHERE id = ?`, id,
	).Scan(&count)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, storeErr(fmt.Errorf("sqlite: reading credit count for %d: %w", id, err))
	}
	return count, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanParticipant(s scanner) (*model.Participant, error) {
	var (
		p          model.Participant
		referredBy sql.NullInt64
	)
	if err := s.Scan(&p.ID, &p.DisplayName, &referredBy, &p.InvitesCredited, &p.CreatedAt); err != nil {
		return nil, err
	}
	if referredBy.Valid {
		p.ReferredBy = referredBy.Int64
	}
	return &p, nil
}

func collectParticipants(rows *sql.Rows) ([]model.Participant, error) {
	participants := []model.Participant{}
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, storeErr(fmt.Errorf("sqlite: scanning participant row: %w", err))
		}
		participants = append(participants, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(fmt.Errorf("sqlite: iterating participant rows: %w", err))
	}
	return participants, nil
}

// nullableID maps the 0 = "no referrer" sentinel to NULL at the row boundary.
func nullableID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

// storeErr tags a driver-level failure as transient so callers can map it to
// "try again" instead of treating the event as permanently failed.
func storeErr(err error) error {
	return apperror.Unavailable(err, "participant store unavailable")
}
