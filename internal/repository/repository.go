package repository

import (
	"context"

	"github.com/sakif/referral-board/internal/model"
)

// CreditResult reports what happened to a single credit attempt.
type CreditResult int

const (
	// CreditApplied — the referrer's counter went up by one.
	CreditApplied CreditResult = iota
	// CreditAlreadyApplied — the credit decision for this invitee was
	// concluded earlier (applied or skipped); the attempt was a no-op. Seen
	// only on retries after a partial failure.
	CreditAlreadyApplied
	// CreditReferrerNotFound — no participant row exists for the referrer ID,
	// so nothing was credited. The skip is recorded durably: replaying the
	// same invitee later yields CreditAlreadyApplied even if the referrer has
	// registered in the meantime.
	CreditReferrerNotFound
)

// ParticipantRepository is the durable record of participants and referral
// edges. The attribution and leaderboard layers depend on this interface,
// never on the sqlite implementation directly.
//
// All mutating operations are durable before they return nil. Transient
// backend failures surface wrapped in apperror.ErrUnavailable.
type ParticipantRepository interface {
	// GetByID returns the participant or apperror.ErrNotFound.
	GetByID(ctx context.Context, id int64) (*model.Participant, error)

	// CreateIfAbsent inserts the participant unless a row with the same ID
	// already exists. Uniqueness is enforced by the store itself, so
	// concurrent calls with the same ID yield exactly one created=true; the
	// losers see created=false and the existing row is left untouched.
	// On success the participant's CreatedAt is filled in.
	CreateIfAbsent(ctx context.Context, p *model.Participant) (created bool, err error)

	// IncrementCredit decides the one-time credit for inviteeID's
	// registration against referrerID, exactly once. The increment is a
	// single atomic operation at the store — N concurrent calls against the
	// same referrer raise the counter by exactly N. Both outcomes are
	// durable: once an invitee's credit is applied OR skipped (referrer not
	// found), a repeat call is a no-op (CreditAlreadyApplied), which makes
	// the step safe to retry without ever re-deciding.
	IncrementCredit(ctx context.Context, referrerID, inviteeID int64) (CreditResult, error)

	// ListReferredBy returns every participant whose ReferredBy equals id,
	// ordered by creation time ascending. Re-executable, not a cursor.
	ListReferredBy(ctx context.Context, id int64) ([]model.Participant, error)

	// TopByCredit returns up to limit participants ordered by InvitesCredited
	// descending, ties broken by creation time ascending then ID ascending —
	// a total, deterministic order.
	TopByCredit(ctx context.Context, limit int) ([]model.Participant, error)

	// CreditCount returns the participant's counter, or 0 if the participant
	// does not exist.
	CreditCount(ctx context.Context, id int64) (int, error)
}
