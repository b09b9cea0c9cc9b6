// Package service contains the business logic layer of the application.
//
// The layering follows the usual three-layer shape:
//
//	Handler (HTTP layer)     → parses events, writes responses
//	Service (Business layer) → attribution rules, leaderboard queries
//	Repository (Data layer)  → reads/writes the participant store
//
// Services receive the repository INTERFACE, not the sqlite implementation,
// so tests inject an in-memory mock and the sqlite package stays swappable.
// Services never retry internally: transient store failures propagate as
// typed errors and the caller decides whether to re-attempt.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/referral-board/internal/apperror"
	"github.com/sakif/referral-board/internal/model"
	"github.com/sakif/referral-board/internal/repository"
)

// MaxDisplayNameLength bounds the handle we store. The platform caps names
// well below this; the check guards against a misbehaving gateway.
const MaxDisplayNameLength = 128

// Registration is the outcome of processing one start event.
type Registration struct {
	// Participant is the stored record — freshly created, or the existing
	// row when the event was a replay.
	Participant *model.Participant
	// New is true when this event created the participant.
	New bool
	// CreditedReferrer is the ID whose counter this registration raised,
	// or 0 when nobody was credited (organic arrival, self-referral,
	// unknown referrer, or a replayed event).
	CreditedReferrer int64
}

// AttributionService decides, for each arriving start event, whether the
// participant is new, who referred them, and whether that referrer earns a
// credit. It is the only writer of participant state.
type AttributionService struct {
	repo   repository.ParticipantRepository
	logger *slog.Logger
}

// NewAttributionService creates an AttributionService.
func NewAttributionService(repo repository.ParticipantRepository, logger *slog.Logger) *AttributionService {
	return &AttributionService{
		repo:   repo,
		logger: logger,
	}
}

// Register processes a start event. referrerID may be 0 for "no referrer".
//
// THE CREDIT RULES:
//   - A participant is created at most once; a replayed start event returns
//     the existing record and mutates NOTHING, whatever referrer the replay
//     cites. Re-visiting your own link with a different inviter parameter
//     cannot re-attribute or farm credit.
//   - Self-referral is dropped silently: the registration proceeds, nobody
//     is credited.
//   - A referrer that does not exist in the store earns nothing. The
//     participant is still registered; the forged or stale ID is logged and
//     skipped.
//   - The credit is applied exactly once, at creation time, through the
//     store's atomic increment.
func (s *AttributionService) Register(ctx context.Context, participantID int64, displayName string, referrerID int64) (*Registration, error) {
	if participantID <= 0 {
		return nil, apperror.ValidationFailed("participantId", "participant ID must be a positive integer")
	}
	if len(displayName) > MaxDisplayNameLength {
		displayName = displayName[:MaxDisplayNameLength]
	}

	// Self-referral is never honoured, but the registration itself goes
	// ahead — the arriving participant did nothing wrong.
	if referrerID == participantID {
		s.logger.Warn("self-referral dropped", slog.Int64("participantId", participantID))
		referrerID = 0
	}
	if referrerID < 0 {
		referrerID = 0
	}

	p := &model.Participant{
		ID:          participantID,
		DisplayName: displayName,
		ReferredBy:  referrerID,
	}

	created, err := s.repo.CreateIfAbsent(ctx, p)
	if err != nil {
		s.logger.Error("failed to register participant",
			slog.Int64("participantId", participantID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("registering participant %d: %w", participantID, err)
	}

	if !created {
		// Already registered. The stored record is returned untouched and
		// the replayed referrer parameter is ignored entirely — but the
		// credit for the ORIGINAL creation-time edge is re-driven, because
		// a previous attempt may have failed between the insert and the
		// credit step. The ledger records every CONCLUDED decision —
		// credited or skipped — so the re-drive is a no-op whenever a
		// conclusion stands: replays can complete a lost credit, can never
		// add a second one, and can never convert an unknown-referrer skip
		// into a late credit.
		existing, err := s.repo.GetByID(ctx, participantID)
		if err != nil {
			return nil, fmt.Errorf("loading existing participant %d: %w", participantID, err)
		}

		reg := &Registration{Participant: existing, New: false}
		if existing.Referred() {
			credited, err := s.applyCredit(ctx, existing.ReferredBy, existing.ID)
			if err != nil {
				return nil, err
			}
			if credited {
				reg.CreditedReferrer = existing.ReferredBy
			}
		}
		return reg, nil
	}

	reg := &Registration{Participant: p, New: true}

	if referrerID != 0 {
		credited, err := s.applyCredit(ctx, referrerID, participantID)
		if err != nil {
			return nil, err
		}
		if credited {
			reg.CreditedReferrer = referrerID
		}
	}

	s.logger.Info("participant registered",
		slog.Int64("participantId", participantID),
		slog.Bool("referred", reg.CreditedReferrer != 0),
	)

	return reg, nil
}

// applyCredit runs the credit step and reports whether a counter actually
// went up. The participant row is durable before this runs; the ledger keyed
// by invitee ID makes the step safe to re-run, so a store failure here is
// surfaced and the caller may replay the whole event.
func (s *AttributionService) applyCredit(ctx context.Context, referrerID, inviteeID int64) (bool, error) {
	result, err := s.repo.IncrementCredit(ctx, referrerID, inviteeID)
	if err != nil {
		s.logger.Error("failed to credit referrer",
			slog.Int64("referrerId", referrerID),
			slog.Int64("participantId", inviteeID),
			slog.String("error", err.Error()),
		)
		return false, fmt.Errorf("crediting referrer %d: %w", referrerID, err)
	}

	switch result {
	case repository.CreditApplied:
		s.logger.Info("referral credited",
			slog.Int64("referrerId", referrerID),
			slog.Int64("participantId", inviteeID),
		)
		return true, nil
	case repository.CreditReferrerNotFound:
		// Unverifiable referrer — the registration stands, nobody is
		// credited, and the store has recorded the skip so no later replay
		// can revisit the decision.
		s.logger.Warn("referrer not found, credit skipped",
			slog.Int64("referrerId", referrerID),
			slog.Int64("participantId", inviteeID),
		)
	case repository.CreditAlreadyApplied:
		s.logger.Debug("credit already applied",
			slog.Int64("participantId", inviteeID),
		)
	}
	return false, nil
}
