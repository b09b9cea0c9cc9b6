package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/referral-board/internal/apperror"
	"github.com/sakif/referral-board/internal/model"
	"github.com/sakif/referral-board/internal/repository"
)

const (
	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100
)

// LeaderboardService answers ranked and per-referrer read queries.
// It is a pure query facade — no state, no transitions, no caching
// (the data volume is a single small table).
type LeaderboardService struct {
	repo         repository.ParticipantRepository
	defaultLimit int
	logger       *slog.Logger
}

// NewLeaderboardService creates a LeaderboardService. defaultLimit is the
// board size served when the caller doesn't name one; pass 0 for
// DefaultLeaderboardLimit. It is clamped like any requested size.
func NewLeaderboardService(repo repository.ParticipantRepository, defaultLimit int, logger *slog.Logger) *LeaderboardService {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLeaderboardLimit
	}
	if defaultLimit > MaxLeaderboardLimit {
		defaultLimit = MaxLeaderboardLimit
	}
	return &LeaderboardService{
		repo:         repo,
		defaultLimit: defaultLimit,
		logger:       logger,
	}
}

// Top returns the n highest-credited participants. n is clamped to a sane
// range so callers can't request a million rows; the result is non-increasing
// in credit count with ties won by the earlier registrant.
func (s *LeaderboardService) Top(ctx context.Context, n int) ([]model.Participant, error) {
	if n <= 0 {
		n = s.defaultLimit
	}
	if n > MaxLeaderboardLimit {
		n = MaxLeaderboardLimit
	}

	top, err := s.repo.TopByCredit(ctx, n)
	if err != nil {
		s.logger.Error("failed to query leaderboard", slog.String("error", err.Error()))
		return nil, fmt.Errorf("querying leaderboard: %w", err)
	}
	return top, nil
}

// Referrals returns the participants invited by participantID, oldest first —
// the self-service "who did I invite" query.
func (s *LeaderboardService) Referrals(ctx context.Context, participantID int64) ([]model.Participant, error) {
	if participantID <= 0 {
		return nil, apperror.ValidationFailed("participantId", "participant ID must be a positive integer")
	}

	referrals, err := s.repo.ListReferredBy(ctx, participantID)
	if err != nil {
		s.logger.Error("failed to list referrals",
			slog.Int64("participantId", participantID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("listing referrals of %d: %w", participantID, err)
	}
	return referrals, nil
}

// CreditCount returns the participant's credit counter, 0 if the participant
// is absent or has never been credited.
func (s *LeaderboardService) CreditCount(ctx context.Context, participantID int64) (int, error) {
	if participantID <= 0 {
		return 0, apperror.ValidationFailed("participantId", "participant ID must be a positive integer")
	}

	count, err := s.repo.CreditCount(ctx, participantID)
	if err != nil {
		s.logger.Error("failed to read credit count",
			slog.Int64("participantId", participantID),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("reading credit count for %d: %w", participantID, err)
	}
	return count, nil
}
