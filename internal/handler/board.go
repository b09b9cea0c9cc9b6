package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/referral-board/internal/apperror"
	"github.com/sakif/referral-board/internal/gate"
	"github.com/sakif/referral-board/internal/invite"
	"github.com/sakif/referral-board/internal/service"
)

// BoardHandler serves the read side: leaderboard, per-referrer invitee lists,
// credit counts, and gated invite-link disclosure.
type BoardHandler struct {
	leaderboard *service.LeaderboardService
	checker     gate.Checker
	botUsername string
	channel     string
	logger      *slog.Logger
}

// NewBoardHandler creates a BoardHandler.
func NewBoardHandler(leaderboard *service.LeaderboardService, checker gate.Checker, botUsername, channel string, logger *slog.Logger) *BoardHandler {
	return &BoardHandler{
		leaderboard: leaderboard,
		checker:     checker,
		botUsername: botUsername,
		channel:     channel,
		logger:      logger,
	}
}

// boardEntry is one leaderboard row.
type boardEntry struct {
	Rank            int    `json:"rank"`
	ParticipantID   int64  `json:"participantId"`
	DisplayName     string `json:"displayName"`
	InvitesCredited int    `json:"invitesCredited"`
}

// HandleLeaderboard returns the top referrers.
//
// HTTP: GET /api/leaderboard?limit=n
func (h *BoardHandler) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, apperror.ValidationFailed("limit", "limit must be an integer"))
			return
		}
		limit = n
	}

	top, err := h.leaderboard.Top(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	entries := make([]boardEntry, 0, len(top))
	for i, p := range top {
		entries = append(entries, boardEntry{
			Rank:            i + 1,
			ParticipantID:   p.ID,
			DisplayName:     p.DisplayName,
			InvitesCredited: p.InvitesCredited,
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleReferrals returns the participants invited by {id}, oldest first.
//
// HTTP: GET /api/participants/{id}/referrals
func (h *BoardHandler) HandleReferrals(w http.ResponseWriter, r *http.Request) {
	id, err := participantIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	referrals, err := h.leaderboard.Referrals(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	type referralEntry struct {
		ParticipantID int64  `json:"participantId"`
		DisplayName   string `json:"displayName"`
	}
	entries := make([]referralEntry, 0, len(referrals))
	for _, p := range referrals {
		entries = append(entries, referralEntry{ParticipantID: p.ID, DisplayName: p.DisplayName})
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleCredits returns {id}'s credit counter — the "how many people did I
// invite" query. Absent participants read as 0.
//
// HTTP: GET /api/participants/{id}/credits
func (h *BoardHandler) HandleCredits(w http.ResponseWriter, r *http.Request) {
	id, err := participantIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	count, err := h.leaderboard.CreditCount(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"participantId":   id,
		"invitesCredited": count,
	})
}

// HandleLink discloses {id}'s personal invite link, gated on channel
// membership.
//
// HTTP: GET /api/participants/{id}/link
//
// The membership check is a remote capability and can fail transiently; an
// Unknown answer is NOT membership — the caller gets 503 and tries again.
func (h *BoardHandler) HandleLink(w http.ResponseWriter, r *http.Request) {
	id, err := participantIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	membership, err := h.checker.CheckMembership(r.Context(), id)
	if err != nil {
		h.logger.Warn("membership check failed",
			slog.Int64("participantId", id),
			slog.String("error", err.Error()),
		)
		membership = gate.MembershipUnknown
	}

	switch membership {
	case gate.MembershipMember:
		writeJSON(w, http.StatusOK, map[string]string{
			"inviteLink": invite.Link(h.botUsername, id),
		})
	case gate.MembershipNotMember:
		writeError(w, apperror.Forbidden("subscribe to "+h.channel+" to get your invite link"))
	default:
		writeError(w, apperror.Unavailable(errNoMembershipAnswer, "could not verify subscription, try again"))
	}
}

var errNoMembershipAnswer = errors.New("membership check inconclusive")

// participantIDParam parses the {id} path parameter.
func participantIDParam(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.ValidationFailed("id", "participant ID must be a positive integer")
	}
	return id, nil
}
