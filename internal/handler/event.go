// Package handler translates the gateway's HTTP requests into service calls
// and renders JSON responses. Handlers know HTTP; services know the rules;
// nothing here touches SQL.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cenkalti/backoff/v4"

	"github.com/sakif/referral-board/internal/apperror"
	"github.com/sakif/referral-board/internal/invite"
	"github.com/sakif/referral-board/internal/service"
)

// registerMaxRetries bounds the re-attempts for one start event when the
// store is briefly unavailable. Registration is idempotent end to end
// (create-if-absent plus a ledgered credit), so replaying the whole event is
// always safe.
const registerMaxRetries = 3

// EventHandler ingests start events from the chat gateway.
type EventHandler struct {
	attribution *service.AttributionService
	botUsername string
	logger      *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(attribution *service.AttributionService, botUsername string, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		attribution: attribution,
		botUsername: botUsername,
		logger:      logger,
	}
}

// startRequest is the gateway's rendering of a /start command.
// Referrer carries the raw deep-link payload exactly as the platform
// delivered it — parsing (and tolerating junk) is this side's job.
type startRequest struct {
	ParticipantID int64  `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Referrer      string `json:"referrer"`
}

// startResponse tells the gateway what to render back to the participant.
type startResponse struct {
	Status          string `json:"status"` // "registered" or "already_registered"
	ParticipantID   int64  `json:"participantId"`
	InviteLink      string `json:"inviteLink"`
	InvitesCredited int    `json:"invitesCredited"`
}

// HandleStart processes a start event.
//
// HTTP: POST /api/events/start
//
// A malformed referrer payload (non-numeric, negative, overflow) degrades to
// "no referrer" — the participant still registers. Transient store failures
// are re-attempted here with bounded exponential backoff; when the budget is
// exhausted the event is reported failed and the gateway may replay it later.
func (h *EventHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid start event JSON", slog.String("error", err.Error()))
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}

	referrerID, _ := invite.ParseStartPayload(req.Referrer)

	var reg *service.Registration
	operation := func() error {
		var err error
		reg, err = h.attribution.Register(r.Context(), req.ParticipantID, req.DisplayName, referrerID)
		if err != nil && !errors.Is(err, apperror.ErrUnavailable) {
			// Validation failures and the like won't improve with retries.
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(operation,
		backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewExponentialBackOff(), registerMaxRetries),
			r.Context(),
		),
	)
	if err != nil {
		if errors.Is(err, apperror.ErrUnavailable) {
			h.logger.Error("registration failed after retries",
				slog.Int64("participantId", req.ParticipantID),
				slog.String("error", err.Error()),
			)
		}
		writeError(w, err)
		return
	}

	status := "already_registered"
	httpStatus := http.StatusOK
	if reg.New {
		status = "registered"
		httpStatus = http.StatusCreated
	}

	writeJSON(w, httpStatus, startResponse{
		Status:          status,
		ParticipantID:   reg.Participant.ID,
		InviteLink:      invite.Link(h.botUsername, reg.Participant.ID),
		InvitesCredited: reg.Participant.InvitesCredited,
	})
}
