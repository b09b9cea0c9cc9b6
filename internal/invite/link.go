// Package invite builds and parses referral deep links.
//
// A link looks like https://t.me/<bot>?start=<referrerID> — the start payload
// carries the referrer's platform ID as a decimal string, and the platform
// hands that payload back verbatim in the arriving participant's start event.
package invite

import (
	"fmt"
	"strconv"
	"strings"
)

// Link returns the personal invite deep link for participantID.
func Link(botUsername string, participantID int64) string {
	return fmt.Sprintf("https://t.me/%s?start=%d", strings.TrimPrefix(botUsername, "@"), participantID)
}

// ParseStartPayload extracts the referrer ID from a start payload.
//
// ok is false for an empty, non-numeric, non-positive, or overflowing
// payload. A malformed payload means "no referrer supplied" — it is never an
// error, because the arriving participant has no control over the junk
// someone put in the link they clicked.
func ParseStartPayload(raw string) (referrerID int64, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
