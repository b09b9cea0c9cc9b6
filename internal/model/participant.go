// Package model defines the data structures used throughout the application.
package model

import "time"

// Participant represents one tracked individual in the referral campaign.
//
// The chat platform assigns each account a numeric ID, so that is our primary
// key — we never generate our own participant IDs. Using int64 matches the
// platform's ID space and avoids overflow for large account numbers.
//
// WHY ReferredBy int64 AND NOT *int64?
// Platform IDs are always positive, so 0 is a safe "no referrer" sentinel.
// We use the zero value rather than a nullable pointer — simpler to work with,
// and the sqlite layer translates 0 to NULL at the row boundary.
//
// ReferredBy is set exactly once, when the row is created, and never changes.
// InvitesCredited only ever moves up, and only through the store's atomic
// increment — no code path writes an absolute value into it.
type Participant struct {
	ID              int64     `json:"id"`
	DisplayName     string    `json:"displayName"` // Platform handle, may be empty
	ReferredBy      int64     `json:"referredBy"`  // 0 = organic (no referrer)
	InvitesCredited int       `json:"invitesCredited"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Referred reports whether this participant arrived through an invite link.
func (p *Participant) Referred() bool {
	return p.ReferredBy != 0
}
