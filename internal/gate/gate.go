// Package gate defines the channel-subscription check consumed by the HTTP
// layer before an invite link is revealed.
//
// The check is a remote capability of the chat platform — this service only
// depends on the interface. Whatever implementation is wired in, the rule
// stands: a failed or inconclusive check (Unknown) is never treated as
// membership.
package gate

import "context"

// Membership is the tri-state answer to "is this participant subscribed?".
type Membership int

const (
	// MembershipUnknown — the check could not be completed (transient
	// failure). Callers must treat this as "not proven", never as Member.
	MembershipUnknown Membership = iota
	MembershipMember
	MembershipNotMember
)

func (m Membership) String() string {
	switch m {
	case MembershipMember:
		return "member"
	case MembershipNotMember:
		return "not_member"
	default:
		return "unknown"
	}
}

// Checker answers membership queries against the campaign channel.
type Checker interface {
	CheckMembership(ctx context.Context, participantID int64) (Membership, error)
}

// Static is a Checker that returns a fixed answer for every participant.
// Used as the wiring default when no platform checker is configured, and in
// tests.
type Static struct {
	Answer Membership
}

func (s Static) CheckMembership(_ context.Context, _ int64) (Membership, error) {
	return s.Answer, nil
}
