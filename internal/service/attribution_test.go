package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"testing"

	"github.com/sakif/referral-board/internal/apperror"
	"github.com/sakif/referral-board/internal/model"
	"github.com/sakif/referral-board/internal/repository"
)

// =========================================================================
// MOCK REPOSITORY
// =========================================================================
//
// mockParticipantRepo implements repository.ParticipantRepository in memory.
// It mirrors the store's contract: first-writer-wins creation, an atomic
// counter bump, and a credit ledger keyed by invitee ID that records every
// concluded decision — applied or skipped — exactly like the sqlite
// implementation. The failNext* knobs simulate transient store outages that
// are hard to trigger with real SQLite.

type creditEntry struct {
	referrerID int64
	applied    bool // false when the referrer was absent and the credit was skipped
}

type mockParticipantRepo struct {
	participants map[int64]*model.Participant
	credited     map[int64]creditEntry // invitee ID → conclusion (the ledger)
	createdSeq   []int64               // creation order, stands in for created_at

	failNextCreate bool
	failNextCredit bool
}

func newMockRepo() *mockParticipantRepo {
	return &mockParticipantRepo{
		participants: make(map[int64]*model.Participant),
		credited:     make(map[int64]creditEntry),
	}
}

func (m *mockParticipantRepo) GetByID(_ context.Context, id int64) (*model.Participant, error) {
	p, ok := m.participants[id]
	if !ok {
		return nil, apperror.NotFound("participant", id)
	}
	cp := *p
	return &cp, nil
}

func (m *mockParticipantRepo) CreateIfAbsent(_ context.Context, p *model.Participant) (bool, error) {
	if m.failNextCreate {
		m.failNextCreate = false
		return false, apperror.Unavailable(errors.New("mock outage"), "participant store unavailable")
	}
	if _, ok := m.participants[p.ID]; ok {
		return false, nil
	}
	stored := *p
	m.participants[p.ID] = &stored
	m.createdSeq = append(m.createdSeq, p.ID)
	return true, nil
}

func (m *mockParticipantRepo) IncrementCredit(_ context.Context, referrerID, inviteeID int64) (repository.CreditResult, error) {
	if m.failNextCredit {
		m.failNextCredit = false
		return 0, apperror.Unavailable(errors.New("mock outage"), "participant store unavailable")
	}
	if _, ok := m.credited[inviteeID]; ok {
		return repository.CreditAlreadyApplied, nil
	}
	referrer, ok := m.participants[referrerID]
	if !ok {
		// The skip is a conclusion too — recorded so replays don't revisit it.
		m.credited[inviteeID] = creditEntry{referrerID: referrerID}
		return repository.CreditReferrerNotFound, nil
	}
	m.credited[inviteeID] = creditEntry{referrerID: referrerID, applied: true}
	referrer.InvitesCredited++
	return repository.CreditApplied, nil
}

func (m *mockParticipantRepo) ListReferredBy(_ context.Context, id int64) ([]model.Participant, error) {
	result := []model.Participant{}
	for _, pid := range m.createdSeq {
		if p := m.participants[pid]; p.ReferredBy == id {
			result = append(result, *p)
		}
	}
	return result, nil
}

func (m *mockParticipantRepo) TopByCredit(_ context.Context, limit int) ([]model.Participant, error) {
	order := make(map[int64]int, len(m.createdSeq))
	for i, id := range m.createdSeq {
		order[id] = i
	}
	result := make([]model.Participant, 0, len(m.participants))
	for _, p := range m.participants {
		result = append(result, *p)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].InvitesCredited != result[j].InvitesCredited {
			return result[i].InvitesCredited > result[j].InvitesCredited
		}
		return order[result[i].ID] < order[result[j].ID]
	})
	if limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (m *mockParticipantRepo) CreditCount(_ context.Context, id int64) (int, error) {
	p, ok := m.participants[id]
	if !ok {
		return 0, nil
	}
	return p.InvitesCredited, nil
}

// totalCredits sums every participant's counter — used for the conservation
// checks.
func (m *mockParticipantRepo) totalCredits() int {
	total := 0
	for _, p := range m.participants {
		total += p.InvitesCredited
	}
	return total
}

func newTestAttribution(t *testing.T) (*AttributionService, *mockParticipantRepo) {
	t.Helper()
	repo := newMockRepo()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewAttributionService(repo, logger), repo
}

// =========================================================================
// REGISTRATION TESTS
// =========================================================================

func TestRegister_Organic(t *testing.T) {
	svc, repo := newTestAttribution(t)

	reg, err := svc.Register(context.Background(), 100, "alice", 0)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if !reg.New {
		t.Error("Register() New = false, want true")
	}
	if reg.CreditedReferrer != 0 {
		t.Errorf("CreditedReferrer = %d, want 0", reg.CreditedReferrer)
	}
	if count, _ := repo.CreditCount(context.Background(), 100); count != 0 {
		t.Errorf("CreditCount(100) = %d, want 0", count)
	}
}

func TestRegister_CreditsExistingReferrer(t *testing.T) {
	svc, repo := newTestAttribution(t)
	mustRegister(t, svc, 100, "alice", 0)

	reg, err := svc.Register(context.Background(), 200, "bob", 100)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if !reg.New {
		t.Error("Register() New = false, want true")
	}
	if reg.CreditedReferrer != 100 {
		t.Errorf("CreditedReferrer = %d, want 100", reg.CreditedReferrer)
	}
	if count, _ := repo.CreditCount(context.Background(), 100); count != 1 {
		t.Errorf("CreditCount(100) = %d, want 1", count)
	}
}

func TestRegister_ReplayIsNoop(t *testing.T) {
	svc, repo := newTestAttribution(t)
	mustRegister(t, svc, 100, "alice", 0)
	mustRegister(t, svc, 200, "bob", 100)

	// Replay bob's start event citing a DIFFERENT referrer. The stored edge
	// and every counter must be left exactly as they were.
	mustRegister(t, svc, 300, "carol", 0)
	reg, err := svc.Register(context.Background(), 200, "bob", 300)
	if err != nil {
		t.Fatalf("Register() replay error = %v", err)
	}
	if reg.New {
		t.Error("Register() replay New = true, want false")
	}
	if reg.CreditedReferrer != 0 {
		t.Errorf("replay CreditedReferrer = %d, want 0", reg.CreditedReferrer)
	}
	if reg.Participant.ReferredBy != 100 {
		t.Errorf("replay ReferredBy = %d, want original 100", reg.Participant.ReferredBy)
	}
	if count, _ := repo.CreditCount(context.Background(), 300); count != 0 {
		t.Errorf("CreditCount(300) = %d, want 0 — replay must not re-attribute", count)
	}
	if count, _ := repo.CreditCount(context.Background(), 100); count != 1 {
		t.Errorf("CreditCount(100) = %d, want 1", count)
	}
}

func TestRegister_SelfReferralNeverCredits(t *testing.T) {
	svc, repo := newTestAttribution(t)

	reg, err := svc.Register(context.Background(), 100, "alice", 100)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if !reg.New {
		t.Error("Register() New = false, want true — self-referral still registers")
	}
	if reg.CreditedReferrer != 0 {
		t.Errorf("CreditedReferrer = %d, want 0", reg.CreditedReferrer)
	}
	if reg.Participant.ReferredBy != 0 {
		t.Errorf("ReferredBy = %d, want 0 — self edge must not be stored", reg.Participant.ReferredBy)
	}
	if repo.totalCredits() != 0 {
		t.Errorf("totalCredits = %d, want 0", repo.totalCredits())
	}
}

func TestRegister_UnknownReferrerSkipsCredit(t *testing.T) {
	svc, repo := newTestAttribution(t)

	reg, err := svc.Register(context.Background(), 100, "carol", 999999)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if !reg.New {
		t.Error("Register() New = false, want true — registration must stand")
	}
	if reg.CreditedReferrer != 0 {
		t.Errorf("CreditedReferrer = %d, want 0 for an unknown referrer", reg.CreditedReferrer)
	}
	// No counter may be fabricated for the phantom account.
	if count, _ := repo.CreditCount(context.Background(), 999999); count != 0 {
		t.Errorf("CreditCount(999999) = %d, want 0", count)
	}
}

func TestRegister_InvalidParticipantID(t *testing.T) {
	svc, _ := newTestAttribution(t)

	for _, id := range []int64{0, -5} {
		_, err := svc.Register(context.Background(), id, "x", 0)
		if err == nil {
			t.Fatalf("Register(%d) expected validation error", id)
		}
		if !errors.Is(err, apperror.ErrValidation) {
			t.Errorf("Register(%d) error = %v, want ErrValidation", id, err)
		}
	}
}

func TestRegister_StoreOutagePropagates(t *testing.T) {
	svc, repo := newTestAttribution(t)
	repo.failNextCreate = true

	_, err := svc.Register(context.Background(), 100, "alice", 0)
	if err == nil {
		t.Fatal("Register() expected error during store outage")
	}
	if !errors.Is(err, apperror.ErrUnavailable) {
		t.Errorf("Register() error = %v, want ErrUnavailable", err)
	}

	// The failed event was not applied — a retry registers cleanly.
	reg, err := svc.Register(context.Background(), 100, "alice", 0)
	if err != nil {
		t.Fatalf("Register() retry error = %v", err)
	}
	if !reg.New {
		t.Error("Register() retry New = false, want true")
	}
}

func TestRegister_CreditOutagePropagates(t *testing.T) {
	svc, repo := newTestAttribution(t)
	mustRegister(t, svc, 100, "alice", 0)
	repo.failNextCredit = true

	_, err := svc.Register(context.Background(), 200, "bob", 100)
	if err == nil {
		t.Fatal("Register() expected error when the credit step fails")
	}
	if !errors.Is(err, apperror.ErrUnavailable) {
		t.Errorf("Register() error = %v, want ErrUnavailable", err)
	}
}

// TestRegister_ReplayRecoversLostCredit covers the partial-failure window:
// the participant row landed but the credit step failed. A replay of the
// event must complete the creation-time credit — and only that one, from the
// stored edge, never from the replayed parameter.
func TestRegister_ReplayRecoversLostCredit(t *testing.T) {
	svc, repo := newTestAttribution(t)
	ctx := context.Background()
	mustRegister(t, svc, 100, "alice", 0)

	repo.failNextCredit = true
	if _, err := svc.Register(ctx, 200, "bob", 100); err == nil {
		t.Fatal("Register() expected error when the credit step fails")
	}
	if count, _ := repo.CreditCount(ctx, 100); count != 0 {
		t.Fatalf("CreditCount(100) = %d before replay, want 0", count)
	}

	// Replay — even citing a different referrer — completes alice's credit.
	mustRegister(t, svc, 300, "carol", 0)
	reg, err := svc.Register(ctx, 200, "bob", 300)
	if err != nil {
		t.Fatalf("Register() replay error = %v", err)
	}
	if reg.New {
		t.Error("replay New = true, want false")
	}
	if reg.CreditedReferrer != 100 {
		t.Errorf("replay CreditedReferrer = %d, want stored edge 100", reg.CreditedReferrer)
	}
	if count, _ := repo.CreditCount(ctx, 100); count != 1 {
		t.Errorf("CreditCount(100) = %d, want 1", count)
	}
	if count, _ := repo.CreditCount(ctx, 300); count != 0 {
		t.Errorf("CreditCount(300) = %d, want 0", count)
	}

	// A second replay is a pure no-op.
	if _, err := svc.Register(ctx, 200, "bob", 0); err != nil {
		t.Fatalf("Register() second replay error = %v", err)
	}
	if count, _ := repo.CreditCount(ctx, 100); count != 1 {
		t.Errorf("CreditCount(100) = %d after second replay, want 1", count)
	}
}

// TestRegister_NoRetroactiveCredit pins the once-only nature of the credit
// decision: a registration that cited a then-nonexistent referrer earns that
// referrer nothing — not even after the referrer registers and the event is
// replayed. The skip decided at registration time is final.
func TestRegister_NoRetroactiveCredit(t *testing.T) {
	svc, repo := newTestAttribution(t)
	ctx := context.Background()

	// dana cites 999999, who does not exist yet. Credit skipped.
	mustRegister(t, svc, 100, "dana", 999999)
	if count, _ := repo.CreditCount(ctx, 999999); count != 0 {
		t.Fatalf("CreditCount(999999) = %d at registration, want 0", count)
	}

	// 999999 registers afterwards.
	mustRegister(t, svc, 999999, "latecomer", 0)

	// dana replays her start event. The stored edge points at 999999, who now
	// exists — but the skip was decided when dana registered and must hold.
	reg, err := svc.Register(ctx, 100, "dana", 999999)
	if err != nil {
		t.Fatalf("Register() replay error = %v", err)
	}
	if reg.New {
		t.Error("replay New = true, want false")
	}
	if reg.CreditedReferrer != 0 {
		t.Errorf("replay CreditedReferrer = %d, want 0", reg.CreditedReferrer)
	}
	if count, _ := repo.CreditCount(ctx, 999999); count != 0 {
		t.Errorf("CreditCount(999999) = %d after replay, want 0 — credit granted retroactively", count)
	}
	if repo.totalCredits() != 0 {
		t.Errorf("totalCredits = %d, want 0", repo.totalCredits())
	}
}

// TestRegister_Conservation replays the full acceptance scenario: the sum of
// all counters equals the number of registrations that cited an existing,
// non-self referrer.
func TestRegister_Conservation(t *testing.T) {
	svc, repo := newTestAttribution(t)
	ctx := context.Background()

	// A arrives organically.
	mustRegister(t, svc, 1, "A", 0)
	if count, _ := repo.CreditCount(ctx, 1); count != 0 {
		t.Fatalf("CreditCount(A) = %d, want 0", count)
	}

	// B arrives through A's link.
	mustRegister(t, svc, 2, "B", 1)
	if count, _ := repo.CreditCount(ctx, 1); count != 1 {
		t.Fatalf("CreditCount(A) = %d, want 1", count)
	}
	refs, _ := repo.ListReferredBy(ctx, 1)
	if len(refs) != 1 || refs[0].ID != 2 {
		t.Fatalf("ListReferredBy(A) = %v, want [B]", refs)
	}

	// B replays with a different referrer — state unchanged.
	if _, err := svc.Register(ctx, 2, "B", 3); err != nil {
		t.Fatalf("Register() replay error = %v", err)
	}
	refs, _ = repo.ListReferredBy(ctx, 1)
	if len(refs) != 1 || refs[0].ID != 2 {
		t.Fatalf("ListReferredBy(A) after replay = %v, want [B]", refs)
	}

	// C cites a nonexistent referrer, D cites C (valid), E self-refers.
	mustRegister(t, svc, 3, "C", 999999)
	mustRegister(t, svc, 4, "D", 3)
	mustRegister(t, svc, 5, "E", 5)

	// Attributable registrations: B→A and D→C. Everything else credits nobody.
	if got := repo.totalCredits(); got != 2 {
		t.Errorf("totalCredits = %d, want 2", got)
	}
}

func mustRegister(t *testing.T, svc *AttributionService, id int64, name string, referrer int64) *Registration {
	t.Helper()
	reg, err := svc.Register(context.Background(), id, name, referrer)
	if err != nil {
		t.Fatalf("Register(%d) error = %v", id, err)
	}
	return reg
}
