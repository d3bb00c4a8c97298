package service

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stakefund/internal/domain"
)

func TestAllocateBeyondAvailableFails(t *testing.T) {
	h := newHarness(t, 0)
	h.fundPool(t, "10")

	if _, err := h.pool.AllocateToProject(h.ctx, authority, "p-1", dec("6")); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if _, err := h.pool.AllocateToProject(h.ctx, authority, "p-2", dec("5")); !errors.Is(err, domain.ErrInsufficientPool) {
		t.Fatalf("expected ErrInsufficientPool, got %v", err)
	}
	a, _ := h.pool.GetProjectAllocation(h.ctx, "p-2")
	if !a.TotalAllocated.IsZero() {
		t.Fatalf("expected no allocation for p-2, got %s", a.TotalAllocated)
	}
	stats, _ := h.pool.GetPoolStats(h.ctx)
	if !stats.Allocated.Equal(dec("6")) || !stats.Available.Equal(dec("4")) {
		t.Fatalf("expected allocated 6 available 4, got %s / %s", stats.Allocated, stats.Available)
	}
	h.checkPoolInvariant(t)
}

func TestAllocateRequiresAuthority(t *testing.T) {
	h := newHarness(t, 0)
	h.fundPool(t, "10")
	if _, err := h.pool.AllocateToProject(h.ctx, alice, "p-1", dec("1")); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestBatchAllocate(t *testing.T) {
	h := newHarness(t, 0)
	h.fundPool(t, "10")

	if _, err := h.pool.BatchAllocate(h.ctx, authority, []string{"p-1", "p-2"}, []decimal.Decimal{dec("1")}); !errors.Is(err, domain.ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}

	_, err := h.pool.BatchAllocate(h.ctx, authority,
		[]string{"p-1", "p-2"},
		[]decimal.Decimal{dec("4"), dec("7")},
	)
	if !errors.Is(err, domain.ErrInsufficientPool) {
		t.Fatalf("expected ErrInsufficientPool for oversized batch, got %v", err)
	}
	a, _ := h.pool.GetProjectAllocation(h.ctx, "p-1")
	if !a.TotalAllocated.IsZero() {
		t.Fatalf("expected failed batch to leave p-1 untouched, got %s", a.TotalAllocated)
	}

	out, err := h.pool.BatchAllocate(h.ctx, authority,
		[]string{"p-1", "p-2", "p-1"},
		[]decimal.Decimal{dec("2"), dec("3"), dec("1")},
	)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 results, got %d", len(out))
	}
	a, _ = h.pool.GetProjectAllocation(h.ctx, "p-1")
	if !a.TotalAllocated.Equal(dec("3")) {
		t.Fatalf("expected p-1 allocation 3, got %s", a.TotalAllocated)
	}
	h.checkPoolInvariant(t)
}

func TestReleaseOnMilestone(t *testing.T) {
	h := newHarness(t, 0)
	h.fundPool(t, "10")
	h.openMarket(t, "m-1", "p-1")
	if _, err := h.pool.AllocateToProject(h.ctx, authority, "p-1", dec("5")); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	if _, _, err := h.pool.ReleaseOnMilestone(h.ctx, authority, "p-1", "m-1", dec("1")); !errors.Is(err, domain.ErrMilestoneNotAchieved) {
		t.Fatalf("expected ErrMilestoneNotAchieved, got %v", err)
	}
	if err := h.registry.Resolve("m-1", true); err != nil {
		t.Fatalf("resolve milestone: %v", err)
	}
	if _, _, err := h.pool.ReleaseOnMilestone(h.ctx, authority, "p-2", "m-1", dec("1")); !errors.Is(err, domain.ErrWrongProject) {
		t.Fatalf("expected ErrWrongProject, got %v", err)
	}
	if _, _, err := h.pool.ReleaseOnMilestone(h.ctx, authority, "p-1", "m-1", dec("6")); !errors.Is(err, domain.ErrExceedsPending) {
		t.Fatalf("expected ErrExceedsPending, got %v", err)
	}
	a, _ := h.pool.GetProjectAllocation(h.ctx, "p-1")
	if !a.TotalReleased.IsZero() {
		t.Fatalf("expected nothing released, got %s", a.TotalReleased)
	}

	rel, tr, err := h.pool.ReleaseOnMilestone(h.ctx, authority, "p-1", "m-1", dec("3"))
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if rel.Recipient != owner || tr.To != owner || tr.Status != domain.TransferSent {
		t.Fatalf("expected sent transfer to owner, got %+v", tr)
	}
	if _, _, err := h.pool.ReleaseOnMilestone(h.ctx, authority, "p-1", "m-1", dec("1")); !errors.Is(err, domain.ErrAlreadyReleased) {
		t.Fatalf("expected ErrAlreadyReleased, got %v", err)
	}

	stats, _ := h.pool.GetPoolStats(h.ctx)
	if !stats.Distributed.Equal(dec("3")) || !stats.Allocated.Equal(dec("2")) || !stats.Available.Equal(dec("5")) {
		t.Fatalf("unexpected pool stats %+v", stats)
	}
	a, _ = h.pool.GetProjectAllocation(h.ctx, "p-1")
	if !a.TotalReleased.Equal(dec("3")) || !a.Pending().Equal(dec("2")) {
		t.Fatalf("expected released 3 pending 2, got %s / %s", a.TotalReleased, a.Pending())
	}
	h.checkPoolInvariant(t)
}

func TestGrantTokenAllocations(t *testing.T) {
	h := newHarness(t, 0)
	m := h.openMarket(t, "m-1", "p-1")
	h.bet(t, alice, m.ID, domain.SideYes, "1")
	h.bet(t, bob, m.ID, domain.SideYes, "3")
	h.bet(t, carol, m.ID, domain.SideYes, "2")
	h.bet(t, dave, m.ID, domain.SideYes, "1")
	loser := h.bet(t, owner, m.ID, domain.SideNo, "9")

	if _, err := h.pool.GrantTokenAllocations(h.ctx, authority, "p-1", m.ID); !errors.Is(err, domain.ErrMarketNotResolved) {
		t.Fatalf("expected ErrMarketNotResolved, got %v", err)
	}
	h.settle(t, m, true)

	g, err := h.pool.GrantTokenAllocations(h.ctx, authority, "p-1", m.ID)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	want := []struct {
		who  string
		rank int
	}{
		{bob.Hex(), 1},
		{carol.Hex(), 2},
		{alice.Hex(), 3},
	}
	if len(g.Allocations) != len(want) {
		t.Fatalf("expected %d beneficiaries, got %d", len(want), len(g.Allocations))
	}
	for i, w := range want {
		got := g.Allocations[i]
		if got.Beneficiary.Hex() != w.who || got.Rank != w.rank {
			t.Fatalf("rank %d: expected %s, got %s", w.rank, w.who, got.Beneficiary.Hex())
		}
		if got.ShareBps != 200 {
			t.Fatalf("expected 200 bps for every beneficiary, got %d", got.ShareBps)
		}
	}
	for _, a := range g.Allocations {
		if a.Beneficiary == loser.Bettor {
			t.Fatal("losing bettor must not be granted")
		}
	}

	if _, err := h.pool.GrantTokenAllocations(h.ctx, authority, "p-1", m.ID); !errors.Is(err, domain.ErrAlreadyGranted) {
		t.Fatalf("expected ErrAlreadyGranted, got %v", err)
	}

	mine, _ := h.pool.GetUserTokenAllocations(h.ctx, carol)
	if len(mine) != 1 || mine[0].ProjectID != "p-1" || mine[0].ShareBps != 200 {
		t.Fatalf("unexpected user allocations %+v", mine)
	}
	none, _ := h.pool.GetUserProjectAllocation(h.ctx, "p-1", dave)
	if none.ShareBps != 0 {
		t.Fatalf("expected dave to hold no share, got %d", none.ShareBps)
	}
}

func TestGrantWithoutWinners(t *testing.T) {
	h := newHarness(t, 0)
	m := h.openMarket(t, "m-1", "p-1")
	h.bet(t, alice, m.ID, domain.SideNo, "1")
	h.settle(t, m, true)

	if _, err := h.pool.GrantTokenAllocations(h.ctx, authority, "p-1", m.ID); !errors.Is(err, domain.ErrNoBeneficiaries) {
		t.Fatalf("expected ErrNoBeneficiaries, got %v", err)
	}
	if _, err := h.pool.GrantTokenAllocations(h.ctx, authority, "p-9", m.ID); !errors.Is(err, domain.ErrWrongProject) {
		t.Fatalf("expected ErrWrongProject, got %v", err)
	}
}

func TestPauseGatesMutations(t *testing.T) {
	h := newHarness(t, 0)
	h.fundPool(t, "10")
	if err := h.pool.Pause(h.ctx, alice); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := h.pool.Pause(h.ctx, authority); err != nil {
		t.Fatalf("pause: %v", err)
	}

	if _, err := h.pool.AllocateToProject(h.ctx, authority, "p-1", dec("1")); !errors.Is(err, domain.ErrPaused) {
		t.Fatalf("expected ErrPaused for allocate, got %v", err)
	}
	h.fundPoolExpectPaused(t)

	if err := h.pool.Unpause(h.ctx, authority); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, err := h.pool.AllocateToProject(h.ctx, authority, "p-1", dec("1")); err != nil {
		t.Fatalf("allocate after unpause: %v", err)
	}
}

func (h *harness) fundPoolExpectPaused(t *testing.T) {
	t.Helper()
	m := h.openMarket(t, "m-fees", "p-fees")
	if err := h.engine.SetFeeBps(h.ctx, authority, 100); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	h.bet(t, alice, m.ID, domain.SideYes, "1")
	if _, err := h.engine.TransferFundingPool(h.ctx, authority); !errors.Is(err, domain.ErrPaused) {
		t.Fatalf("expected ErrPaused for sweep, got %v", err)
	}
	fees, _ := h.engine.GetFeeBalance(h.ctx)
	if !fees.Equal(dec("0.01")) {
		t.Fatalf("expected fee balance kept after refused sweep, got %s", fees)
	}
}

func TestEmergencyWithdraw(t *testing.T) {
	h := newHarness(t, 0)
	h.fundPool(t, "10")
	h.openMarket(t, "m-1", "p-1")
	if _, err := h.pool.AllocateToProject(h.ctx, authority, "p-1", dec("6")); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := h.registry.Resolve("m-1", true); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, _, err := h.pool.ReleaseOnMilestone(h.ctx, authority, "p-1", "m-1", dec("2")); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := h.pool.Pause(h.ctx, authority); err != nil {
		t.Fatalf("pause: %v", err)
	}

	if _, err := h.pool.EmergencyWithdraw(h.ctx, bob, bob); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	tr, err := h.pool.EmergencyWithdraw(h.ctx, authority, carol)
	if err != nil {
		t.Fatalf("emergency withdraw: %v", err)
	}
	if !tr.Amount.Equal(dec("8")) || tr.To != carol || tr.Kind != domain.TransferEmergency {
		t.Fatalf("unexpected transfer %+v", tr)
	}

	stats, _ := h.pool.GetPoolStats(h.ctx)
	if !stats.Allocated.IsZero() || !stats.Available.IsZero() || !stats.Distributed.Equal(dec("2")) {
		t.Fatalf("unexpected pool stats after withdrawal %+v", stats)
	}
	h.checkPoolInvariant(t)

	entries, _ := h.audit.List(h.ctx, domain.ListOpts{})
	if len(entries) != 1 || entries[0].Event != domain.EventEmergencyWithdraw {
		t.Fatalf("expected one audit entry, got %+v", entries)
	}
	if h.alerts.count() != 1 {
		t.Fatalf("expected one operator alert, got %d", h.alerts.count())
	}
	if _, err := h.pool.EmergencyWithdraw(h.ctx, authority, carol); !errors.Is(err, domain.ErrNothingToSweep) {
		t.Fatalf("expected ErrNothingToSweep on empty pool, got %v", err)
	}
}
