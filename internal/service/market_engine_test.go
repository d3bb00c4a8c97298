package service

import (
	"errors"
	"sync"
	"testing"

	"github.com/alanyoungcy/stakefund/internal/domain"
)

func TestClaimScenarioYesWins(t *testing.T) {
	h := newHarness(t, 200)
	m := h.openMarket(t, "m-1", "p-1")

	aBet := h.bet(t, alice, m.ID, domain.SideYes, "1.0")
	bBet := h.bet(t, bob, m.ID, domain.SideNo, "0.5")
	if !aBet.Amount.Equal(dec("0.98")) {
		t.Fatalf("expected net stake 0.98, got %s", aBet.Amount)
	}
	h.settle(t, m, true)

	claimable, err := h.engine.GetClaimableAmount(h.ctx, aBet.ID)
	if err != nil {
		t.Fatalf("claimable: %v", err)
	}
	if !claimable.GreaterThan(dec("1.0")) {
		t.Fatalf("expected claimable > 1.0, got %s", claimable)
	}
	if !claimable.Equal(dec("1.47")) {
		t.Fatalf("expected claimable 1.47, got %s", claimable)
	}

	if _, err := h.engine.ClaimRewards(h.ctx, bob, bBet.ID); !errors.Is(err, domain.ErrNotWinner) {
		t.Fatalf("expected ErrNotWinner for losing bet, got %v", err)
	}

	res, err := h.engine.ClaimRewards(h.ctx, alice, aBet.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if res.Transfer.Status != domain.TransferSent {
		t.Fatalf("expected transfer sent, got %s", res.Transfer.Status)
	}
	if !res.Transfer.Amount.Equal(dec("1.47")) {
		t.Fatalf("expected transfer of 1.47, got %s", res.Transfer.Amount)
	}

	stats, _ := h.rep.GetUserStats(h.ctx, alice)
	if stats.TotalWins != 1 || stats.CurrentStreak != 1 {
		t.Fatalf("expected wins=1 streak=1, got wins=%d streak=%d", stats.TotalWins, stats.CurrentStreak)
	}
	bStats, _ := h.rep.GetUserStats(h.ctx, bob)
	if bStats.TotalPredictions != 1 || bStats.TotalLosses != 1 {
		t.Fatalf("expected bob reported once as a loss, got %+v", bStats)
	}

	after, _ := h.engine.GetClaimableAmount(h.ctx, aBet.ID)
	if !after.IsZero() {
		t.Fatalf("expected nothing claimable after claim, got %s", after)
	}
}

func TestClaimTwiceFailsAlreadyClaimed(t *testing.T) {
	h := newHarness(t, 200)
	m := h.openMarket(t, "m-1", "p-1")
	aBet := h.bet(t, alice, m.ID, domain.SideYes, "1")
	h.bet(t, bob, m.ID, domain.SideNo, "1")
	h.settle(t, m, true)

	if _, err := h.engine.ClaimRewards(h.ctx, alice, aBet.ID); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := h.engine.ClaimRewards(h.ctx, alice, aBet.ID); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
	if n := len(h.rail.Paid()); n != 1 {
		t.Fatalf("expected exactly one payment, got %d", n)
	}
	stats, _ := h.rep.GetUserStats(h.ctx, alice)
	if stats.TotalPredictions != 1 {
		t.Fatalf("expected one recorded prediction, got %d", stats.TotalPredictions)
	}
}

func TestClaimByOtherAddressRejected(t *testing.T) {
	h := newHarness(t, 0)
	m := h.openMarket(t, "m-1", "p-1")
	aBet := h.bet(t, alice, m.ID, domain.SideYes, "1")
	h.settle(t, m, true)

	if _, err := h.engine.ClaimRewards(h.ctx, bob, aBet.ID); !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestClaimBeforeResolution(t *testing.T) {
	h := newHarness(t, 0)
	m := h.openMarket(t, "m-1", "p-1")
	aBet := h.bet(t, alice, m.ID, domain.SideYes, "1")

	if _, err := h.engine.ClaimRewards(h.ctx, alice, aBet.ID); !errors.Is(err, domain.ErrMarketNotResolved) {
		t.Fatalf("expected ErrMarketNotResolved, got %v", err)
	}
}

func TestConcurrentClaimsPayOnce(t *testing.T) {
	h := newHarness(t, 100)
	m := h.openMarket(t, "m-1", "p-1")
	aBet := h.bet(t, alice, m.ID, domain.SideYes, "2")
	h.bet(t, bob, m.ID, domain.SideNo, "1")
	h.settle(t, m, true)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.engine.ClaimRewards(h.ctx, alice, aBet.ID); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", successes)
	}
	if n := len(h.rail.Paid()); n != 1 {
		t.Fatalf("expected exactly one payment, got %d", n)
	}
}

func TestPayoutConservationAndDust(t *testing.T) {
	h := newHarness(t, 0)
	m := h.openMarket(t, "m-1", "p-1")
	bets := []domain.Bet{
		h.bet(t, alice, m.ID, domain.SideYes, "1"),
		h.bet(t, bob, m.ID, domain.SideYes, "1"),
		h.bet(t, carol, m.ID, domain.SideYes, "1"),
	}
	h.bet(t, dave, m.ID, domain.SideNo, "1")
	h.settle(t, m, true)

	total := dec("0")
	for _, b := range bets {
		res, err := h.engine.ClaimRewards(h.ctx, b.Bettor, b.ID)
		if err != nil {
			t.Fatalf("claim bet %d: %v", b.ID, err)
		}
		if !res.Bet.Reward.Equal(dec("1.333333333333333333")) {
			t.Fatalf("expected truncated reward, got %s", res.Bet.Reward)
		}
		total = total.Add(res.Bet.Reward)
	}
	if total.GreaterThan(dec("4")) {
		t.Fatalf("payouts %s exceed pool 4", total)
	}

	fees, _ := h.engine.GetFeeBalance(h.ctx)
	if !fees.Equal(dec("0.000000000000000001")) {
		t.Fatalf("expected rounding dust in fee balance, got %s", fees)
	}
	if !total.Add(fees).Equal(dec("4")) {
		t.Fatalf("payouts %s + fees %s should equal pool 4", total, fees)
	}
}

func TestFeeIsRetainedFromPool(t *testing.T) {
	h := newHarness(t, 200)
	m := h.openMarket(t, "m-1", "p-1")
	aBet := h.bet(t, alice, m.ID, domain.SideYes, "1")
	h.bet(t, bob, m.ID, domain.SideNo, "1")
	h.settle(t, m, true)

	res, err := h.engine.ClaimRewards(h.ctx, alice, aBet.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !res.Bet.Reward.LessThan(dec("2")) {
		t.Fatalf("expected payout below gross stakes 2, got %s", res.Bet.Reward)
	}
	fees, _ := h.engine.GetFeeBalance(h.ctx)
	if !fees.Equal(dec("0.04")) {
		t.Fatalf("expected fee balance 0.04, got %s", fees)
	}
}

func TestNoWinnersLosingPoolBecomesFees(t *testing.T) {
	h := newHarness(t, 0)
	m := h.openMarket(t, "m-1", "p-1")
	aBet := h.bet(t, alice, m.ID, domain.SideNo, "1")
	h.bet(t, bob, m.ID, domain.SideNo, "2")
	h.settle(t, m, true)

	fees, _ := h.engine.GetFeeBalance(h.ctx)
	if !fees.Equal(dec("3")) {
		t.Fatalf("expected losing pool 3 in fee balance, got %s", fees)
	}
	if _, err := h.engine.ClaimRewards(h.ctx, alice, aBet.ID); !errors.Is(err, domain.ErrNotWinner) {
		t.Fatalf("expected ErrNotWinner, got %v", err)
	}
}

func TestOneBetPerAddressPerMarket(t *testing.T) {
	h := newHarness(t, 200)
	m := h.openMarket(t, "m-1", "p-1")
	h.bet(t, alice, m.ID, domain.SideYes, "1")

	tests := []struct {
		name string
		side domain.Side
	}{
		{"same side", domain.SideYes},
		{"flipped side", domain.SideNo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.PlaceBet(h.ctx, alice, m.ID, tt.side, dec("1"))
			if !errors.Is(err, domain.ErrPositionExists) {
				t.Fatalf("expected ErrPositionExists, got %v", err)
			}
		})
	}

	got, _ := h.engine.GetMarket(h.ctx, m.ID)
	if got.YesStakers != 1 || got.NoStakers != 0 {
		t.Fatalf("expected one yes staker, got yes=%d no=%d", got.YesStakers, got.NoStakers)
	}
}

func TestPlaceBetValidation(t *testing.T) {
	h := newHarness(t, 200)
	m := h.openMarket(t, "m-1", "p-1")

	tests := []struct {
		name   string
		market uint64
		side   domain.Side
		amount string
		want   error
	}{
		{"below minimum", m.ID, domain.SideYes, "0.005", domain.ErrBelowMinimum},
		{"zero amount", m.ID, domain.SideYes, "0", domain.ErrInvalidArgument},
		{"bad side", m.ID, domain.Side("maybe"), "1", domain.ErrInvalidArgument},
		{"unknown market", 99, domain.SideYes, "1", domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.PlaceBet(h.ctx, alice, tt.market, tt.side, dec(tt.amount))
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	c, _ := h.engine.GetCounters(h.ctx)
	if c.BetID != 0 {
		t.Fatalf("expected no bets issued, got current bet id %d", c.BetID)
	}
}

func TestIncreaseBet(t *testing.T) {
	h := newHarness(t, 200)
	m := h.openMarket(t, "m-1", "p-1")
	h.bet(t, alice, m.ID, domain.SideYes, "1")

	b, err := h.engine.IncreaseBet(h.ctx, alice, m.ID, domain.SideYes, dec("1"))
	if err != nil {
		t.Fatalf("increase: %v", err)
	}
	if !b.Amount.Equal(dec("1.96")) {
		t.Fatalf("expected 1.96 after top-up, got %s", b.Amount)
	}
	got, _ := h.engine.GetMarket(h.ctx, m.ID)
	if !got.TotalYes.Equal(dec("1.96")) || got.YesStakers != 1 {
		t.Fatalf("expected yes total 1.96 with one staker, got %s / %d", got.TotalYes, got.YesStakers)
	}

	if _, err := h.engine.IncreaseBet(h.ctx, alice, m.ID, domain.SideNo, dec("1")); !errors.Is(err, domain.ErrSideMismatch) {
		t.Fatalf("expected ErrSideMismatch, got %v", err)
	}
	if _, err := h.engine.IncreaseBet(h.ctx, bob, m.ID, domain.SideYes, dec("1")); !errors.Is(err, domain.ErrNoPosition) {
		t.Fatalf("expected ErrNoPosition, got %v", err)
	}
	if _, err := h.engine.CloseMarket(h.ctx, authority, m.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := h.engine.IncreaseBet(h.ctx, alice, m.ID, domain.SideYes, dec("1")); !errors.Is(err, domain.ErrMarketNotOpen) {
		t.Fatalf("expected ErrMarketNotOpen, got %v", err)
	}
}

func TestMarketLifecycleGuards(t *testing.T) {
	h := newHarness(t, 0)

	if _, err := h.engine.CreateMarket(h.ctx, authority, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown milestone, got %v", err)
	}
	m := h.openMarket(t, "m-1", "p-1")
	if _, err := h.engine.CreateMarket(h.ctx, authority, "m-1"); !errors.Is(err, domain.ErrMarketExists) {
		t.Fatalf("expected ErrMarketExists, got %v", err)
	}

	if _, err := h.engine.ResolveMarket(h.ctx, authority, m.ID, true); !errors.Is(err, domain.ErrMarketNotClosed) {
		t.Fatalf("expected ErrMarketNotClosed, got %v", err)
	}
	if _, err := h.engine.CloseMarket(h.ctx, authority, m.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := h.engine.CloseMarket(h.ctx, authority, m.ID); !errors.Is(err, domain.ErrMarketNotOpen) {
		t.Fatalf("expected ErrMarketNotOpen on second close, got %v", err)
	}
	if _, err := h.engine.ResolveMarket(h.ctx, authority, m.ID, true); !errors.Is(err, domain.ErrMilestoneNotResolved) {
		t.Fatalf("expected ErrMilestoneNotResolved, got %v", err)
	}
	if err := h.registry.Resolve("m-1", true); err != nil {
		t.Fatalf("resolve milestone: %v", err)
	}
	if _, err := h.engine.ResolveMarket(h.ctx, authority, m.ID, false); !errors.Is(err, domain.ErrOutcomeMismatch) {
		t.Fatalf("expected ErrOutcomeMismatch, got %v", err)
	}
	got, err := h.engine.ResolveMarket(h.ctx, authority, m.ID, true)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Status != domain.MarketStatusResolved || !got.Outcome || got.ResolvedAt == nil {
		t.Fatalf("unexpected resolved market %+v", got)
	}
	if _, err := h.engine.ResolveMarket(h.ctx, authority, m.ID, true); !errors.Is(err, domain.ErrMarketNotClosed) {
		t.Fatalf("expected ErrMarketNotClosed on second resolve, got %v", err)
	}
}

func TestAuthorityOnlyOperations(t *testing.T) {
	h := newHarness(t, 0)
	m := h.openMarket(t, "m-1", "p-1")
	h.registry.PutMilestone(domain.Milestone{ID: "m-2", ProjectID: "p-1"})

	checks := map[string]error{}
	_, checks["create"] = h.engine.CreateMarket(h.ctx, alice, "m-2")
	_, checks["close"] = h.engine.CloseMarket(h.ctx, alice, m.ID)
	_, checks["resolve"] = h.engine.ResolveMarket(h.ctx, alice, m.ID, true)
	_, checks["sweep"] = h.engine.TransferFundingPool(h.ctx, alice)
	checks["min bet"] = h.engine.SetMinBet(h.ctx, alice, dec("1"))
	checks["fee"] = h.engine.SetFeeBps(h.ctx, alice, 10)
	checks["registry"] = h.engine.SetRegistry(h.ctx, alice, h.registry)

	for name, err := range checks {
		if !errors.Is(err, domain.ErrUnauthorized) {
			t.Errorf("%s: expected ErrUnauthorized, got %v", name, err)
		}
	}
}

func TestOdds(t *testing.T) {
	h := newHarness(t, 0)
	m := h.openMarket(t, "m-1", "p-1")

	odds, err := h.engine.GetMarketOdds(h.ctx, m.ID)
	if err != nil {
		t.Fatalf("odds: %v", err)
	}
	if odds.YesBps != 5000 || odds.NoBps != 5000 {
		t.Fatalf("expected 5000/5000 on empty market, got %d/%d", odds.YesBps, odds.NoBps)
	}

	h.bet(t, alice, m.ID, domain.SideYes, "3")
	h.bet(t, bob, m.ID, domain.SideNo, "1")
	odds, _ = h.engine.GetMarketOdds(h.ctx, m.ID)
	if odds.YesBps != 7500 || odds.NoBps != 2500 {
		t.Fatalf("expected 7500/2500, got %d/%d", odds.YesBps, odds.NoBps)
	}
}

func TestFailedCommitLeavesNoTrace(t *testing.T) {
	h := newHarness(t, 200)
	m := h.openMarket(t, "m-1", "p-1")

	h.store.FailNextCommit(errors.New("disk full"))
	if _, err := h.engine.PlaceBet(h.ctx, alice, m.ID, domain.SideYes, dec("1")); err == nil {
		t.Fatal("expected commit failure")
	}

	got, _ := h.engine.GetMarket(h.ctx, m.ID)
	if !got.TotalYes.IsZero() || got.YesStakers != 0 {
		t.Fatalf("expected untouched market, got %+v", got)
	}
	fees, _ := h.engine.GetFeeBalance(h.ctx)
	if !fees.IsZero() {
		t.Fatalf("expected no fee, got %s", fees)
	}

	b := h.bet(t, alice, m.ID, domain.SideYes, "1")
	if b.ID != 1 {
		t.Fatalf("expected bet id 1 after failed attempt, got %d", b.ID)
	}
}

func TestFailedTransferKeepsClaimAndCanBeRedispatched(t *testing.T) {
	h := newHarness(t, 0)
	m := h.openMarket(t, "m-1", "p-1")
	aBet := h.bet(t, alice, m.ID, domain.SideYes, "1")
	h.bet(t, bob, m.ID, domain.SideNo, "1")
	h.settle(t, m, true)

	h.rail.Fail(errors.New("rpc unavailable"))
	res, err := h.engine.ClaimRewards(h.ctx, alice, aBet.ID)
	if !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if res.Transfer.Status != domain.TransferFailed {
		t.Fatalf("expected failed transfer, got %s", res.Transfer.Status)
	}
	b, _ := h.engine.GetBet(h.ctx, aBet.ID)
	if !b.Claimed {
		t.Fatal("expected bet to stay claimed after transfer failure")
	}
	if _, err := h.engine.ClaimRewards(h.ctx, alice, aBet.ID); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}

	h.rail.Fail(nil)
	if _, err := h.dispatcher.Redispatch(h.ctx, bob, res.Transfer.ID); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	sent, err := h.dispatcher.Redispatch(h.ctx, authority, res.Transfer.ID)
	if err != nil {
		t.Fatalf("redispatch: %v", err)
	}
	if sent.Status != domain.TransferSent || sent.Attempts != 2 {
		t.Fatalf("expected sent after 2 attempts, got %s after %d", sent.Status, sent.Attempts)
	}
	if _, err := h.dispatcher.Redispatch(h.ctx, authority, res.Transfer.ID); !errors.Is(err, domain.ErrTransferSettled) {
		t.Fatalf("expected ErrTransferSettled, got %v", err)
	}
}

func TestTransferFundingPool(t *testing.T) {
	h := newHarness(t, 200)
	if _, err := h.engine.TransferFundingPool(h.ctx, authority); !errors.Is(err, domain.ErrNothingToSweep) {
		t.Fatalf("expected ErrNothingToSweep, got %v", err)
	}

	m := h.openMarket(t, "m-1", "p-1")
	h.bet(t, alice, m.ID, domain.SideYes, "1")
	h.bet(t, bob, m.ID, domain.SideNo, "0.5")

	swept, err := h.engine.TransferFundingPool(h.ctx, authority)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !swept.Equal(dec("0.03")) {
		t.Fatalf("expected 0.03 swept, got %s", swept)
	}
	stats, _ := h.pool.GetPoolStats(h.ctx)
	if !stats.Balance.Equal(dec("0.03")) {
		t.Fatalf("expected pool balance 0.03, got %s", stats.Balance)
	}
	fees, _ := h.engine.GetFeeBalance(h.ctx)
	if !fees.IsZero() {
		t.Fatalf("expected empty fee balance, got %s", fees)
	}
}

func TestEngineParameters(t *testing.T) {
	h := newHarness(t, 200)
	if err := h.engine.SetFeeBps(h.ctx, authority, MaxFeeBps+1); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if err := h.engine.SetFeeBps(h.ctx, authority, 0); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	if err := h.engine.SetMinBet(h.ctx, authority, dec("2")); err != nil {
		t.Fatalf("set min bet: %v", err)
	}

	m := h.openMarket(t, "m-1", "p-1")
	if _, err := h.engine.PlaceBet(h.ctx, alice, m.ID, domain.SideYes, dec("1")); !errors.Is(err, domain.ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum under new minimum, got %v", err)
	}
	b := h.bet(t, alice, m.ID, domain.SideYes, "2")
	if !b.Amount.Equal(dec("2")) {
		t.Fatalf("expected no fee taken, got net %s", b.Amount)
	}

	c, _ := h.engine.GetCounters(h.ctx)
	if c.MarketID != 1 || c.BetID != 1 {
		t.Fatalf("expected counters 1/1, got %d/%d", c.MarketID, c.BetID)
	}
}
