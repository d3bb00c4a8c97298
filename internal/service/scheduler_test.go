package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/stakefund/internal/domain"
	"github.com/alanyoungcy/stakefund/internal/ledger"
)

type stubLocks struct {
	err      error
	acquired int
	released int
}

func (l *stubLocks) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired++
	return func() { l.released++ }, nil
}

func newTestScheduler(h *harness, locks domain.LockManager, sweep time.Duration, now time.Time) *Scheduler {
	s := NewScheduler(h.engine, h.dispatcher, NewRegistryRef(h.registry), locks, h.alerts,
		SchedulerConfig{PollInterval: time.Second, SweepInterval: sweep}, discardLogger())
	s.now = func() time.Time { return now }
	return s
}

func TestSchedulerClosesDueMarkets(t *testing.T) {
	h := newHarness(t, 0)
	m := h.openMarket(t, "m-1", "p-1")
	h.openMarket(t, "m-2", "p-2")

	s := newTestScheduler(h, nil, 0, time.Now().Add(-time.Hour))
	rep, err := s.pass(h.ctx)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if rep.Closed != 0 {
		t.Fatalf("expected nothing closed before due date, got %d", rep.Closed)
	}

	s.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	rep, err = s.pass(h.ctx)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if rep.Closed != 2 || rep.Resolved != 0 {
		t.Fatalf("expected 2 closed 0 resolved, got %+v", rep)
	}
	got, _ := h.engine.GetMarket(h.ctx, m.ID)
	if got.Status != domain.MarketStatusClosed {
		t.Fatalf("expected closed market, got %s", got.Status)
	}

	if err := h.registry.Resolve("m-1", false); err != nil {
		t.Fatalf("resolve milestone: %v", err)
	}
	rep, err = s.pass(h.ctx)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if rep.Resolved != 1 {
		t.Fatalf("expected 1 resolved, got %+v", rep)
	}
	got, _ = h.engine.GetMarket(h.ctx, m.ID)
	if got.Status != domain.MarketStatusResolved || got.Outcome {
		t.Fatalf("expected market resolved NO, got %+v", got)
	}
	if h.alerts.count() != 1 {
		t.Fatalf("expected one resolution alert, got %d", h.alerts.count())
	}
}

func TestSchedulerResolvesEarlyMilestoneInOnePass(t *testing.T) {
	h := newHarness(t, 0)
	m := h.openMarket(t, "m-1", "p-1")
	h.bet(t, alice, m.ID, domain.SideYes, "1")
	h.bet(t, bob, m.ID, domain.SideNo, "1")
	if err := h.registry.Resolve("m-1", true); err != nil {
		t.Fatalf("resolve milestone: %v", err)
	}

	s := newTestScheduler(h, nil, 0, time.Now())
	rep, err := s.pass(h.ctx)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if rep.Closed != 1 || rep.Resolved != 1 {
		t.Fatalf("expected close and resolve in one pass, got %+v", rep)
	}
	amt, _ := h.engine.GetClaimableAmount(h.ctx, 1)
	if !amt.Equal(dec("2")) {
		t.Fatalf("expected alice to claim 2, got %s", amt)
	}
}

func TestSchedulerSkipsWhenLockHeld(t *testing.T) {
	h := newHarness(t, 0)
	h.openMarket(t, "m-1", "p-1")
	if err := h.registry.Resolve("m-1", true); err != nil {
		t.Fatalf("resolve milestone: %v", err)
	}

	held := &stubLocks{err: domain.ErrLockHeld}
	if err := newTestScheduler(h, held, 0, time.Now()).Tick(h.ctx); err != nil {
		t.Fatalf("tick with held lock: %v", err)
	}
	if m, _ := h.engine.GetMarket(h.ctx, 1); m.Status != domain.MarketStatusOpen {
		t.Fatalf("expected market untouched, got %s", m.Status)
	}

	broken := &stubLocks{err: errors.New("redis down")}
	if err := newTestScheduler(h, broken, 0, time.Now()).Tick(h.ctx); err == nil {
		t.Fatal("expected lock failure to surface")
	}

	free := &stubLocks{}
	if err := newTestScheduler(h, free, 0, time.Now()).Tick(h.ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if free.acquired != 1 || free.released != 1 {
		t.Fatalf("expected lock acquired and released once, got %d / %d", free.acquired, free.released)
	}
	if m, _ := h.engine.GetMarket(h.ctx, 1); m.Status != domain.MarketStatusResolved {
		t.Fatalf("expected market resolved, got %s", m.Status)
	}
}

func TestSchedulerSweepsOnInterval(t *testing.T) {
	h := newHarness(t, 100)
	m := h.openMarket(t, "m-1", "p-1")
	h.bet(t, alice, m.ID, domain.SideYes, "1")

	now := time.Now()
	s := newTestScheduler(h, nil, time.Hour, now)
	rep, err := s.pass(h.ctx)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if rep.Swept != "0.01" {
		t.Fatalf("expected 0.01 swept, got %q", rep.Swept)
	}

	h.bet(t, bob, m.ID, domain.SideNo, "1")
	rep, _ = s.pass(h.ctx)
	if rep.Swept != "" {
		t.Fatalf("expected no sweep inside the interval, got %q", rep.Swept)
	}
	s.now = func() time.Time { return now.Add(2 * time.Hour) }
	rep, _ = s.pass(h.ctx)
	if rep.Swept != "0.01" {
		t.Fatalf("expected second sweep after the interval, got %q", rep.Swept)
	}
	stats, _ := h.pool.GetPoolStats(h.ctx)
	if !stats.Balance.Equal(dec("0.02")) {
		t.Fatalf("expected pool balance 0.02, got %s", stats.Balance)
	}
}

func TestSchedulerDispatchesStrandedTransfers(t *testing.T) {
	h := newHarness(t, 0)
	var staged domain.Transfer
	_, err := h.ledger.Update(h.ctx, func(tx *ledger.Tx) error {
		staged = stageTransfer(tx, domain.TransferReward, alice, dec("1"), "bet:1")
		return nil
	})
	if err != nil {
		t.Fatalf("stage transfer: %v", err)
	}

	rep, err := newTestScheduler(h, nil, 0, time.Now()).pass(h.ctx)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if rep.Dispatched != 1 {
		t.Fatalf("expected 1 dispatched, got %d", rep.Dispatched)
	}
	got, _ := h.dispatcher.GetTransfer(h.ctx, staged.ID)
	if got.Status != domain.TransferSent || got.TxRef == "" {
		t.Fatalf("expected sent transfer, got %+v", got)
	}
	if len(h.rail.Paid()) != 1 {
		t.Fatalf("expected one payment, got %d", len(h.rail.Paid()))
	}
}
