package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stakefund/internal/domain"
	"github.com/alanyoungcy/stakefund/internal/ledger"
	"github.com/alanyoungcy/stakefund/internal/payout"
	"github.com/alanyoungcy/stakefund/internal/registry"
	"github.com/alanyoungcy/stakefund/internal/store/memory"
)

var (
	authority = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	engineID  = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	alice     = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol     = common.HexToAddress("0x0000000000000000000000000000000000000ca7")
	dave      = common.HexToAddress("0x0000000000000000000000000000000000000da7")
	owner     = common.HexToAddress("0x00000000000000000000000000000000000000f0")
)

type recordingAlerter struct {
	mu     sync.Mutex
	titles []string
}

func (a *recordingAlerter) Alert(_ context.Context, title, _ string) {
	a.mu.Lock()
	a.titles = append(a.titles, title)
	a.mu.Unlock()
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.titles)
}

type harness struct {
	ctx        context.Context
	store      *memory.LedgerStore
	audit      *memory.AuditStore
	ledger     *ledger.Ledger
	registry   *registry.Static
	rail       *payout.LogRail
	alerts     *recordingAlerter
	dispatcher *Dispatcher
	rep        *ReputationLedger
	pool       *FundingPool
	engine     *MarketEngine
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newHarness(t *testing.T, feeBps int64) *harness {
	t.Helper()
	ctx := context.Background()
	logger := discardLogger()

	store := memory.NewLedgerStore()
	l, err := ledger.Open(ctx, store, domain.EngineAccount{MinBet: dec("0.01"), FeeBps: feeBps}, logger)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}

	h := &harness{
		ctx:      ctx,
		store:    store,
		audit:    memory.NewAuditStore(),
		ledger:   l,
		registry: registry.NewStatic(),
		rail:     payout.NewLogRail(logger),
		alerts:   &recordingAlerter{},
	}
	regRef := NewRegistryRef(h.registry)
	h.dispatcher = NewDispatcher(l, h.rail, authority, logger)
	h.rep = NewReputationLedger(l, authority, engineID, dec("10"), logger)
	h.pool = NewFundingPool(l, regRef, h.dispatcher, h.audit, h.alerts, authority, engineID, PoolConfig{}, logger)
	h.engine = NewMarketEngine(l, regRef, h.rep, h.pool, h.dispatcher, authority, engineID, logger)
	return h
}

// openMarket registers a milestone for project and opens a market on it.
func (h *harness) openMarket(t *testing.T, milestoneID, projectID string) domain.Market {
	t.Helper()
	h.registry.PutMilestone(domain.Milestone{
		ID:        milestoneID,
		ProjectID: projectID,
		DueAt:     time.Now().Add(24 * time.Hour),
	})
	h.registry.SetOwner(projectID, owner)
	m, err := h.engine.CreateMarket(h.ctx, authority, milestoneID)
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	return m
}

func (h *harness) bet(t *testing.T, who common.Address, marketID uint64, side domain.Side, amount string) domain.Bet {
	t.Helper()
	b, err := h.engine.PlaceBet(h.ctx, who, marketID, side, dec(amount))
	if err != nil {
		t.Fatalf("place bet: %v", err)
	}
	return b
}

// settle closes the market and resolves it and its milestone to outcome.
func (h *harness) settle(t *testing.T, m domain.Market, outcome bool) domain.Market {
	t.Helper()
	if _, err := h.engine.CloseMarket(h.ctx, authority, m.ID); err != nil {
		t.Fatalf("close market: %v", err)
	}
	if err := h.registry.Resolve(m.MilestoneID, outcome); err != nil {
		t.Fatalf("resolve milestone: %v", err)
	}
	resolved, err := h.engine.ResolveMarket(h.ctx, authority, m.ID, outcome)
	if err != nil {
		t.Fatalf("resolve market: %v", err)
	}
	return resolved
}

// fundPool routes amount through the engine's fee balance into the pool.
func (h *harness) fundPool(t *testing.T, amount string) {
	t.Helper()
	_, err := h.ledger.Update(h.ctx, func(tx *ledger.Tx) error {
		creditFee(tx, dec(amount))
		return nil
	})
	if err != nil {
		t.Fatalf("credit fees: %v", err)
	}
	if _, err := h.engine.TransferFundingPool(h.ctx, authority); err != nil {
		t.Fatalf("sweep fees: %v", err)
	}
}

func (h *harness) checkPoolInvariant(t *testing.T) {
	t.Helper()
	s, err := h.pool.GetPoolStats(h.ctx)
	if err != nil {
		t.Fatalf("pool stats: %v", err)
	}
	if s.Allocated.Add(s.Distributed).GreaterThan(s.Balance) {
		t.Fatalf("allocated %s + distributed %s exceeds balance %s", s.Allocated, s.Distributed, s.Balance)
	}
	if s.Available.IsNegative() {
		t.Fatalf("available is negative: %s", s.Available)
	}
}
