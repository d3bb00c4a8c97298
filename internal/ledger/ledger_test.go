package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stakefund/internal/domain"
	"github.com/alanyoungcy/stakefund/internal/store/memory"
)

var (
	alice = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func openTest(t *testing.T, store *memory.LedgerStore) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), store, domain.EngineAccount{
		MinBet: decimal.RequireFromString("0.01"),
		FeeBps: 200,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return l
}

func seedMarket(t *testing.T, l *Ledger) {
	t.Helper()
	_, err := l.Update(context.Background(), func(tx *Tx) error {
		tx.PutMarket(domain.Market{ID: tx.NextMarketID(), MilestoneID: "m-1", ProjectID: "p-1", Status: domain.MarketStatusOpen})
		tx.PutBet(domain.Bet{ID: tx.NextBetID(), MarketID: 1, Bettor: alice, Side: domain.SideYes, Amount: decimal.NewFromInt(1)})
		tx.PutBet(domain.Bet{ID: 2, MarketID: 1, Bettor: bob, Side: domain.SideNo, Amount: decimal.NewFromInt(2)})
		tx.Emit(domain.EventMarketCreated, map[string]any{"market_id": 1})
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	l := openTest(t, memory.NewLedgerStore())
	boom := errors.New("boom")
	_, err := l.Update(context.Background(), func(tx *Tx) error {
		tx.PutMarket(domain.Market{ID: 1, MilestoneID: "m-1"})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error returned unchanged, got %v", err)
	}
	_ = l.View(func(tx *Tx) error {
		if tx.MarketCount() != 0 {
			t.Fatalf("expected no markets, got %d", tx.MarketCount())
		}
		return nil
	})
}

func TestCommitFailureLeavesStateUntouched(t *testing.T) {
	store := memory.NewLedgerStore()
	l := openTest(t, store)
	store.FailNextCommit(errors.New("disk full"))

	var hooked int
	l.OnCommit(func(context.Context, domain.Changeset) { hooked++ })

	_, err := l.Update(context.Background(), func(tx *Tx) error {
		tx.PutMarket(domain.Market{ID: 1, MilestoneID: "m-1"})
		return nil
	})
	if err == nil {
		t.Fatal("expected commit error")
	}
	if hooked != 0 {
		t.Fatal("hook ran for a failed commit")
	}
	_ = l.View(func(tx *Tx) error {
		if _, ok := tx.MarketByMilestone("m-1"); ok {
			t.Fatal("market visible after failed commit")
		}
		return nil
	})

	seedMarket(t, l)
	if hooked != 1 {
		t.Fatalf("expected hook after successful commit, got %d", hooked)
	}
}

func TestHooksReceiveEvents(t *testing.T) {
	l := openTest(t, memory.NewLedgerStore())
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return at })

	var got []domain.Event
	l.OnCommit(func(_ context.Context, cs domain.Changeset) { got = append(got, cs.Events...) })
	seedMarket(t, l)

	if len(got) != 1 || got[0].Type != domain.EventMarketCreated || !got[0].At.Equal(at) {
		t.Fatalf("unexpected events %+v", got)
	}

	cs, err := l.Update(context.Background(), func(*Tx) error { return nil })
	if err != nil || !cs.Empty() {
		t.Fatalf("expected empty changeset for a no-op, got %+v / %v", cs, err)
	}
	if len(got) != 1 {
		t.Fatal("hook ran for an empty changeset")
	}
}

func TestViewDiscardsWrites(t *testing.T) {
	l := openTest(t, memory.NewLedgerStore())
	_ = l.View(func(tx *Tx) error {
		tx.PutMarket(domain.Market{ID: 1, MilestoneID: "m-1"})
		return nil
	})
	_ = l.View(func(tx *Tx) error {
		if tx.MarketCount() != 0 {
			t.Fatal("write staged in View became visible")
		}
		return nil
	})
}

func TestReopenRebuildsIndexes(t *testing.T) {
	store := memory.NewLedgerStore()
	l := openTest(t, store)
	seedMarket(t, l)
	_, err := l.Update(context.Background(), func(tx *Tx) error {
		e := tx.Engine()
		e.FeeBps = 300
		tx.PutEngine(e)
		tx.PutBadge(domain.Badge{ID: tx.NextBadgeID(), Owner: alice, Type: domain.AchievementTopPredictor})
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	re := openTest(t, store)
	_ = re.View(func(tx *Tx) error {
		if tx.Engine().FeeBps != 300 {
			t.Fatalf("expected persisted fee 300, got %d", tx.Engine().FeeBps)
		}
		m, ok := tx.MarketByMilestone("m-1")
		if !ok || m.ID != 1 {
			t.Fatalf("milestone index not rebuilt: %+v", m)
		}
		if b, ok := tx.Position(1, bob); !ok || b.ID != 2 {
			t.Fatalf("position index not rebuilt: %+v", b)
		}
		if n := len(tx.MarketBets(1)); n != 2 {
			t.Fatalf("expected 2 market bets, got %d", n)
		}
		if !tx.HasBadge(alice, domain.AchievementTopPredictor) {
			t.Fatal("badge index not rebuilt")
		}
		if tx.NextBadgeID() != 2 || tx.NextBetID() != 3 || tx.NextMarketID() != 2 {
			t.Fatal("id counters not derived from loaded tables")
		}
		return nil
	})
}

func TestBadgeOwnerIndexFollowsTransfer(t *testing.T) {
	l := openTest(t, memory.NewLedgerStore())
	ctx := context.Background()
	_, _ = l.Update(ctx, func(tx *Tx) error {
		tx.PutBadge(domain.Badge{ID: 1, Owner: alice, Type: domain.AchievementTopPredictor})
		return nil
	})
	_, err := l.Update(ctx, func(tx *Tx) error {
		b, _ := tx.Badge(1)
		b.Owner = bob
		tx.PutBadge(b)
		if tx.HasBadge(alice, domain.AchievementTopPredictor) {
			t.Fatal("staged transfer still reports the previous owner")
		}
		if len(tx.UserBadges(bob)) != 1 {
			t.Fatal("staged transfer not visible to the new owner")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	_ = l.View(func(tx *Tx) error {
		if len(tx.UserBadges(alice)) != 0 || len(tx.UserBadges(bob)) != 1 {
			t.Fatal("owner index not updated on commit")
		}
		if !tx.HasBadge(bob, domain.AchievementTopPredictor) || tx.HasBadge(alice, domain.AchievementTopPredictor) {
			t.Fatal("badge-type index not updated on commit")
		}
		return nil
	})
}
