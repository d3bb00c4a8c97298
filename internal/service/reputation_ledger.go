package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stakefund/internal/domain"
	"github.com/alanyoungcy/stakefund/internal/ledger"
)

// ReputationLedger keeps per-address prediction stats and awards achievement
// badges as thresholds are crossed.
type ReputationLedger struct {
	ledger    *ledger.Ledger
	authority common.Address
	engine    binding
	whale     decimal.Decimal
	logger    *slog.Logger
}

// NewReputationLedger creates a ReputationLedger. Only engine may report
// outcomes; whaleThreshold is the total wager that unlocks the whale badge.
func NewReputationLedger(
	l *ledger.Ledger,
	authority, engine common.Address,
	whaleThreshold decimal.Decimal,
	logger *slog.Logger,
) *ReputationLedger {
	r := &ReputationLedger{
		ledger:    l,
		authority: authority,
		whale:     whaleThreshold,
		logger:    logger.With(slog.String("component", "reputation_ledger")),
	}
	r.engine.set(engine)
	return r
}

// MarketEngine returns the principal allowed to report outcomes.
func (r *ReputationLedger) MarketEngine() common.Address { return r.engine.get() }

// SetMarketEngine rebinds the principal allowed to report outcomes.
func (r *ReputationLedger) SetMarketEngine(ctx context.Context, caller, engine common.Address) error {
	if err := requireAuthority(caller, r.authority); err != nil {
		return err
	}
	if err := requireAddress(engine, "market engine"); err != nil {
		return err
	}
	prev := r.engine.get()
	r.engine.set(engine)
	r.logger.WarnContext(ctx, "market engine rebound",
		slog.String("previous", prev.Hex()),
		slog.String("current", engine.Hex()),
	)
	return nil
}

// UpdateStats records one settled prediction for user. Only the bound market
// engine may call it.
func (r *ReputationLedger) UpdateStats(
	ctx context.Context,
	caller, user common.Address,
	won bool,
	stake, reward decimal.Decimal,
) (domain.UserStats, error) {
	var out domain.UserStats
	_, err := r.ledger.Update(ctx, func(tx *ledger.Tx) error {
		if err := r.record(tx, caller, user, won, stake, reward, 0); err != nil {
			return err
		}
		out = tx.Stats(user)
		return nil
	})
	if err != nil {
		return domain.UserStats{}, err
	}
	return out, nil
}

// record folds one prediction into user's stats inside tx and mints every
// badge the new stats unlock.
func (r *ReputationLedger) record(
	tx *ledger.Tx,
	caller, user common.Address,
	won bool,
	stake, reward decimal.Decimal,
	marketID uint64,
) error {
	if engine := r.engine.get(); caller != engine {
		return fmt.Errorf("%w: %s is not the market engine", domain.ErrUnauthorized, caller.Hex())
	}
	if stake.IsNegative() || reward.IsNegative() {
		return fmt.Errorf("%w: negative stake or reward", domain.ErrInvalidArgument)
	}

	stats := tx.Stats(user)
	stats.Record(won, stake, reward, tx.Now())
	tx.PutStats(stats)
	tx.Emit(domain.EventStatsUpdated, map[string]any{
		"address":        user.Hex(),
		"won":            won,
		"stake":          stake.String(),
		"reward":         reward.String(),
		"current_streak": stats.CurrentStreak,
	})

	for _, a := range domain.Achievements {
		if a.Metric == domain.MetricManual || tx.HasBadge(user, a.Type) {
			continue
		}
		if a.Unlocked(stats, r.whale) {
			r.mint(tx, user, a, marketID, a.Title)
		}
	}
	return nil
}

func (r *ReputationLedger) mint(tx *ledger.Tx, owner common.Address, a domain.Achievement, marketID uint64, note string) domain.Badge {
	b := domain.Badge{
		ID:        tx.NextBadgeID(),
		Owner:     owner,
		Type:      a.Type,
		Soulbound: a.Soulbound,
		MarketID:  marketID,
		Note:      note,
		MintedAt:  tx.Now(),
	}
	tx.PutBadge(b)
	tx.Emit(domain.EventAchievementAwarded, map[string]any{
		"badge_id":  b.ID,
		"address":   owner.Hex(),
		"type":      string(b.Type),
		"soulbound": b.Soulbound,
		"market_id": marketID,
	})
	return b
}

// MintAchievementBadge mints a badge of kind to user at the authority's
// discretion. A user holds at most one badge per kind.
func (r *ReputationLedger) MintAchievementBadge(
	ctx context.Context,
	caller, user common.Address,
	kind domain.AchievementType,
) (domain.Badge, error) {
	return r.award(ctx, caller, user, kind, 0)
}

// MintTopPredictorBadge mints the transferable top-predictor badge to user
// for their performance in marketID.
func (r *ReputationLedger) MintTopPredictorBadge(
	ctx context.Context,
	caller, user common.Address,
	marketID uint64,
) (domain.Badge, error) {
	return r.award(ctx, caller, user, domain.AchievementTopPredictor, marketID)
}

func (r *ReputationLedger) award(
	ctx context.Context,
	caller, user common.Address,
	kind domain.AchievementType,
	marketID uint64,
) (domain.Badge, error) {
	if err := requireAuthority(caller, r.authority); err != nil {
		return domain.Badge{}, err
	}
	if err := requireAddress(user, "user"); err != nil {
		return domain.Badge{}, err
	}
	a, ok := domain.LookupAchievement(kind)
	if !ok {
		return domain.Badge{}, fmt.Errorf("%w: unknown achievement %q", domain.ErrInvalidArgument, kind)
	}

	var badge domain.Badge
	_, err := r.ledger.Update(ctx, func(tx *ledger.Tx) error {
		if marketID != 0 {
			if _, ok := tx.Market(marketID); !ok {
				return fmt.Errorf("market %d: %w", marketID, domain.ErrNotFound)
			}
		}
		if tx.HasBadge(user, kind) {
			return fmt.Errorf("%w: %s already holds %s", domain.ErrAlreadyAwarded, user.Hex(), kind)
		}
		note := a.Title
		if marketID != 0 {
			note = fmt.Sprintf("%s of market #%d", a.Title, marketID)
		}
		badge = r.mint(tx, user, a, marketID, note)
		return nil
	})
	if err != nil {
		return domain.Badge{}, err
	}
	r.logger.InfoContext(ctx, "achievement badge minted",
		slog.String("address", user.Hex()),
		slog.String("type", string(kind)),
		slog.Uint64("badge_id", badge.ID),
	)
	return badge, nil
}

// TransferBadge moves a transferable badge from its owner to another address.
func (r *ReputationLedger) TransferBadge(ctx context.Context, caller common.Address, badgeID uint64, to common.Address) (domain.Badge, error) {
	if err := requireAddress(to, "recipient"); err != nil {
		return domain.Badge{}, err
	}
	var badge domain.Badge
	_, err := r.ledger.Update(ctx, func(tx *ledger.Tx) error {
		b, ok := tx.Badge(badgeID)
		if !ok {
			return fmt.Errorf("badge %d: %w", badgeID, domain.ErrNotFound)
		}
		if b.Owner != caller {
			return fmt.Errorf("badge %d: %w", badgeID, domain.ErrNotOwner)
		}
		if b.Soulbound {
			return fmt.Errorf("badge %d: %w", badgeID, domain.ErrSoulbound)
		}
		if to == b.Owner {
			return fmt.Errorf("%w: badge %d already held by recipient", domain.ErrInvalidArgument, badgeID)
		}
		if tx.HasBadge(to, b.Type) {
			return fmt.Errorf("%w: %s already holds %s", domain.ErrAlreadyAwarded, to.Hex(), b.Type)
		}
		from := b.Owner
		b.Owner = to
		tx.PutBadge(b)
		tx.Emit(domain.EventBadgeTransferred, map[string]any{
			"badge_id": b.ID,
			"from":     from.Hex(),
			"to":       to.Hex(),
			"type":     string(b.Type),
		})
		badge = b
		return nil
	})
	if err != nil {
		return domain.Badge{}, err
	}
	return badge, nil
}

// GetUserStats returns the stats of user. Unknown users have zero stats.
func (r *ReputationLedger) GetUserStats(_ context.Context, user common.Address) (domain.UserStats, error) {
	var s domain.UserStats
	err := r.ledger.View(func(tx *ledger.Tx) error {
		s = tx.Stats(user)
		return nil
	})
	return s, err
}

// GetWinRate returns user's win rate in basis points.
func (r *ReputationLedger) GetWinRate(ctx context.Context, user common.Address) (int64, error) {
	s, err := r.GetUserStats(ctx, user)
	if err != nil {
		return 0, err
	}
	return s.WinRateBps(), nil
}

// GetUserBadges returns the badges user holds.
func (r *ReputationLedger) GetUserBadges(_ context.Context, user common.Address) ([]domain.Badge, error) {
	var out []domain.Badge
	err := r.ledger.View(func(tx *ledger.Tx) error {
		out = tx.UserBadges(user)
		return nil
	})
	return out, err
}

// GetBadge returns the badge with id.
func (r *ReputationLedger) GetBadge(_ context.Context, id uint64) (domain.Badge, error) {
	var b domain.Badge
	err := r.ledger.View(func(tx *ledger.Tx) error {
		var ok bool
		if b, ok = tx.Badge(id); !ok {
			return fmt.Errorf("badge %d: %w", id, domain.ErrNotFound)
		}
		return nil
	})
	return b, err
}

// GetTotalBadges returns the number of badges ever minted.
func (r *ReputationLedger) GetTotalBadges(_ context.Context) (uint64, error) {
	var n uint64
	err := r.ledger.View(func(tx *ledger.Tx) error {
		n = tx.NextBadgeID() - 1
		return nil
	})
	return n, err
}

// HasAchievement reports whether user holds a badge of kind.
func (r *ReputationLedger) HasAchievement(_ context.Context, user common.Address, kind domain.AchievementType) (bool, error) {
	var has bool
	err := r.ledger.View(func(tx *ledger.Tx) error {
		has = tx.HasBadge(user, kind)
		return nil
	})
	return has, err
}

// Leaderboard ranks addresses by wins, then win rate, then total earnings.
// Remaining ties keep address order.
func (r *ReputationLedger) Leaderboard(_ context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	var all []domain.UserStats
	if err := r.ledger.View(func(tx *ledger.Tx) error {
		all = tx.AllStats()
		return nil
	}); err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.TotalWins != b.TotalWins {
			return a.TotalWins > b.TotalWins
		}
		if ra, rb := a.WinRateBps(), b.WinRateBps(); ra != rb {
			return ra > rb
		}
		return a.TotalEarnings.GreaterThan(b.TotalEarnings)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]domain.LeaderboardEntry, len(all))
	for i, s := range all {
		out[i] = domain.LeaderboardEntry{Rank: i + 1, Stats: s}
	}
	return out, nil
}
