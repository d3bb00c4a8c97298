package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stakefund/internal/domain"
	"github.com/alanyoungcy/stakefund/internal/ledger"
)

// MaxFeeBps is the highest fee SetFeeBps accepts.
const MaxFeeBps = domain.MaxFeeBps

// MarketEngine runs the binary parimutuel markets: one market per milestone,
// one position per bettor per market.
type MarketEngine struct {
	ledger     *ledger.Ledger
	registry   *RegistryRef
	reputation *ReputationLedger
	pool       *FundingPool
	dispatcher *Dispatcher
	authority  common.Address
	self       common.Address
	logger     *slog.Logger
}

// NewMarketEngine creates a MarketEngine. self is the principal the engine
// acts as towards the reputation ledger and the funding pool.
func NewMarketEngine(
	l *ledger.Ledger,
	registry *RegistryRef,
	reputation *ReputationLedger,
	pool *FundingPool,
	dispatcher *Dispatcher,
	authority, self common.Address,
	logger *slog.Logger,
) *MarketEngine {
	return &MarketEngine{
		ledger:     l,
		registry:   registry,
		reputation: reputation,
		pool:       pool,
		dispatcher: dispatcher,
		authority:  authority,
		self:       self,
		logger:     logger.With(slog.String("component", "market_engine")),
	}
}

// Principal returns the address the engine acts as.
func (e *MarketEngine) Principal() common.Address { return e.self }

// Authority returns the address allowed to administer the engine.
func (e *MarketEngine) Authority() common.Address { return e.authority }

// CreateMarket opens a market for a milestone known to the registry.
func (e *MarketEngine) CreateMarket(ctx context.Context, caller common.Address, milestoneID string) (domain.Market, error) {
	if err := requireAuthority(caller, e.authority); err != nil {
		return domain.Market{}, err
	}
	if milestoneID == "" {
		return domain.Market{}, fmt.Errorf("%w: milestone id is required", domain.ErrInvalidArgument)
	}
	ms, err := e.registry.Get().GetMilestone(ctx, milestoneID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_engine: milestone %s: %w", milestoneID, err)
	}

	var m domain.Market
	_, err = e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		if existing, ok := tx.MarketByMilestone(milestoneID); ok {
			return fmt.Errorf("%w: market %d", domain.ErrMarketExists, existing.ID)
		}
		m = domain.Market{
			ID:          tx.NextMarketID(),
			MilestoneID: ms.ID,
			ProjectID:   ms.ProjectID,
			Status:      domain.MarketStatusOpen,
			CreatedAt:   tx.Now(),
		}
		tx.PutMarket(m)
		tx.Emit(domain.EventMarketCreated, map[string]any{
			"market_id":    m.ID,
			"milestone_id": m.MilestoneID,
			"project_id":   m.ProjectID,
		})
		return nil
	})
	if err != nil {
		return domain.Market{}, err
	}

	e.logger.InfoContext(ctx, "market created",
		slog.Uint64("market_id", m.ID),
		slog.String("milestone_id", m.MilestoneID),
	)
	return m, nil
}

// PlaceBet opens caller's position in a market. The protocol fee is taken
// from amount and the net stake is credited to the chosen side.
func (e *MarketEngine) PlaceBet(
	ctx context.Context,
	caller common.Address,
	marketID uint64,
	side domain.Side,
	amount decimal.Decimal,
) (domain.Bet, error) {
	if err := requireAddress(caller, "bettor"); err != nil {
		return domain.Bet{}, err
	}
	if !side.Valid() {
		return domain.Bet{}, fmt.Errorf("%w: side %q", domain.ErrInvalidArgument, side)
	}
	if err := checkAmount(amount); err != nil {
		return domain.Bet{}, err
	}

	var bet domain.Bet
	_, err := e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		m, err := openMarket(tx, marketID)
		if err != nil {
			return err
		}
		eng := tx.Engine()
		if amount.LessThan(eng.MinBet) {
			return fmt.Errorf("%w: %s < %s", domain.ErrBelowMinimum, amount, eng.MinBet)
		}
		if existing, ok := tx.Position(marketID, caller); ok {
			return fmt.Errorf("%w: bet %d", domain.ErrPositionExists, existing.ID)
		}

		fee, net := splitFee(amount, eng.FeeBps)
		bet = domain.Bet{
			ID:        tx.NextBetID(),
			MarketID:  marketID,
			Bettor:    caller,
			Side:      side,
			Amount:    net,
			CreatedAt: tx.Now(),
		}
		tx.PutBet(bet)
		bet, _ = tx.Bet(bet.ID)

		if side == domain.SideYes {
			m.TotalYes = m.TotalYes.Add(net)
			m.YesStakers++
		} else {
			m.TotalNo = m.TotalNo.Add(net)
			m.NoStakers++
		}
		tx.PutMarket(m)
		creditFee(tx, fee)

		tx.Emit(domain.EventBetPlaced, map[string]any{
			"bet_id":    bet.ID,
			"market_id": marketID,
			"bettor":    caller.Hex(),
			"side":      string(side),
			"amount":    net.String(),
			"fee":       fee.String(),
		})
		return nil
	})
	if err != nil {
		return domain.Bet{}, err
	}
	return bet, nil
}

// IncreaseBet tops up caller's existing position. side must match the
// position's side.
func (e *MarketEngine) IncreaseBet(
	ctx context.Context,
	caller common.Address,
	marketID uint64,
	side domain.Side,
	extra decimal.Decimal,
) (domain.Bet, error) {
	if !side.Valid() {
		return domain.Bet{}, fmt.Errorf("%w: side %q", domain.ErrInvalidArgument, side)
	}
	if err := checkAmount(extra); err != nil {
		return domain.Bet{}, err
	}

	var bet domain.Bet
	_, err := e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		m, err := openMarket(tx, marketID)
		if err != nil {
			return err
		}
		eng := tx.Engine()
		if extra.LessThan(eng.MinBet) {
			return fmt.Errorf("%w: %s < %s", domain.ErrBelowMinimum, extra, eng.MinBet)
		}
		b, ok := tx.Position(marketID, caller)
		if !ok {
			return fmt.Errorf("market %d: %w", marketID, domain.ErrNoPosition)
		}
		if b.Side != side {
			return fmt.Errorf("%w: bet %d is on %s", domain.ErrSideMismatch, b.ID, b.Side)
		}

		fee, net := splitFee(extra, eng.FeeBps)
		b.Amount = b.Amount.Add(net)
		tx.PutBet(b)
		bet, _ = tx.Bet(b.ID)

		if side == domain.SideYes {
			m.TotalYes = m.TotalYes.Add(net)
		} else {
			m.TotalNo = m.TotalNo.Add(net)
		}
		tx.PutMarket(m)
		creditFee(tx, fee)

		tx.Emit(domain.EventBetIncreased, map[string]any{
			"bet_id":    b.ID,
			"market_id": marketID,
			"bettor":    caller.Hex(),
			"added":     net.String(),
			"amount":    b.Amount.String(),
			"fee":       fee.String(),
		})
		return nil
	})
	if err != nil {
		return domain.Bet{}, err
	}
	return bet, nil
}

// CloseMarket stops accepting bets on an open market.
func (e *MarketEngine) CloseMarket(ctx context.Context, caller common.Address, marketID uint64) (domain.Market, error) {
	if err := requireAuthority(caller, e.authority); err != nil {
		return domain.Market{}, err
	}
	var m domain.Market
	_, err := e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		var err error
		if m, err = openMarket(tx, marketID); err != nil {
			return err
		}
		now := tx.Now()
		m.Status = domain.MarketStatusClosed
		m.ClosedAt = &now
		tx.PutMarket(m)
		tx.Emit(domain.EventMarketClosed, map[string]any{
			"market_id": m.ID,
			"total_yes": m.TotalYes.String(),
			"total_no":  m.TotalNo.String(),
		})
		return nil
	})
	if err != nil {
		return domain.Market{}, err
	}
	e.logger.InfoContext(ctx, "market closed", slog.Uint64("market_id", marketID))
	return m, nil
}

// ResolveMarket fixes the outcome of a closed market. The outcome must agree
// with the registry's resolution of the milestone. Losing bets are reported
// to the reputation ledger here; winning bets are reported when claimed.
func (e *MarketEngine) ResolveMarket(ctx context.Context, caller common.Address, marketID uint64, outcome bool) (domain.Market, error) {
	if err := requireAuthority(caller, e.authority); err != nil {
		return domain.Market{}, err
	}

	var milestoneID string
	if err := e.ledger.View(func(tx *ledger.Tx) error {
		m, ok := tx.Market(marketID)
		if !ok {
			return fmt.Errorf("market %d: %w", marketID, domain.ErrNotFound)
		}
		if m.Status != domain.MarketStatusClosed {
			return fmt.Errorf("market %d is %s: %w", marketID, m.Status, domain.ErrMarketNotClosed)
		}
		milestoneID = m.MilestoneID
		return nil
	}); err != nil {
		return domain.Market{}, err
	}

	ms, err := e.registry.Get().GetMilestone(ctx, milestoneID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_engine: milestone %s: %w", milestoneID, err)
	}
	if !ms.Resolved {
		return domain.Market{}, fmt.Errorf("milestone %s: %w", milestoneID, domain.ErrMilestoneNotResolved)
	}
	if ms.Achieved != outcome {
		return domain.Market{}, fmt.Errorf("%w: milestone %s achieved=%t", domain.ErrOutcomeMismatch, milestoneID, ms.Achieved)
	}

	var m domain.Market
	_, err = e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		var ok bool
		if m, ok = tx.Market(marketID); !ok {
			return fmt.Errorf("market %d: %w", marketID, domain.ErrNotFound)
		}
		if m.Status != domain.MarketStatusClosed {
			return fmt.Errorf("market %d is %s: %w", marketID, m.Status, domain.ErrMarketNotClosed)
		}
		now := tx.Now()
		m.Status = domain.MarketStatusResolved
		m.Outcome = outcome
		m.ResolvedAt = &now

		losers := 0
		for _, b := range tx.MarketBets(marketID) {
			if b.Side.Wins(outcome) || b.Recorded {
				continue
			}
			if err := e.reputation.record(tx, e.self, b.Bettor, false, b.Amount, decimal.Zero, marketID); err != nil {
				return fmt.Errorf("market_engine: report loss for bet %d: %w", b.ID, err)
			}
			b.Recorded = true
			tx.PutBet(b)
			losers++
		}

		// Without winners the losing pool is kept as protocol fees.
		if !m.WinningTotal().IsPositive() && m.LosingTotal().IsPositive() {
			creditFee(tx, m.LosingTotal())
		}
		tx.PutMarket(m)
		tx.Emit(domain.EventMarketResolved, map[string]any{
			"market_id": m.ID,
			"outcome":   outcome,
			"winning":   m.WinningTotal().String(),
			"losing":    m.LosingTotal().String(),
			"losers":    losers,
		})
		return nil
	})
	if err != nil {
		return domain.Market{}, err
	}

	e.logger.InfoContext(ctx, "market resolved",
		slog.Uint64("market_id", m.ID),
		slog.Bool("outcome", outcome),
		slog.String("winning", m.WinningTotal().String()),
		slog.String("losing", m.LosingTotal().String()),
	)
	return m, nil
}

// ClaimResult is the outcome of a successful claim.
type ClaimResult struct {
	Bet      domain.Bet      `json:"bet"`
	Transfer domain.Transfer `json:"transfer"`
}

// ClaimRewards pays out a winning bet. The bet is marked claimed and the
// payout recorded before the transfer is dispatched. If the transfer fails the
// claim stands and the error wraps domain.ErrTransferFailed.
func (e *MarketEngine) ClaimRewards(ctx context.Context, caller common.Address, betID uint64) (ClaimResult, error) {
	var res ClaimResult
	_, err := e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		b, ok := tx.Bet(betID)
		if !ok {
			return fmt.Errorf("bet %d: %w", betID, domain.ErrNotFound)
		}
		if b.Bettor != caller {
			return fmt.Errorf("bet %d: %w", betID, domain.ErrNotOwner)
		}
		m, _ := tx.Market(b.MarketID)
		if m.Status != domain.MarketStatusResolved {
			return fmt.Errorf("market %d: %w", m.ID, domain.ErrMarketNotResolved)
		}
		if !b.Side.Wins(m.Outcome) {
			return fmt.Errorf("bet %d: %w", betID, domain.ErrNotWinner)
		}
		if b.Claimed {
			return fmt.Errorf("bet %d: %w", betID, domain.ErrAlreadyClaimed)
		}

		reward := Reward(b.Amount, m.WinningTotal(), m.LosingTotal())
		b.Claimed = true
		b.Reward = reward
		if !b.Recorded {
			if err := e.reputation.record(tx, e.self, caller, true, b.Amount, reward, m.ID); err != nil {
				return fmt.Errorf("market_engine: report win for bet %d: %w", b.ID, err)
			}
			b.Recorded = true
		}
		tx.PutBet(b)

		m.PaidOut = m.PaidOut.Add(reward)
		m.Claims++
		if m.Claims == m.WinningStakers() {
			// Truncation dust left after the last winner is kept as fees.
			if dust := m.Total().Sub(m.PaidOut); dust.IsPositive() {
				creditFee(tx, dust)
			}
		}
		tx.PutMarket(m)

		res.Transfer = stageTransfer(tx, domain.TransferReward, caller, reward, fmt.Sprintf("bet:%d", b.ID))
		res.Bet, _ = tx.Bet(b.ID)
		tx.Emit(domain.EventRewardsClaimed, map[string]any{
			"bet_id":      b.ID,
			"market_id":   m.ID,
			"bettor":      caller.Hex(),
			"stake":       b.Amount.String(),
			"reward":      reward.String(),
			"transfer_id": res.Transfer.ID,
		})
		return nil
	})
	if err != nil {
		return ClaimResult{}, err
	}

	t, err := e.dispatcher.Dispatch(ctx, res.Transfer.ID)
	if t.ID != "" {
		res.Transfer = t
	}
	if err != nil {
		return res, fmt.Errorf("market_engine: claim bet %d: %w", betID, err)
	}
	return res, nil
}

// TransferFundingPool sweeps the accumulated fee balance into the funding
// pool and returns the amount moved.
func (e *MarketEngine) TransferFundingPool(ctx context.Context, caller common.Address) (decimal.Decimal, error) {
	if err := requireAuthority(caller, e.authority); err != nil {
		return decimal.Zero, err
	}
	var swept decimal.Decimal
	_, err := e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		eng := tx.Engine()
		if !eng.FeeBalance.IsPositive() {
			return fmt.Errorf("fee balance: %w", domain.ErrNothingToSweep)
		}
		swept = eng.FeeBalance
		eng.FeeBalance = decimal.Zero
		eng.TotalSwept = eng.TotalSwept.Add(swept)
		tx.PutEngine(eng)
		if err := e.pool.receive(tx, e.self, swept); err != nil {
			return err
		}
		tx.Emit(domain.EventFeesSwept, map[string]any{"amount": swept.String()})
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	e.logger.InfoContext(ctx, "fees swept to funding pool", slog.String("amount", swept.String()))
	return swept, nil
}

// SetMinBet changes the minimum gross stake.
func (e *MarketEngine) SetMinBet(ctx context.Context, caller common.Address, minBet decimal.Decimal) error {
	if err := requireAuthority(caller, e.authority); err != nil {
		return err
	}
	if minBet.IsNegative() || !minBet.Equal(minBet.Truncate(domain.AmountDecimals)) {
		return fmt.Errorf("%w: min bet %s", domain.ErrInvalidArgument, minBet)
	}
	return e.updateParams(ctx, func(eng *domain.EngineAccount) { eng.MinBet = minBet })
}

// SetFeeBps changes the protocol fee, at most MaxFeeBps.
func (e *MarketEngine) SetFeeBps(ctx context.Context, caller common.Address, bps int64) error {
	if err := requireAuthority(caller, e.authority); err != nil {
		return err
	}
	if bps < 0 || bps > MaxFeeBps {
		return fmt.Errorf("%w: fee bps %d outside [0, %d]", domain.ErrInvalidArgument, bps, MaxFeeBps)
	}
	return e.updateParams(ctx, func(eng *domain.EngineAccount) { eng.FeeBps = bps })
}

func (e *MarketEngine) updateParams(ctx context.Context, fn func(eng *domain.EngineAccount)) error {
	_, err := e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		eng := tx.Engine()
		fn(&eng)
		tx.PutEngine(eng)
		tx.Emit(domain.EventParamsUpdated, map[string]any{
			"min_bet": eng.MinBet.String(),
			"fee_bps": eng.FeeBps,
		})
		return nil
	})
	return err
}

// SetRegistry rebinds the registry used for milestone lookups.
func (e *MarketEngine) SetRegistry(ctx context.Context, caller common.Address, reg domain.Registry) error {
	if err := requireAuthority(caller, e.authority); err != nil {
		return err
	}
	if reg == nil {
		return fmt.Errorf("%w: registry is required", domain.ErrInvalidArgument)
	}
	e.registry.set(reg)
	e.logger.WarnContext(ctx, "registry rebound")
	return nil
}

// GetMarket returns the market with id.
func (e *MarketEngine) GetMarket(_ context.Context, id uint64) (domain.Market, error) {
	var m domain.Market
	err := e.ledger.View(func(tx *ledger.Tx) error {
		var ok bool
		if m, ok = tx.Market(id); !ok {
			return fmt.Errorf("market %d: %w", id, domain.ErrNotFound)
		}
		return nil
	})
	return m, err
}

// ListMarkets returns markets matching f ordered by id, with the total
// number of matches before pagination.
func (e *MarketEngine) ListMarkets(_ context.Context, f domain.MarketFilter) ([]domain.Market, int, error) {
	var matched []domain.Market
	err := e.ledger.View(func(tx *ledger.Tx) error {
		for _, m := range tx.Markets() {
			if f.Status != "" && m.Status != f.Status {
				continue
			}
			if f.ProjectID != "" && m.ProjectID != f.ProjectID {
				continue
			}
			matched = append(matched, m)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return paginate(matched, f.ListOpts), len(matched), nil
}

// Odds are a market's implied probabilities in basis points.
type Odds struct {
	YesBps int64 `json:"yes_bps"`
	NoBps  int64 `json:"no_bps"`
}

// GetMarketOdds returns the share of stake on each side.
func (e *MarketEngine) GetMarketOdds(ctx context.Context, id uint64) (Odds, error) {
	m, err := e.GetMarket(ctx, id)
	if err != nil {
		return Odds{}, err
	}
	yes, no := m.Odds()
	return Odds{YesBps: yes, NoBps: no}, nil
}

// GetBet returns the bet with id.
func (e *MarketEngine) GetBet(_ context.Context, id uint64) (domain.Bet, error) {
	var b domain.Bet
	err := e.ledger.View(func(tx *ledger.Tx) error {
		var ok bool
		if b, ok = tx.Bet(id); !ok {
			return fmt.Errorf("bet %d: %w", id, domain.ErrNotFound)
		}
		return nil
	})
	return b, err
}

// GetUserBet returns bettor's position in marketID.
func (e *MarketEngine) GetUserBet(_ context.Context, marketID uint64, bettor common.Address) (domain.Bet, error) {
	var b domain.Bet
	err := e.ledger.View(func(tx *ledger.Tx) error {
		var ok bool
		if b, ok = tx.Position(marketID, bettor); !ok {
			return fmt.Errorf("market %d: %w", marketID, domain.ErrNoPosition)
		}
		return nil
	})
	return b, err
}

// ListMarketBets returns every bet in marketID ordered by id.
func (e *MarketEngine) ListMarketBets(_ context.Context, marketID uint64) ([]domain.Bet, error) {
	var out []domain.Bet
	err := e.ledger.View(func(tx *ledger.Tx) error {
		if _, ok := tx.Market(marketID); !ok {
			return fmt.Errorf("market %d: %w", marketID, domain.ErrNotFound)
		}
		out = tx.MarketBets(marketID)
		return nil
	})
	return out, err
}

// GetClaimableAmount returns what bet could claim now: zero for losing,
// claimed or unresolved bets.
func (e *MarketEngine) GetClaimableAmount(_ context.Context, betID uint64) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := e.ledger.View(func(tx *ledger.Tx) error {
		b, ok := tx.Bet(betID)
		if !ok {
			return fmt.Errorf("bet %d: %w", betID, domain.ErrNotFound)
		}
		m, _ := tx.Market(b.MarketID)
		amount = claimable(m, b)
		return nil
	})
	return amount, err
}

// Counters are the last issued market and bet ids, zero when none.
type Counters struct {
	MarketID uint64 `json:"current_market_id"`
	BetID    uint64 `json:"current_bet_id"`
}

// GetCounters returns the current market and bet ids.
func (e *MarketEngine) GetCounters(_ context.Context) (Counters, error) {
	var c Counters
	err := e.ledger.View(func(tx *ledger.Tx) error {
		c.MarketID = tx.NextMarketID() - 1
		c.BetID = tx.NextBetID() - 1
		return nil
	})
	return c, err
}

// GetCurrentMarketID returns the last issued market id.
func (e *MarketEngine) GetCurrentMarketID(ctx context.Context) (uint64, error) {
	c, err := e.GetCounters(ctx)
	return c.MarketID, err
}

// GetCurrentBetID returns the last issued bet id.
func (e *MarketEngine) GetCurrentBetID(ctx context.Context) (uint64, error) {
	c, err := e.GetCounters(ctx)
	return c.BetID, err
}

// GetEngineAccount returns the fee balance and engine parameters.
func (e *MarketEngine) GetEngineAccount(_ context.Context) (domain.EngineAccount, error) {
	var eng domain.EngineAccount
	err := e.ledger.View(func(tx *ledger.Tx) error {
		eng = tx.Engine()
		return nil
	})
	return eng, err
}

// GetFeeBalance returns the unswept protocol fees.
func (e *MarketEngine) GetFeeBalance(ctx context.Context) (decimal.Decimal, error) {
	eng, err := e.GetEngineAccount(ctx)
	return eng.FeeBalance, err
}

func openMarket(tx *ledger.Tx, id uint64) (domain.Market, error) {
	m, ok := tx.Market(id)
	if !ok {
		return domain.Market{}, fmt.Errorf("market %d: %w", id, domain.ErrNotFound)
	}
	if m.Status != domain.MarketStatusOpen {
		return domain.Market{}, fmt.Errorf("market %d is %s: %w", id, m.Status, domain.ErrMarketNotOpen)
	}
	return m, nil
}

func creditFee(tx *ledger.Tx, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	eng := tx.Engine()
	eng.FeeBalance = eng.FeeBalance.Add(amount)
	tx.PutEngine(eng)
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset >= len(items) {
		return []T{}
	}
	items = items[opts.Offset:]
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}
