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

// Alerter sends operator notifications.
type Alerter interface {
	Alert(ctx context.Context, title, message string)
}

// PoolConfig holds the funding pool's grant parameters.
type PoolConfig struct {
	GrantTopN int   // beneficiaries per token grant
	GrantBps  int64 // share granted to each beneficiary
}

// FundingPool holds swept fees in custody, earmarks them for projects and
// releases them to project owners as milestones are achieved.
type FundingPool struct {
	ledger     *ledger.Ledger
	registry   *RegistryRef
	dispatcher *Dispatcher
	audit      domain.AuditStore
	alerter    Alerter
	authority  common.Address
	engine     binding
	cfg        PoolConfig
	logger     *slog.Logger
}

// NewFundingPool creates a FundingPool. Only engine may deposit into it.
func NewFundingPool(
	l *ledger.Ledger,
	registry *RegistryRef,
	dispatcher *Dispatcher,
	audit domain.AuditStore,
	alerter Alerter,
	authority, engine common.Address,
	cfg PoolConfig,
	logger *slog.Logger,
) *FundingPool {
	if cfg.GrantTopN <= 0 {
		cfg.GrantTopN = 3
	}
	if cfg.GrantBps <= 0 {
		cfg.GrantBps = 200
	}
	p := &FundingPool{
		ledger:     l,
		registry:   registry,
		dispatcher: dispatcher,
		audit:      audit,
		alerter:    alerter,
		authority:  authority,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "funding_pool")),
	}
	p.engine.set(engine)
	return p
}

// SetMarketEngine rebinds the principal allowed to deposit.
func (p *FundingPool) SetMarketEngine(ctx context.Context, caller, engine common.Address) error {
	if err := requireAuthority(caller, p.authority); err != nil {
		return err
	}
	if err := requireAddress(engine, "market engine"); err != nil {
		return err
	}
	p.engine.set(engine)
	p.logger.WarnContext(ctx, "market engine rebound", slog.String("current", engine.Hex()))
	return nil
}

// receive credits amount to the pool balance inside tx.
func (p *FundingPool) receive(tx *ledger.Tx, caller common.Address, amount decimal.Decimal) error {
	if caller != p.engine.get() {
		return fmt.Errorf("%w: %s is not the market engine", domain.ErrUnauthorized, caller.Hex())
	}
	pool := tx.Pool()
	if pool.Paused {
		return domain.ErrPaused
	}
	pool.Balance = pool.Balance.Add(amount)
	tx.PutPool(pool)
	tx.Emit(domain.EventFundsReceived, map[string]any{
		"amount":  amount.String(),
		"balance": pool.Balance.String(),
	})
	return nil
}

// mutable runs the shared authority and pause checks for pool mutations.
func (p *FundingPool) mutable(tx *ledger.Tx, caller common.Address) error {
	if err := requireAuthority(caller, p.authority); err != nil {
		return err
	}
	if tx.Pool().Paused {
		return domain.ErrPaused
	}
	return nil
}

// AllocateToProject earmarks amount of the unallocated balance for projectID.
func (p *FundingPool) AllocateToProject(ctx context.Context, caller common.Address, projectID string, amount decimal.Decimal) (domain.ProjectAllocation, error) {
	var out domain.ProjectAllocation
	_, err := p.ledger.Update(ctx, func(tx *ledger.Tx) error {
		if err := p.mutable(tx, caller); err != nil {
			return err
		}
		var err error
		out, err = p.allocate(tx, projectID, amount)
		return err
	})
	if err != nil {
		return domain.ProjectAllocation{}, err
	}
	return out, nil
}

// BatchAllocate allocates amounts[i] to projectIDs[i]. Either every
// allocation applies or none does.
func (p *FundingPool) BatchAllocate(ctx context.Context, caller common.Address, projectIDs []string, amounts []decimal.Decimal) ([]domain.ProjectAllocation, error) {
	if len(projectIDs) != len(amounts) {
		return nil, fmt.Errorf("%w: %d projects, %d amounts", domain.ErrLengthMismatch, len(projectIDs), len(amounts))
	}
	if len(projectIDs) == 0 {
		return nil, fmt.Errorf("%w: empty batch", domain.ErrInvalidArgument)
	}
	var out []domain.ProjectAllocation
	_, err := p.ledger.Update(ctx, func(tx *ledger.Tx) error {
		if err := p.mutable(tx, caller); err != nil {
			return err
		}
		out = out[:0]
		for i, id := range projectIDs {
			a, err := p.allocate(tx, id, amounts[i])
			if err != nil {
				return fmt.Errorf("batch item %d: %w", i, err)
			}
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *FundingPool) allocate(tx *ledger.Tx, projectID string, amount decimal.Decimal) (domain.ProjectAllocation, error) {
	if projectID == "" {
		return domain.ProjectAllocation{}, fmt.Errorf("%w: project id is required", domain.ErrInvalidArgument)
	}
	if err := checkAmount(amount); err != nil {
		return domain.ProjectAllocation{}, err
	}
	pool := tx.Pool()
	if available := pool.Available(); amount.GreaterThan(available) {
		return domain.ProjectAllocation{}, fmt.Errorf("%w: requested %s, available %s", domain.ErrInsufficientPool, amount, available)
	}
	pool.Allocated = pool.Allocated.Add(amount)
	tx.PutPool(pool)

	a := tx.Allocation(projectID)
	a.TotalAllocated = a.TotalAllocated.Add(amount)
	tx.PutAllocation(a)
	tx.Emit(domain.EventProjectAllocated, map[string]any{
		"project_id":      projectID,
		"amount":          amount.String(),
		"total_allocated": a.TotalAllocated.String(),
	})
	return tx.Allocation(projectID), nil
}

// ReleaseOnMilestone pays amount of projectID's pending allocation to the
// project owner once milestoneID is achieved. Each milestone releases at most
// once.
func (p *FundingPool) ReleaseOnMilestone(
	ctx context.Context,
	caller common.Address,
	projectID, milestoneID string,
	amount decimal.Decimal,
) (domain.MilestoneRelease, domain.Transfer, error) {
	if err := requireAuthority(caller, p.authority); err != nil {
		return domain.MilestoneRelease{}, domain.Transfer{}, err
	}
	if err := checkAmount(amount); err != nil {
		return domain.MilestoneRelease{}, domain.Transfer{}, err
	}

	reg := p.registry.Get()
	ms, err := reg.GetMilestone(ctx, milestoneID)
	if err != nil {
		return domain.MilestoneRelease{}, domain.Transfer{}, fmt.Errorf("funding_pool: milestone %s: %w", milestoneID, err)
	}
	if ms.ProjectID != projectID {
		return domain.MilestoneRelease{}, domain.Transfer{}, fmt.Errorf("%w: milestone %s belongs to %s", domain.ErrWrongProject, milestoneID, ms.ProjectID)
	}
	if !ms.Resolved || !ms.Achieved {
		return domain.MilestoneRelease{}, domain.Transfer{}, fmt.Errorf("milestone %s: %w", milestoneID, domain.ErrMilestoneNotAchieved)
	}
	owner, err := reg.GetProjectOwner(ctx, projectID)
	if err != nil {
		return domain.MilestoneRelease{}, domain.Transfer{}, fmt.Errorf("funding_pool: owner of %s: %w", projectID, err)
	}
	if err := requireAddress(owner, "project owner"); err != nil {
		return domain.MilestoneRelease{}, domain.Transfer{}, err
	}

	var (
		rel domain.MilestoneRelease
		t   domain.Transfer
	)
	_, err = p.ledger.Update(ctx, func(tx *ledger.Tx) error {
		if err := p.mutable(tx, caller); err != nil {
			return err
		}
		if prev, ok := tx.Release(milestoneID); ok {
			return fmt.Errorf("%w: milestone %s at %s", domain.ErrAlreadyReleased, milestoneID, prev.ReleasedAt.Format("2006-01-02T15:04:05Z"))
		}
		a := tx.Allocation(projectID)
		if pending := a.Pending(); amount.GreaterThan(pending) {
			return fmt.Errorf("%w: requested %s, pending %s", domain.ErrExceedsPending, amount, pending)
		}
		pool := tx.Pool()
		if amount.GreaterThan(pool.Allocated) {
			return fmt.Errorf("%w: requested %s, allocated %s", domain.ErrInsufficientPool, amount, pool.Allocated)
		}

		a.TotalReleased = a.TotalReleased.Add(amount)
		tx.PutAllocation(a)
		pool.Allocated = pool.Allocated.Sub(amount)
		pool.Distributed = pool.Distributed.Add(amount)
		tx.PutPool(pool)

		t = stageTransfer(tx, domain.TransferRelease, owner, amount, "milestone:"+milestoneID)
		rel = domain.MilestoneRelease{
			MilestoneID: milestoneID,
			ProjectID:   projectID,
			Recipient:   owner,
			Amount:      amount,
			TransferID:  t.ID,
			ReleasedAt:  tx.Now(),
		}
		tx.PutRelease(rel)
		tx.Emit(domain.EventFundsReleased, map[string]any{
			"project_id":   projectID,
			"milestone_id": milestoneID,
			"recipient":    owner.Hex(),
			"amount":       amount.String(),
			"transfer_id":  t.ID,
		})
		return nil
	})
	if err != nil {
		return domain.MilestoneRelease{}, domain.Transfer{}, err
	}

	p.logger.InfoContext(ctx, "milestone funds released",
		slog.String("project_id", projectID),
		slog.String("milestone_id", milestoneID),
		slog.String("amount", amount.String()),
	)
	sent, err := p.dispatcher.Dispatch(ctx, t.ID)
	if sent.ID != "" {
		t = sent
	}
	if err != nil {
		return rel, t, fmt.Errorf("funding_pool: release %s: %w", milestoneID, err)
	}
	return rel, t, nil
}

// GrantTokenAllocations grants the top winning bettors of marketID a fixed
// share of projectID's future tokens. Bettors rank by net stake, ties to the
// earlier bet. A project is granted once.
func (p *FundingPool) GrantTokenAllocations(ctx context.Context, caller common.Address, projectID string, marketID uint64) (domain.TokenGrant, error) {
	var g domain.TokenGrant
	_, err := p.ledger.Update(ctx, func(tx *ledger.Tx) error {
		if err := p.mutable(tx, caller); err != nil {
			return err
		}
		if _, ok := tx.Grant(projectID); ok {
			return fmt.Errorf("project %s: %w", projectID, domain.ErrAlreadyGranted)
		}
		m, ok := tx.Market(marketID)
		if !ok {
			return fmt.Errorf("market %d: %w", marketID, domain.ErrNotFound)
		}
		if m.ProjectID != projectID {
			return fmt.Errorf("%w: market %d belongs to %s", domain.ErrWrongProject, marketID, m.ProjectID)
		}
		if m.Status != domain.MarketStatusResolved {
			return fmt.Errorf("market %d: %w", marketID, domain.ErrMarketNotResolved)
		}

		var winners []domain.Bet
		for _, b := range tx.MarketBets(marketID) {
			if b.Side.Wins(m.Outcome) {
				winners = append(winners, b)
			}
		}
		if len(winners) == 0 {
			return fmt.Errorf("market %d: %w", marketID, domain.ErrNoBeneficiaries)
		}
		sort.SliceStable(winners, func(i, j int) bool {
			if c := winners[i].Amount.Cmp(winners[j].Amount); c != 0 {
				return c > 0
			}
			return winners[i].ID < winners[j].ID
		})
		if len(winners) > p.cfg.GrantTopN {
			winners = winners[:p.cfg.GrantTopN]
		}

		g = domain.TokenGrant{ProjectID: projectID, MarketID: marketID, GrantedAt: tx.Now()}
		for i, b := range winners {
			g.Allocations = append(g.Allocations, domain.TokenAllocation{
				Beneficiary: b.Bettor,
				ShareBps:    p.cfg.GrantBps,
				Rank:        i + 1,
				Stake:       b.Amount,
			})
		}
		tx.PutGrant(g)
		tx.Emit(domain.EventTokensGranted, map[string]any{
			"project_id":    projectID,
			"market_id":     marketID,
			"beneficiaries": len(g.Allocations),
			"share_bps":     p.cfg.GrantBps,
		})
		return nil
	})
	if err != nil {
		return domain.TokenGrant{}, err
	}
	return g, nil
}

// Pause blocks every pool mutation except emergency withdrawal.
func (p *FundingPool) Pause(ctx context.Context, caller common.Address) error {
	return p.setPaused(ctx, caller, true)
}

// Unpause lifts a pause.
func (p *FundingPool) Unpause(ctx context.Context, caller common.Address) error {
	return p.setPaused(ctx, caller, false)
}

func (p *FundingPool) setPaused(ctx context.Context, caller common.Address, paused bool) error {
	if err := requireAuthority(caller, p.authority); err != nil {
		return err
	}
	_, err := p.ledger.Update(ctx, func(tx *ledger.Tx) error {
		pool := tx.Pool()
		if pool.Paused == paused {
			return nil
		}
		pool.Paused = paused
		tx.PutPool(pool)
		evt := domain.EventPoolUnpaused
		if paused {
			evt = domain.EventPoolPaused
		}
		tx.Emit(evt, map[string]any{"by": caller.Hex()})
		return nil
	})
	if err != nil {
		return err
	}
	p.logger.WarnContext(ctx, "funding pool pause toggled", slog.Bool("paused", paused))
	return nil
}

// EmergencyWithdraw drains everything held by the pool to `to` and cancels
// all outstanding allocations. It works while paused.
func (p *FundingPool) EmergencyWithdraw(ctx context.Context, caller, to common.Address) (domain.Transfer, error) {
	if err := requireAuthority(caller, p.authority); err != nil {
		return domain.Transfer{}, err
	}
	if err := requireAddress(to, "recipient"); err != nil {
		return domain.Transfer{}, err
	}

	var t domain.Transfer
	_, err := p.ledger.Update(ctx, func(tx *ledger.Tx) error {
		pool := tx.Pool()
		held := pool.Held()
		if !held.IsPositive() {
			return fmt.Errorf("pool: %w", domain.ErrNothingToSweep)
		}
		pool.Balance = pool.Balance.Sub(held)
		pool.Allocated = decimal.Zero
		tx.PutPool(pool)
		t = stageTransfer(tx, domain.TransferEmergency, to, held, "emergency")
		tx.Emit(domain.EventEmergencyWithdraw, map[string]any{
			"by":          caller.Hex(),
			"to":          to.Hex(),
			"amount":      held.String(),
			"transfer_id": t.ID,
		})
		return nil
	})
	if err != nil {
		return domain.Transfer{}, err
	}

	p.logger.ErrorContext(ctx, "EMERGENCY WITHDRAWAL from funding pool",
		slog.String("by", caller.Hex()),
		slog.String("to", to.Hex()),
		slog.String("amount", t.Amount.String()),
		slog.String("transfer_id", t.ID),
	)
	detail := map[string]any{"to": to.Hex(), "amount": t.Amount.String(), "transfer_id": t.ID}
	if err := p.audit.Log(ctx, domain.EventEmergencyWithdraw, detail); err != nil {
		p.logger.ErrorContext(ctx, "audit log emergency withdrawal failed", slog.String("error", err.Error()))
	}
	if p.alerter != nil {
		p.alerter.Alert(ctx, "Emergency withdrawal",
			fmt.Sprintf("%s withdrew %s from the funding pool to %s", caller.Hex(), t.Amount, to.Hex()))
	}

	sent, err := p.dispatcher.Dispatch(ctx, t.ID)
	if sent.ID != "" {
		t = sent
	}
	if err != nil {
		return t, fmt.Errorf("funding_pool: emergency withdraw: %w", err)
	}
	return t, nil
}

// PoolStats summarises the pool account.
type PoolStats struct {
	Balance     decimal.Decimal `json:"balance"`
	Allocated   decimal.Decimal `json:"allocated"`
	Distributed decimal.Decimal `json:"distributed"`
	Available   decimal.Decimal `json:"available"`
	Paused      bool            `json:"paused"`
}

// GetPoolStats returns the pool balances.
func (p *FundingPool) GetPoolStats(_ context.Context) (PoolStats, error) {
	var s PoolStats
	err := p.ledger.View(func(tx *ledger.Tx) error {
		pool := tx.Pool()
		s = PoolStats{
			Balance:     pool.Balance,
			Allocated:   pool.Allocated,
			Distributed: pool.Distributed,
			Available:   pool.Available(),
			Paused:      pool.Paused,
		}
		return nil
	})
	return s, err
}

// GetProjectAllocation returns projectID's allocation. Projects never
// allocated to have zero totals.
func (p *FundingPool) GetProjectAllocation(_ context.Context, projectID string) (domain.ProjectAllocation, error) {
	var a domain.ProjectAllocation
	err := p.ledger.View(func(tx *ledger.Tx) error {
		a = tx.Allocation(projectID)
		return nil
	})
	return a, err
}

// GetMilestoneRelease returns the release recorded for milestoneID.
func (p *FundingPool) GetMilestoneRelease(_ context.Context, milestoneID string) (domain.MilestoneRelease, error) {
	var r domain.MilestoneRelease
	err := p.ledger.View(func(tx *ledger.Tx) error {
		var ok bool
		if r, ok = tx.Release(milestoneID); !ok {
			return fmt.Errorf("release for %s: %w", milestoneID, domain.ErrNotFound)
		}
		return nil
	})
	return r, err
}

// GetTokenAllocation returns the grant made for projectID.
func (p *FundingPool) GetTokenAllocation(_ context.Context, projectID string) (domain.TokenGrant, error) {
	var g domain.TokenGrant
	err := p.ledger.View(func(tx *ledger.Tx) error {
		var ok bool
		if g, ok = tx.Grant(projectID); !ok {
			return fmt.Errorf("grant for %s: %w", projectID, domain.ErrNotFound)
		}
		return nil
	})
	return g, err
}

// GetUserProjectAllocation returns user's share of projectID's tokens in
// basis points, zero when user is not a beneficiary.
func (p *FundingPool) GetUserProjectAllocation(ctx context.Context, projectID string, user common.Address) (domain.TokenAllocation, error) {
	g, err := p.GetTokenAllocation(ctx, projectID)
	if err != nil {
		return domain.TokenAllocation{Beneficiary: user}, err
	}
	for _, a := range g.Allocations {
		if a.Beneficiary == user {
			return a, nil
		}
	}
	return domain.TokenAllocation{Beneficiary: user}, nil
}

// UserTokenAllocation is one project grant held by a user.
type UserTokenAllocation struct {
	ProjectID string `json:"project_id"`
	MarketID  uint64 `json:"market_id"`
	domain.TokenAllocation
}

// GetUserTokenAllocations returns every token allocation user holds across
// projects, ordered by project id.
func (p *FundingPool) GetUserTokenAllocations(_ context.Context, user common.Address) ([]UserTokenAllocation, error) {
	var out []UserTokenAllocation
	err := p.ledger.View(func(tx *ledger.Tx) error {
		for _, g := range tx.Grants() {
			for _, a := range g.Allocations {
				if a.Beneficiary == user {
					out = append(out, UserTokenAllocation{ProjectID: g.ProjectID, MarketID: g.MarketID, TokenAllocation: a})
				}
			}
		}
		return nil
	})
	return out, err
}
