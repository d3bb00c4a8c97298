package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/stakefund/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL. Every changeset
// is written in a single transaction; amounts are bound as decimal strings
// and scanned back through decimal.Decimal's sql.Scanner.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Load reads every ledger table.
func (s *LedgerStore) Load(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot

	var eng domain.EngineAccount
	err := s.pool.QueryRow(ctx,
		`SELECT fee_balance, total_swept, min_bet, fee_bps, updated_at FROM engine_account WHERE id = 1`,
	).Scan(&eng.FeeBalance, &eng.TotalSwept, &eng.MinBet, &eng.FeeBps, &eng.UpdatedAt)
	switch {
	case err == nil:
		snap.Engine = &eng
	case !errors.Is(err, pgx.ErrNoRows):
		return snap, fmt.Errorf("postgres: load engine account: %w", err)
	}

	var pool domain.PoolAccount
	err = s.pool.QueryRow(ctx,
		`SELECT balance, allocated, distributed, paused, updated_at FROM pool_account WHERE id = 1`,
	).Scan(&pool.Balance, &pool.Allocated, &pool.Distributed, &pool.Paused, &pool.UpdatedAt)
	switch {
	case err == nil:
		snap.Pool = &pool
	case !errors.Is(err, pgx.ErrNoRows):
		return snap, fmt.Errorf("postgres: load pool account: %w", err)
	}

	if snap.Markets, err = s.loadMarkets(ctx); err != nil {
		return snap, err
	}
	if snap.Bets, err = s.loadBets(ctx); err != nil {
		return snap, err
	}
	if snap.Allocations, err = s.loadAllocations(ctx); err != nil {
		return snap, err
	}
	if snap.Releases, err = s.loadReleases(ctx); err != nil {
		return snap, err
	}
	if snap.Grants, err = s.loadGrants(ctx); err != nil {
		return snap, err
	}
	if snap.Stats, err = s.loadStats(ctx); err != nil {
		return snap, err
	}
	if snap.Badges, err = s.loadBadges(ctx); err != nil {
		return snap, err
	}
	if snap.Transfers, err = s.loadTransfers(ctx); err != nil {
		return snap, err
	}
	return snap, nil
}

func (s *LedgerStore) loadMarkets(ctx context.Context) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, milestone_id, project_id, status, total_yes, total_no,
		       yes_stakers, no_stakers, outcome, paid_out, claims,
		       created_at, closed_at, resolved_at
		FROM markets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		var m domain.Market
		var status string
		if err := rows.Scan(
			&m.ID, &m.MilestoneID, &m.ProjectID, &status, &m.TotalYes, &m.TotalNo,
			&m.YesStakers, &m.NoStakers, &m.Outcome, &m.PaidOut, &m.Claims,
			&m.CreatedAt, &m.ClosedAt, &m.ResolvedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		m.Status = domain.MarketStatus(status)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load markets rows: %w", err)
	}
	return out, nil
}

func (s *LedgerStore) loadBets(ctx context.Context) ([]domain.Bet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, market_id, bettor, side, amount, claimed, reward, recorded,
		       created_at, updated_at
		FROM bets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load bets: %w", err)
	}
	defer rows.Close()

	var out []domain.Bet
	for rows.Next() {
		var b domain.Bet
		var bettor, side string
		if err := rows.Scan(
			&b.ID, &b.MarketID, &bettor, &side, &b.Amount, &b.Claimed, &b.Reward, &b.Recorded,
			&b.CreatedAt, &b.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		b.Bettor = common.HexToAddress(bettor)
		b.Side = domain.Side(side)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load bets rows: %w", err)
	}
	return out, nil
}

func (s *LedgerStore) loadAllocations(ctx context.Context) ([]domain.ProjectAllocation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT project_id, total_allocated, total_released, updated_at
		FROM project_allocations ORDER BY project_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load allocations: %w", err)
	}
	defer rows.Close()

	var out []domain.ProjectAllocation
	for rows.Next() {
		var a domain.ProjectAllocation
		if err := rows.Scan(&a.ProjectID, &a.TotalAllocated, &a.TotalReleased, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan allocation: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load allocations rows: %w", err)
	}
	return out, nil
}

func (s *LedgerStore) loadReleases(ctx context.Context) ([]domain.MilestoneRelease, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT milestone_id, project_id, recipient, amount, transfer_id, released_at
		FROM milestone_releases ORDER BY milestone_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load releases: %w", err)
	}
	defer rows.Close()

	var out []domain.MilestoneRelease
	for rows.Next() {
		var r domain.MilestoneRelease
		var recipient string
		if err := rows.Scan(&r.MilestoneID, &r.ProjectID, &recipient, &r.Amount, &r.TransferID, &r.ReleasedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan release: %w", err)
		}
		r.Recipient = common.HexToAddress(recipient)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load releases rows: %w", err)
	}
	return out, nil
}

func (s *LedgerStore) loadGrants(ctx context.Context) ([]domain.TokenGrant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT project_id, market_id, allocations, granted_at
		FROM token_grants ORDER BY project_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load grants: %w", err)
	}
	defer rows.Close()

	var out []domain.TokenGrant
	for rows.Next() {
		var g domain.TokenGrant
		var allocJSON []byte
		if err := rows.Scan(&g.ProjectID, &g.MarketID, &allocJSON, &g.GrantedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan grant: %w", err)
		}
		if err := json.Unmarshal(allocJSON, &g.Allocations); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal grant %s: %w", g.ProjectID, err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load grants rows: %w", err)
	}
	return out, nil
}

func (s *LedgerStore) loadStats(ctx context.Context) ([]domain.UserStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT address, total_predictions, total_wins, total_losses,
		       current_streak, longest_streak, total_wagered, total_earnings, updated_at
		FROM user_stats`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load user stats: %w", err)
	}
	defer rows.Close()

	var out []domain.UserStats
	for rows.Next() {
		var st domain.UserStats
		var addr string
		if err := rows.Scan(
			&addr, &st.TotalPredictions, &st.TotalWins, &st.TotalLosses,
			&st.CurrentStreak, &st.LongestStreak, &st.TotalWagered, &st.TotalEarnings, &st.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan user stats: %w", err)
		}
		st.Address = common.HexToAddress(addr)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load user stats rows: %w", err)
	}
	return out, nil
}

func (s *LedgerStore) loadBadges(ctx context.Context) ([]domain.Badge, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner, type, soulbound, market_id, note, minted_at
		FROM badges ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load badges: %w", err)
	}
	defer rows.Close()

	var out []domain.Badge
	for rows.Next() {
		var b domain.Badge
		var owner, kind string
		if err := rows.Scan(&b.ID, &owner, &kind, &b.Soulbound, &b.MarketID, &b.Note, &b.MintedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan badge: %w", err)
		}
		b.Owner = common.HexToAddress(owner)
		b.Type = domain.AchievementType(kind)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load badges rows: %w", err)
	}
	return out, nil
}

func (s *LedgerStore) loadTransfers(ctx context.Context) ([]domain.Transfer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, recipient, amount, reference, status, tx_ref, error,
		       attempts, created_at, updated_at
		FROM transfers ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load transfers: %w", err)
	}
	defer rows.Close()

	var out []domain.Transfer
	for rows.Next() {
		var t domain.Transfer
		var kind, to, status string
		if err := rows.Scan(
			&t.ID, &kind, &to, &t.Amount, &t.Reference, &status, &t.TxRef, &t.Error,
			&t.Attempts, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan transfer: %w", err)
		}
		t.Kind = domain.TransferKind(kind)
		t.To = common.HexToAddress(to)
		t.Status = domain.TransferStatus(status)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load transfers rows: %w", err)
	}
	return out, nil
}

// Commit writes every row of cs and appends its events in one transaction.
func (s *LedgerStore) Commit(ctx context.Context, cs domain.Changeset) error {
	batch := &pgx.Batch{}

	if e := cs.Engine; e != nil {
		batch.Queue(`
			INSERT INTO engine_account (id, fee_balance, total_swept, min_bet, fee_bps, updated_at)
			VALUES (1, $1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				fee_balance = EXCLUDED.fee_balance,
				total_swept = EXCLUDED.total_swept,
				min_bet     = EXCLUDED.min_bet,
				fee_bps     = EXCLUDED.fee_bps,
				updated_at  = EXCLUDED.updated_at`,
			e.FeeBalance.String(), e.TotalSwept.String(), e.MinBet.String(), e.FeeBps, e.UpdatedAt,
		)
	}
	if p := cs.Pool; p != nil {
		batch.Queue(`
			INSERT INTO pool_account (id, balance, allocated, distributed, paused, updated_at)
			VALUES (1, $1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				balance     = EXCLUDED.balance,
				allocated   = EXCLUDED.allocated,
				distributed = EXCLUDED.distributed,
				paused      = EXCLUDED.paused,
				updated_at  = EXCLUDED.updated_at`,
			p.Balance.String(), p.Allocated.String(), p.Distributed.String(), p.Paused, p.UpdatedAt,
		)
	}
	for _, m := range cs.Markets {
		batch.Queue(`
			INSERT INTO markets (
				id, milestone_id, project_id, status, total_yes, total_no,
				yes_stakers, no_stakers, outcome, paid_out, claims,
				created_at, closed_at, resolved_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (id) DO UPDATE SET
				status      = EXCLUDED.status,
				total_yes   = EXCLUDED.total_yes,
				total_no    = EXCLUDED.total_no,
				yes_stakers = EXCLUDED.yes_stakers,
				no_stakers  = EXCLUDED.no_stakers,
				outcome     = EXCLUDED.outcome,
				paid_out    = EXCLUDED.paid_out,
				claims      = EXCLUDED.claims,
				closed_at   = EXCLUDED.closed_at,
				resolved_at = EXCLUDED.resolved_at`,
			m.ID, m.MilestoneID, m.ProjectID, string(m.Status), m.TotalYes.String(), m.TotalNo.String(),
			m.YesStakers, m.NoStakers, m.Outcome, m.PaidOut.String(), m.Claims,
			m.CreatedAt, m.ClosedAt, m.ResolvedAt,
		)
	}
	for _, b := range cs.Bets {
		batch.Queue(`
			INSERT INTO bets (
				id, market_id, bettor, side, amount, claimed, reward, recorded,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO UPDATE SET
				amount     = EXCLUDED.amount,
				claimed    = EXCLUDED.claimed,
				reward     = EXCLUDED.reward,
				recorded   = EXCLUDED.recorded,
				updated_at = EXCLUDED.updated_at`,
			b.ID, b.MarketID, b.Bettor.Hex(), string(b.Side), b.Amount.String(), b.Claimed, b.Reward.String(), b.Recorded,
			b.CreatedAt, b.UpdatedAt,
		)
	}
	for _, a := range cs.Allocations {
		batch.Queue(`
			INSERT INTO project_allocations (project_id, total_allocated, total_released, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (project_id) DO UPDATE SET
				total_allocated = EXCLUDED.total_allocated,
				total_released  = EXCLUDED.total_released,
				updated_at      = EXCLUDED.updated_at`,
			a.ProjectID, a.TotalAllocated.String(), a.TotalReleased.String(), a.UpdatedAt,
		)
	}
	for _, r := range cs.Releases {
		batch.Queue(`
			INSERT INTO milestone_releases (milestone_id, project_id, recipient, amount, transfer_id, released_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			r.MilestoneID, r.ProjectID, r.Recipient.Hex(), r.Amount.String(), r.TransferID, r.ReleasedAt,
		)
	}
	for _, g := range cs.Grants {
		allocJSON, err := json.Marshal(g.Allocations)
		if err != nil {
			return fmt.Errorf("postgres: marshal grant %s: %w", g.ProjectID, err)
		}
		batch.Queue(`
			INSERT INTO token_grants (project_id, market_id, allocations, granted_at)
			VALUES ($1, $2, $3, $4)`,
			g.ProjectID, g.MarketID, allocJSON, g.GrantedAt,
		)
	}
	for _, st := range cs.Stats {
		batch.Queue(`
			INSERT INTO user_stats (
				address, total_predictions, total_wins, total_losses,
				current_streak, longest_streak, total_wagered, total_earnings, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (address) DO UPDATE SET
				total_predictions = EXCLUDED.total_predictions,
				total_wins        = EXCLUDED.total_wins,
				total_losses      = EXCLUDED.total_losses,
				current_streak    = EXCLUDED.current_streak,
				longest_streak    = EXCLUDED.longest_streak,
				total_wagered     = EXCLUDED.total_wagered,
				total_earnings    = EXCLUDED.total_earnings,
				updated_at        = EXCLUDED.updated_at`,
			st.Address.Hex(), st.TotalPredictions, st.TotalWins, st.TotalLosses,
			st.CurrentStreak, st.LongestStreak, st.TotalWagered.String(), st.TotalEarnings.String(), st.UpdatedAt,
		)
	}
	// Badge transfers can swap (owner, type) pairs within one changeset, so
	// owners are moved aside before the upserts re-apply the final rows.
	if len(cs.Badges) > 0 {
		ids := make([]int64, len(cs.Badges))
		for i, b := range cs.Badges {
			ids[i] = int64(b.ID)
		}
		batch.Queue(`UPDATE badges SET owner = 'moving:' || id WHERE id = ANY($1)`, ids)
	}
	for _, b := range cs.Badges {
		batch.Queue(`
			INSERT INTO badges (id, owner, type, soulbound, market_id, note, minted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET owner = EXCLUDED.owner`,
			b.ID, b.Owner.Hex(), string(b.Type), b.Soulbound, b.MarketID, b.Note, b.MintedAt,
		)
	}
	for _, t := range cs.Transfers {
		batch.Queue(`
			INSERT INTO transfers (
				id, kind, recipient, amount, reference, status, tx_ref, error,
				attempts, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
				status     = EXCLUDED.status,
				tx_ref     = EXCLUDED.tx_ref,
				error      = EXCLUDED.error,
				attempts   = EXCLUDED.attempts,
				updated_at = EXCLUDED.updated_at`,
			t.ID, string(t.Kind), t.To.Hex(), t.Amount.String(), t.Reference, string(t.Status), t.TxRef, t.Error,
			t.Attempts, t.CreatedAt, t.UpdatedAt,
		)
	}
	for _, e := range cs.Events {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("postgres: marshal event %s: %w", e.Type, err)
		}
		batch.Queue(`INSERT INTO ledger_events (type, data, at) VALUES ($1, $2, $3)`, e.Type, data, e.At)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin ledger commit: %w", err)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("postgres: ledger commit: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit ledger tx: %w", err)
	}
	return nil
}

// EventsBefore returns ledger events strictly before the cutoff, oldest first.
func (s *LedgerStore) EventsBefore(ctx context.Context, before time.Time) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT type, data, at FROM ledger_events WHERE at < $1 ORDER BY id`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ledger events: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		var data []byte
		if err := rows.Scan(&e.Type, &data, &e.At); err != nil {
			return nil, fmt.Errorf("postgres: scan ledger event: %w", err)
		}
		if err := json.Unmarshal(data, &e.Data); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal ledger event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list ledger events rows: %w", err)
	}
	return out, nil
}

var _ domain.LedgerStore = (*LedgerStore)(nil)
