package ledger

import (
	"bytes"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/stakefund/internal/domain"
)

// Tx stages writes over the committed state. Reads see the staged writes of
// the same Tx. Nothing reaches the committed state or the store until the
// function passed to Ledger.Update returns nil.
type Tx struct {
	st  *state
	now time.Time

	engine      *domain.EngineAccount
	pool        *domain.PoolAccount
	markets     map[uint64]domain.Market
	bets        map[uint64]domain.Bet
	allocations map[string]domain.ProjectAllocation
	releases    map[string]domain.MilestoneRelease
	grants      map[string]domain.TokenGrant
	stats       map[common.Address]domain.UserStats
	badges      map[uint64]domain.Badge
	transfers   map[string]domain.Transfer
	events      []domain.Event
}

func newTx(st *state, now time.Time) *Tx {
	return &Tx{
		st:          st,
		now:         now,
		markets:     make(map[uint64]domain.Market),
		bets:        make(map[uint64]domain.Bet),
		allocations: make(map[string]domain.ProjectAllocation),
		releases:    make(map[string]domain.MilestoneRelease),
		grants:      make(map[string]domain.TokenGrant),
		stats:       make(map[common.Address]domain.UserStats),
		badges:      make(map[uint64]domain.Badge),
		transfers:   make(map[string]domain.Transfer),
	}
}

// Now returns the timestamp shared by every write in the Tx.
func (tx *Tx) Now() time.Time { return tx.now }

// Engine returns the market engine account.
func (tx *Tx) Engine() domain.EngineAccount {
	if tx.engine != nil {
		return *tx.engine
	}
	return tx.st.engine
}

// PutEngine stages the engine account.
func (tx *Tx) PutEngine(e domain.EngineAccount) {
	e.UpdatedAt = tx.now
	tx.engine = &e
}

// Pool returns the funding pool account.
func (tx *Tx) Pool() domain.PoolAccount {
	if tx.pool != nil {
		return *tx.pool
	}
	return tx.st.pool
}

// PutPool stages the funding pool account.
func (tx *Tx) PutPool(p domain.PoolAccount) {
	p.UpdatedAt = tx.now
	tx.pool = &p
}

// Market returns the market with id.
func (tx *Tx) Market(id uint64) (domain.Market, bool) {
	if m, ok := tx.markets[id]; ok {
		return m, true
	}
	m, ok := tx.st.markets[id]
	return m, ok
}

// MarketByMilestone returns the market created for milestoneID.
func (tx *Tx) MarketByMilestone(milestoneID string) (domain.Market, bool) {
	for _, m := range tx.markets {
		if m.MilestoneID == milestoneID {
			return m, true
		}
	}
	id, ok := tx.st.byMilestone[milestoneID]
	if !ok {
		return domain.Market{}, false
	}
	return tx.Market(id)
}

// Markets returns every market ordered by id.
func (tx *Tx) Markets() []domain.Market {
	out := make([]domain.Market, 0, len(tx.st.markets)+len(tx.markets))
	for id, m := range tx.st.markets {
		if staged, ok := tx.markets[id]; ok {
			m = staged
		}
		out = append(out, m)
	}
	for id, m := range tx.markets {
		if _, ok := tx.st.markets[id]; !ok {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MarketCount returns the number of markets ever created.
func (tx *Tx) MarketCount() uint64 {
	n := uint64(len(tx.st.markets))
	for id := range tx.markets {
		if _, ok := tx.st.markets[id]; !ok {
			n++
		}
	}
	return n
}

// NextMarketID returns the id the next created market receives. Ids start at 1.
func (tx *Tx) NextMarketID() uint64 { return tx.MarketCount() + 1 }

// PutMarket stages a market.
func (tx *Tx) PutMarket(m domain.Market) { tx.markets[m.ID] = m }

// Bet returns the bet with id.
func (tx *Tx) Bet(id uint64) (domain.Bet, bool) {
	if b, ok := tx.bets[id]; ok {
		return b, true
	}
	b, ok := tx.st.bets[id]
	return b, ok
}

// Position returns bettor's bet in marketID.
func (tx *Tx) Position(marketID uint64, bettor common.Address) (domain.Bet, bool) {
	for _, b := range tx.bets {
		if b.MarketID == marketID && b.Bettor == bettor {
			return b, true
		}
	}
	id, ok := tx.st.byPosition[position{marketID, bettor}]
	if !ok {
		return domain.Bet{}, false
	}
	return tx.Bet(id)
}

// MarketBets returns the bets placed in marketID ordered by id.
func (tx *Tx) MarketBets(marketID uint64) []domain.Bet {
	ids := tx.st.marketBets[marketID]
	out := make([]domain.Bet, 0, len(ids))
	for _, id := range ids {
		b, _ := tx.Bet(id)
		out = append(out, b)
	}
	for id, b := range tx.bets {
		if _, ok := tx.st.bets[id]; !ok && b.MarketID == marketID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NextBetID returns the id the next placed bet receives.
func (tx *Tx) NextBetID() uint64 {
	n := uint64(len(tx.st.bets))
	for id := range tx.bets {
		if _, ok := tx.st.bets[id]; !ok {
			n++
		}
	}
	return n + 1
}

// PutBet stages a bet.
func (tx *Tx) PutBet(b domain.Bet) {
	b.UpdatedAt = tx.now
	tx.bets[b.ID] = b
}

// Allocation returns the allocation for projectID. A project never allocated
// to has a zero allocation.
func (tx *Tx) Allocation(projectID string) domain.ProjectAllocation {
	if a, ok := tx.allocations[projectID]; ok {
		return a
	}
	if a, ok := tx.st.allocations[projectID]; ok {
		return a
	}
	return domain.ProjectAllocation{ProjectID: projectID}
}

// PutAllocation stages a project allocation.
func (tx *Tx) PutAllocation(a domain.ProjectAllocation) {
	a.UpdatedAt = tx.now
	tx.allocations[a.ProjectID] = a
}

// Release returns the release recorded for milestoneID.
func (tx *Tx) Release(milestoneID string) (domain.MilestoneRelease, bool) {
	if r, ok := tx.releases[milestoneID]; ok {
		return r, true
	}
	r, ok := tx.st.releases[milestoneID]
	return r, ok
}

// PutRelease stages a milestone release.
func (tx *Tx) PutRelease(r domain.MilestoneRelease) { tx.releases[r.MilestoneID] = r }

// Grant returns the token grant for projectID.
func (tx *Tx) Grant(projectID string) (domain.TokenGrant, bool) {
	if g, ok := tx.grants[projectID]; ok {
		return g, true
	}
	g, ok := tx.st.grants[projectID]
	return g, ok
}

// Grants returns every token grant ordered by project id.
func (tx *Tx) Grants() []domain.TokenGrant {
	out := make([]domain.TokenGrant, 0, len(tx.st.grants)+len(tx.grants))
	for id, g := range tx.st.grants {
		if _, staged := tx.grants[id]; !staged {
			out = append(out, g)
		}
	}
	for _, g := range tx.grants {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProjectID < out[j].ProjectID })
	return out
}

// PutGrant stages a token grant.
func (tx *Tx) PutGrant(g domain.TokenGrant) { tx.grants[g.ProjectID] = g }

// Stats returns the stats of addr. An address with no history has zero stats.
func (tx *Tx) Stats(addr common.Address) domain.UserStats {
	if s, ok := tx.stats[addr]; ok {
		return s
	}
	if s, ok := tx.st.stats[addr]; ok {
		return s
	}
	return domain.UserStats{Address: addr}
}

// AllStats returns the stats of every address with history.
func (tx *Tx) AllStats() []domain.UserStats {
	out := make([]domain.UserStats, 0, len(tx.st.stats)+len(tx.stats))
	for addr, s := range tx.st.stats {
		if staged, ok := tx.stats[addr]; ok {
			s = staged
		}
		out = append(out, s)
	}
	for addr, s := range tx.stats {
		if _, ok := tx.st.stats[addr]; !ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return out
}

// PutStats stages stats.
func (tx *Tx) PutStats(s domain.UserStats) { tx.stats[s.Address] = s }

// Badge returns the badge with id.
func (tx *Tx) Badge(id uint64) (domain.Badge, bool) {
	if b, ok := tx.badges[id]; ok {
		return b, true
	}
	b, ok := tx.st.badges[id]
	return b, ok
}

// HasBadge reports whether owner holds a badge of kind.
func (tx *Tx) HasBadge(owner common.Address, kind domain.AchievementType) bool {
	for _, b := range tx.badges {
		if b.Owner == owner && b.Type == kind {
			return true
		}
	}
	id, ok := tx.st.byBadge[badgeKey{owner, kind}]
	if !ok {
		return false
	}
	if staged, moved := tx.badges[id]; moved && staged.Owner != owner {
		return false
	}
	return true
}

// UserBadges returns the badges held by owner ordered by id.
func (tx *Tx) UserBadges(owner common.Address) []domain.Badge {
	var out []domain.Badge
	for _, id := range tx.st.userBadges[owner] {
		b, _ := tx.Badge(id)
		if b.Owner == owner {
			out = append(out, b)
		}
	}
	for id, b := range tx.badges {
		prev, existed := tx.st.badges[id]
		if b.Owner == owner && (!existed || prev.Owner != owner) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NextBadgeID returns the id the next minted badge receives.
func (tx *Tx) NextBadgeID() uint64 {
	n := uint64(len(tx.st.badges))
	for id := range tx.badges {
		if _, ok := tx.st.badges[id]; !ok {
			n++
		}
	}
	return n + 1
}

// PutBadge stages a badge.
func (tx *Tx) PutBadge(b domain.Badge) { tx.badges[b.ID] = b }

// Transfer returns the transfer with id.
func (tx *Tx) Transfer(id string) (domain.Transfer, bool) {
	if t, ok := tx.transfers[id]; ok {
		return t, true
	}
	t, ok := tx.st.transfers[id]
	return t, ok
}

// Transfers returns transfers with the given status, or all of them when
// status is empty, oldest first.
func (tx *Tx) Transfers(status domain.TransferStatus) []domain.Transfer {
	var out []domain.Transfer
	add := func(t domain.Transfer) {
		if status == "" || t.Status == status {
			out = append(out, t)
		}
	}
	for id, t := range tx.st.transfers {
		if staged, ok := tx.transfers[id]; ok {
			t = staged
		}
		add(t)
	}
	for id, t := range tx.transfers {
		if _, ok := tx.st.transfers[id]; !ok {
			add(t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// PutTransfer stages a transfer.
func (tx *Tx) PutTransfer(t domain.Transfer) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = tx.now
	}
	t.UpdatedAt = tx.now
	tx.transfers[t.ID] = t
}

// Emit records an event to be committed and published with the Tx.
func (tx *Tx) Emit(eventType string, data map[string]any) {
	tx.events = append(tx.events, domain.Event{Type: eventType, Data: data, At: tx.now})
}

// changeset collects the staged writes in deterministic order.
func (tx *Tx) changeset() domain.Changeset {
	cs := domain.Changeset{Engine: tx.engine, Pool: tx.pool, Events: tx.events}
	for _, m := range tx.markets {
		cs.Markets = append(cs.Markets, m)
	}
	sort.Slice(cs.Markets, func(i, j int) bool { return cs.Markets[i].ID < cs.Markets[j].ID })
	for _, b := range tx.bets {
		cs.Bets = append(cs.Bets, b)
	}
	sort.Slice(cs.Bets, func(i, j int) bool { return cs.Bets[i].ID < cs.Bets[j].ID })
	for _, a := range tx.allocations {
		cs.Allocations = append(cs.Allocations, a)
	}
	sort.Slice(cs.Allocations, func(i, j int) bool { return cs.Allocations[i].ProjectID < cs.Allocations[j].ProjectID })
	for _, r := range tx.releases {
		cs.Releases = append(cs.Releases, r)
	}
	sort.Slice(cs.Releases, func(i, j int) bool { return cs.Releases[i].MilestoneID < cs.Releases[j].MilestoneID })
	for _, g := range tx.grants {
		cs.Grants = append(cs.Grants, g)
	}
	sort.Slice(cs.Grants, func(i, j int) bool { return cs.Grants[i].ProjectID < cs.Grants[j].ProjectID })
	for _, s := range tx.stats {
		cs.Stats = append(cs.Stats, s)
	}
	sort.Slice(cs.Stats, func(i, j int) bool {
		return bytes.Compare(cs.Stats[i].Address[:], cs.Stats[j].Address[:]) < 0
	})
	for _, b := range tx.badges {
		cs.Badges = append(cs.Badges, b)
	}
	sort.Slice(cs.Badges, func(i, j int) bool { return cs.Badges[i].ID < cs.Badges[j].ID })
	for _, t := range tx.transfers {
		cs.Transfers = append(cs.Transfers, t)
	}
	sort.Slice(cs.Transfers, func(i, j int) bool { return cs.Transfers[i].ID < cs.Transfers[j].ID })
	return cs
}
