package ledger

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/stakefund/internal/domain"
)

type position struct {
	marketID uint64
	bettor   common.Address
}

type badgeKey struct {
	owner common.Address
	kind  domain.AchievementType
}

// state is the committed in-memory view of every ledger table plus the
// secondary indexes the services query by.
type state struct {
	engine domain.EngineAccount
	pool   domain.PoolAccount

	markets     map[uint64]domain.Market
	byMilestone map[string]uint64

	bets       map[uint64]domain.Bet
	byPosition map[position]uint64
	marketBets map[uint64][]uint64

	allocations map[string]domain.ProjectAllocation
	releases    map[string]domain.MilestoneRelease
	grants      map[string]domain.TokenGrant

	stats      map[common.Address]domain.UserStats
	badges     map[uint64]domain.Badge
	byBadge    map[badgeKey]uint64
	userBadges map[common.Address][]uint64

	transfers map[string]domain.Transfer
}

func newState(engine domain.EngineAccount) *state {
	return &state{
		engine:      engine,
		markets:     make(map[uint64]domain.Market),
		byMilestone: make(map[string]uint64),
		bets:        make(map[uint64]domain.Bet),
		byPosition:  make(map[position]uint64),
		marketBets:  make(map[uint64][]uint64),
		allocations: make(map[string]domain.ProjectAllocation),
		releases:    make(map[string]domain.MilestoneRelease),
		grants:      make(map[string]domain.TokenGrant),
		stats:       make(map[common.Address]domain.UserStats),
		badges:      make(map[uint64]domain.Badge),
		byBadge:     make(map[badgeKey]uint64),
		userBadges:  make(map[common.Address][]uint64),
		transfers:   make(map[string]domain.Transfer),
	}
}

func (s *state) load(snap domain.Snapshot) {
	if snap.Engine != nil {
		s.engine = *snap.Engine
	}
	if snap.Pool != nil {
		s.pool = *snap.Pool
	}
	s.apply(domain.Changeset{
		Markets:     snap.Markets,
		Bets:        snap.Bets,
		Allocations: snap.Allocations,
		Releases:    snap.Releases,
		Grants:      snap.Grants,
		Stats:       snap.Stats,
		Badges:      snap.Badges,
		Transfers:   snap.Transfers,
	})
}

// apply writes a committed changeset into the tables and keeps the indexes in
// step.
func (s *state) apply(cs domain.Changeset) {
	if cs.Engine != nil {
		s.engine = *cs.Engine
	}
	if cs.Pool != nil {
		s.pool = *cs.Pool
	}
	for _, m := range cs.Markets {
		s.markets[m.ID] = m
		s.byMilestone[m.MilestoneID] = m.ID
	}
	for _, b := range cs.Bets {
		if _, ok := s.bets[b.ID]; !ok {
			s.marketBets[b.MarketID] = append(s.marketBets[b.MarketID], b.ID)
			s.byPosition[position{b.MarketID, b.Bettor}] = b.ID
		}
		s.bets[b.ID] = b
	}
	for _, a := range cs.Allocations {
		s.allocations[a.ProjectID] = a
	}
	for _, r := range cs.Releases {
		s.releases[r.MilestoneID] = r
	}
	for _, g := range cs.Grants {
		s.grants[g.ProjectID] = g
	}
	for _, st := range cs.Stats {
		s.stats[st.Address] = st
	}
	for _, b := range cs.Badges {
		if prev, ok := s.badges[b.ID]; ok && prev.Owner != b.Owner {
			delete(s.byBadge, badgeKey{prev.Owner, prev.Type})
			s.userBadges[prev.Owner] = removeID(s.userBadges[prev.Owner], b.ID)
			if len(s.userBadges[prev.Owner]) == 0 {
				delete(s.userBadges, prev.Owner)
			}
		}
		if prev, ok := s.badges[b.ID]; !ok || prev.Owner != b.Owner {
			s.userBadges[b.Owner] = insertID(s.userBadges[b.Owner], b.ID)
		}
		s.byBadge[badgeKey{b.Owner, b.Type}] = b.ID
		s.badges[b.ID] = b
	}
	for _, t := range cs.Transfers {
		s.transfers[t.ID] = t
	}
}

func removeID(ids []uint64, id uint64) []uint64 {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func insertID(ids []uint64, id uint64) []uint64 {
	out := append(append([]uint64(nil), ids...), id)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
