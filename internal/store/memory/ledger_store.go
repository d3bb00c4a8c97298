// Package memory implements the store interfaces in process memory. It backs
// dev mode and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/stakefund/internal/domain"
)

// LedgerStore implements domain.LedgerStore without persistence.
type LedgerStore struct {
	mu          sync.Mutex
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
	failNext    error
}

// NewLedgerStore creates an empty LedgerStore.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
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

// FailNextCommit makes the next Commit return err without writing anything.
func (s *LedgerStore) FailNextCommit(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

// Events returns every event committed so far.
func (s *LedgerStore) Events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.events...)
}

// EventsBefore returns committed events strictly before the cutoff, oldest
// first.
func (s *LedgerStore) EventsBefore(_ context.Context, before time.Time) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, e := range s.events {
		if e.At.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Load returns a copy of everything committed so far.
func (s *LedgerStore) Load(_ context.Context) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := domain.Snapshot{Engine: s.engine, Pool: s.pool}
	for _, v := range s.markets {
		snap.Markets = append(snap.Markets, v)
	}
	sort.Slice(snap.Markets, func(i, j int) bool { return snap.Markets[i].ID < snap.Markets[j].ID })
	for _, v := range s.bets {
		snap.Bets = append(snap.Bets, v)
	}
	sort.Slice(snap.Bets, func(i, j int) bool { return snap.Bets[i].ID < snap.Bets[j].ID })
	for _, v := range s.allocations {
		snap.Allocations = append(snap.Allocations, v)
	}
	for _, v := range s.releases {
		snap.Releases = append(snap.Releases, v)
	}
	for _, v := range s.grants {
		snap.Grants = append(snap.Grants, v)
	}
	for _, v := range s.stats {
		snap.Stats = append(snap.Stats, v)
	}
	for _, v := range s.badges {
		snap.Badges = append(snap.Badges, v)
	}
	sort.Slice(snap.Badges, func(i, j int) bool { return snap.Badges[i].ID < snap.Badges[j].ID })
	for _, v := range s.transfers {
		snap.Transfers = append(snap.Transfers, v)
	}
	return snap, nil
}

// Commit applies cs atomically.
func (s *LedgerStore) Commit(_ context.Context, cs domain.Changeset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failNext; err != nil {
		s.failNext = nil
		return err
	}
	if cs.Engine != nil {
		e := *cs.Engine
		s.engine = &e
	}
	if cs.Pool != nil {
		p := *cs.Pool
		s.pool = &p
	}
	for _, v := range cs.Markets {
		s.markets[v.ID] = v
	}
	for _, v := range cs.Bets {
		s.bets[v.ID] = v
	}
	for _, v := range cs.Allocations {
		s.allocations[v.ProjectID] = v
	}
	for _, v := range cs.Releases {
		s.releases[v.MilestoneID] = v
	}
	for _, v := range cs.Grants {
		s.grants[v.ProjectID] = v
	}
	for _, v := range cs.Stats {
		s.stats[v.Address] = v
	}
	for _, v := range cs.Badges {
		s.badges[v.ID] = v
	}
	for _, v := range cs.Transfers {
		s.transfers[v.ID] = v
	}
	s.events = append(s.events, cs.Events...)
	return nil
}

var _ domain.LedgerStore = (*LedgerStore)(nil)
