// Package ledger owns the in-memory settlement state shared by the market
// engine, the funding pool and the reputation ledger. Every mutation runs
// under one exclusive lock and is committed to the store before it becomes
// visible, so a failed operation leaves no trace.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/stakefund/internal/domain"
)

// Hook runs after a changeset has been committed and applied. Hooks run
// outside the ledger lock and must not block for long.
type Hook func(ctx context.Context, cs domain.Changeset)

// Ledger serialises every state change of the settlement engine.
type Ledger struct {
	mu     sync.RWMutex
	st     *state
	store  domain.LedgerStore
	now    func() time.Time
	logger *slog.Logger

	hookMu sync.RWMutex
	hooks  []Hook
}

// Open loads the persisted state from store. genesis seeds the engine
// parameters when the store holds no engine account yet.
func Open(ctx context.Context, store domain.LedgerStore, genesis domain.EngineAccount, logger *slog.Logger) (*Ledger, error) {
	snap, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: load snapshot: %w", err)
	}

	st := newState(genesis)
	st.load(snap)

	l := &Ledger{
		st:     st,
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "ledger")),
	}
	l.logger.InfoContext(ctx, "ledger loaded",
		slog.Int("markets", len(snap.Markets)),
		slog.Int("bets", len(snap.Bets)),
		slog.Int("badges", len(snap.Badges)),
		slog.Int("transfers", len(snap.Transfers)),
	)
	return l, nil
}

// SetClock replaces the time source. Intended for tests.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

// OnCommit registers a hook called after every successful commit.
func (l *Ledger) OnCommit(h Hook) {
	l.hookMu.Lock()
	l.hooks = append(l.hooks, h)
	l.hookMu.Unlock()
}

// Update runs fn with exclusive access to the ledger. If fn returns an error
// nothing it staged is kept and the error is returned unchanged. Otherwise the
// staged writes are committed to the store in one transaction and then
// applied in memory.
func (l *Ledger) Update(ctx context.Context, fn func(tx *Tx) error) (domain.Changeset, error) {
	l.mu.Lock()

	tx := newTx(l.st, l.now())
	if err := fn(tx); err != nil {
		l.mu.Unlock()
		return domain.Changeset{}, err
	}

	cs := tx.changeset()
	if cs.Empty() {
		l.mu.Unlock()
		return cs, nil
	}
	if err := l.store.Commit(ctx, cs); err != nil {
		l.mu.Unlock()
		return domain.Changeset{}, fmt.Errorf("ledger: commit: %w", err)
	}
	l.st.apply(cs)
	l.mu.Unlock()

	l.hookMu.RLock()
	hooks := l.hooks
	l.hookMu.RUnlock()
	for _, h := range hooks {
		h(ctx, cs)
	}
	return cs, nil
}

// View runs fn against the committed state under a shared lock. Writes staged
// through the Tx inside View are discarded.
func (l *Ledger) View(fn func(tx *Tx) error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fn(newTx(l.st, l.now()))
}
