package registry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/stakefund/internal/domain"
)

// Cached decorates a registry with a cache. Resolved milestones never change
// and are kept for resolvedTTL; unresolved ones for pendingTTL so resolution
// is noticed promptly.
type Cached struct {
	next        domain.Registry
	cache       domain.RegistryCache
	pendingTTL  time.Duration
	resolvedTTL time.Duration
	logger      *slog.Logger
}

// NewCached wraps next with cache.
func NewCached(next domain.Registry, cache domain.RegistryCache, pendingTTL, resolvedTTL time.Duration, logger *slog.Logger) *Cached {
	if pendingTTL <= 0 {
		pendingTTL = 30 * time.Second
	}
	if resolvedTTL <= 0 {
		resolvedTTL = 24 * time.Hour
	}
	return &Cached{
		next:        next,
		cache:       cache,
		pendingTTL:  pendingTTL,
		resolvedTTL: resolvedTTL,
		logger:      logger.With(slog.String("component", "registry_cache")),
	}
}

// GetMilestone implements domain.Registry.
func (c *Cached) GetMilestone(ctx context.Context, id string) (domain.Milestone, error) {
	m, err := c.cache.GetMilestone(ctx, id)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		c.logger.WarnContext(ctx, "registry cache read failed", slog.String("error", err.Error()))
	}

	m, err = c.next.GetMilestone(ctx, id)
	if err != nil {
		return domain.Milestone{}, err
	}
	ttl := c.pendingTTL
	if m.Resolved {
		ttl = c.resolvedTTL
	}
	if err := c.cache.SetMilestone(ctx, m, ttl); err != nil {
		c.logger.WarnContext(ctx, "registry cache write failed", slog.String("error", err.Error()))
	}
	return m, nil
}

// GetProjectOwner implements domain.Registry.
func (c *Cached) GetProjectOwner(ctx context.Context, projectID string) (common.Address, error) {
	owner, err := c.cache.GetOwner(ctx, projectID)
	if err == nil {
		return owner, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		c.logger.WarnContext(ctx, "registry cache read failed", slog.String("error", err.Error()))
	}

	owner, err = c.next.GetProjectOwner(ctx, projectID)
	if err != nil {
		return common.Address{}, err
	}
	if err := c.cache.SetOwner(ctx, projectID, owner, c.pendingTTL); err != nil {
		c.logger.WarnContext(ctx, "registry cache write failed", slog.String("error", err.Error()))
	}
	return owner, nil
}

var _ domain.Registry = (*Cached)(nil)
