package service

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/stakefund/internal/domain"
)

// binding is a rebindable privileged address.
type binding struct {
	mu   sync.RWMutex
	addr common.Address
}

func (b *binding) get() common.Address {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.addr
}

func (b *binding) set(addr common.Address) {
	b.mu.Lock()
	b.addr = addr
	b.mu.Unlock()
}

// requireAuthority fails unless caller is the authority.
func requireAuthority(caller, authority common.Address) error {
	if caller != authority || caller == (common.Address{}) {
		return fmt.Errorf("%w: %s is not the authority", domain.ErrUnauthorized, caller.Hex())
	}
	return nil
}

func requireAddress(addr common.Address, what string) error {
	if addr == (common.Address{}) {
		return fmt.Errorf("%w: %s must not be the zero address", domain.ErrInvalidArgument, what)
	}
	return nil
}

// RegistryRef is the registry collaborator shared by the market engine and
// the funding pool. The authority may rebind it at runtime.
type RegistryRef struct {
	mu  sync.RWMutex
	reg domain.Registry
}

// NewRegistryRef wraps reg.
func NewRegistryRef(reg domain.Registry) *RegistryRef {
	return &RegistryRef{reg: reg}
}

// Get returns the current registry.
func (r *RegistryRef) Get() domain.Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reg
}

func (r *RegistryRef) set(reg domain.Registry) {
	r.mu.Lock()
	r.reg = reg
	r.mu.Unlock()
}
