// Package custody keeps bet token ownership for a pool in memory.
package custody

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/rankpool/internal/domain"
)

// Registry mints dense token ids starting at zero.
type Registry struct {
	mu     sync.RWMutex
	owners []common.Address
	burned []bool
}

var _ domain.TokenCustody = (*Registry)(nil)

func New() *Registry {
	return &Registry{}
}

// Restore rebuilds a registry from persisted owners and burn flags.
func Restore(owners []common.Address, burned []bool) (*Registry, error) {
	if len(owners) != len(burned) {
		return nil, fmt.Errorf("custody: %d owners, %d burn flags", len(owners), len(burned))
	}
	return &Registry{
		owners: append([]common.Address(nil), owners...),
		burned: append([]bool(nil), burned...),
	}, nil
}

func (r *Registry) Mint(_ context.Context, owner common.Address) (uint64, error) {
	if owner == (common.Address{}) {
		return 0, fmt.Errorf("custody: mint to zero address: %w", domain.ErrInvalidPoolParams)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uint64(len(r.owners))
	r.owners = append(r.owners, owner)
	r.burned = append(r.burned, false)
	return id, nil
}

func (r *Registry) OwnerOf(_ context.Context, tokenID uint64) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.live(tokenID) {
		return common.Address{}, fmt.Errorf("custody: token %d: %w", tokenID, domain.ErrNotFound)
	}
	return r.owners[tokenID], nil
}

func (r *Registry) Burn(_ context.Context, tokenID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.live(tokenID) {
		return fmt.Errorf("custody: burn token %d: %w", tokenID, domain.ErrNotFound)
	}
	r.burned[tokenID] = true
	return nil
}

// Transfer moves a live token from its current owner to to.
func (r *Registry) Transfer(_ context.Context, tokenID uint64, from, to common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.live(tokenID) {
		return fmt.Errorf("custody: transfer token %d: %w", tokenID, domain.ErrNotFound)
	}
	if r.owners[tokenID] != from {
		return fmt.Errorf("custody: transfer token %d from non-owner %s: %w", tokenID, from.Hex(), domain.ErrUnauthorized)
	}
	if to == (common.Address{}) {
		return fmt.Errorf("custody: transfer token %d to zero address: %w", tokenID, domain.ErrInvalidPoolParams)
	}
	r.owners[tokenID] = to
	return nil
}

// Owners returns the owner and burn flag of every minted token.
func (r *Registry) Owners() (owners []common.Address, burned []bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]common.Address(nil), r.owners...), append([]bool(nil), r.burned...)
}

func (r *Registry) live(tokenID uint64) bool {
	return tokenID < uint64(len(r.owners)) && !r.burned[tokenID]
}
