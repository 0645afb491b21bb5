package engine

import (
	"context"
	"fmt"
	"sync"
)

// StaticResolver maps owners to account lists. The mapping can be swapped
// wholesale on config reload; reads always see the latest committed set, so
// wildcard schedules resolved on the next pass pick up newly added accounts.
type StaticResolver struct {
	mu     sync.RWMutex
	owners map[string][]string
}

func NewStaticResolver(owners map[string][]string) *StaticResolver {
	r := &StaticResolver{}
	r.Replace(owners)
	return r
}

func (r *StaticResolver) Replace(owners map[string][]string) {
	cp := make(map[string][]string, len(owners))
	for owner, accounts := range owners {
		cp[owner] = append([]string(nil), accounts...)
	}
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *StaticResolver) AccessibleAccounts(ctx context.Context, owner string) ([]string, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	accounts, ok := r.owners[owner]
	if !ok {
		return nil, fmt.Errorf("unknown owner %q", owner)
	}
	return append([]string(nil), accounts...), nil
}
