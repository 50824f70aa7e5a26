package viewer

import (
	"context"
	"sync"
	"time"

	"github.com/itogeo/hometownmap/internal/core/model"
)

// Pool hands out one Session per tenant for server-side use (the
// classification API). Sessions are created lazily and evicted when a
// tenant's data is republished or the session sits idle too long.
type Pool struct {
	opts    Options
	idleTTL time.Duration

	mu       sync.Mutex
	sessions map[model.TenantID]*poolEntry
	now      func() time.Time // for tests
}

type poolEntry struct {
	s        *Session
	lastUsed time.Time
}

func NewPool(opts Options, idleTTL time.Duration) *Pool {
	return &Pool{
		opts:     opts,
		idleTTL:  idleTTL,
		sessions: map[model.TenantID]*poolEntry{},
		now:      time.Now,
	}
}

// Get returns the tenant's session, creating and activating it on
// first use.
func (p *Pool) Get(ctx context.Context, tenant model.TenantID) *Session {
	p.mu.Lock()
	p.evictIdleLocked()
	e, ok := p.sessions[tenant]
	if !ok {
		e = &poolEntry{s: NewSession(p.opts)}
		p.sessions[tenant] = e
	}
	e.lastUsed = p.now()
	p.mu.Unlock()

	if !ok {
		e.s.SetTenant(ctx, tenant)
	}
	return e.s
}

// Invalidate drops a tenant's session so the next Get rebuilds it from
// fresh data.
func (p *Pool) Invalidate(tenant model.TenantID, _ model.LayerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, tenant)
}

func (p *Pool) evictIdleLocked() {
	if p.idleTTL <= 0 {
		return
	}
	cutoff := p.now().Add(-p.idleTTL)
	for tenant, e := range p.sessions {
		if e.lastUsed.Before(cutoff) {
			delete(p.sessions, tenant)
		}
	}
}

// Len reports the number of live sessions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}
