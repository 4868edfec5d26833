package backend

import (
	"context"
	"fmt"
	"sync"
)

// Pool is the process-global session registry: one logged-in client per
// tenant, reused across tickets within a run.
type Pool struct {
	mu      sync.Mutex
	clients map[string]Client
	dial    func() Client
}

// NewPool creates a pool. dial builds an unauthenticated client; it is
// called once per tenant.
func NewPool(dial func() Client) *Pool {
	return &Pool{
		clients: make(map[string]Client),
		dial:    dial,
	}
}

// ForTenant returns the tenant's logged-in client, logging in on first use.
func (p *Pool) ForTenant(ctx context.Context, tenant, email, password string) (Client, error) {
	p.mu.Lock()
	c, ok := p.clients[tenant]
	p.mu.Unlock()
	if ok {
		return c, nil
	}

	c = p.dial()
	if err := c.Login(ctx, email, password); err != nil {
		return nil, fmt.Errorf("login tenant %s: %w", tenant, err)
	}

	p.mu.Lock()
	// Another goroutine cannot race here under the per-ticket-sequential
	// model, but keep the check so the pool stays safe regardless.
	if existing, ok := p.clients[tenant]; ok {
		p.mu.Unlock()
		return existing, nil
	}
	p.clients[tenant] = c
	p.mu.Unlock()
	return c, nil
}
