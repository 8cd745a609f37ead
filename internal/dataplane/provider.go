package dataplane

import (
	"sync"
)

// DefaultWorkLimit is the number of contexts a provider is offered per
// Process tick before the engine asks it to yield.
const DefaultWorkLimit = 100

// -------------------------------------------------------------------------
// Provider Framework
// -------------------------------------------------------------------------

// ProviderImpl is implemented by dataplane providers. Start runs once at
// registration, Process on every engine work tick, and Finish twice at
// shutdown: first with early=true (stop I/O, cancel tasks) and then with
// early=false (release remaining state).
type ProviderImpl interface {
	Start(p *Provider) error
	Process(p *Provider)
	Finish(p *Provider, early bool)
}

// Provider is the engine-side handle of a registered provider: its input
// and output context queues plus the scheduling callbacks the provider
// implementation may invoke from any goroutine.
type Provider struct {
	name string
	eng  *Engine
	impl ProviderImpl

	mu  sync.Mutex
	in  []*Context
	out []*Context
}

// Name returns the provider registration name.
func (p *Provider) Name() string { return p.name }

// Engine returns the engine the provider is registered with.
func (p *Provider) Engine() *Engine { return p.eng }

// WorkLimit returns the per-tick context budget.
func (p *Provider) WorkLimit() int { return p.eng.workLimit }

// DequeueIn pops the next pending context, or nil when the input queue is
// empty.
func (p *Provider) DequeueIn() *Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.in) == 0 {
		return nil
	}
	ctx := p.in[0]
	copy(p.in, p.in[1:])
	p.in = p.in[:len(p.in)-1]
	return ctx
}

// EnqueueOut hands a finalized context back to the engine.
func (p *Provider) EnqueueOut(ctx *Context) {
	p.mu.Lock()
	p.out = append(p.out, ctx)
	p.mu.Unlock()
}

// OutLen returns the number of contexts waiting to be collected by the
// engine.
func (p *Provider) OutLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.out)
}

// InLen returns the number of contexts waiting to be processed.
func (p *Provider) InLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.in)
}

// WorkReady asks the engine to run another work tick soon. Safe to call
// from any goroutine.
func (p *Provider) WorkReady() {
	p.eng.kickWork()
}

func (p *Provider) enqueueIn(ctx *Context) {
	p.mu.Lock()
	p.in = append(p.in, ctx)
	p.mu.Unlock()
}

func (p *Provider) dequeueOut() *Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.out) == 0 {
		return nil
	}
	ctx := p.out[0]
	copy(p.out, p.out[1:])
	p.out = p.out[:len(p.out)-1]
	return ctx
}
