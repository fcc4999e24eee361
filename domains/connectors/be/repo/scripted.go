package repo

import (
	"context"
	"sync"

	"github.com/arcims/arcims-web/domains/connectors/be/service"
)

// Step is one scripted answer to a status query.
type Step struct {
	State service.SetupState
	Err   error
}

// ScriptedProvider answers status queries from a per-tenant script, repeating the last step once
// the script is exhausted. It backs local development and tests.
type ScriptedProvider struct {
	mu      sync.Mutex
	setups  map[string]service.Setup
	scripts map[string][]Step
	calls   map[string]int
}

func NewScriptedProvider() *ScriptedProvider {
	return &ScriptedProvider{
		setups:  make(map[string]service.Setup),
		scripts: make(map[string][]Step),
		calls:   make(map[string]int),
	}
}

// SetSetup configures the provisioning answer for a tenant.
func (p *ScriptedProvider) SetSetup(tenantID string, setup service.Setup) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setups[tenantID] = setup
}

// Script replaces the status script for a tenant and resets its call counter.
func (p *ScriptedProvider) Script(tenantID string, steps ...Step) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[tenantID] = steps
	p.calls[tenantID] = 0
}

// Calls returns how many status queries the tenant received.
func (p *ScriptedProvider) Calls(tenantID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[tenantID]
}

func (p *ScriptedProvider) Setup(ctx context.Context, tenantID string) (service.Setup, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	setup, ok := p.setups[tenantID]
	if !ok {
		return service.Setup{}, service.ErrNotFound
	}
	return setup, nil
}

func (p *ScriptedProvider) Status(ctx context.Context, tenantID string) (service.Status, error) {
	if err := ctx.Err(); err != nil {
		return service.Status{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	i := p.calls[tenantID]
	p.calls[tenantID] = i + 1
	script, ok := p.scripts[tenantID]
	if !ok || len(script) == 0 {
		return service.Status{}, service.ErrNotFound
	}
	if i >= len(script) {
		i = len(script) - 1
	}
	step := script[i]
	if step.Err != nil {
		return service.Status{}, step.Err
	}

	connectorID := p.setups[tenantID].ConnectorID
	return service.Status{ConnectorID: connectorID, SetupState: step.State}, nil
}

// Ensure interface compliance.
var _ service.Provider = (*ScriptedProvider)(nil)
