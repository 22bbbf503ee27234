package vault

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryVault keeps credentials in process memory.
type MemoryVault struct {
	mu    sync.RWMutex
	creds map[string]Credential
	now   func() time.Time
}

// NewMemoryVault returns an empty MemoryVault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{creds: make(map[string]Credential), now: time.Now}
}

func (m *MemoryVault) Save(_ context.Context, cred Credential) error {
	if cred.TenantID == "" {
		return fmt.Errorf("vault: save: tenant id is required")
	}
	if cred.AccessToken == "" {
		return fmt.Errorf("vault: save %s: access token is required", cred.TenantID)
	}
	cred.UpdatedAt = m.now()
	m.mu.Lock()
	m.creds[cred.TenantID] = cred
	m.mu.Unlock()
	return nil
}

func (m *MemoryVault) Get(_ context.Context, tenantID string) (Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.creds[tenantID]
	if !ok {
		return Credential{}, fmt.Errorf("vault: get %s: %w", tenantID, ErrTenantNotOnboarded)
	}
	return c, nil
}

func (m *MemoryVault) Delete(_ context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.creds[tenantID]; !ok {
		return fmt.Errorf("vault: delete %s: %w", tenantID, ErrTenantNotOnboarded)
	}
	delete(m.creds, tenantID)
	return nil
}

func (m *MemoryVault) List(context.Context) ([]Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Credential, 0, len(m.creds))
	for _, c := range m.creds {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}
