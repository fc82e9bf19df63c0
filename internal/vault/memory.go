package vault

import (
	"context"
	"sync"

	"go-freight/internal/common/apperrors"
	"go-freight/internal/providers"
)

// MemoryVault keeps credentials in process memory. Used in tests.
type MemoryVault struct {
	mu    sync.RWMutex
	creds map[string]*providers.Credential
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{creds: make(map[string]*providers.Credential)}
}

func cloneCredential(cred *providers.Credential) *providers.Credential {
	clone := *cred
	if cred.OAuth != nil {
		o := *cred.OAuth
		clone.OAuth = &o
	}
	if cred.APIKey != nil {
		k := *cred.APIKey
		clone.APIKey = &k
	}
	if cred.SFTP != nil {
		s := *cred.SFTP
		clone.SFTP = &s
	}
	if cred.EDI != nil {
		e := *cred.EDI
		clone.EDI = &e
	}
	return &clone
}

func (v *MemoryVault) Read(_ context.Context, connectionID string) (*providers.Credential, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	cred, ok := v.creds[connectionID]
	if !ok {
		return nil, apperrors.NotFound("no credential for connection %s", connectionID)
	}
	return cloneCredential(cred), nil
}

func (v *MemoryVault) Write(_ context.Context, connectionID string, cred *providers.Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.creds[connectionID] = cloneCredential(cred)
	return nil
}

func (v *MemoryVault) Delete(_ context.Context, connectionID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.creds, connectionID)
	return nil
}
