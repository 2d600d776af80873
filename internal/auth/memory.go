package auth

import (
	"context"
	"sync"

	"aduanet.org/internal/ids"
)

var _ Store = (*MemStore)(nil)

// MemStore keeps all rows in process memory. It backs tests and the
// dev-mode server where no database is configured.
type MemStore struct {
	mu        sync.Mutex
	profiles  map[string]*Profile
	companies map[string]map[string]any
	tokens    map[string]*RefreshToken
}

func NewMemStore() *MemStore {
	return &MemStore{
		profiles:  make(map[string]*Profile),
		companies: make(map[string]map[string]any),
		tokens:    make(map[string]*RefreshToken),
	}
}

func (m *MemStore) Profiles(context.Context) ProfileStore           { return (*memProfiles)(m) }
func (m *MemStore) Companies(context.Context) CompanyStore          { return (*memCompanies)(m) }
func (m *MemStore) RefreshTokens(context.Context) RefreshTokenStore { return (*memTokens)(m) }

type memProfiles MemStore

func (m *memProfiles) Create(ctx context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = ids.New()
	}
	cp := *p
	m.profiles[p.ID] = &cp
	return nil
}

func (m *memProfiles) Find(ctx context.Context, id string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memProfiles) FindByEmail(ctx context.Context, email string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if p.Email == email {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memProfiles) SetEmailVerified(ctx context.Context, id string, verified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return ErrNotFound
	}
	p.EmailVerified = verified
	return nil
}

func (m *memProfiles) SetCompany(ctx context.Context, id, companyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return ErrNotFound
	}
	p.CompanyID = companyID
	return nil
}

type memCompanies MemStore

func (m *memCompanies) Create(ctx context.Context, row map[string]any) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, _ := row["id"].(string)
	if id == "" {
		id = ids.New()
		row["id"] = id
	}
	stored := make(map[string]any, len(row))
	for k, v := range row {
		stored[k] = v
	}
	m.companies[id] = stored
	return copyRow(stored), nil
}

func (m *memCompanies) Find(ctx context.Context, id string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.companies[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRow(row), nil
}

func (m *memCompanies) Update(ctx context.Context, id string, patch map[string]any) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.companies[id]
	if !ok {
		return nil, ErrNotFound
	}
	for k, v := range patch {
		row[k] = v
	}
	return copyRow(row), nil
}

type memTokens MemStore

func (m *memTokens) Create(ctx context.Context, tok *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	cp := *tok
	m.tokens[tok.ID] = &cp
	return nil
}

func (m *memTokens) Find(ctx context.Context, id string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (m *memTokens) MarkRevoked(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tok, ok := m.tokens[id]; ok {
		tok.Revoked = true
	}
	return nil
}

func (m *memTokens) MarkRevokedByProfile(ctx context.Context, profileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tok := range m.tokens {
		if tok.ProfileID == profileID {
			tok.Revoked = true
		}
	}
	return nil
}

func copyRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}
