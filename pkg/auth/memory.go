package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. A single mutex serialises every operation,
// which gives rotation and password change the same atomicity as the Postgres store.
type MemoryStore struct {
	mu          sync.Mutex
	staff       map[uuid.UUID]*Staff
	refresh     map[string]*RefreshToken
	invitations map[string]*InvitationToken
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		staff:       make(map[uuid.UUID]*Staff),
		refresh:     make(map[string]*RefreshToken),
		invitations: make(map[string]*InvitationToken),
	}
}

// PutStaff inserts or replaces a staff member
func (m *MemoryStore) PutStaff(staff *Staff) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *staff
	cp.Email = NormalizeEmail(cp.Email)
	m.staff[cp.ID] = &cp
}

func (m *MemoryStore) GetStaffByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*Staff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = NormalizeEmail(email)
	for _, s := range m.staff {
		if s.TenantID == tenantID && s.Email == email {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrStaffNotFound
}

func (m *MemoryStore) GetStaffByID(ctx context.Context, tenantID, staffID uuid.UUID) (*Staff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.staff[staffID]
	if !ok || s.TenantID != tenantID {
		return nil, ErrStaffNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) UpdateStaffProfile(ctx context.Context, staff *Staff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.staff[staff.ID]
	if !ok || s.TenantID != staff.TenantID {
		return ErrStaffNotFound
	}
	email := NormalizeEmail(staff.Email)
	for _, other := range m.staff {
		if other.ID != staff.ID && other.TenantID == staff.TenantID && other.Email == email {
			return ErrEmailInUse
		}
	}
	s.FullName = staff.FullName
	s.Email = email
	s.UpdatedAt = time.Now().UTC()
	staff.UpdatedAt = s.UpdatedAt
	return nil
}

func (m *MemoryStore) UpdatePasswordAndRevokeSessions(ctx context.Context, tenantID, staffID uuid.UUID, passwordHash string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.staff[staffID]
	if !ok || s.TenantID != tenantID {
		return 0, ErrStaffNotFound
	}
	s.PasswordHash = passwordHash
	s.UpdatedAt = time.Now().UTC()

	var revoked int64
	for _, t := range m.refresh {
		if t.StaffID == staffID && t.TenantID == tenantID && !t.Revoked {
			t.Revoked = true
			revoked++
		}
	}
	return revoked, nil
}

func (m *MemoryStore) CreateRefreshToken(ctx context.Context, token *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *token
	m.refresh[token.TokenHash] = &cp
	return nil
}

func (m *MemoryStore) RotateRefreshToken(ctx context.Context, tenantID uuid.UUID, presentedHash string, replacement *RefreshToken, now time.Time) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.refresh[presentedHash]
	if !ok || current.TenantID != tenantID {
		return nil, ErrTokenNotFound
	}
	if current.Revoked {
		delete(m.refresh, presentedHash)
		return nil, ErrTokenRevoked
	}
	if current.Expired(now) {
		delete(m.refresh, presentedHash)
		return nil, ErrTokenExpired
	}

	current.Revoked = true
	replacement.TenantID = current.TenantID
	replacement.StaffID = current.StaffID
	cp := *replacement
	m.refresh[replacement.TokenHash] = &cp

	old := *current
	return &old, nil
}

func (m *MemoryStore) RevokeRefreshToken(ctx context.Context, tenantID uuid.UUID, tokenHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.refresh[tokenHash]
	if !ok || t.TenantID != tenantID || t.Revoked {
		return false, nil
	}
	t.Revoked = true
	return true, nil
}

func (m *MemoryStore) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for hash, t := range m.refresh {
		if t.Expired(now) {
			delete(m.refresh, hash)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CreateInvitation(ctx context.Context, invitation *InvitationToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *invitation
	m.invitations[invitation.TokenHash] = &cp
	return nil
}

func (m *MemoryStore) ConsumeInvitation(ctx context.Context, tenantID uuid.UUID, tokenHash, passwordHash string, now time.Time) (*InvitationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invitations[tokenHash]
	if !ok || inv.TenantID != tenantID || !inv.IsValid(now) {
		return nil, ErrInvitationInvalid
	}
	s, ok := m.staff[inv.StaffID]
	if !ok || s.TenantID != tenantID {
		return nil, ErrInvitationInvalid
	}

	usedAt := now
	inv.UsedAt = &usedAt
	s.PasswordHash = passwordHash
	s.Status = StaffActive
	s.UpdatedAt = now

	cp := *inv
	return &cp, nil
}

// RefreshTokenCount returns the number of stored refresh tokens
func (m *MemoryStore) RefreshTokenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refresh)
}
