package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"opsdesk.org/internal/ids"
)

// InMemory implements Store with in-process concurrency safety. Used by
// tests and by development setups without a database.
type InMemory struct {
	mu           sync.RWMutex
	users        map[string]*User           // id -> user
	roles        map[string]*Role           // id -> role
	perms        map[string]*Permission     // id -> permission
	grants       map[string]map[string]bool // roleID -> permissionID set
	assignments  map[string]map[string]bool // userID -> roleID set
	sessions     map[string]SessionRecord   // token -> record
	history      []HistoryEntry
	verification map[string]verificationRow // token -> row
	federated    map[string]federatedRow    // userID -> provider tokens
}

type verificationRow struct {
	userID    string
	expiresAt time.Time
}

type federatedRow struct {
	accessToken  string
	refreshToken string
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty directory store.
func NewInMemory() *InMemory {
	return &InMemory{
		users:        make(map[string]*User),
		roles:        make(map[string]*Role),
		perms:        make(map[string]*Permission),
		grants:       make(map[string]map[string]bool),
		assignments:  make(map[string]map[string]bool),
		sessions:     make(map[string]SessionRecord),
		verification: make(map[string]verificationRow),
		federated:    make(map[string]federatedRow),
	}
}

// --- UserStore ---

func (s *InMemory) CreateUser(_ context.Context, nu NewUser) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(nu.Email)
	for _, u := range s.users {
		if u.Email == email {
			return User{}, ErrConflict
		}
		if nu.Provider != "" && u.Provider == nu.Provider && u.ProviderID == nu.ProviderID {
			return User{}, ErrConflict
		}
	}
	now := time.Now().UTC()
	user := &User{
		ID:            ids.New(),
		Email:         email,
		DisplayName:   nu.DisplayName,
		PasswordHash:  nu.PasswordHash,
		EmailVerified: nu.EmailVerified,
		Provider:      nu.Provider,
		ProviderID:    nu.ProviderID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.users[user.ID] = user
	return *user, nil
}

func (s *InMemory) GetUser(_ context.Context, userID string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return *u, nil
}

func (s *InMemory) GetUserByEmail(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email = strings.ToLower(email)
	for _, u := range s.users {
		if u.Email == email {
			return *u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *InMemory) GetUserByProvider(_ context.Context, provider, providerID string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Provider == provider && u.ProviderID == providerID {
			return *u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *InMemory) UpdateUser(_ context.Context, userID string, upd ProfileUpdate) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	if upd.Email != nil {
		email := strings.ToLower(*upd.Email)
		for id, other := range s.users {
			if id != userID && other.Email == email {
				return User{}, ErrConflict
			}
		}
		u.Email = email
	}
	if upd.DisplayName != nil {
		u.DisplayName = *upd.DisplayName
	}
	if upd.Password != nil {
		u.PasswordHash = *upd.Password
	}
	u.UpdatedAt = time.Now().UTC()
	return *u, nil
}

func (s *InMemory) LinkFederatedIdentity(_ context.Context, userID string, ident FederatedIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Provider = ident.Provider
	u.ProviderID = ident.ProviderID
	u.UpdatedAt = time.Now().UTC()
	s.federated[userID] = federatedRow{accessToken: ident.AccessToken, refreshToken: ident.RefreshToken}
	return nil
}

func (s *InMemory) UpdateFederatedTokens(_ context.Context, userID, accessToken, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return ErrNotFound
	}
	row := s.federated[userID]
	row.accessToken = accessToken
	if refreshToken != "" {
		row.refreshToken = refreshToken
	}
	s.federated[userID] = row
	return nil
}

func (s *InMemory) MarkEmailVerified(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.EmailVerified = true
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemory) DeleteAccount(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return ErrNotFound
	}
	delete(s.users, userID)
	delete(s.assignments, userID)
	delete(s.federated, userID)
	for token, rec := range s.sessions {
		if rec.UserID == userID {
			delete(s.sessions, token)
		}
	}
	for token, row := range s.verification {
		if row.userID == userID {
			delete(s.verification, token)
		}
	}
	var kept []HistoryEntry
	for _, e := range s.history {
		if e.UserID != userID {
			kept = append(kept, e)
		}
	}
	s.history = kept
	return nil
}

func (s *InMemory) CreateVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return ErrNotFound
	}
	if _, exists := s.verification[token]; exists {
		return ErrConflict
	}
	s.verification[token] = verificationRow{userID: userID, expiresAt: expiresAt}
	return nil
}

func (s *InMemory) ConsumeVerificationToken(_ context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.verification[token]
	if !ok || time.Now().After(row.expiresAt) {
		delete(s.verification, token)
		return "", ErrNotFound
	}
	delete(s.verification, token)
	return row.userID, nil
}

// --- AuthorizationStore ---

func (s *InMemory) UserRoles(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for roleID := range s.assignments[userID] {
		if role, ok := s.roles[roleID]; ok {
			names = append(names, role.Name)
		}
	}
	return names, nil
}

func (s *InMemory) UserPermissions(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var names []string
	for roleID := range s.assignments[userID] {
		for permID := range s.grants[roleID] {
			perm, ok := s.perms[permID]
			if !ok || seen[perm.Name] {
				continue
			}
			seen[perm.Name] = true
			names = append(names, perm.Name)
		}
	}
	return names, nil
}

func (s *InMemory) UserHasRole(ctx context.Context, userID, roleName string) (bool, error) {
	roles, err := s.UserRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, name := range roles {
		if name == roleName {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemory) UserHasPermission(ctx context.Context, userID, permissionName string) (bool, error) {
	perms, err := s.UserPermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, name := range perms {
		if name == permissionName {
			return true, nil
		}
	}
	return false, nil
}

// --- RoleStore ---

func (s *InMemory) CreateRole(_ context.Context, name, description string) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name = strings.ToLower(strings.TrimSpace(name))
	for _, r := range s.roles {
		if r.Name == name {
			return Role{}, ErrConflict
		}
	}
	now := time.Now().UTC()
	role := &Role{ID: ids.New(), Name: name, Description: description, CreatedAt: now, UpdatedAt: now}
	s.roles[role.ID] = role
	return *role, nil
}

func (s *InMemory) RoleByName(_ context.Context, name string) (Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name = strings.ToLower(name)
	for _, r := range s.roles {
		if r.Name == name {
			return *r, nil
		}
	}
	return Role{}, ErrNotFound
}

func (s *InMemory) ListRoles(_ context.Context) ([]Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var roles []Role
	for _, r := range s.roles {
		roles = append(roles, *r)
	}
	return roles, nil
}

func (s *InMemory) DeleteRole(_ context.Context, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return ErrNotFound
	}
	delete(s.roles, roleID)
	delete(s.grants, roleID)
	for userID := range s.assignments {
		delete(s.assignments[userID], roleID)
	}
	return nil
}

func (s *InMemory) SetRolePermissions(_ context.Context, roleID string, permissionNames []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return ErrNotFound
	}
	grants := make(map[string]bool, len(permissionNames))
	for _, name := range permissionNames {
		var found *Permission
		for _, p := range s.perms {
			if p.Name == name {
				found = p
				break
			}
		}
		if found == nil {
			return ErrNotFound
		}
		grants[found.ID] = true
	}
	s.grants[roleID] = grants
	return nil
}

func (s *InMemory) RolePermissions(_ context.Context, roleID string) ([]Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var perms []Permission
	for permID := range s.grants[roleID] {
		if p, ok := s.perms[permID]; ok {
			perms = append(perms, *p)
		}
	}
	return perms, nil
}

func (s *InMemory) EnsurePermissions(_ context.Context, perms []Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range perms {
		exists := false
		for _, have := range s.perms {
			if have.Name == p.Name {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		row := &Permission{ID: ids.New(), Name: p.Name, Description: p.Description, CreatedAt: time.Now().UTC()}
		s.perms[row.ID] = row
	}
	return nil
}

func (s *InMemory) PermissionByName(_ context.Context, name string) (Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.perms {
		if p.Name == name {
			return *p, nil
		}
	}
	return Permission{}, ErrNotFound
}

func (s *InMemory) ListPermissions(_ context.Context) ([]Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var perms []Permission
	for _, p := range s.perms {
		perms = append(perms, *p)
	}
	return perms, nil
}

func (s *InMemory) DeletePermission(_ context.Context, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.perms[permissionID]; !ok {
		return ErrNotFound
	}
	delete(s.perms, permissionID)
	for roleID := range s.grants {
		delete(s.grants[roleID], permissionID)
	}
	return nil
}

func (s *InMemory) AddAssignment(_ context.Context, userID, roleID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return false, ErrNotFound
	}
	if s.assignments[userID] == nil {
		s.assignments[userID] = make(map[string]bool)
	}
	if s.assignments[userID][roleID] {
		return false, nil
	}
	s.assignments[userID][roleID] = true
	return true, nil
}

func (s *InMemory) RemoveAssignment(_ context.Context, userID, roleID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.assignments[userID][roleID] {
		return false, nil
	}
	delete(s.assignments[userID], roleID)
	return true, nil
}

func (s *InMemory) ReplaceAssignments(ctx context.Context, userID string, assign, remove []Role, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, role := range remove {
		delete(s.assignments[userID], role.ID)
		s.history = append(s.history, HistoryEntry{
			ID: ids.New(), UserID: userID, RoleID: role.ID, RoleName: role.Name,
			Actor: actor, Action: HistoryRemove, CreatedAt: now,
		})
	}
	for _, role := range assign {
		if s.assignments[userID] == nil {
			s.assignments[userID] = make(map[string]bool)
		}
		s.assignments[userID][role.ID] = true
		s.history = append(s.history, HistoryEntry{
			ID: ids.New(), UserID: userID, RoleID: role.ID, RoleName: role.Name,
			Actor: actor, Action: HistoryAssign, CreatedAt: now,
		})
	}
	return nil
}

// --- SessionStore ---

func (s *InMemory) CreateSession(_ context.Context, rec SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[rec.Token]; exists {
		return ErrConflict
	}
	s.sessions[rec.Token] = rec
	return nil
}

func (s *InMemory) DeleteSession(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[token]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, token)
	return nil
}

func (s *InMemory) DeleteUserSessions(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for token, rec := range s.sessions {
		if rec.UserID == userID {
			delete(s.sessions, token)
			n++
		}
	}
	return n, nil
}

// SessionCount reports the user's live session records.
func (s *InMemory) SessionCount(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rec := range s.sessions {
		if rec.UserID == userID {
			n++
		}
	}
	return n
}

// --- HistoryStore ---

func (s *InMemory) AppendHistory(_ context.Context, entry HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, entry)
	return nil
}

func (s *InMemory) ListHistory(_ context.Context, userID string, limit int) ([]HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	var out []HistoryEntry
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		if s.history[i].UserID == userID {
			out = append(out, s.history[i])
		}
	}
	return out, nil
}
