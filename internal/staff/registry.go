// Package staff tracks the bot owner, developers and staff members.
package staff

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"riakmaw/internal/domain"
)

type staffLister interface {
	List(ctx context.Context) ([]domain.StaffMember, error)
}

// Registry holds staff roles in memory. Devs are also staff, the owner is both.
type Registry struct {
	repo staffLister

	mu    sync.RWMutex
	owner int64
	roles map[int64]string
}

// Snapshot is a sorted copy of the registry contents.
type Snapshot struct {
	Owner int64
	Devs  []int64
	Staff []int64
}

// NewRegistry builds a registry that knows only the owner until Load runs.
func NewRegistry(ownerID int64, repo staffLister) *Registry {
	return &Registry{
		repo:  repo,
		owner: ownerID,
		roles: map[int64]string{},
	}
}

// Load replaces the in-memory roles with the staff collection contents.
func (r *Registry) Load(ctx context.Context) error {
	if r == nil || r.repo == nil {
		return errors.New("staff registry is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	members, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("load staff: %w", err)
	}

	roles := make(map[int64]string, len(members))
	for _, m := range members {
		if m.UserID == 0 || m.Role == domain.RoleOwner {
			continue
		}
		if domain.RolePriority(m.Role) > domain.RolePriorityUser {
			roles[m.UserID] = m.Role
		}
	}

	r.mu.Lock()
	r.roles = roles
	r.mu.Unlock()

	return nil
}

// Set records role for userID in memory. RoleUser removes the entry.
func (r *Registry) Set(userID int64, role string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if role == domain.RoleUser || role == "" {
		delete(r.roles, userID)
		return
	}
	r.roles[userID] = role
}

// Owner returns the configured owner id.
func (r *Registry) Owner() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.owner
}

// Role returns the role of userID, RoleUser when it has none.
func (r *Registry) Role(userID int64) string {
	if userID == 0 {
		return domain.RoleUser
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if userID == r.owner {
		return domain.RoleOwner
	}
	if role, ok := r.roles[userID]; ok {
		return role
	}
	return domain.RoleUser
}

// IsOwner reports whether userID is the bot owner.
func (r *Registry) IsOwner(userID int64) bool {
	return r.Role(userID) == domain.RoleOwner
}

// IsDev reports whether userID is a developer or the owner.
func (r *Registry) IsDev(userID int64) bool {
	return domain.RolePriority(r.Role(userID)) >= domain.RolePriorityDev
}

// IsStaff reports whether userID holds any staff role.
func (r *Registry) IsStaff(userID int64) bool {
	return domain.RolePriority(r.Role(userID)) >= domain.RolePriorityStaff
}

// Snapshot copies the current roles.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{Owner: r.owner}
	for id, role := range r.roles {
		switch role {
		case domain.RoleDev:
			snap.Devs = append(snap.Devs, id)
		case domain.RoleStaff:
			snap.Staff = append(snap.Staff, id)
		}
	}

	sort.Slice(snap.Devs, func(i, j int) bool { return snap.Devs[i] < snap.Devs[j] })
	sort.Slice(snap.Staff, func(i, j int) bool { return snap.Staff[i] < snap.Staff[j] })
	return snap
}
