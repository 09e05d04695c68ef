package onboarding

import (
	"sync"

	"pulse-onboard/internal/domain"
)

// RoleDraft guarda el rol elegido y los hints del backend para sembrar el
// formulario. No se persiste por separado de la sesion.
type RoleDraft struct {
	Role  *domain.Role
	Hints domain.Hints
}

func (d RoleDraft) clone() RoleDraft {
	out := d
	if d.Role != nil {
		r := *d.Role
		out.Role = &r
	}
	return out
}

// RoleSelector registra una unica eleccion de rol.
type RoleSelector struct {
	mu    sync.Mutex
	draft RoleDraft
}

func NewRoleSelector(hints domain.Hints) *RoleSelector {
	return &RoleSelector{draft: RoleDraft{Hints: hints}}
}

// Options es la enumeracion cerrada de roles.
func (s *RoleSelector) Options() []domain.Role {
	return domain.Roles()
}

// Choose registra el rol una sola vez hasta el proximo Reset.
func (s *RoleSelector) Choose(role domain.Role) error {
	if !role.Valid() {
		return domain.ErrUnknownRole
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft.Role != nil {
		return ErrRoleAlreadyChosen
	}
	s.draft.Role = &role
	return nil
}

// Reset descarta la eleccion y conserva solo los hints.
func (s *RoleSelector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft.Role = nil
}

func (s *RoleSelector) Draft() RoleDraft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.clone()
}
