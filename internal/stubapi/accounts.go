package stubapi

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"pulse-onboard/internal/domain"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrEmailTaken      = errors.New("email already registered")
)

// AccountStore es el repositorio en memoria de cuentas del stub.
type AccountStore struct {
	mu      sync.RWMutex
	byID    map[string]domain.StoredUser
	byEmail map[string]string
	now     func() time.Time
}

func NewAccountStore() *AccountStore {
	return &AccountStore{
		byID:    make(map[string]domain.StoredUser),
		byEmail: make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create registra una cuenta nueva con id y timestamps del servidor.
func (s *AccountStore) Create(base, byRole domain.ProfileFields) (domain.StoredUser, error) {
	email := normalizeEmail(base.Email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return domain.StoredUser{}, ErrEmailTaken
	}
	stamp := s.now().Format(time.RFC3339)
	base.ID = uuid.NewString()
	base.Email = email
	base.CreatedAt = stamp
	base.UpdatedAt = stamp
	byRole.ID = ""

	user := domain.StoredUser{BaseProfile: base, ProfileByRole: byRole}
	s.byID[base.ID] = user
	s.byEmail[email] = base.ID
	return user, nil
}

// Update reemplaza los perfiles conservando id, email, rol y createdAt.
func (s *AccountStore) Update(id string, base, byRole domain.ProfileFields) (domain.StoredUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.byID[id]
	if !ok {
		return domain.StoredUser{}, ErrAccountNotFound
	}
	base.ID = current.BaseProfile.ID
	base.Email = current.BaseProfile.Email
	base.Role = current.BaseProfile.Role
	base.CreatedAt = current.BaseProfile.CreatedAt
	base.UpdatedAt = s.now().Format(time.RFC3339)
	byRole.ID = ""

	user := domain.StoredUser{BaseProfile: base, ProfileByRole: byRole}
	s.byID[id] = user
	return user, nil
}

func (s *AccountStore) ByID(id string) (domain.StoredUser, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.byID[id]
	return user, ok
}

func (s *AccountStore) ByEmail(email string) (domain.StoredUser, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return domain.StoredUser{}, false
	}
	return s.byID[id], true
}

// Hospitals lista las cuentas con rol hospital. Los campos de rol pueden
// venir en cualquiera de los dos perfiles.
func (s *AccountStore) Hospitals() []domain.Hospital {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Hospital, 0)
	for id, user := range s.byID {
		if user.WithToken("").Role() != domain.RoleHospital {
			continue
		}
		h := domain.Hospital{
			ID:           id,
			HospitalName: firstNonEmpty(user.BaseProfile.HospitalName, user.ProfileByRole.HospitalName),
			Specialties:  firstNonEmpty(user.BaseProfile.Specialties, user.ProfileByRole.Specialties),
			Location:     user.BaseProfile.Location,
		}
		if h.Location == nil {
			h.Location = user.ProfileByRole.Location
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HospitalName == out[j].HospitalName {
			return out[i].ID < out[j].ID
		}
		return out[i].HospitalName < out[j].HospitalName
	})
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
