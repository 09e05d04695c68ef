package domain

// Session es el usuario autenticado: perfil mas credencial bearer.
// Token es secreto y nunca se escribe en el store plano.
type Session struct {
	BaseProfile   ProfileFields `json:"baseProfile"`
	ProfileByRole ProfileFields `json:"profileByRole"`
	Token         string        `json:"token"`
}

// StoredUser es la proyeccion sin token que vive en el store plano bajo "user".
type StoredUser struct {
	BaseProfile   ProfileFields `json:"baseProfile"`
	ProfileByRole ProfileFields `json:"profileByRole"`
}

// User devuelve la parte persistible en claro.
func (s Session) User() StoredUser {
	return StoredUser{BaseProfile: s.BaseProfile, ProfileByRole: s.ProfileByRole}
}

// Role prioriza baseProfile, que es donde el backend lo guarda hoy.
func (s Session) Role() Role {
	if s.BaseProfile.Role != "" {
		return s.BaseProfile.Role
	}
	return s.ProfileByRole.Role
}

// WithToken reconstruye la sesion a partir del usuario guardado.
func (u StoredUser) WithToken(token string) Session {
	return Session{BaseProfile: u.BaseProfile, ProfileByRole: u.ProfileByRole, Token: token}
}
