package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"pulse-onboard/internal/domain"
	"pulse-onboard/internal/storage"
)

// Claves de persistencia compartidas con la app movil.
const (
	TokenKey = "token"
	UserKey  = "user"
)

var (
	ErrNoSession      = errors.New("no session")
	ErrProfileMissing = errors.New("token present but profile missing")
	ErrSessionExpired = errors.New("session token expired")
	ErrEmptyToken     = errors.New("empty session token")
)

// PersistenceError describe una escritura o lectura fallida en un store.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store es el unico dueño de la sesion persistida.
// El token va al store cifrado siempre antes que el perfil al store plano,
// y se lee en el mismo orden.
type Store struct {
	logger *zap.Logger
	secure storage.Store
	plain  storage.Store
	now    func() time.Time
}

func NewStore(logger *zap.Logger, secure, plain storage.Store) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		logger: logger,
		secure: secure,
		plain:  plain,
		now:    time.Now,
	}
}

// Save persiste una sesion nueva. Si falla la escritura del perfil el token
// queda guardado; Load lo reporta como ErrProfileMissing.
func (s *Store) Save(ctx context.Context, sess domain.Session) error {
	if sess.Token == "" {
		return ErrEmptyToken
	}
	token, err := json.Marshal(sess.Token)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := s.secure.Set(ctx, TokenKey, token); err != nil {
		return &PersistenceError{Op: "write", Key: TokenKey, Err: err}
	}
	if err := s.SaveProfile(ctx, sess.User()); err != nil {
		s.logger.Warn("session token stored without profile", zap.Error(err))
		return err
	}
	return nil
}

// SaveProfile reescribe solo el perfil; se usa al actualizar una cuenta.
func (s *Store) SaveProfile(ctx context.Context, user domain.StoredUser) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	if err := s.plain.Set(ctx, UserKey, data); err != nil {
		return &PersistenceError{Op: "write", Key: UserKey, Err: err}
	}
	return nil
}

// Load devuelve la sesion guardada. Con ErrProfileMissing la sesion trae el
// token para que el caller pueda reconstruir el perfil.
func (s *Store) Load(ctx context.Context) (domain.Session, error) {
	raw, err := s.secure.Get(ctx, TokenKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Session{}, ErrNoSession
		}
		return domain.Session{}, &PersistenceError{Op: "read", Key: TokenKey, Err: err}
	}
	var token string
	if err := json.Unmarshal(raw, &token); err != nil {
		return domain.Session{}, &PersistenceError{Op: "decode", Key: TokenKey, Err: err}
	}
	if token == "" {
		return domain.Session{}, ErrNoSession
	}
	if exp, ok := TokenExpiry(token); ok && !exp.After(s.now()) {
		return domain.Session{Token: token}, ErrSessionExpired
	}

	raw, err = s.plain.Get(ctx, UserKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Session{Token: token}, ErrProfileMissing
		}
		return domain.Session{Token: token}, &PersistenceError{Op: "read", Key: UserKey, Err: err}
	}
	var user domain.StoredUser
	if err := json.Unmarshal(raw, &user); err != nil {
		return domain.Session{Token: token}, &PersistenceError{Op: "decode", Key: UserKey, Err: err}
	}
	return user.WithToken(token), nil
}

// Clear borra ambas claves (logout). El perfil se borra primero para que
// nunca quede un perfil sin token.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.plain.Delete(ctx, UserKey); err != nil {
		return &PersistenceError{Op: "delete", Key: UserKey, Err: err}
	}
	if err := s.secure.Delete(ctx, TokenKey); err != nil {
		return &PersistenceError{Op: "delete", Key: TokenKey, Err: err}
	}
	return nil
}

// TokenExpiry lee el claim exp sin verificar la firma; el cliente no tiene el
// secreto. Tokens opacos devuelven ok=false.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
