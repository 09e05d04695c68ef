package onboarding

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"pulse-onboard/internal/api"
	"pulse-onboard/internal/domain"
)

// SubmitResult es el resultado de un registro o actualizacion exitosos.
// PersistErr no invalida la sesion en memoria.
type SubmitResult struct {
	Session    domain.Session
	Updated    bool
	PersistErr error
}

// Submitter arma el request de create/update y persiste la sesion.
type Submitter struct {
	backend   Backend
	sessions  SessionSaver
	placement Placement
	logger    *zap.Logger
	onUpdated func(domain.StoredUser)
	token     string
}

func NewSubmitter(backend Backend, sessions SessionSaver, placement Placement, logger *zap.Logger) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if placement == "" {
		placement = PlacementBase
	}
	return &Submitter{
		backend:   backend,
		sessions:  sessions,
		placement: placement,
		logger:    logger,
	}
}

// OnUpdated registra el callback que recibe el registro actualizado.
func (s *Submitter) OnUpdated(fn func(domain.StoredUser)) {
	s.onUpdated = fn
}

// UseToken fija el bearer de una cuenta ya existente. El backend responde
// los updates sin token y la sesion devuelta conserva este.
func (s *Submitter) UseToken(token string) {
	s.token = strings.TrimSpace(token)
	s.backend.SetToken(s.token)
}

// Request construye el payload sin validar.
func (s *Submitter) Request(schema Schema, reg Registration) api.AccountRequest {
	base, byRole := reg.Profiles(s.placement, func(key string) bool {
		return schema.IsVisible(key, reg)
	})
	return api.AccountRequest{BaseProfile: base, ProfileByRole: byRole}
}

// Submit valida, crea (existingID vacio) o actualiza la cuenta. Si falla no
// queda nada persistido.
func (s *Submitter) Submit(ctx context.Context, schema Schema, reg Registration, existingID string) (SubmitResult, error) {
	if errs := schema.Validate(reg); len(errs) > 0 {
		return SubmitResult{}, errs
	}
	req := s.Request(schema, reg)
	existingID = strings.TrimSpace(existingID)

	if existingID != "" {
		return s.update(ctx, existingID, req)
	}
	return s.create(ctx, req)
}

func (s *Submitter) create(ctx context.Context, req api.AccountRequest) (SubmitResult, error) {
	resp, err := s.backend.CreateAccount(ctx, req)
	if err != nil {
		s.logger.Warn("create account failed", zap.Error(err), zap.String("email", req.BaseProfile.Email))
		return SubmitResult{}, &SubmitError{Message: MsgSubmitFailed, Err: classify(err)}
	}
	if strings.TrimSpace(resp.Token) == "" {
		s.logger.Error("create account response without token", zap.String("email", req.BaseProfile.Email))
		return SubmitResult{}, &SubmitError{Message: MsgSubmitFailed, Err: ErrMalformedResponse}
	}

	out := SubmitResult{Session: resp}
	if s.sessions != nil {
		if err := s.sessions.Save(ctx, resp); err != nil {
			s.logger.Error("persist session failed", zap.Error(err), zap.String("email", req.BaseProfile.Email))
			out.PersistErr = err
		}
	}
	s.token = resp.Token
	s.backend.SetToken(resp.Token)
	s.logger.Info("account created", zap.String("account_id", resp.BaseProfile.ID), zap.String("role", string(resp.Role())))
	return out, nil
}

func (s *Submitter) update(ctx context.Context, id string, req api.AccountRequest) (SubmitResult, error) {
	resp, err := s.backend.UpdateAccount(ctx, id, req)
	if err != nil {
		s.logger.Warn("update account failed", zap.Error(err), zap.String("account_id", id))
		return SubmitResult{}, &SubmitError{Message: MsgSubmitFailed, Err: classify(err)}
	}
	if strings.TrimSpace(resp.Token) == "" {
		resp.Token = s.token
	}
	out := SubmitResult{Session: resp, Updated: true}
	user := resp.User()
	if s.sessions != nil {
		if err := s.sessions.SaveProfile(ctx, user); err != nil {
			s.logger.Error("persist updated profile failed", zap.Error(err), zap.String("account_id", id))
			out.PersistErr = err
		}
	}
	if s.onUpdated != nil {
		s.onUpdated(user)
	}
	return out, nil
}

// IsTransport indica si un error de Submit vino de la red.
func IsTransport(err error) bool {
	var terr *TransportError
	return errors.As(err, &terr)
}
