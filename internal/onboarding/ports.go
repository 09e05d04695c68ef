package onboarding

import (
	"context"
	"errors"

	"pulse-onboard/internal/api"
	"pulse-onboard/internal/domain"
)

// Backend es el puerto de red que usa el flujo; api.Client lo implementa.
type Backend interface {
	SendOTP(ctx context.Context, email string) (api.SendOTPResponse, error)
	VerifyOTP(ctx context.Context, email, code string) (api.VerifyOTPResponse, error)
	CreateAccount(ctx context.Context, req api.AccountRequest) (api.AccountResponse, error)
	UpdateAccount(ctx context.Context, id string, req api.AccountRequest) (api.AccountResponse, error)
	ListHospitals(ctx context.Context) ([]domain.Hospital, error)
	SetToken(token string)
}

// SessionSaver es el puerto de persistencia; session.Store lo implementa.
type SessionSaver interface {
	Save(ctx context.Context, sess domain.Session) error
	SaveProfile(ctx context.Context, user domain.StoredUser) error
}

// classify traduce un error de red a la taxonomia del flujo.
// Un rechazo con mensaje es un ChallengeError; sin mensaje, transporte.
func classify(err error) error {
	if errors.Is(err, api.ErrMalformedResponse) {
		return errors.Join(ErrMalformedResponse, err)
	}
	var rerr *api.ResponseError
	if errors.As(err, &rerr) && rerr.Message != "" {
		return &ChallengeError{Message: rerr.Message}
	}
	return &TransportError{Err: err}
}

// userMessage es el texto para el usuario de un error ya clasificado.
func userMessage(err error) string {
	var cerr *ChallengeError
	if errors.As(err, &cerr) {
		return cerr.Message
	}
	var terr *TransportError
	if errors.As(err, &terr) {
		return MsgTransport
	}
	return MsgUnexpected
}
