package onboarding

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"pulse-onboard/internal/session"
)

var (
	ErrInvalidTransition = errors.New("operation not allowed in current state")
	ErrBusy              = errors.New("another operation is in progress")
	ErrChallengeClosed   = errors.New("challenge is not awaiting a code")
	ErrChallengeStarted  = errors.New("challenge already started")
	ErrResendCooldown    = errors.New("resend not allowed while cooldown is running")
	ErrIncompleteCode    = errors.New("code is incomplete")
	ErrVerifyInFlight    = errors.New("verification already in flight")
	ErrDigitIndex        = errors.New("digit index out of range")
	ErrDigitValue        = errors.New("digit must be a number")
	ErrRoleAlreadyChosen = errors.New("role already chosen")
	ErrUnknownField      = errors.New("unknown field")
	ErrReadOnlyField     = errors.New("field is read-only")
	ErrSubmitInFlight    = errors.New("submission already in flight")
	ErrMalformedResponse = errors.New("malformed server payload")
)

// Mensajes mostrados al usuario.
const (
	MsgInvalidEmail   = "Invalid email address"
	MsgTransport      = "We could not reach the server. Please check your connection and try again"
	MsgSendFailed     = "We encountered an issue while sending the OTP. Please try again"
	MsgResendFailed   = "We encountered an issue while resending the OTP. Please try again"
	MsgResent         = "The OTP has been resent to your email address"
	MsgCodeRejected   = "We could not verify this code. Please try again"
	MsgSubmitFailed   = "Error submitting the form. Please try again."
	MsgHospitalsError = "We could not load the list of hospitals"
	MsgUnexpected     = "Something went wrong. Please try again"
)

// FieldErrors mapea clave de campo a mensaje. Nunca se muestra de forma global.
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ChallengeError es un codigo rechazado o un desafio expirado.
type ChallengeError struct {
	Message string
}

func (e *ChallengeError) Error() string {
	return "challenge rejected: " + e.Message
}

// TransportError indica que no hubo respuesta util del servidor; es reintentable.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SubmitError es el fallo generico de registro; el formulario queda intacto.
type SubmitError struct {
	Message string
	Err     error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("submit failed: %v", e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// PersistenceError se registra en logs y no bloquea el flujo.
type PersistenceError = session.PersistenceError
