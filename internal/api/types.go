package api

import (
	"encoding/json"

	"pulse-onboard/internal/domain"
)

type sendOTPRequest struct {
	Email string `json:"email"`
}

// SendOTPResponse es la respuesta de POST /api/v1/auth/send-otp.
type SendOTPResponse struct {
	Success bool `json:"success"`
}

type verifyOTPRequest struct {
	Email       string `json:"email"`
	OTPFromUser string `json:"OTPFromUser"`
}

// VerifyOTPResponse deja userProfile crudo: su forma depende de IsNewAccount
// (hints para una cuenta nueva, usuario con token para una existente).
type VerifyOTPResponse struct {
	Success      bool            `json:"success"`
	IsNewAccount bool            `json:"isNewAccount"`
	UserProfile  json.RawMessage `json:"userProfile,omitempty"`
	Message      string          `json:"message,omitempty"`
}

// AccountRequest es el cuerpo de create y update.
type AccountRequest struct {
	BaseProfile   domain.ProfileFields `json:"baseProfile"`
	ProfileByRole domain.ProfileFields `json:"profileByRole"`
}

// AccountResponse es el User devuelto por el backend (token incluido al crear).
type AccountResponse = domain.Session

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}
