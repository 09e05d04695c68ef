package api

import (
	"context"
	"errors"
	"sync"

	"pulse-onboard/internal/domain"
)

// MockBackend permite tests sin backend real. Cada llamada queda registrada
// en Calls; los campos *Func deciden la respuesta.
type MockBackend struct {
	mu sync.Mutex

	SendOTPFunc       func(email string) (SendOTPResponse, error)
	VerifyOTPFunc     func(email, code string) (VerifyOTPResponse, error)
	CreateAccountFunc func(req AccountRequest) (AccountResponse, error)
	UpdateAccountFunc func(id string, req AccountRequest) (AccountResponse, error)
	HospitalsFunc     func() ([]domain.Hospital, error)

	Calls    []string
	Requests []AccountRequest
	Codes    []string
	Token    string
}

func (m *MockBackend) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, call)
}

// CallCount cuenta las llamadas con ese nombre.
func (m *MockBackend) CallCount(call string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c == call {
			n++
		}
	}
	return n
}

func (m *MockBackend) SendOTP(_ context.Context, email string) (SendOTPResponse, error) {
	m.record("send-otp")
	if m.SendOTPFunc == nil {
		return SendOTPResponse{Success: true}, nil
	}
	return m.SendOTPFunc(email)
}

func (m *MockBackend) VerifyOTP(_ context.Context, email, code string) (VerifyOTPResponse, error) {
	m.record("verify-otp")
	m.mu.Lock()
	m.Codes = append(m.Codes, code)
	m.mu.Unlock()
	if m.VerifyOTPFunc == nil {
		return VerifyOTPResponse{}, errors.New("verify not configured")
	}
	return m.VerifyOTPFunc(email, code)
}

func (m *MockBackend) CreateAccount(_ context.Context, req AccountRequest) (AccountResponse, error) {
	m.record("create-account")
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()
	if m.CreateAccountFunc == nil {
		return AccountResponse{}, errors.New("create not configured")
	}
	return m.CreateAccountFunc(req)
}

func (m *MockBackend) UpdateAccount(_ context.Context, id string, req AccountRequest) (AccountResponse, error) {
	m.record("update-account")
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()
	if m.UpdateAccountFunc == nil {
		return AccountResponse{}, errors.New("update not configured")
	}
	return m.UpdateAccountFunc(id, req)
}

func (m *MockBackend) ListHospitals(_ context.Context) ([]domain.Hospital, error) {
	m.record("list-hospitals")
	if m.HospitalsFunc == nil {
		return []domain.Hospital{}, nil
	}
	return m.HospitalsFunc()
}

func (m *MockBackend) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Token = token
}
