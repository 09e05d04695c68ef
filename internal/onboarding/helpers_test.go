package onboarding

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"pulse-onboard/internal/api"
	"pulse-onboard/internal/domain"
)

type fakeSessions struct {
	mu       sync.Mutex
	saved    []domain.Session
	profiles []domain.StoredUser
	saveErr  error
}

func (f *fakeSessions) Save(_ context.Context, sess domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, sess)
	return nil
}

func (f *fakeSessions) SaveProfile(_ context.Context, user domain.StoredUser) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.profiles = append(f.profiles, user)
	return nil
}

func (f *fakeSessions) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved) + len(f.profiles)
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func existingSession() domain.Session {
	return domain.Session{
		BaseProfile: domain.ProfileFields{
			ID:        "u1",
			FirstName: "Ada",
			LastName:  "Lovelace",
			Email:     "a@b.co",
			Role:      domain.RolePatient,
		},
		Token: "T",
	}
}

// verifyExisting responde como el backend para una cuenta ya registrada.
func verifyExisting(t *testing.T, want string) func(email, code string) (api.VerifyOTPResponse, error) {
	return func(_, code string) (api.VerifyOTPResponse, error) {
		if code != want {
			return api.VerifyOTPResponse{}, &api.ResponseError{StatusCode: 400, Message: "Invalid OTP"}
		}
		return api.VerifyOTPResponse{Success: true, UserProfile: mustJSON(t, existingSession())}, nil
	}
}

func verifyNew(t *testing.T, hints domain.Hints) func(email, code string) (api.VerifyOTPResponse, error) {
	return func(string, string) (api.VerifyOTPResponse, error) {
		return api.VerifyOTPResponse{Success: true, IsNewAccount: true, UserProfile: mustJSON(t, hints)}, nil
	}
}

func startedChallenge(t *testing.T, backend Backend, sessions SessionSaver) *Challenge {
	t.Helper()
	ch := NewChallenge(ChallengeConfig{Length: 6, ResendDelay: 60}, backend, sessions, nil)
	if err := ch.Start(context.Background(), "a@b.co"); err != nil {
		t.Fatalf("start: %v", err)
	}
	return ch
}
