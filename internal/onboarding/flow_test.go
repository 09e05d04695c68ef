package onboarding

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"pulse-onboard/internal/api"
	"pulse-onboard/internal/domain"
	"pulse-onboard/internal/session"
	"pulse-onboard/internal/storage"
)

// journal registra el orden de escrituras entre los dos stores.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type journaledStore struct {
	storage.Store
	name string
	j    *journal
}

func (s journaledStore) Set(ctx context.Context, key string, value []byte) error {
	s.j.add(s.name + ":" + key)
	return s.Store.Set(ctx, key, value)
}

func newJournaledSessions() (*session.Store, *journal) {
	j := &journal{}
	secure := journaledStore{Store: storage.NewMemoryStore(), name: "secure", j: j}
	plain := journaledStore{Store: storage.NewMemoryStore(), name: "plain", j: j}
	return session.NewStore(nil, secure, plain), j
}

func testOptions() Options {
	return Options{Challenge: ChallengeConfig{Length: 6, ResendDelay: 60}}
}

func typeCode(t *testing.T, f *Flow, code string) {
	t.Helper()
	for i, r := range code {
		if _, err := f.SetDigit(i, string(r)); err != nil {
			t.Fatalf("set digit %d: %v", i, err)
		}
	}
}

func TestFlowScenarioExistingAccount(t *testing.T) {
	mock := &api.MockBackend{VerifyOTPFunc: verifyExisting(t, "123456")}
	sessions, j := newJournaledSessions()
	f := NewFlow(mock, sessions, testOptions(), FlowParams{})
	ctx := context.Background()

	if v := f.View(); v.State != StateLoginEmail {
		t.Fatalf("expected LOGIN_EMAIL, got %s", v.State)
	}
	v, err := f.SubmitEmail(ctx, "a@b.com")
	if err != nil {
		t.Fatalf("submit email: %v", err)
	}
	if v.State != StateOTPPending || v.Challenge == nil || v.Draft != nil || v.Schema != nil {
		t.Fatalf("unexpected view %+v", v)
	}
	typeCode(t, f, "123456")
	if v := f.View(); !v.CanVerify {
		t.Fatalf("expected verify enabled with full code")
	}

	v, err = f.Verify(ctx)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if v.State != StateDoneExisting || v.Session == nil || v.Session.Token != "T" {
		t.Fatalf("unexpected view %+v", v)
	}
	if v.Challenge != nil {
		t.Fatalf("expected challenge discarded")
	}

	want := []string{"secure:" + session.TokenKey, "plain:" + session.UserKey}
	if got := j.list(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected writes %v, got %v", want, got)
	}
	loaded, err := sessions.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Token != "T" || loaded.BaseProfile.FirstName != "Ada" {
		t.Fatalf("unexpected loaded session %+v", loaded)
	}
}

func TestFlowScenarioNewPatient(t *testing.T) {
	mock := &api.MockBackend{
		VerifyOTPFunc: verifyNew(t, domain.Hints{FirstName: "Ada"}),
		CreateAccountFunc: func(req api.AccountRequest) (api.AccountResponse, error) {
			return createdSession(req), nil
		},
	}
	sessions, j := newJournaledSessions()
	f := NewFlow(mock, sessions, testOptions(), FlowParams{})
	ctx := context.Background()

	_, _ = f.SubmitEmail(ctx, "a@b.com")
	typeCode(t, f, "123456")
	v, err := f.Verify(ctx)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if v.State != StateRoleSelect || v.Draft == nil || v.Draft.Hints.FirstName != "Ada" {
		t.Fatalf("unexpected view %+v", v)
	}
	if len(j.list()) != 0 {
		t.Fatalf("expected nothing persisted before registration")
	}

	v, err = f.ChooseRole(ctx, domain.RolePatient)
	if err != nil {
		t.Fatalf("choose role: %v", err)
	}
	if v.State != StateRegisterForm || v.Registration.Value(FieldFirstName) != "Ada" {
		t.Fatalf("expected prefilled form, got %+v", v)
	}
	if v.Registration.Value(FieldEmail) != "a@b.com" {
		t.Fatalf("expected email prefilled from challenge")
	}
	if mock.CallCount("list-hospitals") != 0 {
		t.Fatalf("patient form must not load hospitals")
	}

	if _, err := f.SetField(FieldLastName, "Lovelace"); err != nil {
		t.Fatalf("set field: %v", err)
	}
	v, err = f.Submit(ctx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if v.State != StateDoneNew || v.Session == nil || v.Session.Token != "T2" {
		t.Fatalf("unexpected view %+v", v)
	}
	req := mock.Requests[0]
	if req.BaseProfile.FirstName != "Ada" || req.BaseProfile.LastName != "Lovelace" || req.BaseProfile.Role != domain.RolePatient {
		t.Fatalf("unexpected request %+v", req.BaseProfile)
	}
	if got := j.list(); len(got) != 2 || got[0] != "secure:"+session.TokenKey {
		t.Fatalf("expected token written first, got %v", got)
	}
}

func TestFlowScenarioRejectedCode(t *testing.T) {
	mock := &api.MockBackend{VerifyOTPFunc: func(string, string) (api.VerifyOTPResponse, error) {
		return api.VerifyOTPResponse{}, &api.ResponseError{StatusCode: 400, Message: "Invalid code"}
	}}
	sessions, j := newJournaledSessions()
	f := NewFlow(mock, sessions, testOptions(), FlowParams{})
	ctx := context.Background()

	_, _ = f.SubmitEmail(ctx, "a@b.com")
	typeCode(t, f, "123456")
	v, err := f.Verify(ctx)
	var cerr *ChallengeError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ChallengeError, got %v", err)
	}
	if v.State != StateOTPPending {
		t.Fatalf("expected OTP_PENDING, got %s", v.State)
	}
	if v.Challenge.Status != StatusAwaitingCode || v.Challenge.LastError != "Invalid code" {
		t.Fatalf("unexpected challenge %+v", v.Challenge)
	}
	if v.Challenge.Code() != "123456" {
		t.Fatalf("expected digits unchanged, got %q", v.Challenge.Code())
	}
	if len(j.list()) != 0 {
		t.Fatalf("expected no persistence, got %v", j.list())
	}
	if v.Notice != nil {
		t.Fatalf("rejection is shown inline, got notice %+v", v.Notice)
	}
}

func TestFlowInvalidEmail(t *testing.T) {
	mock := &api.MockBackend{}
	f := NewFlow(mock, nil, testOptions(), FlowParams{})
	v, err := f.SubmitEmail(context.Background(), "a@")
	var ferr FieldErrors
	if !errors.As(err, &ferr) {
		t.Fatalf("expected field errors, got %v", err)
	}
	if v.State != StateLoginEmail || v.Errors["email"] != MsgInvalidEmail {
		t.Fatalf("unexpected view %+v", v)
	}
	if len(mock.Calls) != 0 {
		t.Fatalf("expected no calls, got %v", mock.Calls)
	}
}

func TestFlowEmailHint(t *testing.T) {
	t.Run("resumes without sending", func(t *testing.T) {
		mock := &api.MockBackend{}
		f := NewFlow(mock, nil, testOptions(), FlowParams{Email: "a@b.co"})
		v := f.View()
		if v.State != StateOTPPending || v.Challenge.Email != "a@b.co" {
			t.Fatalf("unexpected view %+v", v)
		}
		if len(mock.Calls) != 0 {
			t.Fatalf("expected no calls, got %v", mock.Calls)
		}
	})

	t.Run("invalid hint falls back to login", func(t *testing.T) {
		f := NewFlow(&api.MockBackend{}, nil, testOptions(), FlowParams{Email: "bogus"})
		if v := f.View(); v.State != StateLoginEmail || v.Errors["email"] == "" {
			t.Fatalf("unexpected view %+v", v)
		}
	})

	t.Run("verified profile skips to role select", func(t *testing.T) {
		f := NewFlow(&api.MockBackend{}, nil, testOptions(), FlowParams{VerifiedProfile: &domain.Hints{FirstName: "Ada"}})
		if v := f.View(); v.State != StateRoleSelect || v.Draft.Hints.FirstName != "Ada" {
			t.Fatalf("unexpected view %+v", v)
		}
	})
}

func TestFlowInvalidTransitions(t *testing.T) {
	f := NewFlow(&api.MockBackend{}, nil, testOptions(), FlowParams{})
	ctx := context.Background()
	calls := map[string]func() error{
		"verify":      func() error { _, err := f.Verify(ctx); return err },
		"resend":      func() error { _, err := f.Resend(ctx); return err },
		"set digit":   func() error { _, err := f.SetDigit(0, "1"); return err },
		"choose role": func() error { _, err := f.ChooseRole(ctx, domain.RolePatient); return err },
		"set field":   func() error { _, err := f.SetField(FieldFirstName, "x"); return err },
		"submit":      func() error { _, err := f.Submit(ctx); return err },
		"cancel":      func() error { _, err := f.CancelRegistration(); return err },
		"use other":   func() error { _, err := f.UseDifferentEmail(); return err },
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			if err := call(); !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestFlowResend(t *testing.T) {
	mock := &api.MockBackend{}
	opts := Options{Challenge: ChallengeConfig{Length: 6, ResendDelay: 3}}
	f := NewFlow(mock, nil, opts, FlowParams{})
	ctx := context.Background()
	_, _ = f.SubmitEmail(ctx, "a@b.co")

	if _, err := f.Resend(ctx); !errors.Is(err, ErrResendCooldown) {
		t.Fatalf("expected ErrResendCooldown, got %v", err)
	}
	for f.Ticking() {
		f.Tick()
	}
	v := f.View()
	if v.Challenge.ResendCooldownSeconds != 0 || !v.CanResend {
		t.Fatalf("expected resend enabled, got %+v", v.Challenge)
	}
	typeCode(t, f, "12")
	v, err := f.Resend(ctx)
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if v.Notice == nil || v.Notice.Kind != NoticeSuccess {
		t.Fatalf("expected success notice, got %+v", v.Notice)
	}
	if v.Challenge.Code() != "" || v.Challenge.ResendCooldownSeconds != 3 {
		t.Fatalf("unexpected challenge after resend %+v", v.Challenge)
	}

	// El notice dura una sola operacion.
	v = f.Tick()
	if v.Notice == nil {
		t.Fatalf("tick should not clear the notice")
	}
	v, _ = f.SetDigit(0, "1")
	if v.Notice != nil {
		t.Fatalf("expected notice cleared on next operation")
	}
}

func TestFlowResendFailureNotice(t *testing.T) {
	sends := 0
	mock := &api.MockBackend{SendOTPFunc: func(string) (api.SendOTPResponse, error) {
		sends++
		if sends > 1 {
			return api.SendOTPResponse{}, errors.New("network down")
		}
		return api.SendOTPResponse{Success: true}, nil
	}}
	f := NewFlow(mock, nil, Options{Challenge: ChallengeConfig{Length: 6}}, FlowParams{})
	ctx := context.Background()
	_, _ = f.SubmitEmail(ctx, "a@b.co")
	v, err := f.Resend(ctx)
	if !IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if v.Notice == nil || v.Notice.Message != MsgResendFailed {
		t.Fatalf("expected resend failure notice, got %+v", v.Notice)
	}
	if v.Challenge.LastError != "" {
		t.Fatalf("expected last error clear after resend")
	}
}

func TestFlowUseDifferentEmail(t *testing.T) {
	mock := &api.MockBackend{}
	f := NewFlow(mock, nil, testOptions(), FlowParams{})
	ctx := context.Background()
	_, _ = f.SubmitEmail(ctx, "a@b.co")
	v, err := f.UseDifferentEmail()
	if err != nil || v.State != StateLoginEmail || v.Challenge != nil {
		t.Fatalf("unexpected view %+v err=%v", v, err)
	}
	if f.Ticking() {
		t.Fatalf("expected ticking stopped after leaving challenge")
	}
	v = f.Tick()
	if v.State != StateLoginEmail {
		t.Fatalf("stray tick changed state")
	}
	if _, err := f.SubmitEmail(ctx, "c@d.co"); err != nil {
		t.Fatalf("submit email: %v", err)
	}
	if got := f.View().Challenge.Email; got != "c@d.co" {
		t.Fatalf("expected new challenge for c@d.co, got %q", got)
	}
}

func TestFlowMedTransport(t *testing.T) {
	mock := &api.MockBackend{
		HospitalsFunc: func() ([]domain.Hospital, error) {
			return []domain.Hospital{{ID: "h1", HospitalName: "General"}, {ID: "h2"}, {HospitalName: "no id"}}, nil
		},
		CreateAccountFunc: func(req api.AccountRequest) (api.AccountResponse, error) {
			return createdSession(req), nil
		},
	}
	hints := &domain.Hints{FirstName: "A", LastName: "B", Email: "a@b.co"}
	f := NewFlow(mock, &fakeSessions{}, testOptions(), FlowParams{VerifiedProfile: hints})
	ctx := context.Background()

	v, err := f.ChooseRole(ctx, domain.RoleMedTransport)
	if err != nil {
		t.Fatalf("choose role: %v", err)
	}
	spec, _ := v.Schema.Field(FieldHospital)
	want := []Option{{Value: "h1", Label: "General"}, {Value: "h2", Label: "Unknown Hospital"}}
	if !reflect.DeepEqual(spec.Options, want) {
		t.Fatalf("expected hospital options %v, got %v", want, spec.Options)
	}
	for _, fs := range v.Fields {
		if fs.Key == FieldHospital {
			t.Fatalf("hospital should be hidden before a type is chosen")
		}
	}

	v, _ = f.SetField(FieldType, string(domain.TransportPrivateAmbulance))
	if v.Errors[FieldHospital] != "" {
		t.Fatalf("untouched field should not show errors, got %v", v.Errors)
	}
	v, err = f.Submit(ctx)
	var ferr FieldErrors
	if !errors.As(err, &ferr) || v.Errors[FieldHospital] == "" {
		t.Fatalf("expected hospital required, got %v", err)
	}
	if mock.CallCount("create-account") != 0 {
		t.Fatalf("invalid form must not be sent")
	}

	v, _ = f.SetField(FieldType, string(domain.TransportPrivateVehicle))
	if v.Errors[FieldHospital] != "" {
		t.Fatalf("hidden field should have no error, got %v", v.Errors)
	}
	v, err = f.Submit(ctx)
	if err != nil || v.State != StateDoneNew {
		t.Fatalf("submit: %v (%s)", err, v.State)
	}
	if got := mock.Requests[0].BaseProfile.Hospital; got != "" {
		t.Fatalf("hidden hospital sent: %q", got)
	}
}

func TestFlowHospitalsFailure(t *testing.T) {
	mock := &api.MockBackend{HospitalsFunc: func() ([]domain.Hospital, error) {
		return nil, errors.New("boom")
	}}
	f := NewFlow(mock, nil, testOptions(), FlowParams{VerifiedProfile: &domain.Hints{}})
	v, err := f.ChooseRole(context.Background(), domain.RoleMedTransport)
	if err != nil {
		t.Fatalf("choose role: %v", err)
	}
	if v.State != StateRegisterForm || v.Notice == nil || v.Notice.Message != MsgHospitalsError {
		t.Fatalf("unexpected view %+v", v)
	}
}

func TestFlowCancelRegistration(t *testing.T) {
	hints := &domain.Hints{FirstName: "Ada", Email: "a@b.co"}
	f := NewFlow(&api.MockBackend{}, nil, testOptions(), FlowParams{VerifiedProfile: hints})
	ctx := context.Background()
	_, _ = f.ChooseRole(ctx, domain.RoleHospital)
	_, _ = f.SetField(FieldHospitalName, "General")

	v, err := f.CancelRegistration()
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if v.State != StateRoleSelect || v.Draft.Role != nil || v.Draft.Hints != *hints {
		t.Fatalf("unexpected view %+v", v)
	}
	v, err = f.ChooseRole(ctx, domain.RolePatient)
	if err != nil || v.Registration.Role() != domain.RolePatient {
		t.Fatalf("expected patient form, got %+v err=%v", v, err)
	}
}

func TestFlowFieldGuards(t *testing.T) {
	f := NewFlow(&api.MockBackend{}, nil, testOptions(), FlowParams{VerifiedProfile: &domain.Hints{Email: "a@b.co"}})
	_, _ = f.ChooseRole(context.Background(), domain.RoleHospital)

	if _, err := f.SetField(FieldEmail, "x@y.z"); !errors.Is(err, ErrReadOnlyField) {
		t.Fatalf("expected ErrReadOnlyField, got %v", err)
	}
	if _, err := f.SetField("nickname", "x"); !errors.Is(err, ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
	v, err := f.SetField(FieldFirstName, "")
	if err != nil {
		t.Fatalf("set field: %v", err)
	}
	if v.Errors[FieldFirstName] == "" {
		t.Fatalf("expected touched field error")
	}
	if v.Errors[FieldHospitalName] != "" {
		t.Fatalf("untouched field should not show errors")
	}
	v, _ = f.SetLocation(domain.Location{FormattedAddress: "1 Main St", PlaceID: "p1"})
	if v.Registration.Location() == nil || v.Errors[FieldLocation] != "" {
		t.Fatalf("unexpected location state %+v", v.Errors)
	}
}

func TestFlowSubmitFailureKeepsForm(t *testing.T) {
	mock := &api.MockBackend{CreateAccountFunc: func(api.AccountRequest) (api.AccountResponse, error) {
		return api.AccountResponse{}, errors.New("timeout")
	}}
	sessions := &fakeSessions{}
	hints := &domain.Hints{FirstName: "Ada", LastName: "Lovelace", Email: "a@b.co"}
	f := NewFlow(mock, sessions, testOptions(), FlowParams{VerifiedProfile: hints})
	ctx := context.Background()
	_, _ = f.ChooseRole(ctx, domain.RolePatient)
	_, _ = f.SetField(FieldPastHealthSummary, "none")

	v, err := f.Submit(ctx)
	if !IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if v.State != StateRegisterForm || v.Registration.Value(FieldPastHealthSummary) != "none" {
		t.Fatalf("expected form intact, got %+v", v)
	}
	if v.Notice == nil || v.Notice.Message != MsgSubmitFailed {
		t.Fatalf("expected generic notice, got %+v", v.Notice)
	}
	if sessions.count() != 0 {
		t.Fatalf("expected nothing persisted")
	}
}

func TestFlowExistingIDUpdates(t *testing.T) {
	var updated domain.StoredUser
	mock := &api.MockBackend{UpdateAccountFunc: func(id string, req api.AccountRequest) (api.AccountResponse, error) {
		return api.AccountResponse{BaseProfile: req.BaseProfile}, nil
	}}
	opts := testOptions()
	opts.OnUpdated = func(u domain.StoredUser) { updated = u }
	hints := &domain.Hints{FirstName: "Ada", LastName: "Lovelace", Email: "a@b.co"}
	f := NewFlow(mock, &fakeSessions{}, opts, FlowParams{VerifiedProfile: hints, ExistingID: "u1"})
	ctx := context.Background()
	_, _ = f.ChooseRole(ctx, domain.RolePatient)
	v, err := f.Submit(ctx)
	if err != nil || v.State != StateDoneNew {
		t.Fatalf("submit: %v (%s)", err, v.State)
	}
	if mock.CallCount("update-account") != 1 || updated.BaseProfile.FirstName != "Ada" {
		t.Fatalf("expected update path, calls=%v", mock.Calls)
	}
}

func TestFlowExistingIDKeepsToken(t *testing.T) {
	tests := []struct {
		name      string
		respToken string
		want      string
	}{
		{name: "response without token", respToken: "", want: "T-known"},
		{name: "response with token", respToken: "T-new", want: "T-new"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var authToken string
			mock := &api.MockBackend{}
			mock.UpdateAccountFunc = func(id string, req api.AccountRequest) (api.AccountResponse, error) {
				authToken = mock.Token
				return api.AccountResponse{BaseProfile: req.BaseProfile, Token: tt.respToken}, nil
			}
			hints := &domain.Hints{FirstName: "Ada", LastName: "Lovelace", Email: "a@b.co"}
			f := NewFlow(mock, &fakeSessions{}, testOptions(), FlowParams{VerifiedProfile: hints, ExistingID: "u1", Token: "T-known"})
			ctx := context.Background()
			_, _ = f.ChooseRole(ctx, domain.RolePatient)
			v, err := f.Submit(ctx)
			if err != nil || v.State != StateDoneNew {
				t.Fatalf("submit: %v (%s)", err, v.State)
			}
			if authToken != "T-known" {
				t.Fatalf("expected update sent with known token, got %q", authToken)
			}
			if v.Session == nil || v.Session.Token != tt.want {
				t.Fatalf("expected session token %q, got %+v", tt.want, v.Session)
			}
		})
	}
}

func TestFlowSubmitSingleFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	mock := &api.MockBackend{CreateAccountFunc: func(req api.AccountRequest) (api.AccountResponse, error) {
		entered <- struct{}{}
		<-release
		return createdSession(req), nil
	}}
	hints := &domain.Hints{FirstName: "Ada", LastName: "Lovelace", Email: "a@b.co"}
	f := NewFlow(mock, &fakeSessions{}, testOptions(), FlowParams{VerifiedProfile: hints})
	ctx := context.Background()
	_, _ = f.ChooseRole(ctx, domain.RolePatient)

	done := make(chan error, 1)
	go func() {
		_, err := f.Submit(ctx)
		done <- err
	}()
	<-entered

	if v := f.View(); !v.Busy || v.CanSubmit {
		t.Fatalf("expected busy view while submitting")
	}
	if _, err := f.Submit(ctx); !errors.Is(err, ErrSubmitInFlight) {
		t.Fatalf("expected ErrSubmitInFlight, got %v", err)
	}
	if _, err := f.CancelRegistration(); !errors.Is(err, ErrSubmitInFlight) {
		t.Fatalf("expected cancel blocked, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("submit: %v", err)
	}
	if mock.CallCount("create-account") != 1 {
		t.Fatalf("expected one create call")
	}
}
