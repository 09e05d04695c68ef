package stubapi

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"pulse-onboard/internal/api"
	"pulse-onboard/internal/domain"
	"pulse-onboard/internal/email"
	"pulse-onboard/internal/onboarding"
	"pulse-onboard/internal/session"
	"pulse-onboard/internal/storage"
)

type e2e struct {
	server   *httptest.Server
	sender   *email.LogSender
	sessions *session.Store
}

func newE2E(t *testing.T) *e2e {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sender := email.NewLogSender(nil)
	tokens := NewTokenIssuer("e2e-secret", time.Hour)
	h := NewHandler(nil, NewOTPIssuer(6, ""), nil, sender, tokens, NewAccountStore())
	srv := httptest.NewServer(NewRouter(nil, h, tokens))
	t.Cleanup(srv.Close)
	return &e2e{
		server:   srv,
		sender:   sender,
		sessions: session.NewStore(nil, storage.NewMemoryStore(), storage.NewMemoryStore()),
	}
}

func (e *e2e) flow(params onboarding.FlowParams, placement onboarding.Placement) (*onboarding.Flow, *api.Client) {
	client := api.NewClient(e.server.URL, "email", e.server.Client(), nil)
	opts := onboarding.Options{
		Challenge: onboarding.ChallengeConfig{Length: 6, ResendDelay: 60},
		Placement: placement,
	}
	return onboarding.NewFlow(client, e.sessions, opts, params), client
}

func (e *e2e) login(t *testing.T, f *onboarding.Flow, addr string) onboarding.View {
	t.Helper()
	ctx := context.Background()
	if _, err := f.SubmitEmail(ctx, addr); err != nil {
		t.Fatalf("submit email: %v", err)
	}
	code, ok := e.sender.LastCode(addr)
	if !ok {
		t.Fatalf("no code delivered to %s", addr)
	}
	if _, err := f.SetCode(code); err != nil {
		t.Fatalf("set code: %v", err)
	}
	v, err := f.Verify(ctx)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	return v
}

func TestEndToEndRegisterThenSignIn(t *testing.T) {
	env := newE2E(t)
	ctx := context.Background()

	f, _ := env.flow(onboarding.FlowParams{}, onboarding.PlacementBase)
	v := env.login(t, f, "nurse@pulse.dev")
	if v.State != onboarding.StateRoleSelect {
		t.Fatalf("expected ROLE_SELECT, got %s", v.State)
	}
	if _, err := f.ChooseRole(ctx, domain.RoleHospital); err != nil {
		t.Fatalf("choose role: %v", err)
	}
	for key, value := range map[string]string{
		onboarding.FieldFirstName:    "Florence",
		onboarding.FieldLastName:     "Nightingale",
		onboarding.FieldHospitalName: "St Thomas",
		onboarding.FieldSpecialties:  "nursing, surgery",
	} {
		if _, err := f.SetField(key, value); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}
	if _, err := f.SetLocation(domain.Location{
		FormattedAddress: "Westminster Bridge Rd, London",
		Coordinates:      domain.Coordinates{Lat: 51.49, Lng: -0.11},
		PlaceID:          "place-1",
	}); err != nil {
		t.Fatalf("set location: %v", err)
	}
	v, err := f.Submit(ctx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if v.State != onboarding.StateDoneNew || v.Session.Token == "" {
		t.Fatalf("unexpected view %+v", v)
	}
	hospitalID := v.Session.BaseProfile.ID

	loaded, err := env.sessions.Load(ctx)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if loaded.Role() != domain.RoleHospital || loaded.BaseProfile.HospitalName != "St Thomas" {
		t.Fatalf("unexpected stored session %+v", loaded)
	}

	// Un transportista nuevo ve al hospital recien creado.
	f2, _ := env.flow(onboarding.FlowParams{}, onboarding.PlacementByRole)
	v = env.login(t, f2, "driver@pulse.dev")
	if v.State != onboarding.StateRoleSelect {
		t.Fatalf("expected ROLE_SELECT, got %s", v.State)
	}
	v, err = f2.ChooseRole(ctx, domain.RoleMedTransport)
	if err != nil {
		t.Fatalf("choose role: %v", err)
	}
	spec, _ := v.Schema.Field(onboarding.FieldHospital)
	if len(spec.Options) != 1 || spec.Options[0].Value != hospitalID {
		t.Fatalf("expected hospital option %s, got %+v", hospitalID, spec.Options)
	}
	for key, value := range map[string]string{
		onboarding.FieldFirstName: "Dan",
		onboarding.FieldLastName:  "Driver",
		onboarding.FieldType:      string(domain.TransportPrivateAmbulance),
		onboarding.FieldHospital:  hospitalID,
	} {
		if _, err := f2.SetField(key, value); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}
	v, err = f2.Submit(ctx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if v.Session.ProfileByRole.Hospital != hospitalID || v.Session.BaseProfile.Type != "" {
		t.Fatalf("expected role fields in profileByRole, got %+v", v.Session)
	}

	// Vuelve el hospital: cuenta existente.
	f3, client := env.flow(onboarding.FlowParams{}, onboarding.PlacementBase)
	v = env.login(t, f3, "nurse@pulse.dev")
	if v.State != onboarding.StateDoneExisting || v.Session.BaseProfile.ID != hospitalID {
		t.Fatalf("unexpected view %+v", v)
	}

	// El token quedo instalado: la actualizacion autenticada funciona.
	req := api.AccountRequest{BaseProfile: v.Session.BaseProfile}
	req.BaseProfile.HospitalName = "St Thomas' Hospital"
	updated, err := client.UpdateAccount(ctx, hospitalID, req)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.BaseProfile.HospitalName != "St Thomas' Hospital" {
		t.Fatalf("unexpected update %+v", updated.BaseProfile)
	}
}

func TestEndToEndWrongCode(t *testing.T) {
	env := newE2E(t)
	ctx := context.Background()
	f, _ := env.flow(onboarding.FlowParams{}, onboarding.PlacementBase)
	if _, err := f.SubmitEmail(ctx, "a@pulse.dev"); err != nil {
		t.Fatalf("submit email: %v", err)
	}
	code, _ := env.sender.LastCode("a@pulse.dev")
	wrong := "000000"
	if code == wrong {
		wrong = "999999"
	}
	_, _ = f.SetCode(wrong)
	v, err := f.Verify(ctx)
	if err == nil {
		t.Fatalf("expected rejection")
	}
	if v.Challenge.LastError != "Invalid OTP" || v.Challenge.Code() != wrong {
		t.Fatalf("unexpected challenge %+v", v.Challenge)
	}
	if _, err := env.sessions.Load(ctx); !errors.Is(err, session.ErrNoSession) {
		t.Fatalf("expected no stored session, got %v", err)
	}
}
