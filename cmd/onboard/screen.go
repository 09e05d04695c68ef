package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"pulse-onboard/internal/domain"
	"pulse-onboard/internal/onboarding"
)

// prompter abstrae huh para poder guionar la pantalla en tests.
type prompter interface {
	Input(in input) (string, error)
	Select(title string, choices []choice, current string) (string, error)
	Confirm(title string, defaultValue bool) (bool, error)
}

type huhPrompter struct{}

func (huhPrompter) Input(in input) (string, error) { return promptInput(in) }
func (huhPrompter) Select(title string, choices []choice, current string) (string, error) {
	return promptSelect(title, choices, current)
}
func (huhPrompter) Confirm(title string, defaultValue bool) (bool, error) {
	return promptConfirm(title, defaultValue)
}

// elapsedTicker convierte el tiempo de pared entre prompts en ticks de 1s.
type elapsedTicker struct {
	now  func() time.Time
	last time.Time
}

func newElapsedTicker(now func() time.Time) *elapsedTicker {
	if now == nil {
		now = time.Now
	}
	return &elapsedTicker{now: now, last: now()}
}

func (t *elapsedTicker) reset() { t.last = t.now() }

func (t *elapsedTicker) due() int {
	n := int(t.now().Sub(t.last) / time.Second)
	if n <= 0 {
		return 0
	}
	t.last = t.last.Add(time.Duration(n) * time.Second)
	return n
}

const (
	actionCode   = "code"
	actionResend = "resend"
	actionEmail  = "email"
	actionSubmit = "submit"
	actionEdit   = "edit"
	actionRole   = "role"
)

type screen struct {
	flow   *onboarding.Flow
	prompt prompter
	ticker *elapsedTicker
	out    io.Writer
	length int
}

func newScreen(flow *onboarding.Flow, p prompter, out io.Writer, codeLength int, now func() time.Time) *screen {
	return &screen{
		flow:   flow,
		prompt: p,
		ticker: newElapsedTicker(now),
		out:    out,
		length: codeLength,
	}
}

// run conduce el flujo hasta un estado terminal. Solo los errores de prompt
// cortan el loop; los del flujo ya quedan en el View.
func (s *screen) run(ctx context.Context) (onboarding.View, error) {
	var prev onboarding.State
	fillForm := true
	for {
		if err := ctx.Err(); err != nil {
			return s.flow.View(), err
		}
		v := s.flow.View()
		if v.State != prev {
			if v.State == onboarding.StateOTPPending {
				s.ticker.reset()
			}
			if v.State == onboarding.StateRegisterForm {
				fillForm = true
			}
			prev = v.State
		}
		s.renderNotice(v.Notice)
		if v.State.Done() {
			return v, nil
		}

		var err error
		switch v.State {
		case onboarding.StateLoginEmail:
			err = s.loginEmail(ctx)
		case onboarding.StateOTPPending:
			err = s.otpPending(ctx)
		case onboarding.StateRoleSelect:
			err = s.roleSelect(ctx, v)
		case onboarding.StateRegisterForm:
			if fillForm {
				if err = s.fillForm(); err != nil {
					return s.flow.View(), err
				}
				fillForm = false
			}
			fillForm, err = s.registerActions(ctx)
		}
		if err != nil {
			return s.flow.View(), err
		}
	}
}

func (s *screen) loginEmail(ctx context.Context) error {
	addr, err := s.prompt.Input(input{
		Title:       "Email",
		Description: "We will send you a one-time code",
		Placeholder: "me@example.com",
	})
	if err != nil {
		return err
	}
	v, _ := s.flow.SubmitEmail(ctx, addr)
	s.renderErrors(v.Errors)
	return nil
}

func (s *screen) otpPending(ctx context.Context) error {
	for i, n := 0, s.ticker.due(); i < n && s.flow.Ticking(); i++ {
		s.flow.Tick()
	}
	v := s.flow.View()
	c := v.Challenge
	fmt.Fprintln(s.out, titleStyle.Render("Enter the code sent to "+c.Email))
	if c.LastError != "" {
		fmt.Fprintln(s.out, errorStyle.Render(c.LastError))
	}
	if c.ResendCooldownSeconds > 0 {
		fmt.Fprintln(s.out, mutedStyle.Render(fmt.Sprintf("You can resend the code in %ds", c.ResendCooldownSeconds)))
	}

	choices := []choice{{Label: "Enter code", Value: actionCode}}
	if v.CanResend {
		choices = append(choices, choice{Label: "Resend code", Value: actionResend})
	}
	choices = append(choices, choice{Label: "Use a different email", Value: actionEmail})
	action, err := s.prompt.Select("What next?", choices, actionCode)
	if err != nil {
		return err
	}

	switch action {
	case actionCode:
		code, err := s.prompt.Input(input{
			Title:       fmt.Sprintf("%d-digit code", s.length),
			Placeholder: strings.Repeat("0", s.length),
			Value:       c.Code(),
			Validate:    s.validateCode,
		})
		if err != nil {
			return err
		}
		if _, err := s.flow.SetCode(code); err != nil {
			return nil
		}
		_, _ = s.flow.Verify(ctx)
	case actionResend:
		if _, err := s.flow.Resend(ctx); err == nil {
			s.ticker.reset()
		}
	case actionEmail:
		_, _ = s.flow.UseDifferentEmail()
	}
	return nil
}

func (s *screen) validateCode(code string) error {
	code = strings.TrimSpace(code)
	if len(code) != s.length {
		return fmt.Errorf("the code has %d digits", s.length)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return errors.New("digits only")
		}
	}
	return nil
}

func roleLabel(r domain.Role) string {
	switch r {
	case domain.RoleHospital:
		return "Hospital"
	case domain.RoleMedTransport:
		return "Medical transport"
	case domain.RolePatient:
		return "Patient"
	}
	return string(r)
}

func (s *screen) roleSelect(ctx context.Context, v onboarding.View) error {
	choices := make([]choice, 0, len(v.Roles))
	for _, r := range v.Roles {
		choices = append(choices, choice{Label: roleLabel(r), Value: string(r)})
	}
	current := ""
	if v.Draft != nil && v.Draft.Role != nil {
		current = string(*v.Draft.Role)
	}
	selected, err := s.prompt.Select("How will you use Pulse?", choices, current)
	if err != nil {
		return err
	}
	role, err := domain.ParseRole(selected)
	if err != nil {
		fmt.Fprintln(s.out, errorStyle.Render(err.Error()))
		return nil
	}
	// ChooseRole no deja Notice; el error se muestra aca y el loop vuelve
	// a pintar el estado actual
	if _, err := s.flow.ChooseRole(ctx, role); err != nil {
		fmt.Fprintln(s.out, errorStyle.Render("Could not choose role: "+err.Error()))
	}
	return nil
}

// fillForm pide los campos visibles en orden. La lista se relee despues de
// cada campo porque un valor puede mostrar u ocultar los siguientes.
func (s *screen) fillForm() error {
	for i := 0; ; i++ {
		v := s.flow.View()
		if v.State != onboarding.StateRegisterForm || i >= len(v.Fields) {
			return nil
		}
		if err := s.promptField(v.Fields[i], *v.Registration); err != nil {
			return err
		}
	}
}

func (s *screen) promptField(f onboarding.FieldSpec, reg onboarding.Registration) error {
	current := reg.Value(f.Key)
	if f.ReadOnly {
		fmt.Fprintf(s.out, "%s: %s\n", f.Label, valueStyle.Render(current))
		return nil
	}

	switch f.Kind {
	case onboarding.KindEnum, onboarding.KindReference:
		if len(f.Options) == 0 {
			fmt.Fprintln(s.out, mutedStyle.Render(fmt.Sprintf("%s: no options available", f.Label)))
			return nil
		}
		choices := make([]choice, len(f.Options))
		for i, o := range f.Options {
			choices[i] = choice{Label: o.Label, Value: o.Value}
		}
		selected, err := s.prompt.Select(f.Label, choices, current)
		if err != nil {
			return err
		}
		_, err = s.flow.SetField(f.Key, selected)
		return err
	case onboarding.KindLocation:
		loc, err := s.promptLocation(f, reg)
		if err != nil {
			return err
		}
		_, err = s.flow.SetLocation(loc)
		return err
	default:
		value, err := s.prompt.Input(input{
			Title:       f.Label,
			Placeholder: f.Placeholder,
			Value:       current,
			Multiline:   f.Kind == onboarding.KindMultiline,
		})
		if err != nil {
			return err
		}
		_, err = s.flow.SetField(f.Key, value)
		return err
	}
}

// promptLocation reemplaza el buscador de lugares: direccion y coordenadas
// a mano, con un place id local.
func (s *screen) promptLocation(f onboarding.FieldSpec, reg onboarding.Registration) (domain.Location, error) {
	var prev domain.Location
	if hf, ok := reg.Fields.(onboarding.HospitalFields); ok && hf.Location != nil {
		prev = *hf.Location
	}
	addr, err := s.prompt.Input(input{
		Title:       f.Label,
		Placeholder: f.Placeholder,
		Value:       prev.FormattedAddress,
	})
	if err != nil {
		return domain.Location{}, err
	}
	coords := ""
	if prev.FormattedAddress != "" {
		coords = fmt.Sprintf("%g, %g", prev.Coordinates.Lat, prev.Coordinates.Lng)
	}
	coords, err = s.prompt.Input(input{
		Title:       "Coordinates",
		Description: "lat, lng",
		Placeholder: "51.4995, -0.1167",
		Value:       coords,
		Validate: func(v string) error {
			_, err := parseCoordinates(v)
			return err
		},
	})
	if err != nil {
		return domain.Location{}, err
	}
	c, err := parseCoordinates(coords)
	if err != nil {
		return domain.Location{}, err
	}
	placeID := prev.PlaceID
	if placeID == "" || strings.TrimSpace(addr) != prev.FormattedAddress {
		placeID = "cli-" + uuid.NewString()
	}
	return domain.Location{
		FormattedAddress: strings.TrimSpace(addr),
		Coordinates:      c,
		PlaceID:          placeID,
	}, nil
}

func parseCoordinates(s string) (domain.Coordinates, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return domain.Coordinates{}, errors.New("expected \"lat, lng\"")
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil || lat < -90 || lat > 90 {
		return domain.Coordinates{}, errors.New("invalid latitude")
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil || lng < -180 || lng > 180 {
		return domain.Coordinates{}, errors.New("invalid longitude")
	}
	return domain.Coordinates{Lat: lat, Lng: lng}, nil
}

// registerActions devuelve true si hay que volver a pedir los campos.
func (s *screen) registerActions(ctx context.Context) (bool, error) {
	action, err := s.prompt.Select("Ready?", []choice{
		{Label: "Create account", Value: actionSubmit},
		{Label: "Edit fields", Value: actionEdit},
		{Label: "Choose a different role", Value: actionRole},
	}, actionSubmit)
	if err != nil {
		return false, err
	}

	switch action {
	case actionSubmit:
		v, err := s.flow.Submit(ctx)
		var ferr onboarding.FieldErrors
		if errors.As(err, &ferr) {
			s.renderErrors(v.Errors)
			return true, nil
		}
		return false, nil
	case actionEdit:
		return true, nil
	case actionRole:
		ok, err := s.prompt.Confirm("Discard this form and choose another role?", false)
		if err != nil {
			return false, err
		}
		if ok {
			_, _ = s.flow.CancelRegistration()
		}
	}
	return false, nil
}

func (s *screen) renderNotice(n *onboarding.Notice) {
	if n == nil {
		return
	}
	switch n.Kind {
	case onboarding.NoticeError:
		fmt.Fprintln(s.out, errorStyle.Render(n.Message))
	case onboarding.NoticeSuccess:
		fmt.Fprintln(s.out, successStyle.Render(n.Message))
	default:
		fmt.Fprintln(s.out, mutedStyle.Render(n.Message))
	}
}

func (s *screen) renderErrors(errs onboarding.FieldErrors) {
	if len(errs) == 0 {
		return
	}
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintln(s.out, errorStyle.Render(errs[k]))
	}
}
