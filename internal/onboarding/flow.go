package onboarding

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"pulse-onboard/internal/domain"
)

// State es el paso visible del onboarding.
type State string

const (
	StateLoginEmail   State = "LOGIN_EMAIL"
	StateOTPPending   State = "OTP_PENDING"
	StateRoleSelect   State = "ROLE_SELECT"
	StateRegisterForm State = "REGISTER_FORM"
	StateDoneExisting State = "DONE_EXISTING"
	StateDoneNew      State = "DONE_NEW"
)

// Done indica un estado terminal con sesion.
func (s State) Done() bool {
	return s == StateDoneExisting || s == StateDoneNew
}

type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
	NoticeInfo    NoticeKind = "info"
)

// Notice reemplaza al toast global: el screen lo muestra una vez.
type Notice struct {
	Kind    NoticeKind
	Message string
}

// FlowParams son los parametros de entrada del flujo.
type FlowParams struct {
	// Email ya conocido: el flujo arranca en OTP_PENDING sin reenviar.
	Email string
	// VerifiedProfile salta directo a la eleccion de rol.
	VerifiedProfile *domain.Hints
	// ExistingID convierte el envio del formulario en un update.
	ExistingID string
	// Token es el bearer de ExistingID. Lo usa el PUT y queda en la sesion
	// final, ya que la respuesta del update no trae token.
	Token string
}

type Options struct {
	Challenge ChallengeConfig
	Placement Placement
	Logger    *zap.Logger
	OnUpdated func(domain.StoredUser)
}

// View es lo que el screen necesita para dibujar el paso actual. Solo uno de
// Challenge, Draft o Schema viene cargado.
type View struct {
	State        State
	Challenge    *ChallengeState
	Draft        *RoleDraft
	Roles        []domain.Role
	Schema       *Schema
	Registration *Registration
	Fields       []FieldSpec
	Errors       FieldErrors
	Notice       *Notice
	CanResend    bool
	CanVerify    bool
	CanSubmit    bool
	Busy         bool
	Session      *domain.Session
}

// Flow secuencia OTPChallenge, RoleSelector, SchemaResolver y Submitter.
// El mutex se suelta durante las llamadas de red; busy y el estado del
// desafio evitan operaciones duplicadas en vuelo.
type Flow struct {
	backend   Backend
	sessions  SessionSaver
	logger    *zap.Logger
	cfg       ChallengeConfig
	submitter *Submitter

	mu         sync.Mutex
	state      State
	busy       bool
	formGen    int
	challenge  *Challenge
	selector   *RoleSelector
	schema     *Schema
	reg        *Registration
	touched    map[string]bool
	errors     FieldErrors
	notice     *Notice
	session    *domain.Session
	existingID string
}

func NewFlow(backend Backend, sessions SessionSaver, opts Options, params FlowParams) *Flow {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	submitter := NewSubmitter(backend, sessions, opts.Placement, logger)
	if opts.OnUpdated != nil {
		submitter.OnUpdated(opts.OnUpdated)
	}
	if params.Token != "" {
		submitter.UseToken(params.Token)
	}
	f := &Flow{
		backend:    backend,
		sessions:   sessions,
		logger:     logger,
		cfg:        opts.Challenge,
		submitter:  submitter,
		state:      StateLoginEmail,
		existingID: params.ExistingID,
	}

	switch {
	case params.VerifiedProfile != nil:
		f.selector = NewRoleSelector(*params.VerifiedProfile)
		f.state = StateRoleSelect
	case params.Email != "":
		ch := f.newChallenge()
		if err := ch.Resume(params.Email); err != nil {
			f.errors = FieldErrors{"email": MsgInvalidEmail}
			break
		}
		f.challenge = ch
		f.state = StateOTPPending
	}
	f.logger.Debug("onboarding flow created", zap.String("state", string(f.state)))
	return f
}

func (f *Flow) newChallenge() *Challenge {
	return NewChallenge(f.cfg, f.backend, f.sessions, f.logger)
}

// View devuelve el snapshot actual sin modificar nada.
func (f *Flow) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.viewLocked()
}

func (f *Flow) viewLocked() View {
	v := View{
		State:  f.state,
		Notice: f.notice,
		Busy:   f.busy,
	}
	if len(f.errors) > 0 {
		v.Errors = make(FieldErrors, len(f.errors))
		for k, msg := range f.errors {
			v.Errors[k] = msg
		}
	}
	switch f.state {
	case StateOTPPending:
		st := f.challenge.State()
		v.Challenge = &st
		v.CanResend = st.Status == StatusAwaitingCode && st.ResendCooldownSeconds == 0
		v.CanVerify = st.Status == StatusAwaitingCode && st.Complete()
	case StateRoleSelect:
		d := f.selector.Draft()
		v.Draft = &d
		v.Roles = f.selector.Options()
	case StateRegisterForm:
		schema := f.schema.WithOptions("", nil)
		reg := *f.reg
		v.Schema = &schema
		v.Registration = &reg
		v.Fields = schema.Visible(reg)
		v.CanSubmit = !f.busy
	case StateDoneExisting, StateDoneNew:
		sess := *f.session
		v.Session = &sess
	}
	return v
}

// begin arranca una operacion: verifica el estado y limpia el notice.
func (f *Flow) begin(allowed State) error {
	if f.state != allowed {
		return ErrInvalidTransition
	}
	f.notice = nil
	return nil
}

// SubmitEmail inicia el desafio para email (LOGIN_EMAIL -> OTP_PENDING).
func (f *Flow) SubmitEmail(ctx context.Context, email string) (View, error) {
	f.mu.Lock()
	if err := f.begin(StateLoginEmail); err != nil {
		defer f.mu.Unlock()
		return f.viewLocked(), err
	}
	if f.busy {
		defer f.mu.Unlock()
		return f.viewLocked(), ErrBusy
	}
	if !ValidEmail(email) {
		defer f.mu.Unlock()
		f.errors = FieldErrors{"email": MsgInvalidEmail}
		return f.viewLocked(), f.errors
	}
	f.errors = nil
	f.busy = true
	ch := f.newChallenge()
	f.mu.Unlock()

	err := ch.Start(ctx, email)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.busy = false
	if err != nil {
		f.errors = FieldErrors{"email": MsgInvalidEmail}
		return f.viewLocked(), err
	}
	f.challenge = ch
	f.state = StateOTPPending
	f.logger.Info("otp challenge started", zap.String("email", ch.State().Email))
	return f.viewLocked(), nil
}

// SetDigit escribe un digito del codigo.
func (f *Flow) SetDigit(index int, value string) (View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(StateOTPPending); err != nil {
		return f.viewLocked(), err
	}
	err := f.challenge.SetDigit(index, value)
	return f.viewLocked(), err
}

// SetCode carga un codigo completo (pegado).
func (f *Flow) SetCode(code string) (View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(StateOTPPending); err != nil {
		return f.viewLocked(), err
	}
	err := f.challenge.SetCode(code)
	return f.viewLocked(), err
}

// Tick avanza el cooldown un segundo. Fuera de OTP_PENDING no hace nada.
func (f *Flow) Tick() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateOTPPending {
		f.challenge.Tick()
	}
	return f.viewLocked()
}

// Ticking indica si el caller debe seguir generando ticks.
func (f *Flow) Ticking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == StateOTPPending && f.challenge.Ticking()
}

// Resend reenvia el codigo si el cooldown termino.
func (f *Flow) Resend(ctx context.Context) (View, error) {
	f.mu.Lock()
	if err := f.begin(StateOTPPending); err != nil {
		defer f.mu.Unlock()
		return f.viewLocked(), err
	}
	ch := f.challenge
	f.mu.Unlock()

	err := ch.Resend(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.challenge != ch {
		return f.viewLocked(), ErrInvalidTransition
	}
	switch {
	case errors.Is(err, ErrResendCooldown), errors.Is(err, ErrChallengeClosed):
		return f.viewLocked(), err
	case err != nil:
		f.notice = &Notice{Kind: NoticeError, Message: MsgResendFailed}
		return f.viewLocked(), err
	}
	f.notice = &Notice{Kind: NoticeSuccess, Message: MsgResent}
	return f.viewLocked(), nil
}

// Verify envia el codigo. Cuenta existente termina en DONE_EXISTING; cuenta
// nueva pasa a ROLE_SELECT con los hints del backend.
func (f *Flow) Verify(ctx context.Context) (View, error) {
	f.mu.Lock()
	if err := f.begin(StateOTPPending); err != nil {
		defer f.mu.Unlock()
		return f.viewLocked(), err
	}
	ch := f.challenge
	f.mu.Unlock()

	out, err := ch.Verify(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateOTPPending || f.challenge != ch {
		f.logger.Info("verify result dropped after challenge was discarded")
		return f.viewLocked(), ErrInvalidTransition
	}
	if err != nil {
		var terr *TransportError
		switch {
		case errors.As(err, &terr):
			f.notice = &Notice{Kind: NoticeError, Message: MsgTransport}
		case errors.Is(err, ErrMalformedResponse):
			f.notice = &Notice{Kind: NoticeError, Message: MsgUnexpected}
		}
		return f.viewLocked(), err
	}

	switch out.Status {
	case StatusVerifiedNew:
		f.selector = NewRoleSelector(out.Draft.Hints)
		f.challenge = nil
		f.state = StateRoleSelect
	case StatusVerifiedExisting:
		f.session = out.Session
		f.challenge = nil
		f.state = StateDoneExisting
		f.logger.Info("existing account signed in", zap.String("role", string(out.Session.Role())))
	}
	return f.viewLocked(), nil
}

// UseDifferentEmail descarta el desafio y vuelve al login.
func (f *Flow) UseDifferentEmail() (View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(StateOTPPending); err != nil {
		return f.viewLocked(), err
	}
	f.challenge = nil
	f.errors = nil
	f.state = StateLoginEmail
	return f.viewLocked(), nil
}

// ChooseRole registra el rol y abre el formulario. Para med_transport trae
// la lista de hospitales para el selector.
func (f *Flow) ChooseRole(ctx context.Context, role domain.Role) (View, error) {
	f.mu.Lock()
	if err := f.begin(StateRoleSelect); err != nil {
		defer f.mu.Unlock()
		return f.viewLocked(), err
	}
	schema, err := Resolve(role)
	if err != nil {
		defer f.mu.Unlock()
		return f.viewLocked(), err
	}
	if err := f.selector.Choose(role); err != nil {
		defer f.mu.Unlock()
		return f.viewLocked(), err
	}
	reg, err := InitialValues(role, f.selector.Draft().Hints)
	if err != nil {
		defer f.mu.Unlock()
		return f.viewLocked(), err
	}
	f.schema = &schema
	f.reg = &reg
	f.touched = make(map[string]bool)
	f.errors = nil
	f.formGen++
	f.state = StateRegisterForm
	gen := f.formGen
	if role != domain.RoleMedTransport {
		defer f.mu.Unlock()
		return f.viewLocked(), nil
	}
	f.mu.Unlock()

	hospitals, herr := f.backend.ListHospitals(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateRegisterForm || f.formGen != gen {
		return f.viewLocked(), nil
	}
	if herr != nil {
		f.logger.Warn("list hospitals failed", zap.Error(herr))
		f.notice = &Notice{Kind: NoticeError, Message: MsgHospitalsError}
		return f.viewLocked(), nil
	}
	opts := make([]Option, 0, len(hospitals))
	for _, h := range hospitals {
		if h.ID == "" {
			continue
		}
		opts = append(opts, Option{Value: h.ID, Label: h.Label()})
	}
	updated := f.schema.WithOptions(FieldHospital, opts)
	f.schema = &updated
	return f.viewLocked(), nil
}

// SetField actualiza un valor y revalida los campos tocados.
func (f *Flow) SetField(key, value string) (View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(StateRegisterForm); err != nil {
		return f.viewLocked(), err
	}
	spec, ok := f.schema.Field(key)
	if !ok || spec.Kind == KindLocation {
		return f.viewLocked(), ErrUnknownField
	}
	if spec.ReadOnly {
		return f.viewLocked(), ErrReadOnlyField
	}
	if err := f.reg.Set(key, value); err != nil {
		return f.viewLocked(), err
	}
	f.touched[key] = true
	f.revalidateLocked()
	return f.viewLocked(), nil
}

// SetLocation guarda la direccion elegida en el buscador.
func (f *Flow) SetLocation(loc domain.Location) (View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(StateRegisterForm); err != nil {
		return f.viewLocked(), err
	}
	if err := f.reg.SetLocation(loc); err != nil {
		return f.viewLocked(), err
	}
	f.touched[FieldLocation] = true
	f.revalidateLocked()
	return f.viewLocked(), nil
}

func (f *Flow) revalidateLocked() {
	all := f.schema.Validate(*f.reg)
	f.errors = nil
	for key, msg := range all {
		if !f.touched[key] {
			continue
		}
		if f.errors == nil {
			f.errors = FieldErrors{}
		}
		f.errors[key] = msg
	}
}

// CancelRegistration vuelve a ROLE_SELECT; solo se conservan los hints.
// La confirmacion la pide el screen.
func (f *Flow) CancelRegistration() (View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(StateRegisterForm); err != nil {
		return f.viewLocked(), err
	}
	if f.busy {
		return f.viewLocked(), ErrSubmitInFlight
	}
	f.selector.Reset()
	f.schema = nil
	f.reg = nil
	f.touched = nil
	f.errors = nil
	f.formGen++
	f.state = StateRoleSelect
	return f.viewLocked(), nil
}

// Submit valida y envia el formulario. En fallo los valores quedan intactos.
func (f *Flow) Submit(ctx context.Context) (View, error) {
	f.mu.Lock()
	if err := f.begin(StateRegisterForm); err != nil {
		defer f.mu.Unlock()
		return f.viewLocked(), err
	}
	if f.busy {
		defer f.mu.Unlock()
		return f.viewLocked(), ErrSubmitInFlight
	}
	if errs := f.schema.Validate(*f.reg); len(errs) > 0 {
		defer f.mu.Unlock()
		for _, spec := range f.schema.Visible(*f.reg) {
			f.touched[spec.Key] = true
		}
		f.errors = errs
		return f.viewLocked(), errs
	}
	f.busy = true
	schema := *f.schema
	reg := *f.reg
	existingID := f.existingID
	f.mu.Unlock()

	res, err := f.submitter.Submit(ctx, schema, reg, existingID)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.busy = false
	if err != nil {
		var serr *SubmitError
		if errors.As(err, &serr) {
			f.notice = &Notice{Kind: NoticeError, Message: serr.Message}
		}
		var ferr FieldErrors
		if errors.As(err, &ferr) {
			f.errors = ferr
		}
		return f.viewLocked(), err
	}
	f.session = &res.Session
	f.schema = nil
	f.reg = nil
	f.touched = nil
	f.errors = nil
	f.state = StateDoneNew
	return f.viewLocked(), nil
}
