package onboarding

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"pulse-onboard/internal/domain"
)

// Status es el estado de un ciclo desafio-respuesta.
type Status string

const (
	StatusAwaitingCode     Status = "AWAITING_CODE"
	StatusVerifying        Status = "VERIFYING"
	StatusVerifiedExisting Status = "VERIFIED_EXISTING"
	StatusVerifiedNew      Status = "VERIFIED_NEW"
	StatusFailed           Status = "FAILED"
)

// ChallengeConfig fija el largo del codigo y el delay de reenvio en segundos.
type ChallengeConfig struct {
	Length      int
	ResendDelay int
}

// ChallengeState es la vista del desafio. Digits siempre tiene Length
// posiciones; las vacias son "".
type ChallengeState struct {
	Email                 string
	Digits                []string
	ResendCooldownSeconds int
	Status                Status
	LastError             string
}

// Code concatena los digitos.
func (s ChallengeState) Code() string {
	return strings.Join(s.Digits, "")
}

// Complete indica si todas las posiciones tienen un digito.
func (s ChallengeState) Complete() bool {
	for _, d := range s.Digits {
		if d == "" {
			return false
		}
	}
	return len(s.Digits) > 0
}

func (s ChallengeState) clone() ChallengeState {
	out := s
	out.Digits = append([]string(nil), s.Digits...)
	return out
}

// VerifyOutcome es el resultado de una verificacion exitosa.
// Draft viene con VERIFIED_NEW, Session con VERIFIED_EXISTING.
type VerifyOutcome struct {
	Status     Status
	Draft      *RoleDraft
	Session    *domain.Session
	PersistErr error
}

// Challenge maneja un ciclo OTP para un email. No agenda timers propios:
// el caller invoca Tick una vez por segundo mientras espera el codigo.
type Challenge struct {
	cfg      ChallengeConfig
	backend  Backend
	sessions SessionSaver
	logger   *zap.Logger

	mu      sync.Mutex
	started bool
	state   ChallengeState
}

func NewChallenge(cfg ChallengeConfig, backend Backend, sessions SessionSaver, logger *zap.Logger) *Challenge {
	if cfg.Length <= 0 {
		cfg.Length = 6
	}
	if cfg.ResendDelay < 0 {
		cfg.ResendDelay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Challenge{
		cfg:      cfg,
		backend:  backend,
		sessions: sessions,
		logger:   logger,
	}
}

func (c *Challenge) emptyDigits() []string {
	return make([]string, c.cfg.Length)
}

func (c *Challenge) open(email string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrChallengeStarted
	}
	c.started = true
	c.state = ChallengeState{
		Email:                 email,
		Digits:                c.emptyDigits(),
		ResendCooldownSeconds: c.cfg.ResendDelay,
		Status:                StatusAwaitingCode,
	}
	return nil
}

// Start crea el desafio y dispara el envio. Un email invalido devuelve
// FieldErrors sin tocar la red. Un envio fallido queda en LastError y el
// estado sigue en AWAITING_CODE para reenviar al terminar el cooldown.
func (c *Challenge) Start(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if !ValidEmail(email) {
		return FieldErrors{"email": MsgInvalidEmail}
	}
	if err := c.open(email); err != nil {
		return err
	}

	if err := c.send(ctx, email); err != nil {
		c.logger.Warn("send otp failed", zap.Error(err), zap.String("email", email))
		c.mu.Lock()
		c.state.LastError = sendFailureMessage(err)
		c.mu.Unlock()
	}
	return nil
}

// Resume reconstruye el desafio para un email cuyo codigo ya se envio
// (vuelta desde una redireccion externa). No hay llamada de red.
func (c *Challenge) Resume(email string) error {
	email = NormalizeEmail(email)
	if !ValidEmail(email) {
		return FieldErrors{"email": MsgInvalidEmail}
	}
	return c.open(email)
}

func sendFailureMessage(err error) string {
	var cerr *ChallengeError
	if errors.As(err, &cerr) {
		return cerr.Message
	}
	return MsgSendFailed
}

func (c *Challenge) send(ctx context.Context, email string) error {
	resp, err := c.backend.SendOTP(ctx, email)
	if err != nil {
		return classify(err)
	}
	if !resp.Success {
		return &ChallengeError{Message: MsgSendFailed}
	}
	return nil
}

// Tick descuenta un segundo del cooldown con piso en cero. Fuera de
// AWAITING_CODE no hace nada.
func (c *Challenge) Tick() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status != StatusAwaitingCode {
		return c.state.ResendCooldownSeconds
	}
	if c.state.ResendCooldownSeconds > 0 {
		c.state.ResendCooldownSeconds--
	}
	return c.state.ResendCooldownSeconds
}

// Ticking indica si el caller todavia debe seguir llamando a Tick.
func (c *Challenge) Ticking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Status == StatusAwaitingCode && c.state.ResendCooldownSeconds > 0
}

// Resend reenvia el codigo cuando el cooldown llego a cero. Limpia digitos y
// LastError antes del envio; un fallo de envio se devuelve como error para
// notificarlo sin pisar LastError.
func (c *Challenge) Resend(ctx context.Context) error {
	c.mu.Lock()
	if !c.started || c.state.Status != StatusAwaitingCode {
		c.mu.Unlock()
		return ErrChallengeClosed
	}
	if c.state.ResendCooldownSeconds > 0 {
		c.mu.Unlock()
		return ErrResendCooldown
	}
	email := c.state.Email
	c.state.Digits = c.emptyDigits()
	c.state.ResendCooldownSeconds = c.cfg.ResendDelay
	c.state.LastError = ""
	c.mu.Unlock()

	if err := c.send(ctx, email); err != nil {
		c.logger.Warn("resend otp failed", zap.Error(err), zap.String("email", email))
		return err
	}
	return nil
}

// SetDigit escribe una posicion. Un valor de varios caracteres conserva el
// ultimo (pegado sobre una casilla llena); "" la vacia.
func (c *Challenge) SetDigit(index int, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started || c.state.Status != StatusAwaitingCode {
		return ErrChallengeClosed
	}
	if index < 0 || index >= len(c.state.Digits) {
		return ErrDigitIndex
	}
	value = strings.TrimSpace(value)
	if value == "" {
		c.state.Digits[index] = ""
		return nil
	}
	r, _ := utf8.DecodeLastRuneInString(value)
	if !unicode.IsDigit(r) || r > unicode.MaxASCII {
		return ErrDigitValue
	}
	c.state.Digits[index] = string(r)
	return nil
}

// SetCode reparte un codigo pegado desde la posicion 0.
func (c *Challenge) SetCode(code string) error {
	code = strings.TrimSpace(code)
	for i, r := range []rune(code) {
		if i >= c.cfg.Length {
			break
		}
		if err := c.SetDigit(i, string(r)); err != nil {
			return err
		}
	}
	return nil
}

// Verify envia el codigo. Sin todos los digitos es un no-op
// (ErrIncompleteCode). Solo puede haber una verificacion en vuelo.
func (c *Challenge) Verify(ctx context.Context) (VerifyOutcome, error) {
	c.mu.Lock()
	switch {
	case !c.started:
		c.mu.Unlock()
		return VerifyOutcome{}, ErrChallengeClosed
	case c.state.Status == StatusVerifying:
		c.mu.Unlock()
		return VerifyOutcome{}, ErrVerifyInFlight
	case c.state.Status != StatusAwaitingCode:
		c.mu.Unlock()
		return VerifyOutcome{}, ErrChallengeClosed
	case !c.state.Complete():
		c.mu.Unlock()
		return VerifyOutcome{}, ErrIncompleteCode
	case !ValidEmail(c.state.Email):
		c.mu.Unlock()
		return VerifyOutcome{}, FieldErrors{"email": MsgInvalidEmail}
	}
	c.state.Status = StatusVerifying
	email := c.state.Email
	code := c.state.Code()
	c.mu.Unlock()

	resp, err := c.backend.VerifyOTP(ctx, email, code)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		cerr := classify(err)
		if errors.Is(cerr, ErrMalformedResponse) {
			c.state.Status = StatusFailed
			c.state.LastError = MsgUnexpected
			c.logger.Error("verify otp payload malformed", zap.Error(err), zap.String("email", email))
			return VerifyOutcome{Status: StatusFailed}, cerr
		}
		c.state.Status = StatusAwaitingCode
		c.state.LastError = userMessage(cerr)
		c.logger.Info("verify otp rejected", zap.Error(err), zap.String("email", email))
		return VerifyOutcome{Status: StatusAwaitingCode}, cerr
	}
	if !resp.Success {
		c.state.Status = StatusAwaitingCode
		c.state.LastError = MsgCodeRejected
		if resp.Message != "" {
			c.state.LastError = resp.Message
		}
		return VerifyOutcome{Status: StatusAwaitingCode}, &ChallengeError{Message: c.state.LastError}
	}

	if resp.IsNewAccount {
		hints, err := decodeHints(resp.UserProfile)
		if err != nil {
			return c.failMalformed(email, err)
		}
		if hints.Email == "" {
			hints.Email = email
		}
		c.state.Status = StatusVerifiedNew
		c.state.LastError = ""
		draft := NewRoleSelector(hints).Draft()
		return VerifyOutcome{Status: StatusVerifiedNew, Draft: &draft}, nil
	}

	sess, err := decodeSession(resp.UserProfile)
	if err != nil {
		return c.failMalformed(email, err)
	}
	c.state.Status = StatusVerifiedExisting
	c.state.LastError = ""
	c.backend.SetToken(sess.Token)
	out := VerifyOutcome{Status: StatusVerifiedExisting, Session: &sess}
	if c.sessions != nil {
		if err := c.sessions.Save(ctx, sess); err != nil {
			c.logger.Error("persist session failed", zap.Error(err), zap.String("email", email))
			out.PersistErr = err
		}
	}
	return out, nil
}

func (c *Challenge) failMalformed(email string, err error) (VerifyOutcome, error) {
	c.state.Status = StatusFailed
	c.state.LastError = MsgUnexpected
	c.logger.Error("verify otp payload malformed", zap.Error(err), zap.String("email", email))
	return VerifyOutcome{Status: StatusFailed}, errors.Join(ErrMalformedResponse, err)
}

// State devuelve una copia del estado actual.
func (c *Challenge) State() ChallengeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

func decodeHints(raw json.RawMessage) (domain.Hints, error) {
	var hints domain.Hints
	if len(raw) == 0 || string(raw) == "null" {
		return hints, nil
	}
	if err := json.Unmarshal(raw, &hints); err != nil {
		return domain.Hints{}, err
	}
	return hints, nil
}

func decodeSession(raw json.RawMessage) (domain.Session, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return domain.Session{}, errors.New("userProfile missing")
	}
	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return domain.Session{}, err
	}
	if strings.TrimSpace(sess.Token) == "" {
		return domain.Session{}, errors.New("userProfile.token missing")
	}
	if sess.BaseProfile.IsZero() {
		return domain.Session{}, errors.New("userProfile.baseProfile missing")
	}
	return sess, nil
}
