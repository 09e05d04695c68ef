package stubapi

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
	"unicode"
)

const otpTTL = 10 * time.Minute

var (
	ErrOTPNotRequested = errors.New("otp not requested")
	ErrOTPExpired      = errors.New("otp expired")
	ErrOTPInvalid      = errors.New("otp invalid")
)

type otpEntry struct {
	hash      string
	expiresAt time.Time
}

// OTPIssuer genera codigos y guarda solo su hash salado. Un codigo se puede
// usar una sola vez; un email verificado queda habilitado para registrarse
// durante el mismo TTL.
type OTPIssuer struct {
	length int
	fixed  string
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	pending  map[string]otpEntry
	verified map[string]time.Time
}

// NewOTPIssuer crea el emisor. fixed, si no esta vacio, reemplaza el codigo
// aleatorio (solo para desarrollo local).
func NewOTPIssuer(length int, fixed string) *OTPIssuer {
	if length <= 0 {
		length = 6
	}
	return &OTPIssuer{
		length:   length,
		fixed:    strings.TrimSpace(fixed),
		ttl:      otpTTL,
		now:      func() time.Time { return time.Now().UTC() },
		pending:  make(map[string]otpEntry),
		verified: make(map[string]time.Time),
	}
}

// Issue genera un codigo nuevo para email e invalida el anterior.
func (o *OTPIssuer) Issue(email string) (string, time.Time, error) {
	code := o.fixed
	if code == "" {
		var err error
		code, err = generateCode(o.length)
		if err != nil {
			return "", time.Time{}, err
		}
	}
	hash, err := hashCode(code)
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := o.now().Add(o.ttl)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending[normalizeEmail(email)] = otpEntry{hash: hash, expiresAt: expiresAt}
	return code, expiresAt, nil
}

// Verify consume el codigo si coincide.
func (o *OTPIssuer) Verify(email, code string) error {
	key := normalizeEmail(email)
	if !o.validCode(code) {
		return ErrOTPInvalid
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.pending[key]
	if !ok {
		return ErrOTPNotRequested
	}
	now := o.now()
	if now.After(entry.expiresAt) {
		delete(o.pending, key)
		return ErrOTPExpired
	}
	if !verifyCode(code, entry.hash) {
		return ErrOTPInvalid
	}
	delete(o.pending, key)
	o.verified[key] = now.Add(o.ttl)
	return nil
}

// Verified indica si email paso la verificacion y puede crear su cuenta.
func (o *OTPIssuer) Verified(email string) bool {
	key := normalizeEmail(email)
	o.mu.Lock()
	defer o.mu.Unlock()
	exp, ok := o.verified[key]
	if !ok {
		return false
	}
	if o.now().After(exp) {
		delete(o.verified, key)
		return false
	}
	return true
}

// Forget descarta la verificacion una vez creada la cuenta.
func (o *OTPIssuer) Forget(email string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.verified, normalizeEmail(email))
}

func (o *OTPIssuer) validCode(code string) bool {
	if len(code) != o.length {
		return false
	}
	for _, r := range code {
		if !unicode.IsDigit(r) || r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

func generateCode(length int) (string, error) {
	upper := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, upper)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", length, n), nil
}

func hashCode(code string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	saltStr := base64.StdEncoding.EncodeToString(salt)
	sum := sha256.Sum256([]byte(saltStr + ":" + code))
	return saltStr + ":" + base64.StdEncoding.EncodeToString(sum[:]), nil
}

func verifyCode(code, stored string) bool {
	parts := strings.Split(stored, ":")
	if len(parts) != 2 {
		return false
	}
	sum := sha256.Sum256([]byte(parts[0] + ":" + code))
	hash := base64.StdEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(hash), []byte(parts[1])) == 1
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
