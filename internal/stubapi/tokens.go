package stubapi

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"pulse-onboard/internal/domain"
)

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
)

// Claims del bearer emitido por el stub.
type Claims struct {
	AccountID string      `json:"uid"`
	Email     string      `json:"email"`
	Role      domain.Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer firma y valida tokens HS256.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: "pulse-stub",
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Issue emite un token para la cuenta.
func (s *TokenIssuer) Issue(p domain.ProfileFields) (string, error) {
	if len(s.secret) == 0 || strings.TrimSpace(p.ID) == "" {
		return "", ErrTokenInvalid
	}
	now := s.now()
	claims := Claims{
		AccountID: p.ID,
		Email:     p.Email,
		Role:      p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Parse valida firma, vencimiento e issuer.
func (s *TokenIssuer) Parse(token string) (Claims, error) {
	if len(s.secret) == 0 || strings.TrimSpace(token) == "" {
		return Claims{}, ErrTokenInvalid
	}
	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	_, err := parser.ParseWithClaims(token, &claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrTokenInvalid
	}
	if claims.AccountID == "" || claims.Subject != claims.AccountID || claims.Issuer != s.issuer {
		return Claims{}, ErrTokenInvalid
	}
	return claims, nil
}
