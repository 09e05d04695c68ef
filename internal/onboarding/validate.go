package onboarding

import (
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// ValidEmail aplica la misma regla que los handlers (binding "required,email").
func ValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" {
		return false
	}
	return validatorInstance().Var(email, "required,email") == nil
}

// NormalizeEmail recorta espacios; el backend decide mayusculas.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(email)
}

// SplitList separa un campo "a, b ,c" en elementos sin vacios.
func SplitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinList normaliza una lista separada por comas.
func JoinList(s string) string {
	return strings.Join(SplitList(s), ", ")
}
