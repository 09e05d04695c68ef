package email

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sender entrega el codigo OTP al usuario.
type Sender interface {
	SendCode(ctx context.Context, toEmail, code string, expiresAt time.Time) error
}

// LogSender escribe el codigo en el log. Es el sender por defecto del stub
// para desarrollo local.
type LogSender struct {
	logger *zap.Logger

	mu   sync.Mutex
	last map[string]string
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger, last: make(map[string]string)}
}

func (s *LogSender) SendCode(_ context.Context, toEmail, code string, expiresAt time.Time) error {
	if strings.TrimSpace(toEmail) == "" {
		return errors.New("to email is required")
	}
	s.mu.Lock()
	s.last[strings.ToLower(toEmail)] = code
	s.mu.Unlock()
	s.logger.Info("otp code issued",
		zap.String("email", toEmail),
		zap.String("code", code),
		zap.Time("expires_at", expiresAt.UTC()),
	)
	return nil
}

// LastCode devuelve el ultimo codigo enviado a toEmail.
func (s *LogSender) LastCode(toEmail string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.last[strings.ToLower(toEmail)]
	return code, ok
}

type disabledSender struct {
	reason string
}

func NewDisabledSender(reason string) Sender {
	return &disabledSender{reason: reason}
}

func (s *disabledSender) SendCode(_ context.Context, _, _ string, _ time.Time) error {
	if s.reason == "" {
		return errors.New("email sender disabled")
	}
	return errors.New(s.reason)
}
