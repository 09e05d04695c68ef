package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SMTPConfig reune los datos del relay. ImplicitTLS abre la conexion ya
// cifrada (puerto 465); si no, se negocia STARTTLS cuando el server lo ofrece.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	From        string
	FromName    string
	ImplicitTLS bool
	Timeout     time.Duration
}

// envelope es lo que recibe el transporte: remitente, destinatario y el
// mensaje ya serializado.
type envelope struct {
	from string
	to   string
	data []byte
}

type transport func(ctx context.Context, env envelope) error

// SMTPSender entrega el codigo de acceso por SMTP.
type SMTPSender struct {
	cfg     SMTPConfig
	from    mail.Address
	logger  *zap.Logger
	now     func() time.Time
	deliver transport
}

func NewSMTPSender(cfg SMTPConfig, logger *zap.Logger) (*SMTPSender, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("smtp from is required")
	}
	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, fmt.Errorf("smtp from: %w", err)
	}
	if cfg.FromName != "" {
		from.Name = cfg.FromName
	}
	if cfg.Port == 0 {
		cfg.Port = 587
		if cfg.ImplicitTLS {
			cfg.Port = 465
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SMTPSender{cfg: cfg, from: *from, logger: logger, now: time.Now}
	s.deliver = s.dialAndSend
	return s, nil
}

func (s *SMTPSender) SendCode(ctx context.Context, toEmail, code string, expiresAt time.Time) error {
	to, err := mail.ParseAddress(strings.TrimSpace(toEmail))
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", toEmail, err)
	}
	now := s.now()
	msg := codeMessage{
		from:      s.from,
		to:        *to,
		code:      code,
		sentAt:    now,
		expiresAt: expiresAt,
	}
	if err := s.deliver(ctx, envelope{from: s.from.Address, to: to.Address, data: msg.bytes()}); err != nil {
		s.logger.Warn("smtp delivery failed", zap.String("email", to.Address), zap.Error(err))
		return fmt.Errorf("send code: %w", err)
	}
	s.logger.Debug("sign-in code mailed", zap.String("email", to.Address))
	return nil
}

func (s *SMTPSender) addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// dialAndSend abre una conexion por envio. El deadline del contexto, o el
// timeout configurado, cubre todo el dialogo SMTP.
func (s *SMTPSender) dialAndSend(ctx context.Context, env envelope) error {
	deadline := time.Now().Add(s.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	dialer := &net.Dialer{Deadline: deadline}
	tlsCfg := &tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}

	var conn net.Conn
	var err error
	if s.cfg.ImplicitTLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsCfg}).DialContext(ctx, "tcp", s.addr())
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", s.addr())
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.addr(), err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return err
	}
	defer client.Close()

	if !s.cfg.ImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsCfg); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := client.Mail(env.from); err != nil {
		return err
	}
	if err := client.Rcpt(env.to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(env.data); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

const codeSubject = "Your Pulse sign-in code"

// codeMessage es el mail de texto plano con el codigo.
type codeMessage struct {
	from      mail.Address
	to        mail.Address
	code      string
	sentAt    time.Time
	expiresAt time.Time
}

func (m codeMessage) minutesLeft() int {
	minutes := int(m.expiresAt.Sub(m.sentAt).Round(time.Minute).Minutes())
	if minutes < 1 {
		return 1
	}
	return minutes
}

func (m codeMessage) body() string {
	lines := []string{
		fmt.Sprintf("Use %s to sign in to Pulse.", m.code),
		fmt.Sprintf("The code expires in %d minutes (%s UTC).", m.minutesLeft(), m.expiresAt.UTC().Format(time.RFC3339)),
		"If you did not request it you can ignore this email.",
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}

func (m codeMessage) messageID() string {
	domain := "pulse.local"
	if at := strings.LastIndex(m.from.Address, "@"); at >= 0 && at < len(m.from.Address)-1 {
		domain = m.from.Address[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

func (m codeMessage) bytes() []byte {
	var b strings.Builder
	header := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}
	header("From", m.from.String())
	header("To", m.to.String())
	header("Subject", codeSubject)
	header("Date", m.sentAt.Format(time.RFC1123Z))
	header("Message-ID", m.messageID())
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="UTF-8"`)
	header("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")
	b.WriteString(m.body())
	return []byte(b.String())
}
