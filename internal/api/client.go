package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pulse-onboard/internal/domain"
)

// Rutas del contrato REST.
const (
	SendOTPPath   = "/api/v1/auth/send-otp"
	VerifyOTPPath = "/api/v1/auth/verify-otp"
	AccountsPath  = "/api/v1/accounts"
	HospitalsPath = "/api/v1/hospitals"
)

var ErrMalformedResponse = errors.New("malformed response")

// ResponseError es un rechazo del servidor (status >= 400).
type ResponseError struct {
	StatusCode int
	Message    string
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api http error: status=%d", e.StatusCode)
	}
	return fmt.Sprintf("api http error: status=%d message=%s", e.StatusCode, e.Message)
}

// Client habla con el backend de Pulse. Guarda el token bearer por defecto
// para que las llamadas posteriores al login salgan autenticadas.
type Client struct {
	baseURL string
	channel string
	client  *http.Client
	logger  *zap.Logger

	mu    sync.RWMutex
	token string
}

// NewClient construye un cliente contra baseURL (p.ej. PULSE_API).
func NewClient(baseURL, channel string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if channel == "" {
		channel = "email"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		channel: channel,
		client:  httpClient,
		logger:  logger,
	}
}

// SetToken actualiza el header Authorization por defecto; "" lo quita.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) SendOTP(ctx context.Context, email string) (SendOTPResponse, error) {
	var out SendOTPResponse
	path := SendOTPPath + "?channel=" + url.QueryEscape(c.channel)
	if err := c.do(ctx, http.MethodPost, path, sendOTPRequest{Email: email}, &out); err != nil {
		return SendOTPResponse{}, err
	}
	return out, nil
}

func (c *Client) VerifyOTP(ctx context.Context, email, code string) (VerifyOTPResponse, error) {
	var out VerifyOTPResponse
	path := VerifyOTPPath + "?channel=" + url.QueryEscape(c.channel)
	if err := c.do(ctx, http.MethodPost, path, verifyOTPRequest{Email: email, OTPFromUser: code}, &out); err != nil {
		return VerifyOTPResponse{}, err
	}
	return out, nil
}

func (c *Client) CreateAccount(ctx context.Context, req AccountRequest) (AccountResponse, error) {
	var out AccountResponse
	if err := c.do(ctx, http.MethodPost, AccountsPath, req, &out); err != nil {
		return AccountResponse{}, err
	}
	return out, nil
}

func (c *Client) UpdateAccount(ctx context.Context, id string, req AccountRequest) (AccountResponse, error) {
	if strings.TrimSpace(id) == "" {
		return AccountResponse{}, errors.New("update account: empty id")
	}
	var out AccountResponse
	if err := c.do(ctx, http.MethodPut, AccountsPath+"/"+url.PathEscape(id), req, &out); err != nil {
		return AccountResponse{}, err
	}
	return out, nil
}

func (c *Client) ListHospitals(ctx context.Context) ([]domain.Hospital, error) {
	var out []domain.Hospital
	if err := c.do(ctx, http.MethodGet, HospitalsPath, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.Hospital{}
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if token := c.currentToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var er errorResponse
		_ = json.Unmarshal(respBody, &er)
		msg := er.Message
		if msg == "" {
			msg = er.Error
		}
		c.logger.Warn("api error",
			zap.String("method", method),
			zap.String("path", req.URL.Path),
			zap.Int("status", resp.StatusCode),
			zap.String("request_id", requestID),
			zap.String("message", msg),
		)
		return &ResponseError{StatusCode: resp.StatusCode, Message: msg}
	}

	c.logger.Debug("api call",
		zap.String("method", method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", requestID),
	)

	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
