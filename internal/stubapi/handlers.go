package stubapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pulse-onboard/internal/api"
	"pulse-onboard/internal/domain"
	"pulse-onboard/internal/email"
)

// Handler implementa el contrato REST del backend de Pulse en memoria.
type Handler struct {
	logger   *zap.Logger
	otps     *OTPIssuer
	limiter  RateLimiter
	sender   email.Sender
	tokens   *TokenIssuer
	accounts *AccountStore
}

// NewHandler arma el handler. Sin limiter usa uno en memoria de 3 envios
// cada 10 minutos.
func NewHandler(logger *zap.Logger, otps *OTPIssuer, limiter RateLimiter, sender email.Sender, tokens *TokenIssuer, accounts *AccountStore) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limiter == nil {
		limiter = NewMemoryRateLimiter(otpTTL, 3)
	}
	if accounts == nil {
		accounts = NewAccountStore()
	}
	return &Handler{
		logger:   logger,
		otps:     otps,
		limiter:  limiter,
		sender:   sender,
		tokens:   tokens,
		accounts: accounts,
	}
}

func abortMessage(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "message": msg})
}

func validChannel(c *gin.Context) bool {
	ch := strings.ToLower(strings.TrimSpace(c.Query("channel")))
	return ch == "" || ch == "email"
}

// SendOTP maneja POST /api/v1/auth/send-otp.
func (h *Handler) SendOTP(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid send otp request", zap.Error(err))
		abortMessage(c, http.StatusBadRequest, "Invalid email address")
		return
	}
	if !validChannel(c) {
		abortMessage(c, http.StatusBadRequest, "Unsupported channel")
		return
	}
	if !h.limiter.Allow(req.Email) {
		abortMessage(c, http.StatusTooManyRequests, "Too many requests. Please wait before requesting another code")
		return
	}

	code, expiresAt, err := h.otps.Issue(req.Email)
	if err != nil {
		h.logger.Error("generate otp failed", zap.Error(err))
		abortMessage(c, http.StatusInternalServerError, "Could not generate a code")
		return
	}
	if err := h.sender.SendCode(c.Request.Context(), req.Email, code, expiresAt); err != nil {
		h.logger.Warn("send otp failed", zap.Error(err), zap.String("email", req.Email))
		abortMessage(c, http.StatusServiceUnavailable, "Email delivery unavailable")
		return
	}
	c.JSON(http.StatusOK, api.SendOTPResponse{Success: true})
}

// VerifyOTP maneja POST /api/v1/auth/verify-otp.
func (h *Handler) VerifyOTP(c *gin.Context) {
	var req struct {
		Email       string `json:"email" binding:"required,email"`
		OTPFromUser string `json:"OTPFromUser" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid verify otp request", zap.Error(err))
		abortMessage(c, http.StatusBadRequest, "Invalid request")
		return
	}
	if !validChannel(c) {
		abortMessage(c, http.StatusBadRequest, "Unsupported channel")
		return
	}

	if err := h.otps.Verify(req.Email, strings.TrimSpace(req.OTPFromUser)); err != nil {
		switch {
		case errors.Is(err, ErrOTPExpired):
			abortMessage(c, http.StatusBadRequest, "OTP has expired. Please request a new one")
		case errors.Is(err, ErrOTPNotRequested):
			abortMessage(c, http.StatusBadRequest, "No OTP was requested for this email")
		default:
			abortMessage(c, http.StatusBadRequest, "Invalid OTP")
		}
		return
	}

	user, ok := h.accounts.ByEmail(req.Email)
	if !ok {
		c.JSON(http.StatusOK, gin.H{
			"success":      true,
			"isNewAccount": true,
			"userProfile":  domain.Hints{Email: normalizeEmail(req.Email)},
		})
		return
	}

	token, err := h.tokens.Issue(user.BaseProfile)
	if err != nil {
		h.logger.Error("issue token failed", zap.Error(err))
		abortMessage(c, http.StatusInternalServerError, "Could not issue token")
		return
	}
	h.otps.Forget(req.Email)
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"isNewAccount": false,
		"userProfile":  user.WithToken(token),
	})
}

// CreateAccount maneja POST /api/v1/accounts. Requiere un email verificado.
func (h *Handler) CreateAccount(c *gin.Context) {
	var req api.AccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid create account request", zap.Error(err))
		abortMessage(c, http.StatusBadRequest, "Invalid request")
		return
	}
	if msg := validateProfile(req); msg != "" {
		abortMessage(c, http.StatusBadRequest, msg)
		return
	}
	// verify-otp de una cuenta existente consume la marca, asi que el
	// duplicado se detecta antes de mirarla
	if _, taken := h.accounts.ByEmail(req.BaseProfile.Email); taken {
		abortMessage(c, http.StatusConflict, "An account with this email already exists")
		return
	}
	if !h.otps.Verified(req.BaseProfile.Email) {
		abortMessage(c, http.StatusForbidden, "Email has not been verified")
		return
	}

	user, err := h.accounts.Create(req.BaseProfile, req.ProfileByRole)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			abortMessage(c, http.StatusConflict, "An account with this email already exists")
			return
		}
		h.logger.Error("create account failed", zap.Error(err))
		abortMessage(c, http.StatusInternalServerError, "Could not create account")
		return
	}
	token, err := h.tokens.Issue(user.BaseProfile)
	if err != nil {
		h.logger.Error("issue token failed", zap.Error(err))
		abortMessage(c, http.StatusInternalServerError, "Could not issue token")
		return
	}
	h.otps.Forget(user.BaseProfile.Email)
	h.logger.Info("account created",
		zap.String("account_id", user.BaseProfile.ID),
		zap.String("role", string(user.BaseProfile.Role)),
	)
	c.JSON(http.StatusCreated, user.WithToken(token))
}

// UpdateAccount maneja PUT /api/v1/accounts/:id; solo el dueño puede editar.
func (h *Handler) UpdateAccount(c *gin.Context) {
	id := c.Param("id")
	claims, ok := GetAuthClaims(c)
	if !ok || claims.AccountID != id {
		abortMessage(c, http.StatusForbidden, "Not allowed to update this account")
		return
	}
	var req api.AccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid update account request", zap.Error(err))
		abortMessage(c, http.StatusBadRequest, "Invalid request")
		return
	}
	user, err := h.accounts.Update(id, req.BaseProfile, req.ProfileByRole)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			abortMessage(c, http.StatusNotFound, "Account not found")
			return
		}
		h.logger.Error("update account failed", zap.Error(err))
		abortMessage(c, http.StatusInternalServerError, "Could not update account")
		return
	}
	c.JSON(http.StatusOK, user.WithToken(""))
}

// ListHospitals maneja GET /api/v1/hospitals.
func (h *Handler) ListHospitals(c *gin.Context) {
	c.JSON(http.StatusOK, h.accounts.Hospitals())
}

// Health maneja GET /healthz.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func validateProfile(req api.AccountRequest) string {
	base := req.BaseProfile
	if strings.TrimSpace(base.Email) == "" {
		return "Email is required"
	}
	if strings.TrimSpace(base.FirstName) == "" || strings.TrimSpace(base.LastName) == "" {
		return "First and last name are required"
	}
	role := base.Role
	if role == "" {
		role = req.ProfileByRole.Role
	}
	if !role.Valid() {
		return "Unknown role"
	}
	return ""
}
