package stubapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"pulse-onboard/internal/api"
)

const authClaimsKey = "auth_claims"

// NewRouter configura gin con middlewares y las rutas del contrato.
func NewRouter(logger *zap.Logger, h *Handler, tokens *TokenIssuer) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := gin.New()
	r.Use(requestIDMiddleware(), zapLoggerMiddleware(logger), gin.Recovery(), jsonContentTypeMiddleware())

	r.GET("/healthz", h.Health)
	r.POST(api.SendOTPPath, h.SendOTP)
	r.POST(api.VerifyOTPPath, h.VerifyOTP)
	r.POST(api.AccountsPath, h.CreateAccount)
	r.PUT(api.AccountsPath+"/:id", JWTAuthMiddleware(tokens), h.UpdateAccount)
	r.GET(api.HospitalsPath, h.ListHospitals)

	return r
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.Writer.Header().Get("X-Request-ID")),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// requestIDMiddleware devuelve el X-Request-ID del cliente o uno nuevo.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}

// JWTAuthMiddleware valida el bearer y guarda los claims en el contexto.
func JWTAuthMiddleware(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokens == nil {
			abortMessage(c, http.StatusInternalServerError, "jwt not configured")
			return
		}
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			abortMessage(c, http.StatusUnauthorized, "Missing token")
			return
		}
		claims, err := tokens.Parse(strings.TrimSpace(header[len("Bearer "):]))
		if err != nil {
			abortMessage(c, http.StatusUnauthorized, "Invalid token")
			return
		}
		c.Set(authClaimsKey, claims)
		c.Next()
	}
}

// GetAuthClaims obtiene los claims guardados por JWTAuthMiddleware.
func GetAuthClaims(c *gin.Context) (Claims, bool) {
	val, ok := c.Get(authClaimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := val.(Claims)
	return claims, ok
}
