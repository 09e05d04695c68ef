package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pulse-onboard/internal/config"
	"pulse-onboard/internal/email"
	"pulse-onboard/internal/stubapi"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	var sender email.Sender = email.NewLogSender(logger)
	if cfg.SMTPHost != "" {
		smtp, err := email.NewSMTPSender(email.SMTPConfig{
			Host:        cfg.SMTPHost,
			Port:        cfg.SMTPPort,
			Username:    cfg.SMTPUser,
			Password:    cfg.SMTPPass,
			From:        cfg.SMTPFrom,
			FromName:    cfg.SMTPFromName,
			ImplicitTLS: cfg.SMTPUseTLS,
		}, logger)
		if err != nil {
			logger.Warn("smtp sender init failed, logging codes instead", zap.Error(err))
		} else {
			sender = smtp
		}
	}

	var limiter stubapi.RateLimiter
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, using in-memory rate limiter", zap.Error(err))
		} else {
			limiter = stubapi.NewRedisRateLimiter(redisClient, 10*time.Minute, 3)
		}
		cancel()
	}

	if cfg.StubJWTSecret == "dev-secret" {
		logger.Warn("stub jwt secret is the development default")
	}
	if cfg.StubFixedOTP != "" {
		logger.Warn("fixed otp enabled", zap.Int("length", len(cfg.StubFixedOTP)))
	}

	otps := stubapi.NewOTPIssuer(cfg.OTPLength, cfg.StubFixedOTP)
	tokens := stubapi.NewTokenIssuer(cfg.StubJWTSecret, cfg.StubTokenTTL)
	accounts := stubapi.NewAccountStore()
	handler := stubapi.NewHandler(logger, otps, limiter, sender, tokens, accounts)
	router := stubapi.NewRouter(logger, handler, tokens)

	server := &http.Server{
		Addr:              ":" + cfg.StubHTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting stub backend", zap.String("port", cfg.StubHTTPPort))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
