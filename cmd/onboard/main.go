package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pulse-onboard/internal/api"
	"pulse-onboard/internal/config"
	"pulse-onboard/internal/onboarding"
	"pulse-onboard/internal/session"
	"pulse-onboard/internal/storage"
)

type rootOptions struct {
	logout bool
	email  string
	resume bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Sign in to Pulse with a one-time email code",
		Long: `Sign in or create a Pulse account from the terminal.

A valid stored session skips the challenge and prints the landing route.

Examples:
  # Start a new sign-in
  onboard

  # Send the code straight away
  onboard --email me@example.com

  # A code was already sent: go straight to entering it
  onboard --email me@example.com --resume

  # Forget the stored session
  onboard --logout
`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnboard(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.logout, "logout", false, "clear the stored session and exit")
	cmd.Flags().StringVar(&opts.email, "email", "", "start the code challenge for this email")
	cmd.Flags().BoolVar(&opts.resume, "resume", false, "with --email, enter a code that was already sent")
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) || ctx.Err() == context.Canceled {
			fmt.Fprintln(os.Stderr, "\nCancelled")
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func runOnboard(ctx context.Context, out io.Writer, opts *rootOptions) error {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.ValidateStore(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	secure, plain, closeStores, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("store init: %w", err)
	}
	defer closeStores()

	sessions := session.NewStore(logger, secure, plain)
	if opts.logout {
		if err := sessions.Clear(ctx); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
		fmt.Fprintln(out, successStyle.Render("Signed out"))
		return nil
	}

	sess, err := sessions.Load(ctx)
	switch {
	case err == nil:
		fmt.Fprintln(out, successStyle.Render("Welcome back "+sess.BaseProfile.FirstName))
		fmt.Fprintln(out, sess.Role().HomeRoute())
		return nil
	case errors.Is(err, session.ErrNoSession):
	case errors.Is(err, session.ErrProfileMissing), errors.Is(err, session.ErrSessionExpired):
		logger.Info("stored session unusable, signing in again", zap.Error(err))
	default:
		return fmt.Errorf("load session: %w", err)
	}

	placement, err := onboarding.ParsePlacement(cfg.RoleFieldsPlacement)
	if err != nil {
		return err
	}

	params := onboarding.FlowParams{}
	if opts.resume {
		params.Email = opts.email
	}
	client := api.NewClient(cfg.PulseAPI, cfg.OTPChannel, &http.Client{Timeout: cfg.HTTPTimeout}, logger)
	flow := onboarding.NewFlow(client, sessions, onboarding.Options{
		Challenge: onboarding.ChallengeConfig{Length: cfg.OTPLength, ResendDelay: cfg.OTPResendDelay},
		Placement: placement,
		Logger:    logger,
	}, params)

	fmt.Fprintln(out, titleStyle.Render("Pulse"))
	if opts.email != "" && !opts.resume {
		// los errores quedan en el View y los muestra el screen
		_, _ = flow.SubmitEmail(ctx, opts.email)
	}
	v, err := newScreen(flow, huhPrompter{}, out, cfg.OTPLength, time.Now).run(ctx)
	if err != nil {
		return err
	}
	if v.State == onboarding.StateDoneNew {
		fmt.Fprintln(out, successStyle.Render("Account created"))
	}
	fmt.Fprintln(out, v.Session.Role().HomeRoute())
	return nil
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// buildStores arma el par (cifrado, plano) segun STORE_BACKEND. El store
// cifrado envuelve siempre al backend salvo en memoria.
func buildStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (secure, plain storage.Store, closeFn func(), err error) {
	closeFn = func() {}
	var inner storage.Store

	switch cfg.StoreBackend {
	case config.StoreMemory:
		return storage.NewMemoryStore(), storage.NewMemoryStore(), closeFn, nil
	case config.StoreFile:
		plain = storage.NewFileStore(cfg.StorePath)
		inner = storage.NewFileStore(cfg.SecureStorePath)
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(ctxPing).Err(); err != nil {
			_ = client.Close()
			return nil, nil, closeFn, fmt.Errorf("redis ping: %w", err)
		}
		closeFn = func() { _ = client.Close() }
		plain = storage.NewRedisStore(client, "pulse:plain:")
		inner = storage.NewRedisStore(client, "pulse:secure:")
	case config.StorePostgres:
		pool, err := storage.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, closeFn, err
		}
		closeFn = pool.Close
		plainPg := storage.NewPgStore(pool, "plain")
		securePg := storage.NewPgStore(pool, "secure")
		if err := plainPg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, func() {}, err
		}
		plain, inner = plainPg, securePg
	default:
		return nil, nil, closeFn, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	sealed, err := storage.NewSecureStore(inner, storage.DeriveKey(cfg.SecureStorePassphrase, cfg.SecureStoreSalt))
	if err != nil {
		closeFn()
		return nil, nil, func() {}, err
	}
	logger.Debug("stores ready", zap.String("backend", cfg.StoreBackend))
	return sealed, plain, closeFn, nil
}
