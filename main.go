package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MGallo-Code/herald/internal/auth"
	"github.com/MGallo-Code/herald/internal/config"
	"github.com/MGallo-Code/herald/internal/delivery"
	"github.com/MGallo-Code/herald/internal/idempotency"
	"github.com/MGallo-Code/herald/internal/mail"
	"github.com/MGallo-Code/herald/internal/newsletter"
	"github.com/MGallo-Code/herald/internal/observability"
	"github.com/MGallo-Code/herald/internal/session"
	"github.com/MGallo-Code/herald/internal/store"
	"github.com/MGallo-Code/herald/internal/web"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Embeds the migration files INTO the go bin

//go:embed migrations/*.sql
var migrationsDir embed.FS

// version is stamped at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// .env is optional, real env vars win
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to read .env", "error", err)
	}

	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: cfg.LogLevel == slog.LevelDebug,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts everything down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// healthChecker is satisfied by *store.PostgresStore, *store.RedisRateLimiter and store.NoopRateLimiter.
type healthChecker interface {
	CheckHealth(ctx context.Context) error
}

// app bundles what buildRouter needs, so smoke tests can swap in mocks.
type app struct {
	auth       *auth.Handler
	newsletter *newsletter.Handler
	sessions   *session.Manager
	db         healthChecker
	limiter    healthChecker
}

// loginLimiter is both an auth.RateLimiter and a healthChecker.
type loginLimiter interface {
	auth.RateLimiter
	healthChecker
}

// run owns every long-lived resource: the pools, the HTTP server, the delivery
// worker and the session reaper. It returns once ctx is cancelled and all of
// them have stopped, or as soon as one of them fails.
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to set up postgres store: %w", err)
	}
	defer ps.Close()

	migrationsFS, err := fs.Sub(migrationsDir, "migrations")
	if err != nil {
		return fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	if err := ps.Migrate(ctx, migrationsFS); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}()

	// Login limiting is shared across instances through Redis; without it every attempt is allowed.
	var rl loginLimiter = store.NoopRateLimiter{}
	if cfg.RedisURL != "" {
		rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to set up redis client: %w", err)
		}
		defer rdb.Close()
		rl = store.NewRedisRateLimiter(rdb)
	} else {
		slog.Warn("REDIS_URL not set, login rate limiting disabled")
	}

	mailer := newMailer(cfg.Email)

	if cfg.AdminUsername != "" {
		if err := auth.EnsureAdmin(ctx, ps, cfg.AdminUsername, cfg.AdminPassword); err != nil {
			return fmt.Errorf("failed to bootstrap admin user: %w", err)
		}
	}

	a := &app{
		auth: &auth.Handler{
			Users: ps,
			RL:    rl,
			LoginPolicy: store.RateLimit{
				MaxAttempts: cfg.RateLoginMax,
				Window:      cfg.RateLoginWindow,
				LockoutTTL:  cfg.RateLoginLockout,
			},
		},
		newsletter: &newsletter.Handler{
			Store:   ps,
			Cache:   idempotency.NewCache(ps.Pool()),
			Mailer:  mailer,
			BaseURL: cfg.BaseURL,
		},
		sessions: session.NewManager(session.NewPgStore(ps.Pool()), []byte(cfg.HMACSecret), session.Config{
			CookieName: cfg.CookieName,
			Secure:     cfg.CookieSecure,
			TTL:        cfg.SessionTTL,
		}),
		db:      ps,
		limiter: rl,
	}

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	server := &http.Server{
		Handler:           buildRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("herald listening", "addr", ln.Addr().String(), "version", version)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if cfg.WorkerEnabled {
		worker := delivery.NewWorker(ps.Pool(), mailer, delivery.Config{
			SendTimeout: cfg.Email.Timeout,
			IdleDelay:   cfg.WorkerIdleDelay,
		})
		g.Go(func() error { return worker.Run(gctx) })
	}

	if cfg.SessionCleanupEnabled {
		reaper := session.NewReaper(ps.Pool(), cfg.SessionCleanupInterval)
		g.Go(func() error { return reaper.Run(gctx) })
	}

	// Drain the server once the signal arrives or a sibling fails.
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	})

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped")
	return nil
}

// newMailer picks the email client named by EMAIL_PROVIDER.
func newMailer(ec config.EmailConfig) mail.Mailer {
	switch ec.Provider {
	case config.EmailProviderSMTP:
		return mail.NewSMTPMailer(mail.SMTPConfig{
			Host:        ec.SMTPHost,
			Port:        ec.SMTPPort,
			Username:    ec.SMTPUsername,
			Password:    ec.SMTPPassword,
			FromAddress: ec.Sender,
			FromName:    ec.SenderName,
			Timeout:     ec.Timeout,
		})
	case config.EmailProviderNop:
		slog.Warn("EMAIL_PROVIDER=nop, emails will be dropped")
		return mail.NopMailer{}
	default:
		return mail.NewAPIMailer(mail.APIConfig{
			BaseURL:    ec.BaseURL,
			AuthToken:  ec.AuthToken,
			ProjectID:  ec.ProjectID,
			Sender:     ec.Sender,
			SenderName: ec.SenderName,
			Timeout:    ec.Timeout,
		})
	}
}

// buildRouter wires all routes and middleware.
// Called from run() and from the smoke tests.
func buildRouter(a *app) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", a.health)
	r.Handle("/metrics", promhttp.Handler())

	// Everything below carries a session cookie
	r.Group(func(r chi.Router) {
		r.Use(a.sessions.Middleware)

		r.Get("/login", a.auth.LoginForm)
		r.Post("/login", a.auth.Login)
		r.Post("/subscriptions", a.newsletter.Subscribe)
		r.Get("/subscriptions/confirm", a.newsletter.Confirm)

		// Admin area
		// RejectAnonymous reads the session set up above, keep it inside this group
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RejectAnonymous)
			r.Get("/dashboard", a.auth.Dashboard)
			r.Get("/password", a.auth.ChangePasswordForm)
			r.Post("/password", a.auth.ChangePassword)
			r.Post("/logout", a.auth.Logout)
			r.Get("/newsletters", a.newsletter.PublishForm)
			r.Post("/newsletters", a.newsletter.Publish)
		})
	})

	return r
}

// health reports Postgres and limiter status. A disabled limiter is not a failure.
func (a *app) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := map[string]string{"postgres": "ok", "rate_limiter": "ok"}

	if err := a.db.CheckHealth(ctx); err != nil {
		web.LogError(r, "health check failed", "component", "postgres", "error", err)
		checks["postgres"] = "unavailable"
		status = http.StatusServiceUnavailable
	}
	if err := a.limiter.CheckHealth(ctx); err != nil {
		if errors.Is(err, store.ErrLimiterDisabled) {
			checks["rate_limiter"] = "disabled"
		} else {
			web.LogError(r, "health check failed", "component", "rate_limiter", "error", err)
			checks["rate_limiter"] = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}

	web.JSON(w, status, checks)
}
