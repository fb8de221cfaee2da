package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bookshelf-service/internal/queue"
	"bookshelf-service/internal/server"
	"bookshelf-service/internal/service"
	"bookshelf-service/pkg/jwtutil"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	appConfig, log, err := bootstrap()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appConfig, log)
	if err != nil {
		log.Error("Failed to initialize", zap.Error(err))
		return err
	}
	defer a.close()

	jwt := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{
		SigningKey:    appConfig.JWT.SigningKey,
		ExpireMinutes: appConfig.JWT.ExpireMinutes,
	})
	log.Info("JWT utility initialized")
	if len(appConfig.Admin.Identifiers) == 0 {
		log.Warn("No ADMIN_IDENTIFIERS configured, admin and tenant routes will refuse every login")
	}

	auth := service.NewAuthService(a.repos.Logins, a.registry, a.provisioner, jwt, a.metrics, log)

	deps := server.Deps{
		Auth:             auth,
		Tokens:           jwt,
		Admins:           appConfig.Admin.Identifiers,
		Books:            a.repos.Books,
		Critics:          a.repos.Critics,
		Reviews:          a.repos.Reviews,
		Tenants:          a.repos.Tenants,
		Limits:           a.repos.Books.Limits(),
		Maintenance:      a.flag,
		Metrics:          a.metrics,
		ProvisionTenants: a.provisionTenants,
	}
	// queue routes are only served when redis answers
	if err := a.redis.Ping(ctx).Err(); err != nil {
		log.Warn("Redis unavailable, queue routes disabled", zap.String("addr", appConfig.Redis.Addr()), zap.Error(err))
	} else {
		deps.Queue = queue.New(a.redis, appConfig.Redis.Queue)
	}

	e := server.New(deps)

	errCh := make(chan error, 1)
	go func() {
		port := appConfig.Server.Port
		log.Info("Starting server", zap.String("port", port))
		errCh <- e.Start(":" + port)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
