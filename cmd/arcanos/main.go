// Arcanos gateway server: runs the tiered reasoning pipeline behind an HTTP
// API and bridges daemon peers over WebSocket IPC.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pbjustin/Arcanos-sub003/pkg/api"
	"github.com/pbjustin/Arcanos-sub003/pkg/audit"
	"github.com/pbjustin/Arcanos-sub003/pkg/auth"
	"github.com/pbjustin/Arcanos-sub003/pkg/config"
	"github.com/pbjustin/Arcanos-sub003/pkg/ipc"
	"github.com/pbjustin/Arcanos-sub003/pkg/llm"
	"github.com/pbjustin/Arcanos-sub003/pkg/metrics"
	"github.com/pbjustin/Arcanos-sub003/pkg/trinity"
	"github.com/pbjustin/Arcanos-sub003/pkg/version"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting Arcanos",
		"version", version.Full(),
		"port", cfg.Port,
		"auth_mode", cfg.AuthMode)

	// 2. Audit store: PostgreSQL when configured, in-memory otherwise
	var store audit.Store
	if cfg.DatabaseURL != "" {
		pgStore, err := audit.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			if cfg.DatabaseRequired {
				slog.Error("Failed to connect to database", "error", err)
				os.Exit(1)
			}
			slog.Warn("Database unavailable, falling back to in-memory audit log", "error", err)
			store = audit.NewMemoryStore()
		} else {
			defer pgStore.Close()
			store = pgStore
			slog.Info("Connected to PostgreSQL audit store")
		}
	} else {
		if cfg.DatabaseRequired {
			slog.Error("DATABASE_REQUIRED is set but DATABASE_URL is empty")
			os.Exit(1)
		}
		store = audit.NewMemoryStore()
		slog.Info("Using in-memory audit store")
	}

	// 3. Model backend
	backend := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.FallbackModel)

	// 4. Metrics and pipeline core
	m := metrics.NewDefault()
	core := trinity.NewCore(backend, store, cfg.ReasoningModel, trinity.WithMetrics(m))

	// 5. Credentials
	var issuer *auth.TokenIssuer
	if cfg.JWTSecret != "" {
		issuer, err = auth.NewTokenIssuer(cfg.JWTSecret)
		if err != nil {
			slog.Error("Failed to initialize token issuer", "error", err)
			os.Exit(1)
		}
	}
	var verifier *auth.PasswordVerifier
	if cfg.AuthUserEmail != "" {
		verifier, err = auth.NewPasswordVerifier(cfg.AuthUserEmail, cfg.AuthPasswordSalt, cfg.AuthPasswordHash)
		if err != nil {
			slog.Error("Invalid login credential configuration", "error", err)
			os.Exit(1)
		}
	}

	// 6. IPC bridge
	registry := ipc.NewRegistry()
	ipcServer := ipc.NewServer(cfg.IPC, registry, ipc.AuthForConfig(cfg, issuer), store,
		ipc.WithServerMetrics(m))
	ipcServer.StartReaper()
	dispatcher := ipc.NewDispatcher(registry, m)

	// 7. HTTP server (non-blocking)
	httpServer := api.NewServer(cfg, core, backend, store, issuer, verifier, ipcServer, dispatcher)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		slog.Info("HTTP server listening", "addr", addr, "ws_path", cfg.IPC.WSPath)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: stop taking daemon traffic first, then drain HTTP
	ipcServer.Shutdown()

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 10*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
