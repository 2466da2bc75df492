package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jaakkos/peertasks/internal/app"
	"github.com/jaakkos/peertasks/internal/dashboard"
	"github.com/jaakkos/peertasks/internal/identity"
	"github.com/jaakkos/peertasks/internal/metrics"
	"github.com/jaakkos/peertasks/internal/policy"
	"github.com/jaakkos/peertasks/internal/replication/redisbus"
	"github.com/jaakkos/peertasks/internal/repository"
	"github.com/jaakkos/peertasks/internal/tools/peertasks"
)

const shutdownTimeout = 5 * time.Second

var noStdio bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the task list server (default)",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	pol, err := loadPolicy()
	if err != nil {
		return err
	}
	logger, err := setupLogger(pol.LogFile(), pol.LogLevel())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting peertasks",
		zap.String("version", Version),
		zap.String("state_file", pol.StateFile()),
		zap.String("log_file", pol.LogFile()),
	)

	// Keep running when daemonized (nohup, launchd, etc.)
	signal.Ignore(syscall.SIGHUP)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := repository.NewDocumentStore(pol.StateFile(), pol.SignalFilePath(), logger.Named("store"))
	if err != nil {
		return fmt.Errorf("document store: %w", err)
	}
	idc := pol.Identity()
	provider := identity.NewProvider(store,
		identity.WithValidity(idc.Validity),
		identity.WithLogger(logger.Named("identity")),
	)
	m := metrics.New()

	deps := app.Dependencies{Store: store, Credentials: provider}
	rc := newEngine(ctx, pol, provider, &deps, logger)
	if rc != nil {
		defer func() { _ = rc.Close() }()
	}

	session := app.NewSession(deps, app.SessionConfig{
		QuietPeriod:     pol.QuietPeriod(),
		CredentialLabel: idc.Label,
		CommonPrefix:    idc.CommonPrefix,
		RenewBefore:     idc.RenewBefore,
		RenewInterval:   idc.RenewInterval,
		Logger:          logger.Named("session"),
		Metrics:         m,
	})
	if err := session.Start(ctx); err != nil {
		logger.Warn("session running degraded", zap.Error(err))
	}
	logger.Info("session started", zap.String("peer_id", session.LocalPeerID()))

	mcpServer := newMCPServer(pol, session, logger)
	notifier := app.NewNotifier(session, peertasks.PushFunc(mcpServer), logger.Named("notifier"))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		notifier.Start(gctx)
		return nil
	})

	if port := pol.HTTPPort(); port > 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			cancel()
			_ = g.Wait()
			_ = session.Close(context.Background())
			return fmt.Errorf("HTTP listen: %w", err)
		}
		httpServer := &http.Server{Handler: newMux(mcpServer, session, m, logger)}
		baseURL := fmt.Sprintf("http://localhost:%d", ln.Addr().(*net.TCPAddr).Port)
		logger.Info("HTTP server listening",
			zap.String("mcp", baseURL+"/mcp"),
			zap.String("dashboard", baseURL+"/dashboard"),
		)

		g.Go(func() error {
			if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	if !noStdio {
		g.Go(func() error {
			logger.Info("stdio ready")
			stdio := server.NewStdioServer(mcpServer)
			stdio.SetErrorLogger(zap.NewStdLog(logger.Named("stdio")))
			err := stdio.Listen(gctx, os.Stdin, os.Stdout)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("stdio server stopped", zap.Error(err))
			}
			// Client disconnected: shut everything down.
			cancel()
			return nil
		})
	}

	runErr := g.Wait()
	notifier.Stop()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer closeCancel()
	if err := session.Close(closeCtx); err != nil {
		logger.Warn("session close", zap.Error(err))
	}
	logger.Info("server stopped")
	return runErr
}

// newEngine connects the Redis-backed replication engine when configured and
// sets it on deps. It returns the client to close on shutdown, or nil.
func newEngine(ctx context.Context, pol *policy.Policy, provider *identity.Provider, deps *app.Dependencies, logger *zap.Logger) *redis.Client {
	if !pol.ReplicationEnabled() {
		logger.Info("replication disabled: no redis address configured")
		return nil
	}
	peerID, err := provider.LocalPeerID(ctx)
	if err != nil {
		logger.Error("replication disabled: no local peer id", zap.Error(err))
		return nil
	}
	rcfg := pol.Replication()
	rc := redis.NewClient(&redis.Options{
		Addr:     rcfg.RedisAddr,
		Password: rcfg.RedisPassword,
		DB:       rcfg.RedisDB,
	})
	deps.Engine = redisbus.New(rc, peerID,
		redisbus.WithPrefix(rcfg.Prefix),
		redisbus.WithLogger(logger.Named("replication")),
	)
	logger.Info("replication via redis", zap.String("addr", rcfg.RedisAddr), zap.String("prefix", rcfg.Prefix))
	return rc
}

func newMCPServer(pol *policy.Policy, session *app.Session, logger *zap.Logger) *server.MCPServer {
	hooks := &server.Hooks{}
	hooks.AddAfterCallTool(func(ctx context.Context, id any, message *mcp.CallToolRequest, result *mcp.CallToolResult) {
		if message != nil {
			logger.Debug("tool called", zap.String("tool", message.Params.Name))
		}
	})
	hooks.AddOnRegisterSession(func(ctx context.Context, cs server.ClientSession) {
		logger.Info("client session registered", zap.String("session", cs.SessionID()))
	})
	hooks.AddOnUnregisterSession(func(ctx context.Context, cs server.ClientSession) {
		logger.Info("client session unregistered", zap.String("session", cs.SessionID()))
	})

	s := server.NewMCPServer(
		"peertasks",
		Version,
		server.WithHooks(hooks),
		server.WithRecovery(),
		server.WithResourceCapabilities(false, true),
	)
	peertasks.Register(s, session, logger.Named("mcp"), peertasks.WithToolFilter(pol.IsToolEnabled))
	return s
}

func newMux(mcpServer *server.MCPServer, session *app.Session, m *metrics.Metrics, logger *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/mcp", server.NewStreamableHTTPServer(mcpServer, server.WithEndpointPath("/mcp")))
	dashboard.NewHandler(session,
		dashboard.WithMetrics(m),
		dashboard.WithLogger(logger.Named("dashboard")),
	).RegisterRoutes(mux)
	return mux
}
