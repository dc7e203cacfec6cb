package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	httpadapter "github.com/mcpgate/mcpgate/internal/adapter/inbound/http"
	auditstore "github.com/mcpgate/mcpgate/internal/adapter/outbound/audit"
	"github.com/mcpgate/mcpgate/internal/adapter/outbound/memory"
	"github.com/mcpgate/mcpgate/internal/adapter/outbound/proc"
	"github.com/mcpgate/mcpgate/internal/config"
	"github.com/mcpgate/mcpgate/internal/domain/audit"
	"github.com/mcpgate/mcpgate/internal/service"
	"github.com/mcpgate/mcpgate/internal/telemetry"
)

var startCmd = &cobra.Command{
	Use:   "start [-- command [args...]]",
	Short: "Start the gateway",
	Long: `Start the mcpgate HTTP gateway.

The gateway spawns the configured MCP server as a subprocess and bridges
its stdio to the HTTP endpoint. The child can come from the config file
(child.command) or be passed directly after --.

Examples:
  # Start with config file settings
  mcpgate start

  # Start with a specific MCP server command
  mcpgate start -- npx -y @modelcontextprotocol/server-filesystem /tmp

  # Start with a specific config file
  mcpgate --config /path/to/mcpgate.yaml start`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load without validation so the child passed after -- can land first.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if len(args) > 0 {
		cfg.Child.Command = args[0]
		if len(args) > 1 {
			cfg.Child.Args = args[1:]
		} else {
			cfg.Child.Args = nil
		}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	batchTimeout, err := cfg.BatchTimeoutDuration()
	if err != nil {
		return err
	}

	// Signal context for graceful shutdown. stop() restores default signal
	// handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	// Logger to stderr; stdout is reserved for audit output.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	if used := config.ConfigFileUsed(); used != "" {
		logger.Info("loaded config", "file", used)
	}

	if cfg.Telemetry.Traces {
		shutdown, err := telemetry.SetupTracing(ctx)
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shut down tracer provider", "error", err)
			}
		}()
	}

	var auditService *service.AuditService
	if cfg.Audit.Output != "" {
		store, err := openAuditStore(cfg.Audit.Output)
		if err != nil {
			return fmt.Errorf("failed to open audit store: %w", err)
		}
		auditService = service.NewAuditService(store, logger,
			service.WithChannelSize(cfg.Audit.ChannelSize))
		auditService.Start(ctx)
		defer auditService.Stop()
	}

	supervisor := proc.NewSupervisor(cfg.Child.Command, cfg.Child.Args, logger)
	if err := supervisor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start child process: %w", err)
	}
	defer func() {
		if err := supervisor.Close(); err != nil {
			logger.Debug("child close", "error", err)
		}
	}()
	logger.Info("child process started",
		"command", cfg.Child.Command, "args", strings.Join(cfg.Child.Args, " "))

	registry := memory.NewSessionRegistry()
	dispatcher := service.NewDispatcher(registry, supervisor,
		service.WithMode(service.Mode(cfg.Gateway.ResponseMode)),
		service.WithBatchTimeout(batchTimeout),
		service.WithLogger(logger),
		service.WithAudit(auditService),
	)
	go func() {
		_ = dispatcher.Run(ctx, supervisor.Lines())
	}()

	transport := httpadapter.NewHTTPTransport(registry, dispatcher,
		httpadapter.WithAddr(cfg.ListenAddr()),
		httpadapter.WithEndpoint(cfg.Server.Endpoint),
		httpadapter.WithSessionHeader(cfg.Server.SessionHeader),
		httpadapter.WithCORSOrigin(cfg.Server.CORSOrigin),
		httpadapter.WithHealthPaths(cfg.Server.HealthPaths),
		httpadapter.WithStaticHeaders(cfg.Server.StaticHeaders),
		httpadapter.WithTracing(cfg.Telemetry.Traces),
		httpadapter.WithHealthChecker(httpadapter.NewHealthChecker(registry, auditService, Version)),
		httpadapter.WithTransportLogger(logger),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- transport.Start(ctx)
	}()

	select {
	case code := <-supervisor.Exited():
		// The gateway has nothing to serve without the child.
		logger.Error("child process exited, shutting down", "code", code)
		stop()
		_ = transport.Close()
		if code != 0 {
			return &childExitError{code: code}
		}
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	}
}

// childExitError carries the child's nonzero exit status up to Execute so
// the gateway process can exit with the same code.
type childExitError struct {
	code int
}

func (e *childExitError) Error() string {
	return fmt.Sprintf("child process exited with code %d", e.code)
}

// openAuditStore builds the audit sink from the configured output URL.
func openAuditStore(output string) (audit.Store, error) {
	switch {
	case output == "stdout":
		return auditstore.NewWriterStore(os.Stdout), nil
	case strings.HasPrefix(output, "file://"):
		return auditstore.NewFileStore(strings.TrimPrefix(output, "file://"))
	case strings.HasPrefix(output, "sqlite://"):
		return auditstore.NewSQLiteStore(strings.TrimPrefix(output, "sqlite://"))
	default:
		return nil, fmt.Errorf("unsupported audit output: %s", output)
	}
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
