package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/olympus-org/olympus/internal/build"
	"github.com/olympus-org/olympus/internal/frontend"
	"github.com/olympus-org/olympus/internal/logger"
	"github.com/olympus-org/olympus/internal/metrics"
	"github.com/olympus-org/olympus/internal/otel"
	"github.com/olympus-org/olympus/internal/store"
)

func CmdServer() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "server [flags]",
			Short: "Start the HTTP API server",
			Long: `Launch the runtime behind its HTTP API.

The server exposes plan submission and execution, direct capability calls,
the natural-language agent endpoints, the per-plan event stream, and the
operational surfaces (health, metrics, model usage).

Example:
  olympus server --host=0.0.0.0 --port=8000
`,
		}, serverFlags, runServer,
	)
}

var serverFlags = []commandLineFlag{hostFlag, portFlag}

func runServer(ctx *Context, _ []string) error {
	// Override config with command line flags if explicitly provided
	if ctx.Command.Flags().Changed("host") {
		if host, _ := ctx.Command.Flags().GetString("host"); host != "" {
			ctx.Config.Server.Host = host
		}
	}
	if ctx.Command.Flags().Changed("port") {
		if portStr, _ := ctx.Command.Flags().GetString("port"); portStr != "" {
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", portStr, err)
			}
			ctx.Config.Server.Port = port
		}
	}

	stack, err := ctx.OpenStack()
	if err != nil {
		return err
	}
	defer stack.Close()

	shutdownTracing, err := otel.Setup(ctx, ctx.Config.Telemetry.OTELEndpoint, build.Version)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error(ctx.Context, "Failed to flush traces", "err", err)
		}
	}()

	janitor, err := store.NewJanitor(stack.Store, "")
	if err != nil {
		return fmt.Errorf("failed to build cache janitor: %w", err)
	}
	janitor.Start(ctx)
	defer janitor.Stop()

	deps := frontend.Deps{
		Store:    stack.Store,
		Registry: stack.Registry,
		Executor: stack.Executor,
		Policy:   stack.Policy,
		Issuer:   stack.Issuer,
		LLM:      stack.Router,
		Planner:  stack.Planner,
	}

	collector := metrics.NewCollector(build.Version, stack.Store, stack.Executor.ActiveCount)
	registry := metrics.NewRegistry(collector)
	if ctx.Config.Telemetry.MetricsEnabled {
		deps.Metrics = metrics.NewHTTPMetrics(registry)
	}

	logger.Info(ctx, "Server initialization",
		"host", ctx.Config.Server.Host,
		"port", ctx.Config.Server.Port,
		"db", ctx.Config.Paths.DBPath,
		"sandbox", stack.Sandbox.Root(),
		"backend", stack.Router.Backend(),
	)

	api := frontend.NewAPI(ctx.Config, build.Version, deps)
	server := frontend.NewServer(api, ctx.Config, registry)

	if err := server.Serve(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}
