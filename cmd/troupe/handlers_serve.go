package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	slackapi "github.com/slack-go/slack"

	"github.com/troupehq/troupe/internal/agent"
	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/dispatch"
	"github.com/troupehq/troupe/internal/metrics"
	"github.com/troupehq/troupe/internal/onboard"
	"github.com/troupehq/troupe/internal/outbox"
	"github.com/troupehq/troupe/internal/providers"
	"github.com/troupehq/troupe/internal/session"
	"github.com/troupehq/troupe/internal/slack"
	"github.com/troupehq/troupe/internal/tools"
	"github.com/troupehq/troupe/internal/transcript"
	"github.com/troupehq/troupe/internal/workers"
)

// =============================================================================
// Serve Command Handler
// =============================================================================

// runServe implements the serve command: configuration loading, component
// assembly, and graceful shutdown.
func runServe(ctx context.Context, configPath string, debug bool) error {
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	slog.Info("starting troupe",
		"version", version,
		"commit", commit,
		"config", configPath,
		"debug", debug,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !debug {
		slog.SetDefault(buildLogger(cfg.Logging))
	}
	logger := slog.Default()

	slog.Info("configuration loaded",
		"instances", strings.Join(cfg.InstanceNames(), ","),
		"default_instance", cfg.DefaultInstance(),
		"state_dir", cfg.StateDir,
	)

	m := metrics.New()
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Listen, logger)
		if err := metricsServer.Start(); err != nil {
			return err
		}
	}

	provider, err := providers.Detect(ctx, providers.Settings{
		Name:    cfg.Provider.Name,
		Model:   cfg.Provider.Model,
		APIKey:  cfg.Provider.APIKey,
		BaseURL: cfg.Provider.BaseURL,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize provider: %w", err)
	}
	provider = metrics.InstrumentProvider(provider, m)

	store, err := transcript.NewStore(cfg.StateDir, logger)
	if err != nil {
		return err
	}

	workerMgr := workers.NewManager(cfg.WorkerTimeout(), logger)

	// The delegate runner needs the registry the Setup closure is being
	// built for; the late binding resolves after NewRegistry returns.
	var registry *session.Registry
	registry, err = session.NewRegistry(session.Config{
		Provider: provider,
		Store:    store,
		Options:  sessionOptions(cfg),
		Setup:    sessionSetup(cfg, func() *session.Registry { return registry }),
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize sessions: %w", err)
	}
	defer registry.Close()

	api := slackapi.New(cfg.Slack.BotToken, slackapi.OptionAppLevelToken(cfg.Slack.AppToken))
	poster := slack.NewPoster(api, logger)

	outboxProc := outbox.NewProcessor(api, func(ctx context.Context, channel, threadTS, text string) error {
		_, err := poster.PostPlain(ctx, channel, threadTS, text)
		return err
	}, cfg.FileSizeCap, logger)

	d, err := dispatch.New(dispatch.Config{
		Instances:       cfg.Instances,
		DefaultInstance: cfg.DefaultInstance(),
		Engine:          dispatch.RegistryEngine{Registry: registry},
		Client:          api,
		Poster:          poster,
		Approvals:       slack.NewApprovals(api, cfg.ApprovalTimeout(), logger),
		Displays:        slack.NewDisplays(api, logger),
		Onboarding:      onboard.NewManager(cfg.StateDir, logger),
		Outbox:          outboxProc,
		Workers:         workerMgr,
		Metrics:         m,
		FileSizeCap:     cfg.FileSizeCap,
		OwnerCapacity:   cfg.ThreadOwnerCapacity,
		StatusThrottle:  cfg.StatusThrottle(),
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}

	gateway := slack.NewGatewayWithClients(api, slack.NewSocketDialer(api, debug), d, logger)
	watchdog := slack.NewWatchdog(api, func(reason string) {
		m.Reconnected()
		gateway.Kick(reason)
	}, logger)

	scheduler := cron.New()
	if err := workerMgr.Schedule(scheduler); err != nil {
		return err
	}
	if err := d.Schedule(scheduler); err != nil {
		return err
	}
	scheduler.Start()

	// Create a context that cancels on shutdown signals.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The dispatcher parses mentions before the gateway publishes its
	// identity, so resolve it up front.
	auth, err := api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth.test failed: %w", err)
	}
	d.SetBotUser(auth.UserID)

	errCh := make(chan error, 1)
	go func() { errCh <- gateway.Run(ctx) }()
	go watchdog.Run(ctx)

	slog.Info("troupe started",
		"bot_user", auth.UserID,
		"team", auth.Team,
		"instances", len(cfg.Instances),
	)

	// Wait for a shutdown signal or a fatal gateway error.
	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			runErr = err
		}
	}
	slog.Info("shutting down")

	// Cancelling the root context stops in-flight executions; Close then
	// waits for their goroutines to unwind.
	cancel()
	d.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	workerMgr.CancelAll(shutdownCtx)
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
	}
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}

	slog.Info("shutdown complete")
	return runErr
}

// buildLogger constructs the structured logger described by the logging
// config.
func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// sessionOptions builds per-session orchestrator options from the config.
func sessionOptions(cfg *config.Config) func(instance, conversationID string) agent.Options {
	return func(instance, conversationID string) agent.Options {
		inst, _ := cfg.Instance(instance)
		return agent.Options{
			Model:             cfg.Provider.Model,
			System:            systemPrompt(cfg, inst),
			MaxTokens:         cfg.Provider.MaxTokens,
			MaxIterations:     cfg.MaxIterations,
			ForceRespondTools: cfg.ForceRespondTools,
		}
	}
}

// systemPrompt assembles the standing instructions for one instance.
func systemPrompt(cfg *config.Config, inst config.InstanceConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, an AI assistant working inside a Slack workspace.\n", inst.Persona.Name)
	fmt.Fprintf(&b, "Instance: %s (bundle %s).\n", inst.Name, inst.Bundle)
	fmt.Fprintf(&b, "Your working directory is %s. Files you write there persist between conversations.\n", inst.WorkingDir)
	b.WriteString("Files written to the .outbox/ directory of your workspace are uploaded to the conversation.\n")
	if siblings := siblingNames(cfg, inst.Name); len(siblings) > 0 {
		fmt.Fprintf(&b, "Other instances in this workspace: %s. Use the delegate tool to hand a self-contained task to one of them.\n", strings.Join(siblings, ", "))
	}
	b.WriteString("Keep Slack replies concise and use Slack-compatible formatting.")
	return b.String()
}

// sessionSetup mounts the built-in toolset on every new session. The
// Slack-facing tools are bound per run by the dispatcher.
func sessionSetup(cfg *config.Config, registry func() *session.Registry) func(*session.Session) error {
	return func(s *session.Session) error {
		inst, ok := cfg.Instance(s.Instance)
		if !ok {
			return fmt.Errorf("unknown instance %q", s.Instance)
		}
		toolCfg := tools.Config{Workspace: inst.WorkingDir}
		builtins := []agent.Tool{
			tools.NewTodoTool(),
			tools.NewReadFileTool(toolCfg),
			tools.NewListFilesTool(toolCfg),
			tools.NewRunCommandTool(toolCfg),
			tools.NewDelegateTool(
				delegateRunner(registry, s.Instance, s.ConversationID),
				siblingNames(cfg, s.Instance)...,
			),
		}
		for _, tool := range builtins {
			if err := s.Tools().Register(tool); err != nil {
				return err
			}
		}
		return nil
	}
}

// delegateRunner executes a delegated task on the target instance in a
// scoped conversation and returns its final text.
func delegateRunner(registry func() *session.Registry, instance, conversationID string) tools.Runner {
	return func(ctx context.Context, agentName, task string) (string, error) {
		reg := registry()
		if reg == nil {
			return "", fmt.Errorf("delegate: session registry not ready")
		}
		conv := "delegate:" + instance + ":" + conversationID
		return reg.Execute(ctx, agentName, conv, task, nil)
	}
}

func siblingNames(cfg *config.Config, instance string) []string {
	var names []string
	for _, name := range cfg.InstanceNames() {
		if name != instance {
			names = append(names, name)
		}
	}
	return names
}
