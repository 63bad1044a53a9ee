package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/restflow/restflow/internal/channels"
	"github.com/restflow/restflow/internal/channels/discord"
	"github.com/restflow/restflow/internal/channels/slack"
	"github.com/restflow/restflow/internal/channels/telegram"
	"github.com/restflow/restflow/internal/channels/terminal"
	"github.com/restflow/restflow/internal/config"
	"github.com/restflow/restflow/internal/cron"
	"github.com/restflow/restflow/internal/daemon"
	"github.com/restflow/restflow/internal/models"
	"github.com/restflow/restflow/internal/queue"
	"github.com/restflow/restflow/internal/runner"
	"github.com/restflow/restflow/internal/tools"
	"github.com/restflow/restflow/internal/webhook"
)

func buildDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the RestFlow background process",
	}
	cmd.AddCommand(buildDaemonStartCmd())
	cmd.AddCommand(buildDaemonStopCmd())
	cmd.AddCommand(buildDaemonStatusCmd())
	cmd.AddCommand(buildDaemonInstallCmd())
	cmd.AddCommand(buildDaemonUninstallCmd())
	return cmd
}

// buildDaemonStartCmd runs the daemon inline, blocking until SIGINT/SIGTERM.
// "daemon install" is the separate entry point for running this same
// command under a system service manager.
func buildDaemonStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the runner, channel adapters, cron scheduler, and webhook server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	}
}

func buildDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the installed daemon service",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := daemon.GetServiceManager()
			if mgr == nil {
				return errors.New("daemon stop: unsupported platform")
			}
			return mgr.Stop(nil)
		},
	}
}

func buildDaemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sockPath := filepath.Join(cfg.RuntimeDir, "restflow.sock")
			status, err := queryIPCStatus(sockPath)
			if err != nil {
				return fmt.Errorf("daemon status: %w (is the daemon running?)", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "uptime=%s queue_depth=%d in_flight=%d workers=%d version=%s\n",
				status.Uptime, status.QueueDepth, status.InFlight, status.WorkerCount, status.Version)
			return nil
		},
	}
}

func buildDaemonInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install the daemon as a system service (LaunchAgent, systemd, or Scheduled Task)",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := daemon.GetServiceManager()
			if mgr == nil {
				return errors.New("daemon install: unsupported platform")
			}
			exe, err := os.Executable()
			if err != nil {
				return err
			}
			result, err := mgr.Install(daemon.InstallOptions{
				ProgramArguments: []string{exe, "daemon", "start"},
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "installed %s at %s\n", mgr.Label(), result.Path)
			return nil
		},
	}
}

func buildDaemonUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the installed daemon service",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := daemon.GetServiceManager()
			if mgr == nil {
				return errors.New("daemon uninstall: unsupported platform")
			}
			return mgr.Uninstall(nil)
		},
	}
}

// queryIPCStatus is a minimal line-delimited JSON-RPC client for the
// "status" method, used by "daemon status" so it doesn't need to link the
// full daemon.IPCServer plumbing just to read one field.
func queryIPCStatus(sockPath string) (daemon.Status, error) {
	conn, err := net.DialTimeout("unix", sockPath, 2*time.Second)
	if err != nil {
		return daemon.Status{}, err
	}
	defer conn.Close()

	req := daemon.Request{ID: "1", Method: "status"}
	enc := json.NewEncoder(conn)
	if err := enc.Encode(req); err != nil {
		return daemon.Status{}, err
	}

	var resp daemon.Response
	dec := json.NewDecoder(conn)
	if err := dec.Decode(&resp); err != nil {
		return daemon.Status{}, err
	}
	if resp.Error != "" {
		return daemon.Status{}, errors.New(resp.Error)
	}
	var status daemon.Status
	if err := json.Unmarshal(resp.Result, &status); err != nil {
		return daemon.Status{}, err
	}
	return status, nil
}

// coreAdapter satisfies daemon.CoreAccess over a live queue and runner, the
// thin seam the IPC server was designed against.
type coreAdapter struct {
	queue     *queue.Queue
	runner    *runner.Runner
	startedAt time.Time
}

func (c *coreAdapter) EnqueueTask(_ context.Context, task models.Task) (models.Task, error) {
	return c.queue.Push(task)
}

func (c *coreAdapter) GetTask(taskID string) (models.Task, error) { return c.queue.Get(taskID) }

func (c *coreAdapter) ListTasks(filter queue.ListFilter) ([]models.Task, error) {
	return c.queue.List(filter)
}

func (c *coreAdapter) Status() daemon.Status {
	pending, _ := c.queue.List(queue.ListFilter{Status: models.TaskPending})
	running, _ := c.queue.List(queue.ListFilter{Status: models.TaskRunning})
	return daemon.Status{
		Uptime:      time.Since(c.startedAt),
		QueueDepth:  len(pending),
		InFlight:    len(running),
		WorkerCount: 0,
		Version:     version,
	}
}

// runDaemon assembles every RestFlow component (C1-C12) and blocks until
// SIGINT/SIGTERM, mirroring the teacher's serve-command shutdown idiom:
// a cancellable context plumbed through every subsystem's Start/Stop.
func runDaemon(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("daemon start: %w", err)
	}
	logger := newLogger(cfg)

	st, err := openStores(cfg)
	if err != nil {
		return fmt.Errorf("daemon start: open stores: %w", err)
	}
	defer st.close()

	provider, err := selectProvider(st.profiles)
	if err != nil {
		return fmt.Errorf("daemon start: %w", err)
	}

	toolRegistry := tools.NewRegistry()

	r, err := runner.New(
		runner.WithQueue(st.queue),
		runner.WithAgentStore(st.agents),
		runner.WithToolRegistry(toolRegistry),
		runner.WithProvider(provider),
		runner.WithLogger(logger),
		runner.WithMaxConcurrent(cfg.Runner.MaxConcurrent),
		runner.WithStallTimeout(cfg.Runner.StallTimeout),
		runner.WithStallSweepInterval(cfg.Runner.StallSweepInterval),
		runner.WithHeartbeatInterval(cfg.Runner.HeartbeatInterval),
		runner.WithGracefulTimeout(cfg.Runner.GracefulTimeout),
	)
	if err != nil {
		return fmt.Errorf("daemon start: build runner: %w", err)
	}

	registry := channels.NewRegistry()
	registerChannels(registry, cfg, logger)
	router := channels.NewRouter(registry, st.queue, st.agents, st.sessions, logger)

	triggers := cron.NewTriggerStore(st.kv)
	scheduler := cron.New(triggers, st.queue, cron.WithLogger(logger))

	webhookHandler := webhook.NewHandler(triggers, st.queue, logger)
	webhookServer := &http.Server{Addr: cfg.Webhook.ListenAddr, Handler: webhookHandler.Routes()}

	ipcServer := daemon.NewIPCServer(
		filepath.Join(cfg.RuntimeDir, "restflow.sock"),
		&coreAdapter{queue: st.queue, runner: r, startedAt: time.Now()},
		logger,
	)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.RuntimeDir, 0o755); err != nil {
		return fmt.Errorf("daemon start: runtime dir: %w", err)
	}

	if err := r.Start(ctx); err != nil {
		return fmt.Errorf("daemon start: runner: %w", err)
	}
	if err := registry.StartAll(ctx); err != nil {
		logger.Warn("some channels failed to start", "error", err)
	}
	go router.Run(ctx)
	scheduler.Start(ctx)
	if err := ipcServer.Start(ctx); err != nil {
		return fmt.Errorf("daemon start: ipc: %w", err)
	}
	go func() {
		if err := webhookServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("webhook server exited", "error", err)
		}
	}()

	logger.Info("restflow daemon started", "webhook_addr", cfg.Webhook.ListenAddr)
	<-ctx.Done()
	logger.Info("restflow daemon shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Runner.GracefulTimeout)
	defer cancel()

	webhookServer.Shutdown(shutdownCtx)
	scheduler.Stop()
	ipcServer.Stop()
	registry.StopAll(shutdownCtx)
	r.Stop(shutdownCtx)
	return nil
}

// registerChannels constructs and registers every channel adapter enabled
// in config, plus the terminal adapter which needs no configuration.
func registerChannels(registry *channels.Registry, cfg *config.Config, logger *slog.Logger) {
	term, err := terminal.NewAdapter(terminal.Config{Logger: logger})
	if err != nil {
		logger.Warn("terminal adapter unavailable", "error", err)
	} else {
		registry.Register(term)
	}

	if cfg.Channels.Telegram.Enabled {
		tg, err := telegram.NewAdapter(telegram.Config{Token: cfg.Channels.Telegram.Token, Logger: logger})
		if err != nil {
			logger.Warn("telegram adapter unavailable", "error", err)
		} else {
			registry.Register(tg)
		}
	}

	if cfg.Channels.Discord.Enabled {
		dc, err := discord.NewAdapter(discord.Config{Token: cfg.Channels.Discord.Token, Logger: logger})
		if err != nil {
			logger.Warn("discord adapter unavailable", "error", err)
		} else {
			registry.Register(dc)
		}
	}

	if cfg.Channels.Slack.Enabled {
		sl, err := slack.NewAdapter(slack.Config{
			BotToken: cfg.Channels.Slack.Token,
			AppToken: cfg.Channels.Slack.AppID,
			Logger:   logger,
		})
		if err != nil {
			logger.Warn("slack adapter unavailable", "error", err)
		} else {
			registry.Register(sl)
		}
	}
}
