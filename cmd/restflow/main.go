// Command restflow is the RestFlow agent-execution platform's CLI and
// daemon entry point (SPEC_FULL §6.6): it assembles the queue, runner,
// channel adapters, cron scheduler, and webhook trigger surface (C1-C12)
// into a single background process, and exposes agent/key/daemon
// management commands over the same stores the daemon uses.
//
// Grounded on the teacher's cmd/nexus/main.go (root cobra command, version
// ldflags, persistent --config flag, signal-driven shutdown), trimmed of
// its plugin/marketplace/mcp/workspace command groups since this build has
// no equivalent subsystems.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during release builds:
//
//	go build -ldflags "-X main.version=v0.1.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "restflow",
		Short: "RestFlow agent-execution platform",
		Long: `RestFlow runs AI agents as background tasks triggered by chat
messages, webhooks, or cron schedules, and reports results back to Telegram,
Discord, Slack, or the terminal.`,
		Version:      fmt.Sprintf("%s (commit %s)", version, commit),
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config YAML (default: ./restflow.yaml)")

	root.AddCommand(buildDaemonCmd())
	root.AddCommand(buildAgentCmd())
	root.AddCommand(buildKeyCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
