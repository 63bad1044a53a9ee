package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/restflow/restflow/internal/models"
	"github.com/restflow/restflow/internal/queue"
	"github.com/restflow/restflow/internal/runner"
)

func buildAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage agent definitions",
	}
	cmd.AddCommand(buildAgentListCmd())
	cmd.AddCommand(buildAgentShowCmd())
	cmd.AddCommand(buildAgentCreateCmd())
	cmd.AddCommand(buildAgentUpdateCmd())
	cmd.AddCommand(buildAgentDeleteCmd())
	cmd.AddCommand(buildAgentExecCmd())
	return cmd
}

func buildAgentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer st.close()

			defs, err := st.agents.List()
			if err != nil {
				return err
			}
			for _, d := range defs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tmodel=%s\tmax_iterations=%d\n", d.ID, d.Model, d.MaxIterations)
			}
			return nil
		},
	}
}

func buildAgentShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <agent_id>",
		Short: "Show one agent's full definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer st.close()

			def, err := st.agents.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(def)
		},
	}
}

func buildAgentCreateCmd() *cobra.Command {
	var (
		model               string
		system              string
		maxIterations       int
		toolTimeout         time.Duration
		maxToolResultLength int
	)
	cmd := &cobra.Command{
		Use:   "create <agent_id>",
		Short: "Create a new agent definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer st.close()

			return st.agents.Create(runner.AgentDefinition{
				ID:                  args[0],
				Model:               model,
				System:              system,
				MaxIterations:       maxIterations,
				ToolTimeout:         toolTimeout,
				MaxToolResultLength: maxToolResultLength,
			})
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "model identifier (e.g. claude-sonnet-4-5)")
	cmd.Flags().StringVar(&system, "system", "", "system prompt")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "ReAct loop iteration cap (0 = executor default)")
	cmd.Flags().DurationVar(&toolTimeout, "tool-timeout", 0, "per-tool-call timeout (0 = executor default)")
	cmd.Flags().IntVar(&maxToolResultLength, "max-tool-result-length", 0, "tool result truncation length (0 = executor default)")
	cmd.MarkFlagRequired("model")
	return cmd
}

func buildAgentUpdateCmd() *cobra.Command {
	var (
		model  string
		system string
	)
	cmd := &cobra.Command{
		Use:   "update <agent_id>",
		Short: "Update an existing agent's model or system prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer st.close()

			def, err := st.agents.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if model != "" {
				def.Model = model
			}
			if system != "" {
				def.System = system
			}
			return st.agents.Update(def)
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "new model identifier")
	cmd.Flags().StringVar(&system, "system", "", "new system prompt")
	return cmd
}

func buildAgentDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <agent_id>",
		Short: "Delete an agent definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer st.close()
			return st.agents.Delete(args[0])
		},
	}
}

func buildAgentExecCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "exec <agent_id> <input>",
		Short: "Enqueue a one-off run against an agent",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer st.close()

			if _, err := st.agents.Get(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("agent exec: %w", err)
			}

			input := args[1]
			for _, extra := range args[2:] {
				input += " " + extra
			}
			task, err := st.queue.Push(models.Task{AgentRef: args[0], Input: input, Priority: models.PriorityNormal})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", task.ID)
			if !wait {
				return nil
			}
			return waitForTask(cmd.Context(), st.queue, task.ID, cmd)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the run finishes and print its result")
	return cmd
}

func waitForTask(ctx context.Context, q *queue.Queue, taskID string, cmd *cobra.Command) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			task, err := q.Get(taskID)
			if err != nil {
				return err
			}
			switch task.Status {
			case models.TaskCompleted:
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(task.Output)
			case models.TaskFailed:
				return fmt.Errorf("run failed: %s", task.Error)
			}
		}
	}
}
