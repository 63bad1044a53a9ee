package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/restflow/restflow/internal/auth"
)

func buildKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage LLM provider credentials",
	}
	cmd.AddCommand(buildKeyAddCmd())
	cmd.AddCommand(buildKeyListCmd())
	cmd.AddCommand(buildKeyShowCmd())
	cmd.AddCommand(buildKeyUseCmd())
	cmd.AddCommand(buildKeyRemoveCmd())
	cmd.AddCommand(buildKeyTestCmd())
	cmd.AddCommand(buildKeyDiscoverCmd())
	return cmd
}

func buildKeyAddCmd() *cobra.Command {
	var priority int
	cmd := &cobra.Command{
		Use:   "add <provider> <api_key>",
		Short: "Register a new auth profile for a provider",
		Args:  cobra.ExactArgs(2),
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

			return st.profiles.AddProfile(auth.Profile{
				ID:       "cli",
				Provider: args[0],
				Type:     auth.CredentialAPIKey,
				Source:   auth.SourceManual,
				Key:      args[1],
				Enabled:  true,
				Health:   auth.HealthHealthy,
				Priority: priority,
			})
		},
	}
	cmd.Flags().IntVar(&priority, "priority", 50, "selection priority; lower wins ties")
	return cmd
}

func buildKeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <provider>",
		Short: "List auth profiles for a provider",
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

			profiles, err := st.profiles.ListProfiles(args[0])
			if err != nil {
				return err
			}
			for _, p := range profiles {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\thealth=%s\tpriority=%d\tenabled=%t\n", p.ID, p.Health, p.Priority, p.Enabled)
			}
			return nil
		},
	}
}

func buildKeyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <provider> <id>",
		Short: "Show one auth profile (the credential value is redacted)",
		Args:  cobra.ExactArgs(2),
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

			p, err := st.profiles.GetProfile(args[0], args[1])
			if err != nil {
				return err
			}
			p.Key, p.Access, p.Refresh, p.Token = redacted(p.Key), redacted(p.Access), redacted(p.Refresh), redacted(p.Token)
			fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", p)
			return nil
		},
	}
}

func redacted(s string) string {
	if s == "" {
		return ""
	}
	return "***redacted***"
}

func buildKeyUseCmd() *cobra.Command {
	var priority int
	cmd := &cobra.Command{
		Use:   "use <provider> <id>",
		Short: "Promote a profile to top priority",
		Args:  cobra.ExactArgs(2),
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

			p, err := st.profiles.GetProfile(args[0], args[1])
			if err != nil {
				return err
			}
			p.Priority = priority
			p.Enabled = true
			return st.profiles.AddProfile(p)
		},
	}
	cmd.Flags().IntVar(&priority, "priority", 0, "priority to assign (0 = highest)")
	return cmd
}

func buildKeyRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <provider> <id>",
		Short: "Remove an auth profile",
		Args:  cobra.ExactArgs(2),
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
			return st.profiles.RemoveProfile(args[0], args[1])
		},
	}
}

func buildKeyTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <provider>",
		Short: "Select the provider's active profile and report its health",
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

			p, err := st.profiles.SelectProfile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "selected profile %s (health=%s, priority=%d)\n", p.ID, p.Health, p.Priority)
			return nil
		},
	}
}

func buildKeyDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Register profiles from well-known provider environment variables",
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

			if err := st.profiles.DiscoverFromEnv(os.LookupEnv); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "discovery complete")
			return nil
		},
	}
}
