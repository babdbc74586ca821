package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"agentguard/internal/config"

	"github.com/spf13/cobra"
)

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and toggle security policies",
	}
	cmd.AddCommand(policyListCmd())
	cmd.AddCommand(policyToggleCmd("enable", true))
	cmd.AddCommand(policyToggleCmd("disable", false))
	return cmd
}

func policyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List policies in evaluation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := buildStack(loadConfig())
			if err != nil {
				return err
			}
			defer stack.Close()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PRIORITY\tID\tACTION\tENABLED\tNAME")
			for _, p := range stack.engine.Policies() {
				fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\n",
					p.Priority, p.ID, p.Action.Type, p.Enabled, p.Name)
			}
			return w.Flush()
		},
	}
}

func policyToggleCmd(verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <policy-id>",
		Short: verb + " a policy by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := buildStack(loadConfig())
			if err != nil {
				return err
			}
			defer stack.Close()

			if err := stack.engine.SetPolicyEnabled(args[0], enabled); err != nil {
				return err
			}
			logger.Info("policy updated", "id", args[0], "enabled", enabled)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and write configuration values",
	}
	cmd.AddCommand(configGetCmd())
	cmd.AddCommand(configSetCmd())
	cmd.AddCommand(configListCmd())
	return cmd
}

func configGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Print one config value by dot-notation path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			v, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Println(v)
			return nil
		},
	}
}

func configSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <path> <value>",
		Short: "Set one config value and save",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return err
			}
			return config.Save(resolveConfigPath(), cfg)
		},
	}
}

func configListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all config paths with their current values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			paths := config.ListPaths(cfg)
			keys := make([]string, 0, len(paths))
			for k := range paths {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, k := range keys {
				fmt.Fprintf(w, "%s\t%v\n", k, paths[k])
			}
			return w.Flush()
		},
	}
}
