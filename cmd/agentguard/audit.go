package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"agentguard/internal/audit"
	"agentguard/internal/metrics"
	"agentguard/internal/policy"

	"github.com/spf13/cobra"
)

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent command records from the audit store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if !cfg.Audit.Enabled {
				return fmt.Errorf("auditing is disabled; enable audit.enabled to keep history")
			}
			store, err := audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			recs, err := store.RecentCommands(context.Background(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tUSER\tBLOCKED\tMS\tCOMMAND")
			for _, rec := range recs {
				fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%s\n",
					rec.Timestamp.Format(time.RFC3339), rec.User, rec.Blocked, rec.ExecutionMS, rec.Command)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum records to show")
	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Export audit records",
	}
	cmd.AddCommand(auditEventsCmd())
	cmd.AddCommand(auditPolicyCmd())
	return cmd
}

func auditEventsCmd() *cobra.Command {
	var limit int
	var structured bool
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Export security events (human-readable or JSON lines)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			store, err := audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			events, err := store.RecentEvents(context.Background(), limit)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("structured") {
				structured = cfg.Audit.StructuredLogging
			}
			return audit.WriteEvents(os.Stdout, events, structured)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum events to export")
	cmd.Flags().BoolVar(&structured, "structured", false, "emit JSON lines instead of text")
	return cmd
}

func auditPolicyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Export policy evaluation entries as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			store, err := audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.PolicyEntries(context.Background(), limit)
			if err != nil {
				return err
			}
			return policy.WriteTrailJSONL(os.Stdout, entries)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum entries to export")
	return cmd
}

func statsCmd() *cobra.Command {
	var serve bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show audit counters, or serve Prometheus metrics with --serve",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()

			if serve {
				addr := fmt.Sprintf("%s:%d", cfg.Metrics.Host, cfg.Metrics.Port)
				http.Handle("/metrics", metrics.Collector.Handler())
				logger.Info("serving metrics", "addr", addr)
				return http.ListenAndServe(addr, nil)
			}

			store, err := audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := context.Background()
			dayBlocked, err := store.BlockedCount(ctx, time.Now().Add(-24*time.Hour))
			if err != nil {
				return err
			}
			totalBlocked, err := store.BlockedCount(ctx, time.Time{})
			if err != nil {
				return err
			}
			recs, err := store.RecentCommands(ctx, 0)
			if err != nil {
				return err
			}

			fmt.Printf("commands logged:    %d\n", len(recs))
			fmt.Printf("blocked (total):    %d\n", totalBlocked)
			fmt.Printf("blocked (last 24h): %d\n", dayBlocked)
			return nil
		},
	}
	cmd.Flags().BoolVar(&serve, "serve", false, "serve /metrics instead of printing counters")
	return cmd
}
