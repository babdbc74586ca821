package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agentguard/internal/audit"
	"agentguard/internal/config"
	"agentguard/internal/confirm"
	"agentguard/internal/domain"
	"agentguard/internal/guard"
	"agentguard/internal/policy"
	"agentguard/internal/ruleset"
	"agentguard/internal/safety"
	"agentguard/internal/sandbox"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "agentguard",
		Short:   "agentguard: authorization and safe execution for agent-proposed commands",
		Long:    "agentguard validates, authorizes, and executes shell commands proposed by AI agents,\nwith policy evaluation, sandboxing, rate limiting, confirmation gating, and auditing.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.agentguard/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(execCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(policyCmd())
	root.AddCommand(auditCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() *config.Config {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
		cfg.Policy.PackDir = config.ExpandPath(cfg.Policy.PackDir)
		cfg.Audit.DBPath = config.ExpandPath(cfg.Audit.DBPath)
	}
	return cfg
}

// guardStack is everything a subcommand needs, built once per invocation.
type guardStack struct {
	cfg        *config.Config
	engine     *policy.Engine
	sandbox    *sandbox.Sandbox
	safety     *safety.Manager
	confirm    *confirm.Manager
	store      *audit.SQLiteStore // nil when auditing is disabled
	authorizer *guard.Authorizer
}

func (s *guardStack) Close() {
	if s.store != nil {
		s.store.Close()
	}
}

// buildStack assembles the full pipeline from config. Both enforcement layers
// share one rule set so runtime mutations apply to each.
func buildStack(cfg *config.Config) (*guardStack, error) {
	rules := ruleset.Default()
	for _, name := range cfg.Sandbox.ExtraBlockedCommands {
		rules.BlockCommand(name)
	}
	for _, prefix := range cfg.Sandbox.ExtraBlockedPaths {
		rules.BlockPath(prefix)
	}
	for _, expr := range cfg.Sandbox.ExtraPatterns {
		if err := rules.AddPattern(expr); err != nil {
			return nil, err
		}
	}

	box, err := sandbox.New(sandbox.Config{
		Rules:            rules,
		AllowedCommands:  cfg.Sandbox.AllowedCommands,
		AllowedPaths:     cfg.Sandbox.AllowedPaths,
		BlockedPathGlobs: cfg.Sandbox.BlockedPathGlobs,
		MaxExecutionTime: time.Duration(cfg.Sandbox.MaxExecutionTimeSecs) * time.Second,
		MaxOutputSize:    cfg.Sandbox.MaxOutputBytes,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}

	var store *audit.SQLiteStore
	if cfg.Audit.Enabled {
		store, err = audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
		if err != nil {
			return nil, err
		}
	}

	limits := safety.DefaultLimits()
	limits.MaxMemoryMB = cfg.Safety.MaxMemoryMB
	limits.MaxCPUPercent = cfg.Safety.MaxCPUPercent
	limits.MaxExecutionTimeSecs = uint64(cfg.Sandbox.MaxExecutionTimeSecs)
	limits.MaxOutputSize = cfg.Sandbox.MaxOutputBytes
	limits.MaxProcesses = cfg.Safety.MaxConcurrentCommands

	var sink domain.AuditSink
	if store != nil {
		sink = store
	}
	mgr := safety.New(safety.Config{
		Rules:           rules,
		Limits:          limits,
		CommandInterval: time.Duration(cfg.Safety.CommandIntervalMS) * time.Millisecond,
		APIInterval:     time.Duration(cfg.Safety.APIIntervalMS) * time.Millisecond,
		MaxConcurrent:   cfg.Safety.MaxConcurrentCommands,
		HistoryCapacity: cfg.Safety.HistoryCapacity,
		Logger:          logger,
		Audit:           sink,
	})

	engine := policy.New(logger)
	if cfg.Policy.PackDir != "" {
		if _, err := policy.LoadDirectory(engine, cfg.Policy.PackDir, logger); err != nil {
			return nil, err
		}
	}

	gate := confirm.New(logger)
	gate.SetRequireConfirmation(cfg.Confirmation.Required)

	authorizer := guard.New(guard.Options{
		Engine:  engine,
		Sandbox: box,
		Safety:  mgr,
		Confirm: gate,
		Audit:   sink,
		Ask:     terminalConfirm,
		Logger:  logger,
	})

	return &guardStack{
		cfg:        cfg,
		engine:     engine,
		sandbox:    box,
		safety:     mgr,
		confirm:    gate,
		store:      store,
		authorizer: authorizer,
	}, nil
}

// terminalConfirm prompts on stderr and reads one line from stdin.
func terminalConfirm(ctx context.Context, prompt string) (bool, error) {
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprint(os.Stderr, prompt)
	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false, nil
	}
	return confirm.ValidateConfirmation(response), nil
}

func execCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "exec -- <command...>",
		Short: "Authorize and execute one command",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			stack, err := buildStack(cfg)
			if err != nil {
				return err
			}
			defer stack.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if user == "" {
				user = cfg.General.DefaultUser
			}
			command := joinArgs(args)
			res, err := stack.authorizer.Run(ctx, guard.Request{User: user, Command: command})
			if err != nil {
				return err
			}

			if res.Status != guard.StatusCompleted {
				fmt.Fprintf(os.Stderr, "%s: %s\n", res.Status, res.Reason)
				os.Exit(1)
			}
			fmt.Print(res.Output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "user the command is attributed to")
	return cmd
}

func checkCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "check -- <command...>",
		Short: "Dry-run: report what exec would do, without prompting or executing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			stack, err := buildStack(cfg)
			if err != nil {
				return err
			}
			defer stack.Close()

			if user == "" {
				user = cfg.General.DefaultUser
			}
			res, err := stack.authorizer.Check(context.Background(), guard.Request{User: user, Command: joinArgs(args)})
			if err != nil {
				return err
			}

			fmt.Printf("status:   %s\n", res.Status)
			fmt.Printf("action:   %s\n", res.Decision.Action.Type)
			if res.Reason != "" {
				fmt.Printf("reason:   %s\n", res.Reason)
			}
			if len(res.Decision.AppliedPolicies) > 0 {
				fmt.Printf("policies: %v\n", res.Decision.AppliedPolicies)
			}
			if res.Status == guard.StatusDenied || res.Status == guard.StatusRejected {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "user the command is attributed to")
	return cmd
}

func joinArgs(args []string) string {
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
}
