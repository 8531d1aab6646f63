// Package cli provides the command-line interface for statlake.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/statlake/internal/cli/commands"
	"github.com/leapstack-labs/statlake/internal/cli/config"
	"github.com/leapstack-labs/statlake/internal/cli/output"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "statlake",
		Short: "statlake - sports stats lake",
		Long: `statlake ingests sports statistics into a two-layer parquet lake.

Fetched batches are appended to the raw layer, then deduplicated on each
dataset's natural key and published atomically to the cleaned layer. A JSON
lineage ledger records what every run produced.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			errOut := cmd.ErrOrStderr()
			logger := config.NewLogger(errOut, cfg.LogFormat, cfg.Verbose, output.IsTerminal(errOut))
			if cfg.ConfigFile != "" {
				logger.Debug("using config file", "path", cfg.ConfigFile)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = config.WithConfig(ctx, cfg)
			ctx = config.WithLogger(ctx, logger)
			cmd.SetContext(ctx)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf("{{.Name}} {{.Version}} (commit %s, built %s)\n", GitCommit, BuildDate))

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./statlake.yaml)")
	pf.String("catalog", "", "Path to the dataset catalog")
	pf.String("lineage", "", "Path to the lineage ledger")
	pf.String("state", "", "Path to the run journal database")
	pf.String("lock", "", "Path to the lake lock file (default: <root>/.lake.lock)")
	pf.Duration("lock-timeout", 0, "How long to wait for the lake lock")
	pf.Int("max-workers", 0, "Datasets processed concurrently")
	pf.String("logs-dir", "", "Directory for per-run event logs (empty disables)")
	pf.String("metrics-path", "", "Prometheus textfile written after each run")
	pf.String("materialize-dir", "", "Directory of SQL scripts run after update")
	pf.BoolP("verbose", "v", false, "Verbose logging")
	pf.String("log-format", "", "Log format (auto|text|json)")
	pf.StringP("output", "o", "", "Output format (auto|text|json)")

	formats := func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"auto", "text", "json"}, cobra.ShellCompDirectiveNoFileComp
	}
	_ = rootCmd.RegisterFlagCompletionFunc("output", formats)
	_ = rootCmd.RegisterFlagCompletionFunc("log-format", formats)

	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewBootstrapCommand())
	rootCmd.AddCommand(commands.NewUpdateCommand())
	rootCmd.AddCommand(commands.NewInSeasonCommand())
	rootCmd.AddCommand(commands.NewPromoteCommand())
	rootCmd.AddCommand(commands.NewRecacheCommand())
	rootCmd.AddCommand(commands.NewStatusCommand())
	rootCmd.AddCommand(commands.NewRunsCommand())
	rootCmd.AddCommand(commands.NewProfileCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// Execute runs the root command. An interrupt cancels the running flow,
// which finishes its bookkeeping and reports the run as cancelled.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var runErr *commands.RunFailedError
		if !errors.As(err, &runErr) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return err
	}
	return nil
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for statlake.

Bash:
  $ source <(statlake completion bash)

Zsh:
  $ statlake completion zsh > "${fpath[1]}/_statlake"

Fish:
  $ statlake completion fish | source

PowerShell:
  PS> statlake completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
}
