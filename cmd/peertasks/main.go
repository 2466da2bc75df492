// peertasks shares a task list between nearby devices.
// Stdio for the local MCP client, HTTP for the dashboard and remote clients.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jaakkos/peertasks/internal/policy"
)

// Version is set by -ldflags at build time.
var Version = "dev"

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "peertasks",
	Short: "Shared task list replicated between nearby devices",
	Long: `peertasks keeps a task list in a local SQLite store, replicates it with
nearby peers, and exposes it over MCP (stdio and streamable HTTP) plus a small
web dashboard.

Run without arguments to start the server.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "peertasks "+Version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.Flags().BoolVar(&noStdio, "no-stdio", false, "serve HTTP only and run until signalled")
	serveCmd.Flags().BoolVar(&noStdio, "no-stdio", false, "serve HTTP only and run until signalled")

	rootCmd.AddCommand(serveCmd, statusCmd, emitCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadPolicy reads configuration from PEERTASKS_CONFIG and the environment.
func loadPolicy() (*policy.Policy, error) {
	cfg, err := policy.Load()
	if err != nil {
		return nil, err
	}
	return policy.New(cfg), nil
}

// setupLogger builds a zap logger that writes to the log file and, when
// stderr is an interactive terminal, to stderr as well. When stderr is
// redirected (daemon mode) only the file is used so lines are not doubled.
// stdout is never used: it carries the stdio MCP transport.
func setupLogger(logFilePath, level string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.OutputPaths = logOutputs(logFilePath, isatty.IsTerminal(os.Stderr.Fd()))
	config.ErrorOutputPaths = []string{"stderr"}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// logOutputs picks zap sinks. There is always at least one output.
func logOutputs(logFilePath string, stderrIsTerminal bool) []string {
	var outputs []string
	lower := strings.ToLower(logFilePath)
	if lower != "none" && lower != "off" && logFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0o755); err == nil {
			outputs = append(outputs, logFilePath)
		} else {
			fmt.Fprintf(os.Stderr, "peertasks: cannot create log dir %s: %v\n", filepath.Dir(logFilePath), err)
		}
	}
	if stderrIsTerminal || len(outputs) == 0 {
		outputs = append(outputs, "stderr")
	}
	return outputs
}
