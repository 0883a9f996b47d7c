// Package cli provides the gitaccounts command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/gitaccounts/internal/config"
)

// CLI holds the application state for the CLI.
type CLI struct {
	Config  *config.Config
	Logger  *slog.Logger
	rootCmd *cobra.Command

	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader

	// Flags
	outputFlag string
	out        *OutputWriter
}

// New creates a new CLI instance writing to the process streams.
func New() *CLI {
	return newCLI(os.Stdin, os.Stdout, os.Stderr)
}

func newCLI(stdin io.Reader, stdout, stderr io.Writer) *CLI {
	cli := &CLI{stdin: stdin, stdout: stdout, stderr: stderr}

	cli.rootCmd = &cobra.Command{
		Use:   "gitaccounts [command]",
		Short: "Manage Git hosting accounts and their repositories",
		Long: `gitaccounts keeps a list of accounts on GitHub, GitLab, Bitbucket and
Beanstalk, connects to them with stored credentials and optional mutual TLS
material, and lists the repositories each account can see.

Run 'gitaccounts serve' to expose the accounts over a local JSON API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return cli.initialize()
		},
	}

	cli.rootCmd.SetIn(stdin)
	cli.rootCmd.SetOut(stdout)
	cli.rootCmd.SetErr(stderr)

	// Global flags
	cli.rootCmd.PersistentFlags().StringVarP(&cli.outputFlag, "output", "o", "text", "Output format (text, json)")

	cli.rootCmd.AddCommand(
		cli.newServeCmd(),
		cli.newKindsCmd(),
		cli.newAccountCmd(),
		cli.newCredentialCmd(),
	)

	return cli
}

// initialize loads configuration and sets up logging and output.
func (cli *CLI) initialize() error {
	format, err := ParseOutputFormat(cli.outputFlag)
	if err != nil {
		return err
	}
	cli.out = NewOutputWriter(format, cli.stdout)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cli.Config = cfg
	cli.Logger = newLogger(cfg, cli.stderr)
	slog.SetDefault(cli.Logger)
	return nil
}

// Execute runs the CLI with the given context.
func (cli *CLI) Execute(ctx context.Context) error {
	return cli.rootCmd.ExecuteContext(ctx)
}

// SetArgs overrides os.Args[1:] (tests).
func (cli *CLI) SetArgs(args []string) {
	cli.rootCmd.SetArgs(args)
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
