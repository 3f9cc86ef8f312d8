package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codefionn/ictchat/internal/securemem"
)

var (
	configFile string
	tokenFlag  string
	verbose    bool
)

// Replaced by tests.
var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// rootCmd runs the terminal UI when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "ictchat",
	Short: "Terminal client for ICT chat",
	Long: `ictchat is a terminal client for the ICT chat service.

- tui: browse conversations and chat in the terminal (default)
- serve: expose the session as a local JSON API for other renderers
- login, logout, whoami: manage the persisted token

The token is taken from --token, then from the local state database.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTUI(cmd.Context())
	},
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	securemem.Init()
	defer securemem.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "Bearer token; replaces the persisted one")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Log at debug level to stderr (not in tui mode)")
}
