package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const defaultConfigPath = "switchyard.yaml"

func newRootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "sy",
		Short: "Switchyard — chat channel to CRM relay",
		Long:  "Switchyard relays WhatsApp conversations to the CRM, answers contacts from a knowledge base and hands off to human operators.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(logLevel, cmd.ErrOrStderr())
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newTenantCmd())
	cmd.AddCommand(newRulesCmd())
	cmd.AddCommand(newCasesCmd())
	cmd.AddCommand(newDBCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sy %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

// setupLogging writes human-readable logs to a terminal and JSON otherwise.
func setupLogging(level string, w io.Writer) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: f, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", defaultConfigPath, "path to Switchyard config file")
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
