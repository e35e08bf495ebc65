// voicewidget hosts the embeddable voice-chat widget, either behind an HTTP surface
// (serve) or in the terminal (talk).
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootFlags struct {
	agentID     string
	accountID   string
	dataFile    string
	historyFile string
	debug       bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "voicewidget",
		Short:         "Embeddable voice-chat widget host",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flags.debug {
				slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})))
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.agentID, "agent-id", "", "agent identifier (overrides AGENT_ID)")
	pf.StringVar(&flags.accountID, "account-id", "", "account identifier (overrides ACCOUNT_ID)")
	pf.StringVar(&flags.dataFile, "data", "", "YAML or JSON file assigned to the widget data property")
	pf.StringVar(&flags.historyFile, "history", "", "YAML or JSON file assigned to the widget history property")
	pf.BoolVar(&flags.debug, "debug", false, "enable debug logging")

	root.AddCommand(newServeCmd(flags), newTalkCmd(flags))
	return root
}
