package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ashureev/voicewidget/internal/console"
)

func newTalkCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "talk",
		Short: "Run the widget in the terminal; type start, stop, mute, esc or quit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runTalk(ctx, flags)
		},
	}
}

func runTalk(parent context.Context, flags *rootFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return err
	}
	if cfg.Audio.Source == "-" {
		slog.Warn("AUDIO_SOURCE is stdin but talk reads commands from stdin; capture will compete for input")
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, flags, console.NewPresenter(os.Stderr))
	if err != nil {
		slog.Error("Failed to initialize widget", "error", err)
		return err
	}
	defer a.Close()

	stopPrinting := console.PrintTranscripts(a.widget, os.Stderr)
	defer stopPrinting()

	err = console.ReadIntents(ctx, os.Stdin, a.widget, os.Stderr)
	stop()
	return err
}
