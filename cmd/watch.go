package main

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Vasu1712/silensess-backend/internal/session"
	"github.com/Vasu1712/silensess-backend/internal/tui"
)

func newWatchCmd() *cobra.Command {
	var (
		channel string
		logFile string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a telemetry channel in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			// The terminal belongs to the viewer; logs go to a file or nowhere.
			var logOut io.Writer = io.Discard
			if logFile != "" {
				f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return err
				}
				defer f.Close()
				logOut = f
			}
			cfg, logger, err := loadConfig(logOut)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := openStore(ctx, cfg.Storage, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			if channel != "" {
				if err := store.SetChannelID(ctx, channel); err != nil {
					return err
				}
			}

			sess := session.New(store, sessionOptions(cfg, logger, nil))
			defer sess.Close()

			feed := tui.NewFeed()
			unsubscribe := sess.Subscribe(feed)
			defer unsubscribe()

			go sess.Connect(ctx)
			return tui.Run(ctx, tui.New(feed, sess, sess.Status()), tea.WithAltScreen())
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "channel id to follow (defaults to the stored one)")
	cmd.Flags().StringVar(&logFile, "log-file", "", "write logs to this file while the viewer runs")
	return cmd
}
