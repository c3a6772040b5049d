package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Vasu1712/silensess-backend/internal/replay"
)

func newReplayCmd() *cobra.Command {
	var (
		listen string
		opts   replay.Options
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Run a local stand-in for the simulation server that streams synthetic runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := loadConfig(os.Stderr)
			if err != nil {
				return err
			}
			srv, err := replay.NewServer(opts, logger)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.ListenAndServe(ctx, listen)
		},
	}
	f := cmd.Flags()
	f.StringVar(&listen, "listen", ":9000", "address to listen on")
	f.IntVar(&opts.Agents, "agents", 100, "agents per run")
	f.IntVar(&opts.Rounds, "rounds", 50, "rounds per run")
	f.IntVar(&opts.Shard, "shard", 25, "agents per frame (0 sends whole rounds)")
	f.DurationVar(&opts.Interval, "interval", 200*time.Millisecond, "pause between rounds")
	f.Uint64Var(&opts.Seed, "seed", 0, "belief seed (0 for a random run)")
	return cmd
}
