package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Vasu1712/silensess-backend/internal/models"
	"github.com/Vasu1712/silensess-backend/internal/submit"
)

func newSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a simulation to the simulation server and print its channel id",
	}
	cmd.AddCommand(newSubmitRunCmd(), newSubmitCustomCmd())
	return cmd
}

func newSubmitRunCmd() *cobra.Command {
	var (
		cfg      models.RunConfig
		agents   int32
		saveMode uint8
		seed     int64
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit a generated-network run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.SaveMode = models.SaveMode(saveMode)
			cfg.AgentConfigs = []models.AgentTypeConfig{{Count: agents}}
			if cmd.Flags().Changed("seed") {
				cfg.Seed = &seed
			}
			client, closeFn, err := newSubmitClient(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			channel, err := client.SubmitRun(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), channel)
			return nil
		},
	}
	f := cmd.Flags()
	f.Int32Var(&agents, "agents", 100, "number of agents")
	f.Int32Var(&cfg.NumNetworks, "networks", 1, "number of networks to simulate")
	f.Int32Var(&cfg.Density, "density", 2, "network density")
	f.Int32Var(&cfg.IterationLimit, "iterations", 100, "iteration limit")
	f.Float32Var(&cfg.StopThreshold, "stop-threshold", 0.0001, "belief change below which the run stops")
	f.Float32Var(&cfg.ThresholdValue, "threshold", 0.5, "threshold strategy value")
	f.Float32Var(&cfg.ConfidenceThresholdValue, "confidence", 0.5, "confidence strategy value")
	f.Int32Var(&cfg.OpenMindedness, "open-mindedness", 10, "open-mindedness")
	f.Uint8Var(&saveMode, "save-mode", uint8(models.SaveModeStandard), "server save mode")
	f.Int64Var(&seed, "seed", 0, "random seed (unset for a random run)")
	return cmd
}

func newSubmitCustomCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "custom <network.json>",
		Short: "Submit a hand-built network described in a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var cfg models.CustomNetworkConfig
			if err := json.Unmarshal(raw, &cfg); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			client, closeFn, err := newSubmitClient(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			channel, err := client.SubmitCustom(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), channel)
			return nil
		},
	}
}

// newSubmitClient wires a submit client to the configured store, so a
// valkey backend shares the new channel id with a running server.
func newSubmitClient(cmd *cobra.Command) (*submit.Client, func(), error) {
	cfg, logger, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	store, err := openStore(cmd.Context(), cfg.Storage, logger)
	if err != nil {
		return nil, nil, err
	}
	client := submit.New(cfg.Submit.BaseURL, cfg.Submit.Timeout, store, logger, nil)
	return client, func() { _ = store.Close() }, nil
}
