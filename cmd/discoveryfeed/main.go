package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"DiscoveryFeed/internal/app"
	"DiscoveryFeed/internal/config"
	"DiscoveryFeed/internal/logging"
	"DiscoveryFeed/internal/usecase"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "discoveryfeed",
		Short:         "Topic discovery runs feeding consumer queues",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), discoverCmd(), sweepCmd())
	return root
}

// bootstrap loads config from DISCOVERY_FEED_CONFIG and the environment, then wires the application.
func bootstrap(ctx context.Context) (*app.Application, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := logging.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	return app.New(ctx, cfg, logger)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, feed worker and health sweep cron",
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer application.Close()
			return application.Serve(cmd.Context())
		},
	}
}

func discoverCmd() *cobra.Command {
	var req usecase.StartRequest
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Drive one discovery run to completion and print its outcome",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if req.PatchID == "" {
				return fmt.Errorf("--patch is required")
			}
			application, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer application.Close()

			outcome, err := application.Discover(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"run_id":  outcome.Run.ID,
				"status":  outcome.Run.Status,
				"outcome": outcome,
			})
		},
	}
	cmd.Flags().StringVar(&req.PatchID, "patch", "", "patch the run belongs to")
	cmd.Flags().StringVar(&req.Topic, "topic", "", "topic to plan queries for")
	cmd.Flags().StringSliceVar(&req.Seeds, "seed", nil, "extra seed URL (repeatable)")
	cmd.Flags().StringSliceVar(&req.Consumers, "consumer", nil, "consumer receiving saved items (repeatable)")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Suspend stuck runs once and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer application.Close()

			report, err := application.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
