package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	api "kyra-backend/cmd/api"
	"kyra-backend/pkg/config"
	"kyra-backend/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:          "kyra",
	Short:        "Email sync, enrichment and chat backend",
	SilenceUsage: true,
}

// bootstrap loads config and builds the logger and the handler
func bootstrap(ctx context.Context) (*config.Config, *zap.Logger, *api.Handler, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.File,
		MaxSize:     100,
		MaxBackups:  5,
		MaxAge:      30,
		Compress:    true,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	h, err := api.NewHandler(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize", zap.Error(err))
		_ = log.Sync()
		return nil, nil, nil, err
	}
	return cfg, log, h, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, h, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer log.Sync()
			defer h.Close()

			if migrate, _ := cmd.Flags().GetBool("migrate"); migrate {
				if err := h.Migrate(); err != nil {
					return err
				}
			}
			return h.Start(ctx, ":"+cfg.Server.Port)
		},
	}
	serveCmd.Flags().Bool("migrate", true, "Migrate schemas before serving")

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronization pass for a mailbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			address, _ := cmd.Flags().GetString("email")
			_, log, h, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer log.Sync()
			defer h.Close()

			res, err := h.SyncEmail(ctx, address)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account %s: fetched %d, new %d, failed %d, tasks %d, summaries %d (%s)\n",
				res.AccountID, res.Fetched, res.New, res.Failed, res.Tasks, res.Summaries, res.Duration)
			return nil
		},
	}
	syncCmd.Flags().StringP("email", "e", "", "Address of the connected mailbox (required)")
	_ = syncCmd.MarkFlagRequired("email")

	backfillCmd := &cobra.Command{
		Use:   "backfill",
		Short: "Compute embeddings for stored emails that have none",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, h, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer log.Sync()
			defer h.Close()

			n, err := h.Backfill(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "processed %d emails\n", n)
			return nil
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Enable pgvector and migrate every schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, h, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer log.Sync()
			defer h.Close()

			if err := h.Migrate(); err != nil {
				return err
			}
			log.Info("migration complete")
			return nil
		},
	}

	rootCmd.AddCommand(serveCmd, syncCmd, backfillCmd, migrateCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
