package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gamassss/edgelink/internal/logger"
	"github.com/gamassss/edgelink/internal/repository/postgres"
	redisrepo "github.com/gamassss/edgelink/internal/repository/redis"
	"github.com/gamassss/edgelink/internal/webhook"
	"github.com/spf13/cobra"
)

// dispatchCmd runs only the webhook dispatcher, for deployments that
// scale delivery separately from the redirect path. Several dispatchers
// may share one queue.
var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run the webhook delivery worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		dbPool, err := setupDatabase(ctx, cfg)
		if err != nil {
			return fmt.Errorf("setup database: %w", err)
		}
		defer dbPool.Close()

		redisClient, err := setupRedis(ctx, cfg)
		if err != nil {
			return fmt.Errorf("setup redis: %w", err)
		}
		defer redisClient.Close()

		queue := redisrepo.NewDeliveryQueue(redisClient)
		if pending, err := queue.Pending(ctx); err == nil {
			logger.Get().Info("Pending webhook deliveries", "count", pending)
		}

		dispatcher := webhook.NewDispatcher(queue, postgres.NewWebhookRepository(dbPool), cfg.Webhook)
		return dispatcher.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(dispatchCmd)
}
