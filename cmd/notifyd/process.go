package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Run one reprocessing pass over due notifications and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := commandContext(cmd)
			defer stop()

			c, err := buildComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer c.Close()

			result, err := c.dispatcher.ProcessScheduledNotifications(ctx)
			if err != nil {
				logger.Error("processing pass failed", zap.Error(err))
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"success":   true,
				"processed": result.Processed,
				"failed":    result.Failed,
				"requeued":  result.Requeued,
				"skipped":   result.Skipped,
			})
		},
	}
}
