package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/practiceflow/notify-engine/internal/domain"
)

func newGatewayStatusCmd() *cobra.Command {
	var (
		maxAge    time.Duration
		reconnect bool
	)

	cmd := &cobra.Command{
		Use:   "gateway-status",
		Short: "Print the messaging gateway connection status",
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

			var status domain.GatewayStatus
			var reconnectErr error
			if reconnect {
				status, reconnectErr = c.dispatcher.ReconnectGateway(ctx)
			} else {
				status = c.dispatcher.GatewayStatus(ctx, maxAge)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(status); err != nil {
				return err
			}
			return reconnectErr
		},
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "reuse a cached status younger than this; 0 forces a fresh check")
	cmd.Flags().BoolVar(&reconnect, "reconnect", false, "ask the gateway to re-establish its session first")
	return cmd
}
