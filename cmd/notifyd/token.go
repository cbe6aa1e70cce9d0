package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/practiceflow/notify-engine/internal/transport"
)

func newTriggerTokenCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "trigger-token",
		Short: "Print a bearer token for the reprocessing trigger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadRuntime()
			if err != nil {
				return err
			}

			token, err := transport.IssueTriggerToken([]byte(cfg.TriggerSecret), ttl, time.Now())
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
