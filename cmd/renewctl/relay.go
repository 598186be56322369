package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fieldflow/db"
	"fieldflow/outbox"
)

func relayCmd(opts *rootOptions) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Publish pending outbox messages to the Redis stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := bootstrap(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.Close()

			rdb, err := db.NewRedis(cmd.Context(), e.cfg.Redis)
			if err != nil {
				return err
			}
			defer rdb.Close()

			relay := outbox.NewRelay(e.pool, outbox.NewStore(), outbox.NewRedisPublisher(rdb, e.cfg.Outbox.Stream),
				e.logger, e.cfg.Outbox.BatchSize, e.cfg.Outbox.MaxAttempts)

			if once {
				n, err := relay.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "delivered %d outbox messages to %s\n", n, e.cfg.Outbox.Stream)
				return nil
			}
			return relay.Start(cmd.Context(), e.cfg.Outbox.Interval)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "relay a single batch and exit")
	return cmd
}
