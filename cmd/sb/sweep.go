package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired idempotency records and old rate limit buckets once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg, cmd)
			if err != nil {
				return err
			}
			st, err := buildStack(cfg, gormDB, log)
			if err != nil {
				return err
			}
			defer st.close()

			rep, err := st.sweeper().Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d idempotency records and %d rate limit buckets\n",
				rep.Idempotency, rep.Counters)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to Switchboard config file")
	return cmd
}
