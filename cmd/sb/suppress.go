package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/carrier"
)

func newSuppressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suppress",
		Short: "Manage the SMS do-not-contact list",
	}

	cmd.AddCommand(newSuppressActionCmd("add", "Add a number to the do-not-contact list"))
	cmd.AddCommand(newSuppressActionCmd("remove", "Remove a number from the do-not-contact list"))
	cmd.AddCommand(newSuppressActionCmd("check", "Report whether a number is suppressed"))
	return cmd
}

func newSuppressActionCmd(action, short string) *cobra.Command {
	var (
		configPath string
		reason     string
	)

	cmd := &cobra.Command{
		Use:   action + " <e164>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			phone := args[0]
			if !carrier.ValidE164(phone) {
				return fmt.Errorf("%q is not an E.164 number", phone)
			}
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

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			switch action {
			case "add":
				if err := st.rec.Suppress(ctx, phone, reason); err != nil {
					return err
				}
				fmt.Fprintf(out, "Suppressed %s\n", phone)
			case "remove":
				if err := st.rec.Unsuppress(ctx, phone); err != nil {
					return err
				}
				fmt.Fprintf(out, "Removed %s from the do-not-contact list\n", phone)
			case "check":
				ok, err := st.rec.Suppressed(ctx, phone)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s suppressed: %t\n", phone, ok)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to Switchboard config file")
	if action == "add" {
		cmd.Flags().StringVar(&reason, "reason", "manual", "why the number is suppressed")
	}
	return cmd
}
