package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/streamtoken"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue and verify media stream tokens",
	}

	cmd.AddCommand(newTokenIssueCmd())
	cmd.AddCommand(newTokenVerifyCmd())
	return cmd
}

func keyringFromConfig(configPath string) (*streamtoken.Keyring, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return streamtoken.FromConfig(cfg.Stream)
}

func newTokenIssueCmd() *cobra.Command {
	var (
		configPath string
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "issue <call-sid>",
		Short: "Issue a stream token bound to a call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kr, err := keyringFromConfig(configPath)
			if err != nil {
				return err
			}
			if ttl == 0 {
				ttl = kr.TTL()
			}
			tok, err := kr.IssueTTL(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to Switchboard config file")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default stream.ttl)")
	return cmd
}

func newTokenVerifyCmd() *cobra.Command {
	var (
		configPath string
		callSid    string
	)

	cmd := &cobra.Command{
		Use:   "verify <token>",
		Short: "Verify a stream token",
		Long:  "Checks a token against every configured key. With --call, the token must also be bound to that call.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kr, err := keyringFromConfig(configPath)
			if err != nil {
				return err
			}
			res := kr.Verify(args[0])
			if callSid != "" {
				res = kr.VerifyFor(args[0], callSid)
			}
			if !res.OK {
				return fmt.Errorf("token rejected: %s", res.Reason)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "valid: call %s (key %s)\n", res.CallID, res.KeyID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to Switchboard config file")
	cmd.Flags().StringVar(&callSid, "call", "", "require the token to be bound to this call")
	return cmd
}
