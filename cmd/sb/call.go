package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/lifecycle"
	"github.com/zulandar/switchboard/internal/models"
)

func newCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Inspect call sessions",
	}

	cmd.AddCommand(newCallListCmd())
	cmd.AddCommand(newCallShowCmd())
	cmd.AddCommand(newCallReviewCmd())
	return cmd
}

func newCallListCmd() *cobra.Command {
	var (
		configPath string
		filters    lifecycle.ListFilters
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent call sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCallList(cmd, configPath, filters)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to Switchboard config file")
	cmd.Flags().StringVar(&filters.Status, "status", "", "filter by lifecycle status")
	cmd.Flags().StringVar(&filters.Category, "category", "", "filter by category")
	cmd.Flags().BoolVar(&filters.NeedsReview, "needs-review", false, "only sessions flagged for review")
	cmd.Flags().IntVar(&filters.Limit, "limit", 50, "maximum sessions to list")
	return cmd
}

func runCallList(cmd *cobra.Command, configPath string, filters lifecycle.ListFilters) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	sessions, err := lifecycle.New(gormDB, nil).List(cmd.Context(), filters)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No calls found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFROM\tSTATUS\tCATEGORY\tFLAGS\tLAST EVENT")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.From, s.Status, dash(s.Category), flags(s), s.LastEventAt.Format(time.RFC3339))
	}
	w.Flush()
	return nil
}

func newCallShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <call-sid>",
		Short: "Show a call session and its lifecycle events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCallShow(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to Switchboard config file")
	return cmd
}

func runCallShow(cmd *cobra.Command, configPath, id string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	m := lifecycle.New(gormDB, nil)
	s, err := m.Session(cmd.Context(), id)
	if err != nil {
		return err
	}
	events, err := m.Events(cmd.Context(), id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Call:      %s\n", s.ID)
	fmt.Fprintf(out, "From:      %s\n", s.From)
	fmt.Fprintf(out, "To:        %s\n", s.To)
	fmt.Fprintf(out, "Status:    %s\n", s.Status)
	fmt.Fprintf(out, "Category:  %s\n", dash(s.Category))
	fmt.Fprintf(out, "Timezone:  %s\n", dash(s.Timezone))
	fmt.Fprintf(out, "Consent:   %s\n", tristate(s.ConsentRecording))
	fmt.Fprintf(out, "Flags:     %s\n", flags(*s))
	if s.HandoffReason != nil {
		fmt.Fprintf(out, "Handoff:   %s\n", *s.HandoffReason)
	}
	if s.RecordingURL != "" {
		fmt.Fprintf(out, "Recording: %s\n", s.RecordingURL)
	}
	fmt.Fprintf(out, "Started:   %s\n", s.StartedAt.Format(time.RFC3339))
	if s.EndedAt != nil {
		fmt.Fprintf(out, "Ended:     %s\n", s.EndedAt.Format(time.RFC3339))
	}

	fmt.Fprintf(out, "\nEvents (%d):\n", len(events))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  AT\tFROM\tTO\tNOTE")
	for _, e := range events {
		note := ""
		if e.Anomalous {
			note = "anomaly: " + e.AnomalyReason
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", e.OccurredAt.Format(time.RFC3339), dash(e.FromStatus), e.Status, note)
	}
	w.Flush()
	return nil
}

func newCallReviewCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "review <call-sid>",
		Short: "Clear a session's needs-review flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			if err := lifecycle.New(gormDB, nil).ClearReview(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared review flag on %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to Switchboard config file")
	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func tristate(b *bool) string {
	switch {
	case b == nil:
		return "unknown"
	case *b:
		return "granted"
	default:
		return "declined"
	}
}

func flags(s models.CallSession) string {
	var f string
	if s.NeedsReview {
		f += "R"
	}
	if s.Handoff {
		f += "H"
	}
	return dash(f)
}
