package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/lattice-intel/cdrscope/internal/analytics"
	"github.com/lattice-intel/cdrscope/internal/model"
)

var anomaliesCmd = &cobra.Command{
	Use:   "anomalies",
	Short: "Show the anomaly report for a window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("query"); err != nil {
			return err
		}
		window, err := queryWindow()
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		report, err := analytics.New(st).Anomalies(ctx, window)
		if err != nil {
			return err
		}

		p := message.NewPrinter(language.English)
		out := cmd.OutOrStdout()
		p.Fprintf(out, "%d events\n", report.Total)
		for _, stat := range report.ByReason {
			p.Fprintf(out, "  %-28s %5d  mean risk %6.2f\n", stat.Code, stat.Count, stat.MeanRisk)
		}
		for _, status := range model.AnomalyStatuses {
			if n := report.ByStatus[status]; n > 0 {
				p.Fprintf(out, "  status %-21s %5d\n", status, n)
			}
		}
		for _, subject := range report.TopSubjects {
			p.Fprintf(out, "  subject %-15s %5d events  mean risk %6.2f\n",
				subject.SubscriberNumber, subject.Events, subject.MeanRisk)
		}
		return nil
	},
}

var anomalyStatusCmd = &cobra.Command{
	Use:   "set-status <event-id> <status>",
	Short: "Apply a case-workflow transition to an anomaly event",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("query"); err != nil {
			return err
		}

		var status model.AnomalyStatus
		for _, s := range model.AnomalyStatuses {
			if string(s) == args[1] {
				status = s
			}
		}
		if status == "" {
			return eris.Errorf("unknown status %q", args[1])
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.UpdateEventStatus(ctx, args[0], status); err != nil {
			return err
		}

		zap.L().Info("event status updated",
			zap.String("event_id", args[0]),
			zap.String("status", string(status)),
		)
		return nil
	},
}

func init() {
	anomaliesCmd.Flags().StringVar(&queryFrom, "from", "", "window start (RFC3339)")
	anomaliesCmd.Flags().StringVar(&queryTo, "to", "", "window end (RFC3339)")
	anomaliesCmd.AddCommand(anomalyStatusCmd)
	rootCmd.AddCommand(anomaliesCmd)
}
