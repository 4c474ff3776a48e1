package main

import (
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/lattice-intel/cdrscope/internal/analytics"
	"github.com/lattice-intel/cdrscope/internal/model"
)

var dashboardRecent int

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show the summary dashboard for a window",
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

		d, err := analytics.New(st).Dashboard(ctx, window, dashboardRecent)
		if err != nil {
			return err
		}

		p := message.NewPrinter(language.English)
		out := cmd.OutOrStdout()
		p.Fprintf(out, "window        %s .. %s\n", d.Window.From.Format("2006-01-02"), d.Window.To.Format("2006-01-02"))
		p.Fprintf(out, "records       %d (%d suspicious)\n", d.TotalRecords, d.SuspiciousRecords)
		p.Fprintf(out, "volume        %s\n", d.TotalVolume)
		p.Fprintf(out, "subscribers   %d\n", d.DistinctSubscribers)
		p.Fprintf(out, "addresses     %d\n", d.DistinctAddresses)
		for _, at := range model.AccessTypes {
			if n := d.ByAccessType[at]; n > 0 {
				p.Fprintf(out, "  %-4s        %d\n", at, n)
			}
		}
		p.Fprintf(out, "anomalies     %d open\n", d.OpenAnomalies)
		p.Fprintf(out, "cases         %d open\n", d.OpenCases)
		for _, rec := range d.Recent {
			p.Fprintf(out, "recent  %s  %s -> %s\n",
				rec.StartTime.Format("2006-01-02 15:04"), rec.SubscriberNumber, rec.DestAddress)
		}
		return nil
	},
}

func init() {
	dashboardCmd.Flags().StringVar(&queryFrom, "from", "", "window start (RFC3339)")
	dashboardCmd.Flags().StringVar(&queryTo, "to", "", "window end (RFC3339)")
	dashboardCmd.Flags().IntVar(&dashboardRecent, "recent", 0, "recent records to list")
	rootCmd.AddCommand(dashboardCmd)
}
