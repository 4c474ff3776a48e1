package main

import (
	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/lattice-intel/cdrscope/internal/analytics"
)

var trendGranularity string

var trendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Show session activity over time",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("query"); err != nil {
			return err
		}
		granularity, ok := analytics.ParseGranularity(trendGranularity)
		if !ok {
			return eris.Errorf("unknown granularity %q (hourly, daily, weekly, monthly)", trendGranularity)
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

		points, err := analytics.New(st).Trend(ctx, window, granularity)
		if err != nil {
			return err
		}

		p := message.NewPrinter(language.English)
		for _, point := range points {
			p.Fprintf(cmd.OutOrStdout(), "%-16s  %6d records  %4d suspicious  %10s\n",
				point.Label, point.Records, point.Suspicious, humanize.Bytes(uint64(point.VolumeBytes)))
		}
		return nil
	},
}

func init() {
	trendCmd.Flags().StringVar(&trendGranularity, "granularity", "daily", "bucket size: hourly, daily, weekly, monthly")
	trendCmd.Flags().StringVar(&queryFrom, "from", "", "window start (RFC3339)")
	trendCmd.Flags().StringVar(&queryTo, "to", "", "window end (RFC3339)")
	rootCmd.AddCommand(trendCmd)
}
