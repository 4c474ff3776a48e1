package main

import (
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/lattice-intel/cdrscope/internal/analytics"
)

var topLimit int

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Rank subscribers by risk-weighted activity",
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

		ranked, err := analytics.New(st).TopCommunicators(ctx, window, topLimit)
		if err != nil {
			return err
		}

		p := message.NewPrinter(language.English)
		for i, c := range ranked {
			p.Fprintf(cmd.OutOrStdout(), "%2d. %-15s  risk %7.2f  %5d sessions (%d suspicious)  %3d counterparts  %10s  %s to %s\n",
				i+1, c.SubscriberNumber, c.RiskScore, c.Sessions, c.SuspiciousSessions,
				c.DistinctCounterparts, humanize.Bytes(uint64(c.VolumeBytes)),
				c.FirstSeen.Format("2006-01-02"), c.LastSeen.Format("2006-01-02"))
		}
		return nil
	},
}

func init() {
	topCmd.Flags().IntVar(&topLimit, "limit", 0, "subscribers to list (default 10)")
	topCmd.Flags().StringVar(&queryFrom, "from", "", "window start (RFC3339)")
	topCmd.Flags().StringVar(&queryTo, "to", "", "window end (RFC3339)")
	rootCmd.AddCommand(topCmd)
}
