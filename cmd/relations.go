package main

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/lattice-intel/cdrscope/internal/relate"
)

var (
	relationsDepth int
	relationsLimit int
)

var relationsCmd = &cobra.Command{
	Use:   "relations <subscriber-number>",
	Short: "Show the relationship graph for a subscriber",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		depth := relationsDepth
		if depth == 0 {
			depth = cfg.Relate.Depth
		}
		limit := relationsLimit
		if limit == 0 {
			limit = cfg.Relate.EdgeLimit
		}

		graph, err := relate.NewBuilder(st).Build(ctx, args[0], relate.Options{
			From:        window.From,
			To:          window.To,
			Depth:       depth,
			Limit:       limit,
			BPartyLimit: cfg.Relate.BPartyLimit,
		})
		if err != nil {
			return err
		}

		p := message.NewPrinter(language.English)
		out := cmd.OutOrStdout()
		p.Fprintf(out, "subject %s (depth %d, %d edges)\n", graph.Subject, graph.Depth, len(graph.Edges))
		for _, edge := range graph.Edges {
			indent := strings.Repeat("  ", edge.Depth)
			flag := " "
			if edge.SuspiciousObserved {
				flag = "!"
			}
			p.Fprintf(out, "%s%s %s -> %-15s  %-6s x%d  %s",
				indent, flag, edge.Subject, edge.Counterpart, edge.StrengthTier,
				edge.Frequency, humanize.Bytes(uint64(edge.TotalVolume)))
			if len(edge.BParties) > 0 {
				p.Fprintf(out, "  b-parties: %s", strings.Join(edge.BParties, ", "))
			}
			p.Fprintf(out, "\n")
		}
		return nil
	},
}

func init() {
	relationsCmd.Flags().IntVar(&relationsDepth, "depth", 0, "expansion depth 1-3 (default from config)")
	relationsCmd.Flags().IntVar(&relationsLimit, "limit", 0, "edges per subject (default from config)")
	relationsCmd.Flags().StringVar(&queryFrom, "from", "", "window start (RFC3339)")
	relationsCmd.Flags().StringVar(&queryTo, "to", "", "window end (RFC3339)")
	rootCmd.AddCommand(relationsCmd)
}
