package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lattice-intel/cdrscope/internal/casefile"
)

var caseActor string

var casesCmd = &cobra.Command{
	Use:   "cases",
	Short: "Manage case associations for anomaly events",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("query"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := casefile.New(st).ActiveCount(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d open cases\n", n)
		return nil
	},
}

var caseOpenCmd = &cobra.Command{
	Use:   "open <title>",
	Short: "Open a new case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("query"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		actor := caseActor
		if actor == "" {
			actor = cfg.Ingest.Actor
		}
		c, err := casefile.New(st).Open(ctx, args[0], actor)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "opened case %s: %s\n", c.ID, c.Title)
		return nil
	},
}

var caseAttachCmd = &cobra.Command{
	Use:   "attach <case-id> <event-id>",
	Short: "Attach an anomaly event to a case",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("query"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := casefile.New(st).Attach(ctx, args[1], args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "attached event %s to case %s\n", args[1], args[0])
		return nil
	},
}

func init() {
	caseOpenCmd.Flags().StringVar(&caseActor, "actor", "", "actor recorded on the case (defaults to ingest.actor)")
	casesCmd.AddCommand(caseOpenCmd)
	casesCmd.AddCommand(caseAttachCmd)
	rootCmd.AddCommand(casesCmd)
}
