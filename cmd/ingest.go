package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/lattice-intel/cdrscope/internal/classify"
	"github.com/lattice-intel/cdrscope/internal/ingest"
	"github.com/lattice-intel/cdrscope/internal/normalize"
	"github.com/lattice-intel/cdrscope/internal/source"
)

var (
	ingestCSVPath  string
	ingestXLSXPath string
	ingestSheet    string
	ingestFTPURL   string
	ingestActor    string
	ingestRules    string
	ingestWorkers  int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a batch of records from CSV, XLSX, or FTP",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		rows, err := loadRows(ctx)
		if err != nil {
			return err
		}

		thresholds, err := classify.LoadRules(ingestRules)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate before ingest")
		}

		actor := ingestActor
		if actor == "" {
			actor = cfg.Ingest.Actor
		}
		workers := ingestWorkers
		if workers == 0 {
			workers = cfg.Ingest.Concurrency
		}

		pipeline := ingest.New(st, classify.New(thresholds))
		started := time.Now()
		summary, err := pipeline.Run(ctx, rows, ingest.Options{Actor: actor, Concurrency: workers})
		if err != nil {
			return err
		}

		printSummary(cmd, summary, time.Since(started))
		return nil
	},
}

// loadRows reads the batch from whichever source flag was given.
func loadRows(ctx context.Context) ([]normalize.Row, error) {
	sources := 0
	for _, set := range []bool{ingestCSVPath != "", ingestXLSXPath != "", ingestFTPURL != ""} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return nil, eris.New("exactly one of --csv, --xlsx, --ftp is required")
	}

	switch {
	case ingestCSVPath != "":
		f, err := os.Open(ingestCSVPath)
		if err != nil {
			return nil, eris.Wrapf(err, "open %s", ingestCSVPath)
		}
		defer f.Close()
		return source.ReadCSV(ctx, f, source.CSVOptions{TrimSpace: true})
	case ingestXLSXPath != "":
		return source.ReadXLSX(ingestXLSXPath, source.XLSXOptions{SheetName: ingestSheet, TrimSpace: true})
	default:
		return source.FetchCSV(ctx, ingestFTPURL, source.FTPOptions{
			User:     cfg.FTP.User,
			Password: cfg.FTP.Password,
			Timeout:  time.Duration(cfg.FTP.TimeoutSecs) * time.Second,
			CSV:      source.CSVOptions{TrimSpace: true},
		})
	}
}

func printSummary(cmd *cobra.Command, summary *ingest.Summary, elapsed time.Duration) {
	p := message.NewPrinter(language.English)
	p.Fprintf(cmd.OutOrStdout(), "processed %d rows in %s: %d created, %d rejected\n",
		summary.Processed, elapsed.Round(time.Millisecond), summary.Created, len(summary.Failures))

	for _, failure := range summary.Failures {
		p.Fprintf(cmd.OutOrStdout(), "  row %d: %s\n", failure.RowIndex, failure.Error)
	}

	zap.L().Info("ingest complete",
		zap.Int("processed", summary.Processed),
		zap.Int("created", summary.Created),
		zap.Int("rejected", len(summary.Failures)),
		zap.Duration("elapsed", elapsed),
	)
}

func init() {
	ingestCmd.Flags().StringVar(&ingestCSVPath, "csv", "", "path to CSV export")
	ingestCmd.Flags().StringVar(&ingestXLSXPath, "xlsx", "", "path to XLSX export")
	ingestCmd.Flags().StringVar(&ingestSheet, "sheet", "", "XLSX sheet name (default first sheet)")
	ingestCmd.Flags().StringVar(&ingestFTPURL, "ftp", "", "FTP URL of a CSV export")
	ingestCmd.Flags().StringVar(&ingestActor, "actor", "", "ingestion actor recorded on created records")
	ingestCmd.Flags().StringVar(&ingestRules, "rules", "", "path to YAML rule thresholds")
	ingestCmd.Flags().IntVar(&ingestWorkers, "concurrency", 0, "parallel rows (default from config)")
	rootCmd.AddCommand(ingestCmd)
}
