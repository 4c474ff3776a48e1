package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lattice-intel/cdrscope/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "cdrscope",
	Short: "Network session record analysis engine",
	Long:  "Ingests call detail records from CSV, XLSX, FTP, or the API; normalizes and classifies them; and answers dashboard, trend, relationship, and anomaly queries.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
