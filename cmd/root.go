package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "coldpipe",
	Short: "Coldpipe archives high-velocity rows out of a hot analytical store.",
	Long: `Coldpipe runs the export-and-purge lifecycle: it marks unexported rows,
exports the marked batch to cold storage, and deletes exactly that batch
from the hot store. Every entry point defaults to dry-run mode.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
