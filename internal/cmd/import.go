package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MeKo-Tech/crayfishmap/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var importCmd = &cobra.Command{
	Use:   "import <records.csv>",
	Short: "Load a CSV export of occurrence records into the records store",
	Long: `Import occurrence records from a World of Crayfish CSV export.

The columns WoCid, X, Y and Crayfish_scientific_name are required; Accuracy,
Status and Year_of_record are read when present. Invalid rows are reported and
skipped. A record whose WoCid is already stored replaces the old one.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().String("description", "World of Crayfish records", "Description stored with the import")
	importCmd.Flags().Int("max-errors", 20, "Number of rejected rows to log individually")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"import.description", "description"},
		{"import.max_errors", "max-errors"},
	}

	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, importCmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func runImport(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	input := args[0]
	dbPath := viper.GetString("db")

	f, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", input, err)
	}
	defer f.Close()

	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create database dir: %w", err)
		}
	}

	w, err := store.New(dbPath, store.Metadata{
		Source:      filepath.Base(input),
		Description: viper.GetString("import.description"),
		ImportedAt:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to open records store: %w", err)
	}

	logger.Info("Importing records", "input", input, "db", dbPath)

	report, err := store.ImportCSV(f, w)
	if closeErr := w.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to write records: %w", closeErr)
	}
	if err != nil {
		return err
	}

	maxErrors := viper.GetInt("import.max_errors")
	for i, rowErr := range report.Rejected {
		if i >= maxErrors {
			logger.Warn("More rows rejected", "count", len(report.Rejected)-maxErrors)
			break
		}
		logger.Warn("Rejected row", "row", rowErr.Row, "error", rowErr.Err)
	}

	logger.Info("Import complete",
		"imported", report.Imported,
		"rejected", len(report.Rejected),
		"db", dbPath,
	)
	return nil
}
