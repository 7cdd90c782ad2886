/*
Copyright © 2024 Dean
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	jobctrl "rageval/src/infrastructure/job"
	"rageval/src/log"
	"rageval/src/storage/postgres/accuracyctrl"
	"rageval/src/storage/postgres/datasetctrl"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().Bool("with-dataset", false, "Also create the questions and rag_answers tables")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	withDataset, _ := cmd.Flags().GetBool("with-dataset")

	db, err := openDB()
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	if err := accuracyctrl.New(db).AutoMigrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate accuracy tables: %w", err)
	}
	if err := jobctrl.NewPostgresJobRepository(db).AutoMigrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate jobs table: %w", err)
	}
	if withDataset {
		if err := datasetctrl.NewDatasetService(db).AutoMigrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate dataset tables: %w", err)
		}
	}

	log.Info("Schema migrated", "with_dataset", withDataset)
	return nil
}
