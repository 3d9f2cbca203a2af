package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fjod/go_shop/internal/config"
	"github.com/fjod/go_shop/internal/repository"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			setupLogger(cfg)

			creds, err := credentials(cfg)
			if err != nil {
				return err
			}
			repo, err := repository.NewRepository(creds)
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := repo.RunMigrations(creds); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}
