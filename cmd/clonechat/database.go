package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInitDatabaseCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init-database",
		Short: "Create the task tables",
		Long: `Provision the task store schema. Every command does this on startup,
so init-database is only needed to verify connectivity or set up a
shared PostgreSQL database ahead of time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, g)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if a.cfg.Database.URL != "" {
				fmt.Println("task tables ready (postgres)")
			} else {
				fmt.Printf("task tables ready (%s)\n", a.cfg.Database.Path)
			}
			return nil
		},
	}
	return cmd
}
