package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hackgods/slot-booking/internal/db"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dsn string

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply or inspect the slot booking schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dsn, "dsn", os.Getenv("POSTGRES_DSN"), "Postgres connection string (defaults to POSTGRES_DSN)")

	withMigrator := func(fn func(m *db.Migrator, args []string) error) func(*cobra.Command, []string) error {
		return func(_ *cobra.Command, args []string) error {
			if dsn == "" {
				return fmt.Errorf("POSTGRES_DSN or --dsn is required")
			}
			m, err := db.NewMigrator(dsn)
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()
			return fn(m, args)
		}
	}

	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(m *db.Migrator, _ []string) error {
			if err := m.Up(); err != nil {
				return err
			}
			fmt.Println("migrations complete")
			return nil
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default 1 step)",
		Args:  cobra.MaximumNArgs(1),
		RunE: withMigrator(func(m *db.Migrator, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid steps %q: %w", args[0], err)
				}
				steps = n
			}
			if err := m.Down(steps); err != nil {
				return err
			}
			fmt.Printf("rolled back %d migration(s)\n", steps)
			return nil
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Mark the schema as being at version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: withMigrator(func(m *db.Migrator, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			if err := m.Force(v); err != nil {
				return fmt.Errorf("force version: %w", err)
			}
			fmt.Printf("forced version to %d\n", v)
			return nil
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(m *db.Migrator, _ []string) error {
			v, dirty, err := m.Version()
			if err != nil {
				return fmt.Errorf("read version: %w", err)
			}
			fmt.Printf("version=%d dirty=%t\n", v, dirty)
			return nil
		}),
	})

	return root
}
