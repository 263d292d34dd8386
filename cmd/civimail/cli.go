package main

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/civimail/civimail/internal/config"
	"github.com/civimail/civimail/internal/db"
	"github.com/civimail/civimail/internal/version"
)

// Process exit codes. 2-4 are part of the operator contract.
const (
	exitOK      = 0
	exitError   = 1
	exitConfig  = 2
	exitStorage = 3
	exitSMTP    = 4
)

// codedError carries an exit code up through cobra.
type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

func exitErr(code int, err error) error { return &codedError{code: code, err: err} }

// probeAddr is swapped out in tests so the startup SMTP check needs no
// network.
var probeAddr = func(addr string) error {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return err
	}
	return conn.Close()
}

func run(args []string) int {
	_ = godotenv.Load()

	root := newRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		var coded *codedError
		if errors.As(err, &coded) {
			fmt.Fprintf(os.Stderr, "civimail: %v\n", coded.err)
			return coded.code
		}
		return exitError
	}
	return exitOK
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "civimail",
		Short:         "Scheduled, templated bulk-email dispatcher",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, cfgPath)
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default ./civimail.yaml)")

	root.AddCommand(newMigrateCmd(&cfgPath))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	})
	return root
}

func newMigrateCmd(cfgPath *string) *cobra.Command {
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
	}
	withDB := func(f func(database *sql.DB) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return exitErr(exitConfig, err)
			}
			database, err := db.Open(cfg.DatabasePath)
			if err != nil {
				return exitErr(exitStorage, err)
			}
			defer database.Close()
			if err := f(database); err != nil {
				return exitErr(exitStorage, err)
			}
			return nil
		}
	}
	migrate.AddCommand(
		&cobra.Command{Use: "up", Short: "Apply all pending migrations", RunE: withDB(db.Migrate)},
		&cobra.Command{Use: "down", Short: "Roll back one migration", RunE: withDB(db.Down)},
		&cobra.Command{Use: "status", Short: "Show migration status", RunE: withDB(db.Status)},
	)
	return migrate
}
