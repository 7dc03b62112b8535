package main

import (
	"fmt"

	"chatwave/service/storage/pg"

	"github.com/spf13/cobra"
)

// NewSyncPresenceCmd flushes the presence cache once; meant for cron, the
// exit status tells whether the flush was acknowledged.
func NewSyncPresenceCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-presence",
		Short: "Flush cached last-seen timestamps into durable storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := load()
			if err != nil {
				return err
			}
			rt := NewRuntime(conf)
			defer rt.Close()
			if err := rt.OpenStorage(cmd.Context()); err != nil {
				return err
			}
			res, err := rt.Reconciler.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "flushed %d users in %s\n", res.Flushed, res.Duration)
			return nil
		},
	}
}

func NewInstallTriggersCmd(load configLoader) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "install-triggers",
		Short: "Create or replace the change-notification triggers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := load()
			if err != nil {
				return err
			}
			if dryRun {
				for _, stmt := range pg.TriggerSQL(conf.Postgres.Schema) {
					fmt.Fprintln(cmd.OutOrStdout(), stmt+";")
				}
				return nil
			}
			if conf.Storage.Driver != "postgres" {
				return fmt.Errorf("install-triggers needs storage driver postgres, have %q", conf.Storage.Driver)
			}
			pool, err := pg.NewPool(cmd.Context(), conf.Postgres)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := pg.InstallTriggers(cmd.Context(), pool, conf.Postgres.Schema); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "triggers installed in schema %s\n", conf.Postgres.Schema)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the SQL instead of executing it")
	return cmd
}
