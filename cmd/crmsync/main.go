package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/crmsync/internal/app"
	"github.com/dmitrijs2005/crmsync/internal/config"
	"github.com/dmitrijs2005/crmsync/internal/logging"
	"github.com/dmitrijs2005/crmsync/internal/syncengine"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "crmsync",
		Short:         "Keep a local relational store in sync with the CRM",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := config.BindFlags(root.PersistentFlags())

	open := func(cmd *cobra.Command) (*app.App, error) {
		cfg, err := config.Load(flags)
		if err != nil {
			return nil, err
		}
		logger := logging.NewLogger(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
		return app.New(cmd.Context(), cfg, logger)
	}

	root.AddCommand(
		newServeCmd(open),
		newSyncCmd(open),
		newEvolveCmd(open),
		newReconcileCmd(open),
		newLocksCmd(open),
	)
	return root
}

type opener func(cmd *cobra.Command) (*app.App, error)

func newServeCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync scheduler and the health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			a.Run(cmd.Context())
			return nil
		},
	}
}

func newSyncCmd(open opener) *cobra.Command {
	var full, resume bool
	cmd := &cobra.Command{
		Use:   "sync <objectType>",
		Short: "Run one sync of an object type",
		Long: `Run one sync of an object type.

Without --full only records modified since the last completed run are
fetched. With --full every record is fetched in id order; --resume picks up
an interrupted full sync at its checkpoint.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if resume && !full {
				return fmt.Errorf("--resume requires --full")
			}
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var res *syncengine.Result
			if full {
				res, err = a.Engine().RunFull(cmd.Context(), args[0], syncengine.FullOptions{Resume: resume})
			} else {
				res, err = a.Engine().RunIncremental(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "fetch every record instead of changes since the watermark")
	cmd.Flags().BoolVar(&resume, "resume", false, "continue an interrupted full sync")
	return cmd
}

func newEvolveCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "evolve <objectType>",
		Short: "Compare remote and local fields and add missing columns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Evolver().CompareAndEvolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func newReconcileCmd(open opener) *cobra.Command {
	var direction string
	cmd := &cobra.Command{
		Use:   "reconcile <objectType>",
		Short: "Push queued local edits and pull remote changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch direction {
			case "push", "pull", "both":
			default:
				return fmt.Errorf("unknown direction %q", direction)
			}
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			out := map[string]any{}
			if direction != "pull" {
				res, err := a.Reconciler().SyncLocalToRemote(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out["push"] = res
			}
			if direction != "push" {
				res, err := a.Reconciler().SyncRemoteToLocal(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out["pull"] = res
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&direction, "direction", "both", "push, pull or both")
	return cmd
}

func newLocksCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "Inspect and clean up edit locks",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "cleanup",
			Short: "Mark expired locks as expired",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := open(cmd)
				if err != nil {
					return err
				}
				defer a.Close()

				n, err := a.Locks().CleanupExpiredLocks(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]int64{"expired": n})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List active locks",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := open(cmd)
				if err != nil {
					return err
				}
				defer a.Close()

				active, err := a.Locks().ActiveLocks(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, active)
			},
		},
	)
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
