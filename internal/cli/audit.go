package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/harun/warden/internal/observability"
	"github.com/spf13/cobra"
)

var errNoAuditStore = errors.New("audit store is not configured (audit.sqlite_path)")

func newAuditCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query recorded authorization decisions",
	}

	var limit int
	recentCmd := &cobra.Command{
		Use:   "recent",
		Short: "List the most recent decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuditStore(cmd, global, func(store *observability.SQLiteStore) error {
				recs, err := store.Recent(cmd.Context(), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if global.jsonOut {
					return printJSON(out, recs)
				}
				for _, r := range recs {
					decision := "allow"
					if !r.Allowed {
						decision = "deny@" + string(r.Stage)
					}
					fmt.Fprintf(out, "%s  %-20s %-16s %-18s %s\n",
						r.Timestamp.Format(time.RFC3339), r.PluginID, decision, r.Tier, r.Reason)
				}
				return nil
			})
		},
	}
	recentCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records to show")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Count decisions by stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuditStore(cmd, global, func(store *observability.SQLiteStore) error {
				counts, err := store.StageCounts(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if global.jsonOut {
					return printJSON(out, counts)
				}
				for _, c := range counts {
					fmt.Fprintf(out, "%-12s allowed=%-5t %d\n", c.Stage, c.Allowed, c.Count)
				}
				return nil
			})
		},
	}

	var olderThan int
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete decisions older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuditStore(cmd, global, func(store *observability.SQLiteStore) error {
				days := olderThan
				if days <= 0 {
					return fmt.Errorf("--older-than must be positive, got %d", days)
				}
				n, err := store.Prune(cmd.Context(), time.Now().AddDate(0, 0, -days))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d records\n", n)
				return nil
			})
		},
	}
	pruneCmd.Flags().IntVar(&olderThan, "older-than", 30, "age in days")

	cmd.AddCommand(recentCmd, statsCmd, pruneCmd)
	return cmd
}

func withAuditStore(cmd *cobra.Command, global *globalOptions, fn func(*observability.SQLiteStore) error) error {
	cfg, err := loadConfig(global.cfgFile)
	if err != nil {
		return err
	}
	if cfg.Audit.SQLitePath == "" {
		return errNoAuditStore
	}

	lg, err := newLogger(cfg, global.logLevel, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer lg.Close()

	store, err := observability.OpenSQLiteStore(cfg.Audit.SQLitePath)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(store)
}
