package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"gridreg/internal/lock"
	regsync "gridreg/internal/sync"
	"gridreg/pkg/domain"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Create, inspect, and synchronize a registry",
}

var registryCreateCmd = &cobra.Command{
	Use:   "create [path]",
	Short: "Initialize an empty registry",
	Long: `Initialize an empty registry at the given path (or --base when omitted).
A base that already holds a registry is rejected.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			cfg.Base = args[0]
		}
		sess, err := newSession(cmd.Context(), false)
		if err != nil {
			return err
		}
		if err := sess.svc.Create(cmd.Context(), submitter); err != nil {
			return err
		}
		fmt.Printf("created registry at %s\n", cfg.Base)
		return nil
	},
}

var registryListJSON bool

var registryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every registered entity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession(cmd.Context(), true)
		if err != nil {
			return err
		}
		if registryListJSON {
			return printJSON(map[string][]domain.CatalogEntry{
				"projects":           sess.svc.Projects().List(),
				"datasets":           sess.svc.Datasets().List(),
				"dimensions":         sess.svc.Dimensions().List(),
				"dimension_mappings": sess.svc.Mappings().List(),
			})
		}
		sections := []struct {
			title   string
			kind    domain.EntityKind
			entries []domain.CatalogEntry
		}{
			{"Projects", domain.EntityProject, sess.svc.Projects().List()},
			{"Datasets", domain.EntityDataset, sess.svc.Datasets().List()},
			{"Dimensions", domain.EntityDimension, sess.svc.Dimensions().List()},
			{"Dimension mappings", domain.EntityDimensionMapping, sess.svc.Mappings().List()},
		}
		for i, sec := range sections {
			if i > 0 {
				fmt.Println()
			}
			fmt.Printf("%s (%d):\n", sec.title, len(sec.entries))
			if len(sec.entries) > 0 {
				renderEntries(os.Stdout, sec.kind, sec.entries)
			}
		}
		return nil
	},
}

var registryRebuildCmd = &cobra.Command{
	Use:   "rebuild-index",
	Short: "Rebuild the catalog index from stored snapshots",
	Long: `Rebuild the derived catalog index by re-reading every entity header in the
registry base. Run this after a sync pull or any out-of-band change to the
base. Unreadable entities are skipped and reported.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession(cmd.Context(), true)
		if err != nil {
			return err
		}
		report, err := sess.svc.RebuildCatalog(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("rebuilt catalog: %d projects, %d datasets, %d dimensions, %d mappings\n",
			report.Projects, report.Datasets, report.Dimensions, report.Mappings)
		if len(report.Skipped) > 0 {
			fmt.Printf("skipped unreadable entities: %s\n", strings.Join(report.Skipped, ", "))
		}
		return nil
	},
}

var registrySyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror the registry base to or from a remote store",
	Long: `Mirror the registry base between the local store and a remote blob store.
The remote is configured through environment variables: GRIDREG_BLOB_DRIVER
selects the driver (s3|fs) and GRIDREG_S3_BUCKET / GRIDREG_FS_ROOT point at
it. Lock files are never mirrored. --offline turns both directions into
no-ops.`,
}

var syncPrune bool

var registrySyncPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Copy remote registry state into the local base",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession(cmd.Context(), false)
		if err != nil {
			return err
		}
		remote, err := openRemote(cmd.Context())
		if err != nil {
			return err
		}
		eng := regsync.New(sess.local, remote,
			regsync.WithWorkers(cfg.SyncWorkers),
			regsync.WithLogger(sess.logger),
			regsync.WithPrune(syncPrune),
			regsync.WithOffline(cfg.Offline),
		)
		report, err := eng.Pull(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("pull complete: copied %d, deleted %d, unchanged %d (%d bytes)\n",
			report.Copied, report.Deleted, report.Unchanged, report.Bytes)
		if report.Copied > 0 || report.Deleted > 0 {
			fmt.Println("run 'gridreg registry rebuild-index' to refresh the catalog")
		}
		return nil
	},
}

var registrySyncPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Publish local registry state to the remote store",
	Long: `Publish local registry state to the remote store. The push holds the remote
registry locks for its duration so remote readers never observe a half-pushed
tree.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession(cmd.Context(), true)
		if err != nil {
			return err
		}
		remote, err := openRemote(cmd.Context())
		if err != nil {
			return err
		}
		eng := regsync.New(sess.local, remote,
			regsync.WithWorkers(cfg.SyncWorkers),
			regsync.WithLogger(sess.logger),
			regsync.WithPrune(syncPrune),
			regsync.WithOffline(cfg.Offline),
			regsync.WithPushLocks(lock.NewManager(remote, submitter)),
		)
		report, err := eng.Push(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("push complete: copied %d, deleted %d, unchanged %d (%d bytes)\n",
			report.Copied, report.Deleted, report.Unchanged, report.Bytes)
		return nil
	},
}

func init() {
	registryListCmd.Flags().BoolVar(&registryListJSON, "json", false, "emit JSON instead of tables")
	registrySyncCmd.PersistentFlags().BoolVar(&syncPrune, "prune", false,
		"delete destination keys absent from the source")
	registrySyncCmd.AddCommand(registrySyncPullCmd, registrySyncPushCmd)
	registryCmd.AddCommand(registryCreateCmd, registryListCmd, registryRebuildCmd, registrySyncCmd)
	rootCmd.AddCommand(registryCmd)
}
