package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"gridreg/pkg/domain"
)

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "Submit and manage datasets",
}

var (
	datasetLogMessage   string
	datasetProjectID    string
	datasetMappingsFile string
)

var datasetsSubmitCmd = &cobra.Command{
	Use:   "submit <config-file>",
	Short: "Submit a dataset to a project",
	Long: `Submit a dataset to a project from a JSON or YAML config file. The dataset
must be declared by the project, and its dimensions must be compatible with
the project's base dimensions. Where the dataset uses a different dimension
of the same type, supply a mapping reference file with --mappings listing the
dimension mappings that reconcile them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var config domain.DatasetConfig
		if err := loadInto(args[0], &config); err != nil {
			return err
		}
		var mappingRefs []domain.DimensionMappingReference
		if datasetMappingsFile != "" {
			if err := loadInto(datasetMappingsFile, &mappingRefs); err != nil {
				return err
			}
		}
		sess, err := newSession(cmd.Context(), true)
		if err != nil {
			return err
		}
		reg, err := sess.svc.Projects().SubmitDataset(cmd.Context(), datasetProjectID, config, mappingRefs, submitter, datasetLogMessage)
		if err != nil {
			return err
		}
		fmt.Printf("submitted dataset %s at %s to project %s\n", reg.ID, reg.Version, datasetProjectID)
		return nil
	},
}

var (
	datasetUpdateType string
	datasetDryRun     bool
)

var datasetsUpdateCmd = &cobra.Command{
	Use:   "update <config-file>",
	Short: "Update a dataset to a new version",
	Long: `Update a submitted dataset from a modified config file. Projects keep their
pinned submission version until the dataset is resubmitted.

--dry-run previews the changed fields and a text diff without writing.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var config domain.DatasetConfig
		if err := loadInto(args[0], &config); err != nil {
			return err
		}
		sess, err := newSession(cmd.Context(), true)
		if err != nil {
			return err
		}
		if datasetDryRun {
			preview, err := sess.svc.Datasets().PreviewUpdate(cmd.Context(), config)
			if err != nil {
				return err
			}
			if len(preview.ChangedFields) == 0 {
				fmt.Println("no changes")
				return nil
			}
			fmt.Printf("changed fields: %s\n", strings.Join(preview.ChangedFields, ", "))
			fmt.Print(preview.Diff)
			return nil
		}
		updateType, err := parseUpdateTypeFlag(datasetUpdateType)
		if err != nil {
			return err
		}
		reg, err := sess.svc.Datasets().Update(cmd.Context(), config, submitter, updateType, datasetLogMessage)
		if err != nil {
			return err
		}
		fmt.Printf("updated dataset %s to %s\n", reg.ID, reg.Version)
		return nil
	},
}

var datasetsRemoveCmd = &cobra.Command{
	Use:   "remove <dataset-id>",
	Short: "Remove a dataset and reset its submissions",
	Long: `Remove a dataset and all its versions. Every mutable project that pinned the
dataset has its submission slot reset and must resubmit.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession(cmd.Context(), true)
		if err != nil {
			return err
		}
		resetIDs, err := sess.svc.Datasets().Remove(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("removed dataset %s\n", args[0])
		if len(resetIDs) > 0 {
			fmt.Printf("reset submissions in: %s\n", strings.Join(resetIDs, ", "))
		}
		return nil
	},
}

var datasetsListJSON bool

var datasetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered datasets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession(cmd.Context(), true)
		if err != nil {
			return err
		}
		entries := sess.svc.Datasets().List()
		if datasetsListJSON {
			return printJSON(entries)
		}
		renderEntries(os.Stdout, domain.EntityDataset, entries)
		return nil
	},
}

func init() {
	datasetsSubmitCmd.Flags().StringVarP(&datasetProjectID, "project", "p", "", "project the dataset is submitted to")
	_ = datasetsSubmitCmd.MarkFlagRequired("project")
	datasetsSubmitCmd.Flags().StringVarP(&datasetMappingsFile, "mappings", "m", "", "file listing dimension mapping references")
	datasetsSubmitCmd.Flags().StringVarP(&datasetLogMessage, "log-message", "l", "", "reason for the submission")
	_ = datasetsSubmitCmd.MarkFlagRequired("log-message")
	datasetsUpdateCmd.Flags().StringVarP(&datasetLogMessage, "log-message", "l", "", "reason for the update (required unless --dry-run)")
	datasetsUpdateCmd.Flags().StringVarP(&datasetUpdateType, "update-type", "t", "patch", "version bump: major, minor, or patch")
	datasetsUpdateCmd.Flags().BoolVar(&datasetDryRun, "dry-run", false, "preview changes without writing")
	datasetsListCmd.Flags().BoolVar(&datasetsListJSON, "json", false, "emit JSON instead of a table")
	datasetsCmd.AddCommand(datasetsSubmitCmd, datasetsUpdateCmd, datasetsRemoveCmd, datasetsListCmd)
	rootCmd.AddCommand(datasetsCmd)
}
