package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"gridreg/pkg/domain"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Register and manage projects",
}

var projectLogMessage string

var projectsRegisterCmd = &cobra.Command{
	Use:   "register <config-file>",
	Short: "Register a new project",
	Long: `Register a new project from a JSON or YAML config file. Every dimension and
mapping the config references must already be registered; references are
pinned to exact versions at registration time.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var config domain.ProjectConfig
		if err := loadInto(args[0], &config); err != nil {
			return err
		}
		sess, err := newSession(cmd.Context(), true)
		if err != nil {
			return err
		}
		reg, err := sess.svc.Projects().Register(cmd.Context(), config, submitter, projectLogMessage)
		if err != nil {
			return err
		}
		fmt.Printf("registered project %s at %s\n", reg.ID, reg.Version)
		return nil
	},
}

var (
	projectUpdateType string
	projectDryRun     bool
)

var projectsUpdateCmd = &cobra.Command{
	Use:   "update <config-file>",
	Short: "Update a project to a new version",
	Long: `Update a registered project from a modified config file. The update type
decides the version bump. Changes to dimensions or dimension mappings cascade:
every registered dataset submission is reset and must be resubmitted.

--dry-run previews the changed fields and a text diff without writing.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var config domain.ProjectConfig
		if err := loadInto(args[0], &config); err != nil {
			return err
		}
		sess, err := newSession(cmd.Context(), true)
		if err != nil {
			return err
		}
		if projectDryRun {
			preview, err := sess.svc.Projects().PreviewUpdate(cmd.Context(), config)
			if err != nil {
				return err
			}
			if len(preview.ChangedFields) == 0 {
				fmt.Println("no changes")
				return nil
			}
			fmt.Printf("changed fields: %s\n", strings.Join(preview.ChangedFields, ", "))
			if preview.Cascades {
				fmt.Println("update cascades: registered dataset submissions will be reset")
			}
			fmt.Print(preview.Diff)
			return nil
		}
		updateType, err := parseUpdateTypeFlag(projectUpdateType)
		if err != nil {
			return err
		}
		reg, err := sess.svc.Projects().Update(cmd.Context(), config, submitter, updateType, projectLogMessage)
		if err != nil {
			return err
		}
		fmt.Printf("updated project %s to %s\n", reg.ID, reg.Version)
		return nil
	},
}

var projectsPublishCmd = &cobra.Command{
	Use:   "publish <project-id>",
	Short: "Publish a complete project",
	Long: `Publish a project whose declared dataset slots are all registered. Published
projects accept no further dataset submissions.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession(cmd.Context(), true)
		if err != nil {
			return err
		}
		if err := sess.svc.Projects().Publish(cmd.Context(), args[0], submitter); err != nil {
			return err
		}
		fmt.Printf("published project %s\n", args[0])
		return nil
	},
}

var projectsDeprecateCmd = &cobra.Command{
	Use:   "deprecate <project-id>",
	Short: "Deprecate a project",
	Long:  `Deprecate a project. Deprecated projects are frozen: no updates, submissions, or status changes.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession(cmd.Context(), true)
		if err != nil {
			return err
		}
		if err := sess.svc.Projects().Deprecate(cmd.Context(), args[0], submitter); err != nil {
			return err
		}
		fmt.Printf("deprecated project %s\n", args[0])
		return nil
	},
}

var projectsRemoveCmd = &cobra.Command{
	Use:   "remove <project-id>",
	Short: "Remove a project and all its versions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession(cmd.Context(), true)
		if err != nil {
			return err
		}
		if err := sess.svc.Projects().Remove(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("removed project %s\n", args[0])
		return nil
	},
}

var projectsListJSON bool

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession(cmd.Context(), true)
		if err != nil {
			return err
		}
		entries := sess.svc.Projects().List()
		if projectsListJSON {
			return printJSON(entries)
		}
		renderEntries(os.Stdout, domain.EntityProject, entries)
		return nil
	},
}

func init() {
	projectsRegisterCmd.Flags().StringVarP(&projectLogMessage, "log-message", "l", "", "reason for the registration")
	_ = projectsRegisterCmd.MarkFlagRequired("log-message")
	projectsUpdateCmd.Flags().StringVarP(&projectLogMessage, "log-message", "l", "", "reason for the update (required unless --dry-run)")
	projectsUpdateCmd.Flags().StringVarP(&projectUpdateType, "update-type", "t", "patch", "version bump: major, minor, or patch")
	projectsUpdateCmd.Flags().BoolVar(&projectDryRun, "dry-run", false, "preview changes without writing")
	projectsListCmd.Flags().BoolVar(&projectsListJSON, "json", false, "emit JSON instead of a table")
	projectsCmd.AddCommand(projectsRegisterCmd, projectsUpdateCmd, projectsPublishCmd,
		projectsDeprecateCmd, projectsRemoveCmd, projectsListCmd)
	rootCmd.AddCommand(projectsCmd)
}
