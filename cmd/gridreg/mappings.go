package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gridreg/pkg/domain"
)

var mappingsCmd = &cobra.Command{
	Use:   "mappings",
	Short: "Register and manage dimension mappings",
}

var mappingLogMessage string

var mappingsRegisterCmd = &cobra.Command{
	Use:   "register <config-file>",
	Short: "Register a dimension mapping",
	Long: `Register a dimension mapping from a JSON or YAML config file. Both endpoint
dimensions must already be registered; the mapping pins them at exact
versions. Records may be listed inline or loaded from a CSV file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var config domain.DimensionMappingConfig
		if err := loadInto(args[0], &config); err != nil {
			return err
		}
		sess, err := newSession(cmd.Context(), true)
		if err != nil {
			return err
		}
		reg, err := sess.svc.Mappings().Register(cmd.Context(), config, submitter, mappingLogMessage)
		if err != nil {
			return err
		}
		if reg.Duplicate {
			fmt.Printf("mapping %q already registered as %s %s\n", reg.Name, reg.ID, reg.Version)
			return nil
		}
		fmt.Printf("registered mapping %q as %s %s\n", reg.Name, reg.ID, reg.Version)
		return nil
	},
}

var mappingsUpgradeCmd = &cobra.Command{
	Use:   "upgrade <config-file>",
	Short: "Upgrade a registered dimension mapping",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var config domain.DimensionMappingConfig
		if err := loadInto(args[0], &config); err != nil {
			return err
		}
		sess, err := newSession(cmd.Context(), true)
		if err != nil {
			return err
		}
		reg, err := sess.svc.Mappings().Upgrade(cmd.Context(), config, submitter, mappingLogMessage)
		if err != nil {
			return err
		}
		fmt.Printf("upgraded mapping %q to %s %s\n", reg.Name, reg.ID, reg.Version)
		return nil
	},
}

var mappingsListJSON bool

var mappingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered dimension mappings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession(cmd.Context(), true)
		if err != nil {
			return err
		}
		entries := sess.svc.Mappings().List()
		if mappingsListJSON {
			return printJSON(entries)
		}
		renderEntries(os.Stdout, domain.EntityDimensionMapping, entries)
		return nil
	},
}

func init() {
	mappingsRegisterCmd.Flags().StringVarP(&mappingLogMessage, "log-message", "l", "", "reason for the registration")
	_ = mappingsRegisterCmd.MarkFlagRequired("log-message")
	mappingsUpgradeCmd.Flags().StringVarP(&mappingLogMessage, "log-message", "l", "", "reason for the upgrade")
	_ = mappingsUpgradeCmd.MarkFlagRequired("log-message")
	mappingsListCmd.Flags().BoolVar(&mappingsListJSON, "json", false, "emit JSON instead of a table")
	mappingsCmd.AddCommand(mappingsRegisterCmd, mappingsUpgradeCmd, mappingsListCmd)
	rootCmd.AddCommand(mappingsCmd)
}
