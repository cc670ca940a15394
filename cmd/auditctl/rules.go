package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liamcoop/salesaudit/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Validate, load and list rule definitions",
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Validate a YAML rule file without touching the database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defs, err := rules.LoadFile(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rules OK\n", args[0], len(defs))
		return nil
	},
}

var rulesLoadCmd = &cobra.Command{
	Use:   "load FILE",
	Short: "Validate a YAML rule file and upsert its rules",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		n, err := rules.Seed(cmd.Context(), a.Catalog, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "loaded %d rules from %s\n", n, args[0])
		return nil
	},
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		defs, err := a.Catalog.List(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, d := range defs {
			state := "inactive"
			if d.Active {
				state = "active"
			}
			fmt.Fprintf(out, "%-32s %-6s %-8s %-8s %s\n", d.Code, d.EntityType, d.Severity, state, d.Name)
		}
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesValidateCmd, rulesLoadCmd, rulesListCmd)
	rootCmd.AddCommand(rulesCmd)
}
