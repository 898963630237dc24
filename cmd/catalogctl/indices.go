package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/retail-agent/backend/internal/catalog"
)

var indicesCmd = &cobra.Command{
	Use:   "indices",
	Short: "Manage catalog indices",
}

var indicesEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Create any missing catalog index with its mapping",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		// Build ensures every index before it returns.
		app, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		ok := color.New(color.FgGreen).SprintFunc()
		for _, kind := range catalog.Kinds() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", ok("✓"), catalog.SchemaFor(kind).Index)
		}
		return nil
	},
}

func init() {
	indicesCmd.AddCommand(indicesEnsureCmd)
	rootCmd.AddCommand(indicesCmd)
}
