package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// sourceCmd represents the source command
var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage webhook sources",
	Long:  `Register inbound webhook sources and their HMAC secrets.`,
}

// createSourceCmd represents the create source command
var createSourceCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Register a new source",
	Long: `Register a new source, generating its HMAC secret.

The secret is printed once and is not recoverable afterwards; store it
alongside the sender's configuration.

Example:
  whctl source create github`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		st, cleanup, err := getStore(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		src, err := st.CreateSource(ctx, args[0])
		if err != nil {
			return fmt.Errorf("create source: %w", err)
		}

		printOutput(src)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sourceCmd)
	sourceCmd.AddCommand(createSourceCmd)
}
