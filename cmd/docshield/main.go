package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var policyPath string

	root := &cobra.Command{
		Use:           "docshield",
		Short:         "Security layer for a document-store product catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			if policyPath != "" {
				return os.Setenv("DOCSHIELD_POLICY", policyPath)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&policyPath, "policy", "p", "", "security policy file (overrides DOCSHIELD_POLICY)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newDetectCmd())
	root.AddCommand(newPatternsCmd())

	return root
}
