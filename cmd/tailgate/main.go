package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/lowaccess/tailgate/internal/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "tailgate",
		Short:   "Tailgate admin CLI - manage gateway accounts",
		Version: version.Version,
	}
	rootCmd.SetVersionTemplate(version.String("tailgate") + "\n")

	rootCmd.AddCommand(newAccountsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
