package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lumora-ai/lumora/internal/cli"
	"github.com/lumora-ai/lumora/internal/cli/admin"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lumorad",
		Short: "Lumora daemon and CLI",
		Long:  "Lumora daemon for running the retrieval API server and managing flags, intent rules, and the dispatch queue",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.FlagsCmd())
	rootCmd.AddCommand(admin.DispatchCmd())
	rootCmd.AddCommand(admin.RulesCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
