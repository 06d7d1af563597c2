package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "equalizer-api",
		Short:         "Live negotiation coaching and automated escalation server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newPlaybooksCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to equalizer.yaml (default: ./equalizer.yaml or /etc/equalizer)")
	return cmd
}

// newPlaybooksCmd prints the escalation types and their steps, which is handy
// to check a playbooks_file before deploying it.
func newPlaybooksCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "playbooks",
		Short: "List escalation playbooks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			catalog, err := loadCatalog(cfg)
			if err != nil {
				return err
			}
			return printPlaybooks(cmd.OutOrStdout(), catalog)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to equalizer.yaml")
	return cmd
}
