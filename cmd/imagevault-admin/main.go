// Package main is the entry point for the imagevault admin CLI.
// It migrates the schema, runs sweeps, imports files and inspects stored images.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/prn-tf/imagevault/internal/config"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app carries state shared by subcommands.
type app struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "imagevault-admin",
		Short:         "Administrative commands for imagevault",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "path to config file")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newMigrateCmd(a))
	cmd.AddCommand(newCleanupCmd(a))
	cmd.AddCommand(newImportCmd(a))
	cmd.AddCommand(newInspectCmd(a))
	cmd.AddCommand(newTokenCmd(a))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "imagevault admin CLI")
			fmt.Fprintf(out, "Version: %s\n", Version)
			fmt.Fprintf(out, "Build Time: %s\n", BuildTime)
			fmt.Fprintf(out, "Git Commit: %s\n", GitCommit)
			return nil
		},
	}
}
