package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// options are the persistent flags shared by every command.
type options struct {
	project  string
	envFiles []string
}

// NewRootCmd builds the procflow command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "procflow",
		Short: "procflow - sequential procedure runner",
		Long: `procflow runs procedures declared in YAML: ordered validate, update,
load, match and do steps over a shared context, with failures reported
at the line that declared them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return loadEnvFiles(opts)
		},
	}

	root.PersistentFlags().StringVarP(&opts.project, "project", "p", ".", "Project directory containing procflow.yaml")
	root.PersistentFlags().StringArrayVar(&opts.envFiles, "env-file", nil, "Environment file to load before reading the project config (repeatable)")

	root.AddCommand(newRunCmd(opts), newServeCmd(opts), newLocateCmd())
	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

// loadEnvFiles loads the --env-file files, or the project's .env when none
// is given. Variables already set in the environment win.
func loadEnvFiles(opts *options) error {
	files := opts.envFiles
	if len(files) == 0 {
		def := filepath.Join(opts.project, ".env")
		if _, err := os.Stat(def); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		files = []string{def}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}
	return nil
}
