package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/BDNK1/procflow/runtime"
)

func newRunCmd(opts *options) *cobra.Command {
	var sets []string
	var input string

	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Run a procedure file and print the resulting context",
		Long: `Run loads one procedure file, runs it with the given input and prints
the final context as JSON. Procedures of the project are available to
procedure actions.

Example:
  procflow run procedures/checkout.yaml --set amount=1099 --set meta.source=cli
  procflow run checkout.yaml --input order.json --env-file .env.local
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := newEnvironment(ctx, opts, cmd.ErrOrStderr(), "")
			if err != nil {
				return err
			}
			defer env.close(ctx)

			overrides, err := readInput(env, input)
			if err != nil {
				return err
			}
			if err := applySets(overrides, sets); err != nil {
				return err
			}

			path, err := env.project.Path(args[0])
			if err != nil {
				return err
			}
			p, err := env.loader.Load(path)
			if err != nil {
				return err
			}

			out, err := p.Exec(runtime.ContextWithExecutor(ctx, env.app.Executor), overrides)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringArrayVar(&sets, "set", nil, "Set an input value, key=value; dotted keys create nested maps (repeatable)")
	cmd.Flags().StringVar(&input, "input", "", "JSON file with the input context")
	return cmd
}

func readInput(env *environment, file string) (runtime.Context, error) {
	overrides := runtime.Context{}
	if file == "" {
		return overrides, nil
	}
	path, err := env.project.Path(file)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	if err := json.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("input must be a JSON object: %w", err)
	}
	return overrides, nil
}

// applySets parses key=value pairs. Values are YAML scalars, so numbers and
// booleans keep their type; quote them to force a string.
func applySets(c runtime.Context, sets []string) error {
	for _, set := range sets {
		key, raw, ok := strings.Cut(set, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid --set %q, expected key=value", set)
		}
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
			return fmt.Errorf("invalid --set %q: %w", set, err)
		}
		c.SetPath(key, value)
	}
	return nil
}
