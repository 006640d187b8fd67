package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BDNK1/procflow/runtime/diagnostic"
)

func newLocateCmd() *cobra.Command {
	var line, column int

	cmd := &cobra.Command{
		Use:   "locate <file>",
		Short: "Print the clauses of the match declared at a line",
		Long: `Locate scans the match declaration starting at --line (and --column,
1-based) and prints its statements and fallback as JSON. Token lines and
columns in the output are zero-based. Clauses written as function
literals are flagged as anonymous.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := diagnostic.FileReader{}.ReadSource(args[0])
			if err != nil {
				return err
			}
			lines := diagnostic.SplitLines(src)
			if line < 1 || line > len(lines) {
				return fmt.Errorf("line %d is outside %s (%d lines)", line, args[0], len(lines))
			}

			model := diagnostic.LocateAt(lines, line, max(0, column-1))
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(newLocateOutput(model))
		},
	}

	cmd.Flags().IntVar(&line, "line", 0, "Line where the match declaration starts")
	cmd.Flags().IntVar(&column, "column", 0, "Column on that line where scanning starts")
	_ = cmd.MarkFlagRequired("line")
	return cmd
}

type locatedToken struct {
	diagnostic.Token
	Anonymous bool `json:"anonymous,omitempty"`
}

type locateOutput struct {
	Statements [][]locatedToken `json:"statements"`
	Fallback   *locatedToken    `json:"fallback,omitempty"`
}

func newLocateOutput(model diagnostic.MatchModel) locateOutput {
	wrap := func(t diagnostic.Token) locatedToken {
		return locatedToken{Token: t, Anonymous: t.Anonymous()}
	}

	out := locateOutput{Statements: make([][]locatedToken, len(model.Statements))}
	for i, statement := range model.Statements {
		out.Statements[i] = make([]locatedToken, len(statement))
		for j, token := range statement {
			out.Statements[i][j] = wrap(token)
		}
	}
	if model.Fallback != nil {
		fallback := wrap(*model.Fallback)
		out.Fallback = &fallback
	}
	return out
}
