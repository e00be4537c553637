package root

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"memrelay/internal/extract"
)

var (
	extractSchemaPath string
	extractStrategy   bool
	extractCompact    bool
)

var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Recover a JSON value from model output (stdin when no file is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			text []byte
			err  error
		)
		if len(args) == 1 && args[0] != "-" {
			text, err = os.ReadFile(args[0])
		} else {
			text, err = io.ReadAll(cmd.InOrStdin())
		}
		if err != nil {
			return err
		}

		raw, strategy, ok := extract.ExtractWithStrategy(string(text))
		if !ok {
			return extract.ErrNoJSON
		}
		logrus.WithFields(logrus.Fields{"strategy": strategy, "bytes": len(raw)}).Debug("extracted")

		if extractSchemaPath != "" {
			src, err := os.ReadFile(extractSchemaPath)
			if err != nil {
				return err
			}
			schema, err := extract.CompileSchema(extractSchemaPath, string(src))
			if err != nil {
				return err
			}
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			if err := schema.Validate(v); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		if extractStrategy {
			fmt.Fprintf(out, "strategy: %s\n", strategy)
		}
		if extractCompact {
			_, err = fmt.Fprintln(out, string(raw))
			return err
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return errors.Join(extract.ErrNoJSON, err)
		}
		pretty, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(pretty))
		return err
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.Flags().StringVar(&extractSchemaPath, "schema", "", "JSON Schema file the value must satisfy")
	extractCmd.Flags().BoolVar(&extractStrategy, "strategy", false, "Print which strategy recovered the value")
	extractCmd.Flags().BoolVar(&extractCompact, "compact", false, "Print compact JSON")
}
