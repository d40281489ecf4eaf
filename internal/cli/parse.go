package cli

import (
	"encoding/json"
	"fmt"

	"github.com/ErlanBelekov/pwchain/internal/domain"
	"github.com/ErlanBelekov/pwchain/internal/qexml"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

type parseFlags struct {
	schemaDir     string
	defaultSchema string
	deprecatedV2  bool
	compact       bool
}

type parsedDocument struct {
	Parameters domain.ParsedParameters `json:"parameters"`
	Structure  domain.ParsedStructure  `json:"structure"`
	Bands      domain.BandsData        `json:"bands"`
}

func newParseCommand(fs afero.Fs, root *rootFlags) *cobra.Command {
	flags := &parseFlags{}

	cmd := &cobra.Command{
		Use:   "parse <data-file-schema.xml>",
		Short: "Decode a pw.x XML output file",
		Long: `Decode a pw.x XML output file into its parameters, structure and bands
records and print them as JSON.

Examples:
  pwchain parse out/aiida.save/data-file-schema.xml
  pwchain parse --deprecated-v2-keys --schema-dir /opt/qe/schemas run.xml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := root.logger(cmd.ErrOrStderr())
			resolver := qexml.NewResolver(afero.NewReadOnlyFs(fs), flags.schemaDir, flags.defaultSchema, logger)

			out, err := qexml.ParseFile(fs, args[0], resolver, qexml.Options{IncludeDeprecatedV2Keys: flags.deprecatedV2}, logger)
			if err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			if !flags.compact {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(parsedDocument{
				Parameters: out.Parameters,
				Structure:  out.Structure,
				Bands:      out.Bands,
			})
		},
	}

	cmd.Flags().StringVar(&flags.schemaDir, "schema-dir", "schemas", "Directory holding the QES XSD files")
	cmd.Flags().StringVar(&flags.defaultSchema, "schema", qexml.DefaultSchemaName, "Schema used when the document does not name one")
	cmd.Flags().BoolVar(&flags.deprecatedV2, "deprecated-v2-keys", false, "Add the occupation flags of the pre-XML output format")
	cmd.Flags().BoolVar(&flags.compact, "compact", false, "Print JSON on a single line")

	return cmd
}
