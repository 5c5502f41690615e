package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mservillat/logprov/provdoc"
	"github.com/mservillat/logprov/record"
)

// NewConvertCommand creates the convert command.
func NewConvertCommand(rootOpts *RootOptions) *cobra.Command {
	var to, output, ns, start, end string

	cmd := &cobra.Command{
		Use:   "convert <prov-log>",
		Short: "Convert a provenance log to a PROV document",
		Long: `Assemble the records of a provenance log into a W3C PROV document
and write it as PROV-JSON or Graphviz DOT.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(rootOpts, cmd, args[0], to, output, ns, start, end)
		},
	}

	cmd.Flags().StringVar(&to, "to", "json", "target format (json|dot)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&ns, "namespace", provdoc.DefaultNamespace, "default namespace for bare identifiers")
	cmd.Flags().StringVar(&start, "start", "", "window start (RFC 3339)")
	cmd.Flags().StringVar(&end, "end", "", "window end (RFC 3339)")
	return cmd
}

func runConvert(opts *RootOptions, cmd *cobra.Command, path, to, output, ns, start, end string) error {
	s, e, err := parseWindow(start, end)
	if err != nil {
		return err
	}

	entries, err := record.ReadLog(path, record.ReadOptions{Start: s, End: e})
	if err != nil {
		return err
	}
	doc := provdoc.BuildNS(record.Records(entries), ns)

	if opts.Verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "assembled %d entit(ies), %d activit(ies)\n",
			len(doc.Entities), len(doc.Activities))
	}

	var data []byte
	switch to {
	case "json":
		if data, err = doc.MarshalJSON(); err != nil {
			return fmt.Errorf("serialize prov document: %w", err)
		}
		data = append(data, '\n')
	case "dot":
		data = []byte(doc.DOT())
	default:
		return fmt.Errorf("invalid target format %q: must be json or dot", to)
	}

	if output == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}
	return nil
}
