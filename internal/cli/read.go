package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mservillat/logprov/record"
)

// NewReadCommand creates the read command.
func NewReadCommand(rootOpts *RootOptions) *cobra.Command {
	var start, end, kind string

	cmd := &cobra.Command{
		Use:   "read <prov-log>",
		Short: "Read and filter a provenance log",
		Long: `Read a provenance log file and print its records.

Records can be filtered by emission time window and by record kind
(session, activity_start, activity_end, parameters, usage, generation,
membership, derivation, entity).`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(rootOpts, cmd, args[0], start, end, kind)
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "window start (RFC 3339)")
	cmd.Flags().StringVar(&end, "end", "", "window end (RFC 3339)")
	cmd.Flags().StringVar(&kind, "kind", "", "only records of this kind")
	return cmd
}

func runRead(opts *RootOptions, cmd *cobra.Command, path, start, end, kind string) error {
	s, e, err := parseWindow(start, end)
	if err != nil {
		return err
	}

	entries, err := record.ReadLog(path, record.ReadOptions{Start: s, End: e})
	if err != nil {
		return err
	}
	if kind != "" {
		var kept []record.Entry
		for _, entry := range entries {
			if string(entry.Record.Kind()) == kind {
				kept = append(kept, entry)
			}
		}
		entries = kept
	}

	if opts.Verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "read %d record(s) from %s\n", len(entries), path)
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(record.Records(entries))
	}
	for _, entry := range entries {
		payload, err := json.Marshal(entry.Record)
		if err != nil {
			return fmt.Errorf("serialize record: %w", err)
		}
		fmt.Fprintf(out, "%s  %-14s  %s\n",
			entry.Time.Format("2006-01-02T15:04:05"), entry.Record.Kind(), payload)
	}
	return nil
}
