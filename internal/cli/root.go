// Package cli implements the logprov command line tools: reading and
// filtering provenance logs, converting them to PROV documents, and
// archiving them for later queries.
package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the logprov CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "logprov",
		Short: "logprov - provenance log tooling",
		Long:  "Read, convert, validate and archive provenance capture logs.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewReadCommand(opts))
	cmd.AddCommand(NewConvertCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewIngestCommand(opts))
	cmd.AddCommand(NewSessionsCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// parseWindow turns the --start/--end flag values into timestamps.
// Accepts RFC 3339 with or without sub-second precision; empty means
// that side of the window is open.
func parseWindow(start, end string) (time.Time, time.Time, error) {
	var s, e time.Time
	var err error
	if start != "" {
		if s, err = time.Parse(time.RFC3339Nano, start); err != nil {
			return s, e, fmt.Errorf("invalid --start %q: %w", start, err)
		}
	}
	if end != "" {
		if e, err = time.Parse(time.RFC3339Nano, end); err != nil {
			return s, e, fmt.Errorf("invalid --end %q: %w", end, err)
		}
	}
	return s, e, nil
}
