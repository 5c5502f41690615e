package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mservillat/logprov/record"
	"github.com/mservillat/logprov/store"
)

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	var db, start, end string

	cmd := &cobra.Command{
		Use:   "ingest <prov-log>",
		Short: "Archive a provenance log into a SQLite store",
		Long: `Parse a provenance log and append its records to a SQLite
archive, creating the archive if needed. Archived records can then be
filtered by session, activity, entity, kind and time window.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(rootOpts, cmd, args[0], db, start, end)
		},
	}

	cmd.Flags().StringVar(&db, "db", "prov.db", "archive database path")
	cmd.Flags().StringVar(&start, "start", "", "window start (RFC 3339)")
	cmd.Flags().StringVar(&end, "end", "", "window end (RFC 3339)")
	return cmd
}

func runIngest(opts *RootOptions, cmd *cobra.Command, path, db, start, end string) error {
	s, e, err := parseWindow(start, end)
	if err != nil {
		return err
	}

	st, err := store.Open(db)
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := st.IngestLog(cmd.Context(), path, record.ReadOptions{Start: s, End: e})
	if err != nil {
		return err
	}

	if opts.Format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		return enc.Encode(map[string]any{"ingested": n, "db": db})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ingested %d record(s) into %s\n", n, db)
	return nil
}

// NewSessionsCommand creates the sessions command.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	var db string

	cmd := &cobra.Command{
		Use:           "sessions",
		Short:         "List sessions in a provenance archive",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessions(rootOpts, cmd, db)
		},
	}

	cmd.Flags().StringVar(&db, "db", "prov.db", "archive database path")
	return cmd
}

func runSessions(opts *RootOptions, cmd *cobra.Command, db string) error {
	st, err := store.Open(db)
	if err != nil {
		return err
	}
	defer st.Close()

	sessions, err := st.Sessions(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		enc := json.NewEncoder(out)
		return enc.Encode(sessions)
	}
	for _, id := range sessions {
		fmt.Fprintln(out, id)
	}
	return nil
}
