package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mservillat/logprov/definition"
)

// ValidationResult holds the outcome of a definitions validation.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <definitions.yaml>",
		Short: "Validate a definitions file against the schema",
		Long: `Check an activity/entity definitions YAML file against the
embedded schema. All violations are reported, not just the first.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd, args[0])
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command, path string) error {
	result := ValidationResult{Valid: true}
	for _, err := range definition.ValidateFile(path) {
		result.Valid = false
		result.Errors = append(result.Errors, err.Error())
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else if result.Valid {
		fmt.Fprintf(out, "%s: OK\n", path)
	} else {
		for _, msg := range result.Errors {
			fmt.Fprintf(out, "%s: %s\n", path, msg)
		}
	}

	if !result.Valid {
		return fmt.Errorf("%s: %d validation error(s)", path, len(result.Errors))
	}
	return nil
}
