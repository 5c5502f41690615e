package definition

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"

	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// ValidationError is one schema violation found in a definitions file.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidateBytes checks a raw definitions document against the embedded
// CUE schema. It returns every violation found, not just the first,
// so a malformed file can be fixed in one pass.
func ValidateBytes(data []byte) []error {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return []error{fmt.Errorf("parse definitions: %w", err)}
	}
	return validateDoc(doc)
}

// ValidateFile checks a definitions YAML file against the schema.
func ValidateFile(path string) []error {
	defs, err := Load(path)
	if err != nil {
		return []error{err}
	}
	return Validate(defs)
}

// Validate checks already-decoded definitions against the schema.
func Validate(defs *Definitions) []error {
	// Round-trip through YAML so CUE sees the wire shape, not Go types.
	data, err := yaml.Marshal(defs)
	if err != nil {
		return []error{fmt.Errorf("encode definitions: %w", err)}
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return []error{fmt.Errorf("re-parse definitions: %w", err)}
	}
	return validateDoc(doc)
}

func validateDoc(doc map[string]any) []error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return []error{fmt.Errorf("compile definitions schema: %w", err)}
	}

	value := ctx.Encode(doc)
	if err := value.Err(); err != nil {
		return []error{fmt.Errorf("encode definitions for validation: %w", err)}
	}

	unified := schema.Unify(value)
	if err := unified.Validate(); err != nil {
		var errs []error
		for _, e := range errors.Errors(err) {
			ve := &ValidationError{Message: e.Error()}
			if p := e.Path(); len(p) > 0 {
				ve.Path = joinPath(p)
			}
			errs = append(errs, ve)
		}
		return errs
	}
	return nil
}

func joinPath(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "."
		}
		out += p
	}
	return out
}
