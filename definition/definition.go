// Package definition holds the static activity and entity descriptions
// that drive provenance capture. Descriptions are loaded once from YAML
// and are immutable for the process lifetime: they declare, per
// activity, which parameters to record and how to locate used and
// generated entities relative to the invocation scope.
package definition

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Entity description types recognized by the identity assigner.
const (
	TypePythonObject   = "PythonObject"
	TypeFile           = "File"
	TypeFileCollection = "FileCollection"
)

// Definitions is the root of a definitions file.
type Definitions struct {
	ActivityDescriptions map[string]ActivityDescription `yaml:"activity_descriptions,omitempty" json:"activity_descriptions,omitempty"`
	EntityDescriptions   map[string]EntityDescription   `yaml:"entity_descriptions,omitempty" json:"entity_descriptions,omitempty"`
	Agents               map[string]AgentDescription    `yaml:"agents,omitempty" json:"agents,omitempty"`
}

// ActivityDescription declares what to capture around one activity.
type ActivityDescription struct {
	Description string                 `yaml:"description,omitempty" json:"description,omitempty"`
	Parameters  []ParameterDescription `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Usage       []ItemDescription      `yaml:"usage,omitempty" json:"usage,omitempty"`
	Generation  []ItemDescription      `yaml:"generation,omitempty" json:"generation,omitempty"`
}

// ParameterDescription binds a parameter name to a scope path.
type ParameterDescription struct {
	Name        string `yaml:"name,omitempty" json:"name,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Value       string `yaml:"value" json:"value"`
}

// ItemDescription declares how to locate one entity reference relative
// to the invocation scope. All fields are optional; an item that
// resolves to nothing simply produces no record for that call.
type ItemDescription struct {
	// ID, Value and Location are dotted-path expressions resolved
	// against the scope. An explicit ID wins over everything else;
	// Location substitutes for Value when no value resolves.
	ID       string `yaml:"id,omitempty" json:"id,omitempty"`
	Value    string `yaml:"value,omitempty" json:"value,omitempty"`
	Location string `yaml:"location,omitempty" json:"location,omitempty"`

	Role              string `yaml:"role,omitempty" json:"role,omitempty"`
	Namespace         string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	EntityDescription string `yaml:"entity_description,omitempty" json:"entity_description,omitempty"`
	Description       string `yaml:"description,omitempty" json:"description,omitempty"`

	HasMembers     *SubItemDescription `yaml:"has_members,omitempty" json:"has_members,omitempty"`
	HasProgenitors *SubItemDescription `yaml:"has_progenitors,omitempty" json:"has_progenitors,omitempty"`
}

// SubItemDescription describes composite-entity members or
// progenitors. List names the collection to iterate; when empty the
// scope itself is the single element. The embedded item fields are
// resolved against each element.
type SubItemDescription struct {
	List            string `yaml:"list,omitempty" json:"list,omitempty"`
	ItemDescription `yaml:",inline"`
}

// EntityDescription is type metadata shared by all items referencing it.
type EntityDescription struct {
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Type        string `yaml:"type,omitempty" json:"type,omitempty"`
	// Index names the index file that identifies a FileCollection.
	Index       string `yaml:"index,omitempty" json:"index,omitempty"`
	ContentType string `yaml:"contentType,omitempty" json:"contentType,omitempty"`
}

// AgentDescription identifies a responsible agent. Agents are carried
// through to the PROV document but play no role in capture itself.
type AgentDescription struct {
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Type        string `yaml:"type,omitempty" json:"type,omitempty"`
}

// Default returns an empty set of definitions. Capture with empty
// definitions still records sessions, activities and timings; it just
// has no declared usage or generation.
func Default() *Definitions {
	return &Definitions{
		ActivityDescriptions: map[string]ActivityDescription{},
		EntityDescriptions:   map[string]EntityDescription{},
		Agents:               map[string]AgentDescription{},
	}
}

// Parse decodes a definitions document from YAML.
func Parse(data []byte) (*Definitions, error) {
	defs := Default()
	if err := yaml.Unmarshal(data, defs); err != nil {
		return nil, fmt.Errorf("parse definitions: %w", err)
	}
	if defs.ActivityDescriptions == nil {
		defs.ActivityDescriptions = map[string]ActivityDescription{}
	}
	if defs.EntityDescriptions == nil {
		defs.EntityDescriptions = map[string]EntityDescription{}
	}
	if defs.Agents == nil {
		defs.Agents = map[string]AgentDescription{}
	}
	return defs, nil
}

// Load reads and decodes a definitions YAML file.
func Load(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definitions: %w", err)
	}
	return Parse(data)
}

// Entity returns the entity description referenced by the item, if any.
func (d *Definitions) Entity(item ItemDescription) (name string, desc EntityDescription, ok bool) {
	name = item.EntityDescription
	if name == "" {
		return "", EntityDescription{}, false
	}
	desc, ok = d.EntityDescriptions[name]
	return name, desc, ok
}

// Activity returns the activity description for name, if declared.
func (d *Definitions) Activity(name string) (ActivityDescription, bool) {
	ad, ok := d.ActivityDescriptions[name]
	return ad, ok
}
