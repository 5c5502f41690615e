package provdoc

import (
	"fmt"
	"os"
	"strings"
)

// Node fill colors follow the conventional PROV palette: yellow
// entities, blue activities, orange agents.
const (
	entityFill   = "#FFFC87"
	activityFill = "#9FB1FC"
	agentFill    = "#FED37F"
)

// DOT renders the document as a Graphviz digraph. Nodes are emitted in
// sorted identifier order and edges in insertion order, so the output
// is deterministic and diffable.
func (d *Document) DOT() string {
	var b strings.Builder
	b.WriteString("digraph provenance {\n")
	b.WriteString("\trankdir=BT;\n")
	b.WriteString("\tnode [fontname=\"Helvetica\" fontsize=10];\n")
	b.WriteString("\tedge [fontname=\"Helvetica\" fontsize=9];\n")

	for _, id := range sortedElementIDs(d.Entities) {
		e := d.Entities[id]
		fmt.Fprintf(&b, "\t%s [shape=ellipse style=filled fillcolor=%q label=%q];\n",
			quote(id), entityFill, nodeLabel(id, e.Attributes))
	}
	for _, id := range sortedElementIDs(d.Activities) {
		a := d.Activities[id]
		fmt.Fprintf(&b, "\t%s [shape=box style=filled fillcolor=%q label=%q];\n",
			quote(id), activityFill, nodeLabel(id, a.Attributes))
	}
	for _, id := range sortedElementIDs(d.Agents) {
		a := d.Agents[id]
		fmt.Fprintf(&b, "\t%s [shape=house style=filled fillcolor=%q label=%q];\n",
			quote(id), agentFill, nodeLabel(id, a.Attributes))
	}

	writeEdges(&b, d.Used, "used")
	writeEdges(&b, d.Generated, "wasGeneratedBy")
	writeEdges(&b, d.DerivedFrom, "wasDerivedFrom")
	writeEdges(&b, d.Members, "hadMember")
	writeEdges(&b, d.Associations, "wasAssociatedWith")
	writeEdges(&b, d.Influenced, "wasInfluencedBy")

	b.WriteString("}\n")
	return b.String()
}

// WriteDOT writes the DOT rendering to a file.
func (d *Document) WriteDOT(path string) error {
	if err := os.WriteFile(path, []byte(d.DOT()), 0o644); err != nil {
		return fmt.Errorf("write dot graph: %w", err)
	}
	return nil
}

func writeEdges(b *strings.Builder, rels []Relation, name string) {
	for _, rel := range rels {
		label := name
		if rel.Role != "" {
			label = fmt.Sprintf("%s [%s]", name, rel.Role)
		}
		fmt.Fprintf(b, "\t%s -> %s [label=%q];\n", quote(rel.Subject), quote(rel.Object), label)
	}
}

// nodeLabel prefers the PROV label, falling back to the local part of
// the identifier.
func nodeLabel(id string, attrs map[string]string) string {
	if label, ok := attrs[labelAttr]; ok && label != "" {
		return label
	}
	if _, local, ok := strings.Cut(id, ":"); ok {
		return local
	}
	return id
}

func quote(id string) string {
	return fmt.Sprintf("%q", id)
}
