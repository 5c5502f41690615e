package provdoc

import (
	"encoding/json"
	"fmt"
	"os"
)

// MarshalJSON renders the document as PROV-JSON (the W3C PROV JSON
// serialization): one object per record type, relations keyed by
// generated blank identifiers. Map keys serialize sorted, so output is
// deterministic for a given document.
func (d *Document) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"prefix": d.Namespaces,
	}

	if len(d.Entities) > 0 {
		entities := map[string]any{}
		for id, e := range d.Entities {
			entities[id] = attributeMap(e.Attributes)
		}
		out["entity"] = entities
	}
	if len(d.Activities) > 0 {
		activities := map[string]any{}
		for id, a := range d.Activities {
			attrs := attributeMap(a.Attributes)
			if a.StartTime != "" {
				attrs["prov:startTime"] = a.StartTime
			}
			if a.EndTime != "" {
				attrs["prov:endTime"] = a.EndTime
			}
			activities[id] = attrs
		}
		out["activity"] = activities
	}
	if len(d.Agents) > 0 {
		agents := map[string]any{}
		for id, a := range d.Agents {
			agents[id] = attributeMap(a.Attributes)
		}
		out["agent"] = agents
	}

	addRelations(out, "used", d.Used, "u", "prov:activity", "prov:entity")
	addRelations(out, "wasGeneratedBy", d.Generated, "g", "prov:entity", "prov:activity")
	addRelations(out, "wasDerivedFrom", d.DerivedFrom, "d", "prov:generatedEntity", "prov:usedEntity")
	addRelations(out, "hadMember", d.Members, "m", "prov:collection", "prov:entity")
	addRelations(out, "wasAssociatedWith", d.Associations, "a", "prov:activity", "prov:agent")
	addRelations(out, "wasInfluencedBy", d.Influenced, "i", "prov:influencee", "prov:influencer")

	return json.MarshalIndent(out, "", "  ")
}

// WriteJSON writes the PROV-JSON serialization to a file.
func (d *Document) WriteJSON(path string) error {
	data, err := d.MarshalJSON()
	if err != nil {
		return fmt.Errorf("serialize prov document: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write prov document: %w", err)
	}
	return nil
}

func attributeMap(attrs map[string]string) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

func addRelations(out map[string]any, key string, rels []Relation, blank, subjectKey, objectKey string) {
	if len(rels) == 0 {
		return
	}
	entries := map[string]any{}
	for i, rel := range rels {
		entry := map[string]any{
			subjectKey: rel.Subject,
			objectKey:  rel.Object,
		}
		if rel.Role != "" {
			entry["prov:role"] = rel.Role
		}
		entries[fmt.Sprintf("_:%s%d", blank, i)] = entry
	}
	out[key] = entries
}
