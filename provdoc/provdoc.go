// Package provdoc assembles the flat record stream into a W3C PROV
// document model and renders it as PROV-JSON or Graphviz DOT. The
// builder is schema-on-read: records are classified by key presence
// and folded into elements and relations, with unrecognized keys kept
// as element attributes.
package provdoc

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mservillat/logprov/record"
)

// DefaultNamespace qualifies identifiers that carry no namespace of
// their own. Session-local ids are additionally prefixed with the
// session id so documents merged from several runs stay disjoint.
const DefaultNamespace = "session"

const (
	labelAttr           = "prov:label"
	typeAttr            = "prov:type"
	sessionLabel        = "LogProvSession"
	attributeCut        = 20
	sessionAttributeCut = 50
)

// Element is an entity or agent node.
type Element struct {
	ID         string
	Attributes map[string]string
}

// Activity is an activity node with its recorded time span.
type Activity struct {
	ID         string
	StartTime  string
	EndTime    string
	Attributes map[string]string
}

// Relation links two identified nodes. Role is only meaningful for
// usage, generation and association edges.
type Relation struct {
	Subject string
	Object  string
	Role    string
}

// Document is the assembled PROV document.
type Document struct {
	Namespaces map[string]string

	Entities   map[string]*Element
	Activities map[string]*Activity
	Agents     map[string]*Element

	Used         []Relation // activity -> entity
	Generated    []Relation // entity -> activity
	DerivedFrom  []Relation // entity -> progenitor
	Members      []Relation // collection -> member
	Associations []Relation // activity -> agent
	Influenced   []Relation // activity -> session
}

func newDocument(defaultNS string) *Document {
	return &Document{
		Namespaces: map[string]string{
			defaultNS: defaultNS + ":",
			"voprov":  "voprov:",
		},
		Entities:   map[string]*Element{},
		Activities: map[string]*Activity{},
		Agents:     map[string]*Element{},
	}
}

func (d *Document) entity(id string) *Element {
	if e, ok := d.Entities[id]; ok {
		return e
	}
	e := &Element{ID: id, Attributes: map[string]string{}}
	d.Entities[id] = e
	return e
}

func (d *Document) activity(id string) *Activity {
	if a, ok := d.Activities[id]; ok {
		return a
	}
	a := &Activity{ID: id, Attributes: map[string]string{}}
	d.Activities[id] = a
	return a
}

func (d *Document) agent(id string) *Element {
	if a, ok := d.Agents[id]; ok {
		return a
	}
	a := &Element{ID: id, Attributes: map[string]string{}}
	d.Agents[id] = a
	return a
}

// builder carries the per-stream state: the current session id is
// folded into every unqualified identifier.
type builder struct {
	doc       *Document
	defaultNS string
	sessID    string
}

// Build assembles records into a document using the default namespace.
func Build(records []record.Record) *Document {
	return BuildNS(records, DefaultNamespace)
}

// BuildNS assembles records qualifying bare identifiers under ns.
func BuildNS(records []record.Record, ns string) *Document {
	b := &builder{doc: newDocument(ns), defaultNS: ns}
	for _, rec := range records {
		b.fold(rec)
	}
	return b.doc
}

func (b *builder) fold(rec record.Record) {
	// Work on a scratch copy so consumed keys can be deleted and the
	// leftovers turned into attributes.
	scratch := make(record.Record, len(rec))
	for k, v := range rec {
		scratch[k] = v
	}

	if scratch.Has("session_id") {
		b.foldSession(scratch)
		return
	}
	if scratch.Has("activity_id") {
		b.foldActivity(scratch)
		return
	}
	if scratch.Has("entity_id") {
		b.foldEntity(scratch)
	}
}

func (b *builder) foldSession(rec record.Record) {
	b.sessID = rec.String("session_id")
	sess := b.doc.entity(b.defaultNS + ":" + b.sessID)
	sess.Attributes[labelAttr] = sessionLabel
	sess.Attributes[typeAttr] = sessionLabel
	if rec.Has("startTime") {
		sess.Attributes["prov:generatedAtTime"] = rec.String("startTime")
	}
	sess.Attributes["module"] = rec.String("module")
	sess.Attributes["class"] = rec.String("class")
	sess.Attributes["system"] = cut(rec.String("system"), sessionAttributeCut)
	sess.Attributes["definitions"] = cut(rec.String("definitions"), sessionAttributeCut)
}

func (b *builder) foldActivity(rec record.Record) {
	actID := b.defaultNS + ":" + b.sessID + "_" +
		strings.ReplaceAll(rec.String("activity_id"), "-", "")
	delete(rec, "activity_id")
	act := b.doc.activity(actID)

	if rec.Has("name") {
		act.Attributes[labelAttr] = rec.String("name")
		delete(rec, "name")
	}
	if rec.Has("startTime") {
		act.StartTime = rec.String("startTime")
		delete(rec, "startTime")
	}
	if rec.Has("endTime") {
		act.EndTime = rec.String("endTime")
		delete(rec, "endTime")
	}
	if rec.Has("in_session") {
		sessID := b.defaultNS + ":" + rec.String("in_session")
		delete(rec, "in_session")
		b.doc.entity(sessID)
		b.doc.Influenced = append(b.doc.Influenced,
			Relation{Subject: actID, Object: sessID})
	}

	if rec.Has("agent_name") {
		agentID := b.qualifyBare(rec.String("agent_name"))
		delete(rec, "agent_name")
		b.doc.agent(agentID)
		b.doc.Associations = append(b.doc.Associations,
			Relation{Subject: actID, Object: agentID, Role: "Operator"})
	}

	if rec.Has("parameters") {
		if params, ok := rec["parameters"].(map[string]any); ok {
			names := make([]string, 0, len(params))
			for name := range params {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				short := cut(fmt.Sprint(params[name]), attributeCut)
				par := b.doc.entity(actID + "_" + name)
				par.Attributes[labelAttr] = name + " = " + short
				par.Attributes[typeAttr] = "voprov:Parameter"
				par.Attributes["voprov:name"] = name
				par.Attributes["prov:value"] = short
				b.doc.Used = append(b.doc.Used,
					Relation{Subject: actID, Object: par.ID, Role: "Setup"})
			}
		}
		delete(rec, "parameters")
	}

	if rec.Has("used_id") {
		entID := b.qualify(rec.String("used_id"))
		delete(rec, "used_id")
		b.doc.entity(entID)
		b.doc.Used = append(b.doc.Used,
			Relation{Subject: actID, Object: entID, Role: rec.String("used_role")})
		delete(rec, "used_role")
	}

	if rec.Has("generated_id") {
		entID := b.qualify(rec.String("generated_id"))
		delete(rec, "generated_id")
		b.doc.entity(entID)
		b.doc.Generated = append(b.doc.Generated,
			Relation{Subject: entID, Object: actID, Role: rec.String("generated_role")})
		delete(rec, "generated_role")
	}

	for k := range rec {
		act.Attributes[k] = rec.String(k)
	}
}

func (b *builder) foldEntity(rec record.Record) {
	entID := b.qualify(rec.String("entity_id"))
	delete(rec, "entity_id")
	ent := b.doc.entity(entID)

	label := ""
	if rec.Has("name") {
		label = rec.String("name")
		ent.Attributes["voprov:name"] = label
		delete(rec, "name")
	}
	if rec.Has("entity_description") {
		label = rec.String("entity_description")
		ent.Attributes["voprov:entity_description"] = label
		delete(rec, "entity_description")
	}
	if rec.Has("type") {
		ent.Attributes[typeAttr] = rec.String("type")
		delete(rec, "type")
	}
	if rec.Has("value") {
		ent.Attributes["prov:value"] = cut(rec.String("value"), attributeCut)
		delete(rec, "value")
	}
	if rec.Has("location") {
		location := rec.String("location")
		ent.Attributes["prov:location"] = location
		if label != "" {
			label = label + " in " + location
		}
		delete(rec, "location")
	}
	if label != "" {
		ent.Attributes[labelAttr] = label
	}
	if rec.Has("generated_time") {
		ent.Attributes["prov:generatedAtTime"] = rec.String("generated_time")
		delete(rec, "generated_time")
	}

	if rec.Has("member_id") {
		memID := b.qualify(rec.String("member_id"))
		delete(rec, "member_id")
		b.doc.entity(memID)
		b.doc.Members = append(b.doc.Members,
			Relation{Subject: entID, Object: memID})
	}
	if rec.Has("progenitor_id") {
		progenID := b.qualify(rec.String("progenitor_id"))
		delete(rec, "progenitor_id")
		b.doc.entity(progenID)
		b.doc.DerivedFrom = append(b.doc.DerivedFrom,
			Relation{Subject: entID, Object: progenID})
	}

	for k := range rec {
		ent.Attributes[k] = rec.String(k)
	}
}

// qualify namespaces an identifier: already-namespaced ids register
// their prefix, bare ids get the default namespace and session prefix.
func (b *builder) qualify(id string) string {
	if ns, _, ok := strings.Cut(id, ":"); ok {
		b.doc.Namespaces[ns] = ns + ":"
		return id
	}
	return b.defaultNS + ":" + b.sessID + "_" + id
}

// qualifyBare is qualify without the session prefix, used for agents
// whose identity is session-independent.
func (b *builder) qualifyBare(id string) string {
	if ns, _, ok := strings.Cut(id, ":"); ok {
		b.doc.Namespaces[ns] = ns + ":"
		return id
	}
	return b.defaultNS + ":" + id
}

// cut shortens long attribute values for readable graphs.
func cut(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

func sortedElementIDs[E any](m map[string]E) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
