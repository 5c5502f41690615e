package capture

import (
	"fmt"
	"os"
	"strings"

	"github.com/mservillat/logprov/definition"
	"github.com/mservillat/logprov/record"
)

// itemProperties is the normalized property bag for one declared
// entity reference. An item that resolved to nothing has hasID false
// and the caller skips emission: "entity not present this call" is not
// an error.
type itemProperties struct {
	id    EntityID
	hasID bool

	location    string
	value       string
	hash        string
	hashType    string
	edName      string
	edType      string
	contentType string
}

// itemProperties resolves one item description against the scope.
// Resolution order: an explicit id path wins over everything; a
// location path substitutes for the value when no value resolves; a
// resolved value without an explicit id goes through the identity
// assigner. A declared namespace prefixes the id unless it is already
// namespaced.
func (e *Engine) itemProperties(scope any, item definition.ItemDescription) itemProperties {
	props := itemProperties{}

	props.edName = item.EntityDescription
	if props.edName != "" {
		ed, ok := e.defs.EntityDescriptions[props.edName]
		if ok {
			props.edType = ed.Type
			props.contentType = ed.ContentType
		} else {
			e.logger.Warn("entity description not found in definitions",
				"entity_description", props.edName)
		}
	}

	var value any
	if item.ID != "" {
		if resolved := e.resolve(scope, item.ID); resolved != nil {
			props.id = StringID(fmt.Sprint(resolved))
			props.hasID = true
		}
	}
	if item.Location != "" {
		if resolved := e.resolve(scope, item.Location); resolved != nil {
			props.location = fmt.Sprint(resolved)
		}
	}
	if item.Value != "" {
		value = e.resolve(scope, item.Value)
	}
	if value == nil && props.location != "" {
		value = props.location
	}

	if value != nil && !props.hasID {
		props.id = e.entityID(value, item, item.Value)
		props.hasID = true
		// For file-backed entities, record how the id was derived, not
		// just its value, unless hashing fell back to the raw path.
		if strings.Contains(props.edType, "File") && props.id.String() != fmt.Sprint(value) {
			method, _ := e.config.hashMethod()
			props.hash = props.id.String()
			props.hashType = method
		}
	}

	if item.Namespace != "" && props.hasID && !strings.Contains(props.id.String(), ":") {
		props.id = StringID(item.Namespace + ":" + props.id.String())
	}

	if value != nil && props.edType == definition.TypePythonObject {
		props.value = fmt.Sprint(value)
	}

	if props.location != "" {
		props.location = os.ExpandEnv(props.location)
	}

	return props
}

// entityRecord builds the descriptive entity record for an id, merging
// the resolved properties and the static description metadata. The
// value path doubles as the entity's logical location, which is how
// replay tools label in-memory entities.
func (p itemProperties) entityRecord(id EntityID, item definition.ItemDescription, modifier int64) record.Record {
	rec := record.Record{"entity_id": id.Value()}
	if p.edName != "" {
		rec["entity_description"] = p.edName
	}
	if item.Value != "" {
		rec["location"] = item.Value
	}
	if modifier != 0 {
		rec["modifier"] = modifier
	}
	if p.location != "" {
		rec["location"] = p.location
	}
	if p.value != "" {
		rec["value"] = p.value
	}
	if p.hash != "" {
		rec["hash"] = p.hash
		rec["hash_type"] = p.hashType
	}
	if p.edType != "" {
		rec["type"] = p.edType
	}
	if p.contentType != "" {
		rec["contentType"] = p.contentType
	}
	return rec
}
