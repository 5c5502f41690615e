package capture

import (
	"reflect"
	"strconv"
	"strings"
)

// Scope is what item paths are resolved against: the receiver (or
// first argument) of a traced call layered over per-invocation
// bindings such as args and named arguments. Lookups try Target first,
// then Extras, then the engine's registered globals.
type Scope struct {
	Target any
	Extras map[string]any
}

// resolve evaluates a dotted-path expression against scope. Segments
// are classified by surface syntax: "name(...)" calls a method,
// "name[i]" indexes a collection, anything else is an attribute or key
// lookup. Resolution never fails: an unresolvable segment yields nil
// (after a globals fallback on the leaf name), logged at debug/warn
// level. There is deliberately no caching - intercepted state mutates
// between activity calls, so every resolution must be fresh.
func (e *Engine) resolve(scope any, path string) any {
	if path == "" {
		return nil
	}
	return e.resolveSegments(scope, strings.Split(path, "."))
}

func (e *Engine) resolveSegments(scope any, segments []string) any {
	leaf := segments[0]
	rest := segments[1:]

	if isEmptyScope(scope) {
		value := e.global(leaf)
		if value == nil {
			e.logger.Warn("not found (no scope to search)", "leaf", leaf)
			return nil
		}
		e.logger.Debug("found in globals (no scope to search)", "leaf", leaf)
		if len(rest) > 0 {
			return e.resolveSegments(value, rest)
		}
		return value
	}

	value := e.lookupSegment(scope, leaf)
	if value == nil {
		if value = e.global(leaf); value != nil {
			e.logger.Debug("found in globals", "leaf", leaf)
		}
	}
	if len(rest) > 0 {
		return e.resolveSegments(value, rest)
	}
	if value == nil {
		e.logger.Warn("not found", "leaf", leaf)
	}
	return value
}

func (e *Engine) lookupSegment(scope any, segment string) any {
	switch {
	case strings.Contains(segment, "("):
		return e.callSegment(scope, segment)
	case strings.Contains(segment, "["):
		return e.indexSegment(scope, segment)
	default:
		return e.attr(scope, segment)
	}
}

// attr looks a name up as a map key or an exported struct field.
// Field matching is exact first, then case-insensitive, so YAML paths
// written in the original lowercase style still resolve against
// exported Go fields.
func (e *Engine) attr(scope any, name string) any {
	if s, ok := scope.(*Scope); ok {
		if value := e.attr(s.Target, name); value != nil {
			return value
		}
		return e.attr(s.Extras, name)
	}
	if s, ok := scope.(Scope); ok {
		return e.attr(&s, name)
	}

	v := reflect.ValueOf(scope)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil
	}

	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil
		}
		mv := v.MapIndex(reflect.ValueOf(name).Convert(v.Type().Key()))
		if !mv.IsValid() {
			return nil
		}
		return mv.Interface()
	case reflect.Struct:
		f := v.FieldByNameFunc(func(field string) bool { return field == name })
		if !f.IsValid() {
			f = v.FieldByNameFunc(func(field string) bool { return strings.EqualFold(field, name) })
		}
		if f.IsValid() && f.CanInterface() {
			return f.Interface()
		}
		return nil
	default:
		e.logger.Warn("cannot traverse scope value", "type", reflect.TypeOf(scope).String(), "leaf", name)
		return nil
	}
}

// indexSegment resolves "name[i]": attribute lookup of name, then a
// numeric index into the resulting slice or array.
func (e *Engine) indexSegment(scope any, segment string) any {
	open := strings.Index(segment, "[")
	closing := strings.Index(segment, "]")
	if closing < open {
		return nil
	}
	name := segment[:open]
	idxStr := strings.TrimSpace(segment[open+1 : closing])
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		e.logger.Warn("invalid collection index", "segment", segment)
		return nil
	}

	base := e.attr(scope, name)
	if base == nil {
		return nil
	}
	v := reflect.ValueOf(base)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if idx < 0 || idx >= v.Len() {
			e.logger.Warn("collection index out of range", "segment", segment, "len", v.Len())
			return nil
		}
		return v.Index(idx).Interface()
	default:
		e.logger.Warn("indexed value is not a collection", "segment", segment, "type", v.Type().String())
		return nil
	}
}

// callSegment resolves "name(a, b=c)": a method invocation on the
// current value. Arguments are parsed as a simple substring list and
// treated as strings, converted to the parameter types where the
// method expects numbers or booleans.
func (e *Engine) callSegment(scope any, segment string) any {
	if s, ok := scope.(*Scope); ok {
		if value := e.callSegment(s.Target, segment); value != nil {
			return value
		}
		return nil
	}
	if s, ok := scope.(Scope); ok {
		return e.callSegment(&s, segment)
	}

	open := strings.Index(segment, "(")
	name := segment[:open]
	argList := strings.TrimSuffix(strings.TrimSpace(segment[open+1:]), ")")

	var rawArgs []string
	for _, a := range strings.Split(argList, ",") {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		// name=value arguments carry their value after the '='.
		if eq := strings.Index(a, "="); eq >= 0 {
			a = a[eq+1:]
		}
		rawArgs = append(rawArgs, strings.Trim(a, `"`))
	}

	v := reflect.ValueOf(scope)
	if !v.IsValid() {
		return nil
	}
	method := v.MethodByName(name)
	if !method.IsValid() {
		e.logger.Warn("method not found", "segment", segment, "type", reflect.TypeOf(scope).String())
		return nil
	}

	mt := method.Type()
	if mt.NumIn() != len(rawArgs) || mt.IsVariadic() {
		e.logger.Warn("method arity mismatch", "segment", segment, "want", mt.NumIn(), "got", len(rawArgs))
		return nil
	}
	in := make([]reflect.Value, len(rawArgs))
	for i, raw := range rawArgs {
		arg, ok := convertArg(raw, mt.In(i))
		if !ok {
			e.logger.Warn("cannot convert method argument", "segment", segment, "arg", raw, "want", mt.In(i).String())
			return nil
		}
		in[i] = arg
	}

	out := method.Call(in)
	if len(out) == 0 {
		return nil
	}
	return out[0].Interface()
}

// convertArg turns a string argument into the parameter type.
func convertArg(raw string, t reflect.Type) (reflect.Value, bool) {
	switch t.Kind() {
	case reflect.String:
		return reflect.ValueOf(raw).Convert(t), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return reflect.Value{}, false
		}
		return reflect.ValueOf(n).Convert(t), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return reflect.Value{}, false
		}
		return reflect.ValueOf(n).Convert(t), true
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return reflect.Value{}, false
		}
		return reflect.ValueOf(f).Convert(t), true
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return reflect.Value{}, false
		}
		return reflect.ValueOf(b).Convert(t), true
	case reflect.Interface:
		if t.NumMethod() == 0 {
			return reflect.ValueOf(raw), true
		}
		return reflect.Value{}, false
	default:
		return reflect.Value{}, false
	}
}

// isEmptyScope reports whether there is nothing to resolve against:
// nil, a nil pointer, an empty map, or a Scope with both layers empty.
func isEmptyScope(scope any) bool {
	if scope == nil {
		return true
	}
	if s, ok := scope.(*Scope); ok {
		return isEmptyScope(s.Target) && len(s.Extras) == 0
	}
	if s, ok := scope.(Scope); ok {
		return isEmptyScope(s.Target) && len(s.Extras) == 0
	}
	v := reflect.ValueOf(scope)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		return v.IsNil()
	case reflect.Map:
		return v.Len() == 0
	}
	return false
}

// global reads the engine's registered variable namespace. This is the
// fallback for paths naming module-level variables when no richer
// scope is available.
func (e *Engine) global(name string) any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.globals[name]
}
