package capture

import (
	"context"
	"fmt"
	"reflect"

	"github.com/mservillat/logprov/record"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// argBinding is one captured call argument. named is true when
// WithArgNames supplied a name for its position.
type argBinding struct {
	name  string
	value any
	named bool
}

// WrapOption configures a single wrapped callable.
type WrapOption func(*wrapOptions)

type wrapOptions struct {
	argNames []string
}

// WithArgNames names the callable's positional arguments, in order.
// Named arguments appear in parameter and usage records under their
// name and resolve in item paths; unnamed ones fall back to args[i].
// An empty string skips a position.
func WithArgNames(names ...string) WrapOption {
	return func(o *wrapOptions) { o.argNames = append([]string(nil), names...) }
}

// Wrap returns a callable with the same signature as fn that records
// provenance around every invocation: usage and parameters resolved
// before the call, generation and derivations after. The wrapped
// callable's behavior is unchanged. A panic inside fn propagates to
// the caller and no records are emitted for that invocation.
//
// The returned value must be type-asserted back; WrapAs keeps the
// static type.
func (e *Engine) Wrap(activity string, fn any, opts ...WrapOption) any {
	return e.wrap(activity, fn, nil, opts)
}

// WrapAs wraps fn preserving its function type.
func WrapAs[F any](e *Engine, activity string, fn F, opts ...WrapOption) F {
	return e.wrap(activity, fn, nil, opts).(F)
}

// WrapMethods wraps the named methods of receiver, returning bound
// callables keyed by method name. Each method name doubles as the
// activity name, and the receiver is the resolution scope for that
// activity's declared items.
func (e *Engine) WrapMethods(receiver any, names ...string) map[string]any {
	out := make(map[string]any, len(names))
	v := reflect.ValueOf(receiver)
	for _, name := range names {
		m := v.MethodByName(name)
		if !m.IsValid() {
			e.logger.Warn("method not found for wrapping", "method", name, "type", v.Type().String())
			continue
		}
		out[name] = e.wrap(name, m.Interface(), receiver, nil)
	}
	return out
}

func (e *Engine) wrap(activity string, fn any, receiver any, opts []WrapOption) any {
	var wo wrapOptions
	for _, opt := range opts {
		opt(&wo)
	}
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func {
		panic(fmt.Sprintf("capture: Wrap requires a func, got %T", fn))
	}
	wrapped := reflect.MakeFunc(fv.Type(), func(in []reflect.Value) []reflect.Value {
		return e.invoke(activity, fv, in, receiver, wo.argNames)
	})
	return wrapped.Interface()
}

// invoke is the interception path. Capture runs in two stages around
// the call, each behind a recover barrier so a capture failure can
// never alter the traced program. Records computed before the call are
// buffered and only emitted after fn returns normally; a panic in fn
// therefore leaves no trace of the invocation.
func (e *Engine) invoke(activity string, fn reflect.Value, in []reflect.Value, receiver any, argNames []string) []reflect.Value {
	bindings := bindArgs(in, argNames)
	scope := scopeFor(receiver, bindings)
	if !e.logIsActive(scope) {
		return call(fn, in)
	}

	if _, ok := e.defs.Activity(activity); !ok {
		e.logger.Warn("no activity description, recording without declared items", "activity", activity)
	}

	activityID := newToken()
	start := e.now()

	var pre []record.Record
	e.captureStage(activity, "pre-call", func() {
		pre = append(pre, e.derivationRecords(scope, activity)...)
		usage, usedIDs := e.usageRecords(scope, activity, activityID)
		pre = append(pre, usage...)
		pre = append(pre, e.parameterRecords(scope, activity, activityID, bindings, usedIDs)...)
	})

	out := call(fn, in)
	end := e.now()

	e.captureStage(activity, "post-call", func() {
		sessionID := e.logSession(scope, start)
		e.logStartActivity(activity, activityID, sessionID, start)
		for _, rec := range pre {
			e.emit(rec)
		}
		if err := callError(out); err != nil {
			e.logger.Warn("activity returned an error, skipping generation records",
				"activity", activity, "error", err)
		} else {
			e.logGeneration(scope, activity, activityID, resultValue(out))
		}
		e.logFinishActivity(activityID, end)
	})
	return out
}

// captureStage runs one capture stage behind a recover barrier.
func (e *Engine) captureStage(activity, stage string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("provenance capture failed",
				"activity", activity, "stage", stage, "error", fmt.Sprint(r))
		}
	}()
	fn()
}

func call(fn reflect.Value, in []reflect.Value) []reflect.Value {
	if fn.Type().IsVariadic() {
		return fn.CallSlice(in)
	}
	return fn.Call(in)
}

// bindArgs pairs call arguments with their declared names. Contexts
// are skipped; they carry no provenance.
func bindArgs(in []reflect.Value, argNames []string) []argBinding {
	bindings := make([]argBinding, 0, len(in))
	for i, v := range in {
		if !v.IsValid() || !v.CanInterface() {
			continue
		}
		value := v.Interface()
		if _, ok := value.(context.Context); ok {
			continue
		}
		b := argBinding{value: value, name: fmt.Sprintf("args[%d]", i)}
		if i < len(argNames) && argNames[i] != "" {
			b.name = argNames[i]
			b.named = true
		}
		bindings = append(bindings, b)
	}
	return bindings
}

// scopeFor builds the resolution scope of one invocation. A bound
// receiver is the primary target; failing that, a struct- or
// map-shaped first argument serves. Named arguments, the positional
// list and the named map are layered on as extras either way.
func scopeFor(receiver any, bindings []argBinding) any {
	extras := map[string]any{}
	args := make([]any, 0, len(bindings))
	kwargs := map[string]any{}
	for _, b := range bindings {
		args = append(args, b.value)
		if b.named {
			kwargs[b.name] = b.value
			extras[b.name] = b.value
		}
	}
	extras["args"] = args
	extras["kwargs"] = kwargs

	if receiver != nil {
		return &Scope{Target: receiver, Extras: extras}
	}
	if len(bindings) > 0 && isStructured(bindings[0].value) {
		return &Scope{Target: bindings[0].value, Extras: extras}
	}
	return &Scope{Extras: extras}
}

func isStructured(value any) bool {
	v := reflect.ValueOf(value)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return false
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Struct, reflect.Map:
		return true
	}
	return false
}

// resultValue picks the returned value to record: the first non-error
// output, nil when there is none.
func resultValue(out []reflect.Value) any {
	for _, v := range out {
		if v.Type() == errorType {
			continue
		}
		if !v.CanInterface() {
			continue
		}
		value := v.Interface()
		if value == nil {
			continue
		}
		return value
	}
	return nil
}

// callError extracts a non-nil error output, if any.
func callError(out []reflect.Value) error {
	for _, v := range out {
		if v.Type() != errorType || v.IsNil() {
			continue
		}
		if err, ok := v.Interface().(error); ok {
			return err
		}
	}
	return nil
}
