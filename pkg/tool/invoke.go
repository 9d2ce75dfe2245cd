package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/olav-network/olav/pkg/olaverr"
)

// DefaultTimeout is TOOL_TIMEOUT_SECONDS' default.
const DefaultTimeout = 60 * time.Second

// Invoke validates args against the tool's schema, then runs the handler
// under a deadline. Read tools are retried once on a Transient failure
// with a fresh context; write tools are never retried automatically.
func (r *Registry) Invoke(ctx Context, name string, args map[string]any) (*Result, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, olaverr.New(olaverr.NotFound, "tool %s is not registered", name)
	}

	if err := validateArgs(t.Schema, args); err != nil {
		return nil, olaverr.Wrap(olaverr.BadArguments, err)
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	result, err := callWithTimeout(ctx, t, args, timeout)
	if err == nil {
		return result, nil
	}

	if t.SideEffect == SideEffectRead && olaverr.Is(err, olaverr.Transient) {
		result, retryErr := callWithTimeout(ctx, t, args, timeout)
		if retryErr == nil {
			return result, nil
		}
		// Recurrence on a read path is surfaced as Unreachable, not Transient.
		return nil, olaverr.New(olaverr.Unreachable, "tool %s unreachable after retry: %s", name, retryErr.Error())
	}

	return nil, err
}

func callWithTimeout(ctx Context, t Tool, args map[string]any, timeout time.Duration) (*Result, error) {
	cctx, cancel := context.WithTimeout(ctx.Context, timeout)
	defer cancel()

	scoped := ctx
	scoped.Context = cctx

	type callOutcome struct {
		result *Result
		err    error
	}
	done := make(chan callOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callOutcome{err: olaverr.New(olaverr.InternalError, "tool %s panicked: %v", t.Name, r)}
			}
		}()
		result, err := t.Handle(scoped, args)
		done <- callOutcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, olaverr.Wrap(olaverr.InternalError, out.err)
		}
		return out.result, nil
	case <-cctx.Done():
		return nil, olaverr.New(olaverr.Timeout, "tool %s exceeded %s", t.Name, timeout)
	}
}

// validateArgs checks required fields and basic JSON types declared in
// schema against the supplied arguments. It does not attempt full JSON
// Schema validation (no $ref resolution, no nested object recursion
// beyond one level) — the tool catalogue in this module uses flat
// argument shapes, so this stays proportionate rather than vendoring a
// full validator for a handful of fields.
func validateArgs(schema map[string]any, args map[string]any) error {
	if schema == nil {
		return nil
	}
	required, _ := schema["required"].([]any)
	for _, r := range required {
		name, ok := r.(string)
		if !ok {
			continue
		}
		if _, present := args[name]; !present {
			return fmt.Errorf("missing required argument %q", name)
		}
	}

	properties, _ := schema["properties"].(map[string]any)
	for name, value := range args {
		propSchema, ok := properties[name].(map[string]any)
		if !ok {
			continue
		}
		wantType, _ := propSchema["type"].(string)
		if wantType == "" {
			continue
		}
		if !matchesJSONType(value, wantType) {
			return fmt.Errorf("argument %q: expected type %s", name, wantType)
		}
	}
	return nil
}

func matchesJSONType(value any, jsonType string) bool {
	switch jsonType {
	case "string":
		_, ok := value.(string)
		return ok
	case "number", "integer":
		switch value.(type) {
		case float64, float32, int, int32, int64:
			return true
		default:
			return false
		}
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	default:
		return true
	}
}
