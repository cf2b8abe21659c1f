// Package transform reshapes packet payloads with jq expressions.
package transform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/itchyny/gojq"

	"github.com/tsarna/shellwire/pkg/shellwire/rpc"
)

// Filter is a compiled jq expression. The packet kind is available to it as $kind.
type Filter struct {
	query string
	code  *gojq.Code
}

// Compile parses and compiles query.
//
//	f, err := transform.Compile(`select(.maximized) | {state: "max", kind: $kind}`)
func Compile(query string) (*Filter, error) {
	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JQ query '%s': %w", query, err)
	}

	code, err := gojq.Compile(parsed, gojq.WithVariables([]string{"$kind"}))
	if err != nil {
		return nil, fmt.Errorf("failed to compile JQ query '%s': %w", query, err)
	}

	return &Filter{query: query, code: code}, nil
}

func (f *Filter) String() string { return f.query }

// Apply runs the filter over a JSON payload. A single result is returned as is and
// several are collected into a slice. When the filter yields nothing, ok is false and
// the packet should be dropped.
func (f *Filter) Apply(ctx context.Context, kind string, payload json.RawMessage) (result any, ok bool, err error) {
	var input any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &input); err != nil {
			return nil, false, fmt.Errorf("%w: %v", rpc.ErrMalformedEnvelope, err)
		}
	}

	var results []any
	iter := f.code.RunWithContext(ctx, input, kind)
	for {
		v, more := iter.Next()
		if !more {
			break
		}
		if err, isErr := v.(error); isErr {
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.Value() == nil {
				break
			}
			return nil, false, fmt.Errorf("JQ query '%s' failed: %w", f.query, err)
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, false, nil
	case 1:
		return results[0], true, nil
	default:
		return results, true, nil
	}
}

// Handler returns a packet handler that filters payloads before passing them to emit.
// Dropped packets never reach emit.
func (f *Filter) Handler(kind string, emit func(ctx context.Context, value any) error) rpc.PacketHandler {
	return func(ctx context.Context, payload json.RawMessage) error {
		value, ok, err := f.Apply(ctx, kind, payload)
		if err != nil || !ok {
			return err
		}
		return emit(ctx, value)
	}
}
