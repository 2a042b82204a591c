// Package worker provides the stand-in command surface served by the bundled
// dccworker binary. In production each host adapter (Maya, 3ds Max, Blender)
// supplies its own registry and type hooks; this package fills that role for
// tests and for driving the bridge without a DCC install.
package worker

import (
	"fmt"
	"time"

	"dcc-bridge/codec"
	"dcc-bridge/listener"
)

// Point3 is the demo domain value: a type the generic codec cannot represent
// natively, carried over the wire through the hook table the way geometry
// values are in a real host adapter.
type Point3 struct {
	X, Y, Z float64
}

// Point3Tag is the wire tag Point3 values are lowered under.
const Point3Tag = "Point3"

// Hooks returns a type-hook table with the demo domain types registered.
// Both sides of the bridge must use the same table.
func Hooks() (*codec.Hooks, error) {
	hooks := codec.NewHooks()
	err := hooks.Register(Point3Tag, Point3{},
		func(v any) ([]any, map[string]any, error) {
			p, ok := v.(Point3)
			if !ok {
				return nil, nil, fmt.Errorf("expected Point3, got %T", v)
			}
			return []any{p.X, p.Y, p.Z}, nil, nil
		},
		func(args []any, _ map[string]any) (any, error) {
			if len(args) != 3 {
				return nil, fmt.Errorf("Point3 wants 3 components, got %d", len(args))
			}
			var p Point3
			var err error
			if p.X, err = toFloat(args[0]); err != nil {
				return nil, err
			}
			if p.Y, err = toFloat(args[1]); err != nil {
				return nil, err
			}
			if p.Z, err = toFloat(args[2]); err != nil {
				return nil, err
			}
			return p, nil
		},
	)
	if err != nil {
		return nil, err
	}
	return hooks, nil
}

// Commands builds the baseline handler registry.
func Commands() (*listener.Registry, error) {
	reg := listener.NewRegistry()

	register := func(name string, h listener.Handler) error {
		return reg.Register(name, h)
	}

	if err := register("ping", func(_ []any, _ map[string]any) (any, error) {
		return "pong", nil
	}); err != nil {
		return nil, err
	}

	// echo returns the keyword argument named value, falling back to the
	// first positional argument.
	if err := register("echo", func(args []any, kwargs map[string]any) (any, error) {
		if v, ok := kwargs["value"]; ok {
			return v, nil
		}
		if len(args) > 0 {
			return args[0], nil
		}
		return nil, nil
	}); err != nil {
		return nil, err
	}

	// sleep blocks the dispatch loop for the given number of seconds. It
	// exists to exercise join timeouts against a deliberately slow command.
	if err := register("sleep", func(args []any, kwargs map[string]any) (any, error) {
		raw, ok := kwargs["seconds"]
		if !ok && len(args) > 0 {
			raw = args[0]
		}
		seconds, err := toFloat(raw)
		if err != nil {
			return nil, fmt.Errorf("sleep: %w", err)
		}
		time.Sleep(time.Duration(seconds * float64(time.Second)))
		return seconds, nil
	}); err != nil {
		return nil, err
	}

	// offset translates a Point3 by the dx/dy/dz keyword arguments,
	// round-tripping a domain value through the hook table both ways.
	if err := register("offset", func(args []any, kwargs map[string]any) (any, error) {
		if len(args) < 1 {
			return nil, fmt.Errorf("offset: missing point argument")
		}
		p, ok := args[0].(Point3)
		if !ok {
			return nil, fmt.Errorf("offset: expected Point3, got %T", args[0])
		}
		for key, field := range map[string]*float64{"dx": &p.X, "dy": &p.Y, "dz": &p.Z} {
			if raw, ok := kwargs[key]; ok {
				delta, err := toFloat(raw)
				if err != nil {
					return nil, fmt.Errorf("offset: %s: %w", key, err)
				}
				*field += delta
			}
		}
		return p, nil
	}); err != nil {
		return nil, err
	}

	// commands lists the registered command surface.
	if err := register("commands", func(_ []any, _ map[string]any) (any, error) {
		names := reg.Names()
		out := make([]any, len(names))
		for i, name := range names {
			out[i] = name
		}
		return out, nil
	}); err != nil {
		return nil, err
	}

	return reg, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}
