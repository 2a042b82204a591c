package codec

import (
	"encoding/json"
	"fmt"
	"reflect"

	"dcc-bridge/envelope"
)

// JSONCodec uses encoding/json for serialization, extended with the type-hook
// table for domain values. JSON keeps the wire human-readable, which matters
// when debugging a worker you cannot attach to, and its string escaping keeps
// embedded line breaks out of the framing layer.
type JSONCodec struct {
	hooks *Hooks
}

// NewJSONCodec creates a codec backed by the given hook table. A nil table is
// replaced with an empty one, supporting built-in values only.
func NewJSONCodec(hooks *Hooks) *JSONCodec {
	if hooks == nil {
		hooks = NewHooks()
	}
	return &JSONCodec{hooks: hooks}
}

func (c *JSONCodec) EncodeRequest(req *envelope.Request) ([]byte, error) {
	if req.Command == "" {
		return nil, envelope.ErrEmptyCommand
	}
	args, err := c.lowerSlice(req.Args)
	if err != nil {
		return nil, err
	}
	kwargs, err := c.lowerMap(req.Kwargs)
	if err != nil {
		return nil, err
	}
	wire := envelope.Request{ID: req.ID, Command: req.Command, Args: args, Kwargs: kwargs}
	return json.Marshal(&wire)
}

func (c *JSONCodec) DecodeRequest(data []byte) (*envelope.Request, error) {
	req := new(envelope.Request)
	if err := json.Unmarshal(data, req); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if req.Command == "" {
		return nil, &DecodeError{Err: envelope.ErrEmptyCommand}
	}
	args, err := c.raiseSlice(req.Args)
	if err != nil {
		return nil, err
	}
	kwargs, err := c.raiseMap(req.Kwargs)
	if err != nil {
		return nil, err
	}
	req.Args = args
	req.Kwargs = kwargs
	return req, nil
}

func (c *JSONCodec) EncodeResponse(resp *envelope.Response) ([]byte, error) {
	result, err := c.lower(resp.Result)
	if err != nil {
		return nil, err
	}
	wire := *resp
	wire.Result = result
	return json.Marshal(&wire)
}

func (c *JSONCodec) DecodeResponse(data []byte) (*envelope.Response, error) {
	resp := new(envelope.Response)
	if err := json.Unmarshal(data, resp); err != nil {
		return nil, &DecodeError{Err: err}
	}
	result, err := c.raise(resp.Result)
	if err != nil {
		return nil, err
	}
	resp.Result = result
	return resp, nil
}

// lower rewrites a value tree into JSON-native form, replacing registered
// domain values with tagged objects. Unknown types fail the whole encode.
func (c *JSONCodec) lower(v any) (any, error) {
	switch val := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return val, nil
	case []any:
		return c.lowerSlice(val)
	case map[string]any:
		return c.lowerMap(val)
	default:
		hk, ok := c.hooks.forType(reflect.TypeOf(v))
		if !ok {
			return nil, &UnsupportedTypeError{Type: reflect.TypeOf(v)}
		}
		args, kwargs, err := hk.encode(v)
		if err != nil {
			return nil, fmt.Errorf("codec: encode %q value: %w", hk.tag, err)
		}
		loweredArgs, err := c.lowerSlice(args)
		if err != nil {
			return nil, err
		}
		loweredKwargs, err := c.lowerMap(kwargs)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			classKey:      hk.tag,
			superClassKey: superClass,
			argsKey:       loweredArgs,
			kwargsKey:     loweredKwargs,
		}, nil
	}
}

func (c *JSONCodec) lowerSlice(s []any) ([]any, error) {
	if s == nil {
		return []any{}, nil
	}
	out := make([]any, len(s))
	for i, v := range s {
		lowered, err := c.lower(v)
		if err != nil {
			return nil, err
		}
		out[i] = lowered
	}
	return out, nil
}

func (c *JSONCodec) lowerMap(m map[string]any) (map[string]any, error) {
	if m == nil {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		lowered, err := c.lower(v)
		if err != nil {
			return nil, err
		}
		out[k] = lowered
	}
	return out, nil
}

// raise walks a freshly unmarshalled value tree and revives tagged domain
// values through their registered decode hooks. Mappings without a matching
// tag pass through untouched.
func (c *JSONCodec) raise(v any) (any, error) {
	switch val := v.(type) {
	case []any:
		return c.raiseSlice(val)
	case map[string]any:
		if hk, ok := c.hooks.tagged(val); ok {
			return c.raiseTagged(hk, val)
		}
		return c.raiseMap(val)
	default:
		return val, nil
	}
}

func (c *JSONCodec) raiseTagged(hk *hook, m map[string]any) (any, error) {
	args, _ := m[argsKey].([]any)
	kwargs, _ := m[kwargsKey].(map[string]any)
	raisedArgs, err := c.raiseSlice(args)
	if err != nil {
		return nil, err
	}
	raisedKwargs, err := c.raiseMap(kwargs)
	if err != nil {
		return nil, err
	}
	out, err := hk.decode(raisedArgs, raisedKwargs)
	if err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("decode %q value: %w", hk.tag, err)}
	}
	return out, nil
}

func (c *JSONCodec) raiseSlice(s []any) ([]any, error) {
	if s == nil {
		return []any{}, nil
	}
	out := make([]any, len(s))
	for i, v := range s {
		raised, err := c.raise(v)
		if err != nil {
			return nil, err
		}
		out[i] = raised
	}
	return out, nil
}

func (c *JSONCodec) raiseMap(m map[string]any) (map[string]any, error) {
	if m == nil {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		raised, err := c.raise(v)
		if err != nil {
			return nil, err
		}
		out[k] = raised
	}
	return out, nil
}
