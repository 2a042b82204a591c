package codec

import (
	"fmt"
	"reflect"
)

// Wire keys identifying a tagged domain value. The shape mirrors what the
// host-side value parsers emit: the tag under "class", a fixed superclass
// marker, and the constructor arguments under "args"/"kwargs".
const (
	classKey      = "class"
	superClassKey = "superClass"
	argsKey       = "args"
	kwargsKey     = "kwargs"
	superClass    = "Value"
)

// EncodeFunc lowers a domain value into constructor arguments. The returned
// args and kwargs must themselves be encodable (JSON-native or registered).
type EncodeFunc func(v any) (args []any, kwargs map[string]any, err error)

// DecodeFunc raises constructor arguments back into the domain value.
type DecodeFunc func(args []any, kwargs map[string]any) (any, error)

type hook struct {
	tag    string
	encode EncodeFunc
	decode DecodeFunc
}

// Hooks is the pluggable type-hook table: one (encode, decode) pair per
// domain value type the generic codec cannot represent natively. The table
// is populated by the host-adapter layer at start-up and read-only afterwards.
type Hooks struct {
	byTag  map[string]*hook
	byType map[reflect.Type]*hook
}

func NewHooks() *Hooks {
	return &Hooks{
		byTag:  make(map[string]*hook),
		byType: make(map[reflect.Type]*hook),
	}
}

// Register binds a type tag to the concrete type of prototype and its
// encode/decode pair. Registering an empty tag, a nil function, or a
// duplicate tag/type is an error.
func (h *Hooks) Register(tag string, prototype any, enc EncodeFunc, dec DecodeFunc) error {
	if tag == "" {
		return fmt.Errorf("codec: hook tag must not be empty")
	}
	if enc == nil || dec == nil {
		return fmt.Errorf("codec: hook %q needs both encode and decode functions", tag)
	}
	t := reflect.TypeOf(prototype)
	if t == nil {
		return fmt.Errorf("codec: hook %q registered with nil prototype", tag)
	}
	if _, ok := h.byTag[tag]; ok {
		return fmt.Errorf("codec: hook tag %q already registered", tag)
	}
	if prev, ok := h.byType[t]; ok {
		return fmt.Errorf("codec: type %s already registered as %q", t, prev.tag)
	}
	hk := &hook{tag: tag, encode: enc, decode: dec}
	h.byTag[tag] = hk
	h.byType[t] = hk
	return nil
}

func (h *Hooks) forType(t reflect.Type) (*hook, bool) {
	hk, ok := h.byType[t]
	return hk, ok
}

func (h *Hooks) forTag(tag string) (*hook, bool) {
	hk, ok := h.byTag[tag]
	return hk, ok
}

// tagged reports whether a decoded mapping is a tagged domain value for a
// registered hook, as opposed to an ordinary user mapping that happens to
// carry similar keys.
func (h *Hooks) tagged(m map[string]any) (*hook, bool) {
	tag, ok := m[classKey].(string)
	if !ok {
		return nil, false
	}
	if sc, ok := m[superClassKey].(string); !ok || sc != superClass {
		return nil, false
	}
	return h.forTag(tag)
}
