// Package codec serializes request and response envelopes to the wire form
// and back.
//
// The generic codec only understands JSON-native values: booleans, numbers,
// strings, ordered sequences, and string-keyed mappings. Host-specific values
// (geometry handles, transform matrices, ...) are matched against a table of
// registered type hooks and lowered into tagged objects of the form
//
//	{"class": "Point3", "superClass": "Value", "args": [x, y, z], "kwargs": {}}
//
// before marshalling, then raised back through the matching decode hook after
// unmarshalling. A value of an unregistered type fails encoding with
// *UnsupportedTypeError rather than silently downgrading.
package codec

import (
	"fmt"
	"reflect"

	"dcc-bridge/envelope"
)

// Codec converts envelopes to and from a single self-delimited unit body.
type Codec interface {
	EncodeRequest(req *envelope.Request) ([]byte, error)
	DecodeRequest(data []byte) (*envelope.Request, error)
	EncodeResponse(resp *envelope.Response) ([]byte, error)
	DecodeResponse(data []byte) (*envelope.Response, error)
}

// UnsupportedTypeError reports a value the codec cannot represent: neither a
// JSON-native type nor a registered domain type.
type UnsupportedTypeError struct {
	Type reflect.Type
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("codec: unsupported value type %s", e.Type)
}

// DecodeError reports a syntactically or structurally invalid unit. The
// listener and caller convert it into a failure envelope; it is never allowed
// to crash either loop.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec: decode unit: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
