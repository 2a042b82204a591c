// Package protocol frames envelope units for transmission over a stream.
//
// Each request and each response travels as exactly one self-delimited text
// unit: the serialized envelope followed by a single '\n'. The receiver reads
// up to the terminator to recover the unit, so framing never depends on
// connection close or length prefixes.
//
//	┌──────────────────────────────┬──┐
//	│ serialized envelope (JSON)   │\n│
//	└──────────────────────────────┴──┘
//
// The codec's string escaping guarantees that no raw line break appears
// inside a unit body; Encode still rejects one outright so a misbehaving
// codec cannot silently split a unit in two.
package protocol

import (
	"bytes"
	"errors"
	"io"
)

// MaxUnitSize bounds a single unit. A worker command result larger than this
// indicates a protocol violation, not a legitimate payload.
const MaxUnitSize = 1 << 20 // 1MiB

var (
	// ErrEmbeddedNewline is returned by Encode when the body contains a raw
	// line break and therefore cannot be framed unambiguously.
	ErrEmbeddedNewline = errors.New("protocol: unit body contains a raw line break")

	// ErrUnitTooLarge is returned when a unit exceeds MaxUnitSize.
	ErrUnitTooLarge = errors.New("protocol: unit exceeds maximum size")

	// ErrMissingTerminator is returned by Decode when the stream ends before
	// the unit terminator arrives.
	ErrMissingTerminator = errors.New("protocol: stream ended before unit terminator")
)

// Encode writes one framed unit to w: the body followed by the terminator.
func Encode(w io.Writer, body []byte) error {
	if bytes.IndexByte(body, '\n') >= 0 {
		return ErrEmbeddedNewline
	}
	if len(body) > MaxUnitSize {
		return ErrUnitTooLarge
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if _, err := w.Write([]byte{'\n'}); err != nil {
		return err
	}
	return nil
}

// Decode reads exactly one framed unit from r and returns the body without
// its terminator. A stream that ends mid-unit yields ErrMissingTerminator;
// an empty stream yields io.EOF.
func Decode(r io.ByteReader) ([]byte, error) {
	var body []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && len(body) > 0 {
				return nil, ErrMissingTerminator
			}
			return nil, err
		}
		if b == '\n' {
			return body, nil
		}
		body = append(body, b)
		if len(body) > MaxUnitSize {
			return nil, ErrUnitTooLarge
		}
	}
}
