package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	body := []byte(`{"command":"ls","args":[],"kwargs":{}}`)

	if err := Encode(&buf, body); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := Decode(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !bytes.Equal(decoded, body) {
		t.Fatalf("body mismatch: got %q, want %q", decoded, body)
	}
}

func TestDecodeMultipleUnits(t *testing.T) {
	var buf bytes.Buffer
	Encode(&buf, []byte("first"))
	Encode(&buf, []byte("second"))

	r := bufio.NewReader(&buf)
	for _, want := range []string{"first", "second"} {
		got, err := Decode(r)
		if err != nil {
			t.Fatalf("decode %q: %v", want, err)
		}
		if string(got) != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
	if _, err := Decode(r); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after last unit, got %v", err)
	}
}

func TestEncodeRejectsEmbeddedNewline(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, []byte("split\nunit")); !errors.Is(err, ErrEmbeddedNewline) {
		t.Fatalf("expected ErrEmbeddedNewline, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatal("rejected unit must not reach the stream")
	}
}

func TestDecodeMissingTerminator(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("no terminator here"))
	if _, err := Decode(r); !errors.Is(err, ErrMissingTerminator) {
		t.Fatalf("expected ErrMissingTerminator, got %v", err)
	}
}

func TestDecodeEmptyUnit(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("\n"))
	body, err := Decode(r)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(body) != 0 {
		t.Fatalf("expected empty body, got %q", body)
	}
}

func TestDecodeOversizeUnit(t *testing.T) {
	huge := strings.Repeat("x", MaxUnitSize+2)
	r := bufio.NewReader(strings.NewReader(huge))
	if _, err := Decode(r); !errors.Is(err, ErrUnitTooLarge) {
		t.Fatalf("expected ErrUnitTooLarge, got %v", err)
	}
}

func TestEncodeOversizeUnit(t *testing.T) {
	var buf bytes.Buffer
	huge := bytes.Repeat([]byte("x"), MaxUnitSize+1)
	if err := Encode(&buf, huge); !errors.Is(err, ErrUnitTooLarge) {
		t.Fatalf("expected ErrUnitTooLarge, got %v", err)
	}
}
