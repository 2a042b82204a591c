package listener_test

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcc-bridge/codec"
	"dcc-bridge/envelope"
	"dcc-bridge/listener"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRegistry(t *testing.T) *listener.Registry {
	t.Helper()
	reg := listener.NewRegistry()
	require.NoError(t, reg.Register("echo", func(args []any, kwargs map[string]any) (any, error) {
		if v, ok := kwargs["value"]; ok {
			return v, nil
		}
		if len(args) > 0 {
			return args[0], nil
		}
		return nil, nil
	}))
	require.NoError(t, reg.Register("fail", func(_ []any, _ map[string]any) (any, error) {
		return nil, fmt.Errorf("scene not loaded")
	}))
	require.NoError(t, reg.Register("explode", func(_ []any, _ map[string]any) (any, error) {
		panic("handler exploded")
	}))
	return reg
}

// startListener binds an ephemeral loopback port and runs the accept loop in
// the background. The returned channel yields Run's error once the loop ends.
func startListener(t *testing.T) (string, <-chan error) {
	t.Helper()
	l, err := listener.New("127.0.0.1:0", testRegistry(t), codec.NewJSONCodec(nil), discard())
	require.NoError(t, err)
	t.Cleanup(l.Stop)

	done := make(chan error, 1)
	go func() { done <- l.Run() }()
	return l.Addr().String(), done
}

// roundTrip performs one raw one-shot exchange: one unit out, one unit back.
func roundTrip(t *testing.T, addr, unit string) *envelope.Response {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(unit + "\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)

	resp := new(envelope.Response)
	require.NoError(t, json.Unmarshal([]byte(line), resp))
	return resp
}

func TestRegistry(t *testing.T) {
	reg := listener.NewRegistry()
	noop := func(_ []any, _ map[string]any) (any, error) { return nil, nil }

	assert.Error(t, reg.Register("", noop))
	assert.Error(t, reg.Register("ls", nil))
	require.NoError(t, reg.Register("ls", noop))
	assert.Error(t, reg.Register("ls", noop), "duplicate registration must fail")

	_, ok := reg.Resolve("ls")
	assert.True(t, ok)
	_, ok = reg.Resolve("doesNotExist")
	assert.False(t, ok)

	require.NoError(t, reg.Register("createNode", noop))
	assert.Equal(t, []string{"createNode", "ls"}, reg.Names())
}

func TestBindFailureIsFatal(t *testing.T) {
	first, err := listener.New("127.0.0.1:0", testRegistry(t), codec.NewJSONCodec(nil), discard())
	require.NoError(t, err)
	t.Cleanup(first.Stop)

	_, err = listener.New(first.Addr().String(), testRegistry(t), codec.NewJSONCodec(nil), discard())
	require.Error(t, err)
}

func TestServeCommand(t *testing.T) {
	addr, _ := startListener(t)

	resp := roundTrip(t, addr, `{"command":"echo","args":[],"kwargs":{"value":42}}`)
	assert.True(t, resp.Success)
	assert.Equal(t, "echo", resp.Command)
	assert.Equal(t, float64(42), resp.Result)
}

func TestMalformedUnitGetsFailureResponse(t *testing.T) {
	addr, _ := startListener(t)

	resp := roundTrip(t, addr, `this is not a request`)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Exception)

	// The worker is not corrupted by the malformed unit.
	resp = roundTrip(t, addr, `{"command":"echo","args":[1],"kwargs":{}}`)
	assert.True(t, resp.Success)
}

func TestUnknownCommand(t *testing.T) {
	addr, _ := startListener(t)

	resp := roundTrip(t, addr, `{"command":"doesNotExist","args":[],"kwargs":{}}`)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Exception, "not found")

	resp = roundTrip(t, addr, `{"command":"echo","args":[],"kwargs":{"value":1}}`)
	assert.True(t, resp.Success)
}

func TestHandlerErrorKeepsWorkerAvailable(t *testing.T) {
	addr, _ := startListener(t)

	resp := roundTrip(t, addr, `{"command":"fail","args":[],"kwargs":{}}`)
	assert.False(t, resp.Success)
	assert.Equal(t, "scene not loaded", resp.Exception)

	resp = roundTrip(t, addr, `{"command":"echo","args":["still here"],"kwargs":{}}`)
	assert.True(t, resp.Success)
	assert.Equal(t, "still here", resp.Result)
}

func TestHandlerPanicKeepsWorkerAvailable(t *testing.T) {
	addr, _ := startListener(t)

	resp := roundTrip(t, addr, `{"command":"explode","args":[],"kwargs":{}}`)
	assert.False(t, resp.Success)
	assert.Equal(t, "handler exploded", resp.Exception)
	assert.NotEmpty(t, resp.Traceback)

	resp = roundTrip(t, addr, `{"command":"echo","args":[],"kwargs":{"value":true}}`)
	assert.True(t, resp.Success)
}

func TestQuitStopsLoop(t *testing.T) {
	addr, done := startListener(t)

	resp := roundTrip(t, addr, `{"command":"quit","args":[],"kwargs":{}}`)
	assert.True(t, resp.Success, "quit responds before the loop stops")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after quit")
	}

	_, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err, "port must be released after quit")
}

func TestTeardownRunsOnQuit(t *testing.T) {
	reg := testRegistry(t)
	l, err := listener.New("127.0.0.1:0", reg, codec.NewJSONCodec(nil), discard())
	require.NoError(t, err)
	t.Cleanup(l.Stop)

	torndown := false
	l.SetTeardown(func() { torndown = true })

	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	roundTrip(t, l.Addr().String(), `{"command":"quit","args":[],"kwargs":{}}`)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after quit")
	}
	assert.True(t, torndown)
}

func TestPostDispatchPumpsAfterEveryCommand(t *testing.T) {
	reg := testRegistry(t)
	l, err := listener.New("127.0.0.1:0", reg, codec.NewJSONCodec(nil), discard())
	require.NoError(t, err)
	t.Cleanup(l.Stop)

	var pumped atomic.Int32
	l.SetPostDispatch(func() { pumped.Add(1) })
	go l.Run()

	addr := l.Addr().String()
	roundTrip(t, addr, `{"command":"echo","args":[1],"kwargs":{}}`)
	roundTrip(t, addr, `{"command":"fail","args":[],"kwargs":{}}`)
	assert.Equal(t, int32(2), pumped.Load(), "the pump runs after failures too")
}

func TestStopUnblocksAccept(t *testing.T) {
	l, err := listener.New("127.0.0.1:0", testRegistry(t), codec.NewJSONCodec(nil), discard())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- l.Run() }()
	time.Sleep(50 * time.Millisecond)

	l.Stop()
	select {
	case err := <-done:
		require.NoError(t, err, "the shutdown accept error is swallowed")
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

// TestResultEncodingFailureIsReported covers a handler returning a value the
// codec cannot represent: the caller still gets a well-formed failure.
func TestResultEncodingFailureIsReported(t *testing.T) {
	reg := listener.NewRegistry()
	require.NoError(t, reg.Register("opaque", func(_ []any, _ map[string]any) (any, error) {
		return struct{ C chan int }{}, nil
	}))
	l, err := listener.New("127.0.0.1:0", reg, codec.NewJSONCodec(nil), discard())
	require.NoError(t, err)
	t.Cleanup(l.Stop)
	go l.Run()

	resp := roundTrip(t, l.Addr().String(), `{"command":"opaque","args":[],"kwargs":{}}`)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Exception, "unsupported value type")
}
