// Package supervisor owns the lifecycle of the standalone worker process:
// spawning it, probing whether its listener is bound, and stopping it through
// the reserved quit command.
//
// One supervisor instance owns one well-known endpoint. The probe/spawn pair
// still races against other processes supervising the same port: two
// controllers that both observe "not alive" can both spawn, and the second
// worker dies on the bind. Within a single supervisor the race is collapsed
// through singleflight.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"dcc-bridge/caller"
	"dcc-bridge/codec"
	"dcc-bridge/listener"
)

// Supervisor spawns, probes, and stops the worker bound to one endpoint.
type Supervisor struct {
	cfg    Config
	log    *slog.Logger
	client *caller.Client
	flight singleflight.Group

	mu     sync.Mutex
	cmd    *exec.Cmd
	exited chan struct{} // closed once the spawned worker has been reaped
}

// New creates a supervisor for the endpoint in cfg. Zero-valued timing
// fields fall back to the defaults. The codec must carry the same type hooks
// the worker registers, or domain values in results will not survive the
// trip back.
func New(cfg Config, c codec.Codec, log *slog.Logger) *Supervisor {
	defaults := DefaultConfig()
	if cfg.Host == "" {
		cfg.Host = defaults.Host
	}
	if cfg.Port == 0 {
		cfg.Port = defaults.Port
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = defaults.JoinTimeout
	}
	if cfg.StartupProbes <= 0 {
		cfg.StartupProbes = defaults.StartupProbes
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaults.ProbeInterval
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaults.StopGrace
	}

	client := caller.NewClient(cfg.Endpoint(), c, log)
	client.DialTimeout = cfg.DialTimeout.Std()
	client.JoinTimeout = cfg.JoinTimeout.Std()
	return &Supervisor{
		cfg:    cfg,
		log:    log.With("component", "supervisor"),
		client: client,
	}
}

// Client returns the caller bound to the supervised endpoint.
func (s *Supervisor) Client() *caller.Client {
	return s.client
}

// IsAlive probes the endpoint with a plain connection attempt: success means
// a listener is currently bound there, refusal or timeout means it is not.
// This is a point-in-time observation, not a guarantee; the worker can die
// or appear between the probe and the next call.
func (s *Supervisor) IsAlive() bool {
	conn, err := net.DialTimeout("tcp", s.cfg.Endpoint(), s.cfg.DialTimeout.Std())
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Start spawns the worker subprocess if no listener answers on the endpoint.
// An already-alive endpoint is a warning and a no-op, never a second spawn.
// Start returns as soon as the process is launched; it does not wait for the
// listener to come up; use WaitUntilAlive for that.
func (s *Supervisor) Start() error {
	_, err, _ := s.flight.Do("start", func() (any, error) {
		if s.IsAlive() {
			s.log.Warn("worker already listening", "endpoint", s.cfg.Endpoint())
			return nil, nil
		}
		return nil, s.spawn()
	})
	return err
}

// spawn launches <hostExecutable> [entryScript] [args...] <port>.
func (s *Supervisor) spawn() error {
	if s.cfg.HostExecutable == "" {
		return fmt.Errorf("supervisor: host executable not configured")
	}

	argv := make([]string, 0, len(s.cfg.Args)+2)
	if s.cfg.EntryScript != "" {
		argv = append(argv, s.cfg.EntryScript)
	}
	argv = append(argv, s.cfg.Args...)
	argv = append(argv, strconv.Itoa(s.cfg.Port))

	cmd := exec.Command(s.cfg.HostExecutable, argv...)
	if len(s.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("supervisor: start worker: %w", err)
	}

	exited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(exited)
	}()

	s.mu.Lock()
	s.cmd = cmd
	s.exited = exited
	s.mu.Unlock()

	s.log.Info("worker spawned",
		"executable", s.cfg.HostExecutable, "pid", cmd.Process.Pid, "endpoint", s.cfg.Endpoint())
	return nil
}

// Pid returns the spawned worker's pid, or 0 when this supervisor has not
// spawned one.
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// WaitUntilAlive probes until the worker's listener answers, the configured
// probe budget runs out, or ctx is done. A freshly spawned host can take a
// while to initialize its runtime before the listener binds, so Start alone
// is not enough before the first Send.
func (s *Supervisor) WaitUntilAlive(ctx context.Context) error {
	probes := s.cfg.StartupProbes
	if probes <= 0 {
		probes = 1
	}
	for i := 0; i < probes; i++ {
		if s.IsAlive() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeAfter(s.cfg.ProbeInterval):
		}
	}
	return fmt.Errorf("supervisor: worker at %s not reachable after %d probes", s.cfg.Endpoint(), probes)
}

// Stop sends the reserved quit command through the normal caller path, then
// waits for a worker this supervisor spawned to exit, escalating to a kill
// after the grace period. A worker that is already gone is a no-op.
func (s *Supervisor) Stop(ctx context.Context) error {
	if !s.IsAlive() {
		return nil
	}
	if _, err := s.client.Send(ctx, listener.QuitCommand, nil, nil); err != nil {
		s.log.Warn("quit command failed", "endpoint", s.cfg.Endpoint(), "error", err)
	}

	s.mu.Lock()
	cmd, exited := s.cmd, s.exited
	s.cmd, s.exited = nil, nil
	s.mu.Unlock()
	if cmd == nil {
		// Worker launched by someone else; quit is all we can do.
		return nil
	}

	select {
	case <-exited:
		s.log.Info("worker exited", "pid", cmd.Process.Pid)
		return nil
	case <-ctx.Done():
		cmd.Process.Kill()
		return ctx.Err()
	case <-timeAfter(s.cfg.StopGrace):
		s.log.Warn("worker did not exit after quit, killing", "pid", cmd.Process.Pid)
		if err := cmd.Process.Kill(); err != nil {
			return fmt.Errorf("supervisor: kill worker: %w", err)
		}
		<-exited
		return nil
	}
}

func timeAfter(d Duration) <-chan time.Time {
	return time.After(d.Std())
}
