package supervisor

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPort is the well-known command port a worker binds when none is
// given on its command line.
const DefaultPort = 8000

// Duration wraps time.Duration so YAML configs can say "3s" or "500ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("supervisor: parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config describes how to launch and reach one standalone worker. The
// controller has to know where the host application lives; that cannot be
// derived, so it arrives here, usually from a YAML file shipped with the
// pipeline configuration.
type Config struct {
	// HostExecutable is the headless host binary, e.g. mayapy or
	// 3dsmaxbatch. Required for Start; probing and stopping an externally
	// launched worker work without it.
	HostExecutable string `yaml:"hostExecutable"`

	// EntryScript is the worker entry point handed to the host executable.
	// Empty when the executable is itself the worker.
	EntryScript string `yaml:"entryScript"`

	// Args are extra arguments inserted before the port.
	Args []string `yaml:"args"`

	// Env entries are appended to the spawned worker's environment.
	Env []string `yaml:"env"`

	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	DialTimeout   Duration `yaml:"dialTimeout"`
	JoinTimeout   Duration `yaml:"joinTimeout"`
	StartupProbes int      `yaml:"startupProbes"`
	ProbeInterval Duration `yaml:"probeInterval"`
	StopGrace     Duration `yaml:"stopGrace"`
}

// DefaultConfig returns the loopback defaults. HostExecutable is left empty
// and must be filled in before Start can spawn anything.
func DefaultConfig() Config {
	return Config{
		Host:          "127.0.0.1",
		Port:          DefaultPort,
		DialTimeout:   Duration(3 * time.Second),
		JoinTimeout:   Duration(10 * time.Second),
		StartupProbes: 5,
		ProbeInterval: Duration(500 * time.Millisecond),
		StopGrace:     Duration(5 * time.Second),
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("supervisor: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("supervisor: parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Host == "" {
		return fmt.Errorf("supervisor: host must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("supervisor: port %d out of range", c.Port)
	}
	return nil
}

// Endpoint returns the host:port the worker's listener is expected on.
func (c Config) Endpoint() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
