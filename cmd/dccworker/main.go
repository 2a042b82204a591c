// dccworker is a stand-in standalone worker: it binds the command port and
// serves the baseline command surface without a hosted DCC runtime.
//
// The launch contract matches the real hosts:
//
//	dccworker [--host addr] [--port n] [port]
//
// A trailing positional port overrides the flag, so a supervisor spawning
// `<executable> <port>` works unchanged.
package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"

	flag "github.com/spf13/pflag"

	"dcc-bridge/codec"
	"dcc-bridge/listener"
	"dcc-bridge/middleware"
	"dcc-bridge/supervisor"
	"dcc-bridge/worker"
)

func main() {
	host := flag.String("host", "127.0.0.1", "interface to bind the command port on")
	port := flag.Int("port", supervisor.DefaultPort, "command port")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		p, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "dccworker: invalid port %q\n", args[0])
			os.Exit(2)
		}
		*port = p
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	hooks, err := worker.Hooks()
	if err != nil {
		log.Error("register type hooks", "error", err)
		os.Exit(1)
	}
	reg, err := worker.Commands()
	if err != nil {
		log.Error("build command registry", "error", err)
		os.Exit(1)
	}

	addr := net.JoinHostPort(*host, strconv.Itoa(*port))
	l, err := listener.New(addr, reg, codec.NewJSONCodec(hooks), log)
	if err != nil {
		log.Error("bind command port", "addr", addr, "error", err)
		os.Exit(1)
	}
	l.Use(middleware.Logging(log))

	log.Info("worker ready", "addr", l.Addr(), "commands", reg.Names())
	if err := l.Run(); err != nil {
		log.Error("listener stopped", "error", err)
		os.Exit(1)
	}
}
