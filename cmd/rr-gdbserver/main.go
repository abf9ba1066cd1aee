package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/replay-debug/gdbserver/gdbreq"
	"github.com/replay-debug/gdbserver/gdbserver"
	rrlog "github.com/replay-debug/gdbserver/internal/log"
	"github.com/replay-debug/gdbserver/timeline"
	"github.com/replay-debug/gdbserver/timeline/dlvengine"
	"github.com/replay-debug/gdbserver/timeline/fake"
	"github.com/replay-debug/gdbserver/wire"
)

// install: go install ./cmd/rr-gdbserver
const help = `
rr-gdbserver debugger-facing control core for a recorded trace

Usage: rr-gdbserver <cmd> [OPTIONS]

Available commands:
  help                               show help message

Options:
  --listen <addr>                    listen address (default: 127.0.0.1:9999)
  --dlv <addr>                       dial an already-running 'dlv --headless --backend=rr' at addr
                                      instead of running the built-in demo engine
  --tgid <n>                         debuggee task group id (default: 1)
  --event <n>                        trace event to stop replaying to before activating the debugger
  --require-exec                     record require-exec on the target (activation does not check it)
  --help   show help message
`

// demoTraceLength is the length of the synthetic trace the fake engine
// replays against when no --dlv address is given, so the binary is
// runnable without a recording on hand. A --dlv address that cannot be
// dialed is an error; there is no fallback to the demo engine.
const demoTraceLength = 1000

func main() {
	if err := handle(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func handle(args []string) error {
	if len(args) > 0 && args[0] == "help" {
		fmt.Println(strings.TrimSpace(help))
		return nil
	}

	var listen, dlvAddr string
	tgid := 1
	var event uint64
	var requireExec bool
	n := len(args)
	for i, arg := range args {
		switch arg {
		case "--listen":
			if i+1 >= n {
				return fmt.Errorf("%s requires arg", arg)
			}
			listen = args[i+1]
		case "--dlv":
			if i+1 >= n {
				return fmt.Errorf("%s requires arg", arg)
			}
			dlvAddr = args[i+1]
		case "--tgid":
			if i+1 >= n {
				return fmt.Errorf("%s requires arg", arg)
			}
			v, err := strconv.Atoi(args[i+1])
			if err != nil {
				return fmt.Errorf("--tgid: %w", err)
			}
			tgid = v
		case "--event":
			if i+1 >= n {
				return fmt.Errorf("%s requires arg", arg)
			}
			v, err := strconv.ParseUint(args[i+1], 10, 64)
			if err != nil {
				return fmt.Errorf("--event: %w", err)
			}
			event = v
		case "--require-exec":
			requireExec = true
		case "-h", "--help":
			fmt.Println(strings.TrimSpace(help))
			return nil
		}
	}

	if listen == "" {
		listen = "127.0.0.1:9999"
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("Failed to get user home directory: %v", err)
	}
	configDir := filepath.Join(homeDir, ".rr-gdbserver")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		log.Fatalf("Failed to create config directory: %v", err)
	}
	logPath := filepath.Join(configDir, "rr-gdbserver.log")
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()

	logger := rrlog.New(file)

	ln, err := wire.Listen(listen, logger)
	if err != nil {
		return fmt.Errorf("rr-gdbserver: %w", err)
	}
	defer ln.Close()
	log.Printf("rr-gdbserver listening on %s...", ln.Addr())

	tl, closeTl, err := dialTimeline(dlvAddr, tgid, logger)
	if err != nil {
		return fmt.Errorf("rr-gdbserver: %w", err)
	}
	defer closeTl()

	conn, err := ln.Accept()
	if err != nil {
		return fmt.Errorf("rr-gdbserver: accept: %w", err)
	}

	target := gdbserver.TargetSpec{PID: tgid, Event: event, RequireExec: requireExec}
	serve(conn, tl, logger, tgid, target)
	return nil
}

// dialTimeline connects to a real dlv --backend=rr headless server when
// --dlv is given, falling back to the in-memory demo engine otherwise.
func dialTimeline(dlvAddr string, tgid int, logger rrlog.Logger) (timeline.ReplayTimeline, func() error, error) {
	if dlvAddr == "" {
		log.Printf("rr-gdbserver: no --dlv address given, running the built-in demo engine")
		return fake.New(tgid, demoTraceLength), func() error { return nil }, nil
	}
	engine, err := dlvengine.Dial(context.Background(), dlvAddr, tgid, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("dial dlv at %s: %w", dlvAddr, err)
	}
	return engine, engine.Close, nil
}

// serve runs the normal debug session and, if it ends in a fatal internal
// error (§2 component 7), falls back to the emergency entry point on the
// same connection and timeline rather than dropping the client.
func serve(conn gdbreq.Connection, tl timeline.ReplayTimeline, logger rrlog.Logger, tgid int, target gdbserver.TargetSpec) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("rr-gdbserver: fatal error in debug session, entering emergency mode: %v", r)
			emergency := gdbserver.NewEmergencyServer(conn, tl, logger, os.Stdout, tgid)
			if err := emergency.RunEmergency(); err != nil {
				logger.Errorf("rr-gdbserver: emergency session also failed: %v", err)
			}
		}
	}()

	s := gdbserver.NewServer(conn, tl, logger, os.Stdout, tgid, target)
	if err := s.Run(); err != nil {
		logger.Errorf("rr-gdbserver: debug session ended with error: %v", err)
	}
}
