package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

// version defs - BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.0.1"
	BuildDate      string = "unknown"

	AppName string = "flowsim"
)

func main() {
	os.Exit(realMain(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func realMain(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch strings.ToLower(args[0]) {
	case "run":
		err = runCommand(ctx, args[1:], stdout)
	case "serve":
		err = serveCommand(ctx, args[1:], stdin, stdout)
	case "version":
		fmt.Fprintf(stdout, "%s %s (%s)\n", AppName, CurrentVersion, BuildDate)
	case "help", "-h", "--help":
		usage(stdout)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		usage(stderr)
		return 2
	}
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `usage: %[1]s <command> [flags]

commands:
  run [-c dir] [--ticks n] [--dt s] [--storage type] [--name run] paths...
        load the vessels under paths, simulate and record one run
  serve [-c dir]
        read commands such as ":TICK: 0.02" from stdin, one per line
  version
        print the version
`, AppName)
}
