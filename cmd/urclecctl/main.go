package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

type command func(ctx context.Context, args []string, out io.Writer) error

var commands = map[string]command{
	"login":     runLogin,
	"me":        runMe,
	"requests":  runRequests,
	"decide":    runDecide,
	"movements": runMovements,
	"confirm":   runConfirm,
	"return":    runReturn,
}

func usage() {
	fmt.Fprint(os.Stderr, `urclecctl - operator CLI for the URCLEC back office

Usage:
  urclecctl <command> [options]

Commands:
  login      Open a session and print its access token
  me         Show the authenticated user
  requests   List requests (-scope mine|team|all, -status, -type)
  decide     Approve or reject a request (-id, -outcome, -comment)
  movements  List equipment movements (-equipment, -pending)
  confirm    Confirm receipt of a movement (-id)
  return     Send a received repair back (-id, -final functional|broken)

Every command reads URCLEC_URL and URCLEC_TOKEN; -url and -token override them.
Run 'urclecctl <command> -h' for command-specific help.
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	name := os.Args[1]
	if name == "-h" || name == "--help" || name == "help" {
		usage()
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", name)
		usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd(ctx, os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
