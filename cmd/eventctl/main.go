// Command eventctl is the operator tool for the event bus: publish a hand-written event,
// inspect dead letters, replay one into its queue, or record an application decision.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/medtrack/medtrack-backend/internal/app"
)

const serviceName = "eventctl"

const usage = `usage: eventctl <command> [flags]

commands:
  publish       publish an event to the topic exchange
  dead-letters  list recorded dead letters
  replay        send a dead-lettered event back to its queue
  decide        accept or reject a pending application (-republish re-announces a decided one)
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}
	opts, err := cmd.parse(args[1:], stderr)
	if err != nil {
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runtime, err := app.Bootstrap(ctx, serviceName)
	if err != nil {
		return 1
	}
	defer func() {
		if err := runtime.Close(); err != nil {
			runtime.Logger.Error(context.Background(), "error closing runtime", err)
		}
	}()

	if err := cmd.exec(runtime.Logger.WithField(ctx, "command", args[0]), toolsFrom(runtime), opts, stdout); err != nil {
		runtime.Logger.Error(ctx, args[0]+" failed", err)
		fmt.Fprintf(stderr, "%s: %v\n", args[0], err)
		return 1
	}
	return 0
}
