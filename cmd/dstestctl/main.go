// Command dstestctl launches the harness controller.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var version = "0.1.0"

type command struct {
	name        string
	description string
	usage       string
	run         func(ctx context.Context, args []string) error
}

func main() {
	ctx := context.Background()
	commands := buildCommands()

	args := os.Args[1:]
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		showHelp(commands)
		os.Exit(0)
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		fmt.Fprintln(os.Stderr, "Run 'dstestctl help' for usage information.")
		os.Exit(64)
	}
	if err := cmd.run(ctx, args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "dstestctl: %v\n", err)
		os.Exit(1)
	}
}

func buildCommands() map[string]*command {
	commands := map[string]*command{
		"serve": {
			name:        "serve",
			description: "start the controller and its stdin local-message driver",
			usage:       "dstestctl serve -addr host:port [-metrics-addr host:port]",
			run:         runServe,
		},
		"version": {
			name:        "version",
			description: "show version information",
			usage:       "dstestctl version",
			run: func(ctx context.Context, args []string) error {
				fmt.Printf("dstestctl %s\n", version)
				return nil
			},
		},
	}
	commands["help"] = &command{
		name:        "help",
		description: "show help information",
		usage:       "dstestctl help",
		run: func(ctx context.Context, args []string) error {
			showHelp(commands)
			return nil
		},
	}
	return commands
}

func showHelp(commands map[string]*command) {
	fmt.Println("dstestctl — deterministic distributed-systems test harness controller")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  dstestctl [command]")
	fmt.Println()
	fmt.Println("Available commands:")
	for _, name := range []string{"serve", "version", "help"} {
		if cmd, ok := commands[name]; ok {
			fmt.Printf("  %-10s %s\n", cmd.name, cmd.description)
		}
	}
}

func runServe(ctx context.Context, args []string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, args)
}
