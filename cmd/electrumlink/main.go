package main

import (
	"fmt"
	"os"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "electrumlink: %v\n", err)
		os.Exit(1)
	}
}

const usage = "Usage: electrumlink [serve|init|servers|probe|status|pause|resume|call <method> [json-params]]"

func run() error {
	// Parse subcommand from os.Args
	subcmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "serve":
		return cmdServe(args)
	case "init":
		return cmdInit(args)
	case "servers":
		return cmdServers(args)
	case "probe":
		return cmdProbe(args)
	case "status", "pause", "resume":
		return cmdAdmin(subcmd, args)
	case "call":
		return cmdCall(args)
	case "help":
		fmt.Println(usage)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\n%s", subcmd, usage)
	}
}
