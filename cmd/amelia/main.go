// Command amelia is the orchestrator's server and CLI client in one
// binary: `amelia server` boots the scheduler/store/API stack described by
// the rest of this module; every other subcommand is a thin REST client
// against a running server, per spec.md §6's CLI surface.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "server":
		err = runServer(os.Args[2:])
	case "start":
		err = runStart(os.Args[2:])
	case "run":
		err = runRun(os.Args[2:])
	case "config":
		err = runConfig(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "amelia: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "amelia: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: amelia <command> [flags]

commands:
  server [--port N] [--bind-all]
      start the orchestrator daemon
  start ISSUE [--queue] [--plan] [--title T] [--description D] [--profile P]
      create a workflow for ISSUE
  run <workflow-id> | --all [--worktree PATH]
      admit one or more pending workflows
  config profile {list|show|create|edit|delete|activate}
  config server {show|set|reset}
      inspect or change orchestrator configuration
`)
}
