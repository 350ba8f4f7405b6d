package main

import (
	"flag"
	"fmt"
)

type startBatchRequest struct {
	WorkflowIDs  []string `json:"workflow_ids,omitempty"`
	WorktreePath string   `json:"worktree_path,omitempty"`
}

type startBatchResponse struct {
	Started []string          `json:"started"`
	Errors  map[string]string `json:"errors"`
}

// runRun implements `amelia run <workflow-id> | --all [--worktree PATH]`:
// it admits one previously-queued workflow, or every pending workflow
// (optionally scoped to one worktree) in a single batch call.
func runRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	all := fs.Bool("all", false, "admit every pending workflow")
	worktree := fs.String("worktree", "", "restrict --all to one worktree path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client := newAPIClient()

	if *all {
		var resp startBatchResponse
		if err := client.do("POST", "/workflows/start-batch", startBatchRequest{WorktreePath: *worktree}, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	}

	if fs.NArg() < 1 {
		return fmt.Errorf("usage: amelia run <workflow-id> | --all [--worktree PATH]")
	}

	var resp createWorkflowResponse
	if err := client.do("POST", "/workflows/"+fs.Arg(0)+"/start", nil, &resp); err != nil {
		return err
	}
	printJSON(resp)
	return nil
}
