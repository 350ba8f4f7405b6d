package main

import (
	"flag"
	"fmt"
)

type createWorkflowRequest struct {
	IssueID         string `json:"issue_id"`
	WorktreePath    string `json:"worktree_path"`
	ProfileID       string `json:"profile,omitempty"`
	TaskTitle       string `json:"task_title,omitempty"`
	TaskDescription string `json:"task_description,omitempty"`
	Start           *bool  `json:"start,omitempty"`
	PlanNow         bool   `json:"plan_now,omitempty"`
}

type createWorkflowResponse struct {
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"`
}

// runStart implements `amelia start ISSUE --worktree PATH [--queue] [--plan]
// [--title T] [--description D] [--profile P]`.
func runStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	worktree := fs.String("worktree", "", "worktree path to run in (required)")
	queue := fs.Bool("queue", false, "persist the workflow without admitting it")
	plan := fs.Bool("plan", false, "run plan-only instead of the full pipeline")
	title := fs.String("title", "", "task title (noop tracker profiles only)")
	description := fs.String("description", "", "task description (noop tracker profiles only)")
	profile := fs.String("profile", "", "profile ID, or the active profile if omitted")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: amelia start ISSUE [flags]")
	}
	issue := fs.Arg(0)
	if err := fs.Parse(fs.Args()[1:]); err != nil {
		return err
	}
	if *worktree == "" {
		return fmt.Errorf("--worktree is required")
	}

	start := !*queue
	req := createWorkflowRequest{
		IssueID:         issue,
		WorktreePath:    *worktree,
		ProfileID:       *profile,
		TaskTitle:       *title,
		TaskDescription: *description,
		Start:           &start,
		PlanNow:         *plan,
	}

	var resp createWorkflowResponse
	if err := newAPIClient().do("POST", "/workflows", req, &resp); err != nil {
		return err
	}
	printJSON(resp)
	return nil
}
