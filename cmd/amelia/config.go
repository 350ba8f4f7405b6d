package main

import (
	"flag"
	"fmt"

	"github.com/amelia-run/amelia/config"
	"github.com/amelia-run/amelia/workflow"
)

// runConfig dispatches `amelia config profile ...` and
// `amelia config server ...`.
func runConfig(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: amelia config {profile|server} ...")
	}
	switch args[0] {
	case "profile":
		return runConfigProfile(args[1:])
	case "server":
		return runConfigServer(args[1:])
	default:
		return fmt.Errorf("amelia config: unknown target %q", args[0])
	}
}

type profileRequest struct {
	Name           string `json:"name"`
	Tracker        string `json:"tracker"`
	WorkingDirRoot string `json:"working_dir_root"`
	PlanOutputDir  string `json:"plan_output_dir,omitempty"`
	MaxReviewIters int    `json:"max_review_iterations,omitempty"`
}

func runConfigProfile(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: amelia config profile {list|show|create|edit|delete|activate} ...")
	}
	client := newAPIClient()
	sub, rest := args[0], args[1:]

	switch sub {
	case "list":
		var profiles []workflow.Profile
		if err := client.do("GET", "/api/profiles", nil, &profiles); err != nil {
			return err
		}
		printJSON(profiles)
		return nil

	case "show":
		if len(rest) < 1 {
			return fmt.Errorf("usage: amelia config profile show ID")
		}
		var p workflow.Profile
		if err := client.do("GET", "/api/profiles/"+rest[0], nil, &p); err != nil {
			return err
		}
		printJSON(p)
		return nil

	case "create":
		fs := flag.NewFlagSet("config profile create", flag.ContinueOnError)
		name := fs.String("name", "", "profile name (required)")
		tracker := fs.String("tracker", "noop", "tracker kind: noop|github|linear")
		root := fs.String("working-dir-root", "", "working directory root (required)")
		planDir := fs.String("plan-output-dir", "", "plan output directory")
		maxIters := fs.Int("max-review-iterations", 0, "override the default review iteration cap")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *name == "" || *root == "" {
			return fmt.Errorf("--name and --working-dir-root are required")
		}
		req := profileRequest{Name: *name, Tracker: *tracker, WorkingDirRoot: *root, PlanOutputDir: *planDir, MaxReviewIters: *maxIters}
		var p workflow.Profile
		if err := client.do("POST", "/api/profiles", req, &p); err != nil {
			return err
		}
		printJSON(p)
		return nil

	case "edit":
		if len(rest) < 1 {
			return fmt.Errorf("usage: amelia config profile edit ID [flags]")
		}
		id := rest[0]
		var existing workflow.Profile
		if err := client.do("GET", "/api/profiles/"+id, nil, &existing); err != nil {
			return err
		}

		fs := flag.NewFlagSet("config profile edit", flag.ContinueOnError)
		name := fs.String("name", existing.Name, "profile name")
		tracker := fs.String("tracker", string(existing.Tracker), "tracker kind: noop|github|linear")
		root := fs.String("working-dir-root", existing.WorkingDirRoot, "working directory root")
		planDir := fs.String("plan-output-dir", existing.PlanOutputDir, "plan output directory")
		maxIters := fs.Int("max-review-iterations", existing.MaxReviewIters, "review iteration cap")
		if err := fs.Parse(rest[1:]); err != nil {
			return err
		}
		req := profileRequest{Name: *name, Tracker: *tracker, WorkingDirRoot: *root, PlanOutputDir: *planDir, MaxReviewIters: *maxIters}
		var p workflow.Profile
		if err := client.do("PUT", "/api/profiles/"+id, req, &p); err != nil {
			return err
		}
		printJSON(p)
		return nil

	case "delete":
		if len(rest) < 1 {
			return fmt.Errorf("usage: amelia config profile delete ID")
		}
		return client.do("DELETE", "/api/profiles/"+rest[0], nil, nil)

	case "activate":
		if len(rest) < 1 {
			return fmt.Errorf("usage: amelia config profile activate ID")
		}
		var out map[string]string
		if err := client.do("POST", "/api/profiles/"+rest[0]+"/activate", nil, &out); err != nil {
			return err
		}
		printJSON(out)
		return nil

	default:
		return fmt.Errorf("amelia config profile: unknown subcommand %q", sub)
	}
}

func runConfigServer(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: amelia config server {show|set|reset} ...")
	}
	client := newAPIClient()
	sub, rest := args[0], args[1:]

	switch sub {
	case "show":
		var settings config.ServerSettings
		if err := client.do("GET", "/api/settings", nil, &settings); err != nil {
			return err
		}
		printJSON(settings)
		return nil

	case "set":
		var current config.ServerSettings
		if err := client.do("GET", "/api/settings", nil, &current); err != nil {
			return err
		}

		fs := flag.NewFlagSet("config server set", flag.ContinueOnError)
		maxConcurrent := fs.Int("max-concurrent", current.MaxConcurrent, "max concurrently admitted workflows")
		requestTimeout := fs.Int("request-timeout-seconds", current.RequestTimeoutSec, "graceful shutdown timeout")
		websocketIdle := fs.Int("websocket-idle-timeout-seconds", current.WebsocketIdleTimeoutSec, "websocket idle timeout")
		maxReviewIters := fs.Int("max-review-iterations", current.MaxReviewIterations, "default review iteration cap")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		current.MaxConcurrent = *maxConcurrent
		current.RequestTimeoutSec = *requestTimeout
		current.WebsocketIdleTimeoutSec = *websocketIdle
		current.MaxReviewIterations = *maxReviewIters

		var updated config.ServerSettings
		if err := client.do("PUT", "/api/settings", current, &updated); err != nil {
			return err
		}
		printJSON(updated)
		return nil

	case "reset":
		var settings config.ServerSettings
		if err := client.do("POST", "/api/settings/reset", nil, &settings); err != nil {
			return err
		}
		printJSON(settings)
		return nil

	default:
		return fmt.Errorf("amelia config server: unknown subcommand %q", sub)
	}
}
