package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"

	openaisdk "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"

	"github.com/amelia-run/amelia/agent"
	"github.com/amelia-run/amelia/driver"
	driverapi "github.com/amelia-run/amelia/driver/api"
	"github.com/amelia-run/amelia/driver/cli"
)

// buildDriver selects the single driver.Driver every agent role shares,
// per AMELIA_AGENT_DRIVER: "claude" (the default) and "codex" shell out to
// the matching CLI tool per spec.md's worker/host subprocess contract;
// "anthropic", "openai", and "bedrock" call the provider API directly,
// for deployments that skip the CLI subprocess layer entirely.
//
// A single globally-shared driver instance, fixed at boot, cannot route
// a driver/cli.Driver's subprocess working directory per workflow — the
// orchestrator's Agents bundle (scheduler.Agents) is itself constructed
// once at boot and reused by every admitted workflow. Routing per-worktree
// CLI subprocess directories is the C7 Sandbox Provider's job when a
// profile's Sandbox.Mode is "container"; a host-mode CLI driver runs in
// AMELIA_AGENT_WORKDIR (or the server process's own working directory)
// for every workflow, a known simplification of the host-mode path.
func buildDriver() (driver.Driver, error) {
	switch kind := envOr("AMELIA_AGENT_DRIVER", "claude"); kind {
	case "claude", "codex":
		return cli.New(cli.Options{
			Command: kind,
			Dir:     os.Getenv("AMELIA_AGENT_WORKDIR"),
		})
	case "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required when AMELIA_AGENT_DRIVER=anthropic")
		}
		client := anthropicsdk.NewClient(anthropicopt.WithAPIKey(apiKey))
		model := envOr("AMELIA_MODEL", "claude-sonnet-4-5")
		maxTokens := envInt("AMELIA_MAX_TOKENS", 8192)
		return driverapi.NewAnthropicDriver(&client.Messages, model, int64(maxTokens)), nil
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when AMELIA_AGENT_DRIVER=openai")
		}
		client := openaisdk.NewClient(openaiopt.WithAPIKey(apiKey))
		model := envOr("AMELIA_MODEL", "gpt-4o")
		return driverapi.NewOpenAIDriver(&client.Chat.Completions, model), nil
	case "bedrock":
		cfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		runtime := bedrockruntime.NewFromConfig(cfg)
		model := envOr("AMELIA_MODEL", "anthropic.claude-3-5-sonnet-20241022-v2:0")
		return driverapi.NewBedrockDriver(runtime, model), nil
	default:
		return nil, fmt.Errorf("unknown AMELIA_AGENT_DRIVER %q", kind)
	}
}

// buildOracleClient wires the Oracle collaborator (spec.md §1's declared
// external collaborator) over the same provider selection buildDriver
// uses, reached through a one-shot driver.Driver turn rather than the
// agent.Runner/eventbus.Recorder wiring the four in-graph roles use, since
// an Oracle consult is never part of a workflow's recorded event timeline.
type oracleClient struct {
	d     driver.Driver
	model string
}

func buildOracleClient(d driver.Driver) agent.OracleClient {
	return &oracleClient{d: d, model: envOr("AMELIA_ORACLE_MODEL", "")}
}

func (o *oracleClient) Consult(ctx context.Context, problem, workingDir string, files []string, model string) (agent.OracleConsultation, error) {
	if model == "" {
		model = o.model
	}
	prompt := problem
	if len(files) > 0 {
		prompt += "\n\nRelevant files:\n"
		for _, f := range files {
			prompt += "- " + f + "\n"
		}
	}

	stream, err := o.d.Run(ctx, driver.Turn{
		SystemPrompt: oracleSystemPrompt,
		History: []driver.HistoryMessage{
			{Role: "user", Content: prompt},
		},
		Model: model,
	})
	if err != nil {
		return agent.OracleConsultation{}, fmt.Errorf("oracle: run turn: %w", err)
	}
	defer stream.Close()

	var advice string
	for stream.Next(ctx) {
		msg := stream.Message()
		if msg.Kind == driver.KindResult {
			advice += msg.Result
		}
	}
	if err := stream.Err(); err != nil {
		return agent.OracleConsultation{}, fmt.Errorf("oracle: read turn: %w", err)
	}

	return agent.OracleConsultation{
		Problem:    problem,
		WorkingDir: workingDir,
		Files:      files,
		Model:      model,
		Advice:     advice,
	}, nil
}

const oracleSystemPrompt = `You are the Oracle, an advisory collaborator consulted mid-workflow for a
second opinion on a specific problem. Respond with concrete, actionable
advice; you have no access to tools and your response is never applied
automatically.`

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
