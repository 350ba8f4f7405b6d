package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/amelia-run/amelia/workflow"
)

// CrossNodeOptions configures the optional Pulse/Redis republishing path. A
// scheduler process run without Redis simply never constructs a
// CrossNodePublisher; the in-process Bus still works standalone for a
// single-node deployment.
type CrossNodeOptions struct {
	// Redis backs every Pulse stream this publisher opens.
	Redis *redis.Client
	// StreamMaxLen bounds entries retained per workflow's stream. Zero uses
	// Pulse's default.
	StreamMaxLen int
}

// CrossNodePublisher republishes workflow events onto a per-workflow Pulse
// stream (named "workflow/<id>") so a REST or WebSocket node that didn't
// originate the event — because the scheduler that's driving the pipeline
// lives on a different process — can still observe it live.
type CrossNodePublisher struct {
	redis        *redis.Client
	streamMaxLen int
}

// NewCrossNodePublisher constructs a publisher over opts.Redis.
func NewCrossNodePublisher(opts CrossNodeOptions) (*CrossNodePublisher, error) {
	if opts.Redis == nil {
		return nil, fmt.Errorf("eventbus: redis client is required for cross-node publishing")
	}
	return &CrossNodePublisher{redis: opts.Redis, streamMaxLen: opts.StreamMaxLen}, nil
}

// HandleEvent satisfies Subscriber: registering a CrossNodePublisher on the
// in-process Bus makes every locally published event also land on the
// workflow's Pulse stream.
func (p *CrossNodePublisher) HandleEvent(ctx context.Context, event workflow.Event) error {
	streamName := workflowStreamName(event.WorkflowID)
	var opts []streamopts.Stream
	if p.streamMaxLen > 0 {
		opts = append(opts, streamopts.WithStreamMaxLen(p.streamMaxLen))
	}
	str, err := streaming.NewStream(streamName, p.redis, opts...)
	if err != nil {
		return fmt.Errorf("eventbus: open pulse stream: %w", err)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("eventbus: marshal event: %w", err)
	}
	if _, err := str.Add(ctx, string(event.EventType), payload); err != nil {
		return fmt.Errorf("eventbus: publish to pulse: %w", err)
	}
	return nil
}

// Subscribe opens a consumer group named subscriberName on the workflow's
// Pulse stream and returns a channel of decoded events, for use by a
// WebSocket handler running on a node other than the one driving the
// pipeline.
func (p *CrossNodePublisher) Subscribe(ctx context.Context, workflowID, subscriberName string) (<-chan workflow.Event, func(), error) {
	str, err := streaming.NewStream(workflowStreamName(workflowID), p.redis)
	if err != nil {
		return nil, nil, fmt.Errorf("eventbus: open pulse stream: %w", err)
	}
	sink, err := str.NewSink(ctx, subscriberName)
	if err != nil {
		return nil, nil, fmt.Errorf("eventbus: open pulse sink: %w", err)
	}

	out := make(chan workflow.Event, 64)
	go func() {
		defer close(out)
		for ev := range sink.Subscribe() {
			var e workflow.Event
			if err := json.Unmarshal(ev.Payload, &e); err != nil {
				continue
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
			_ = sink.Ack(ctx, ev)
		}
	}()

	cleanup := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sink.Close(closeCtx)
	}
	return out, cleanup, nil
}

func workflowStreamName(workflowID string) string {
	return "workflow/" + workflowID
}
