// Package temporalengine is a durable alternative to bulk.InProcessEngine,
// for bulk jobs large enough that a server restart mid-run should resume
// rather than lose progress. It implements bulk.Engine by handing the same
// per-item actions to a Temporal workflow/activity pair instead of running
// them in bounded in-process goroutines.
package temporalengine

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/bulk"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/handlestore"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/undo"
)

// WorkflowName and ActivityName are the registration names a worker must use
// to run jobs submitted by Engine.Execute.
const (
	WorkflowName = "BulkOperation"
	ActivityName = "ExecuteBulkOperation"

	// bulkActivityTimeout bounds a single attempt at running every target
	// item's actions; large handles should be split by the caller rather
	// than raising this further.
	bulkActivityTimeout = 10 * time.Minute
)

// Engine submits bulk.Request values as Temporal workflows and blocks for
// their result, so it satisfies bulk.Engine for callers that don't care
// whether execution is in-process or durable.
type Engine struct {
	Client    client.Client
	TaskQueue string
}

var _ bulk.Engine = (*Engine)(nil)

// New constructs an Engine against an already-connected Temporal client.
func New(c client.Client, taskQueue string) *Engine {
	return &Engine{Client: c, TaskQueue: taskQueue}
}

// Execute implements bulk.Engine by starting (or attaching to) a workflow
// keyed on the request's handle id ("bulk-" + HandleID), then waiting for
// its result.
func (e *Engine) Execute(ctx context.Context, req bulk.Request) (bulk.Result, error) {
	opts := client.StartWorkflowOptions{
		ID:        "bulk-" + req.HandleID,
		TaskQueue: e.TaskQueue,
	}
	run, err := e.Client.ExecuteWorkflow(ctx, opts, WorkflowName, req)
	if err != nil {
		return bulk.Result{}, fmt.Errorf("temporalengine: start workflow: %w", err)
	}
	var result bulk.Result
	if err := run.Get(ctx, &result); err != nil {
		return bulk.Result{}, fmt.Errorf("temporalengine: workflow %s: %w", run.GetRunID(), err)
	}
	return result, nil
}

// Activities bundles the collaborators ExecuteBulkOperation needs to run the
// same logic bulk.InProcessEngine.Execute would, inside a Temporal activity.
type Activities struct {
	ADO      bulk.Client
	Store    *handlestore.Store
	Journal  undo.Journal
	Enhancer bulk.DescriptionEnhancer
}

// ExecuteBulkOperation is the activity function: it delegates to a fresh
// InProcessEngine so the mutation and undo-journal-write logic is never
// duplicated, while Temporal supplies retry and durability around the call.
func (a Activities) ExecuteBulkOperation(ctx context.Context, req bulk.Request) (bulk.Result, error) {
	engine := bulk.New(a.ADO, a.Store, a.Journal, a.Enhancer)
	return engine.Execute(ctx, req)
}

// BulkOperationWorkflow is the workflow function: it runs the activity with
// a retry policy of at most three attempts and returns its result.
func BulkOperationWorkflow(ctx workflow.Context, req bulk.Request) (bulk.Result, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: bulkActivityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var result bulk.Result
	err := workflow.ExecuteActivity(ctx, ActivityName, req).Get(ctx, &result)
	return result, err
}

// RegisterWorker registers the workflow and activity on w, ready to Run.
func RegisterWorker(w worker.Worker, activities Activities) {
	w.RegisterWorkflowWithOptions(BulkOperationWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	w.RegisterActivityWithOptions(activities.ExecuteBulkOperation, activity.RegisterOptions{Name: ActivityName})
}

// NewWorker constructs a worker for taskQueue with the OTEL tracing
// interceptor installed, so bulk workflow/activity spans go to the globally
// configured OpenTelemetry tracer. ADO HTTP calls and tool dispatch emit no
// spans of their own.
func NewWorker(c client.Client, taskQueue string, opts worker.Options) (worker.Worker, error) {
	tracer, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})
	if err != nil {
		return nil, fmt.Errorf("temporalengine: build tracing interceptor: %w", err)
	}
	opts.Interceptors = append(opts.Interceptors, tracer)
	return worker.New(c, taskQueue, opts), nil
}
