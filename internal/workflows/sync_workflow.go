package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/townin/geocore/internal/core/domain"
)

// SyncInput is the input for a single-dataset sync workflow.
type SyncInput struct {
	Kind domain.DatasetKind
}

// RunSummary is the workflow-visible result of one reconciliation.
type RunSummary struct {
	RunID    string
	Status   domain.SyncStatus
	Total    int
	Inserted int
	Updated  int
	Errored  int
}

// SyncWorkflow fetches one dataset from its upstream source and reconciles
// it into the store. Fetch and reconcile are separate activities so a flaky
// upstream retries without re-running a completed reconciliation.
func SyncWorkflow(ctx workflow.Context, input SyncInput) (*RunSummary, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting dataset sync", "kind", input.Kind)

	fetchOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: 5 * time.Second,
			MaximumAttempts: 3,
		},
	}
	fetchCtx := workflow.WithActivityOptions(ctx, fetchOpts)

	var batch []domain.RawExternalRecord
	if err := workflow.ExecuteActivity(fetchCtx, "FetchBatch", input.Kind).Get(fetchCtx, &batch); err != nil {
		return nil, err
	}

	// Reconciliation is idempotent, so a retry after a partial failure
	// settles into the same end state.
	reconcileOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 2,
		},
	}
	reconcileCtx := workflow.WithActivityOptions(ctx, reconcileOpts)

	var summary RunSummary
	if err := workflow.ExecuteActivity(reconcileCtx, "ReconcileBatch", input.Kind, batch).Get(reconcileCtx, &summary); err != nil {
		return nil, err
	}

	if summary.Status == domain.SyncFailed {
		logger.Warn("Dataset sync closed as failed",
			"kind", input.Kind, "run", summary.RunID, "errored", summary.Errored)
	} else {
		logger.Info("Dataset sync complete",
			"kind", input.Kind, "run", summary.RunID,
			"inserted", summary.Inserted, "updated", summary.Updated)
	}
	return &summary, nil
}

// SyncAllWorkflow reconciles every dataset in sequence. One dataset closing
// as failed does not stop the remaining datasets.
func SyncAllWorkflow(ctx workflow.Context) ([]RunSummary, error) {
	logger := workflow.GetLogger(ctx)

	var summaries []RunSummary
	for _, kind := range domain.DatasetKinds() {
		childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
			WorkflowID: "geocore-sync-" + string(kind) + "-" + workflow.Now(ctx).Format("20060102T150405"),
		})

		var summary *RunSummary
		if err := workflow.ExecuteChildWorkflow(childCtx, SyncWorkflow, SyncInput{Kind: kind}).Get(childCtx, &summary); err != nil {
			logger.Error("Dataset sync errored, continuing", "kind", kind, "error", err)
			continue
		}
		summaries = append(summaries, *summary)
	}
	return summaries, nil
}
