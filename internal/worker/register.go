// Package worker wires the report pipeline into a Temporal worker:
// workflow and activity registration plus dependency initialization from
// configuration.
package worker

import (
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/aelwyn/go-drafter/internal/artifacts"
	"github.com/aelwyn/go-drafter/internal/drafting"
	"github.com/aelwyn/go-drafter/internal/gateway"
	"github.com/aelwyn/go-drafter/internal/workflow"
	"github.com/aelwyn/go-drafter/pkg/activity"
	"github.com/aelwyn/go-drafter/pkg/events"
)

// RegisterAll registers the report workflow and the drafting activities
// with the Temporal worker. Call once during worker startup before the
// worker starts polling; registration is not thread-safe.
//
// A nil sink disables event emission. The same activity instance backs
// every registration so they share one gateway client and artifact store.
func RegisterAll(
	w sdkworker.Worker,
	client gateway.Client,
	store artifacts.Store,
	sink events.EventSink,
	cfg drafting.Config,
) {
	base := activity.NewBaseActivities(sink)
	acts := drafting.NewActivities(base, client, store, cfg)

	w.RegisterWorkflow(workflow.ReportWorkflow)

	w.RegisterActivity(acts.DraftSection)
	w.RegisterActivity(acts.ProduceRecords)
	w.RegisterActivity(acts.SynthesizeReport)
	w.RegisterActivity(acts.BundleArtifacts)
}
