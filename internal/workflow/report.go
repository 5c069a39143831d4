package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/aelwyn/go-drafter/internal/domain"
	"github.com/aelwyn/go-drafter/internal/drafting"
	"github.com/aelwyn/go-drafter/internal/pipeline"
)

const (
	// reportVersionGate names the workflow version marker. Bump
	// currentVersion when changing the step sequence in a way replay
	// cannot absorb.
	reportVersionGate = "report.v"
	currentVersion    = 1

	// activityGraceSecs pads the activity start-to-close timeout past the
	// unit timeout so the activity's own context deadline fires first and
	// produces the more precise error.
	activityGraceSecs = 30

	heartbeatTimeout    = 30 * time.Second
	maxActivityAttempts = 3
)

// Step name prefixes used in the run summary.
const (
	stepDraftPrefix   = "draft:"
	stepRecordsPrefix = "records:"
	stepSynthesize    = "synthesize"
	stepBundle        = "bundle"
)

// ReportWorkflow drives one report-production run: each section is drafted
// (and, when it carries a schema, converted to typed records), the stored
// drafts are synthesized into the report body, and every artifact is zipped
// into the final bundle.
//
// The run's gateway-call budget is decremented by each step's reported
// usage; a step is never started with an exhausted budget. The first step
// failure fails the run — sections feed one synthesis, so a partial run has
// no deliverable.
func ReportWorkflow(
	ctx workflow.Context,
	req domain.ReportRequest,
) (*domain.ReportResult, error) {
	_ = workflow.GetVersion(ctx, reportVersionGate, workflow.DefaultVersion, currentVersion)

	if err := req.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(
			"invalid report request",
			"Validation",
			err,
		)
	}

	logger := workflow.GetLogger(ctx)
	logger.Info("report run starting",
		"report_id", req.ID,
		"sections", len(req.Sections),
		"call_budget", req.Budget.MaxGatewayCalls)

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: time.Duration(req.Budget.UnitTimeoutSecs+activityGraceSecs) * time.Second,
		HeartbeatTimeout:    heartbeatTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    maxActivityAttempts,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	run := &reportRun{
		req:       req,
		callsLeft: req.Budget.MaxGatewayCalls,
		result: &domain.ReportResult{
			ID:       req.ID,
			Title:    req.Title,
			Sections: make([]domain.SectionResult, 0, len(req.Sections)),
		},
	}

	for i := range req.Sections {
		if err := run.produceSection(ctx, req.Sections[i]); err != nil {
			return nil, run.fail(ctx, err)
		}
	}
	if err := run.synthesize(ctx); err != nil {
		return nil, run.fail(ctx, err)
	}
	if err := run.bundle(ctx); err != nil {
		return nil, run.fail(ctx, err)
	}

	run.result.RunSummary = run.summary.RenderTable()
	logger.Info("report run completed",
		"report_id", req.ID,
		"gateway_calls", run.result.GatewayCalls,
		"total_tokens", run.result.TotalTokens)
	return run.result, nil
}

// reportRun accumulates the mutable state of one workflow execution: the
// per-section results, the remaining call budget, and the step summary.
type reportRun struct {
	req       domain.ReportRequest
	callsLeft int64
	result    *domain.ReportResult
	summary   pipeline.Summary
}

// produceSection runs the drafting step for one section: DraftSection for
// prose sections, ProduceRecords for sections carrying a schema.
func (r *reportRun) produceSection(ctx workflow.Context, section domain.SectionSpec) error {
	if section.Schema == nil {
		return r.draftSection(ctx, section)
	}
	return r.produceRecords(ctx, section)
}

func (r *reportRun) draftSection(ctx workflow.Context, section domain.SectionSpec) error {
	step := stepDraftPrefix + section.Name
	if err := r.admit(step); err != nil {
		return err
	}

	start := workflow.Now(ctx)
	var out drafting.DraftSectionOutput
	err := workflow.ExecuteActivity(ctx, "DraftSection", drafting.DraftSectionInput{
		ReportID:   r.req.ID,
		TenantID:   r.req.TenantID,
		Section:    section,
		Budget:     r.req.Budget,
		CallBudget: r.callsLeft,
	}).Get(ctx, &out)
	elapsed := workflow.Now(ctx).Sub(start)
	if err != nil {
		r.summary.Append(pipeline.FailedStep(step, 1, err, elapsed))
		return err
	}

	r.summary.Append(pipeline.SucceededStep(step, 1, elapsed))
	r.consume(out.CallsMade, out.TokensUsed)
	r.result.Sections = append(r.result.Sections, domain.SectionResult{
		Name:  out.Section,
		Text:  out.Text,
		Draft: out.Draft,
	})
	return nil
}

func (r *reportRun) produceRecords(ctx workflow.Context, section domain.SectionSpec) error {
	step := stepRecordsPrefix + section.Name
	if err := r.admit(step); err != nil {
		return err
	}

	start := workflow.Now(ctx)
	var out drafting.ProduceRecordsOutput
	err := workflow.ExecuteActivity(ctx, "ProduceRecords", drafting.ProduceRecordsInput{
		ReportID:    r.req.ID,
		TenantID:    r.req.TenantID,
		Section:     section,
		Budget:      r.req.Budget,
		Concurrency: r.req.Concurrency,
		CallBudget:  r.callsLeft,
	}).Get(ctx, &out)
	elapsed := workflow.Now(ctx).Sub(start)
	if err != nil {
		r.summary.Append(pipeline.FailedStep(step, 1, err, elapsed))
		return err
	}

	r.summary.Append(pipeline.SucceededStep(step, 1, elapsed))
	r.consume(out.CallsMade, out.TokensUsed)
	r.result.Sections = append(r.result.Sections, domain.SectionResult{
		Name:           out.Section,
		Text:           out.Text,
		Records:        out.Records,
		DefectiveLines: out.DefectiveLines,
		Failures:       out.Failures,
		Table:          out.Table,
	})
	return nil
}

// synthesize weaves the stored section artifacts into the report body.
// Prose sections contribute their draft; schema sections contribute their
// rendered record table.
func (r *reportRun) synthesize(ctx workflow.Context) error {
	if err := r.admit(stepSynthesize); err != nil {
		return err
	}

	drafts := make([]drafting.SectionDraft, 0, len(r.result.Sections))
	for _, section := range r.result.Sections {
		ref := section.Draft
		if ref.IsZero() {
			ref = section.Table
		}
		if ref.IsZero() {
			continue
		}
		drafts = append(drafts, drafting.SectionDraft{Name: section.Name, Ref: ref})
	}

	start := workflow.Now(ctx)
	var out drafting.SynthesizeReportOutput
	err := workflow.ExecuteActivity(ctx, "SynthesizeReport", drafting.SynthesizeReportInput{
		ReportID:    r.req.ID,
		TenantID:    r.req.TenantID,
		Title:       r.req.Title,
		Drafts:      drafts,
		Concurrency: r.req.Concurrency,
		Budget:      r.req.Budget,
		CallBudget:  r.callsLeft,
	}).Get(ctx, &out)
	elapsed := workflow.Now(ctx).Sub(start)
	if err != nil {
		r.summary.Append(pipeline.FailedStep(stepSynthesize, 1, err, elapsed))
		return err
	}

	r.summary.Append(pipeline.SucceededStep(stepSynthesize, 1, elapsed))
	r.consume(out.CallsMade, out.TokensUsed)
	r.result.Body = out.Body
	return nil
}

// bundle stores the final report document and the zip of all run artifacts.
// Bundling makes no gateway calls, so it skips the budget check.
func (r *reportRun) bundle(ctx workflow.Context) error {
	start := workflow.Now(ctx)
	var out drafting.BundleArtifactsOutput
	err := workflow.ExecuteActivity(ctx, "BundleArtifacts", drafting.BundleArtifactsInput{
		ReportID:     r.req.ID,
		TenantID:     r.req.TenantID,
		Title:        r.req.Title,
		Body:         r.result.Body,
		Sections:     r.result.Sections,
		TotalTokens:  r.result.TotalTokens,
		GatewayCalls: r.result.GatewayCalls,
	}).Get(ctx, &out)
	elapsed := workflow.Now(ctx).Sub(start)
	if err != nil {
		r.summary.Append(pipeline.FailedStep(stepBundle, 1, err, elapsed))
		return err
	}

	r.summary.Append(pipeline.SucceededStep(stepBundle, 1, elapsed))
	r.result.Bundle = out.Bundle
	return nil
}

// admit verifies the run still has gateway-call budget before a step that
// invokes the model starts.
func (r *reportRun) admit(step string) error {
	if r.callsLeft >= 1 {
		return nil
	}
	exceeded := domain.NewBudgetExceededError(
		domain.BudgetCalls,
		r.req.Budget.MaxGatewayCalls,
		r.req.Budget.MaxGatewayCalls-r.callsLeft,
	)
	r.summary.Append(pipeline.FailedStep(step, 0, exceeded, 0))
	return temporal.NewNonRetryableApplicationError(
		"gateway call budget exhausted before "+step,
		"Budget",
		exceeded,
	)
}

// consume books one step's usage against the run totals.
func (r *reportRun) consume(calls, tokens int64) {
	r.callsLeft -= calls
	r.result.GatewayCalls += calls
	r.result.TotalTokens += tokens
}

// fail logs the step summary so a failed run still leaves its trail in the
// workflow history, then propagates the step error unchanged.
func (r *reportRun) fail(ctx workflow.Context, err error) error {
	workflow.GetLogger(ctx).Error("report run failed",
		"report_id", r.req.ID,
		"steps", len(r.summary.Steps),
		"error", err)
	return err
}
