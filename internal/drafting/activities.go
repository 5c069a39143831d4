package drafting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.temporal.io/sdk/temporal"

	"github.com/aelwyn/go-drafter/internal/artifacts"
	"github.com/aelwyn/go-drafter/internal/continuation"
	"github.com/aelwyn/go-drafter/internal/domain"
	"github.com/aelwyn/go-drafter/internal/extraction"
	"github.com/aelwyn/go-drafter/internal/fanout"
	"github.com/aelwyn/go-drafter/internal/gateway"
	"github.com/aelwyn/go-drafter/internal/gateway/gerrors"
	"github.com/aelwyn/go-drafter/pkg/activity"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Repair strategies accepted by Config.Repair.
const (
	// RepairLocal re-renders assembled output through the extractor.
	RepairLocal = "local"
	// RepairGateway asks the model to reformat assembled output.
	RepairGateway = "gateway"
	// RepairOff disables post-assembly repair.
	RepairOff = "off"
)

// Config carries the generation settings shared by all drafting
// activities. One config serves a whole worker; per-run knobs travel in
// activity inputs instead.
type Config struct {
	// Provider and Model select the generative backend for every call.
	Provider string `yaml:"provider" validate:"required"`
	Model    string `yaml:"model" validate:"required"`

	// Temperature applies to drafting and synthesis. Conversion always
	// runs at zero.
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`

	// MaxTokens caps one generation when the section does not set its own.
	MaxTokens int64 `yaml:"max_tokens" validate:"min=0"`

	// RowsPerSet bounds fallback record sets during structural recovery.
	// Zero applies the extraction default.
	RowsPerSet int `yaml:"rows_per_set" validate:"min=0"`

	// Repair picks the post-assembly repair strategy. Empty means local.
	Repair string `yaml:"repair" validate:"omitempty,oneof=local gateway off"`

	// KeepPrompts stores each section's rendered prompt as an artifact.
	KeepPrompts bool `yaml:"keep_prompts"`
}

// Validate checks the config against its declared constraints.
func (c *Config) Validate() error { return validate.Struct(c) }

// DraftSectionInput asks for one prose section draft.
type DraftSectionInput struct {
	// ReportID identifies the run. It keys artifacts and event
	// idempotency, so it must be stable across retries.
	ReportID string `json:"report_id" validate:"required"`

	// TenantID scopes artifact keys and event envelopes.
	TenantID string `json:"tenant_id" validate:"required"`

	// Section is the section to draft.
	Section domain.SectionSpec `json:"section"`

	// Budget bounds the drafting call.
	Budget domain.DraftBudget `json:"budget"`

	// CallBudget is this activity's share of the run's gateway calls.
	CallBudget int64 `json:"call_budget" validate:"required,min=1"`
}

// Validate checks the input against its declared constraints.
func (in *DraftSectionInput) Validate() error { return validate.Struct(in) }

// DraftSectionOutput is one assembled prose draft with its artifact
// reference and generation accounting.
type DraftSectionOutput struct {
	Section            string             `json:"section"`
	Text               string             `json:"text"`
	Draft              domain.ArtifactRef `json:"draft"`
	Prompt             domain.ArtifactRef `json:"prompt"`
	TokensUsed         int64              `json:"tokens_used"`
	CallsMade          int64              `json:"calls_made"`
	Continuations      int                `json:"continuations"`
	ProviderRequestIDs []string           `json:"provider_request_ids,omitempty"`
}

// ProduceRecordsInput asks for typed records from one schema section.
type ProduceRecordsInput struct {
	ReportID string `json:"report_id" validate:"required"`
	TenantID string `json:"tenant_id" validate:"required"`

	// Section must carry a schema; prose sections go through DraftSection.
	Section domain.SectionSpec `json:"section"`

	Budget domain.DraftBudget `json:"budget"`

	// Concurrency bounds parallel conversion units during structural
	// recovery. Zero means unlimited.
	Concurrency int `json:"concurrency" validate:"min=0"`

	CallBudget int64 `json:"call_budget" validate:"required,min=1"`
}

// Validate checks the input, including that the section carries a schema.
func (in *ProduceRecordsInput) Validate() error {
	if err := validate.Struct(in); err != nil {
		return err
	}
	if in.Section.Schema == nil {
		return fmt.Errorf("section %q has no schema", in.Section.Name)
	}
	return nil
}

// ProduceRecordsOutput carries one section's extracted records plus the
// diagnostics of every recovery step that ran.
type ProduceRecordsOutput struct {
	Section string          `json:"section"`
	Text    string          `json:"text"`
	Records []domain.Record `json:"records"`

	// DefectiveLines are rows that resisted every conversion round.
	DefectiveLines []string `json:"defective_lines,omitempty"`

	// Failures record conversion units that failed outright.
	Failures []domain.FailureNote `json:"failures,omitempty"`

	Table              domain.ArtifactRef `json:"table"`
	TokensUsed         int64              `json:"tokens_used"`
	CallsMade          int64              `json:"calls_made"`
	ProviderRequestIDs []string           `json:"provider_request_ids,omitempty"`
}

// SectionDraft names one stored draft for synthesis.
type SectionDraft struct {
	Name string             `json:"name" validate:"required"`
	Ref  domain.ArtifactRef `json:"ref"`
}

// SynthesizeReportInput asks for the final report body woven from the
// stored section drafts.
type SynthesizeReportInput struct {
	ReportID string `json:"report_id" validate:"required"`
	TenantID string `json:"tenant_id" validate:"required"`
	Title    string `json:"title" validate:"required"`

	// Drafts are fetched, normalized, and tagged in order before the
	// synthesis call.
	Drafts []SectionDraft `json:"drafts" validate:"required,min=1,dive"`

	// Concurrency bounds parallel draft fetches. Zero means unlimited.
	Concurrency int `json:"concurrency" validate:"min=0"`

	Budget     domain.DraftBudget `json:"budget"`
	CallBudget int64              `json:"call_budget" validate:"required,min=1"`
}

// Validate checks the input, including that every draft carries a
// stored artifact reference.
func (in *SynthesizeReportInput) Validate() error {
	if err := validate.Struct(in); err != nil {
		return err
	}
	for _, draft := range in.Drafts {
		if draft.Ref.IsZero() {
			return fmt.Errorf("draft %q has no artifact reference", draft.Name)
		}
	}
	return nil
}

// SynthesizeReportOutput is the synthesized report body with generation
// accounting.
type SynthesizeReportOutput struct {
	Body               string   `json:"body"`
	TokensUsed         int64    `json:"tokens_used"`
	CallsMade          int64    `json:"calls_made"`
	Continuations      int      `json:"continuations"`
	ProviderRequestIDs []string `json:"provider_request_ids,omitempty"`
}

// BundleArtifactsInput asks for the final document and zip bundle.
type BundleArtifactsInput struct {
	ReportID string `json:"report_id" validate:"required"`
	TenantID string `json:"tenant_id" validate:"required"`
	Title    string `json:"title" validate:"required"`

	// Body is the synthesized report body.
	Body string `json:"body" validate:"required"`

	// Sections carry each section's artifact references in report order.
	Sections []domain.SectionResult `json:"sections" validate:"required,min=1"`

	// TotalTokens and GatewayCalls are the run's aggregate accounting,
	// carried here so the end-of-run event can report them.
	TotalTokens  int64 `json:"total_tokens" validate:"min=0"`
	GatewayCalls int64 `json:"gateway_calls" validate:"min=0"`
}

// Validate checks the input against its declared constraints.
func (in *BundleArtifactsInput) Validate() error { return validate.Struct(in) }

// BundleArtifactsOutput references the stored report document and the
// bundle holding every run artifact.
type BundleArtifactsOutput struct {
	Report domain.ArtifactRef `json:"report"`
	Bundle domain.ArtifactRef `json:"bundle"`
}

// Activities handles drafting-specific Temporal activities. It
// encapsulates gateway access, artifact storage, and event emission for
// the whole draft-to-bundle pipeline.
type Activities struct {
	activity.BaseActivities
	client gateway.Client
	store  artifacts.Store
	events *EventEmitter
	cfg    Config
}

// NewActivities creates drafting activities with the provided
// dependencies. The base activities provide event emission and logging;
// the gateway client and artifact store handle generation and storage.
func NewActivities(
	base activity.BaseActivities,
	client gateway.Client,
	store artifacts.Store,
	cfg Config,
) *Activities {
	return &Activities{
		BaseActivities: base,
		client:         client,
		store:          store,
		events:         NewEventEmitter(base),
		cfg:            cfg,
	}
}

// repairerFor resolves the configured repair strategy against the run's
// metered gateway, so gateway-backed repair calls draw from the same
// call budget as everything else.
func (a *Activities) repairerFor(gw *meteredGateway, tenantID string) continuation.Repairer {
	switch a.cfg.Repair {
	case RepairOff:
		return nil
	case RepairGateway:
		return NewGatewayRepairer(gw, a.cfg.Provider, a.cfg.Model, tenantID, a.cfg.MaxTokens)
	default:
		return extraction.StructuralRepairer{}
	}
}

// DraftSection produces one prose section draft under continuation
// control and stores it as an artifact.
//
// The operation:
// 1. Validates input parameters
// 2. Drives the drafting call to completion, continuations included
// 3. Discards scratchpad content from the assembled text
// 4. Stores the draft (and optionally the rendered prompt)
// 5. Emits the section-drafted event
//
// Returns non-retryable errors for validation failures and exhausted
// call budgets, retryable errors for transient generation issues.
func (a *Activities) DraftSection(
	ctx context.Context,
	input DraftSectionInput,
) (*DraftSectionOutput, error) {
	if err := input.Validate(); err != nil {
		return nil, nonRetryable("DraftSection", err, "invalid input")
	}

	wfCtx := a.GetWorkflowContext(ctx)
	wfCtx.TenantID = input.TenantID
	activity.SafeLog(ctx, "Starting DraftSection activity",
		"workflow_id", wfCtx.WorkflowID,
		"section", input.Section.Name)

	startTime := time.Now()
	gw := newMeteredGateway(a.client, input.CallBudget)

	sys := draftSystemPrompt
	var hist gateway.History
	hist.Append(gateway.RoleSystem, sys)
	hist.AppendUser(input.Section.Prompt)

	req := &gateway.Request{
		Operation:      gateway.OpDraft,
		Provider:       a.cfg.Provider,
		Model:          a.cfg.Model,
		TenantID:       input.TenantID,
		History:        hist,
		MaxTokens:      sectionMaxTokens(a.cfg, input.Section),
		Temperature:    a.cfg.Temperature,
		TraceID:        input.ReportID,
		IdempotencyKey: "draft-" + shortHash(input.ReportID+"\x00"+input.Section.Name, hashKeyLength),
	}

	ctrl := continuation.NewController(gw, nil, continuation.Config{
		MaxTurns: input.Budget.MaxContinuations,
	})

	draftCtx, cancel := context.WithTimeout(ctx, time.Duration(input.Budget.UnitTimeoutSecs)*time.Second)
	defer cancel()
	outcome, err := ctrl.Complete(draftCtx, req, nil)
	if err != nil {
		return nil, classify("DraftSection", err, "section drafting failed")
	}

	text, _ := RemoveTag(outcome.Text, "scratchpad")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, retryable("DraftSection", gerrors.ErrEmptyReply, "draft empty after scratchpad removal")
	}

	draftKey := SectionDraftKey(input.TenantID, wfCtx.WorkflowID, input.ReportID, input.Section.Name)
	draftRef, err := a.store.Put(ctx, text, domain.ArtifactSectionDraft, draftKey)
	if err != nil {
		return nil, nonRetryable("DraftSection", err, "failed to store draft artifact")
	}
	promptRef := a.storePromptArtifact(ctx, input.TenantID, wfCtx.WorkflowID,
		input.ReportID, input.Section.Name, sys+"\n\n"+input.Section.Prompt)

	calls, usage, requestIDs := gw.stats()
	output := &DraftSectionOutput{
		Section:            input.Section.Name,
		Text:               text,
		Draft:              draftRef,
		Prompt:             promptRef,
		TokensUsed:         usage.TotalTokens,
		CallsMade:          calls,
		Continuations:      outcome.Continuations,
		ProviderRequestIDs: requestIDs,
	}

	latencyMs := time.Since(startTime).Milliseconds()
	a.events.EmitSectionDrafted(ctx, output, wfCtx, input.ReportID, a.cfg.Provider, a.cfg.Model, latencyMs)

	activity.SafeLog(ctx, "DraftSection completed",
		"section", output.Section,
		"continuations", output.Continuations,
		"calls", output.CallsMade,
		"latency_ms", latencyMs)
	return output, nil
}

// ProduceRecords drafts one schema section and extracts its typed
// records, running the structural and defective-row recovery ladders
// when the draft resists parsing. The rendered record table is stored
// as an artifact so downstream steps never re-render it.
//
// Recovery failures degrade to failure notes in the output; only a
// failed draft, an exhausted budget, or artifact storage fails the
// activity.
func (a *Activities) ProduceRecords(
	ctx context.Context,
	input ProduceRecordsInput,
) (*ProduceRecordsOutput, error) {
	if err := input.Validate(); err != nil {
		return nil, nonRetryable("ProduceRecords", err, "invalid input")
	}

	wfCtx := a.GetWorkflowContext(ctx)
	wfCtx.TenantID = input.TenantID
	activity.SafeLog(ctx, "Starting ProduceRecords activity",
		"workflow_id", wfCtx.WorkflowID,
		"section", input.Section.Name)

	startTime := time.Now()
	gw := newMeteredGateway(a.client, input.CallBudget)
	producer := newRecordProducer(gw, a.repairerFor(gw, input.TenantID), a.cfg,
		input.TenantID, input.ReportID, input.Budget, input.Concurrency)

	activity.RecordHeartbeat(ctx, fmt.Sprintf("Producing records for %s", input.Section.Name))
	run, err := producer.run(ctx, input.Section)
	if err != nil {
		return nil, classify("ProduceRecords", err, "record production failed")
	}

	table := extraction.RenderTable(input.Section.Schema, run.records)
	tableKey := RecordTableKey(input.TenantID, wfCtx.WorkflowID, input.ReportID, input.Section.Name)
	tableRef, err := a.store.Put(ctx, table, domain.ArtifactRecordTable, tableKey)
	if err != nil {
		return nil, nonRetryable("ProduceRecords", err, "failed to store record table")
	}
	if a.cfg.KeepPrompts {
		sys, _ := FormatPrompt(recordsSystemPrompt, map[string]string{
			"fields": fieldList(input.Section.Schema.FieldNames()),
		})
		a.storePromptArtifact(ctx, input.TenantID, wfCtx.WorkflowID,
			input.ReportID, input.Section.Name, sys+"\n\n"+input.Section.Prompt)
	}

	calls, usage, requestIDs := gw.stats()
	output := &ProduceRecordsOutput{
		Section:            input.Section.Name,
		Text:               run.text,
		Records:            run.records,
		DefectiveLines:     run.defectiveLines,
		Failures:           run.failures,
		Table:              tableRef,
		TokensUsed:         usage.TotalTokens,
		CallsMade:          calls,
		ProviderRequestIDs: requestIDs,
	}

	a.events.EmitRecordsProduced(ctx, output, wfCtx, input.ReportID)

	latencyMs := time.Since(startTime).Milliseconds()
	activity.SafeLog(ctx, "ProduceRecords completed",
		"section", output.Section,
		"records", len(output.Records),
		"defective_lines", len(output.DefectiveLines),
		"failures", len(output.Failures),
		"mismatches", run.mismatches,
		"calls", output.CallsMade,
		"latency_ms", latencyMs)
	return output, nil
}

// SynthesizeReport weaves the stored section drafts into one report
// body. Drafts are fetched and normalized in parallel, then a single
// synthesis call assembles them; the reply's report tag is the body,
// falling back to the whole reply when the model drops the tag.
func (a *Activities) SynthesizeReport(
	ctx context.Context,
	input SynthesizeReportInput,
) (*SynthesizeReportOutput, error) {
	if err := input.Validate(); err != nil {
		return nil, nonRetryable("SynthesizeReport", err, "invalid input")
	}

	wfCtx := a.GetWorkflowContext(ctx)
	wfCtx.TenantID = input.TenantID
	activity.SafeLog(ctx, "Starting SynthesizeReport activity",
		"workflow_id", wfCtx.WorkflowID,
		"drafts", len(input.Drafts))

	startTime := time.Now()

	// Fetch and prepare every draft before the synthesis call. Section
	// headers are pushed below the report's own heading levels, and each
	// draft is wrapped in a tag named after its section so the model can
	// tell them apart.
	units := make([]fanout.Unit, len(input.Drafts))
	for i, draft := range input.Drafts {
		units[i] = func(ctx context.Context) (any, error) {
			text, err := a.store.Get(ctx, draft.Ref)
			if err != nil {
				return nil, fmt.Errorf("draft %q: %w", draft.Name, err)
			}
			normalized := NormalizeDemoteHeaders(text, 3)
			return CreateTag(slug(draft.Name), normalized), nil
		}
	}
	orch := fanout.New(fanout.Config{
		Limit:       input.Concurrency,
		UnitTimeout: time.Duration(input.Budget.UnitTimeoutSecs) * time.Second,
	})
	prepared, err := orch.Run(ctx, units)
	if err != nil {
		if errors.Is(err, artifacts.ErrArtifactNotFound) {
			return nil, nonRetryable("SynthesizeReport", err, "draft artifact missing")
		}
		return nil, retryable("SynthesizeReport", err, "failed to prepare drafts")
	}

	tagged := make([]string, len(prepared))
	for i, val := range prepared {
		tagged[i] = val.(string)
	}
	user, _ := FormatPrompt(synthesisUserPrompt, map[string]string{
		"title":    input.Title,
		"sections": strings.Join(tagged, "\n\n"),
	})

	var hist gateway.History
	hist.Append(gateway.RoleSystem, synthesisSystemPrompt)
	hist.AppendUser(user)

	req := &gateway.Request{
		Operation:      gateway.OpSynthesize,
		Provider:       a.cfg.Provider,
		Model:          a.cfg.Model,
		TenantID:       input.TenantID,
		History:        hist,
		MaxTokens:      a.cfg.MaxTokens,
		Temperature:    a.cfg.Temperature,
		TraceID:        input.ReportID,
		IdempotencyKey: "synthesize-" + shortHash(input.ReportID, hashKeyLength),
	}

	gw := newMeteredGateway(a.client, input.CallBudget)
	ctrl := continuation.NewController(gw, nil, continuation.Config{
		MaxTurns: input.Budget.MaxContinuations,
	})

	synthCtx, cancel := context.WithTimeout(ctx, time.Duration(input.Budget.UnitTimeoutSecs)*time.Second)
	defer cancel()
	outcome, err := ctrl.Complete(synthCtx, req, nil)
	if err != nil {
		return nil, classify("SynthesizeReport", err, "synthesis failed")
	}

	body := strings.TrimSpace(RetrieveTag(outcome.Text, "report"))
	if body == "" {
		body = strings.TrimSpace(outcome.Text)
	}

	calls, usage, requestIDs := gw.stats()
	latencyMs := time.Since(startTime).Milliseconds()
	activity.SafeLog(ctx, "SynthesizeReport completed",
		"continuations", outcome.Continuations,
		"calls", calls,
		"latency_ms", latencyMs)

	return &SynthesizeReportOutput{
		Body:               body,
		TokensUsed:         usage.TotalTokens,
		CallsMade:          calls,
		Continuations:      outcome.Continuations,
		ProviderRequestIDs: requestIDs,
	}, nil
}

// BundleArtifacts stores the final report document and zips every run
// artifact into one bundle. This is the run's last activity, so it also
// emits the report-assembled event.
func (a *Activities) BundleArtifacts(
	ctx context.Context,
	input BundleArtifactsInput,
) (*BundleArtifactsOutput, error) {
	if err := input.Validate(); err != nil {
		return nil, nonRetryable("BundleArtifacts", err, "invalid input")
	}

	wfCtx := a.GetWorkflowContext(ctx)
	wfCtx.TenantID = input.TenantID
	activity.SafeLog(ctx, "Starting BundleArtifacts activity",
		"workflow_id", wfCtx.WorkflowID,
		"sections", len(input.Sections))

	startTime := time.Now()

	document, err := a.buildReportDocument(ctx, input.Title, input.Body, input.Sections)
	if err != nil {
		return nil, nonRetryable("BundleArtifacts", err, "failed to assemble report document")
	}

	bodyKey := ReportBodyKey(input.TenantID, wfCtx.WorkflowID, input.ReportID)
	bodyRef, err := a.store.Put(ctx, document, domain.ArtifactReportBody, bodyKey)
	if err != nil {
		return nil, nonRetryable("BundleArtifacts", err, "failed to store report document")
	}

	refs := make([]domain.ArtifactRef, 0, 2*len(input.Sections)+1)
	for _, section := range input.Sections {
		if section.Draft.Key != "" {
			refs = append(refs, section.Draft)
		}
		if section.Table.Key != "" {
			refs = append(refs, section.Table)
		}
	}
	refs = append(refs, bodyRef)

	activity.RecordHeartbeat(ctx, fmt.Sprintf("Bundling %d artifacts", len(refs)))
	bundleKey := ReportBundleKey(input.TenantID, wfCtx.WorkflowID, input.ReportID)
	bundleRef, err := artifacts.BuildBundle(ctx, a.store, refs, bundleKey)
	if err != nil {
		return nil, nonRetryable("BundleArtifacts", err, "failed to build bundle")
	}

	a.events.EmitReportAssembled(ctx, input.ReportID, input.Title, len(input.Sections),
		bundleRef, input.TotalTokens, input.GatewayCalls, wfCtx, input.ReportID)

	latencyMs := time.Since(startTime).Milliseconds()
	activity.SafeLog(ctx, "BundleArtifacts completed",
		"report_key", bodyRef.Key,
		"bundle_key", bundleRef.Key,
		"bundle_size", bundleRef.Size,
		"latency_ms", latencyMs)

	return &BundleArtifactsOutput{Report: bodyRef, Bundle: bundleRef}, nil
}

// buildReportDocument assembles the final markdown: the synthesized
// body, titled when the model left the title off, plus a data appendix
// holding each section's stored record table.
func (a *Activities) buildReportDocument(ctx context.Context, title, body string, sections []domain.SectionResult) (string, error) {
	var b strings.Builder
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, "#") {
		fmt.Fprintf(&b, "# %s\n\n", title)
	}
	b.WriteString(trimmed)
	b.WriteString("\n")

	appendixOpen := false
	for _, section := range sections {
		if section.Table.Key == "" {
			continue
		}
		table, err := a.store.Get(ctx, section.Table)
		if err != nil {
			return "", fmt.Errorf("failed to read table for %q: %w", section.Name, err)
		}
		if !appendixOpen {
			b.WriteString("\n## Data appendix\n")
			appendixOpen = true
		}
		fmt.Fprintf(&b, "\n### %s\n\n%s\n", section.Name, strings.TrimSpace(table))
	}
	return b.String(), nil
}

// storePromptArtifact keeps the rendered prompt beside the run when
// prompt keeping is on. The prompt is an audit aid, not run state, so
// storage failures are logged and swallowed.
func (a *Activities) storePromptArtifact(ctx context.Context, tenantID, workflowID, runKey, section, prompt string) domain.ArtifactRef {
	if !a.cfg.KeepPrompts {
		return domain.ArtifactRef{}
	}
	key := RawPromptKey(tenantID, workflowID, runKey, section)
	ref, err := a.store.Put(ctx, prompt, domain.ArtifactRawPrompt, key)
	if err != nil {
		activity.SafeLogError(ctx, "Failed to store prompt artifact",
			"key", key,
			"error", err)
		return domain.ArtifactRef{}
	}
	return ref
}

// classify maps a generation error onto Temporal retry semantics.
// Budget violations are permanent for the run; everything else may
// clear on retry.
func classify(tag string, err error, msg string) error {
	var exceeded domain.BudgetExceededError
	if errors.As(err, &exceeded) {
		return nonRetryable(tag, err, exceeded.Error())
	}
	return retryable(tag, err, msg)
}

// nonRetryable wraps an error as a Temporal non-retryable application error.
// Used for validation failures and permanent errors that should not be retried.
func nonRetryable(tag string, cause error, msg string) error {
	return temporal.NewNonRetryableApplicationError(msg, tag, cause)
}

// retryable wraps an error as a Temporal retryable application error.
// Used for transient failures that may succeed on retry with backoff.
func retryable(tag string, cause error, msg string) error {
	return temporal.NewApplicationError(msg, tag, cause)
}
