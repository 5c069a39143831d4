package drafting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aelwyn/go-drafter/internal/continuation"
	"github.com/aelwyn/go-drafter/internal/domain"
	"github.com/aelwyn/go-drafter/internal/extraction"
	"github.com/aelwyn/go-drafter/internal/fanout"
	"github.com/aelwyn/go-drafter/internal/gateway"
)

// recordsEndToken is the closing marker the records system prompt asks
// for. The continuation controller treats a reply ending with it as
// complete.
const recordsEndToken = "End of report."

// conversionResult is what one conversion unit hands back through the
// fan-out layer.
type conversionResult struct {
	records   []domain.Record
	defective []string
}

// recordsOutcome is everything one section's record run produced. Token
// usage and call counts live in the metered gateway, not here.
type recordsOutcome struct {
	text           string
	records        []domain.Record
	defectiveLines []string
	failures       []domain.FailureNote
	continuations  int
	mismatches     int
}

// recordProducer drives one section spec from prompt to typed records.
// It owns the recovery ladder for structured output: a clean extraction
// is used as-is, a structurally broken draft is re-converted in bounded
// fan-out chunks, and rows that survived extraction defective get
// dedicated conversion rounds. The section must carry a schema; callers
// validate that before constructing a producer.
type recordProducer struct {
	gw       *meteredGateway
	repairer continuation.Repairer
	orch     *fanout.Orchestrator
	cfg      Config
	tenantID string
	runKey   string
	budget   domain.DraftBudget
}

func newRecordProducer(gw *meteredGateway, repairer continuation.Repairer, cfg Config, tenantID, runKey string, budget domain.DraftBudget, workers int) *recordProducer {
	return &recordProducer{
		gw:       gw,
		repairer: repairer,
		orch: fanout.New(fanout.Config{
			Limit:       workers,
			UnitTimeout: time.Duration(budget.UnitTimeoutSecs) * time.Second,
		}),
		cfg:      cfg,
		tenantID: tenantID,
		runKey:   runKey,
		budget:   budget,
	}
}

// run drafts the section and extracts its records, recovering what it
// can when the draft resists parsing. A draft failure is fatal; recovery
// failures degrade to failure notes and leftover defective lines.
func (p *recordProducer) run(ctx context.Context, section domain.SectionSpec) (*recordsOutcome, error) {
	draft, err := p.draft(ctx, section)
	if err != nil {
		return nil, fmt.Errorf("drafting records for %q: %w", section.Name, err)
	}

	out := &recordsOutcome{text: draft.Text, continuations: draft.Continuations}

	res, err := extraction.Extract(draft.Text, section.Schema)
	switch {
	case err != nil:
		// Nothing in the draft parsed. Re-feed it through conversion,
		// chunked when it at least looks tabular.
		p.recoverStructure(ctx, section, draft.Text, out)
	case len(res.DefectiveLines) > 0:
		out.records = res.Records
		out.mismatches += len(res.Mismatches)
		p.recoverDefectives(ctx, section, draft.Text, res.DefectiveLines, out)
	case len(res.Records) == 0:
		// A table skeleton with no data rows parses but yields nothing;
		// treat it like unparseable text.
		p.recoverStructure(ctx, section, draft.Text, out)
	default:
		out.records = res.Records
		out.mismatches += len(res.Mismatches)
	}

	extraction.CleanRecords(out.records)
	return out, nil
}

// draft runs the structured drafting call under continuation control.
// The whole exchange, continuations included, shares one unit timeout.
func (p *recordProducer) draft(ctx context.Context, section domain.SectionSpec) (*continuation.Outcome, error) {
	sys, _ := FormatPrompt(recordsSystemPrompt, map[string]string{
		"fields": fieldList(section.Schema.FieldNames()),
	})

	var hist gateway.History
	hist.Append(gateway.RoleSystem, sys)
	hist.AppendUser(section.Prompt)

	req := &gateway.Request{
		Operation:      gateway.OpDraft,
		Provider:       p.cfg.Provider,
		Model:          p.cfg.Model,
		TenantID:       p.tenantID,
		History:        hist,
		MaxTokens:      sectionMaxTokens(p.cfg, section),
		Temperature:    p.cfg.Temperature,
		TraceID:        p.runKey,
		IdempotencyKey: "records-" + shortHash(p.runKey+"\x00"+section.Name, hashKeyLength),
	}

	ctrl := continuation.NewController(p.gw, p.repairer, continuation.Config{
		MaxTurns:  p.budget.MaxContinuations,
		EndTokens: []string{recordsEndToken},
	})

	ctx, cancel := context.WithTimeout(ctx, time.Duration(p.budget.UnitTimeoutSecs)*time.Second)
	defer cancel()
	return ctrl.Complete(ctx, req, section.Schema)
}

// recoverStructure handles a draft with no recognizable structure at
// all. Table-looking text is split into bounded record sets and each
// set is converted in parallel; anything else goes through conversion
// whole. Unit failures become failure notes, never errors.
func (p *recordProducer) recoverStructure(ctx context.Context, section domain.SectionSpec, text string, out *recordsOutcome) {
	sets := [][]string{{text}}
	if extraction.Detect(text) == extraction.ModeTable {
		if found := extraction.BuildFallbackRecordSets(text, p.rowsPerSet()); len(found) > 0 {
			sets = found
		}
	}

	units := make([]fanout.NamedUnit, len(sets))
	for i, set := range sets {
		data := strings.Join(set, "\n")
		units[i] = fanout.NamedUnit{
			Name:  fmt.Sprintf("%s.convert.%03d", section.Name, i),
			Input: data,
			Work: func(ctx context.Context) (any, error) {
				return p.convert(ctx, section, data)
			},
		}
	}

	results, failures := p.orch.RunNamed(ctx, section.Name, units)
	for i := range units {
		val, ok := results[units[i].Name]
		if !ok {
			continue
		}
		conv := val.(*conversionResult)
		out.records = append(out.records, conv.records...)
		out.defectiveLines = append(out.defectiveLines, conv.defective...)
	}
	out.failures = append(out.failures, noteFailures(failures)...)
}

// recoverDefectives re-converts rows the extractor flagged, one bounded
// round at a time. Each round re-presents the recovered header plus the
// still-defective rows; a round that converts nothing ends the loop.
// Whatever remains defective afterwards is kept as a diagnostic.
func (p *recordProducer) recoverDefectives(ctx context.Context, section domain.SectionSpec, text string, defective []string, out *recordsOutcome) {
	header := extraction.RecoverDefectiveHeader(text)

	remaining := defective
	for round := 0; round < p.budget.MaxRepairRounds && len(remaining) > 0; round++ {
		lines := make([]string, 0, len(header)+len(remaining))
		lines = append(lines, header...)
		lines = append(lines, remaining...)
		payload := strings.Join(lines, "\n")

		unit := fanout.NamedUnit{
			Name:  fmt.Sprintf("%s.defective.%d", section.Name, round),
			Input: payload,
			Work: func(ctx context.Context) (any, error) {
				return p.convert(ctx, section, payload)
			},
		}
		results, failures := p.orch.RunNamed(ctx, section.Name, []fanout.NamedUnit{unit})
		if len(failures) > 0 {
			out.failures = append(out.failures, noteFailures(failures)...)
			break
		}

		conv := results[unit.Name].(*conversionResult)
		if len(conv.records) == 0 {
			break
		}
		out.records = append(out.records, conv.records...)
		remaining = conv.defective
	}
	out.defectiveLines = append(out.defectiveLines, remaining...)
}

// convert asks the model to restructure data into the section's table
// shape and extracts the reply. The reply must parse: a conversion that
// itself resists extraction is a unit failure.
func (p *recordProducer) convert(ctx context.Context, section domain.SectionSpec, data string) (*conversionResult, error) {
	prompt, _ := FormatPrompt(conversionPrompt, map[string]string{
		"fields": fieldList(section.Schema.FieldNames()),
		"data":   data,
	})

	var hist gateway.History
	hist.AppendUser(prompt)

	req := &gateway.Request{
		Operation: gateway.OpConvert,
		Provider:  p.cfg.Provider,
		Model:     p.cfg.Model,
		TenantID:  p.tenantID,
		History:   hist,
		MaxTokens: sectionMaxTokens(p.cfg, section),
		// Conversion restructures existing text; it runs cold.
		Temperature:    0,
		TraceID:        p.runKey,
		IdempotencyKey: "convert-" + shortHash(p.runKey+"\x00"+section.Name+"\x00"+data, hashKeyLength),
	}

	ctrl := continuation.NewController(p.gw, nil, continuation.Config{MaxTurns: p.budget.MaxContinuations})
	driven, err := ctrl.Complete(ctx, req, nil)
	if err != nil {
		return nil, err
	}

	res, err := extraction.Extract(strings.TrimSpace(StripFences(driven.Text)), section.Schema)
	if err != nil {
		return nil, fmt.Errorf("conversion reply unusable: %w", err)
	}
	return &conversionResult{records: res.Records, defective: res.DefectiveLines}, nil
}

func (p *recordProducer) rowsPerSet() int {
	if p.cfg.RowsPerSet > 0 {
		return p.cfg.RowsPerSet
	}
	return extraction.DefaultRecordSetRows
}

// sectionMaxTokens resolves the generation cap for a section, letting a
// per-section override win over the configured default.
func sectionMaxTokens(cfg Config, section domain.SectionSpec) int64 {
	if section.MaxTokens > 0 {
		return section.MaxTokens
	}
	return cfg.MaxTokens
}

// noteFailures converts fan-out failure records to their serializable
// form.
func noteFailures(failures []fanout.FailureRecord) []domain.FailureNote {
	notes := make([]domain.FailureNote, len(failures))
	for i, f := range failures {
		notes[i] = domain.FailureNote{
			Name:         f.Name,
			Index:        f.Index,
			Error:        f.Error,
			InputPreview: f.Input,
		}
	}
	return notes
}
