package drafting

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"

	"github.com/aelwyn/go-drafter/internal/domain"
	"github.com/aelwyn/go-drafter/internal/extraction"
	"github.com/aelwyn/go-drafter/internal/gateway"
)

const testTenant = "9f4f95c1-7f0a-4272-a0f5-96ab3bb7b963"

func requireNonRetryable(t *testing.T, err error) {
	t.Helper()
	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.True(t, appErr.NonRetryable(), "expected a non-retryable error, got %v", err)
}

func TestDraftSection_StoresDraftAndEmitsEvent(t *testing.T) {
	prose := "## Overview\n\nGrowth held steady across all regions."
	acts, client, store, sink := newTestActivities(Config{KeepPrompts: true},
		func(*gateway.Request) (*gateway.Reply, error) {
			return reply(prose), nil
		})

	out, err := acts.DraftSection(context.Background(), DraftSectionInput{
		ReportID:   "run-1",
		TenantID:   testTenant,
		Section:    domain.SectionSpec{Name: "Overview", Prompt: "Summarize the quarter."},
		Budget:     testBudget(),
		CallBudget: 4,
	})
	require.NoError(t, err)

	assert.Equal(t, "Overview", out.Section)
	assert.Equal(t, prose, out.Text)
	assert.Equal(t, int64(1), out.CallsMade)
	assert.Equal(t, int64(30), out.TokensUsed)
	assert.Len(t, out.ProviderRequestIDs, 1)

	assert.True(t, strings.HasPrefix(out.Draft.Key, "drafts/"+testTenant+"/"), out.Draft.Key)
	assert.True(t, strings.HasSuffix(out.Draft.Key, "/sec-overview.md"), out.Draft.Key)
	stored, err := store.Get(context.Background(), out.Draft)
	require.NoError(t, err)
	assert.Equal(t, prose, stored)

	require.False(t, out.Prompt.IsZero(), "prompt keeping is on")
	prompt, err := store.Get(context.Background(), out.Prompt)
	require.NoError(t, err)
	assert.Contains(t, prompt, "Summarize the quarter.")

	seen := client.seen()
	require.Len(t, seen, 1)
	assert.Equal(t, gateway.OpDraft, seen[0].Operation)

	emitted := sink.byType(string(domain.EventTypeSectionDrafted))
	require.Len(t, emitted, 1)
	assert.Equal(t, testTenant, emitted[0].TenantID)
	assert.Equal(t, domain.SectionDraftedIdempotencyKey("run-1", "Overview"), emitted[0].IdempotencyKey)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(emitted[0].Payload, &payload))
	assert.Equal(t, "Overview", payload["section"])
	assert.Equal(t, out.Draft.Key, payload["content_ref"])
}

func TestDraftSection_RemovesScratchpad(t *testing.T) {
	acts, _, store, _ := newTestActivities(Config{},
		func(*gateway.Request) (*gateway.Reply, error) {
			return reply("<scratchpad>\nlet me think about margins\n</scratchpad>\n## Margins\n\nMargins improved."), nil
		})

	out, err := acts.DraftSection(context.Background(), DraftSectionInput{
		ReportID:   "run-1",
		TenantID:   testTenant,
		Section:    domain.SectionSpec{Name: "Margins", Prompt: "Cover margins."},
		Budget:     testBudget(),
		CallBudget: 4,
	})
	require.NoError(t, err)

	assert.Equal(t, "## Margins\n\nMargins improved.", out.Text)
	assert.NotContains(t, out.Text, "scratchpad")
	stored, err := store.Get(context.Background(), out.Draft)
	require.NoError(t, err)
	assert.NotContains(t, stored, "let me think")
	assert.True(t, out.Prompt.IsZero(), "prompt keeping defaults off")
}

func TestDraftSection_InvalidInput(t *testing.T) {
	acts, client, _, _ := newTestActivities(Config{},
		func(*gateway.Request) (*gateway.Reply, error) {
			return reply("unused."), nil
		})

	_, err := acts.DraftSection(context.Background(), DraftSectionInput{
		TenantID:   testTenant,
		Section:    domain.SectionSpec{Name: "Overview", Prompt: "p"},
		Budget:     testBudget(),
		CallBudget: 4,
	})
	requireNonRetryable(t, err)
	assert.Empty(t, client.seen(), "invalid input never reaches the gateway")
}

func TestProduceRecords_StoresTableAndEmitsEvent(t *testing.T) {
	acts, _, store, sink := newTestActivities(Config{},
		func(*gateway.Request) (*gateway.Reply, error) {
			return reply(cleanDraft), nil
		})

	out, err := acts.ProduceRecords(context.Background(), ProduceRecordsInput{
		ReportID:    "run-1",
		TenantID:    testTenant,
		Section:     regionSection(),
		Budget:      testBudget(),
		Concurrency: 2,
		CallBudget:  6,
	})
	require.NoError(t, err)

	require.Len(t, out.Records, 2)
	assert.Empty(t, out.DefectiveLines)
	assert.Empty(t, out.Failures)
	assert.Equal(t, int64(1), out.CallsMade)

	stored, err := store.Get(context.Background(), out.Table)
	require.NoError(t, err)
	assert.Equal(t, extraction.RenderTable(regionSchema(), out.Records), stored)
	assert.Equal(t, domain.ArtifactRecordTable, out.Table.Kind)

	emitted := sink.byType(string(domain.EventTypeRecordsProduced))
	require.Len(t, emitted, 1)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(emitted[0].Payload, &payload))
	assert.Equal(t, float64(2), payload["record_count"])
	assert.Equal(t, out.Table.Key, payload["table_ref"])
}

func TestProduceRecords_FailureNotesFlowThrough(t *testing.T) {
	draft := "| id | detail |\n| -- | ------ |\n| a1 | alpha |\n| b2 | beta | extra |\nEnd of report."
	acts, _, _, sink := newTestActivities(Config{},
		func(req *gateway.Request) (*gateway.Reply, error) {
			if req.Operation == gateway.OpConvert {
				return nil, errors.New("provider down")
			}
			return reply(draft), nil
		})

	out, err := acts.ProduceRecords(context.Background(), ProduceRecordsInput{
		ReportID:   "run-1",
		TenantID:   testTenant,
		Section:    regionSection(),
		Budget:     testBudget(),
		CallBudget: 6,
	})
	require.NoError(t, err, "conversion failures degrade, they do not fail the activity")

	require.Len(t, out.Records, 1)
	assert.Equal(t, []string{"| b2 | beta | extra |"}, out.DefectiveLines)
	require.Len(t, out.Failures, 1)
	assert.Contains(t, out.Failures[0].Error, "provider down")

	emitted := sink.byType(string(domain.EventTypeRecordsProduced))
	require.Len(t, emitted, 1)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(emitted[0].Payload, &payload))
	assert.Equal(t, float64(1), payload["defective_lines"])
	assert.Equal(t, float64(1), payload["fallback_failures"])
}

func TestProduceRecords_RequiresSchema(t *testing.T) {
	acts, client, _, _ := newTestActivities(Config{},
		func(*gateway.Request) (*gateway.Reply, error) {
			return reply("unused."), nil
		})

	_, err := acts.ProduceRecords(context.Background(), ProduceRecordsInput{
		ReportID:   "run-1",
		TenantID:   testTenant,
		Section:    domain.SectionSpec{Name: "prose", Prompt: "no schema here"},
		Budget:     testBudget(),
		CallBudget: 6,
	})
	requireNonRetryable(t, err)
	assert.Contains(t, err.Error(), "has no schema")
	assert.Empty(t, client.seen())
}

func TestSynthesizeReport_WeavesStoredDrafts(t *testing.T) {
	acts, client, store, _ := newTestActivities(Config{},
		func(*gateway.Request) (*gateway.Reply, error) {
			return reply("<report>\n# Q3 Report\n\nAssembled body.\n</report>"), nil
		})

	ctx := context.Background()
	overview, err := store.Put(ctx, "# Overview\n\nSteady quarter.", domain.ArtifactSectionDraft, "drafts/t/overview.md")
	require.NoError(t, err)
	regions, err := store.Put(ctx, "# Regions\n\n| id |\n| -- |\n| a1 |", domain.ArtifactRecordTable, "tables/t/regions.md")
	require.NoError(t, err)

	out, err := acts.SynthesizeReport(ctx, SynthesizeReportInput{
		ReportID: "run-1",
		TenantID: testTenant,
		Title:    "Q3 Report",
		Drafts: []SectionDraft{
			{Name: "Overview", Ref: overview},
			{Name: "Regions", Ref: regions},
		},
		Concurrency: 2,
		Budget:      testBudget(),
		CallBudget:  4,
	})
	require.NoError(t, err)

	assert.Equal(t, "# Q3 Report\n\nAssembled body.", out.Body)
	assert.Equal(t, int64(1), out.CallsMade)

	seen := client.seen()
	require.Len(t, seen, 1)
	req := seen[0]
	assert.Equal(t, gateway.OpSynthesize, req.Operation)
	user := req.History[len(req.History)-1].Content
	assert.Contains(t, user, "# Q3 Report")
	assert.Contains(t, user, "<overview>")
	assert.Contains(t, user, "<regions>")
	assert.Contains(t, user, "### Overview", "section headers sit below the report's own levels")
}

func TestSynthesizeReport_FallsBackWhenTagMissing(t *testing.T) {
	acts, _, store, _ := newTestActivities(Config{},
		func(*gateway.Request) (*gateway.Reply, error) {
			return reply("Plain body without the tag."), nil
		})

	ctx := context.Background()
	ref, err := store.Put(ctx, "draft text.", domain.ArtifactSectionDraft, "drafts/t/sec.md")
	require.NoError(t, err)

	out, err := acts.SynthesizeReport(ctx, SynthesizeReportInput{
		ReportID:   "run-1",
		TenantID:   testTenant,
		Title:      "Q3",
		Drafts:     []SectionDraft{{Name: "sec", Ref: ref}},
		Budget:     testBudget(),
		CallBudget: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, "Plain body without the tag.", out.Body)
}

func TestSynthesizeReport_MissingDraftIsNonRetryable(t *testing.T) {
	acts, client, _, _ := newTestActivities(Config{},
		func(*gateway.Request) (*gateway.Reply, error) {
			return reply("unused."), nil
		})

	_, err := acts.SynthesizeReport(context.Background(), SynthesizeReportInput{
		ReportID: "run-1",
		TenantID: testTenant,
		Title:    "Q3",
		Drafts: []SectionDraft{
			{Name: "ghost", Ref: domain.ArtifactRef{Key: "drafts/none.md", Size: 1, Kind: domain.ArtifactSectionDraft}},
		},
		Budget:     testBudget(),
		CallBudget: 4,
	})
	requireNonRetryable(t, err)
	assert.Empty(t, client.seen(), "synthesis is never attempted with drafts missing")
}

func TestBundleArtifacts_StoresDocumentAndBundle(t *testing.T) {
	acts, _, store, sink := newTestActivities(Config{},
		func(*gateway.Request) (*gateway.Reply, error) {
			return reply("unused."), nil
		})

	ctx := context.Background()
	draftRef, err := store.Put(ctx, "Steady quarter.", domain.ArtifactSectionDraft, "drafts/t/overview.md")
	require.NoError(t, err)
	tableText := "| id | detail |\n| -- | ------ |\n| a1 | alpha |"
	tableRef, err := store.Put(ctx, tableText, domain.ArtifactRecordTable, "tables/t/regions.md")
	require.NoError(t, err)

	out, err := acts.BundleArtifacts(ctx, BundleArtifactsInput{
		ReportID: "run-1",
		TenantID: testTenant,
		Title:    "Q3 Report",
		Body:     "Results were steady.",
		Sections: []domain.SectionResult{
			{Name: "Overview", Draft: draftRef},
			{Name: "Regions", Table: tableRef},
		},
		TotalTokens:  120,
		GatewayCalls: 5,
	})
	require.NoError(t, err)

	document, err := store.Get(ctx, out.Report)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(document, "# Q3 Report\n\n"), "untitled bodies get the report title")
	assert.Contains(t, document, "Results were steady.")
	assert.Contains(t, document, "## Data appendix")
	assert.Contains(t, document, "### Regions")
	assert.Contains(t, document, tableText)
	assert.Equal(t, domain.ArtifactReportBody, out.Report.Kind)

	archive, err := store.Get(ctx, out.Bundle)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader([]byte(archive)), int64(len(archive)))
	require.NoError(t, err)
	names := make([]string, len(zr.File))
	for i, f := range zr.File {
		names[i] = f.Name
	}
	assert.Equal(t, []string{draftRef.Key, tableRef.Key, out.Report.Key}, names)

	emitted := sink.byType(string(domain.EventTypeReportAssembled))
	require.Len(t, emitted, 1)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(emitted[0].Payload, &payload))
	assert.Equal(t, out.Bundle.Key, payload["bundle_ref"])
	assert.Equal(t, float64(2), payload["section_count"])
	assert.Equal(t, float64(120), payload["total_tokens"])
}

func TestBundleArtifacts_KeepsExistingTitle(t *testing.T) {
	acts, _, store, _ := newTestActivities(Config{},
		func(*gateway.Request) (*gateway.Reply, error) {
			return reply("unused."), nil
		})

	ctx := context.Background()
	draftRef, err := store.Put(ctx, "text", domain.ArtifactSectionDraft, "drafts/t/sec.md")
	require.NoError(t, err)

	out, err := acts.BundleArtifacts(ctx, BundleArtifactsInput{
		ReportID: "run-1",
		TenantID: testTenant,
		Title:    "Q3 Report",
		Body:     "# Already Titled\n\nBody.",
		Sections: []domain.SectionResult{{Name: "sec", Draft: draftRef}},
	})
	require.NoError(t, err)

	document, err := store.Get(ctx, out.Report)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(document, "# Already Titled"), document)
	assert.NotContains(t, document, "# Q3 Report")
}
