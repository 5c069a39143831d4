package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aelwyn/go-drafter/internal/domain"
	"github.com/aelwyn/go-drafter/internal/drafting"
	"github.com/aelwyn/go-drafter/internal/pipeline"
	"github.com/aelwyn/go-drafter/internal/worker"
	"github.com/aelwyn/go-drafter/pkg/activity"
	"github.com/aelwyn/go-drafter/pkg/events"
)

// draftFile is the one-shot request format: the report title and the
// ordered section specs, reusing the domain YAML shapes.
type draftFile struct {
	Title    string               `yaml:"title"`
	TenantID string               `yaml:"tenant_id"`
	Sections []domain.SectionSpec `yaml:"sections"`
}

func newDraftCmd() *cobra.Command {
	var (
		requestPath string
		outPath     string
	)
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Run one report end to end without Temporal",
		Long: "draft executes the full pipeline locally: each section is drafted\n" +
			"(and converted to records when it carries a schema), the drafts are\n" +
			"synthesized into the report body, and the result is written to a file.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			req, err := loadDraftRequest(requestPath)
			if err != nil {
				return err
			}

			gw, err := worker.InitializeGatewayClient(cmd.Context(), &cfg.Gateway)
			if err != nil {
				return err
			}
			store, err := worker.InitializeArtifactStore(cfg.Artifacts)
			if err != nil {
				return err
			}
			defer store.Close()

			req.Concurrency = cfg.Concurrency
			acts := drafting.NewActivities(
				activity.NewBaseActivities(events.NewNoOpEventSink()),
				gw, store, cfg.Drafting,
			)

			result, summary, err := runLocal(cmd.Context(), acts, req)
			fmt.Print(summary.RenderTable())
			if err != nil {
				return err
			}

			if err := os.WriteFile(outPath, []byte(result.Body), 0o600); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			slog.Info("report written",
				"path", outPath,
				"sections", len(result.Sections),
				"gateway_calls", result.GatewayCalls,
				"total_tokens", result.TotalTokens)
			return nil
		},
	}
	cmd.Flags().StringVar(&requestPath, "file", "report.yaml", "path to the report request file")
	cmd.Flags().StringVar(&outPath, "out", "report.md", "path for the rendered report body")
	return cmd
}

func loadDraftRequest(path string) (*domain.ReportRequest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request %s: %w", path, err)
	}
	var file draftFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse request %s: %w", path, err)
	}
	if file.TenantID == "" {
		file.TenantID = uuid.New().String()
	}
	req, err := domain.NewReportRequest(file.Title, file.TenantID, file.Sections...)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// runLocal sequences the pipeline activities directly, mirroring the
// workflow's step order and budget accounting for runs that do not need
// durable execution. The summary is returned even on failure so the
// completed steps stay visible.
func runLocal(
	ctx context.Context,
	acts *drafting.Activities,
	req *domain.ReportRequest,
) (*domain.ReportResult, *pipeline.Summary, error) {
	summary := &pipeline.Summary{}
	result := &domain.ReportResult{
		ID:       req.ID,
		Title:    req.Title,
		Sections: make([]domain.SectionResult, 0, len(req.Sections)),
	}
	callsLeft := req.Budget.MaxGatewayCalls

	for _, section := range req.Sections {
		if callsLeft < 1 {
			return nil, summary, domain.NewBudgetExceededError(
				domain.BudgetCalls, req.Budget.MaxGatewayCalls, req.Budget.MaxGatewayCalls-callsLeft)
		}
		start := time.Now()
		if section.Schema == nil {
			out, err := acts.DraftSection(ctx, drafting.DraftSectionInput{
				ReportID: req.ID, TenantID: req.TenantID,
				Section: section, Budget: req.Budget, CallBudget: callsLeft,
			})
			if err != nil {
				summary.Append(pipeline.FailedStep("draft:"+section.Name, 1, err, time.Since(start)))
				return nil, summary, err
			}
			summary.Append(pipeline.SucceededStep("draft:"+section.Name, 1, time.Since(start)))
			callsLeft -= out.CallsMade
			result.GatewayCalls += out.CallsMade
			result.TotalTokens += out.TokensUsed
			result.Sections = append(result.Sections, domain.SectionResult{
				Name: out.Section, Text: out.Text, Draft: out.Draft,
			})
			continue
		}

		out, err := acts.ProduceRecords(ctx, drafting.ProduceRecordsInput{
			ReportID: req.ID, TenantID: req.TenantID,
			Section: section, Budget: req.Budget,
			Concurrency: req.Concurrency, CallBudget: callsLeft,
		})
		if err != nil {
			summary.Append(pipeline.FailedStep("records:"+section.Name, 1, err, time.Since(start)))
			return nil, summary, err
		}
		summary.Append(pipeline.SucceededStep("records:"+section.Name, 1, time.Since(start)))
		callsLeft -= out.CallsMade
		result.GatewayCalls += out.CallsMade
		result.TotalTokens += out.TokensUsed
		result.Sections = append(result.Sections, domain.SectionResult{
			Name: out.Section, Text: out.Text, Records: out.Records,
			DefectiveLines: out.DefectiveLines, Failures: out.Failures, Table: out.Table,
		})
	}

	drafts := make([]drafting.SectionDraft, 0, len(result.Sections))
	for _, s := range result.Sections {
		ref := s.Draft
		if ref.IsZero() {
			ref = s.Table
		}
		if !ref.IsZero() {
			drafts = append(drafts, drafting.SectionDraft{Name: s.Name, Ref: ref})
		}
	}

	if callsLeft < 1 {
		return nil, summary, domain.NewBudgetExceededError(
			domain.BudgetCalls, req.Budget.MaxGatewayCalls, req.Budget.MaxGatewayCalls-callsLeft)
	}
	start := time.Now()
	synth, err := acts.SynthesizeReport(ctx, drafting.SynthesizeReportInput{
		ReportID: req.ID, TenantID: req.TenantID, Title: req.Title,
		Drafts: drafts, Concurrency: req.Concurrency,
		Budget: req.Budget, CallBudget: callsLeft,
	})
	if err != nil {
		summary.Append(pipeline.FailedStep("synthesize", 1, err, time.Since(start)))
		return nil, summary, err
	}
	summary.Append(pipeline.SucceededStep("synthesize", 1, time.Since(start)))
	result.GatewayCalls += synth.CallsMade
	result.TotalTokens += synth.TokensUsed
	result.Body = synth.Body

	start = time.Now()
	bundle, err := acts.BundleArtifacts(ctx, drafting.BundleArtifactsInput{
		ReportID: req.ID, TenantID: req.TenantID, Title: req.Title,
		Body: result.Body, Sections: result.Sections,
		TotalTokens: result.TotalTokens, GatewayCalls: result.GatewayCalls,
	})
	if err != nil {
		summary.Append(pipeline.FailedStep("bundle", 1, err, time.Since(start)))
		return nil, summary, err
	}
	summary.Append(pipeline.SucceededStep("bundle", 1, time.Since(start)))
	result.Bundle = bundle.Bundle
	result.RunSummary = summary.RenderTable()

	return result, summary, nil
}
