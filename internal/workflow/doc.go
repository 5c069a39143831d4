// Package workflow defines the deterministic Temporal orchestration of a
// report-production run.
//
// ReportWorkflow sequences the pipeline steps — section drafting, record
// production, report synthesis, and artifact bundling — as activities,
// carrying the run's gateway-call budget across steps and recording a
// per-step outcome summary in the final result.
//
// Workflow code uses workflow-safe APIs only: no external I/O, no system
// time, no randomness. Everything non-deterministic lives in the drafting
// activities.
package workflow
