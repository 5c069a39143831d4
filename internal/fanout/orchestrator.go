// Package fanout runs independent work units concurrently under a shared
// admission limit, preserving submission order in delivered results.
//
// Two result policies cover the two caller intents:
//
//   - Run: every unit executes to completion, then either all results are
//     delivered in submission order or the call fails as a whole with the
//     lowest-index error. Suited for prompt batches feeding one synthesis
//     step, where a partial batch is useless.
//   - RunNamed: each unit succeeds or fails on its own. Successes come back
//     as a name-to-result map and every failure becomes a FailureRecord
//     carrying enough context to diagnose it without re-running the unit.
//     Suited for independently meaningful sub-tasks.
//
// An Orchestrator is an explicit value constructed by the caller and handed
// to whoever dispatches work. There is no package-level executor.
package fanout

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"
)

// inputPreviewBytes caps the input snapshot stored in a FailureRecord.
const inputPreviewBytes = 800

// Unit is one independent piece of work. The context passed in carries the
// per-unit timeout when one is configured; units are expected to honor it.
// On error a unit may still return a partially built value, which the
// aggregate-partial policy snapshots into the FailureRecord.
type Unit func(ctx context.Context) (any, error)

// NamedUnit couples a Unit with its identity and raw input for diagnostics.
type NamedUnit struct {
	// Name identifies the unit in results and failure records. When empty,
	// RunNamed derives one from the parent name and the submission index.
	Name string

	// Input is the raw input the unit works on. Failure records carry a
	// truncated preview of it.
	Input string

	// Work does the actual work.
	Work Unit
}

// FailureRecord captures one failed unit under the aggregate-partial policy.
type FailureRecord struct {
	// Name is the unit's own name or the derived <parent>.child.<index> one.
	Name string `json:"name"`

	// Index is the unit's submission position.
	Index int `json:"index"`

	// Error is the unit's error text.
	Error string `json:"error"`

	// Input holds a preview of the unit's raw input, truncated to roughly
	// 800 bytes on a rune boundary.
	Input string `json:"input,omitempty"`

	// Partial is whatever value the failing unit had produced before it
	// failed, so diagnosis never requires re-execution. May be nil.
	Partial any `json:"-"`
}

// TaskError reports the first failed unit of an ordered fail-fast run.
type TaskError struct {
	// Index is the failed unit's submission position.
	Index int

	// Err is the unit's error.
	Err error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("fanout: unit %d failed: %v", e.Index, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Config bounds the orchestrator.
type Config struct {
	// Limit caps how many units execute at once. Zero or negative means
	// unlimited admission.
	Limit int

	// UnitTimeout bounds one unit's entire execution, continuation turns
	// included. The clock starts after admission, so time spent waiting for
	// a slot does not count. Zero disables the per-unit timeout.
	UnitTimeout time.Duration
}

// Orchestrator dispatches work units under one admission limit.
// The zero value is not usable; construct with New.
type Orchestrator struct {
	cfg Config
	sem *semaphore.Weighted
}

// New builds an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{cfg: cfg}
	if cfg.Limit > 0 {
		o.sem = semaphore.NewWeighted(int64(cfg.Limit))
	}
	return o
}

// Run executes every unit to completion and returns their results in
// submission order. If any unit failed, Run returns a TaskError for the
// lowest-index failure and no results at all. The error is raised only
// after the last unit finished, so one failure never cuts a sibling short.
func (o *Orchestrator) Run(ctx context.Context, units []Unit) ([]any, error) {
	results := make([]any, len(units))
	errs := make([]error, len(units))

	var wg sync.WaitGroup
	for i, unit := range units {
		wg.Add(1)
		go func(idx int, u Unit) {
			defer wg.Done()
			results[idx], errs[idx] = o.execute(ctx, u)
		}(i, unit)
	}
	wg.Wait()

	for idx, err := range errs {
		if err != nil {
			return nil, &TaskError{Index: idx, Err: err}
		}
	}
	return results, nil
}

// RunNamed executes every unit and splits the outcomes: successes as a
// name-to-result map, failures as FailureRecords ordered by submission
// index. RunNamed itself never fails; an empty map next to a full failure
// list is a valid outcome. Units named "" are reported under a derived
// <parent>.child.<index:06d> name.
func (o *Orchestrator) RunNamed(ctx context.Context, parent string, units []NamedUnit) (map[string]any, []FailureRecord) {
	successes := make(map[string]any, len(units))
	var failures []FailureRecord

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i, unit := range units {
		wg.Add(1)
		go func(idx int, u NamedUnit) {
			defer wg.Done()

			name := u.Name
			if name == "" {
				name = fmt.Sprintf("%s.child.%06d", parent, idx)
			}

			val, err := o.execute(ctx, u.Work)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, FailureRecord{
					Name:    name,
					Index:   idx,
					Error:   err.Error(),
					Input:   previewInput(u.Input),
					Partial: val,
				})
				return
			}
			successes[name] = val
		}(i, unit)
	}
	wg.Wait()

	sort.Slice(failures, func(i, j int) bool { return failures[i].Index < failures[j].Index })
	return successes, failures
}

// execute runs one unit behind the admission limiter. The admission slot is
// released on every exit path, panics and cancellations included.
func (o *Orchestrator) execute(ctx context.Context, unit Unit) (val any, err error) {
	if o.sem != nil {
		if acqErr := o.sem.Acquire(ctx, 1); acqErr != nil {
			return nil, acqErr
		}
		defer o.sem.Release(1)
	}

	if o.cfg.UnitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.UnitTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			val, err = nil, fmt.Errorf("unit panicked: %v", r)
		}
	}()
	return unit(ctx)
}

// previewInput truncates s to the preview budget on a rune boundary.
func previewInput(s string) string {
	if len(s) <= inputPreviewBytes {
		return s
	}
	cut := inputPreviewBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
