package continuation

import "fmt"

// DegenerateError reports a generation that carries no usable content:
// either empty once padding is removed, or so dominated by repeated
// filler that its collapsed-to-compacted length ratio crosses the
// degeneracy threshold.
type DegenerateError struct {
	// RawLen is the length of the reply after run collapsing.
	RawLen int
	// CompactLen is the length with all spaces and dashes removed.
	CompactLen int
	// Ratio is RawLen divided by CompactLen, integer division.
	Ratio int
}

func (e *DegenerateError) Error() string {
	return fmt.Sprintf(
		"generation is empty or pathologically repetitive (raw %d, compacted %d, ratio %d)",
		e.RawLen, e.CompactLen, e.Ratio)
}

// ExhaustedError reports that the continuation budget ran out before the
// model produced a complete response. Tail carries the end of the
// assembled text for diagnosis.
type ExhaustedError struct {
	Turns int
	Tail  string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("generation incomplete after %d continuation turns", e.Turns)
}
