// Package diag carries the error taxonomy, numerical sanitizer, and
// progress-sink trait shared across the fusion pipeline's stages.
package diag

import "fmt"

// FaultKind enumerates the stage-local error kinds, surfaced only when a
// stage cannot recover in place.
type FaultKind int

const (
	// InvalidInput covers mismatched frame sizes, fewer than 2 frames, or
	// a bad configuration value.
	InvalidInput FaultKind = iota
	// ReferenceNotSet indicates an operation requiring a reference ran
	// before one was provided.
	ReferenceNotSet
	// AlignmentFailed indicates the aligner could not produce any valid
	// field.
	AlignmentFailed
	// FlowFailed indicates dense flow returned below the coverage
	// threshold.
	FlowFailed
	// LowCoverage indicates the MFSR accumulator fell below its minimum
	// fill rate.
	LowCoverage
	// AllocationFailure indicates a scratch buffer could not be obtained.
	AllocationFailure
	// Cancelled indicates cooperative cancellation was observed.
	Cancelled
	// NumericFault indicates the sanitizer found NaN/Inf after a stage.
	NumericFault
)

func (k FaultKind) String() string {
	switch k {
	case InvalidInput:
		return "InvalidInput"
	case ReferenceNotSet:
		return "ReferenceNotSet"
	case AlignmentFailed:
		return "AlignmentFailed"
	case FlowFailed:
		return "FlowFailed"
	case LowCoverage:
		return "LowCoverage"
	case AllocationFailure:
		return "AllocationFailure"
	case Cancelled:
		return "Cancelled"
	case NumericFault:
		return "NumericFault"
	default:
		return "Unknown"
	}
}

// Fault is the pipeline's single error type: a stage-local kind plus a
// human-readable message and an optional wrapped cause.
type Fault struct {
	Kind    FaultKind
	Message string
	Cause   error
}

func (f *Fault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Fault) Unwrap() error { return f.Cause }

// NewFault builds a Fault of the given kind.
func NewFault(kind FaultKind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapFault builds a Fault of the given kind wrapping cause.
func WrapFault(kind FaultKind, cause error, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// FallbackReason tags why the tiled pipeline degraded to a single-frame
// upscale instead of running MFSR.
type FallbackReason int

const (
	// FallbackNone indicates no fallback was needed.
	FallbackNone FallbackReason = iota
	// FallbackExcessiveMotion indicates global motion exceeded the
	// configured threshold.
	FallbackExcessiveMotion
	// FallbackLowCoverage indicates coverage fell below the minimum.
	FallbackLowCoverage
	// FallbackFlowFailed indicates dense flow failed outright.
	FallbackFlowFailed
	// FallbackMemoryExceeded indicates the memory budget was exceeded.
	FallbackMemoryExceeded
	// FallbackAlignmentFailed indicates alignment failed (e.g. fewer than
	// 2 usable frames).
	FallbackAlignmentFailed
)

func (r FallbackReason) String() string {
	switch r {
	case FallbackNone:
		return "None"
	case FallbackExcessiveMotion:
		return "ExcessiveMotion"
	case FallbackLowCoverage:
		return "LowCoverage"
	case FallbackFlowFailed:
		return "FlowFailed"
	case FallbackMemoryExceeded:
		return "MemoryExceeded"
	case FallbackAlignmentFailed:
		return "AlignmentFailed"
	default:
		return "Unknown"
	}
}
