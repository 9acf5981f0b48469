package diag

import (
	"log"
	"runtime"
)

// DefaultMemoryBudgetMB is the advisory per-run memory target used when a
// caller does not override tiled.max_memory_mb, matching the reference's
// ~200 MB constant peak-memory target.
const DefaultMemoryBudgetMB = 200

// ComputeTileBudget returns the number of bytes the tiled pipeline should
// treat as its advisory per-tile scratch budget, derived from a requested
// megabyte budget and a sanity check against total system RAM. It mirrors
// internal/tile's ComputeMemoryLimit shape but is scoped to a single
// tile's scratch buffers rather than a whole disk-spill store.
//
// Returns the requested budget unchanged if RAM detection fails or if the
// budget already comfortably fits; returns a reduced budget if the
// configured value would leave too little headroom against total RAM.
func ComputeTileBudget(requestedMB int64, verbose bool) int64 {
	requested := requestedMB * 1024 * 1024
	if requested <= 0 {
		requested = DefaultMemoryBudgetMB * 1024 * 1024
	}

	totalRAM, err := totalSystemRAM()
	if err != nil {
		if verbose {
			log.Printf("cannot detect system RAM: %v; using requested budget unchanged", err)
		}
		return requested
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	headroom := int64(totalRAM) / 4 // never let the budget alone claim more than 1/4 of RAM

	if requested > headroom {
		if verbose {
			log.Printf("requested tile budget %.0f MB exceeds safe headroom; clamping to %.0f MB",
				float64(requested)/(1024*1024), float64(headroom)/(1024*1024))
		}
		return headroom
	}

	if verbose {
		log.Printf("tile scratch budget: %.0f MB (system RAM %.1f GB, heap sys %.0f MB)",
			float64(requested)/(1024*1024), float64(totalRAM)/(1024*1024*1024), float64(m.Sys)/(1024*1024))
	}
	return requested
}
