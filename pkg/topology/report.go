package topology

import (
	"fmt"
	"strings"
)

// Report counts the outcome of topology updates. The per-kind arrays are
// indexed by Kind.
type Report struct {
	Detected [numKinds]int
	Applied  [numKinds]int
	Deferred [numKinds]int
	Skipped  [numKinds]int

	Refined   int
	Coarsened int
	// Removed counts nodes and segments purged as degenerate.
	Removed int
}

func newReport() *Report {
	return &Report{}
}

// Add accumulates o into r.
func (r *Report) Add(o *Report) {
	if o == nil {
		return
	}
	for k := range r.Detected {
		r.Detected[k] += o.Detected[k]
		r.Applied[k] += o.Applied[k]
		r.Deferred[k] += o.Deferred[k]
		r.Skipped[k] += o.Skipped[k]
	}
	r.Refined += o.Refined
	r.Coarsened += o.Coarsened
	r.Removed += o.Removed
}

// Total returns the sum of a per-kind count.
func Total(counts [numKinds]int) int {
	t := 0
	for _, c := range counts {
		t += c
	}
	return t
}

// Changed reports whether the update modified the connectivity.
func (r *Report) Changed() bool {
	return Total(r.Applied) > 0 || r.Refined > 0 || r.Coarsened > 0 || r.Removed > 0
}

// String returns a compact summary
func (r *Report) String() string {
	var sb strings.Builder
	for i, k := range Kinds {
		if i > 0 {
			sb.WriteString(" ")
		}
		fmt.Fprintf(&sb, "%s=%d/%d/%d/%d", k, r.Detected[k], r.Applied[k], r.Deferred[k], r.Skipped[k])
	}
	fmt.Fprintf(&sb, " refined=%d coarsened=%d removed=%d", r.Refined, r.Coarsened, r.Removed)
	return sb.String()
}
