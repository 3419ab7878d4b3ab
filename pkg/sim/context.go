package sim

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-disloc/pkg/geom"
	"github.com/dd0wney/cluso-disloc/pkg/topology"
)

// Context is the evolving state of one run besides the network. It is passed
// explicitly to every phase and never shared between drivers.
type Context struct {
	RunID uuid.UUID
	Step  uint64
	Time  float64
	// Dt is the step proposed for the next call.
	Dt float64

	PlasticStrain geom.Tensor
	PlasticSpin   geom.Tensor

	// Events accumulates topology reports over the run.
	Events     topology.Report
	Rejections int

	initialDt float64
	finalized bool
}

// NewContext creates a context for a fresh run starting with step dt.
func NewContext(dt float64) *Context {
	c := &Context{initialDt: dt}
	c.Reset()
	return c
}

// Reset starts a new run: new id, zero time and strain, initial dt.
func (c *Context) Reset() {
	*c = Context{
		RunID:     uuid.New(),
		Dt:        c.initialDt,
		initialDt: c.initialDt,
	}
}

// Finalize marks the run as ended. Further steps fail with ErrFinalized.
func (c *Context) Finalize() {
	c.finalized = true
}

// Finalized reports whether the run has ended.
func (c *Context) Finalized() bool {
	return c.finalized
}

// State is the serialized form of a Context, stored in snapshot metadata.
type State struct {
	RunID         string        `json:"run_id"`
	Step          uint64        `json:"step"`
	Time          float64       `json:"time"`
	Dt            float64       `json:"dt"`
	PlasticStrain [3][3]float64 `json:"plastic_strain"`
	PlasticSpin   [3][3]float64 `json:"plastic_spin"`
	Rejections    int           `json:"rejections"`
}

// State returns the restart state of c.
func (c *Context) State() State {
	return State{
		RunID:         c.RunID.String(),
		Step:          c.Step,
		Time:          c.Time,
		Dt:            c.Dt,
		PlasticStrain: c.PlasticStrain,
		PlasticSpin:   c.PlasticSpin,
		Rejections:    c.Rejections,
	}
}

// Resume continues a run from a saved state. Event counters restart at zero.
func (c *Context) Resume(s State) error {
	id, err := uuid.Parse(s.RunID)
	if err != nil {
		return fmt.Errorf("sim: resume: run id: %w", err)
	}
	if !(s.Dt > 0) || s.Time < 0 {
		return fmt.Errorf("sim: resume: invalid dt %g or time %g", s.Dt, s.Time)
	}
	*c = Context{
		RunID:         id,
		Step:          s.Step,
		Time:          s.Time,
		Dt:            s.Dt,
		PlasticStrain: s.PlasticStrain,
		PlasticSpin:   s.PlasticSpin,
		Rejections:    s.Rejections,
		initialDt:     c.initialDt,
	}
	return nil
}

// MarshalState encodes the state for snapshot metadata.
func (c *Context) MarshalState() (json.RawMessage, error) {
	return json.Marshal(c.State())
}

// UnmarshalState decodes snapshot metadata written by MarshalState. Empty
// metadata leaves ok false.
func UnmarshalState(meta json.RawMessage) (s State, ok bool, err error) {
	if len(meta) == 0 {
		return State{}, false, nil
	}
	if err := json.Unmarshal(meta, &s); err != nil {
		return State{}, false, fmt.Errorf("sim: decode run state: %w", err)
	}
	return s, s.RunID != "", nil
}
