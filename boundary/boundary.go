// Package boundary holds the per-face boundary condition table that the halo
// exchange dispatches on.
package boundary

import (
	"fmt"

	"github.com/notargets/rthalo/grid"
)

// Configuration codes for the two conditions the exchange handles itself
const (
	CodePeriodic    = 1
	CodePartitioned = 5
)

// Condition is a closed set: PeriodicLocal, PartitionedExchange or External.
// Dispatch with a type switch; the unexported method keeps other packages from
// adding variants.
type Condition interface {
	Code() int
	String() string
	condition()
}

// PeriodicLocal wraps the face onto the opposite face of the same subgrid
type PeriodicLocal struct{}

// PartitionedExchange exchanges the face with a neighboring rank
type PartitionedExchange struct{}

// External is any other condition, owned by an external boundary handler
type External struct {
	Value int
}

func (PeriodicLocal) Code() int      { return CodePeriodic }
func (PeriodicLocal) String() string { return "periodic" }
func (PeriodicLocal) condition()     {}

func (PartitionedExchange) Code() int      { return CodePartitioned }
func (PartitionedExchange) String() string { return "partitioned" }
func (PartitionedExchange) condition()     {}

func (e External) Code() int      { return e.Value }
func (e External) String() string { return fmt.Sprintf("external(%d)", e.Value) }
func (External) condition()       {}

// FromCode maps a configuration code to its condition
func FromCode(code int) Condition {
	switch code {
	case CodePeriodic:
		return PeriodicLocal{}
	case CodePartitioned:
		return PartitionedExchange{}
	default:
		return External{Value: code}
	}
}

// Flags is the condition of each face, indexed x-low, x-high, y-low, y-high,
// z-low, z-high
type Flags [grid.NumFaces]Condition

// FromCodes builds the table from six configuration codes
func FromCodes(codes [grid.NumFaces]int) Flags {
	var f Flags
	for i, c := range codes {
		f[i] = FromCode(c)
	}
	return f
}

// At returns the condition of one face
func (f Flags) At(a grid.Axis, s grid.Side) Condition {
	return f[grid.FaceOf(a, s)]
}

// Codes returns the configuration codes of the table
func (f Flags) Codes() [grid.NumFaces]int {
	var codes [grid.NumFaces]int
	for i, c := range f {
		if c != nil {
			codes[i] = c.Code()
		}
	}
	return codes
}

// Resolve returns a copy of the table in which periodic faces on axes split
// over more than one rank become partitioned: the periodic partner of such a
// face lives on another rank.
func (f Flags) Resolve(dc grid.Decomposition) Flags {
	out := f
	for i, c := range f {
		face := grid.Face(i)
		if _, ok := c.(PeriodicLocal); ok && dc.Procs(face.Axis()) > 1 {
			out[i] = PartitionedExchange{}
		}
	}
	return out
}

// Count returns how many faces on an axis are periodic and partitioned
func (f Flags) Count(a grid.Axis) (periodic, partitioned int) {
	for _, s := range []grid.Side{grid.Low, grid.High} {
		switch f.At(a, s).(type) {
		case PeriodicLocal:
			periodic++
		case PartitionedExchange:
			partitioned++
		}
	}
	return periodic, partitioned
}
