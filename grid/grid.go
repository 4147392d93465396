// Package grid describes the local subgrid owned by one rank: its real cell
// extents, ghost depth, the six faces of the box and the Cartesian
// decomposition that assigns neighbor ranks to those faces.
package grid

import (
	"fmt"
)

// Axis identifies a spatial direction
type Axis int

const (
	X Axis = iota
	Y
	Z
)

// Axes lists the axes in exchange order
var Axes = [3]Axis{X, Y, Z}

func (a Axis) String() string {
	switch a {
	case X:
		return "x"
	case Y:
		return "y"
	case Z:
		return "z"
	}
	return fmt.Sprintf("axis(%d)", int(a))
}

// Side is the low (0) or high (1) face of an axis
type Side int

const (
	Low Side = iota
	High
)

// Opposite returns the other side of the same axis
func (s Side) Opposite() Side {
	return 1 - s
}

func (s Side) String() string {
	if s == Low {
		return "low"
	}
	return "high"
}

// Face indexes the six faces of the box in the order
// x-low, x-high, y-low, y-high, z-low, z-high
type Face int

// NumFaces is the number of faces of a 3D box
const NumFaces = 6

// FaceOf returns the face index for an axis and side
func FaceOf(a Axis, s Side) Face {
	return Face(2*int(a) + int(s))
}

// Axis returns the axis the face is normal to
func (f Face) Axis() Axis { return Axis(int(f) / 2) }

// Side returns the side of the axis the face sits on
func (f Face) Side() Side { return Side(int(f) % 2) }

func (f Face) String() string {
	return f.Axis().String() + "-" + f.Side().String()
}

// Descriptor holds the local subgrid dimensions. NxReal, NyReal, NzReal are
// the interior cell counts; every axis carries NGhost ghost layers per side.
type Descriptor struct {
	NxReal, NyReal, NzReal int
	NGhost                 int
}

// NewDescriptor validates and returns a descriptor
func NewDescriptor(nx, ny, nz, nGhost int) (Descriptor, error) {
	d := Descriptor{NxReal: nx, NyReal: ny, NzReal: nz, NGhost: nGhost}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// Validate checks the extents are usable for a halo of depth NGhost
func (d Descriptor) Validate() error {
	if d.NGhost < 1 {
		return fmt.Errorf("ghost depth must be positive, got %d", d.NGhost)
	}
	for _, a := range Axes {
		n := d.Real(a)
		if n < d.NGhost {
			return fmt.Errorf("%s extent %d is smaller than ghost depth %d", a, n, d.NGhost)
		}
	}
	return nil
}

// Real returns the interior cell count along an axis
func (d Descriptor) Real(a Axis) int {
	switch a {
	case X:
		return d.NxReal
	case Y:
		return d.NyReal
	default:
		return d.NzReal
	}
}

// Total returns the cell count along an axis including both ghost layers
func (d Descriptor) Total(a Axis) int {
	return d.Real(a) + 2*d.NGhost
}

// Nx returns the full x extent including ghosts
func (d Descriptor) Nx() int { return d.Total(X) }

// Ny returns the full y extent including ghosts
func (d Descriptor) Ny() int { return d.Total(Y) }

// Nz returns the full z extent including ghosts
func (d Descriptor) Nz() int { return d.Total(Z) }

// NCells is the local cell count including ghosts
func (d Descriptor) NCells() int {
	return d.Nx() * d.Ny() * d.Nz()
}

// Index returns the linear cell index, x fastest
func (d Descriptor) Index(i, j, k int) int {
	return i + j*d.Nx() + k*d.Nx()*d.Ny()
}

// Transverse returns the full extents of the two axes orthogonal to a
func (d Descriptor) Transverse(a Axis) (int, int) {
	switch a {
	case X:
		return d.Ny(), d.Nz()
	case Y:
		return d.Nx(), d.Nz()
	default:
		return d.Nx(), d.Ny()
	}
}

// SlabCells is the number of cells in one ghost-depth slab normal to a
func (d Descriptor) SlabCells(a Axis) int {
	t1, t2 := d.Transverse(a)
	return d.NGhost * t1 * t2
}

// Range is a half-open index interval
type Range struct {
	Start, End int
}

// Len returns the number of indices in the range
func (r Range) Len() int { return r.End - r.Start }

// InteriorSlab returns the interior layers adjacent to a face, which are the
// source of the data sent across that face
func (d Descriptor) InteriorSlab(a Axis, s Side) Range {
	g, n := d.NGhost, d.Total(a)
	if s == Low {
		return Range{g, 2 * g}
	}
	return Range{n - 2*g, n - g}
}

// GhostSlab returns the ghost layers beyond a face
func (d Descriptor) GhostSlab(a Axis, s Side) Range {
	g, n := d.NGhost, d.Total(a)
	if s == Low {
		return Range{0, g}
	}
	return Range{n - g, n}
}
