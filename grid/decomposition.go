package grid

import (
	"fmt"
)

// Decomposition splits a global box over Px*Py*Pz ranks. Ranks are numbered
// with x fastest, matching the cell ordering.
type Decomposition struct {
	Nx, Ny, Nz int // global real extents
	Px, Py, Pz int // ranks per axis
	NGhost     int
}

// Neighbors holds, per face, the rank data is received from (Source) and the
// rank data is sent to (Dest). With a Cartesian split both are the rank on
// the other side of that face.
type Neighbors struct {
	Source [NumFaces]int
	Dest   [NumFaces]int
}

// Size returns the number of ranks
func (dc Decomposition) Size() int {
	return dc.Px * dc.Py * dc.Pz
}

// Procs returns the rank count along an axis
func (dc Decomposition) Procs(a Axis) int {
	switch a {
	case X:
		return dc.Px
	case Y:
		return dc.Py
	default:
		return dc.Pz
	}
}

func (dc Decomposition) global(a Axis) int {
	switch a {
	case X:
		return dc.Nx
	case Y:
		return dc.Ny
	default:
		return dc.Nz
	}
}

// Validate checks the global box divides evenly over the ranks
func (dc Decomposition) Validate() error {
	for _, a := range Axes {
		p, n := dc.Procs(a), dc.global(a)
		if p < 1 {
			return fmt.Errorf("rank count along %s must be positive, got %d", a, p)
		}
		if n%p != 0 {
			return fmt.Errorf("global %s extent %d does not divide over %d ranks", a, n, p)
		}
		if n/p < dc.NGhost {
			return fmt.Errorf("local %s extent %d is smaller than ghost depth %d", a, n/p, dc.NGhost)
		}
	}
	return nil
}

// Coords returns the Cartesian position of a rank
func (dc Decomposition) Coords(rank int) (int, int, int) {
	return rank % dc.Px, (rank / dc.Px) % dc.Py, rank / (dc.Px * dc.Py)
}

// RankAt returns the rank at a Cartesian position, wrapping periodically
func (dc Decomposition) RankAt(ix, iy, iz int) int {
	ix = ((ix % dc.Px) + dc.Px) % dc.Px
	iy = ((iy % dc.Py) + dc.Py) % dc.Py
	iz = ((iz % dc.Pz) + dc.Pz) % dc.Pz
	return ix + iy*dc.Px + iz*dc.Px*dc.Py
}

// Local returns the subgrid descriptor owned by each rank
func (dc Decomposition) Local() (Descriptor, error) {
	if err := dc.Validate(); err != nil {
		return Descriptor{}, err
	}
	return NewDescriptor(dc.Nx/dc.Px, dc.Ny/dc.Py, dc.Nz/dc.Pz, dc.NGhost)
}

// NeighborsOf returns the face neighbors of rank, wrapping periodically at
// the global boundary
func (dc Decomposition) NeighborsOf(rank int) (Neighbors, error) {
	if rank < 0 || rank >= dc.Size() {
		return Neighbors{}, fmt.Errorf("rank %d outside [0, %d)", rank, dc.Size())
	}
	ix, iy, iz := dc.Coords(rank)
	var nb Neighbors
	for f := Face(0); f < NumFaces; f++ {
		step := -1
		if f.Side() == High {
			step = 1
		}
		jx, jy, jz := ix, iy, iz
		switch f.Axis() {
		case X:
			jx += step
		case Y:
			jy += step
		case Z:
			jz += step
		}
		r := dc.RankAt(jx, jy, jz)
		nb.Source[f] = r
		nb.Dest[f] = r
	}
	return nb, nil
}
