// Package kernels packs halo slabs of the primary radiation array into
// exchange buffers, unpacks them into ghost layers, and applies periodic
// wraps.
//
// Serial works on host-addressable memory and is the reference
// implementation. The OCCA kernels (build tag occa) run the same loops,
// generated from the OKL sources in this package, on the accelerator.
//
// Buffers are laid out component-major, then z, y, x over the slab, so a
// slab packed by one implementation unpacks correctly with another.
package kernels

import (
	"errors"
	"fmt"

	"github.com/notargets/rthalo/device"
	"github.com/notargets/rthalo/fields"
	"github.com/notargets/rthalo/grid"
)

var (
	// ErrNotHostAddressable indicates Serial was handed accelerator memory.
	ErrNotHostAddressable = errors.New("memory is not host addressable")

	// ErrBufferTooSmall indicates a slab does not fit the buffer at offset.
	ErrBufferTooSmall = errors.New("buffer too small for halo slab")
)

// SlabLength is the number of values one face's slab packs into:
// ghost depth x both full transverse extents x components per cell
func SlabLength(g grid.Descriptor, a grid.Axis, nFreq int) int {
	return g.SlabCells(a) * fields.NumComponents(nFreq)
}

// Box is a region of the local grid, one index range per axis
type Box [3]grid.Range

// SlabBox returns the full-transverse box spanning r along axis a
func SlabBox(g grid.Descriptor, a grid.Axis, r grid.Range) Box {
	var b Box
	for _, ax := range grid.Axes {
		b[ax] = grid.Range{Start: 0, End: g.Total(ax)}
	}
	b[a] = r
	return b
}

// Cells returns the number of cells in the box
func (b Box) Cells() int {
	return b[grid.X].Len() * b[grid.Y].Len() * b[grid.Z].Len()
}

// Each calls fn with the linear index of every cell, x fastest
func (b Box) Each(g grid.Descriptor, fn func(cell int)) {
	for k := b[grid.Z].Start; k < b[grid.Z].End; k++ {
		for j := b[grid.Y].Start; j < b[grid.Y].End; j++ {
			for i := b[grid.X].Start; i < b[grid.X].End; i++ {
				fn(g.Index(i, j, k))
			}
		}
	}
}

// Stride is the linear index distance between neighboring cells along a
func Stride(g grid.Descriptor, a grid.Axis) int {
	switch a {
	case grid.X:
		return 1
	case grid.Y:
		return g.Nx()
	default:
		return g.Nx() * g.Ny()
	}
}

// Serial runs the slab kernels on the host
type Serial struct{}

func hostArrays(f *fields.Radiation, buf device.Memory) (rf, b []float64, err error) {
	if f.DevRf == nil {
		return nil, nil, fmt.Errorf("%w: device primary array", fields.ErrNotAllocated)
	}
	rf, ok := device.Host(f.DevRf)
	if !ok {
		return nil, nil, fmt.Errorf("%w: primary array", ErrNotHostAddressable)
	}
	if buf == nil {
		return rf, nil, nil
	}
	b, ok = device.Host(buf)
	if !ok {
		return nil, nil, fmt.Errorf("%w: exchange buffer", ErrNotHostAddressable)
	}
	return rf, b, nil
}

// PackHaloSlab copies the interior slab next to face (a, s) into dst starting
// at offset and returns the number of values written
func (Serial) PackHaloSlab(a grid.Axis, s grid.Side, f *fields.Radiation, dst device.Memory, offset int) (int, error) {
	rf, buf, err := hostArrays(f, dst)
	if err != nil {
		return 0, err
	}
	g := f.Grid
	n := SlabLength(g, a, f.NFreq)
	if offset < 0 || offset+n > len(buf) {
		return 0, fmt.Errorf("%w: %s-%s needs %d values at offset %d, buffer holds %d",
			ErrBufferTooSmall, a, s, n, offset, len(buf))
	}

	box := SlabBox(g, a, g.InteriorSlab(a, s))
	nCells := g.NCells()
	p := offset
	for c := 0; c < f.Components(); c++ {
		base := c * nCells
		box.Each(g, func(cell int) {
			buf[p] = rf[base+cell]
			p++
		})
	}
	return p - offset, nil
}

// UnpackHaloSlab copies a packed slab from src at offset into the ghost
// layers beyond face (a, s)
func (Serial) UnpackHaloSlab(a grid.Axis, s grid.Side, f *fields.Radiation, src device.Memory, offset int) error {
	rf, buf, err := hostArrays(f, src)
	if err != nil {
		return err
	}
	g := f.Grid
	n := SlabLength(g, a, f.NFreq)
	if offset < 0 || offset+n > len(buf) {
		return fmt.Errorf("%w: %s-%s needs %d values at offset %d, buffer holds %d",
			ErrBufferTooSmall, a, s, n, offset, len(buf))
	}

	box := SlabBox(g, a, g.GhostSlab(a, s))
	nCells := g.NCells()
	p := offset
	for c := 0; c < f.Components(); c++ {
		base := c * nCells
		box.Each(g, func(cell int) {
			rf[base+cell] = buf[p]
			p++
		})
	}
	return nil
}

// ApplyPeriodicWrap fills the ghost layers beyond face (a, s) from the
// interior layers next to the opposite face of the same subgrid
func (Serial) ApplyPeriodicWrap(a grid.Axis, s grid.Side, f *fields.Radiation) error {
	rf, _, err := hostArrays(f, nil)
	if err != nil {
		return err
	}
	g := f.Grid
	shift := WrapShift(g, a, s)
	box := SlabBox(g, a, g.GhostSlab(a, s))
	nCells := g.NCells()
	for c := 0; c < f.Components(); c++ {
		base := c * nCells
		box.Each(g, func(cell int) {
			rf[base+cell] = rf[base+cell+shift]
		})
	}
	return nil
}

// WrapShift is the linear offset from a ghost cell beyond face (a, s) to the
// interior cell it wraps from
func WrapShift(g grid.Descriptor, a grid.Axis, s grid.Side) int {
	shift := g.Real(a) * Stride(g, a)
	if s == grid.High {
		return -shift
	}
	return shift
}
