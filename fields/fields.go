// Package fields owns the radiation-field arrays of one subgrid: the primary
// intensity array with its host mirror, and the device-only Eddington tensor,
// source and scratch arrays.
package fields

import (
	"errors"
	"fmt"
	"math"

	"github.com/notargets/rthalo/device"
	"github.com/notargets/rthalo/grid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrAllocation indicates host or device memory could not be obtained.
	ErrAllocation = errors.New("radiation field allocation failed")

	// ErrNotAllocated indicates an array was used before it was allocated.
	ErrNotAllocated = errors.New("radiation field not allocated")
)

// EddingtonComponents is the number of independent tensor components per cell
const EddingtonComponents = 6

// Sizes holds the element count of every radiation array
type Sizes struct {
	Rf    int // (1 + 2F) * C
	Et    int // 6 * C
	Rs    int // C
	Abc   int // F * C
	RfNew int // 2 * C
}

// SizesFor derives the array sizes from the grid and the frequency count
func SizesFor(g grid.Descriptor, nFreq int) (Sizes, error) {
	if err := g.Validate(); err != nil {
		return Sizes{}, fmt.Errorf("%w: %v", ErrAllocation, err)
	}
	if nFreq < 1 {
		return Sizes{}, fmt.Errorf("%w: frequency count must be positive, got %d", ErrAllocation, nFreq)
	}
	c := g.NCells()
	nComp := NumComponents(nFreq)
	if c > math.MaxInt/nComp || c > math.MaxInt/EddingtonComponents {
		return Sizes{}, fmt.Errorf("%w: %d cells x %d components overflows", ErrAllocation, c, nComp)
	}
	return Sizes{
		Rf:    nComp * c,
		Et:    EddingtonComponents * c,
		Rs:    c,
		Abc:   nFreq * c,
		RfNew: 2 * c,
	}, nil
}

// NumComponents is the number of per-cell values in the primary array: one
// optically thin field plus two directional components per frequency
func NumComponents(nFreq int) int {
	return 1 + 2*nFreq
}

// Radiation is the bundle of radiation arrays for one subgrid. Host and device
// copies of the primary array are not kept coherent automatically; callers
// use SyncToDevice and SyncToHost around any step that crosses sides.
type Radiation struct {
	Grid  grid.Descriptor
	NFreq int

	// Host arrays. Et and Rs are optional mirrors.
	Rf []float64
	Et []float64
	Rs []float64

	// Device arrays
	DevRf    device.Memory
	DevEt    device.Memory
	DevRs    device.Memory
	DevAbc   device.Memory
	DevRfNew device.Memory

	sizes Sizes
}

// New returns an unallocated field bundle
func New(g grid.Descriptor, nFreq int) *Radiation {
	return &Radiation{Grid: g, NFreq: nFreq}
}

// Components returns the number of values per cell in the primary array
func (r *Radiation) Components() int {
	return NumComponents(r.NFreq)
}

// AllocateHost allocates the host primary array
func (r *Radiation) AllocateHost() error {
	sizes, err := SizesFor(r.Grid, r.NFreq)
	if err != nil {
		return err
	}
	r.sizes = sizes
	r.Rf = make([]float64, sizes.Rf)
	return nil
}

// AllocateDevice allocates the five device arrays. If any allocation fails
// the arrays already obtained are freed before returning.
func (r *Radiation) AllocateDevice(dev device.Device) (err error) {
	if dev == nil {
		panic("device cannot be nil")
	}
	sizes, err := SizesFor(r.Grid, r.NFreq)
	if err != nil {
		return err
	}
	r.sizes = sizes

	specs := []struct {
		name string
		size int
		dst  *device.Memory
	}{
		{"rf", sizes.Rf, &r.DevRf},
		{"et", sizes.Et, &r.DevEt},
		{"rs", sizes.Rs, &r.DevRs},
		{"abc", sizes.Abc, &r.DevAbc},
		{"rfNew", sizes.RfNew, &r.DevRfNew},
	}

	defer func() {
		if err != nil {
			r.releaseDevice()
		}
	}()
	for _, spec := range specs {
		mem, err := dev.Malloc(spec.size)
		if err != nil {
			return fmt.Errorf("%w: device array %s (%d values): %v", ErrAllocation, spec.name, spec.size, err)
		}
		*spec.dst = mem
	}
	return nil
}

// Release frees every device array, then the host arrays. The Eddington and
// source host mirrors may legitimately be absent; the primary host array may
// not.
func (r *Radiation) Release() {
	if r.Rf == nil {
		panic("radiation fields released without a primary host array")
	}
	r.releaseDevice()
	r.Et = nil
	r.Rs = nil
	r.Rf = nil
}

func (r *Radiation) releaseDevice() {
	for _, m := range []*device.Memory{&r.DevRf, &r.DevEt, &r.DevRs, &r.DevAbc, &r.DevRfNew} {
		if *m != nil {
			(*m).Free()
			*m = nil
		}
	}
}

// Sizes reports the allocated array sizes
func (r *Radiation) Sizes() Sizes { return r.sizes }

// SyncToDevice copies the host primary array to the device
func (r *Radiation) SyncToDevice() error {
	if r.Rf == nil || r.DevRf == nil {
		return fmt.Errorf("%w: primary array", ErrNotAllocated)
	}
	return r.DevRf.CopyFrom(r.Rf)
}

// SyncToHost copies the device primary array to the host
func (r *Radiation) SyncToHost() error {
	if r.Rf == nil || r.DevRf == nil {
		return fmt.Errorf("%w: primary array", ErrNotAllocated)
	}
	return r.DevRf.CopyTo(r.Rf)
}

// MirrorEddington creates, if needed, and refreshes the host Eddington mirror
func (r *Radiation) MirrorEddington() error {
	if r.DevEt == nil {
		return fmt.Errorf("%w: eddington tensor", ErrNotAllocated)
	}
	if r.Et == nil {
		r.Et = make([]float64, r.DevEt.Len())
	}
	return r.DevEt.CopyTo(r.Et)
}

// MirrorSource creates, if needed, and refreshes the host source mirror
func (r *Radiation) MirrorSource() error {
	if r.DevRs == nil {
		return fmt.Errorf("%w: radiation source", ErrNotAllocated)
	}
	if r.Rs == nil {
		r.Rs = make([]float64, r.DevRs.Len())
	}
	return r.DevRs.CopyTo(r.Rs)
}

// Component returns the host view of one primary-array component
func (r *Radiation) Component(c int) []float64 {
	n := r.Grid.NCells()
	return r.Rf[c*n : (c+1)*n]
}

// EddingtonTensor returns the symmetric tensor of one cell from the host
// mirror. Components are stored xx, xy, xz, yy, yz, zz, each over all cells.
func (r *Radiation) EddingtonTensor(cell int) (*mat.SymDense, error) {
	if r.Et == nil {
		return nil, fmt.Errorf("%w: eddington host mirror", ErrNotAllocated)
	}
	n := r.Grid.NCells()
	if cell < 0 || cell >= n {
		return nil, fmt.Errorf("cell %d outside [0, %d)", cell, n)
	}
	c := func(k int) float64 { return r.Et[k*n+cell] }
	return mat.NewSymDense(3, []float64{
		c(0), c(1), c(2),
		c(1), c(3), c(4),
		c(2), c(4), c(5),
	}), nil
}

// Checksum sums the host primary array
func (r *Radiation) Checksum() float64 {
	return floats.Sum(r.Rf)
}
