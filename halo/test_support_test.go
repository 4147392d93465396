package halo

import (
	"fmt"
	"testing"

	"github.com/notargets/rthalo/boundary"
	"github.com/notargets/rthalo/device"
	"github.com/notargets/rthalo/fields"
	"github.com/notargets/rthalo/grid"
	"github.com/notargets/rthalo/kernels"
	"github.com/notargets/rthalo/transport"
	"github.com/rs/zerolog"
)

const stale = -1.0

// twoRankSplit is two ranks along x, each owning 8x8x8 cells with ghost depth 2
var twoRankSplit = grid.Decomposition{Nx: 16, Ny: 8, Nz: 8, Px: 2, Py: 1, Pz: 1, NGhost: 2}

// x faces exchange, y and z faces wrap locally
var xPartitioned = [grid.NumFaces]int{5, 5, 1, 1, 1, 1}

type testRank struct {
	f       *fields.Radiation
	dev     *device.Serial
	buffers *Buffers
	ex      *Exchanger
}

type rankOptions struct {
	mirrored bool
	policy   SendPolicy
	kernels  Kernels
}

func newTestRank(t *testing.T, c transport.Comm, dc grid.Decomposition, codes [grid.NumFaces]int, opt rankOptions) *testRank {
	t.Helper()
	g, err := dc.Local()
	if err != nil {
		t.Fatal(err)
	}
	nb, err := dc.NeighborsOf(c.Rank())
	if err != nil {
		t.Fatal(err)
	}
	flags := boundary.FromCodes(codes)

	r := &testRank{dev: device.NewSerial(0)}
	r.f = fields.New(g, 1)
	if err := r.f.AllocateHost(); err != nil {
		t.Fatal(err)
	}
	if err := r.f.AllocateDevice(r.dev); err != nil {
		t.Fatal(err)
	}
	if r.buffers, err = NewBuffers(r.dev, g, 1, flags, opt.mirrored); err != nil {
		t.Fatal(err)
	}
	k := opt.kernels
	if k == nil {
		k = kernels.Serial{}
	}
	r.ex, err = NewExchanger(c, k, r.buffers, Config{
		Flags:                flags,
		Neighbors:            nb,
		DeviceAwareTransport: !opt.mirrored,
		SendPolicy:           opt.policy,
	}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	fillInterior(r.f, c.Rank())
	t.Cleanup(func() {
		r.buffers.Free()
		r.f.Release()
	})
	return r
}

// fillInterior gives every interior value a rank-unique value and every
// ghost value the stale marker
func fillInterior(f *fields.Radiation, rank int) {
	g := f.Grid
	rf, _ := device.Host(f.DevRf)
	n := g.NCells()
	for c := 0; c < f.Components(); c++ {
		for k := 0; k < g.Nz(); k++ {
			for j := 0; j < g.Ny(); j++ {
				for i := 0; i < g.Nx(); i++ {
					cell := g.Index(i, j, k)
					v := stale
					if isInterior(g, i, j, k) {
						v = float64(rank)*1e6 + float64(c)*1e4 + float64(cell)
					}
					rf[c*n+cell] = v
				}
			}
		}
	}
}

func isInterior(g grid.Descriptor, i, j, k int) bool {
	in := func(x int, a grid.Axis) bool { return x >= g.NGhost && x < g.Total(a)-g.NGhost }
	return in(i, grid.X) && in(j, grid.Y) && in(k, grid.Z)
}

func primary(f *fields.Radiation) []float64 {
	rf, _ := device.Host(f.DevRf)
	return rf
}

// slab gathers the values of a slab box, all components
func slab(f *fields.Radiation, a grid.Axis, r grid.Range) []float64 {
	g := f.Grid
	rf := primary(f)
	box := kernels.SlabBox(g, a, r)
	out := make([]float64, 0, box.Cells()*f.Components())
	for c := 0; c < f.Components(); c++ {
		box.Each(g, func(cell int) { out = append(out, rf[c*g.NCells()+cell]) })
	}
	return out
}

// wrapped reports whether every cell equals its periodic image along a
func wrapped(f *fields.Radiation, a grid.Axis) bool {
	g := f.Grid
	rf := primary(f)
	nr := g.Real(a)
	image := func(x int) int { return g.NGhost + ((x-g.NGhost)%nr+nr)%nr }
	for c := 0; c < f.Components(); c++ {
		for k := 0; k < g.Nz(); k++ {
			for j := 0; j < g.Ny(); j++ {
				for i := 0; i < g.Nx(); i++ {
					ii, jj, kk := i, j, k
					switch a {
					case grid.X:
						ii = image(i)
					case grid.Y:
						jj = image(j)
					default:
						kk = image(k)
					}
					base := c * g.NCells()
					if rf[base+g.Index(i, j, k)] != rf[base+g.Index(ii, jj, kk)] {
						return false
					}
				}
			}
		}
	}
	return true
}

// reversingComm completes receives last-posted first
type reversingComm struct {
	*transport.LocalComm
}

func (c reversingComm) WaitAny(reqs []transport.Request) (int, transport.Status, error) {
	for i := len(reqs) - 1; i >= 0; i-- {
		if reqs[i] == nil {
			continue
		}
		st, err := c.LocalComm.Wait(reqs[i])
		return i, st, err
	}
	return -1, transport.Status{}, nil
}

// miscountingKernels reports one value fewer than it packs
type miscountingKernels struct {
	kernels.Serial
}

func (k miscountingKernels) PackHaloSlab(a grid.Axis, s grid.Side, f *fields.Radiation, dst device.Memory, offset int) (int, error) {
	n, err := k.Serial.PackHaloSlab(a, s, f, dst, offset)
	return n - 1, err
}

// countingComm counts the messages posted through it
type countingComm struct {
	*transport.LocalComm
	sends int
}

func (c *countingComm) Isend(buf []float64, dest int, env transport.Envelope) (transport.Request, error) {
	c.sends++
	return c.LocalComm.Isend(buf, dest, env)
}

// shortSendComm sends one value fewer than asked
type shortSendComm struct {
	*transport.LocalComm
}

func (c shortSendComm) Isend(buf []float64, dest int, env transport.Envelope) (transport.Request, error) {
	return c.LocalComm.Isend(buf[:len(buf)-1], dest, env)
}

// recordingKernels logs the order of pack and wrap calls
type recordingKernels struct {
	kernels.Serial
	calls *[]string
}

func (k recordingKernels) PackHaloSlab(a grid.Axis, s grid.Side, f *fields.Radiation, dst device.Memory, offset int) (int, error) {
	*k.calls = append(*k.calls, fmt.Sprintf("pack %s", grid.FaceOf(a, s)))
	return k.Serial.PackHaloSlab(a, s, f, dst, offset)
}

func (k recordingKernels) ApplyPeriodicWrap(a grid.Axis, s grid.Side, f *fields.Radiation) error {
	*k.calls = append(*k.calls, fmt.Sprintf("wrap %s", grid.FaceOf(a, s)))
	return k.Serial.ApplyPeriodicWrap(a, s, f)
}
