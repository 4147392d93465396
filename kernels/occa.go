//go:build occa

package kernels

import (
	"fmt"

	"github.com/notargets/rthalo/device"
	"github.com/notargets/rthalo/fields"
	"github.com/notargets/rthalo/grid"
)

// OCCA runs the slab kernels on an OCCA device
type OCCA struct {
	dev    *device.OCCADevice
	pack   *device.OCCAKernel
	unpack *device.OCCAKernel
	wrap   *device.OCCAKernel
}

// NewOCCA builds the slab kernels for dev
func NewOCCA(dev *device.OCCADevice) (*OCCA, error) {
	src := Source("double")
	k := &OCCA{dev: dev}
	var err error
	if k.pack, err = dev.BuildKernel(src, PackKernel); err != nil {
		return nil, fmt.Errorf("failed to build pack kernel: %w", err)
	}
	if k.unpack, err = dev.BuildKernel(src, UnpackKernel); err != nil {
		k.Free()
		return nil, fmt.Errorf("failed to build unpack kernel: %w", err)
	}
	if k.wrap, err = dev.BuildKernel(src, WrapKernel); err != nil {
		k.Free()
		return nil, fmt.Errorf("failed to build wrap kernel: %w", err)
	}
	return k, nil
}

// Free releases the built kernels
func (k *OCCA) Free() {
	for _, kern := range []*device.OCCAKernel{k.pack, k.unpack, k.wrap} {
		if kern != nil {
			kern.Free()
		}
	}
}

func occaMemory(m device.Memory, what string) (*device.OCCAMemory, error) {
	om, ok := m.(*device.OCCAMemory)
	if !ok || om == nil {
		return nil, fmt.Errorf("%s is not OCCA memory", what)
	}
	return om, nil
}

func (k *OCCA) PackHaloSlab(a grid.Axis, s grid.Side, f *fields.Radiation, dst device.Memory, offset int) (int, error) {
	rf, err := occaMemory(f.DevRf, "primary array")
	if err != nil {
		return 0, err
	}
	buf, err := occaMemory(dst, "send buffer")
	if err != nil {
		return 0, err
	}
	g := f.Grid
	n := SlabLength(g, a, f.NFreq)
	if offset < 0 || offset+n > buf.Len() {
		return 0, fmt.Errorf("%w: %s-%s needs %d values at offset %d, buffer holds %d",
			ErrBufferTooSmall, a, s, n, offset, buf.Len())
	}
	box := SlabBox(g, a, g.InteriorSlab(a, s))
	args := append(LaunchArgs(g.Nx(), g.Ny(), g.NCells(), f.Components(), box, offset), rf, buf)
	if err := k.pack.RunWithArgs(args...); err != nil {
		return 0, err
	}
	// the transport may read buf as soon as this returns
	k.dev.Finish()
	return n, nil
}

func (k *OCCA) UnpackHaloSlab(a grid.Axis, s grid.Side, f *fields.Radiation, src device.Memory, offset int) error {
	rf, err := occaMemory(f.DevRf, "primary array")
	if err != nil {
		return err
	}
	buf, err := occaMemory(src, "receive buffer")
	if err != nil {
		return err
	}
	g := f.Grid
	n := SlabLength(g, a, f.NFreq)
	if offset < 0 || offset+n > buf.Len() {
		return fmt.Errorf("%w: %s-%s needs %d values at offset %d, buffer holds %d",
			ErrBufferTooSmall, a, s, n, offset, buf.Len())
	}
	box := SlabBox(g, a, g.GhostSlab(a, s))
	args := append(LaunchArgs(g.Nx(), g.Ny(), g.NCells(), f.Components(), box, offset), buf, rf)
	return k.unpack.RunWithArgs(args...)
}

func (k *OCCA) ApplyPeriodicWrap(a grid.Axis, s grid.Side, f *fields.Radiation) error {
	rf, err := occaMemory(f.DevRf, "primary array")
	if err != nil {
		return err
	}
	g := f.Grid
	box := SlabBox(g, a, g.GhostSlab(a, s))
	args := append(LaunchArgs(g.Nx(), g.Ny(), g.NCells(), f.Components(), box, WrapShift(g, a, s)), rf)
	return k.wrap.RunWithArgs(args...)
}
