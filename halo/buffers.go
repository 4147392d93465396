package halo

import (
	"fmt"

	"github.com/notargets/rthalo/boundary"
	"github.com/notargets/rthalo/device"
	"github.com/notargets/rthalo/grid"
	"github.com/notargets/rthalo/kernels"
)

// Buffers holds one send and one receive buffer per partitioned face, sized
// to that face's slab. When the transport cannot read device memory, each
// buffer also has a host mirror that messages are sent from and received
// into.
type Buffers struct {
	Grid  grid.Descriptor
	NFreq int

	send     [grid.NumFaces]device.Memory
	recv     [grid.NumFaces]device.Memory
	hostSend [grid.NumFaces][]float64
	hostRecv [grid.NumFaces][]float64
	lengths  [grid.NumFaces]int
	mirrored bool
}

// NewBuffers allocates buffers on dev for every partitioned face in flags. With
// mirrored set, host mirrors are allocated too. On failure everything already
// allocated is freed.
func NewBuffers(dev device.Device, g grid.Descriptor, nFreq int, flags boundary.Flags, mirrored bool) (_ *Buffers, err error) {
	if dev == nil {
		panic("device cannot be nil")
	}
	b := &Buffers{Grid: g, NFreq: nFreq, mirrored: mirrored}
	defer func() {
		if err != nil {
			b.Free()
		}
	}()

	for face := grid.Face(0); face < grid.NumFaces; face++ {
		if _, ok := flags[face].(boundary.PartitionedExchange); !ok {
			continue
		}
		n := kernels.SlabLength(g, face.Axis(), nFreq)
		if b.send[face], err = dev.Malloc(n); err != nil {
			return nil, fmt.Errorf("%s send buffer (%d values): %w", face, n, err)
		}
		if b.recv[face], err = dev.Malloc(n); err != nil {
			return nil, fmt.Errorf("%s receive buffer (%d values): %w", face, n, err)
		}
		if mirrored {
			b.hostSend[face] = make([]float64, n)
			b.hostRecv[face] = make([]float64, n)
		}
		b.lengths[face] = n
	}
	return b, nil
}

// Has reports whether face has buffers
func (b *Buffers) Has(face grid.Face) bool { return b.send[face] != nil }

// Len returns the slab length of face, 0 without buffers
func (b *Buffers) Len(face grid.Face) int { return b.lengths[face] }

// Mirrored reports whether messages go through host mirrors
func (b *Buffers) Mirrored() bool { return b.mirrored }

// Send returns the device send buffer of face
func (b *Buffers) Send(face grid.Face) device.Memory { return b.send[face] }

// Recv returns the device receive buffer of face
func (b *Buffers) Recv(face grid.Face) device.Memory { return b.recv[face] }

// SendPayload returns the host slice a send of face transmits. With mirrors,
// the first n values of the device buffer are copied into the mirror first.
func (b *Buffers) SendPayload(face grid.Face, n int) ([]float64, error) {
	if !b.Has(face) {
		return nil, fmt.Errorf("%w: no buffers for %s", ErrInconsistent, face)
	}
	if b.mirrored {
		host := b.hostSend[face][:n]
		if err := b.send[face].CopyTo(host); err != nil {
			return nil, fmt.Errorf("mirror %s send buffer to host: %w", face, err)
		}
		return host, nil
	}
	host, ok := device.Host(b.send[face])
	if !ok {
		return nil, fmt.Errorf("%w: %s send buffer is not addressable by the transport", ErrInconsistent, face)
	}
	return host[:n], nil
}

// RecvPayload returns the host slice a receive of face lands in
func (b *Buffers) RecvPayload(face grid.Face, n int) ([]float64, error) {
	if !b.Has(face) {
		return nil, fmt.Errorf("%w: no buffers for %s", ErrInconsistent, face)
	}
	if b.mirrored {
		return b.hostRecv[face][:n], nil
	}
	host, ok := device.Host(b.recv[face])
	if !ok {
		return nil, fmt.Errorf("%w: %s receive buffer is not addressable by the transport", ErrInconsistent, face)
	}
	return host[:n], nil
}

// MirrorReceiveToDevice copies the host receive mirror of face to the device
// buffer. Without mirrors it does nothing.
func (b *Buffers) MirrorReceiveToDevice(face grid.Face) error {
	if !b.mirrored {
		return nil
	}
	if err := b.recv[face].CopyFrom(b.hostRecv[face]); err != nil {
		return fmt.Errorf("mirror %s receive buffer to device: %w", face, err)
	}
	return nil
}

// Free releases every buffer; safe to call more than once
func (b *Buffers) Free() {
	for face := range b.send {
		if b.send[face] != nil {
			b.send[face].Free()
			b.send[face] = nil
		}
		if b.recv[face] != nil {
			b.recv[face].Free()
			b.recv[face] = nil
		}
		b.hostSend[face] = nil
		b.hostRecv[face] = nil
		b.lengths[face] = 0
	}
}
