// Package halo refreshes the ghost layers of the radiation fields, by local
// periodic wraps and by non-blocking messages to neighboring ranks.
//
// Axes are handled in order x, y, z. On each axis enabled for partitioned
// exchange the protocol packs and posts every partitioned face, applies the
// periodic faces, then drains the receives in completion order and unpacks
// each one into the ghost layers named by its envelope. A barrier closes the
// axis: edge and corner ghosts are written by more than one axis, and the
// later axes must see ghosts that have already landed. Axes not enabled for
// partitioned exchange get periodic wraps on both faces. When both faces of an
// axis have the rank itself as neighbor, each receive buffer is filled by a
// device copy of the opposite send buffer instead of a message.
package halo

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/notargets/rthalo/boundary"
	"github.com/notargets/rthalo/device"
	"github.com/notargets/rthalo/fields"
	"github.com/notargets/rthalo/grid"
	"github.com/notargets/rthalo/observability"
	"github.com/notargets/rthalo/transport"
	"github.com/rs/zerolog"
)

var (
	// ErrInconsistent indicates buffer lengths, neighbors or memory placement
	// disagree with the exchange configuration.
	ErrInconsistent = errors.New("halo exchange configuration inconsistent")

	// ErrReentrant indicates Exchange was called while an exchange was running.
	ErrReentrant = errors.New("halo exchange already in progress")
)

// Kernels packs, unpacks and wraps halo slabs of the primary array
type Kernels interface {
	PackHaloSlab(a grid.Axis, s grid.Side, f *fields.Radiation, dst device.Memory, offset int) (int, error)
	UnpackHaloSlab(a grid.Axis, s grid.Side, f *fields.Radiation, src device.Memory, offset int) error
	ApplyPeriodicWrap(a grid.Axis, s grid.Side, f *fields.Radiation) error
}

// SendPolicy controls what happens to send requests once posted
type SendPolicy int

const (
	// SendFireAndForget frees every send handle right after posting. The
	// send buffer is repacked on the next exchange without checking that
	// the previous send finished.
	SendFireAndForget SendPolicy = iota

	// SendTracked keeps the handle and waits on it before the face's send
	// buffer is packed again.
	SendTracked
)

func (p SendPolicy) String() string {
	if p == SendTracked {
		return "tracked"
	}
	return "fire-and-forget"
}

// ParseSendPolicy maps a configuration name to a policy
func ParseSendPolicy(s string) (SendPolicy, error) {
	switch s {
	case "", "fire-and-forget":
		return SendFireAndForget, nil
	case "tracked":
		return SendTracked, nil
	}
	return 0, fmt.Errorf("unknown send policy %q", s)
}

// Config describes the exchange of one rank
type Config struct {
	Flags     boundary.Flags
	Neighbors grid.Neighbors

	// PartitionedAxes are the axes that exchange messages; nil means x only
	PartitionedAxes []grid.Axis

	// DeviceAwareTransport sends directly from the device buffers instead of
	// their host mirrors
	DeviceAwareTransport bool

	SendPolicy SendPolicy
}

// Exchanger runs the halo exchange of one rank. It is not safe for
// concurrent use.
type Exchanger struct {
	cfg         Config
	comm        transport.Comm
	kernels     Kernels
	buffers     *Buffers
	logger      zerolog.Logger
	partitioned [3]bool
	local       [3]bool

	pendingSends [grid.NumFaces]transport.Request
	busy         atomic.Bool
}

// NewExchanger checks cfg against the transport and buffers
func NewExchanger(comm transport.Comm, k Kernels, buffers *Buffers, cfg Config, logger zerolog.Logger) (*Exchanger, error) {
	if comm == nil || k == nil || buffers == nil {
		panic("halo exchanger requires a transport, kernels and buffers")
	}
	e := &Exchanger{
		cfg:     cfg,
		comm:    comm,
		kernels: k,
		buffers: buffers,
		logger:  logger.With().Str("component", "halo").Int("rank", comm.Rank()).Logger(),
	}
	axes := cfg.PartitionedAxes
	if axes == nil {
		axes = []grid.Axis{grid.X}
	}
	for _, a := range axes {
		e.partitioned[a] = true
	}

	if buffers.Mirrored() == cfg.DeviceAwareTransport {
		return nil, fmt.Errorf("%w: device-aware transport %v with host mirrors %v",
			ErrInconsistent, cfg.DeviceAwareTransport, buffers.Mirrored())
	}

	for face := grid.Face(0); face < grid.NumFaces; face++ {
		if _, ok := cfg.Flags[face].(boundary.PartitionedExchange); !ok {
			continue
		}
		a := face.Axis()
		if !e.partitioned[a] {
			e.logger.Warn().Str("face", face.String()).
				Msg("partitioned face on an axis without message exchange; it is wrapped locally")
			continue
		}
		if !buffers.Has(face) {
			return nil, fmt.Errorf("%w: no exchange buffers for %s", ErrInconsistent, face)
		}
		if want := buffers.Len(face); want != slabLength(buffers, a) {
			return nil, fmt.Errorf("%w: %s buffer holds %d values, slab needs %d",
				ErrInconsistent, face, want, slabLength(buffers, a))
		}
		for _, r := range []int{cfg.Neighbors.Source[face], cfg.Neighbors.Dest[face]} {
			if r < 0 || r >= comm.Size() {
				return nil, fmt.Errorf("%w: %s neighbor rank %d outside group of %d",
					ErrInconsistent, face, r, comm.Size())
			}
		}
		if cfg.DeviceAwareTransport {
			if _, ok := device.Host(buffers.Send(face)); !ok {
				return nil, fmt.Errorf("%w: %s buffers are not addressable by the transport", ErrInconsistent, face)
			}
		}
	}

	for _, a := range grid.Axes {
		if e.partitioned[a] && e.selfNeighbor(a) {
			e.local[a] = true
			e.logger.Debug().Str("axis", a.String()).Msg("both faces are this rank; copying on the device")
		}
	}

	if cfg.SendPolicy == SendFireAndForget && !comm.BufferReusableOnReturn() {
		e.logger.Warn().Msg("transport does not release send buffers on return; " +
			"a send still in flight when its face is repacked may carry mixed data")
	}
	return e, nil
}

// selfNeighbor reports whether both faces of a exchange with this rank only
// and the receive buffers can be filled by a device copy
func (e *Exchanger) selfNeighbor(a grid.Axis) bool {
	rank := e.comm.Rank()
	for _, s := range []grid.Side{grid.Low, grid.High} {
		face := grid.FaceOf(a, s)
		if _, ok := e.cfg.Flags[face].(boundary.PartitionedExchange); !ok {
			return false
		}
		if e.cfg.Neighbors.Source[face] != rank || e.cfg.Neighbors.Dest[face] != rank {
			return false
		}
		if _, ok := e.buffers.Recv(face).(device.DeviceCopier); !ok {
			return false
		}
	}
	return true
}

func slabLength(b *Buffers, a grid.Axis) int {
	return b.Grid.SlabCells(a) * fields.NumComponents(b.NFreq)
}

// Exchange refreshes every ghost layer of f
func (e *Exchanger) Exchange(f *fields.Radiation) (err error) {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrReentrant
	}
	defer e.busy.Store(false)
	defer func() {
		if err != nil {
			observability.RecordFailure(e.comm.Rank())
		}
	}()

	if f.Grid != e.buffers.Grid || f.NFreq != e.buffers.NFreq {
		return fmt.Errorf("%w: fields %+v with %d frequencies, buffers %+v with %d",
			ErrInconsistent, f.Grid, f.NFreq, e.buffers.Grid, e.buffers.NFreq)
	}
	if f.DevRf == nil {
		return fmt.Errorf("%w: device primary array", fields.ErrNotAllocated)
	}

	for _, a := range grid.Axes {
		start := time.Now()
		if e.partitioned[a] {
			if err := e.exchangeAxis(f, a); err != nil {
				return err
			}
		} else if err := e.wrapAxis(f, a); err != nil {
			return err
		}
		observability.RecordAxis(e.comm.Rank(), a.String(), time.Since(start))
	}
	return nil
}

func (e *Exchanger) exchangeAxis(f *fields.Radiation, a grid.Axis) error {
	st, err := e.post(f, a)
	if err != nil {
		return err
	}
	if err := e.drain(f, st); err != nil {
		return err
	}
	start := time.Now()
	if err := e.comm.Barrier(); err != nil {
		return fmt.Errorf("barrier after %s exchange: %w", a, err)
	}
	observability.RecordBarrier(e.comm.Rank(), time.Since(start))
	return nil
}

// axisState tracks the receives posted for one axis
type axisState struct {
	axis        grid.Axis
	recvs       [2]transport.Request
	local       [2]bool
	outstanding int
}

// post packs and posts every partitioned face of axis a, then applies its
// periodic faces
func (e *Exchanger) post(f *fields.Radiation, a grid.Axis) (*axisState, error) {
	st := &axisState{axis: a}
	sides := []grid.Side{grid.Low, grid.High}
	for _, s := range sides {
		if _, ok := e.cfg.Flags.At(a, s).(boundary.PartitionedExchange); !ok {
			continue
		}
		if e.local[a] {
			if _, err := e.pack(f, a, s); err != nil {
				return nil, err
			}
			st.local[s] = true
			continue
		}
		req, err := e.postFace(f, a, s)
		if err != nil {
			return nil, err
		}
		st.recvs[s] = req
		st.outstanding++
	}
	for _, s := range sides {
		if _, ok := e.cfg.Flags.At(a, s).(boundary.PeriodicLocal); !ok {
			continue
		}
		if err := e.wrap(f, a, s); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// pack fills the send buffer of a face, first waiting out a tracked send
// still reading it
func (e *Exchanger) pack(f *fields.Radiation, a grid.Axis, s grid.Side) (int, error) {
	face := grid.FaceOf(a, s)

	if prev := e.pendingSends[face]; prev != nil {
		if _, err := e.comm.Wait(prev); err != nil {
			return 0, fmt.Errorf("wait on previous %s send: %w", face, err)
		}
		e.pendingSends[face] = nil
	}

	n, err := e.kernels.PackHaloSlab(a, s, f, e.buffers.Send(face), 0)
	if err != nil {
		return 0, fmt.Errorf("pack %s: %w", face, err)
	}
	if n != e.buffers.Len(face) {
		return 0, fmt.Errorf("%w: packed %d values for %s, buffer holds %d",
			ErrInconsistent, n, face, e.buffers.Len(face))
	}
	return n, nil
}

func (e *Exchanger) postFace(f *fields.Radiation, a grid.Axis, s grid.Side) (transport.Request, error) {
	face := grid.FaceOf(a, s)
	n, err := e.pack(f, a, s)
	if err != nil {
		return nil, err
	}

	sendBuf, err := e.buffers.SendPayload(face, n)
	if err != nil {
		return nil, err
	}
	recvBuf, err := e.buffers.RecvPayload(face, n)
	if err != nil {
		return nil, err
	}

	source, dest := e.cfg.Neighbors.Source[face], e.cfg.Neighbors.Dest[face]
	rreq, err := e.comm.Irecv(recvBuf, source, transport.Envelope{Axis: a, Side: s})
	if err != nil {
		return nil, fmt.Errorf("post %s receive from rank %d: %w", face, source, err)
	}
	sreq, err := e.comm.Isend(sendBuf, dest, transport.Envelope{Axis: a, Side: s.Opposite()})
	if err != nil {
		return nil, fmt.Errorf("post %s send to rank %d: %w", face, dest, err)
	}
	if e.cfg.SendPolicy == SendTracked {
		e.pendingSends[face] = sreq
	} else {
		sreq.Free()
	}

	rank := e.comm.Rank()
	observability.RecordMessage(rank, a.String(), "send", n)
	observability.RecordMessage(rank, a.String(), "recv", n)
	e.logger.Debug().Str("face", face.String()).Int("source", source).Int("dest", dest).
		Int("values", n).Msg("posted")
	return rreq, nil
}

// drain copies the faces that are their own neighbor, then waits for every
// outstanding receive of st in completion order and unpacks each into the
// ghost layers its envelope names
func (e *Exchanger) drain(f *fields.Radiation, st *axisState) error {
	for _, s := range []grid.Side{grid.Low, grid.High} {
		if !st.local[s] {
			continue
		}
		face, from := grid.FaceOf(st.axis, s), grid.FaceOf(st.axis, s.Opposite())
		n := e.buffers.Len(face)
		if err := device.Copy(e.buffers.Recv(face), 0, e.buffers.Send(from), 0, n); err != nil {
			return fmt.Errorf("copy %s send into %s receive: %w", from, face, err)
		}
		if err := e.kernels.UnpackHaloSlab(st.axis, s, f, e.buffers.Recv(face), 0); err != nil {
			return fmt.Errorf("unpack %s: %w", face, err)
		}
	}

	reqs := []transport.Request{st.recvs[grid.Low], st.recvs[grid.High]}
	for n := 0; n < st.outstanding; n++ {
		i, status, err := e.comm.WaitAny(reqs)
		if err != nil {
			return fmt.Errorf("wait on %s receives: %w", st.axis, err)
		}
		if i < 0 {
			return fmt.Errorf("%w: %d %s receives outstanding but none active",
				ErrInconsistent, st.outstanding-n, st.axis)
		}
		reqs[i] = nil

		env := status.Envelope
		face := grid.FaceOf(env.Axis, env.Side)
		if env.Axis != st.axis || st.recvs[env.Side] == nil {
			return fmt.Errorf("%w: %s receive completed with envelope %s", ErrInconsistent, st.axis, env)
		}
		if status.Count != e.buffers.Len(face) {
			return fmt.Errorf("%w: received %d values for %s, expected %d",
				ErrInconsistent, status.Count, face, e.buffers.Len(face))
		}
		if err := e.buffers.MirrorReceiveToDevice(face); err != nil {
			return err
		}
		if err := e.kernels.UnpackHaloSlab(env.Axis, env.Side, f, e.buffers.Recv(face), 0); err != nil {
			return fmt.Errorf("unpack %s: %w", face, err)
		}
		e.logger.Debug().Str("face", face.String()).Int("source", status.Source).Msg("unpacked")
	}
	return nil
}

func (e *Exchanger) wrapAxis(f *fields.Radiation, a grid.Axis) error {
	for _, s := range []grid.Side{grid.Low, grid.High} {
		if err := e.wrap(f, a, s); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exchanger) wrap(f *fields.Radiation, a grid.Axis, s grid.Side) error {
	if err := e.kernels.ApplyPeriodicWrap(a, s, f); err != nil {
		return fmt.Errorf("periodic wrap %s: %w", grid.FaceOf(a, s), err)
	}
	observability.RecordWrap(e.comm.Rank(), a.String())
	return nil
}

// Close waits for tracked sends still in flight
func (e *Exchanger) Close() error {
	var errs []error
	for face, req := range e.pendingSends {
		if req == nil {
			continue
		}
		if _, err := e.comm.Wait(req); err != nil {
			errs = append(errs, fmt.Errorf("%s send: %w", grid.Face(face), err))
		}
		e.pendingSends[face] = nil
	}
	return errors.Join(errs...)
}
