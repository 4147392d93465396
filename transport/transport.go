// Package transport provides the point-to-point and collective messaging
// primitives the halo exchange runs on.
//
// Messages carry a structured Envelope naming the axis and face they belong
// to, so concurrent exchanges on different axes can never match each other's
// messages. All calls from one rank come from a single goroutine; different
// ranks run concurrently.
//
// Two implementations exist: LocalGroup, where every rank is a goroutine in
// the current process, and MPI (build tag mpi), where every rank is an MPI
// process.
package transport

import (
	"errors"
	"fmt"

	"github.com/notargets/rthalo/grid"
)

var (
	// ErrTransport indicates a send, receive or collective failed.
	ErrTransport = errors.New("transport failure")

	// ErrAborted indicates another rank aborted the group.
	ErrAborted = errors.New("process group aborted")
)

// Envelope identifies which face a message belongs to
type Envelope struct {
	Axis grid.Axis
	Side grid.Side
}

// Tag encodes the envelope as a non-negative integer tag: 2*axis + side
func (e Envelope) Tag() int {
	return 2*int(e.Axis) + int(e.Side)
}

// EnvelopeFromTag decodes a tag produced by Tag
func EnvelopeFromTag(tag int) (Envelope, error) {
	if tag < 0 || tag >= grid.NumFaces {
		return Envelope{}, fmt.Errorf("%w: tag %d is not a face envelope", ErrTransport, tag)
	}
	f := grid.Face(tag)
	return Envelope{Axis: f.Axis(), Side: f.Side()}, nil
}

func (e Envelope) String() string {
	return grid.FaceOf(e.Axis, e.Side).String()
}

// Status describes a completed request
type Status struct {
	Source   int
	Envelope Envelope
	Count    int // values received
}

// Request is a handle on a posted non-blocking operation
type Request interface {
	// Free releases the handle without waiting for completion. The operation
	// still completes; its completion can no longer be observed.
	Free()
}

// Comm is one rank's view of the process group
type Comm interface {
	Rank() int
	Size() int

	// Irecv posts a receive into buf for a message from source with env
	Irecv(buf []float64, source int, env Envelope) (Request, error)

	// Isend posts a send of buf to dest with env
	Isend(buf []float64, dest int, env Envelope) (Request, error)

	// WaitAny blocks until one of the active requests completes and returns
	// its index. Completed and nil entries are skipped; when none is active
	// WaitAny returns -1.
	WaitAny(reqs []Request) (int, Status, error)

	// Wait blocks until req completes
	Wait(req Request) (Status, error)

	// Barrier blocks until every rank in the group has entered it
	Barrier() error

	// BufferReusableOnReturn reports whether a send buffer may be rewritten
	// as soon as Isend returns, without waiting on the request
	BufferReusableOnReturn() bool
}
