//go:build mpi

package transport

// Use
// $ mpicc --showme:compile
// $ mpicc --showme:link
// to find the CFLAGS and LDFLAGS of a different MPI installation.

/*
#cgo LDFLAGS: -pthread -L/usr/lib/x86_64-linux-gnu/openmpi/lib -lmpi
#cgo CFLAGS: -std=gnu99 -Wall -I/usr/lib/x86_64-linux-gnu/openmpi/include/openmpi -I/usr/lib/x86_64-linux-gnu/openmpi/include -pthread
#include <mpi.h>
#include <stdlib.h>

static MPI_Comm get_MPI_COMM_WORLD() {
    return (MPI_Comm)(MPI_COMM_WORLD);
}

static MPI_Datatype get_MPI_DOUBLE() {
    return (MPI_Datatype)(MPI_DOUBLE);
}

static MPI_Request get_MPI_REQUEST_NULL() {
    return (MPI_Request)(MPI_REQUEST_NULL);
}

static int status_source(MPI_Status *s) { return s->MPI_SOURCE; }
static int status_tag(MPI_Status *s) { return s->MPI_TAG; }
*/
import "C"

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"
)

// MPI is a Comm over MPI_COMM_WORLD. Send buffers are handed to MPI by
// reference, so a send buffer must not be rewritten until its request
// completes.
type MPI struct {
	comm C.MPI_Comm
	rank int
	size int

	mu sync.Mutex
	// pins of freed sends; released at the next barrier, by which time every
	// receiver has drained its receives
	detached []*runtime.Pinner
}

type mpiRequest struct {
	handle C.MPI_Request
	pin    *runtime.Pinner
	owner  *MPI
}

var initOnce sync.Once

// InitMPI initializes MPI and returns the world communicator
func InitMPI() (*MPI, error) {
	var err error
	initOnce.Do(func() {
		err = mpiError("MPI_Init", C.MPI_Init(nil, nil))
	})
	if err != nil {
		return nil, err
	}
	m := &MPI{comm: C.get_MPI_COMM_WORLD()}

	n := C.int(-1)
	if err := mpiError("MPI_Comm_rank", C.MPI_Comm_rank(m.comm, &n)); err != nil {
		return nil, err
	}
	m.rank = int(n)
	if err := mpiError("MPI_Comm_size", C.MPI_Comm_size(m.comm, &n)); err != nil {
		return nil, err
	}
	m.size = int(n)
	return m, nil
}

// Finalize shuts MPI down
func (m *MPI) Finalize() error {
	m.releaseDetached()
	return mpiError("MPI_Finalize", C.MPI_Finalize())
}

// Abort terminates every process of the group
func (m *MPI) Abort(code int) {
	C.MPI_Abort(m.comm, C.int(code))
}

func mpiError(call string, rc C.int) error {
	if rc == 0 {
		return nil
	}
	buf := make([]C.char, C.MPI_MAX_ERROR_STRING)
	n := C.int(0)
	C.MPI_Error_string(rc, &buf[0], &n)
	return fmt.Errorf("%w: %s: %s", ErrTransport, call, C.GoString(&buf[0]))
}

func (m *MPI) Rank() int { return m.rank }
func (m *MPI) Size() int { return m.size }

// BufferReusableOnReturn is false: MPI owns the buffer until completion
func (m *MPI) BufferReusableOnReturn() bool { return false }

func pinned(buf []float64) (unsafe.Pointer, *runtime.Pinner) {
	if len(buf) == 0 {
		return nil, nil
	}
	p := new(runtime.Pinner)
	p.Pin(&buf[0])
	return unsafe.Pointer(&buf[0]), p
}

func (m *MPI) Irecv(buf []float64, source int, env Envelope) (Request, error) {
	return m.irecv(buf, source, env.Tag())
}

func (m *MPI) Isend(buf []float64, dest int, env Envelope) (Request, error) {
	return m.isend(buf, dest, env.Tag())
}

func (m *MPI) irecv(buf []float64, source, tag int) (Request, error) {
	ptr, pin := pinned(buf)
	req := &mpiRequest{pin: pin, owner: m}
	rc := C.MPI_Irecv(ptr, C.int(len(buf)), C.get_MPI_DOUBLE(), C.int(source),
		C.int(tag), m.comm, &req.handle)
	if err := mpiError("MPI_Irecv", rc); err != nil {
		req.unpin()
		return nil, err
	}
	return req, nil
}

func (m *MPI) isend(buf []float64, dest, tag int) (Request, error) {
	ptr, pin := pinned(buf)
	req := &mpiRequest{pin: pin, owner: m}
	rc := C.MPI_Isend(ptr, C.int(len(buf)), C.get_MPI_DOUBLE(), C.int(dest),
		C.int(tag), m.comm, &req.handle)
	if err := mpiError("MPI_Isend", rc); err != nil {
		req.unpin()
		return nil, err
	}
	return req, nil
}

func (r *mpiRequest) unpin() {
	if r.pin != nil {
		r.pin.Unpin()
		r.pin = nil
	}
}

// Free releases the MPI handle. The buffer stays pinned until the next
// barrier.
func (r *mpiRequest) Free() {
	if r.handle == C.get_MPI_REQUEST_NULL() {
		return
	}
	C.MPI_Request_free(&r.handle)
	if r.pin != nil {
		r.owner.mu.Lock()
		r.owner.detached = append(r.owner.detached, r.pin)
		r.owner.mu.Unlock()
		r.pin = nil
	}
}

func (m *MPI) releaseDetached() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.detached {
		p.Unpin()
	}
	m.detached = nil
}

func (m *MPI) WaitAny(reqs []Request) (int, Status, error) {
	if len(reqs) == 0 {
		return -1, Status{}, nil
	}
	handles := make([]C.MPI_Request, len(reqs))
	for i, r := range reqs {
		handles[i] = C.get_MPI_REQUEST_NULL()
		if r == nil {
			continue
		}
		mr, ok := r.(*mpiRequest)
		if !ok {
			return -1, Status{}, fmt.Errorf("%w: request %d is not an MPI request", ErrTransport, i)
		}
		handles[i] = mr.handle
	}

	var idx C.int
	var st C.MPI_Status
	rc := C.MPI_Waitany(C.int(len(handles)), &handles[0], &idx, &st)
	if err := mpiError("MPI_Waitany", rc); err != nil {
		return -1, Status{}, err
	}
	if idx == C.MPI_UNDEFINED {
		return -1, Status{}, nil
	}

	i := int(idx)
	mr := reqs[i].(*mpiRequest)
	mr.handle = handles[i]
	mr.unpin()

	var count C.int
	C.MPI_Get_count(&st, C.get_MPI_DOUBLE(), &count)
	source := int(C.status_source(&st))
	env, err := EnvelopeFromTag(int(C.status_tag(&st)))
	if err != nil {
		return i, Status{Source: source, Count: int(count)}, fmt.Errorf("message from rank %d: %w", source, err)
	}
	return i, Status{Source: source, Envelope: env, Count: int(count)}, nil
}

func (m *MPI) Wait(req Request) (Status, error) {
	_, st, err := m.WaitAny([]Request{req})
	return st, err
}

func (m *MPI) Barrier() error {
	if err := mpiError("MPI_Barrier", C.MPI_Barrier(m.comm)); err != nil {
		return err
	}
	m.releaseDetached()
	return nil
}
