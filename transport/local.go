package transport

import (
	"fmt"
	"sync"
)

// LocalGroup is a process group whose ranks are goroutines of the current
// process. Sends copy the payload when posted, so send buffers are reusable
// as soon as Isend returns.
type LocalGroup struct {
	ranks []*LocalComm

	mu      sync.Mutex
	cond    *sync.Cond
	arrived int
	gen     int
	aborted error
}

// NewLocalGroup creates a group of size ranks
func NewLocalGroup(size int) *LocalGroup {
	if size < 1 {
		panic(fmt.Sprintf("process group size must be positive, got %d", size))
	}
	g := &LocalGroup{ranks: make([]*LocalComm, size)}
	g.cond = sync.NewCond(&g.mu)
	for r := range g.ranks {
		c := &LocalComm{group: g, rank: r}
		c.cond = sync.NewCond(&c.mu)
		g.ranks[r] = c
	}
	return g
}

// Size returns the number of ranks
func (g *LocalGroup) Size() int { return len(g.ranks) }

// Comm returns the view of one rank
func (g *LocalGroup) Comm(rank int) *LocalComm {
	return g.ranks[rank]
}

// Run calls f for every rank in its own goroutine and waits for all of them.
// The first error aborts the group so that ranks blocked on messages or the
// barrier return instead of hanging.
func (g *LocalGroup) Run(f func(c *LocalComm) error) error {
	var wg sync.WaitGroup
	errs := make([]error, len(g.ranks))
	for r, c := range g.ranks {
		wg.Add(1)
		go func(r int, c *LocalComm) {
			defer wg.Done()
			if err := f(c); err != nil {
				errs[r] = err
				g.Abort(fmt.Errorf("rank %d: %w", r, err))
			}
		}(r, c)
	}
	wg.Wait()

	for r, err := range errs {
		if err != nil {
			return fmt.Errorf("rank %d: %w", r, err)
		}
	}
	return nil
}

// Abort wakes every blocked rank with ErrAborted
func (g *LocalGroup) Abort(cause error) {
	g.mu.Lock()
	if g.aborted == nil {
		g.aborted = fmt.Errorf("%w: %v", ErrAborted, cause)
	}
	g.cond.Broadcast()
	g.mu.Unlock()

	for _, c := range g.ranks {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	}
}

func (g *LocalGroup) abortErr() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.aborted
}

type message struct {
	source int
	env    Envelope
	data   []float64
}

type localRequest struct {
	owner    *LocalComm
	recv     bool
	buf      []float64
	source   int
	env      Envelope
	done     bool
	consumed bool
	status   Status
	err      error
}

// Free drops the handle. A pending receive stays posted and still consumes
// its matching message.
func (r *localRequest) Free() {}

// LocalComm is one rank of a LocalGroup
type LocalComm struct {
	group *LocalGroup
	rank  int

	mu         sync.Mutex
	cond       *sync.Cond
	unexpected []message
	posted     []*localRequest
}

// Rank returns this rank
func (c *LocalComm) Rank() int { return c.rank }

// Size returns the group size
func (c *LocalComm) Size() int { return len(c.group.ranks) }

// BufferReusableOnReturn is true: payloads are copied when the send is posted
func (c *LocalComm) BufferReusableOnReturn() bool { return true }

func (c *LocalComm) checkPeer(peer int) error {
	if peer < 0 || peer >= c.Size() {
		return fmt.Errorf("%w: rank %d outside group of %d", ErrTransport, peer, c.Size())
	}
	return nil
}

// Isend copies buf and delivers it to dest
func (c *LocalComm) Isend(buf []float64, dest int, env Envelope) (Request, error) {
	if err := c.checkPeer(dest); err != nil {
		return nil, err
	}
	if err := c.group.abortErr(); err != nil {
		return nil, err
	}
	msg := message{source: c.rank, env: env, data: append([]float64(nil), buf...)}
	c.group.ranks[dest].deliver(msg)

	return &localRequest{
		owner:  c,
		done:   true,
		source: dest,
		env:    env,
		status: Status{Source: c.rank, Envelope: env, Count: len(buf)},
	}, nil
}

func (c *LocalComm) deliver(msg message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, req := range c.posted {
		if req.source == msg.source && req.env == msg.env {
			c.posted = append(c.posted[:i], c.posted[i+1:]...)
			req.complete(msg)
			c.cond.Broadcast()
			return
		}
	}
	c.unexpected = append(c.unexpected, msg)
}

func (r *localRequest) complete(msg message) {
	r.done = true
	r.status = Status{Source: msg.source, Envelope: msg.env, Count: len(msg.data)}
	if len(msg.data) > len(r.buf) {
		r.err = fmt.Errorf("%w: %d values from rank %d (%s) truncated into buffer of %d",
			ErrTransport, len(msg.data), msg.source, msg.env, len(r.buf))
		return
	}
	copy(r.buf, msg.data)
}

// Irecv posts a receive; a message that already arrived completes it at once
func (c *LocalComm) Irecv(buf []float64, source int, env Envelope) (Request, error) {
	if err := c.checkPeer(source); err != nil {
		return nil, err
	}
	req := &localRequest{owner: c, recv: true, buf: buf, source: source, env: env}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, msg := range c.unexpected {
		if msg.source == source && msg.env == env {
			c.unexpected = append(c.unexpected[:i], c.unexpected[i+1:]...)
			req.complete(msg)
			return req, nil
		}
	}
	c.posted = append(c.posted, req)
	return req, nil
}

// WaitAny blocks until one active request in reqs completes
func (c *LocalComm) WaitAny(reqs []Request) (int, Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		active := false
		for i, r := range reqs {
			if r == nil {
				continue
			}
			lr, ok := r.(*localRequest)
			if !ok || (lr.recv && lr.owner != c) {
				return -1, Status{}, fmt.Errorf("%w: request %d does not belong to rank %d", ErrTransport, i, c.rank)
			}
			if lr.consumed {
				continue
			}
			active = true
			if lr.done {
				lr.consumed = true
				return i, lr.status, lr.err
			}
		}
		if !active {
			return -1, Status{}, nil
		}
		if err := c.group.abortErr(); err != nil {
			return -1, Status{}, err
		}
		c.cond.Wait()
	}
}

// Wait blocks until req completes
func (c *LocalComm) Wait(req Request) (Status, error) {
	_, st, err := c.WaitAny([]Request{req})
	return st, err
}

// Barrier blocks until every rank of the group arrives
func (c *LocalComm) Barrier() error {
	g := c.group
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.aborted != nil {
		return g.aborted
	}
	gen := g.gen
	g.arrived++
	if g.arrived == len(g.ranks) {
		g.arrived = 0
		g.gen++
		g.cond.Broadcast()
		return nil
	}
	for gen == g.gen {
		if g.aborted != nil {
			return g.aborted
		}
		g.cond.Wait()
	}
	return nil
}
