package transport

import (
	"errors"
	"sync"
	"testing"

	"github.com/notargets/rthalo/grid"
)

func TestEnvelopeTag(t *testing.T) {
	for _, a := range grid.Axes {
		for _, s := range []grid.Side{grid.Low, grid.High} {
			env := Envelope{Axis: a, Side: s}
			if env.Tag() != 2*int(a)+int(s) {
				t.Errorf("%s: expected tag %d, got %d", env, 2*int(a)+int(s), env.Tag())
			}
			back, err := EnvelopeFromTag(env.Tag())
			if err != nil {
				t.Fatal(err)
			}
			if back != env {
				t.Errorf("Expected %v, got %v", env, back)
			}
		}
	}
	if _, err := EnvelopeFromTag(6); !errors.Is(err, ErrTransport) {
		t.Errorf("Expected ErrTransport for tag 6, got %v", err)
	}
}

func TestLocal_SendBeforeReceive(t *testing.T) {
	g := NewLocalGroup(2)
	c0, c1 := g.Comm(0), g.Comm(1)
	env := Envelope{Axis: grid.X, Side: grid.High}

	buf := []float64{1, 2, 3}
	sreq, err := c0.Isend(buf, 1, env)
	if err != nil {
		t.Fatal(err)
	}
	sreq.Free()
	// payload was copied when the send was posted
	buf[0] = 99

	recv := make([]float64, 3)
	rreq, err := c1.Irecv(recv, 0, env)
	if err != nil {
		t.Fatal(err)
	}
	st, err := c1.Wait(rreq)
	if err != nil {
		t.Fatal(err)
	}
	if st.Source != 0 || st.Envelope != env || st.Count != 3 {
		t.Errorf("Unexpected status %+v", st)
	}
	if recv[0] != 1 || recv[2] != 3 {
		t.Errorf("Expected [1 2 3], got %v", recv)
	}
}

func TestLocal_MatchesByEnvelope(t *testing.T) {
	g := NewLocalGroup(2)
	c0, c1 := g.Comm(0), g.Comm(1)
	low := Envelope{Axis: grid.X, Side: grid.Low}
	high := Envelope{Axis: grid.X, Side: grid.High}

	bufLow := make([]float64, 1)
	bufHigh := make([]float64, 1)
	rLow, _ := c1.Irecv(bufLow, 0, low)
	rHigh, _ := c1.Irecv(bufHigh, 0, high)

	if _, err := c0.Isend([]float64{2}, 1, high); err != nil {
		t.Fatal(err)
	}
	if _, err := c0.Isend([]float64{1}, 1, low); err != nil {
		t.Fatal(err)
	}

	reqs := []Request{rLow, rHigh}
	seen := map[Envelope]bool{}
	for n := 0; n < 2; n++ {
		i, st, err := c1.WaitAny(reqs)
		if err != nil {
			t.Fatal(err)
		}
		if st.Envelope != []Envelope{low, high}[i] {
			t.Errorf("Request %d completed with envelope %v", i, st.Envelope)
		}
		seen[st.Envelope] = true
	}
	if i, _, _ := c1.WaitAny(reqs); i != -1 {
		t.Errorf("Expected -1 once all requests completed, got %d", i)
	}
	if !seen[low] || !seen[high] {
		t.Errorf("Expected both envelopes, got %v", seen)
	}
	if bufLow[0] != 1 || bufHigh[0] != 2 {
		t.Errorf("Expected low=1 high=2, got %v %v", bufLow, bufHigh)
	}
}

func TestLocal_Truncation(t *testing.T) {
	g := NewLocalGroup(2)
	env := Envelope{Axis: grid.Y, Side: grid.Low}
	rreq, _ := g.Comm(1).Irecv(make([]float64, 2), 0, env)
	if _, err := g.Comm(0).Isend([]float64{1, 2, 3}, 1, env); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Comm(1).Wait(rreq); !errors.Is(err, ErrTransport) {
		t.Errorf("Expected ErrTransport for oversized message, got %v", err)
	}
}

func TestLocal_InvalidPeer(t *testing.T) {
	g := NewLocalGroup(2)
	if _, err := g.Comm(0).Isend([]float64{1}, 2, Envelope{}); !errors.Is(err, ErrTransport) {
		t.Errorf("Expected ErrTransport, got %v", err)
	}
	if _, err := g.Comm(0).Irecv(make([]float64, 1), -1, Envelope{}); !errors.Is(err, ErrTransport) {
		t.Errorf("Expected ErrTransport, got %v", err)
	}
}

func TestLocal_Ring(t *testing.T) {
	const size = 4
	g := NewLocalGroup(size)
	env := Envelope{Axis: grid.X, Side: grid.Low}
	got := make([]float64, size)

	err := g.Run(func(c *LocalComm) error {
		right := (c.Rank() + 1) % size
		left := (c.Rank() + size - 1) % size
		buf := make([]float64, 1)
		rreq, err := c.Irecv(buf, left, env)
		if err != nil {
			return err
		}
		sreq, err := c.Isend([]float64{float64(c.Rank())}, right, env)
		if err != nil {
			return err
		}
		sreq.Free()
		if _, err := c.Wait(rreq); err != nil {
			return err
		}
		got[c.Rank()] = buf[0]
		return c.Barrier()
	})
	if err != nil {
		t.Fatal(err)
	}
	for r := 0; r < size; r++ {
		if want := float64((r + size - 1) % size); got[r] != want {
			t.Errorf("Rank %d: expected %f, got %f", r, want, got[r])
		}
	}
}

func TestLocal_Barrier(t *testing.T) {
	const size = 3
	g := NewLocalGroup(size)
	var mu sync.Mutex
	phase := make([]int, size)

	err := g.Run(func(c *LocalComm) error {
		for p := 0; p < 5; p++ {
			mu.Lock()
			phase[c.Rank()] = p
			for r := range phase {
				if phase[r] < p-1 || phase[r] > p+1 {
					mu.Unlock()
					t.Errorf("Rank %d in phase %d while rank %d in phase %d", c.Rank(), p, r, phase[r])
					return nil
				}
			}
			mu.Unlock()
			if err := c.Barrier(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestLocal_AbortUnblocks(t *testing.T) {
	g := NewLocalGroup(2)
	boom := errors.New("boom")

	err := g.Run(func(c *LocalComm) error {
		if c.Rank() == 0 {
			return boom
		}
		// never satisfied; the abort must wake this rank
		req, err := c.Irecv(make([]float64, 1), 0, Envelope{})
		if err != nil {
			return err
		}
		_, err = c.Wait(req)
		return err
	})
	if !errors.Is(err, boom) && !errors.Is(err, ErrAborted) {
		t.Errorf("Expected the rank error, got %v", err)
	}
}
