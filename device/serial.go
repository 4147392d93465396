package device

import (
	"fmt"
	"sync"
)

// Serial keeps device arrays in host memory, in the spirit of OCCA's Serial
// mode. A non-zero capacity makes allocation fail once exhausted.
type Serial struct {
	mu        sync.Mutex
	capacity  int64
	allocated int64
	live      int
}

// NewSerial creates a Serial device with maxBytes capacity (0 = unlimited)
func NewSerial(maxBytes int64) *Serial {
	return &Serial{capacity: maxBytes}
}

// Mode returns "Serial"
func (s *Serial) Mode() string { return "Serial" }

// Malloc allocates n zeroed values
func (s *Serial) Malloc(n int) (Memory, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative allocation of %d values", n)
	}
	bytes := int64(n) * RealSize

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capacity > 0 && s.allocated+bytes > s.capacity {
		return nil, fmt.Errorf("%w: requested %d bytes, %d of %d in use",
			ErrOutOfMemory, bytes, s.allocated, s.capacity)
	}
	s.allocated += bytes
	s.live++
	return &SerialMemory{owner: s, data: make([]float64, n)}, nil
}

// Allocated returns the bytes currently held
func (s *Serial) Allocated() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocated
}

// Live returns the number of allocations not yet freed
func (s *Serial) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Free is a no-op for the Serial device
func (s *Serial) Free() {}

func (s *Serial) release(n int) {
	s.mu.Lock()
	s.allocated -= int64(n) * RealSize
	s.live--
	s.mu.Unlock()
}

// SerialMemory is a host-backed device allocation
type SerialMemory struct {
	owner *Serial
	data  []float64
	freed bool
}

// Len returns the allocation length in values
func (m *SerialMemory) Len() int { return len(m.data) }

// Float64s exposes the backing slice
func (m *SerialMemory) Float64s() []float64 { return m.data }

// CopyFrom copies host values into the allocation
func (m *SerialMemory) CopyFrom(src []float64) error {
	if len(src) > len(m.data) {
		return fmt.Errorf("%w: %d values into %d", ErrSize, len(src), len(m.data))
	}
	copy(m.data, src)
	return nil
}

// CopyTo copies the allocation into dst
func (m *SerialMemory) CopyTo(dst []float64) error {
	if len(dst) > len(m.data) {
		return fmt.Errorf("%w: %d values from %d", ErrSize, len(dst), len(m.data))
	}
	copy(dst, m.data)
	return nil
}

// CopyDeviceToDevice copies n values of another Serial allocation into m
func (m *SerialMemory) CopyDeviceToDevice(dstOffset int, src Memory, srcOffset, n int) error {
	sm, ok := src.(*SerialMemory)
	if !ok {
		return fmt.Errorf("%w: %T into Serial memory", ErrIncompatible, src)
	}
	if err := checkCopy(dstOffset, len(m.data), srcOffset, len(sm.data), n); err != nil {
		return err
	}
	copy(m.data[dstOffset:dstOffset+n], sm.data[srcOffset:srcOffset+n])
	return nil
}

// Free returns the allocation to the device; repeated calls are ignored
func (m *SerialMemory) Free() {
	if m.freed {
		return
	}
	m.freed = true
	m.owner.release(len(m.data))
	m.data = nil
}
