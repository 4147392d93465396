// Package device abstracts the accelerator that holds the radiation fields.
//
// Two backends exist: Serial, which keeps "device" memory in host slices and
// is always available, and OCCA, which binds the OCCA runtime through cgo and
// is only compiled with the occa build tag.
//
// Basic usage:
//
//	dev, err := device.New(device.Config{Mode: "serial"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Free()
//
//	mem, err := dev.Malloc(1024)
package device

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrOutOfMemory indicates the device could not satisfy an allocation.
	ErrOutOfMemory = errors.New("device memory exhausted")

	// ErrUnsupportedMode indicates the requested backend is not compiled in.
	ErrUnsupportedMode = errors.New("unsupported device mode")

	// ErrSize indicates a copy whose length exceeds the allocation.
	ErrSize = errors.New("copy exceeds allocation")

	// ErrIncompatible indicates a device copy between allocations of
	// different backends.
	ErrIncompatible = errors.New("incompatible device memory")
)

// RealSize is the size in bytes of one field value
const RealSize = 8

// Device allocates accelerator memory
type Device interface {
	// Mode names the backend, e.g. "Serial" or "CUDA"
	Mode() string
	// Malloc allocates n zeroed float64 values
	Malloc(n int) (Memory, error)
	// Free releases the device itself. Memory must be freed first.
	Free()
}

// Memory is one accelerator-resident float64 array
type Memory interface {
	Len() int
	// CopyFrom copies host values into the start of the allocation
	CopyFrom(src []float64) error
	// CopyTo copies the start of the allocation into dst
	CopyTo(dst []float64) error
	Free()
}

// DeviceCopier is implemented by memory that copies from another allocation
// of the same backend without a host round trip
type DeviceCopier interface {
	CopyDeviceToDevice(dstOffset int, src Memory, srcOffset, n int) error
}

// HostView is implemented by memory that the host can address directly
type HostView interface {
	Float64s() []float64
}

// Config selects and sizes a backend
type Config struct {
	Mode       string // "serial" or "occa"
	Properties string // OCCA device properties JSON, e.g. {"mode": "CUDA", "device_id": 0}
	MaxBytes   int64  // Serial capacity limit, 0 for unlimited
}

// New creates a device for the configured mode
func New(cfg Config) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", "serial":
		return NewSerial(cfg.MaxBytes), nil
	case "occa":
		props := cfg.Properties
		if props == "" {
			props = `{"mode": "Serial"}`
		}
		return newOCCA(props)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, cfg.Mode)
	}
}

// Host returns the host-addressable slice of m, if it has one
func Host(m Memory) ([]float64, bool) {
	hv, ok := m.(HostView)
	if !ok {
		return nil, false
	}
	return hv.Float64s(), true
}

// Copy copies n values of src starting at srcOffset into dst at dstOffset
func Copy(dst Memory, dstOffset int, src Memory, srcOffset, n int) error {
	dc, ok := dst.(DeviceCopier)
	if !ok {
		return fmt.Errorf("%w: %T has no device copy", ErrIncompatible, dst)
	}
	return dc.CopyDeviceToDevice(dstOffset, src, srcOffset, n)
}

func checkCopy(dstOffset, dstLen, srcOffset, srcLen, n int) error {
	if n < 0 || dstOffset < 0 || srcOffset < 0 || dstOffset+n > dstLen || srcOffset+n > srcLen {
		return fmt.Errorf("%w: %d values from offset %d of %d into offset %d of %d",
			ErrSize, n, srcOffset, srcLen, dstOffset, dstLen)
	}
	return nil
}
