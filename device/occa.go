//go:build occa

package device

/*
#cgo CFLAGS: -I/usr/local/include
#cgo LDFLAGS: -L/usr/local/lib -locca
#include <occa.h>
#include <stdlib.h>

// Helper function to create device with JSON properties
occaDevice createDeviceHelper(const char* info) {
    occaJson props = occaJsonParse(info);
    occaDevice device = occaCreateDevice(props);
    occaFree(&props);
    return device;
}

void freeDevice(occaDevice d) {
    occaFree(&d);
}

void freeKernel(occaKernel k) {
    occaFree(&k);
}

void freeMemory(occaMemory m) {
    occaFree(&m);
}
*/
import "C"
import (
	"fmt"
	"unsafe"
)

// OCCADevice is a device created through the OCCA runtime
type OCCADevice struct {
	device C.occaDevice
}

// OCCAMemory is an OCCA device allocation of float64 values
type OCCAMemory struct {
	memory C.occaMemory
	n      int
}

// OCCAKernel is a compiled OCCA kernel
type OCCAKernel struct {
	kernel C.occaKernel
	name   string
}

func newOCCA(properties string) (Device, error) {
	cInfo := C.CString(properties)
	defer C.free(unsafe.Pointer(cInfo))

	device := C.createDeviceHelper(cInfo)
	if !bool(C.occaDeviceIsInitialized(device)) {
		return nil, fmt.Errorf("failed to create OCCA device from %s", properties)
	}
	return &OCCADevice{device: device}, nil
}

// Mode returns the OCCA backend mode, e.g. "CUDA"
func (d *OCCADevice) Mode() string {
	return C.GoString(C.occaDeviceMode(d.device))
}

// Malloc allocates n float64 values on the device, zero-filled
func (d *OCCADevice) Malloc(n int) (Memory, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative allocation of %d values", n)
	}
	zeros := make([]float64, n)
	var src unsafe.Pointer
	if n > 0 {
		src = unsafe.Pointer(&zeros[0])
	}
	memory := C.occaDeviceMalloc(d.device, C.occaUDim_t(int64(n)*RealSize), src, C.occaDefault)
	if !bool(C.occaMemoryIsInitialized(memory)) {
		return nil, fmt.Errorf("%w: %d bytes on %s", ErrOutOfMemory, int64(n)*RealSize, d.Mode())
	}
	return &OCCAMemory{memory: memory, n: n}, nil
}

// Free frees the device
func (d *OCCADevice) Free() {
	C.freeDevice(d.device)
}

// Finish blocks until queued device work completes
func (d *OCCADevice) Finish() {
	C.occaDeviceFinish(d.device)
}

// BuildKernel builds a kernel from source string
func (d *OCCADevice) BuildKernel(source, kernelName string) (*OCCAKernel, error) {
	cSource := C.CString(source)
	cKernelName := C.CString(kernelName)
	defer C.free(unsafe.Pointer(cSource))
	defer C.free(unsafe.Pointer(cKernelName))

	kernel := C.occaDeviceBuildKernelFromString(
		d.device,
		cSource,
		cKernelName,
		C.occaDefault)
	if !bool(C.occaKernelIsInitialized(kernel)) {
		return nil, fmt.Errorf("failed to build kernel %s", kernelName)
	}
	return &OCCAKernel{kernel: kernel, name: kernelName}, nil
}

// Len returns the allocation length in values
func (m *OCCAMemory) Len() int { return m.n }

// CopyFrom copies host memory to device memory
func (m *OCCAMemory) CopyFrom(src []float64) error {
	if len(src) > m.n {
		return fmt.Errorf("%w: %d values into %d", ErrSize, len(src), m.n)
	}
	if len(src) == 0 {
		return nil
	}
	C.occaCopyPtrToMem(m.memory, unsafe.Pointer(&src[0]), C.occaUDim_t(len(src)*RealSize), C.occaUDim_t(0), C.occaDefault)
	return nil
}

// CopyTo copies device memory to host memory
func (m *OCCAMemory) CopyTo(dst []float64) error {
	if len(dst) > m.n {
		return fmt.Errorf("%w: %d values from %d", ErrSize, len(dst), m.n)
	}
	if len(dst) == 0 {
		return nil
	}
	C.occaCopyMemToPtr(unsafe.Pointer(&dst[0]), m.memory, C.occaUDim_t(len(dst)*RealSize), C.occaUDim_t(0), C.occaDefault)
	return nil
}

// CopyDeviceToDevice copies n values of another OCCA allocation into m
// without a host round trip
func (m *OCCAMemory) CopyDeviceToDevice(dstOffset int, src Memory, srcOffset, n int) error {
	om, ok := src.(*OCCAMemory)
	if !ok {
		return fmt.Errorf("%w: %T into OCCA memory", ErrIncompatible, src)
	}
	if err := checkCopy(dstOffset, m.n, srcOffset, om.n, n); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	C.occaCopyMemToMem(
		m.memory,
		om.memory,
		C.occaUDim_t(n*RealSize),
		C.occaUDim_t(dstOffset*RealSize),
		C.occaUDim_t(srcOffset*RealSize),
		C.occaDefault,
	)
	return nil
}

// Free frees the device memory
func (m *OCCAMemory) Free() {
	if m.memory == nil {
		return
	}
	C.freeMemory(m.memory)
	m.memory = nil
}

// Name returns the kernel name
func (k *OCCAKernel) Name() string { return k.name }

// RunWithArgs runs the kernel with ints, float64s and *OCCAMemory arguments
func (k *OCCAKernel) RunWithArgs(args ...interface{}) error {
	if len(args) == 0 {
		C.occaKernelRunFromArgs(k.kernel)
		return nil
	}

	occaArgs := make([]C.occaType, len(args))
	for i, arg := range args {
		occaArg, err := convertToOCCAType(arg)
		if err != nil {
			return fmt.Errorf("kernel %s argument %d: %v", k.name, i, err)
		}
		occaArgs[i] = occaArg
	}

	C.occaKernelRunWithArgs(k.kernel, C.int(len(args)), (*C.occaType)(unsafe.Pointer(&occaArgs[0])))
	return nil
}

// Free frees the kernel
func (k *OCCAKernel) Free() {
	C.freeKernel(k.kernel)
}

func convertToOCCAType(arg interface{}) (C.occaType, error) {
	switch v := arg.(type) {
	case int:
		return C.occaInt(C.int(v)), nil
	case int32:
		return C.occaInt32(C.int32_t(v)), nil
	case int64:
		return C.occaLong(C.long(v)), nil
	case float64:
		return C.occaDouble(C.double(v)), nil
	case *OCCAMemory:
		return C.occaType(v.memory), nil
	default:
		return C.occaType{}, fmt.Errorf("unsupported argument type: %T", arg)
	}
}
