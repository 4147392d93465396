package kernels

import "strings"

// Kernel names in Source
const (
	PackKernel   = "packHaloSlab"
	UnpackKernel = "unpackHaloSlab"
	WrapKernel   = "periodicWrap"
)

// Source returns the OKL source of the three slab kernels for the given
// element type, "double" or "float"
func Source(dataType string) string {
	return strings.Replace(slabKernelSource, "DTYPE", dataType, -1)
}

// Every kernel walks a box (i0, j0, k0) + (ni, nj, nk) of an Nx x Ny x Nz
// component-major array with nComp components of nCells values each. Buffer
// order is component, z, y, x.
var slabKernelSource = `
@kernel void packHaloSlab(const int Nx,
                          const int Ny,
                          const int nCells,
                          const int nComp,
                          const int i0, const int ni,
                          const int j0, const int nj,
                          const int k0, const int nk,
                          const int offset,
                          @restrict const DTYPE *rf,
                          @restrict DTYPE *buf) {
    for (int k = 0; k < nk; ++k; @outer) {
        for (int j = 0; j < nj; ++j; @inner) {
            for (int c = 0; c < nComp; ++c) {
                for (int i = 0; i < ni; ++i) {
                    const int cell = (i0 + i) + (j0 + j) * Nx + (k0 + k) * Nx * Ny;
                    const int b = offset + ((c * nk + k) * nj + j) * ni + i;
                    buf[b] = rf[c * nCells + cell];
                }
            }
        }
    }
}

@kernel void unpackHaloSlab(const int Nx,
                            const int Ny,
                            const int nCells,
                            const int nComp,
                            const int i0, const int ni,
                            const int j0, const int nj,
                            const int k0, const int nk,
                            const int offset,
                            @restrict const DTYPE *buf,
                            @restrict DTYPE *rf) {
    for (int k = 0; k < nk; ++k; @outer) {
        for (int j = 0; j < nj; ++j; @inner) {
            for (int c = 0; c < nComp; ++c) {
                for (int i = 0; i < ni; ++i) {
                    const int cell = (i0 + i) + (j0 + j) * Nx + (k0 + k) * Nx * Ny;
                    const int b = offset + ((c * nk + k) * nj + j) * ni + i;
                    rf[c * nCells + cell] = buf[b];
                }
            }
        }
    }
}

// Ghost cells read from the same array at a fixed linear shift
@kernel void periodicWrap(const int Nx,
                          const int Ny,
                          const int nCells,
                          const int nComp,
                          const int i0, const int ni,
                          const int j0, const int nj,
                          const int k0, const int nk,
                          const int shift,
                          @restrict DTYPE *rf) {
    for (int k = 0; k < nk; ++k; @outer) {
        for (int j = 0; j < nj; ++j; @inner) {
            for (int c = 0; c < nComp; ++c) {
                for (int i = 0; i < ni; ++i) {
                    const int cell = (i0 + i) + (j0 + j) * Nx + (k0 + k) * Nx * Ny;
                    rf[c * nCells + cell] = rf[c * nCells + cell + shift];
                }
            }
        }
    }
}
`

// LaunchArgs returns the box arguments shared by the three kernels, in
// kernel parameter order up to and including the offset or shift argument
func LaunchArgs(nx, ny, nCells, nComp int, b Box, last int) []interface{} {
	return []interface{}{
		nx, ny, nCells, nComp,
		b[0].Start, b[0].Len(),
		b[1].Start, b[1].Len(),
		b[2].Start, b[2].Len(),
		last,
	}
}
