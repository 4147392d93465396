package radiation

import (
	"fmt"

	"github.com/notargets/rthalo/fields"
	"gonum.org/v1/gonum/mat"
)

// Uniform sets the optically thin field to Thin and every directional
// component to Directional, ghosts included
type Uniform struct {
	Thin        float64
	Directional float64
}

func (u Uniform) Initialize(f *fields.Radiation) error {
	for c := 0; c < f.Components(); c++ {
		v := u.Directional
		if c == 0 {
			v = u.Thin
		}
		comp := f.Component(c)
		for i := range comp {
			comp[i] = v
		}
	}
	return f.SyncToDevice()
}

// Func sets every value of the primary field from fn, then copies it to the
// device
type Func func(c, i, j, k int) float64

func (fn Func) Initialize(f *fields.Radiation) error {
	g := f.Grid
	for c := 0; c < f.Components(); c++ {
		comp := f.Component(c)
		for k := 0; k < g.Nz(); k++ {
			for j := 0; j < g.Ny(); j++ {
				for i := 0; i < g.Nx(); i++ {
					comp[g.Index(i, j, k)] = fn(c, i, j, k)
				}
			}
		}
	}
	return f.SyncToDevice()
}

// RateTable holds photoionization rates per frequency group, owned by the
// component that uses it
type RateTable struct {
	rates *mat.Dense
}

// NewRateTable allocates a zeroed nFreq x nRates table
func NewRateTable(nFreq, nRates int) (*RateTable, error) {
	if nFreq < 1 || nRates < 1 {
		return nil, fmt.Errorf("rate table dimensions must be positive, got %d x %d", nFreq, nRates)
	}
	return &RateTable{rates: mat.NewDense(nFreq, nRates, nil)}, nil
}

// Set stores one rate
func (t *RateTable) Set(freq, rate int, v float64) {
	t.rates.Set(freq, rate, v)
}

// Rates returns the table; nil once closed
func (t *RateTable) Rates() mat.Matrix {
	if t.rates == nil {
		return nil
	}
	return t.rates
}

// Close releases the table
func (t *RateTable) Close() error {
	if t.rates == nil {
		return fmt.Errorf("rate table already closed")
	}
	t.rates = nil
	return nil
}
