// Package radiation drives the lifecycle of the radiation fields of one rank:
// host allocation, device allocation and initialization, halo refresh, and
// release.
package radiation

import (
	"errors"
	"fmt"
	"io"

	"github.com/notargets/rthalo/boundary"
	"github.com/notargets/rthalo/device"
	"github.com/notargets/rthalo/fields"
	"github.com/notargets/rthalo/grid"
	"github.com/notargets/rthalo/halo"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrLifecycle indicates a lifecycle step called out of order.
	ErrLifecycle = errors.New("radiation lifecycle step out of order")

	// ErrFreed indicates the fields were already released.
	ErrFreed = errors.New("radiation fields already freed")
)

// Parameters are the run parameters read at InitializeStart
type Parameters struct {
	NumIterations int
	FaceCodes     [grid.NumFaces]int
	NScalars      int
}

// Initializer fills freshly allocated device fields
type Initializer interface {
	Initialize(f *fields.Radiation) error
}

// RateSource supplies the rate tables the transfer solve reads
type RateSource interface {
	io.Closer
	Rates() mat.Matrix
}

// Rad3D owns the radiation fields of one rank
type Rad3D struct {
	Grid          grid.Descriptor
	NFreq         int
	NumIterations int
	NScalars      int
	Flags         boundary.Flags
	Fields        *fields.Radiation

	dev       device.Device
	rates     RateSource
	init      Initializer
	exchanger *halo.Exchanger
	logger    zerolog.Logger

	started, finished, freed, closed bool
}

// New creates the lifecycle manager. rates is owned by the returned Rad3D and
// closed by Close; it may be nil.
func New(g grid.Descriptor, nFreq int, dev device.Device, rates RateSource, init Initializer, logger zerolog.Logger) *Rad3D {
	if dev == nil || init == nil {
		panic("radiation requires a device and an initializer")
	}
	return &Rad3D{
		Grid:   g,
		NFreq:  nFreq,
		dev:    dev,
		rates:  rates,
		init:   init,
		logger: logger.With().Str("component", "radiation").Logger(),
	}
}

// InitializeStart records the run parameters and allocates the host fields
func (r *Rad3D) InitializeStart(p Parameters) error {
	if r.started {
		return fmt.Errorf("%w: InitializeStart called twice", ErrLifecycle)
	}
	r.NumIterations = p.NumIterations
	r.NScalars = p.NScalars
	r.Flags = boundary.FromCodes(p.FaceCodes)

	r.Fields = fields.New(r.Grid, r.NFreq)
	if err := r.Fields.AllocateHost(); err != nil {
		return err
	}
	r.started = true
	r.logger.Info().Ints("face_codes", p.FaceCodes[:]).Int("iterations", p.NumIterations).Msg("boundary flags")
	return nil
}

// InitializeFinish allocates the device fields and initializes them
func (r *Rad3D) InitializeFinish() error {
	if !r.started || r.finished {
		return fmt.Errorf("%w: InitializeFinish requires InitializeStart", ErrLifecycle)
	}
	r.logger.Info().Int("n_scalars", r.NScalars).Int("n_freq", r.NFreq).Msg("allocating radiation fields")
	if err := r.Fields.AllocateDevice(r.dev); err != nil {
		return err
	}
	r.finished = true
	if err := r.init.Initialize(r.Fields); err != nil {
		return fmt.Errorf("initialize radiation fields: %w", err)
	}
	sizes := r.Fields.Sizes()
	r.logger.Debug().Int("rf", sizes.Rf).Int("et", sizes.Et).Int("rs", sizes.Rs).
		Int("abc", sizes.Abc).Int("rf_new", sizes.RfNew).Msg("device arrays")
	return nil
}

// AttachExchange sets the exchanger Boundaries runs
func (r *Rad3D) AttachExchange(ex *halo.Exchanger) {
	r.exchanger = ex
}

// Boundaries refreshes every ghost layer of the primary field
func (r *Rad3D) Boundaries() error {
	if !r.finished || r.freed {
		return fmt.Errorf("%w: Boundaries requires initialized fields", ErrLifecycle)
	}
	if r.exchanger == nil {
		return fmt.Errorf("%w: no exchange attached", ErrLifecycle)
	}
	return r.exchanger.Exchange(r.Fields)
}

// Rates returns the owned rate tables; nil without a source or once closed
func (r *Rad3D) Rates() mat.Matrix {
	if r.rates == nil || r.closed {
		return nil
	}
	return r.rates.Rates()
}

// FreeMemory releases device then host fields. It may be called once.
func (r *Rad3D) FreeMemory() error {
	if r.freed {
		return ErrFreed
	}
	if !r.started {
		return fmt.Errorf("%w: nothing allocated", ErrLifecycle)
	}
	r.Fields.Release()
	r.freed = true
	return nil
}

// Close releases the fields if still held, then the owned rate tables
func (r *Rad3D) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	var errs []error
	if r.started && !r.freed {
		errs = append(errs, r.FreeMemory())
	}
	if r.rates != nil {
		errs = append(errs, r.rates.Close())
	}
	return errors.Join(errs...)
}
