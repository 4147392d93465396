// Package config reads the run parameter file.
//
// A parameter file looks like:
//
//	[grid]
//	nx = 16
//	ny = 8
//	nz = 8
//	n_ghost = 2
//
//	[decomposition]
//	px = 2
//
//	[boundaries]
//	codes = [5, 5, 1, 1, 1, 1]
//
//	[radiation]
//	n_freq = 1
//	num_iterations = 10
//
// Keys left out keep their defaults; unknown keys are an error.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/notargets/rthalo/boundary"
	"github.com/notargets/rthalo/grid"
	"github.com/notargets/rthalo/halo"
	"github.com/notargets/rthalo/logging"
)

// ErrInvalid indicates a parameter file that parsed but cannot be run.
var ErrInvalid = errors.New("invalid parameters")

type Grid struct {
	Nx     int `toml:"nx"`
	Ny     int `toml:"ny"`
	Nz     int `toml:"nz"`
	NGhost int `toml:"n_ghost"`
}

type Decomposition struct {
	Px int `toml:"px"`
	Py int `toml:"py"`
	Pz int `toml:"pz"`
}

type Boundaries struct {
	// Codes per face: x-low, x-high, y-low, y-high, z-low, z-high
	Codes []int `toml:"codes"`
	// Resolve turns periodic faces on split axes into partitioned faces
	Resolve bool `toml:"resolve"`
}

type Radiation struct {
	NFreq         int `toml:"n_freq"`
	NumIterations int `toml:"num_iterations"`
	NScalars      int `toml:"n_scalars"`
}

type Device struct {
	Mode       string `toml:"mode"`
	Properties string `toml:"properties"`
	MaxBytes   int64  `toml:"max_bytes"`
}

type Transport struct {
	Kind            string   `toml:"kind"` // "local" or "mpi"
	DeviceAware     bool     `toml:"device_aware"`
	SendPolicy      string   `toml:"send_policy"`
	PartitionedAxes []string `toml:"partitioned_axes"`
}

type Log struct {
	Level   string `toml:"level"`
	NoColor bool   `toml:"no_color"`
}

type Metrics struct {
	Addr string `toml:"addr"`
}

// Parameters is the whole parameter file
type Parameters struct {
	Grid          Grid          `toml:"grid"`
	Decomposition Decomposition `toml:"decomposition"`
	Boundaries    Boundaries    `toml:"boundaries"`
	Radiation     Radiation     `toml:"radiation"`
	Device        Device        `toml:"device"`
	Transport     Transport     `toml:"transport"`
	Log           Log           `toml:"log"`
	Metrics       Metrics       `toml:"metrics"`
}

// Default returns a two-rank 16x8x8 run with x exchanged and y, z periodic
func Default() Parameters {
	return Parameters{
		Grid:          Grid{Nx: 16, Ny: 8, Nz: 8, NGhost: 2},
		Decomposition: Decomposition{Px: 2, Py: 1, Pz: 1},
		Boundaries: Boundaries{
			Codes:   []int{boundary.CodePeriodic, boundary.CodePeriodic, boundary.CodePeriodic, boundary.CodePeriodic, boundary.CodePeriodic, boundary.CodePeriodic},
			Resolve: true,
		},
		Radiation: Radiation{NFreq: 1, NumIterations: 10},
		Device:    Device{Mode: "serial"},
		Transport: Transport{Kind: "local", SendPolicy: "fire-and-forget", PartitionedAxes: []string{"x"}},
		Log:       Log{Level: "info"},
	}
}

// Load reads and validates a parameter file
func Load(path string) (Parameters, error) {
	p := Default()
	meta, err := toml.DecodeFile(path, &p)
	if err != nil {
		return Parameters{}, fmt.Errorf("load parameters: %w", err)
	}
	return finish(p, meta)
}

// Parse reads and validates parameters from TOML text
func Parse(data string) (Parameters, error) {
	p := Default()
	meta, err := toml.Decode(data, &p)
	if err != nil {
		return Parameters{}, fmt.Errorf("parse parameters: %w", err)
	}
	return finish(p, meta)
}

func finish(p Parameters, meta toml.MetaData) (Parameters, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Parameters{}, fmt.Errorf("%w: unknown keys %s", ErrInvalid, strings.Join(keys, ", "))
	}
	if err := p.Validate(); err != nil {
		return Parameters{}, err
	}
	return p, nil
}

// Validate checks the parameters describe a runnable configuration
func (p Parameters) Validate() error {
	if err := p.Split().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if len(p.Boundaries.Codes) != grid.NumFaces {
		return fmt.Errorf("%w: %d boundary codes, need %d", ErrInvalid, len(p.Boundaries.Codes), grid.NumFaces)
	}
	if p.Radiation.NFreq < 1 {
		return fmt.Errorf("%w: n_freq must be positive, got %d", ErrInvalid, p.Radiation.NFreq)
	}
	if p.Radiation.NumIterations < 0 || p.Radiation.NScalars < 0 {
		return fmt.Errorf("%w: negative iteration or scalar count", ErrInvalid)
	}
	switch p.Transport.Kind {
	case "local", "mpi":
	default:
		return fmt.Errorf("%w: transport kind %q", ErrInvalid, p.Transport.Kind)
	}
	if _, err := halo.ParseSendPolicy(p.Transport.SendPolicy); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := p.PartitionedAxes(); err != nil {
		return err
	}
	if p.Log.Level != "" {
		if _, ok := logging.ParseLevel(p.Log.Level); !ok {
			return fmt.Errorf("%w: log level %q", ErrInvalid, p.Log.Level)
		}
	}
	return nil
}

// Split returns the decomposition of the global grid over ranks
func (p Parameters) Split() grid.Decomposition {
	return grid.Decomposition{
		Nx: p.Grid.Nx, Ny: p.Grid.Ny, Nz: p.Grid.Nz,
		Px: p.Decomposition.Px, Py: p.Decomposition.Py, Pz: p.Decomposition.Pz,
		NGhost: p.Grid.NGhost,
	}
}

// FaceCodes returns the six boundary codes
func (p Parameters) FaceCodes() [grid.NumFaces]int {
	var codes [grid.NumFaces]int
	copy(codes[:], p.Boundaries.Codes)
	return codes
}

// PartitionedAxes parses the axis names of the transport section
func (p Parameters) PartitionedAxes() ([]grid.Axis, error) {
	axes := make([]grid.Axis, 0, len(p.Transport.PartitionedAxes))
	for _, name := range p.Transport.PartitionedAxes {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "x":
			axes = append(axes, grid.X)
		case "y":
			axes = append(axes, grid.Y)
		case "z":
			axes = append(axes, grid.Z)
		default:
			return nil, fmt.Errorf("%w: partitioned axis %q", ErrInvalid, name)
		}
	}
	return axes, nil
}
