package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/notargets/rthalo/grid"
)

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Expected default parameters to be valid, got %v", err)
	}
}

func TestParse(t *testing.T) {
	p, err := Parse(`
[grid]
nx = 32
n_ghost = 1

[decomposition]
px = 4

[boundaries]
codes = [5, 5, 1, 1, 3, 3]

[radiation]
n_freq = 3
num_iterations = 2

[transport]
send_policy = "tracked"
partitioned_axes = ["x", "Y"]
`)
	if err != nil {
		t.Fatal(err)
	}
	if p.Grid.Nx != 32 || p.Grid.Ny != 8 {
		t.Errorf("Expected nx=32 and default ny=8, got %d and %d", p.Grid.Nx, p.Grid.Ny)
	}
	if p.Split().Size() != 4 {
		t.Errorf("Expected 4 ranks, got %d", p.Split().Size())
	}
	if p.FaceCodes() != [grid.NumFaces]int{5, 5, 1, 1, 3, 3} {
		t.Errorf("Unexpected codes %v", p.FaceCodes())
	}
	axes, _ := p.PartitionedAxes()
	if len(axes) != 2 || axes[0] != grid.X || axes[1] != grid.Y {
		t.Errorf("Expected [x y], got %v", axes)
	}
	if p.Transport.Kind != "local" {
		t.Errorf("Expected default local transport, got %q", p.Transport.Kind)
	}
}

func TestParse_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		data string
	}{
		{"unknown_key", "[grid]\nnw = 3\n"},
		{"uneven_split", "[decomposition]\npx = 3\n"},
		{"short_codes", "[boundaries]\ncodes = [1, 1]\n"},
		{"no_frequencies", "[radiation]\nn_freq = 0\n"},
		{"bad_policy", "[transport]\nsend_policy = \"eventually\"\n"},
		{"bad_axis", "[transport]\npartitioned_axes = [\"w\"]\n"},
		{"bad_kind", "[transport]\nkind = \"carrier-pigeon\"\n"},
		{"bad_level", "[log]\nlevel = \"loud\"\n"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(tc.data); !errors.Is(err, ErrInvalid) {
				t.Errorf("Expected ErrInvalid, got %v", err)
			}
		})
	}

	if _, err := Parse("[grid\n"); err == nil {
		t.Error("Expected a syntax error")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.toml")
	if err := os.WriteFile(path, []byte("[radiation]\nnum_iterations = 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if p.Radiation.NumIterations != 7 {
		t.Errorf("Expected 7 iterations, got %d", p.Radiation.NumIterations)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("Expected an error for a missing file")
	}
}
