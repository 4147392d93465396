package fields

import (
	"errors"
	"testing"

	"github.com/notargets/rthalo/device"
	"github.com/notargets/rthalo/grid"
)

func testGrid(t *testing.T) grid.Descriptor {
	t.Helper()
	g, err := grid.NewDescriptor(4, 4, 4, 1)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestSizesFor(t *testing.T) {
	g := testGrid(t)
	c := 6 * 6 * 6

	testCases := []struct {
		nFreq int
		want  Sizes
	}{
		{1, Sizes{Rf: 3 * c, Et: 6 * c, Rs: c, Abc: c, RfNew: 2 * c}},
		{3, Sizes{Rf: 7 * c, Et: 6 * c, Rs: c, Abc: 3 * c, RfNew: 2 * c}},
	}
	for _, tc := range testCases {
		got, err := SizesFor(g, tc.nFreq)
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Errorf("nFreq=%d: expected %+v, got %+v", tc.nFreq, tc.want, got)
		}
	}

	if _, err := SizesFor(g, 0); !errors.Is(err, ErrAllocation) {
		t.Errorf("Expected ErrAllocation for zero frequencies, got %v", err)
	}
}

func TestAllocateAndRelease(t *testing.T) {
	dev := device.NewSerial(0)
	r := New(testGrid(t), 2)

	if err := r.AllocateHost(); err != nil {
		t.Fatal(err)
	}
	if err := r.AllocateDevice(dev); err != nil {
		t.Fatal(err)
	}
	if dev.Live() != 5 {
		t.Errorf("Expected 5 device arrays, got %d", dev.Live())
	}
	if r.DevRf.Len() != len(r.Rf) {
		t.Errorf("Expected device primary length %d, got %d", len(r.Rf), r.DevRf.Len())
	}
	if r.Et != nil || r.Rs != nil {
		t.Error("Expected no host mirrors for eddington/source")
	}

	r.Release()
	if dev.Live() != 0 || dev.Allocated() != 0 {
		t.Errorf("Expected all device memory released, %d live", dev.Live())
	}
	if r.Rf != nil || r.DevRf != nil {
		t.Error("Expected arrays cleared after release")
	}
}

func TestAllocateDevice_RollsBackOnExhaustion(t *testing.T) {
	g := testGrid(t)
	sizes, _ := SizesFor(g, 1)
	// room for rf and et only; rs fails
	dev := device.NewSerial(int64(sizes.Rf+sizes.Et) * device.RealSize)

	r := New(g, 1)
	if err := r.AllocateHost(); err != nil {
		t.Fatal(err)
	}
	err := r.AllocateDevice(dev)
	if !errors.Is(err, ErrAllocation) {
		t.Fatalf("Expected ErrAllocation, got %v", err)
	}
	if dev.Live() != 0 {
		t.Errorf("Expected partial allocations released, %d live", dev.Live())
	}
	if r.DevRf != nil || r.DevEt != nil {
		t.Error("Expected device handles cleared after rollback")
	}

	r.Release()
}

func TestRelease_RequiresPrimary(t *testing.T) {
	defer func() {
		if rec := recover(); rec == nil {
			t.Error("Expected panic releasing without a primary host array")
		}
	}()
	New(testGrid(t), 1).Release()
}

func TestSyncRoundTrip(t *testing.T) {
	dev := device.NewSerial(0)
	r := New(testGrid(t), 1)
	if err := r.AllocateHost(); err != nil {
		t.Fatal(err)
	}
	if err := r.SyncToDevice(); !errors.Is(err, ErrNotAllocated) {
		t.Errorf("Expected ErrNotAllocated before device allocation, got %v", err)
	}
	if err := r.AllocateDevice(dev); err != nil {
		t.Fatal(err)
	}
	defer r.Release()

	for i := range r.Rf {
		r.Rf[i] = float64(i)
	}
	want := r.Checksum()
	if err := r.SyncToDevice(); err != nil {
		t.Fatal(err)
	}
	for i := range r.Rf {
		r.Rf[i] = 0
	}
	if err := r.SyncToHost(); err != nil {
		t.Fatal(err)
	}
	if got := r.Checksum(); got != want {
		t.Errorf("Expected checksum %f after round trip, got %f", want, got)
	}
	if got := r.Component(1)[0]; got != float64(r.Grid.NCells()) {
		t.Errorf("Expected component 1 to start at %d, got %f", r.Grid.NCells(), got)
	}
}

func TestEddingtonTensor(t *testing.T) {
	dev := device.NewSerial(0)
	r := New(testGrid(t), 1)
	if err := r.AllocateHost(); err != nil {
		t.Fatal(err)
	}
	if err := r.AllocateDevice(dev); err != nil {
		t.Fatal(err)
	}
	defer r.Release()

	if _, err := r.EddingtonTensor(0); !errors.Is(err, ErrNotAllocated) {
		t.Errorf("Expected ErrNotAllocated without mirror, got %v", err)
	}

	n := r.Grid.NCells()
	cell := 7
	et := make([]float64, EddingtonComponents*n)
	for k, v := range []float64{1, 2, 3, 4, 5, 6} {
		et[k*n+cell] = v
	}
	if err := r.DevEt.CopyFrom(et); err != nil {
		t.Fatal(err)
	}
	if err := r.MirrorEddington(); err != nil {
		t.Fatal(err)
	}

	tensor, err := r.EddingtonTensor(cell)
	if err != nil {
		t.Fatal(err)
	}
	expected := [3][3]float64{{1, 2, 3}, {2, 4, 5}, {3, 5, 6}}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if tensor.At(i, j) != expected[i][j] {
				t.Errorf("T[%d][%d]: expected %f, got %f", i, j, expected[i][j], tensor.At(i, j))
			}
		}
	}
}
