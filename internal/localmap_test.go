package internal

import "testing"

func newTestLocalMap(t *testing.T) *LocalMap {
	t.Helper()
	m := NewLocalMap()
	if err := m.Configure(2, 1, -5, 5); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	return m
}

func cellAt(t *testing.T, m *LocalMap, x, y float64) MapCell {
	t.Helper()
	for _, c := range m.Snapshot() {
		if floatsClose(c.X, x, 1e-9) && floatsClose(c.Y, y, 1e-9) {
			return c
		}
	}
	t.Fatalf("no valid cell at (%v, %v)", x, y)
	return MapCell{}
}

// S3: single-cell fusion.
func TestFuseSinglePoint(t *testing.T) {
	m := newTestLocalMap(t)
	m.Fuse(Cloud{{X: 0, Y: 0, Z: 5}}, []float64{1})

	c := cellAt(t, m, 0.5, 0.5)
	if !floatsClose(c.MeanZ, 5, 1e-9) || !floatsClose(c.VarianceZ, 1, 1e-9) {
		t.Errorf("cell = %+v, want meanZ=5 varianceZ=1", c)
	}
}

// S4: double fusion of the same cell.
func TestFuseTwicesSameCell(t *testing.T) {
	m := newTestLocalMap(t)
	m.Fuse(Cloud{{X: 0, Y: 0, Z: 5}}, []float64{1})
	m.Fuse(Cloud{{X: 0, Y: 0, Z: 7}}, []float64{1})

	c := cellAt(t, m, 0.5, 0.5)
	if !floatsClose(c.MeanZ, 6, 1e-9) || !floatsClose(c.VarianceZ, 0.5, 1e-9) {
		t.Errorf("cell = %+v, want meanZ=6 varianceZ=0.5", c)
	}
}

// Invariant 3: variance is non-increasing across fuses.
func TestFuseVarianceMonotonicallyNonIncreasing(t *testing.T) {
	m := newTestLocalMap(t)
	m.Fuse(Cloud{{X: 0, Y: 0, Z: 1}}, []float64{4})
	prev := cellAt(t, m, 0.5, 0.5).VarianceZ
	for i := 0; i < 5; i++ {
		m.Fuse(Cloud{{X: 0, Y: 0, Z: 1.5}}, []float64{4})
		cur := cellAt(t, m, 0.5, 0.5).VarianceZ
		if cur > prev+1e-12 {
			t.Fatalf("variance increased: %v -> %v", prev, cur)
		}
		prev = cur
	}
}

// Invariant 5: idempotent translate.
func TestTranslateIdempotent(t *testing.T) {
	m := newTestLocalMap(t)
	m.Fuse(Cloud{{X: 0, Y: 0, Z: 5}}, []float64{1})

	pose := Pose{Position: Vec3{X: 3, Y: 0, Z: 0}}
	m.Translate(pose)
	first := m.Snapshot()
	m.Translate(pose)
	second := m.Snapshot()

	if len(first) != len(second) {
		t.Fatalf("translate twice changed cell count: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("translate twice changed cell %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

// Invariant 4: rolling-grid preservation for a cell that stays in the window.
func TestTranslatePreservesRetainedCell(t *testing.T) {
	m := NewLocalMap()
	if err := m.Configure(4, 1, -5, 5); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	// Fuse a point that will remain inside the footprint after a small shift.
	m.Fuse(Cloud{{X: 1.5, Y: 1.5, Z: 9}}, []float64{2})
	before := cellAt(t, m, 1.5, 1.5)

	m.Translate(Pose{Position: Vec3{X: 1, Y: 0, Z: 0}})

	after := cellAt(t, m, 1.5, 1.5)
	if before != after {
		t.Errorf("retained cell changed: before=%+v after=%+v", before, after)
	}
}

func TestTranslateResetsEnteringCell(t *testing.T) {
	m := NewLocalMap()
	if err := m.Configure(2, 1, -5, 5); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	m.Fuse(Cloud{{X: -0.5, Y: -0.5, Z: 9}}, []float64{2})

	// Shift the window far enough that the fused cell exits entirely.
	m.Translate(Pose{Position: Vec3{X: 10, Y: 10, Z: 0}})

	for _, c := range m.Snapshot() {
		if floatsClose(c.X, -0.5, 1e-6) && floatsClose(c.Y, -0.5, 1e-6) {
			t.Errorf("stale cell (-0.5, -0.5) still valid after translate far away: %+v", c)
		}
	}
}

func TestIsValidBecomesTrueAfterFuse(t *testing.T) {
	m := newTestLocalMap(t)
	if m.IsValid() {
		t.Fatal("IsValid() true before any fuse")
	}
	m.Fuse(Cloud{{X: 0, Y: 0, Z: 1}}, []float64{1})
	if !m.IsValid() {
		t.Fatal("IsValid() false after a fuse")
	}
}

func TestConfigureRejectsBadParameters(t *testing.T) {
	cases := []struct {
		name                                         string
		length, resolution, minElev, maxElev float64
	}{
		{"zero length", 0, 1, -1, 1},
		{"zero resolution", 2, 0, -1, 1},
		{"inverted elevation", 2, 1, 1, -1},
	}
	for _, c := range cases {
		m := NewLocalMap()
		if err := m.Configure(c.length, c.resolution, c.minElev, c.maxElev); err == nil {
			t.Errorf("%s: Configure did not return an error", c.name)
		}
	}
}
