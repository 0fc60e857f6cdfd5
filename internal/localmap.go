package internal

import (
	"math"
	"sync"
)

// localCell is a single 2.5-D elevation-grid cell.
type localCell struct {
	meanZ     float64
	varianceZ float64
	valid     bool
}

// LocalMap is a rolling, grid-aligned 2.5-D elevation map centred on the
// robot. It is constructed once by Configure and translated, never
// reallocated, thereafter.
//
// The grid is stored as a flat slice of size*size cells. Rather than
// shifting cell data on every translation, a rotating (startRow, startCol)
// offset pair reindexes the logical (0,0) origin cell, so Translate is pure
// index arithmetic.
type LocalMap struct {
	mu sync.Mutex

	params MapParameters
	cells  []localCell

	startRow, startCol int
	everFused          bool
}

// NewLocalMap constructs an unconfigured map; Configure must be called
// before use.
func NewLocalMap() *LocalMap {
	return &LocalMap{}
}

// Configure creates the grid and initializes every cell to valid=false. It
// is an error to call Configure with a non-positive length or resolution.
func (m *LocalMap) Configure(length, resolution, minElevation, maxElevation float64) error {
	if length <= 0 {
		return newConfigError("mapLength", length, "must be > 0")
	}
	if resolution <= 0 {
		return newConfigError("resolution", resolution, "must be > 0")
	}
	if minElevation >= maxElevation {
		return newConfigError("minElevation/maxElevation", []float64{minElevation, maxElevation}, "minElevation must be < maxElevation")
	}

	size := int(math.Round(length / resolution))
	if size <= 0 {
		return newConfigError("size", size, "round(length/resolution) must be > 0")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.params = MapParameters{
		Length:       length,
		Resolution:   resolution,
		MinElevation: minElevation,
		MaxElevation: maxElevation,
		Size:         size,
	}
	m.cells = make([]localCell, size*size)
	m.startRow, m.startCol = 0, 0
	m.everFused = false
	return nil
}

// index maps a logical (row, col) in [0,size) to the physical slice index,
// honoring the rolling startRow/startCol offset.
func (m *LocalMap) index(row, col int) int {
	size := m.params.Size
	physRow := (row + m.startRow) % size
	physCol := (col + m.startCol) % size
	return physRow*size + physCol
}

// cellCenter returns the world-frame center of logical cell (row, col).
func (m *LocalMap) cellCenter(row, col int) (x, y float64) {
	origin := -m.params.Length/2 + m.params.Resolution/2
	x = m.params.PositionX + origin + float64(row)*m.params.Resolution
	y = m.params.PositionY + origin + float64(col)*m.params.Resolution
	return
}

// Translate snaps the grid's (PositionX, PositionY) to the nearest
// multiple of Resolution closest to robotPose's (x, y), retaining the
// state of cells that remain within the new footprint and resetting cells
// that newly enter it. Translate is idempotent: translating twice to the
// same pose is equivalent to translating once.
func (m *LocalMap) Translate(robotPose Pose) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.translateLocked(robotPose)
}

func (m *LocalMap) translateLocked(robotPose Pose) {
	res := m.params.Resolution
	newX := math.Round(robotPose.Position.X/res) * res
	newY := math.Round(robotPose.Position.Y/res) * res

	oldX, oldY := m.params.PositionX, m.params.PositionY
	if newX == oldX && newY == oldY {
		return
	}

	shiftRows := int(math.Round((newX - oldX) / res))
	shiftCols := int(math.Round((newY - oldY) / res))
	size := m.params.Size

	// Invalidate cells that leave the footprint along each shifted axis,
	// then roll the start offset so the retained cells are addressed by
	// the same logical (row, col) as before, without copying data.
	if shiftRows != 0 {
		m.invalidateRowBand(shiftRows)
		m.startRow = ((m.startRow+shiftRows)%size + size) % size
	}
	if shiftCols != 0 {
		m.invalidateColBand(shiftCols)
		m.startCol = ((m.startCol+shiftCols)%size + size) % size
	}

	m.params.PositionX = newX
	m.params.PositionY = newY
}

// invalidateRowBand resets the logical rows that are about to fall out of
// the footprint, using the pre-translation start offset. Because the grid
// is rolling, the physical slots these old rows occupy are exactly the
// slots the newly-entering rows will read after startRow is updated —
// resetting the exiting band is equivalent to resetting the entering one,
// but must happen before the start offset changes.
func (m *LocalMap) invalidateRowBand(shift int) {
	size := m.params.Size
	n := shift
	if n < 0 {
		n = -n
	}
	if n > size {
		n = size
	}
	for i := 0; i < n; i++ {
		var row int
		if shift > 0 {
			row = i // low edge exits when the window moves toward +x
		} else {
			row = size - 1 - i // high edge exits when the window moves toward -x
		}
		for col := 0; col < size; col++ {
			m.cells[m.index(row, col)] = localCell{}
		}
	}
}

// invalidateColBand is invalidateRowBand's column-axis counterpart.
func (m *LocalMap) invalidateColBand(shift int) {
	size := m.params.Size
	n := shift
	if n < 0 {
		n = -n
	}
	if n > size {
		n = size
	}
	for i := 0; i < n; i++ {
		var col int
		if shift > 0 {
			col = i
		} else {
			col = size - 1 - i
		}
		for row := 0; row < size; row++ {
			m.cells[m.index(row, col)] = localCell{}
		}
	}
}

// cellOf returns the logical (row, col) whose center is within
// Resolution/2 of (x, y), and whether such a cell exists within the grid.
func (m *LocalMap) cellOf(x, y float64) (row, col int, ok bool) {
	half := m.params.Length / 2
	res := m.params.Resolution
	localX := x - (m.params.PositionX - half)
	localY := y - (m.params.PositionY - half)

	row = int(math.Floor(localX / res))
	col = int(math.Floor(localY / res))
	if row < 0 || row >= m.params.Size || col < 0 || col >= m.params.Size {
		return 0, 0, false
	}
	return row, col, true
}

// Fuse applies a Kalman update to every cell touched by cloud, in order.
// Points falling outside the grid footprint are silently dropped.
// len(cloud) must equal len(variances).
func (m *LocalMap) Fuse(cloud Cloud, variances []float64) {
	if len(cloud) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, p := range cloud {
		row, col, ok := m.cellOf(p.X, p.Y)
		if !ok {
			continue
		}
		idx := m.index(row, col)
		m.fuseCell(idx, p.Z, variances[i])
		m.everFused = true
	}
}

// fuseCell performs the single-point Kalman update: assignment if the
// cell was invalid, otherwise the fused mean/variance form
// 1/(1/v + 1/vp). Variance is non-increasing on every fuse.
func (m *LocalMap) fuseCell(idx int, z, vp float64) {
	c := &m.cells[idx]
	if !c.valid {
		c.meanZ = z
		c.varianceZ = vp
		c.valid = true
		return
	}
	v := c.varianceZ
	newVariance := (v * vp) / (v + vp)
	newMean := (c.meanZ*vp + z*v) / (v + vp)
	c.meanZ = newMean
	c.varianceZ = newVariance
}

// Parameters returns the map's current geometry, including the live
// (PositionX, PositionY) set by the most recent Translate.
func (m *LocalMap) Parameters() MapParameters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.params
}

// IsValid reports whether at least one Fuse call has produced a valid
// cell.
func (m *LocalMap) IsValid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.everFused
}

// MapCell is a single valid cell's world-frame position and mean
// elevation, returned by snapshotting iteration.
type MapCell struct {
	X, Y, MeanZ, VarianceZ float64
}

// Snapshot copies out every valid cell's world (x, y, meanZ, varianceZ)
// under the map mutex, then releases it, so downstream heavy work
// (matching, cloud conversion) never runs while holding the local-map
// lock.
func (m *LocalMap) Snapshot() []MapCell {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := m.params.Size
	out := make([]MapCell, 0, size*size)
	for row := 0; row < size; row++ {
		for col := 0; col < size; col++ {
			c := m.cells[m.index(row, col)]
			if !c.valid {
				continue
			}
			x, y := m.cellCenter(row, col)
			out = append(out, MapCell{X: x, Y: y, MeanZ: c.meanZ, VarianceZ: c.varianceZ})
		}
	}
	return out
}

// Grid returns a dense row-major snapshot of the map's meanZ and validity
// arrays (including invalid cells), for consumers like
// PoseCorrector.FeatureCriterionFulfilled that need neighbor relationships
// rather than the flat valid-only list Snapshot provides.
func (m *LocalMap) Grid() (mean [][]float64, valid [][]bool, params MapParameters) {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := m.params.Size
	mean = make([][]float64, size)
	valid = make([][]bool, size)
	for row := 0; row < size; row++ {
		mean[row] = make([]float64, size)
		valid[row] = make([]bool, size)
		for col := 0; col < size; col++ {
			c := m.cells[m.index(row, col)]
			mean[row][col] = c.meanZ
			valid[row][col] = c.valid
		}
	}
	return mean, valid, m.params
}

// ToCloud converts every valid cell to a cloud point, mirroring the
// original implementation's convertMapToCloud collaborator.
func (m *LocalMap) ToCloud() Cloud {
	cells := m.Snapshot()
	cloud := make(Cloud, len(cells))
	for i, c := range cells {
		cloud[i] = CloudPoint{X: c.X, Y: c.Y, Z: c.MeanZ}
	}
	return cloud
}
