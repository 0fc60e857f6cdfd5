package internal

import "math"

// GlobalMap is a coarse, larger-extent 2.5-D elevation grid built once
// from a prebuilt cloud and immutable thereafter. Unlike LocalMap it never
// rolls or fuses incrementally — CreateGlobalMap is idempotent: each call
// discards any previous map and rebuilds from scratch.
type GlobalMap struct {
	params MapParameters
	cells  []localCell // indexed row-major, no rolling offset needed
	counts []int       // samples absorbed per cell, for the running mean below
}

// NewGlobalMap builds a global map of the given length/resolution from
// cloud, expressed relative to cloudPose (the pose the cloud was captured
// from — only its planar position is used to center the grid).
func NewGlobalMap(cloud Cloud, cloudPose Pose, length, resolution float64) (*GlobalMap, error) {
	if length <= 0 {
		return nil, newConfigError("globalMapLength", length, "must be > 0")
	}
	if resolution <= 0 {
		return nil, newConfigError("globalMapResolution", resolution, "must be > 0")
	}

	size := int(math.Round(length / resolution))
	if size <= 0 {
		return nil, newConfigError("globalMapSize", size, "round(length/resolution) must be > 0")
	}

	g := &GlobalMap{
		params: MapParameters{
			Length:     length,
			Resolution: resolution,
			PositionX:  math.Round(cloudPose.Position.X/resolution) * resolution,
			PositionY:  math.Round(cloudPose.Position.Y/resolution) * resolution,
			Size:       size,
		},
		cells:  make([]localCell, size*size),
		counts: make([]int, size*size),
	}

	half := length / 2
	for _, p := range cloud {
		row := int(math.Floor((p.X - (g.params.PositionX - half)) / resolution))
		col := int(math.Floor((p.Y - (g.params.PositionY - half)) / resolution))
		if row < 0 || row >= size || col < 0 || col >= size {
			continue
		}
		idx := row*size + col
		g.counts[idx]++
		c := &g.cells[idx]
		if !c.valid {
			c.meanZ = p.Z
			c.valid = true
			continue
		}
		c.meanZ += (p.Z - c.meanZ) / float64(g.counts[idx])
	}

	return g, nil
}

// Parameters returns the global map's (immutable) geometry.
func (g *GlobalMap) Parameters() MapParameters { return g.params }

// At returns the elevation and validity of the cell nearest (x, y).
func (g *GlobalMap) At(x, y float64) (z float64, ok bool) {
	z, _, _, ok = g.Nearest(x, y)
	return z, ok
}

// Nearest returns the elevation and quantized (cellX, cellY) center of the
// cell nearest (x, y), for callers like PoseCorrector's Procrustes
// refinement that need an actual correspondence point rather than just a
// sampled value.
func (g *GlobalMap) Nearest(x, y float64) (z, cellX, cellY float64, ok bool) {
	half := g.params.Length / 2
	row := int(math.Floor((x - (g.params.PositionX - half)) / g.params.Resolution))
	col := int(math.Floor((y - (g.params.PositionY - half)) / g.params.Resolution))
	if row < 0 || row >= g.params.Size || col < 0 || col >= g.params.Size {
		return 0, 0, 0, false
	}
	c := g.cells[row*g.params.Size+col]
	if !c.valid {
		return 0, 0, 0, false
	}
	origin := -g.params.Length/2 + g.params.Resolution/2
	cellX = g.params.PositionX + origin + float64(row)*g.params.Resolution
	cellY = g.params.PositionY + origin + float64(col)*g.params.Resolution
	return c.meanZ, cellX, cellY, true
}
