// Package spatial provides the uniform grid behind the server's proximity
// queries.
//
// The grid uses preallocated slices with integer indices (not pointers)
// to minimize GC pressure and maximize cache locality.
package spatial

import (
	"math"
)

// SpatialGrid provides O(1) average spatial queries via fixed-size cells on
// the horizontal (X/Z) plane. Height is left to the caller's narrow phase.
//
// Optimal cell size equals the largest query radius. Positions outside the
// covered area are clamped into the edge cells, so results stay complete for
// any position; only the candidate count grows.
//
// Memory layout: cells are stored in row-major order (cells[row*cols+col])
type SpatialGrid struct {
	minX, minZ  float64
	cellSize    float64
	invCellSize float64 // 1/cellSize for faster division
	cols, rows  int
	cells       [][]uint32 // cells[row*cols+col] = list of entity indices
	scratch     []uint32   // reusable buffer for query results
}

// NewSpatialGrid creates a grid covering [minX, minX+width) x [minZ, minZ+depth).
// cellSize should equal the largest query radius for optimal performance.
// expected is used to preallocate cell capacity.
func NewSpatialGrid(minX, minZ, width, depth, cellSize float64, expected int) *SpatialGrid {
	cols := int(math.Ceil(width / cellSize))
	rows := int(math.Ceil(depth / cellSize))

	// Ensure at least 1x1 grid
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}

	cells := make([][]uint32, cols*rows)
	avgPerCell := expected / len(cells)
	if avgPerCell < 4 {
		avgPerCell = 4
	}
	for i := range cells {
		cells[i] = make([]uint32, 0, avgPerCell)
	}

	return &SpatialGrid{
		minX:        minX,
		minZ:        minZ,
		cellSize:    cellSize,
		invCellSize: 1.0 / cellSize,
		cols:        cols,
		rows:        rows,
		cells:       cells,
		scratch:     make([]uint32, 0, 64),
	}
}

// Clear resets all cells without deallocating underlying memory.
// This is O(n) where n = number of cells, not number of entities.
func (g *SpatialGrid) Clear() {
	for i := range g.cells {
		g.cells[i] = g.cells[i][:0] // Keep capacity, reset length
	}
}

// Insert adds an entity at position (x, z).
// The entityID should be the index into your entity slice.
func (g *SpatialGrid) Insert(entityID uint32, x, z float64) {
	idx := g.cellIndex(x, z)
	g.cells[idx] = append(g.cells[idx], entityID)
}

func (g *SpatialGrid) col(x float64) int {
	c := int(math.Floor((x - g.minX) * g.invCellSize))
	if c < 0 {
		return 0
	}
	if c >= g.cols {
		return g.cols - 1
	}
	return c
}

func (g *SpatialGrid) row(z float64) int {
	r := int(math.Floor((z - g.minZ) * g.invCellSize))
	if r < 0 {
		return 0
	}
	if r >= g.rows {
		return g.rows - 1
	}
	return r
}

// cellIndex computes the cell index for a position, with bounds clamping.
func (g *SpatialGrid) cellIndex(x, z float64) int {
	return g.row(z)*g.cols + g.col(x)
}

// QueryBox returns all entity IDs potentially inside the box of half-extents
// (rx, rz) centred on (cx, cz). Uses an internal scratch buffer to avoid
// allocation.
//
// IMPORTANT: The returned slice is reused on subsequent calls.
// Copy the results if you need to persist them.
//
// The returned candidates may include entities outside the box;
// the caller must perform a precise check (narrow phase).
func (g *SpatialGrid) QueryBox(cx, cz, rx, rz float64) []uint32 {
	g.scratch = g.scratch[:0]

	minCol := g.col(cx - rx)
	maxCol := g.col(cx + rx)
	minRow := g.row(cz - rz)
	maxRow := g.row(cz + rz)

	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; col++ {
			idx := row*g.cols + col
			g.scratch = append(g.scratch, g.cells[idx]...)
		}
	}

	return g.scratch
}

// QueryCell returns all entity IDs in the cell containing (x, z).
func (g *SpatialGrid) QueryCell(x, z float64) []uint32 {
	return g.cells[g.cellIndex(x, z)]
}

// Stats returns grid statistics for debugging/profiling.
func (g *SpatialGrid) Stats() GridStats {
	var totalEntities, maxInCell, nonEmpty int
	for _, cell := range g.cells {
		count := len(cell)
		totalEntities += count
		if count > maxInCell {
			maxInCell = count
		}
		if count > 0 {
			nonEmpty++
		}
	}

	avgPerCell := 0.0
	if nonEmpty > 0 {
		avgPerCell = float64(totalEntities) / float64(nonEmpty)
	}

	return GridStats{
		TotalCells:     len(g.cells),
		NonEmptyCells:  nonEmpty,
		TotalEntities:  totalEntities,
		MaxInCell:      maxInCell,
		AvgPerNonEmpty: avgPerCell,
	}
}

// GridStats contains grid statistics for debugging.
type GridStats struct {
	TotalCells     int
	NonEmptyCells  int
	TotalEntities  int
	MaxInCell      int
	AvgPerNonEmpty float64
}

// Dimensions returns the grid dimensions.
func (g *SpatialGrid) Dimensions() (cols, rows int, cellSize float64) {
	return g.cols, g.rows, g.cellSize
}
