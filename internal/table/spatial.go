package table

import "lockstep/internal/fixedpoint"

// Mode selects how a SpatialIndex partitions the world.
type Mode int

const (
	// ModeSingleGrid covers a fixed, bounded world with one grid_size x
	// grid_size array of cells. Positions outside the covered area clamp to
	// the nearest border cell.
	ModeSingleGrid Mode = iota
	// ModeChunked tiles an origin-centred infinite plane into chunks of
	// side chunk_size, each holding its own grid_size x grid_size grid.
	// Chunks are created lazily on first insert and never removed, so a
	// long-lived world with bounded activity stays bounded in memory.
	ModeChunked
)

type chunkKey struct{ cx, cy int32 }

type cellGrid struct {
	gridSize int
	cells    [][]int32 // row-major, gridSize*gridSize entries
}

func newCellGrid(gridSize int) *cellGrid {
	g := &cellGrid{gridSize: gridSize, cells: make([][]int32, gridSize*gridSize)}
	for i := range g.cells {
		g.cells[i] = make([]int32, 0, 8)
	}
	return g
}

func (g *cellGrid) clear() {
	for i := range g.cells {
		g.cells[i] = g.cells[i][:0]
	}
}

// SpatialIndex is derived state rebuilt once per frame from a table's row
// positions. It is never itself snapshotted.
type SpatialIndex struct {
	mode      Mode
	cellSize  fixedpoint.Fixed
	gridSize  int
	chunkSize fixedpoint.Fixed // ModeChunked only

	single  *cellGrid
	chunked map[chunkKey]*cellGrid
}

// NewSingleGridIndex builds a bounded grid_size x grid_size index,
// origin-centred, where each cell spans cellSize world units per side.
func NewSingleGridIndex(gridSize int, cellSize fixedpoint.Fixed) *SpatialIndex {
	return &SpatialIndex{
		mode:     ModeSingleGrid,
		cellSize: cellSize,
		gridSize: gridSize,
		single:   newCellGrid(gridSize),
	}
}

// NewChunkedIndex builds an unbounded index over chunks of side chunkSize,
// each internally partitioned into gridSize x gridSize cells of cellSize.
// chunkSize must equal gridSize*cellSize.
func NewChunkedIndex(gridSize int, cellSize, chunkSize fixedpoint.Fixed) *SpatialIndex {
	return &SpatialIndex{
		mode:      ModeChunked,
		cellSize:  cellSize,
		gridSize:  gridSize,
		chunkSize: chunkSize,
		chunked:   make(map[chunkKey]*cellGrid),
	}
}

func (s *SpatialIndex) singleCellIndex(pos fixedpoint.Fixed2) int {
	half := int32(s.gridSize / 2)
	col := cellCoord(pos.X, s.cellSize) + half
	row := cellCoord(pos.Y, s.cellSize) + half
	if col < 0 {
		col = 0
	}
	if col >= int32(s.gridSize) {
		col = int32(s.gridSize) - 1
	}
	if row < 0 {
		row = 0
	}
	if row >= int32(s.gridSize) {
		row = int32(s.gridSize) - 1
	}
	return int(row)*s.gridSize + int(col)
}

func (s *SpatialIndex) chunkFor(pos fixedpoint.Fixed2) (chunkKey, int) {
	cx := cellCoord(pos.X, s.chunkSize)
	cy := cellCoord(pos.Y, s.chunkSize)
	localX := fixedpoint.Sub(pos.X, fixedpoint.Mul(fixedpoint.FromInt(int64(cx)), s.chunkSize))
	localY := fixedpoint.Sub(pos.Y, fixedpoint.Mul(fixedpoint.FromInt(int64(cy)), s.chunkSize))
	col := int(cellCoord(localX, s.cellSize))
	row := int(cellCoord(localY, s.cellSize))
	if col >= s.gridSize {
		col = s.gridSize - 1
	}
	if row >= s.gridSize {
		row = s.gridSize - 1
	}
	return chunkKey{cx: cx, cy: cy}, row*s.gridSize + col
}

// Rebuild clears the index and re-buckets rows 0..count-1 by position,
// read via at. Row indices are appended in ascending order within each
// cell because rows are visited in ascending order.
func (s *SpatialIndex) Rebuild(count int, at func(row int) fixedpoint.Fixed2) {
	switch s.mode {
	case ModeSingleGrid:
		s.single.clear()
		for r := 0; r < count; r++ {
			idx := s.singleCellIndex(at(r))
			s.single.cells[idx] = append(s.single.cells[idx], int32(r))
		}
	case ModeChunked:
		for _, g := range s.chunked {
			g.clear()
		}
		for r := 0; r < count; r++ {
			key, idx := s.chunkFor(at(r))
			g := s.chunked[key]
			if g == nil {
				g = newCellGrid(s.gridSize)
				s.chunked[key] = g
			}
			g.cells[idx] = append(g.cells[idx], int32(r))
		}
	}
}

// QueryRadius appends, in ascending cell-index then ascending row-index
// order, every row whose position (read via at) lies within radius of
// centre. Writes stop once out is full; the returned truncated flag
// reports whether more matches existed than out could hold.
func (s *SpatialIndex) QueryRadius(centre fixedpoint.Fixed2, radius fixedpoint.Fixed, at func(row int) fixedpoint.Fixed2, out []int32) (n int, truncated bool, err error) {
	if len(out) == 0 {
		return 0, false, ErrOutOfBounds
	}
	min := fixedpoint.Fixed2{X: fixedpoint.Sub(centre.X, radius), Y: fixedpoint.Sub(centre.Y, radius)}
	max := fixedpoint.Fixed2{X: fixedpoint.Add(centre.X, radius), Y: fixedpoint.Add(centre.Y, radius)}
	radiusSq := fixedpoint.Mul(radius, radius)

	test := func(row int32) bool {
		return at(int(row)).DistanceSquared(centre) <= radiusSq
	}
	return s.walkAABB(min, max, test, out)
}

// QueryAABB appends rows whose position lies within [min, max], in the
// same deterministic order as QueryRadius.
func (s *SpatialIndex) QueryAABB(min, max fixedpoint.Fixed2, at func(row int) fixedpoint.Fixed2, out []int32) (n int, truncated bool, err error) {
	if len(out) == 0 {
		return 0, false, ErrOutOfBounds
	}
	test := func(row int32) bool {
		p := at(int(row))
		return p.X >= min.X && p.X <= max.X && p.Y >= min.Y && p.Y <= max.Y
	}
	return s.walkAABB(min, max, test, out)
}

func (s *SpatialIndex) walkAABB(min, max fixedpoint.Fixed2, test func(row int32) bool, out []int32) (n int, truncated bool, err error) {
	switch s.mode {
	case ModeSingleGrid:
		return s.walkSingle(min, max, test, out)
	case ModeChunked:
		return s.walkChunked(min, max, test, out)
	}
	return 0, false, ErrNoSpatialIndex
}

func (s *SpatialIndex) walkSingle(min, max fixedpoint.Fixed2, test func(row int32) bool, out []int32) (n int, truncated bool, err error) {
	half := int32(s.gridSize / 2)
	minCol := clampCell(cellCoord(min.X, s.cellSize)+half, s.gridSize)
	maxCol := clampCell(cellCoord(max.X, s.cellSize)+half, s.gridSize)
	minRow := clampCell(cellCoord(min.Y, s.cellSize)+half, s.gridSize)
	maxRow := clampCell(cellCoord(max.Y, s.cellSize)+half, s.gridSize)

	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; col++ {
			idx := int(row)*s.gridSize + int(col)
			for _, r := range s.single.cells[idx] {
				if !test(r) {
					continue
				}
				if n >= len(out) {
					return n, true, nil
				}
				out[n] = r
				n++
			}
		}
	}
	return n, false, nil
}

func (s *SpatialIndex) walkChunked(min, max fixedpoint.Fixed2, test func(row int32) bool, out []int32) (n int, truncated bool, err error) {
	minCX := cellCoord(min.X, s.chunkSize)
	maxCX := cellCoord(max.X, s.chunkSize)
	minCY := cellCoord(min.Y, s.chunkSize)
	maxCY := cellCoord(max.Y, s.chunkSize)

	for cy := minCY; cy <= maxCY; cy++ {
		for cx := minCX; cx <= maxCX; cx++ {
			g := s.chunked[chunkKey{cx: cx, cy: cy}]
			if g == nil {
				continue
			}
			for idx := 0; idx < len(g.cells); idx++ {
				for _, r := range g.cells[idx] {
					if !test(r) {
						continue
					}
					if n >= len(out) {
						return n, true, nil
					}
					out[n] = r
					n++
				}
			}
		}
	}
	return n, false, nil
}

func clampCell(v int32, gridSize int) int32 {
	if v < 0 {
		return 0
	}
	if v >= int32(gridSize) {
		return int32(gridSize) - 1
	}
	return v
}
