package board

import (
	"fmt"
	"strings"
)

// Size is the edge length of the board.
const Size = 4

// Cells is the number of cells on the board.
const Cells = Size * Size

// Grid is a 4x4 board of tile values. A cell is 0 when empty, otherwise a
// power of two >= 2. Grid is a value type and compares with ==.
type Grid [Size][Size]int

// Cell addresses one board position.
type Cell struct {
	Row int
	Col int
}

// CellAt maps a row-major linear index in [0, 16) to its cell.
func CellAt(index int) Cell {
	return Cell{Row: index / Size, Col: index % Size}
}

// Index returns the row-major linear index of c.
func (c Cell) Index() int {
	return c.Row*Size + c.Col
}

// FromTiles builds a grid from 16 row-major tile values.
func FromTiles(tiles [Cells]int) Grid {
	var g Grid
	for i, v := range tiles {
		c := CellAt(i)
		g[c.Row][c.Col] = v
	}
	return g
}

// FromRows builds a grid from up to four rows; missing rows and columns stay empty.
func FromRows(rows ...[]int) (Grid, error) {
	var g Grid
	if len(rows) > Size {
		return Grid{}, fmt.Errorf("grid has %d rows, max %d", len(rows), Size)
	}
	for r, row := range rows {
		if len(row) > Size {
			return Grid{}, fmt.Errorf("row %d has %d columns, max %d", r, len(row), Size)
		}
		for c, v := range row {
			if !ValidTile(v) {
				return Grid{}, fmt.Errorf("row %d col %d: invalid tile %d", r, c, v)
			}
			g[r][c] = v
		}
	}
	return g, nil
}

// ValidTile reports whether v is 0 or a power of two >= 2.
func ValidTile(v int) bool {
	if v == 0 {
		return true
	}
	return v >= 2 && v&(v-1) == 0
}

// Tiles flattens g in row-major order.
func (g Grid) Tiles() [Cells]int {
	var out [Cells]int
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			out[r*Size+c] = g[r][c]
		}
	}
	return out
}

// At returns the tile at c.
func (g Grid) At(c Cell) int {
	return g[c.Row][c.Col]
}

// EmptyCells lists empty cells in row-major order.
func (g Grid) EmptyCells() []Cell {
	out := make([]Cell, 0, Cells)
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if g[r][c] == 0 {
				out = append(out, Cell{Row: r, Col: c})
			}
		}
	}
	return out
}

// CountEmpty returns the number of empty cells.
func (g Grid) CountEmpty() int {
	n := 0
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if g[r][c] == 0 {
				n++
			}
		}
	}
	return n
}

func (g Grid) CountTiles() int {
	return Cells - g.CountEmpty()
}

// MaxTile returns the largest tile value on the board.
func (g Grid) MaxTile() int {
	best := 0
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if g[r][c] > best {
				best = g[r][c]
			}
		}
	}
	return best
}

// Sum returns the total of all tile values.
func (g Grid) Sum() int {
	total := 0
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			total += g[r][c]
		}
	}
	return total
}

func (g Grid) String() string {
	var b strings.Builder
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if c > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%d", g[r][c])
		}
		if r < Size-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
