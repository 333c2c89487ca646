package board

// MoveResult is the outcome of applying one direction to a grid.
// Changed is true iff Grid differs from the input grid.
type MoveResult struct {
	Grid    Grid
	Changed bool
	// Merges counts tile pairs combined by the move.
	Merges int
	// Gained is the sum of the tile values produced by merges.
	Gained int
}

// Apply moves every tile of g toward d. It is pure: g is not modified.
//
// Every direction is computed with the same leftward compact-and-merge
// primitive on a view of the grid; the view transform is its own inverse.
func Apply(g Grid, d Direction) MoveResult {
	view := toView(g, d)
	res := MoveResult{}
	for r := 0; r < Size; r++ {
		row, merges, gained := compactMergeLeft(view[r])
		view[r] = row
		res.Merges += merges
		res.Gained += gained
	}
	res.Grid = fromView(view, d)
	res.Changed = res.Grid != g
	return res
}

// CanMove reports whether any direction changes g.
func CanMove(g Grid) bool {
	for _, d := range AllDirections {
		if Apply(g, d).Changed {
			return true
		}
	}
	return false
}

// LegalMoves lists the directions that change g, in ordinal order.
func LegalMoves(g Grid) []Direction {
	out := make([]Direction, 0, NumDirections)
	for _, d := range AllDirections {
		if Apply(g, d).Changed {
			out = append(out, d)
		}
	}
	return out
}

// compactMergeLeft slides the non-zero tiles of row to the left and merges
// equal neighbours once. A merged tile is never compared again in the same
// pass, so [2 2 2 2] becomes [4 4 0 0].
func compactMergeLeft(row [Size]int) ([Size]int, int, int) {
	row = compact(row)
	merges, gained := 0, 0
	for i := 0; i < Size-1; i++ {
		if row[i] == 0 || row[i] != row[i+1] {
			continue
		}
		row[i] *= 2
		row[i+1] = 0
		merges++
		gained += row[i]
		i++
	}
	return compact(row), merges, gained
}

func compact(row [Size]int) [Size]int {
	var out [Size]int
	n := 0
	for _, v := range row {
		if v != 0 {
			out[n] = v
			n++
		}
	}
	return out
}

func toView(g Grid, d Direction) Grid {
	switch d {
	case Right:
		return mirror(g)
	case Up:
		return transpose(g)
	case Down:
		return mirror(transpose(g))
	}
	return g
}

func fromView(v Grid, d Direction) Grid {
	switch d {
	case Right:
		return mirror(v)
	case Up:
		return transpose(v)
	case Down:
		return transpose(mirror(v))
	}
	return v
}

func mirror(g Grid) Grid {
	var out Grid
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			out[r][Size-1-c] = g[r][c]
		}
	}
	return out
}

func transpose(g Grid) Grid {
	var out Grid
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			out[c][r] = g[r][c]
		}
	}
	return out
}
