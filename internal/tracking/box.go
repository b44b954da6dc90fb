package tracking

import "fmt"

// IoUEpsilon keeps IoU finite for degenerate boxes.
const IoUEpsilon = 1e-6

// Box is an axis-aligned rectangle in integer pixel coordinates.
// A well-formed box has X2 > X1 and Y2 > Y1.
type Box struct {
	X1, Y1, X2, Y2 int32
}

// Valid reports whether the box has positive area.
func (b Box) Valid() bool {
	return b.X2 > b.X1 && b.Y2 > b.Y1
}

// Area returns the box area, or 0 for degenerate boxes.
func (b Box) Area() float64 {
	if !b.Valid() {
		return 0
	}
	return float64(b.X2-b.X1) * float64(b.Y2-b.Y1)
}

func (b Box) String() string {
	return fmt.Sprintf("(%d,%d,%d,%d)", b.X1, b.Y1, b.X2, b.Y2)
}

// IoU returns the intersection-over-union of two boxes:
// |A∩B| / (|A|+|B|−|A∩B|+ε).
func IoU(a, b Box) float64 {
	ix1 := max(a.X1, b.X1)
	iy1 := max(a.Y1, b.Y1)
	ix2 := min(a.X2, b.X2)
	iy2 := min(a.Y2, b.Y2)

	iw := max(0, float64(ix2)-float64(ix1))
	ih := max(0, float64(iy2)-float64(iy1))
	inter := iw * ih

	union := a.Area() + b.Area() - inter + IoUEpsilon
	return inter / union
}
