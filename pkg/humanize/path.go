package humanize

import "math"

// Point is a viewport coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dist returns the euclidean distance to q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(q.X-p.X, q.Y-p.Y)
}

// Bezier evaluates the cubic Bézier curve p0..p3 at t in [0,1].
func Bezier(p0, p1, p2, p3 Point, t float64) Point {
	u := 1 - t
	a := u * u * u
	b := 3 * u * u * t
	c := 3 * u * t * t
	d := t * t * t
	return Point{
		X: a*p0.X + b*p1.X + c*p2.X + d*p3.X,
		Y: a*p0.Y + b*p1.Y + c*p2.Y + d*p3.Y,
	}
}

// BezierPath samples steps points along the curve, excluding p0 and ending
// exactly on p3.
func BezierPath(p0, p1, p2, p3 Point, steps int) []Point {
	if steps < 1 {
		steps = 1
	}
	out := make([]Point, 0, steps)
	for i := 1; i <= steps; i++ {
		out = append(out, Bezier(p0, p1, p2, p3, float64(i)/float64(steps)))
	}
	out[len(out)-1] = p3
	return out
}

// controlPoints bends the straight segment from->to sideways by up to a
// quarter of its length at each control point. r1 and r2 are in [0,1).
func controlPoints(from, to Point, r1, r2 float64) (Point, Point) {
	dx, dy := to.X-from.X, to.Y-from.Y
	dist := math.Hypot(dx, dy)
	if dist == 0 {
		return from, to
	}
	nx, ny := -dy/dist, dx/dist
	off1 := (r1*2 - 1) * dist * 0.25
	off2 := (r2*2 - 1) * dist * 0.25
	p1 := Point{X: from.X + dx*0.3 + nx*off1, Y: from.Y + dy*0.3 + ny*off1}
	p2 := Point{X: from.X + dx*0.7 + nx*off2, Y: from.Y + dy*0.7 + ny*off2}
	return p1, p2
}

// pathSteps picks the number of motion events for a distance.
func pathSteps(dist float64) int {
	n := int(dist / 12)
	if n < 8 {
		return 8
	}
	if n > 40 {
		return 40
	}
	return n
}
