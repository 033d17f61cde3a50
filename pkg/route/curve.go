package route

import (
	"github.com/golang/geo/r3"
)

// auto smooth tangents reach a third of the way to the neighbouring knot
const autoSmoothTension = 1.0 / 3.0

// steps per segment when measuring arc length
const lengthSamples = 16

// Knot is one curve point in the local frame. TangentIn points backwards along the curve.
type Knot struct {
	Position   r3.Vector `json:"position"`
	TangentIn  r3.Vector `json:"tangent_in"`
	TangentOut r3.Vector `json:"tangent_out"`
}

// RouteCurve is a piecewise cubic bezier through its knots.
type RouteCurve struct {
	Knots []Knot      `json:"knots"`
	Mode  TangentMode `json:"tangent_mode"`
}

func newRouteCurve() *RouteCurve {
	return &RouteCurve{Knots: make([]Knot, 0)}
}

func (c *RouteCurve) add(p r3.Vector) {
	c.Knots = append(c.Knots, Knot{Position: p})
}

func (c *RouteCurve) Len() int {
	return len(c.Knots)
}

func (c *RouteCurve) Positions() []r3.Vector {
	ps := make([]r3.Vector, len(c.Knots))
	for i, k := range c.Knots {
		ps[i] = k.Position
	}
	return ps
}

// Smooth sets the tangents of every knot for mode. It runs once, after the last commit.
func (c *RouteCurve) Smooth(mode TangentMode) {
	c.Mode = mode
	n := len(c.Knots)
	for i := range c.Knots {
		k := &c.Knots[i]
		if mode == TangentLinear || n < 2 {
			k.TangentIn, k.TangentOut = r3.Vector{}, r3.Vector{}
			continue
		}

		cur := k.Position
		prev, next := cur, cur
		if i > 0 {
			prev = c.Knots[i-1].Position
		}
		if i < n-1 {
			next = c.Knots[i+1].Position
		}

		dir := next.Sub(prev)
		if dir.Norm() == 0 {
			k.TangentIn, k.TangentOut = r3.Vector{}, r3.Vector{}
			continue
		}
		dir = dir.Normalize()
		k.TangentOut = dir.Mul(next.Sub(cur).Norm() * autoSmoothTension)
		k.TangentIn = dir.Mul(-cur.Sub(prev).Norm() * autoSmoothTension)
	}
}

func (c *RouteCurve) segmentPoint(i int, t float64) r3.Vector {
	a, b := c.Knots[i], c.Knots[i+1]
	p0 := a.Position
	p1 := a.Position.Add(a.TangentOut)
	p2 := b.Position.Add(b.TangentIn)
	p3 := b.Position

	u := 1 - t
	return p0.Mul(u * u * u).
		Add(p1.Mul(3 * u * u * t)).
		Add(p2.Mul(3 * u * t * t)).
		Add(p3.Mul(t * t * t))
}

// segmentLengths returns the cumulative arc length at each of the lengthSamples steps of segment i.
func (c *RouteCurve) segmentLengths(i int) []float64 {
	acc := make([]float64, lengthSamples+1)
	prev := c.Knots[i].Position
	for s := 1; s <= lengthSamples; s++ {
		p := c.segmentPoint(i, float64(s)/lengthSamples)
		acc[s] = acc[s-1] + p.Sub(prev).Norm()
		prev = p
	}
	return acc
}

func (c *RouteCurve) Length() float64 {
	total := 0.0
	for i := 0; i < len(c.Knots)-1; i++ {
		acc := c.segmentLengths(i)
		total += acc[lengthSamples]
	}
	return total
}

// PositionAt returns the point at distance meters along the curve, clamped to its ends.
func (c *RouteCurve) PositionAt(distance float64) r3.Vector {
	switch len(c.Knots) {
	case 0:
		return r3.Vector{}
	case 1:
		return c.Knots[0].Position
	}
	if distance <= 0 {
		return c.Knots[0].Position
	}

	for i := 0; i < len(c.Knots)-1; i++ {
		acc := c.segmentLengths(i)
		segLen := acc[lengthSamples]
		if distance > segLen {
			distance -= segLen
			continue
		}
		for s := 1; s <= lengthSamples; s++ {
			if distance > acc[s] {
				continue
			}
			step := acc[s] - acc[s-1]
			frac := 0.0
			if step > 0 {
				frac = (distance - acc[s-1]) / step
			}
			t := (float64(s-1) + frac) / lengthSamples
			return c.segmentPoint(i, t)
		}
	}
	return c.Knots[len(c.Knots)-1].Position
}
