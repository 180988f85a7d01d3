package scape

import (
	"math"

	"evolution/internal/nn"
)

type vec2 struct{ X, Y float64 }

func (v vec2) add(o vec2) vec2 { return vec2{v.X + o.X, v.Y + o.Y} }
func (v vec2) sub(o vec2) vec2 { return vec2{v.X - o.X, v.Y - o.Y} }
func (v vec2) scale(f float64) vec2 { return vec2{v.X * f, v.Y * f} }
func (v vec2) length() float64 { return math.Hypot(v.X, v.Y) }
func (v vec2) inputs() (float32, float32) { return float32(v.X), float32(v.Y) }

// body is a point mass in a damped 2-D world.
type body struct {
	pos vec2
	vel vec2
}

// physics holds the integration constants shared by the kinematic scapes.
type physics struct {
	dt       float64
	damping  float64
	maxForce float64
	radius   float64
}

func (p physics) step(b *body, force vec2) {
	if l := force.length(); l > p.maxForce {
		force = force.scale(p.maxForce / l)
	}
	b.vel = b.vel.scale(p.damping).add(force.scale(p.dt))
	b.pos = b.pos.add(b.vel.scale(p.dt))
}

func (p physics) touching(a, b body) bool {
	return a.pos.sub(b.pos).length() <= p.radius
}

// forceFromOutputs reads a force vector from the first two outputs,
// saturated to [-1, 1] and scaled by maxForce. NaN reads as 0.
func (p physics) forceFromOutputs(out []float32) vec2 {
	if len(out) < 2 {
		return vec2{}
	}
	return vec2{
		X: float64(nn.Saturate(out[0], 1)) * p.maxForce,
		Y: float64(nn.Saturate(out[1], 1)) * p.maxForce,
	}
}
