package device

import (
	"math"

	"github.com/calvinmclean/needlegantry"
)

// Geometry converts between millimetres and step counts using each axis's screw lead
type Geometry struct {
	StepsPerRevolution int
	Leads              [3]float64
}

// MillimetersToSteps truncates toward zero. The sign of distance is ignored since
// direction is carried separately.
func (g Geometry) MillimetersToSteps(axis needlegantry.Axis, distance float64) int {
	return int(float64(g.StepsPerRevolution) / g.Leads[axis] * math.Abs(distance))
}

// StepsToMillimeters is the inverse conversion, used for reporting
func (g Geometry) StepsToMillimeters(axis needlegantry.Axis, steps int) float64 {
	return float64(steps) * g.Leads[axis] / float64(g.StepsPerRevolution)
}
