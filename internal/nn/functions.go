package nn

import (
	"fmt"
	"math"
)

// Saturate clamps value to the symmetric range [-limit, limit]. NaN maps to 0
// so a diverging network cannot poison the caller's state.
func Saturate(value, limit float32) float32 {
	if limit < 0 {
		limit = -limit
	}
	switch {
	case value != value:
		return 0
	case value > limit:
		return limit
	case value < -limit:
		return -limit
	default:
		return value
	}
}

func Finite(value float32) bool {
	v := float64(value)
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Mean returns the arithmetic mean of values.
func Mean(values []float32) (float32, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("values must not be empty")
	}
	var sum float64
	for _, value := range values {
		sum += float64(value)
	}
	return float32(sum / float64(len(values))), nil
}

// Std returns the population standard deviation.
func Std(values []float32) (float32, error) {
	mean, err := Mean(values)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, value := range values {
		diff := float64(value - mean)
		sum += diff * diff
	}
	return float32(math.Sqrt(sum / float64(len(values)))), nil
}
