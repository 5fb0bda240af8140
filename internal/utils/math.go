package utils

import (
	"math"
	"time"
)

// Round rounds a float64 value to 2 decimal places
// Used for durations in results to avoid unnecessary precision
func Round(val float64) float64 {
	// Use proper rounding that works for both positive and negative numbers
	return math.Round(val*100) / 100
}

// Seconds converts a duration to seconds rounded to 2 decimal places
func Seconds(d time.Duration) float64 {
	return Round(d.Seconds())
}
