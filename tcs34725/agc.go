package tcs34725

import (
	"errors"
	"fmt"
)

var ErrInvalidOperatingPoints = errors.New("invalid operating point table")

// OperatingPoint is one gain/integration-time combination and the clear
// channel band in which it is kept. A zero MinCount or MaxCount means there
// is no bound in that direction.
type OperatingPoint struct {
	Gain     byte
	ATime    byte
	MinCount uint16
	MaxCount uint16
}

// Sensitivity in counts per unit of light, relative to 1x gain over one step
func (op OperatingPoint) Sensitivity() float64 {
	return GainMultiplier(op.Gain) * float64(IntegrationSteps(op.ATime))
}

func (op OperatingPoint) String() string {
	return fmt.Sprintf("%s, %s", GainToString(op.Gain), IntegrationTimeToString(op.ATime))
}

// Gain/time combinations and the min/max limits for hysteresis that avoid
// saturation, ordered from dim to bright. The first MinCount and the last
// MaxCount are 0 to mark the ends of the list.
var DefaultOperatingPoints = []OperatingPoint{
	{TCS34725_GAIN_60X, TCS34725_INTEGRATIONTIME_614MS, 0, 20000},
	{TCS34725_GAIN_60X, TCS34725_INTEGRATIONTIME_154MS, 4990, 63000},
	{TCS34725_GAIN_16X, TCS34725_INTEGRATIONTIME_154MS, 16790, 63000},
	{TCS34725_GAIN_4X, TCS34725_INTEGRATIONTIME_154MS, 15740, 63000},
	{TCS34725_GAIN_1X, TCS34725_INTEGRATIONTIME_154MS, 15740, 0},
}

// 4x gain, 154ms
const DefaultOperatingPointIndex = 3

// ValidateOperatingPoints checks that a table can drive the autoranging loop
// without leaving its bounds or oscillating between neighbours.
func ValidateOperatingPoints(table []OperatingPoint) error {
	n := len(table)
	if n == 0 {
		return fmt.Errorf("%w: table is empty", ErrInvalidOperatingPoints)
	}
	if table[0].MinCount != 0 {
		return fmt.Errorf("%w: dimmest point must have no lower bound", ErrInvalidOperatingPoints)
	}
	if table[n-1].MaxCount != 0 {
		return fmt.Errorf("%w: brightest point must have no upper bound", ErrInvalidOperatingPoints)
	}
	for i, op := range table {
		if i > 0 && op.MinCount == 0 {
			return fmt.Errorf("%w: point %d has no lower bound", ErrInvalidOperatingPoints, i)
		}
		if i < n-1 && op.MaxCount == 0 {
			return fmt.Errorf("%w: point %d has no upper bound", ErrInvalidOperatingPoints, i)
		}
		if op.MinCount != 0 && op.MaxCount != 0 && op.MinCount >= op.MaxCount {
			return fmt.Errorf("%w: point %d band [%d, %d] is empty", ErrInvalidOperatingPoints, i, op.MinCount, op.MaxCount)
		}
		if i == n-1 {
			continue
		}

		next := table[i+1]
		if next.Sensitivity() >= op.Sensitivity() {
			return fmt.Errorf("%w: point %d is not less sensitive than point %d", ErrInvalidOperatingPoints, i+1, i)
		}
		// A reading just over MaxCount, rescaled to the next point, has to
		// land inside that point's band or the loop would step straight back.
		scale := next.Sensitivity() / op.Sensitivity()
		if float64(op.MaxCount)*scale < float64(next.MinCount) {
			return fmt.Errorf("%w: points %d and %d have no hysteresis (%d x %.3f < %d)",
				ErrInvalidOperatingPoints, i, i+1, op.MaxCount, scale, next.MinCount)
		}
	}
	return nil
}
