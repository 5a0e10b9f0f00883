package tcs34725

import "math"

/*
 * DN40 calculations.
 *
 * Analog/Digital saturation:
 *  - As light gets brighter the clear channel saturates first, since R+G+B is
 *    roughly C. Once C saturates the IR estimate breaks down.
 *  - The device accumulates 1024 counts per 2.4ms step up to 65535, so analog
 *    saturation dominates up to 64 steps (153.6ms) and digital saturation
 *    dominates beyond that.
 *
 * Ripple:
 *  - With ripple in the received light C can read below the ceiling while
 *    still being saturated. Below 150ms the usable ceiling is 75% of the raw one.
 */

// SaturationCeiling returns the clear channel count at which the sample
// saturates for an ATIME register value.
func SaturationCeiling(atime byte) uint16 {
	steps := IntegrationSteps(atime)
	if steps > 63 {
		return TCS34725_MAX_COUNT
	}
	return uint16(TCS34725_COUNTS_PER_STEP * steps)
}

// RippleAdjustedCeiling shrinks the ceiling to 75% for short integration times.
func RippleAdjustedCeiling(ceiling uint16, integrationTimeMs float64) uint16 {
	if integrationTimeMs < 150 {
		return ceiling - ceiling/4
	}
	return ceiling
}

// InfraredEstimate is the IR content of a sample, 0 in low light where
// R+G+B does not exceed C.
func InfraredEstimate(ch Channels) int32 {
	sum := int32(ch.R) + int32(ch.G) + int32(ch.B)
	if sum > int32(ch.C) {
		return (sum + int32(ch.C)) >> 1
	}
	return 0
}

// CountsPerLux for a gain multiplier and integration time.
func CountsPerLux(integrationTimeMs, gainMultiplier, glassAttenuation float64) float64 {
	return (integrationTimeMs * gainMultiplier) / (glassAttenuation * TCS34725_DF)
}

// MaxLux is the highest illuminance measurable at a counts-per-lux value.
func MaxLux(countsPerLux float64) uint16 {
	max := float64(TCS34725_MAX_COUNT) / (countsPerLux * 3)
	if max > float64(math.MaxUint16) || math.IsNaN(max) {
		return math.MaxUint16
	}
	return uint16(max)
}

// Lux from IR compensated channels. Not clamped: it can be negative at very
// low light, in which case the sample should be discarded.
func Lux(r, g, b int32, countsPerLux float64) float64 {
	return (TCS34725_R_COEF*float64(r) + TCS34725_G_COEF*float64(g) + TCS34725_B_COEF*float64(b)) / countsPerLux
}

// ColorTemperature in Kelvin from the blue/red ratio of IR compensated channels.
func ColorTemperature(r, b int32) float64 {
	return (TCS34725_CT_COEF*float64(b))/float64(r) + TCS34725_CT_OFFSET
}

// ClearChannelRatio is IR / C.
func ClearChannelRatio(ir int32, c uint16) float64 {
	return float64(ir) / float64(c)
}
