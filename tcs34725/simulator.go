package tcs34725

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Simulator is a Bus that synthesizes RGBC counts for a scene, so the meter
// can run without a sensor attached.
type Simulator struct {
	Present bool
	// Fractions of the clear channel seen by the red, green and blue
	// photodiodes. Keep the sum at or under 1 for a scene without IR.
	RedFraction   float64
	GreenFraction float64
	BlueFraction  float64
	// Infrared leaking into each color photodiode, as a fraction of the
	// clear channel. Once R+G+B exceeds C the IR estimate turns positive.
	Infrared float64
	// Relative noise applied to each read, 0 for deterministic output
	Jitter float64
	// Sleep for the integration time on blocking reads
	RealTime bool

	lux   float64
	gain  byte
	atime byte
	*sync.Mutex
}

func NewSimulator(lux float64) *Simulator {
	return &Simulator{
		Present:       true,
		RedFraction:   0.30,
		GreenFraction: 0.35,
		BlueFraction:  0.30,
		lux:           lux,
		gain:          TCS34725_GAIN_4X,
		atime:         TCS34725_INTEGRATIONTIME_154MS,
		Mutex:         &sync.Mutex{},
	}
}

func (sim *Simulator) Probe() bool {
	return sim.Present
}

func (sim *Simulator) Configure(gain byte, atime byte) error {
	sim.Lock()
	defer sim.Unlock()
	sim.gain = gain
	sim.atime = atime
	return nil
}

func (sim *Simulator) ReadChannels(blocking bool) (Channels, error) {
	sim.Lock()
	atime := sim.atime
	counts := sim.lux * CountsPerLux(IntegrationTimeMs(sim.atime), GainMultiplier(sim.gain), TCS34725_GA) / sim.response()
	if sim.Jitter > 0 {
		counts *= 1 + sim.Jitter*(2*rand.Float64()-1)
	}
	ch := Channels{
		R: sim.clip(counts * (sim.RedFraction + sim.Infrared)),
		G: sim.clip(counts * (sim.GreenFraction + sim.Infrared)),
		B: sim.clip(counts * (sim.BlueFraction + sim.Infrared)),
		C: sim.clip(counts),
	}
	sim.Unlock()

	if blocking && sim.RealTime {
		time.Sleep(time.Duration(IntegrationTimeMs(atime) * float64(time.Millisecond)))
	}
	return ch, nil
}

// Ready always reports a completed integration cycle
func (sim *Simulator) Ready() (bool, error) {
	return true, nil
}

// SetLux changes the illuminance of the simulated scene
func (sim *Simulator) SetLux(lux float64) {
	sim.Lock()
	defer sim.Unlock()
	sim.lux = lux
}

// DN40 lux per clear count for the configured color balance. Clear counts
// are divided by it so an unsaturated read recovers the scene illuminance.
func (sim *Simulator) response() float64 {
	k := TCS34725_R_COEF*sim.RedFraction + TCS34725_G_COEF*sim.GreenFraction + TCS34725_B_COEF*sim.BlueFraction
	if k <= 0 {
		return 1
	}
	return k
}

// Clip to whichever of the analog or digital ceilings applies
func (sim *Simulator) clip(counts float64) uint16 {
	steps := IntegrationSteps(sim.atime)
	ceiling := math.Min(float64(TCS34725_COUNTS_PER_STEP*steps), float64(TCS34725_MAX_COUNT))
	if counts <= 0 {
		return 0
	}
	if counts >= ceiling {
		return uint16(ceiling)
	}
	return uint16(counts)
}
