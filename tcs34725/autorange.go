package tcs34725

import (
	"fmt"
	"time"
)

// Channels holds one raw RGBC sample.
type Channels struct {
	R, G, B, C uint16
}

// Bus is the register-level collaborator the autoranging layer drives.
// TCS34725 and Simulator both satisfy it.
type Bus interface {
	// Probe reports whether a sensor responds on the bus
	Probe() bool
	// Configure programs gain and integration time
	Configure(gain byte, atime byte) error
	// ReadChannels returns the latched RGBC counts. When blocking is set it
	// waits out one integration period before reading.
	ReadChannels(blocking bool) (Channels, error)
}

// Reading is a snapshot of the sensor state after a measurement cycle.
type Reading struct {
	Raw              Channels `json:"raw"`
	IR               int32    `json:"ir"`
	RComp            int32    `json:"rComp"`
	GComp            int32    `json:"gComp"`
	BComp            int32    `json:"bComp"`
	CComp            int32    `json:"cComp"`
	Saturation       uint16   `json:"saturation"`
	Saturation75     uint16   `json:"saturation75"`
	Saturated        bool     `json:"saturated"`
	ClearRatio       float64  `json:"clearRatio"`
	ColorTemperature float64  `json:"colorTemperature"`
	Lux              float64  `json:"lux"`
	MaxLux           uint16   `json:"maxLux"`
	Gain             byte     `json:"gain"`
	ATime            byte     `json:"atime"`
}

// AutoRangingSensor keeps the clear channel of a TCS34725 inside a usable
// range by stepping through an ordered table of gain/integration-time
// operating points, and derives DN40 lux and color temperature from the
// accepted samples.
//
// It holds no lock: calls must be serialized by the caller.
type AutoRangingSensor struct {
	bus              Bus
	table            []OperatingPoint
	current          int
	glassAttenuation float64
	sleep            func(time.Duration)

	available bool
	saturated bool

	raw                        Channels
	ir                         int32
	rComp, gComp, bComp, cComp int32
	saturation, saturation75   uint16
	clearRatio                 float64
	colorTemperature           float64
	lux                        float64
	maxLux                     uint16

	// Only change with the operating point
	integrationTimeMs float64
	gainMultiplier    float64
	countsPerLux      float64
}

type Option func(*AutoRangingSensor)

// WithOperatingPoints replaces the operating point table and the index the
// sensor starts from.
func WithOperatingPoints(table []OperatingPoint, start int) Option {
	return func(s *AutoRangingSensor) {
		s.table = table
		s.current = start
	}
}

// WithGlassAttenuation sets the glass attenuation factor, ~1.08 behind clear glass.
func WithGlassAttenuation(ga float64) Option {
	return func(s *AutoRangingSensor) {
		s.glassAttenuation = ga
	}
}

// WithSleep replaces the function used for the settling wait.
func WithSleep(sleep func(time.Duration)) Option {
	return func(s *AutoRangingSensor) {
		s.sleep = sleep
	}
}

func NewAutoRangingSensor(bus Bus, opts ...Option) (*AutoRangingSensor, error) {
	s := &AutoRangingSensor{
		bus:              bus,
		table:            DefaultOperatingPoints,
		current:          DefaultOperatingPointIndex,
		glassAttenuation: TCS34725_GA,
		sleep:            time.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := ValidateOperatingPoints(s.table); err != nil {
		return nil, err
	}
	if s.current < 0 || s.current >= len(s.table) {
		return nil, fmt.Errorf("%w: start index %d out of range", ErrInvalidOperatingPoints, s.current)
	}
	if s.glassAttenuation <= 0 {
		return nil, fmt.Errorf("glass attenuation must be positive, got %v", s.glassAttenuation)
	}
	return s, nil
}

// Initialize probes the device and programs the current operating point.
// It returns whether the sensor is available.
func (s *AutoRangingSensor) Initialize() bool {
	s.available = s.bus.Probe()
	if !s.available {
		l.Warn("TCS34725 not found")
		return false
	}
	if err := s.applyOperatingPoint(s.current); err != nil {
		l.Errorf("Failed to configure TCS34725: %v", err)
		s.available = false
	}
	return s.available
}

// PowerSwitch is implemented by buses that can power the sensor down.
type PowerSwitch interface {
	Disable() error
}

// Suspend powers the sensor down, if the bus supports it. The operating
// point is kept for Resume.
func (s *AutoRangingSensor) Suspend() error {
	if p, ok := s.bus.(PowerSwitch); ok {
		return p.Disable()
	}
	return nil
}

// Resume powers the sensor back up at the current operating point.
func (s *AutoRangingSensor) Resume() error {
	return s.applyOperatingPoint(s.current)
}

// Push gain and integration time for table[index] and refresh the cached
// per-point constants.
func (s *AutoRangingSensor) applyOperatingPoint(index int) error {
	op := s.table[index]
	if err := s.bus.Configure(op.Gain, op.ATime); err != nil {
		return fmt.Errorf("Failed to apply operating point %d: %w", index, err)
	}
	s.current = index
	s.integrationTimeMs = IntegrationTimeMs(op.ATime)
	s.gainMultiplier = GainMultiplier(op.Gain)
	s.countsPerLux = CountsPerLux(s.integrationTimeMs, s.gainMultiplier, s.glassAttenuation)
	l.Debugf("Set - Gain: %v, Integration Time: %v", GainToString(op.Gain), IntegrationTimeToString(op.ATime))
	return nil
}

// Read the sensor and move one operating point if the clear channel left the
// current band. In noDelay mode the caller has been told by an interrupt that
// integration is complete; a transition then means the sample is unusable
// until the next interrupt. In polled mode a transition is followed by a
// settling wait and one more read, which is accepted as is.
func (s *AutoRangingSensor) autorange(noDelay bool) (bool, error) {
	raw, err := s.bus.ReadChannels(!noDelay)
	if err != nil {
		return false, err
	}
	s.raw = raw

	op := s.table[s.current]
	next := s.current
	if op.MaxCount != 0 && raw.C > op.MaxCount {
		next++
	} else if op.MinCount != 0 && raw.C < op.MinCount {
		next--
	} else {
		return true, nil
	}

	l.Debugf("Clear channel %d outside [%d, %d], moving to operating point %d", raw.C, op.MinCount, op.MaxCount, next)
	if err := s.applyOperatingPoint(next); err != nil {
		return false, err
	}
	if noDelay {
		return false, nil
	}

	// Shock absorber
	s.sleep(time.Duration(2 * s.integrationTimeMs * float64(time.Millisecond)))
	raw, err = s.bus.ReadChannels(true)
	if err != nil {
		return false, err
	}
	s.raw = raw
	return true, nil
}

// UpdateMeasurement runs one measurement cycle. It returns true when the
// sample was accepted by autoranging and is not saturated; only then are the
// compensated channels meaningful. A false return with a nil error means the
// cycle must be retried: after the next interrupt in noDelay mode, or on the
// next poll.
func (s *AutoRangingSensor) UpdateMeasurement(noDelay bool) (bool, error) {
	ok, err := s.autorange(noDelay)
	if err != nil || !ok {
		return false, err
	}

	op := s.table[s.current]
	s.saturation = SaturationCeiling(op.ATime)
	s.saturation75 = RippleAdjustedCeiling(s.saturation, s.integrationTimeMs)
	s.saturated = s.integrationTimeMs < 150 && s.raw.C > s.saturation75
	if s.saturated {
		l.Debugf("Saturated - Clear: %d, Limit: %d", s.raw.C, s.saturation75)
		return false, nil
	}

	s.ir = InfraredEstimate(s.raw)
	s.rComp = int32(s.raw.R) - s.ir
	s.gComp = int32(s.raw.G) - s.ir
	s.bComp = int32(s.raw.B) - s.ir
	s.cComp = int32(s.raw.C) - s.ir
	return true, nil
}

// UpdateClearChannelRatio sets IR / C. Undefined when C is 0.
func (s *AutoRangingSensor) UpdateClearChannelRatio() {
	s.clearRatio = ClearChannelRatio(s.ir, s.raw.C)
}

// UpdateLux sets lux and maxLux. Lux can be negative at low light, and can
// exceed maxLux; both mean the sample should be discarded.
func (s *AutoRangingSensor) UpdateLux() {
	s.maxLux = MaxLux(s.countsPerLux)
	s.lux = Lux(s.rComp, s.gComp, s.bComp, s.countsPerLux)
}

// UpdateColorTemperature sets the color temperature. Undefined when the
// compensated red channel is 0.
func (s *AutoRangingSensor) UpdateColorTemperature() {
	s.colorTemperature = ColorTemperature(s.rComp, s.bComp)
}

func (s *AutoRangingSensor) Available() bool {
	return s.available
}

func (s *AutoRangingSensor) Saturated() bool {
	return s.saturated
}

// OperatingPoint returns the current table index and its entry
func (s *AutoRangingSensor) OperatingPoint() (int, OperatingPoint) {
	return s.current, s.table[s.current]
}

func (s *AutoRangingSensor) IntegrationTimeMs() float64 {
	return s.integrationTimeMs
}

func (s *AutoRangingSensor) GainMultiplier() float64 {
	return s.gainMultiplier
}

func (s *AutoRangingSensor) CountsPerLux() float64 {
	return s.countsPerLux
}

func (s *AutoRangingSensor) Reading() Reading {
	op := s.table[s.current]
	return Reading{
		Raw:              s.raw,
		IR:               s.ir,
		RComp:            s.rComp,
		GComp:            s.gComp,
		BComp:            s.bComp,
		CComp:            s.cComp,
		Saturation:       s.saturation,
		Saturation75:     s.saturation75,
		Saturated:        s.saturated,
		ClearRatio:       s.clearRatio,
		ColorTemperature: s.colorTemperature,
		Lux:              s.lux,
		MaxLux:           s.maxLux,
		Gain:             op.Gain,
		ATime:            op.ATime,
	}
}
