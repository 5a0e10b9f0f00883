package tcs34725

/*
 * tcs34725 - Package for interacting with TCS34725 RGBC color sensors.
 *
 * Ref:
 * https://github.com/adafruit/Adafruit_TCS34725
 * https://ams.com/documents/20143/36005/ColorSensors_AN000166_1-00.pdf (DN40)
 *
 */

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/io/i2c"
	"golang.org/x/exp/io/i2c/driver"
)

var l *logrus.Logger

var (
	ErrNotEnabled     = errors.New("sensor must be enabled")
	ErrDeviceNotFound = errors.New("can't find a TCS34725 on the I2C bus")
)

func init() {
	l = logrus.New()
	// Setup the logger, so it can be parsed by datadog
	l.Formatter = &logrus.JSONFormatter{}
	l.SetOutput(os.Stdout)
	// Set the log level
	logLevel := strings.ToLower(os.Getenv("LOG_LEVEL"))
	switch logLevel {
	case "debug":
		l.SetLevel(logrus.DebugLevel)
	case "info":
		l.SetLevel(logrus.InfoLevel)
	case "error":
		l.SetLevel(logrus.ErrorLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}
}

// TCS34725 is the register-level I2C driver. It satisfies Bus, so it can be
// wrapped by an AutoRangingSensor.
type TCS34725 struct {
	Enabled   bool
	Interrupt bool
	Timing    byte
	Gain      byte
	Device    *i2c.Device
	*sync.Mutex
}

// Open a TCS34725 via I2C protocol. The device is not probed or configured
// until the autoranging layer calls Probe and Configure.
func NewTCS34725(path string) (*TCS34725, error) {
	if path == "" {
		// i2c-1 is the default I2C bus for the Raspberry Pi
		path = "/dev/i2c-1"
	}
	tcs, err := openTCS34725(&i2c.Devfs{Dev: path})
	if err != nil {
		return nil, fmt.Errorf("Failed to open %s: %w", path, err)
	}
	return tcs, nil
}

func openTCS34725(o driver.Opener) (*TCS34725, error) {
	device, err := i2c.Open(o, int(TCS34725_ADDR))
	if err != nil {
		return nil, err
	}
	return &TCS34725{
		Device: device,
		Mutex:  &sync.Mutex{},
		Timing: TCS34725_INTEGRATIONTIME_154MS,
		Gain:   TCS34725_GAIN_4X,
	}, nil
}

// Probe reports whether a supported part answers on the bus
func (tcs *TCS34725) Probe() bool {
	id, err := tcs.readByte(TCS34725_REGISTER_ID)
	if err != nil {
		l.Debugf("Failed to read ID register: %v", err)
		return false
	}
	part, ok := supportedIDs[id]
	if !ok {
		l.Debugf("Unexpected device ID: 0x%02X", id)
		return false
	}
	l.Debugf("Found %s (ID 0x%02X)", part, id)
	return true
}

// Configure powers the sensor on and programs gain and integration time
func (tcs *TCS34725) Configure(gain byte, atime byte) error {
	if err := tcs.Enable(); err != nil {
		return err
	}
	if err := tcs.SetTiming(atime); err != nil {
		return err
	}
	return tcs.SetGain(gain)
}

// Read the four color channels. A blocking read waits out one integration
// period first; a non-blocking read returns whatever is latched.
func (tcs *TCS34725) ReadChannels(blocking bool) (Channels, error) {
	if !tcs.Enabled {
		return Channels{}, ErrNotEnabled
	}
	if blocking {
		time.Sleep(time.Duration(IntegrationTimeMs(tcs.Timing) * float64(time.Millisecond)))
	}

	// CDATAL through BDATAH are contiguous: C, R, G, B, 2 bytes each
	bytes := make([]byte, 8)
	err := tcs.Device.ReadReg(TCS34725_COMMAND_BIT|TCS34725_CMD_AUTO_INCREMENT|TCS34725_REGISTER_CDATAL, bytes)
	if err != nil {
		return Channels{}, fmt.Errorf("Failed to read channels: %w", err)
	}
	l.Debugf("Bytes read: %v", bytes)

	ch := Channels{
		C: binary.LittleEndian.Uint16(bytes[0:]),
		R: binary.LittleEndian.Uint16(bytes[2:]),
		G: binary.LittleEndian.Uint16(bytes[4:]),
		B: binary.LittleEndian.Uint16(bytes[6:]),
	}
	l.Debugf("R: %v, G: %v, B: %v, C: %v", ch.R, ch.G, ch.B, ch.C)
	return ch, nil
}

// Ready reports whether an integration cycle has completed. With the
// interrupt enabled the latched AINT flag is consumed, so each cycle is
// reported once.
func (tcs *TCS34725) Ready() (bool, error) {
	status, err := tcs.readByte(TCS34725_REGISTER_STATUS)
	if err != nil {
		return false, err
	}
	if !tcs.Interrupt {
		return status&TCS34725_STATUS_AVALID != 0, nil
	}
	if status&TCS34725_STATUS_AINT == 0 {
		return false, nil
	}
	return true, tcs.ClearInterrupt()
}

// Enable the sensor
func (tcs *TCS34725) Enable() error {
	tcs.Lock()
	defer tcs.Unlock()

	if tcs.Enabled {
		return nil
	}
	// Keep the interrupt enabled across a power cycle
	var base byte
	if tcs.Interrupt {
		base = TCS34725_ENABLE_AIEN
	}
	if err := tcs.writeByte(TCS34725_REGISTER_ENABLE, base|TCS34725_ENABLE_PON); err != nil {
		return err
	}
	// The oscillator needs 2.4ms to warm up before the ADC can be enabled
	time.Sleep(3 * time.Millisecond)
	if err := tcs.writeByte(TCS34725_REGISTER_ENABLE, base|TCS34725_ENABLE_PON|TCS34725_ENABLE_AEN); err != nil {
		return err
	}
	tcs.Enabled = true
	return nil
}

// Disable the sensor
func (tcs *TCS34725) Disable() error {
	tcs.Lock()
	defer tcs.Unlock()

	if !tcs.Enabled {
		return nil
	}
	reg, err := tcs.readByte(TCS34725_REGISTER_ENABLE)
	if err != nil {
		return err
	}
	if err := tcs.writeByte(TCS34725_REGISTER_ENABLE, reg&^(TCS34725_ENABLE_PON|TCS34725_ENABLE_AEN)); err != nil {
		return err
	}
	tcs.Enabled = false
	return nil
}

// Set the gain for the sensor
func (tcs *TCS34725) SetGain(gain byte) error {
	if !tcs.Enabled {
		return ErrNotEnabled
	}
	if err := tcs.writeByte(TCS34725_REGISTER_CONTROL, gain); err != nil {
		return err
	}
	tcs.Gain = gain
	return nil
}

// Set the integration timing for the sensor
func (tcs *TCS34725) SetTiming(atime byte) error {
	if !tcs.Enabled {
		return ErrNotEnabled
	}
	if err := tcs.writeByte(TCS34725_REGISTER_ATIME, atime); err != nil {
		return err
	}
	tcs.Timing = atime
	return nil
}

// Enable or disable the RGBC interrupt output
func (tcs *TCS34725) SetInterrupt(enable bool) error {
	reg, err := tcs.readByte(TCS34725_REGISTER_ENABLE)
	if err != nil {
		return err
	}
	if enable {
		reg |= TCS34725_ENABLE_AIEN
	} else {
		reg &^= TCS34725_ENABLE_AIEN
	}
	if err := tcs.writeByte(TCS34725_REGISTER_ENABLE, reg); err != nil {
		return err
	}
	tcs.Interrupt = enable
	return nil
}

// Clear a latched RGBC interrupt
func (tcs *TCS34725) ClearInterrupt() error {
	return tcs.Device.Write([]byte{TCS34725_COMMAND_BIT | TCS34725_CMD_SPECIAL | TCS34725_CMD_CLEAR_INT})
}

// Set the clear channel thresholds that raise the interrupt
func (tcs *TCS34725) SetInterruptLimits(low, high uint16) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:], low)
	binary.LittleEndian.PutUint16(buf[2:], high)
	return tcs.Device.WriteReg(TCS34725_COMMAND_BIT|TCS34725_CMD_AUTO_INCREMENT|TCS34725_REGISTER_AILTL, buf)
}

// Set how many out-of-range cycles are needed before the interrupt fires
func (tcs *TCS34725) SetPersistence(pers byte) error {
	return tcs.writeByte(TCS34725_REGISTER_PERS, pers)
}

func (tcs *TCS34725) Close() error {
	return tcs.Device.Close()
}

func (tcs *TCS34725) readByte(reg byte) (byte, error) {
	buf := make([]byte, 1)
	if err := tcs.Device.ReadReg(TCS34725_COMMAND_BIT|reg, buf); err != nil {
		return 0, fmt.Errorf("Failed to read register 0x%02X: %w", reg, err)
	}
	return buf[0], nil
}

func (tcs *TCS34725) writeByte(reg byte, value byte) error {
	if err := tcs.Device.WriteReg(TCS34725_COMMAND_BIT|reg, []byte{value}); err != nil {
		return fmt.Errorf("Failed to write register 0x%02X: %w", reg, err)
	}
	return nil
}
