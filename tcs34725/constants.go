package tcs34725

const (
	TCS34725_ADDR        uint16 = 0x29 ///< Default I2C address
	TCS34725_COMMAND_BIT byte   = 0x80 ///< Must be set on every register access

	TCS34725_CMD_AUTO_INCREMENT byte = 0x20 ///< Auto-increment protocol transaction
	TCS34725_CMD_SPECIAL        byte = 0x60 ///< Special function
	TCS34725_CMD_CLEAR_INT      byte = 0x06 ///< Special function: clear channel interrupt

	TCS34725_ENABLE_AIEN byte = 0x10 ///< RGBC Interrupt Enable
	TCS34725_ENABLE_WEN  byte = 0x08 ///< Wait enable - Writing 1 activates the wait timer
	TCS34725_ENABLE_AEN  byte = 0x02 ///< RGBC Enable - Writing 1 actives the ADC, 0 disables it
	TCS34725_ENABLE_PON  byte = 0x01 ///< Power on - Writing 1 activates the internal oscillator, 0 disables it

	TCS34725_STATUS_AINT   byte = 0x10 ///< RGBC Clear channel Interrupt
	TCS34725_STATUS_AVALID byte = 0x01 ///< Indicates that the RGBC channels have completed an integration cycle

	TCS34725_PERS_NONE byte = 0x00 ///< Every RGBC cycle generates an interrupt
	TCS34725_PERS_1    byte = 0x01 ///< 1 clean channel value outside threshold range
	TCS34725_PERS_5    byte = 0x04 ///< 5 consecutive values outside threshold range
	TCS34725_PERS_10   byte = 0x07 ///< 10 consecutive values outside threshold range
)

// Some magic numbers for this device, from the DN40 application note
const (
	TCS34725_R_COEF    float64 = 0.136
	TCS34725_G_COEF    float64 = 1.000
	TCS34725_B_COEF    float64 = -0.444
	TCS34725_DF        float64 = 310.0  ///< Device factor
	TCS34725_CT_COEF   float64 = 3810.0 ///< Color temp coefficient
	TCS34725_CT_OFFSET float64 = 1391.0 ///< Color temp offset
	TCS34725_GA        float64 = 1.0    ///< Glass attenuation factor, ~1.08 behind clear glass

	TCS34725_STEP_MS         float64 = 2.4   ///< Integration time of a single ADC step
	TCS34725_COUNTS_PER_STEP uint32  = 1024  ///< Analog counts accumulated per step
	TCS34725_MAX_COUNT       uint16  = 65535 ///< 16-bit channel register ceiling
)

// TCS34725 Register map
const (
	TCS34725_REGISTER_ENABLE  byte = 0x00 // Interrupt enable, wait enable, RGBC enable, power on
	TCS34725_REGISTER_ATIME   byte = 0x01 // Integration time
	TCS34725_REGISTER_WTIME   byte = 0x03 // Wait time (if TCS34725_ENABLE_WEN is asserted)
	TCS34725_REGISTER_AILTL   byte = 0x04 // Clear channel lower interrupt threshold, low byte
	TCS34725_REGISTER_AILTH   byte = 0x05 // Clear channel lower interrupt threshold, high byte
	TCS34725_REGISTER_AIHTL   byte = 0x06 // Clear channel upper interrupt threshold, low byte
	TCS34725_REGISTER_AIHTH   byte = 0x07 // Clear channel upper interrupt threshold, high byte
	TCS34725_REGISTER_PERS    byte = 0x0C // Interrupt persistence filter
	TCS34725_REGISTER_CONFIG  byte = 0x0D // Long wait
	TCS34725_REGISTER_CONTROL byte = 0x0F // Gain
	TCS34725_REGISTER_ID      byte = 0x12 // 0x44 = TCS34721/TCS34725, 0x4D = TCS34723/TCS34727
	TCS34725_REGISTER_STATUS  byte = 0x13 // Device status
	TCS34725_REGISTER_CDATAL  byte = 0x14 // Clear channel data low byte
	TCS34725_REGISTER_CDATAH  byte = 0x15 // Clear channel data high byte
	TCS34725_REGISTER_RDATAL  byte = 0x16 // Red channel data low byte
	TCS34725_REGISTER_RDATAH  byte = 0x17 // Red channel data high byte
	TCS34725_REGISTER_GDATAL  byte = 0x18 // Green channel data low byte
	TCS34725_REGISTER_GDATAH  byte = 0x19 // Green channel data high byte
	TCS34725_REGISTER_BDATAL  byte = 0x1A // Blue channel data low byte
	TCS34725_REGISTER_BDATAH  byte = 0x1B // Blue channel data high byte
)

// Constants for adjusting the sensor integration timing.
// The register holds 256 - steps, each step is 2.4ms.
const (
	TCS34725_INTEGRATIONTIME_2_4MS byte = 0xFF // 2.4ms - 1 cycle - Max Count: 1024
	TCS34725_INTEGRATIONTIME_24MS  byte = 0xF6 // 24ms - 10 cycles - Max Count: 10240
	TCS34725_INTEGRATIONTIME_50MS  byte = 0xEB // 50.4ms - 21 cycles - Max Count: 21504
	TCS34725_INTEGRATIONTIME_101MS byte = 0xD5 // 100.8ms - 42 cycles - Max Count: 43008
	TCS34725_INTEGRATIONTIME_154MS byte = 0xC0 // 153.6ms - 64 cycles - Max Count: 65535
	TCS34725_INTEGRATIONTIME_240MS byte = 0x9C // 240ms - 100 cycles - Max Count: 65535
	TCS34725_INTEGRATIONTIME_614MS byte = 0x00 // 614.4ms - 256 cycles - Max Count: 65535
)

// Constants for adjusting the sensor gain
const (
	TCS34725_GAIN_1X  byte = 0x00 /// No gain
	TCS34725_GAIN_4X  byte = 0x01 /// 4x gain
	TCS34725_GAIN_16X byte = 0x02 /// 16x gain
	TCS34725_GAIN_60X byte = 0x03 /// 60x gain
)

// Device IDs reported by the ID register for the parts this driver supports
var supportedIDs = map[byte]string{
	0x44: "TCS34721/TCS34725",
	0x4D: "TCS34723/TCS34727",
	0x10: "TCS34725 (clone)",
}

// Number of 2.4ms ADC steps programmed by an ATIME register value
func IntegrationSteps(atime byte) uint32 {
	return 256 - uint32(atime)
}

// Integration time in milliseconds for an ATIME register value
func IntegrationTimeMs(atime byte) float64 {
	return float64(IntegrationSteps(atime)) * TCS34725_STEP_MS
}

// Gain multiplier for a CONTROL register gain code
func GainMultiplier(gain byte) float64 {
	switch gain {
	case TCS34725_GAIN_1X:
		return 1
	case TCS34725_GAIN_4X:
		return 4
	case TCS34725_GAIN_16X:
		return 16
	case TCS34725_GAIN_60X:
		return 60
	default:
		return 1
	}
}

func IntegrationTimeToString(value byte) string {
	switch value {
	case TCS34725_INTEGRATIONTIME_2_4MS:
		return "2.4ms"
	case TCS34725_INTEGRATIONTIME_24MS:
		return "24ms"
	case TCS34725_INTEGRATIONTIME_50MS:
		return "50ms"
	case TCS34725_INTEGRATIONTIME_101MS:
		return "101ms"
	case TCS34725_INTEGRATIONTIME_154MS:
		return "154ms"
	case TCS34725_INTEGRATIONTIME_240MS:
		return "240ms"
	case TCS34725_INTEGRATIONTIME_614MS:
		return "614ms"
	default:
		return "Unknown"
	}
}

func GainToString(value byte) string {
	switch value {
	case TCS34725_GAIN_1X:
		return "No gain (1x)"
	case TCS34725_GAIN_4X:
		return "Low gain (4x)"
	case TCS34725_GAIN_16X:
		return "Medium gain (16x)"
	case TCS34725_GAIN_60X:
		return "High gain (60x)"
	default:
		return "Unknown"
	}
}
