package ltr390

import (
	"strconv"
	"time"
)

const (
	DefaultAddress uint16 = 0x53 ///< Default I2C address
	PartID         byte   = 0xB2 ///< Expected PART_ID register value

	CommandALS byte = 0x02 ///< MAIN_CTRL: ALS enabled, ALS mode
	CommandUVS byte = 0x0A ///< MAIN_CTRL: ALS enabled, UVS mode

	UVISensitivity float64 = 2300 ///< Counts per UVI at gain 18x and 20 bit resolution
)

// LTR390 Register map
const (
	RegMainCtrl   byte = 0x00 // Main control register
	RegMeasRate   byte = 0x04 // Resolution and data rate
	RegGain       byte = 0x05 // ALS and UVS gain range
	RegPartID     byte = 0x06 // Part id/revision register
	RegMainStatus byte = 0x07 // Main status register
	RegALSData    byte = 0x0D // ALS data lowest byte
	RegUVSData    byte = 0x10 // UVS data lowest byte
	RegIntCfg     byte = 0x19 // Interrupt configuration
	RegIntPst     byte = 0x1A // Interrupt persistence config
	RegThreshUp   byte = 0x21 // Upper threshold, low byte
	RegThreshLow  byte = 0x24 // Lower threshold, low byte
)

// Mode is the channel the sensor is currently converting.
type Mode uint8

const (
	ModeALS Mode = iota // ambient light
	ModeUVS             // ultraviolet
)

// Gain is the register value of the analog gain range.
type Gain uint8

const (
	Gain1 Gain = iota
	Gain3
	Gain6
	Gain9
	Gain18
)

// Resolution is the register value of the ADC resolution. It occupies bits 6:4 of MEAS_RATE.
type Resolution uint8

const (
	Resolution20Bit Resolution = iota
	Resolution19Bit
	Resolution18Bit
	Resolution17Bit
	Resolution16Bit
	Resolution13Bit
)

// MeasurementRate is the register value of the repeat rate. It occupies bits 2:0 of MEAS_RATE.
type MeasurementRate uint8

const (
	Rate25ms MeasurementRate = iota
	Rate50ms
	Rate100ms
	Rate200ms
	Rate500ms
	Rate1000ms
	Rate2000ms
)

// Gains lists every gain, lowest first.
var Gains = []Gain{Gain1, Gain3, Gain6, Gain9, Gain18}

// Resolutions lists every resolution, highest first.
var Resolutions = []Resolution{Resolution20Bit, Resolution19Bit, Resolution18Bit, Resolution17Bit, Resolution16Bit, Resolution13Bit}

// Rates lists every measurement rate, fastest first.
var Rates = []MeasurementRate{Rate25ms, Rate50ms, Rate100ms, Rate200ms, Rate500ms, Rate1000ms, Rate2000ms}

func (m Mode) command() byte {
	switch m {
	case ModeALS:
		return CommandALS
	case ModeUVS:
		return CommandUVS
	}
	panic("ltr390: unknown mode")
}

func (m Mode) other() Mode {
	if m == ModeALS {
		return ModeUVS
	}
	return ModeALS
}

func (m Mode) String() string {
	switch m {
	case ModeALS:
		return "ALS"
	case ModeUVS:
		return "UVS"
	default:
		return "Unknown"
	}
}

// Factor returns the gain multiplier used in the lux and UVI formulas.
func (g Gain) Factor() float64 {
	switch g {
	case Gain1:
		return 1
	case Gain3:
		return 3
	case Gain6:
		return 6
	case Gain9:
		return 9
	case Gain18:
		return 18
	}
	panic("ltr390: unknown gain")
}

func (g Gain) String() string {
	switch g {
	case Gain1:
		return "1x"
	case Gain3:
		return "3x"
	case Gain6:
		return "6x"
	case Gain9:
		return "9x"
	case Gain18:
		return "18x"
	default:
		return "Unknown"
	}
}

// Bits returns the ADC bit depth.
func (r Resolution) Bits() int {
	switch r {
	case Resolution20Bit:
		return 20
	case Resolution19Bit:
		return 19
	case Resolution18Bit:
		return 18
	case Resolution17Bit:
		return 17
	case Resolution16Bit:
		return 16
	case Resolution13Bit:
		return 13
	}
	panic("ltr390: unknown resolution")
}

// IntegrationTime returns the integration time multiplier for the lux formula.
// 13 bit resolution has no entry in the datasheet table and yields 0.
func (r Resolution) IntegrationTime() float64 {
	switch r {
	case Resolution20Bit:
		return 4.0
	case Resolution19Bit:
		return 2.0
	case Resolution18Bit:
		return 1.0
	case Resolution17Bit:
		return 0.5
	case Resolution16Bit:
		return 0.25
	case Resolution13Bit:
		return 0
	}
	panic("ltr390: unknown resolution")
}

// ConversionTime returns how long one conversion takes at this resolution.
func (r Resolution) ConversionTime() time.Duration {
	switch r {
	case Resolution20Bit:
		return 400 * time.Millisecond
	case Resolution19Bit:
		return 200 * time.Millisecond
	case Resolution18Bit:
		return 100 * time.Millisecond
	case Resolution17Bit:
		return 50 * time.Millisecond
	case Resolution16Bit:
		return 25 * time.Millisecond
	case Resolution13Bit:
		return 12500 * time.Microsecond
	}
	panic("ltr390: unknown resolution")
}

func (r Resolution) String() string {
	switch r {
	case Resolution20Bit, Resolution19Bit, Resolution18Bit, Resolution17Bit, Resolution16Bit, Resolution13Bit:
		return strconv.Itoa(r.Bits()) + "bit"
	default:
		return "Unknown"
	}
}

// Duration returns the time between two conversions.
func (m MeasurementRate) Duration() time.Duration {
	switch m {
	case Rate25ms:
		return 25 * time.Millisecond
	case Rate50ms:
		return 50 * time.Millisecond
	case Rate100ms:
		return 100 * time.Millisecond
	case Rate200ms:
		return 200 * time.Millisecond
	case Rate500ms:
		return 500 * time.Millisecond
	case Rate1000ms:
		return 1000 * time.Millisecond
	case Rate2000ms:
		return 2000 * time.Millisecond
	}
	panic("ltr390: unknown measurement rate")
}

func (m MeasurementRate) String() string {
	if m > Rate2000ms {
		return "Unknown"
	}
	return m.Duration().String()
}

// measRate packs resolution and rate into the MEAS_RATE register layout.
func measRate(r Resolution, m MeasurementRate) byte {
	return byte(r)<<4 | byte(m)
}
