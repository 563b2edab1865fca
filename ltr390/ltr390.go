package ltr390

/*
 * ltr390 - Package for interacting with LTR390 ambient light / UV sensors.
 *
 * Ref:
 * https://github.com/adafruit/Adafruit_LTR390
 * LTR-390UV-01 datasheet
 *
 */

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var l *logrus.Logger

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

var (
	// ErrIdentityMismatch is returned by Initialize when the PART_ID register
	// does not hold the LTR390 signature (0xB2).
	ErrIdentityMismatch = errors.New("ltr390: part ID does not match (0xB2)")
	// ErrSaturated is returned by SetOptimalGain when a channel is saturated
	// at every gain.
	ErrSaturated = errors.New("ltr390: all gain options are saturated")
)

// LTR390 is a handle on one sensor. The configuration fields mirror what was
// last written to the device and are used by the conversions without reading
// the hardware back. It is not safe for concurrent use.
type LTR390 struct {
	Bus        Bus
	Address    uint16
	Mode       Mode
	Gain       Gain
	Resolution Resolution
	Rate       MeasurementRate

	// Wait is called while a conversion settles during SetOptimalGain.
	// Nil means time.Sleep.
	Wait func(time.Duration)
}

// Reading is one ALS + UVS sample and its conversions.
type Reading struct {
	ALS uint32
	UVS uint32
	Lux float64
	UVI float64
}

// New returns a handle for the sensor at addr. Nothing is sent on the bus
// until Initialize.
func New(bus Bus, addr uint16, mode Mode, resolution Resolution, rate MeasurementRate, gain Gain) *LTR390 {
	if addr == 0 {
		addr = DefaultAddress
	}
	return &LTR390{
		Bus:        bus,
		Address:    addr,
		Mode:       mode,
		Resolution: resolution,
		Rate:       rate,
		Gain:       gain,
	}
}

// Initialize checks the part ID and pushes the stored configuration.
// The mode is written unconditionally so the device does not depend on its
// power-on state matching the handle.
func (d *LTR390) Initialize() error {
	id, err := d.ReadRegister(RegPartID)
	if err != nil {
		return fmt.Errorf("ltr390: could not get part ID: %w", err)
	}
	if id != PartID {
		return fmt.Errorf("%w: got %#02x", ErrIdentityMismatch, id)
	}

	if err := d.writeMode(d.Mode); err != nil {
		return err
	}
	if err := d.SetResolutionAndRate(d.Resolution, d.Rate); err != nil {
		return err
	}
	if err := d.SetGain(d.Gain); err != nil {
		return err
	}
	l.Debugf("Initialized - Mode: %v, Gain: %v, Resolution: %v, Rate: %v", d.Mode, d.Gain, d.Resolution, d.Rate)
	return nil
}

// WriteRegister writes value to reg.
func (d *LTR390) WriteRegister(reg, value byte) error {
	return d.Bus.Tx(d.Address, []byte{reg, value}, nil)
}

// ReadRegister reads reg. The register pointer write and the read share one
// transaction so the bus is not released in between.
func (d *LTR390) ReadRegister(reg byte) (byte, error) {
	buf := make([]byte, 1)
	if err := d.Bus.Tx(d.Address, []byte{reg}, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// Set the gain for the sensor
func (d *LTR390) SetGain(gain Gain) error {
	if err := d.WriteRegister(RegGain, byte(gain)); err != nil {
		return fmt.Errorf("ltr390: could not set gain %v: %w", gain, err)
	}
	d.Gain = gain
	return nil
}

// Set the resolution and measurement rate for the sensor
func (d *LTR390) SetResolutionAndRate(resolution Resolution, rate MeasurementRate) error {
	if err := d.WriteRegister(RegMeasRate, measRate(resolution, rate)); err != nil {
		return fmt.Errorf("ltr390: could not set resolution %v and rate %v: %w", resolution, rate, err)
	}
	d.Resolution = resolution
	d.Rate = rate
	return nil
}

// SetMode switches between ALS and UVS. Nothing is written when the sensor is
// already in the requested mode.
func (d *LTR390) SetMode(mode Mode) error {
	if mode == d.Mode {
		return nil
	}
	return d.writeMode(mode)
}

func (d *LTR390) writeMode(mode Mode) error {
	if err := d.WriteRegister(RegMainCtrl, mode.command()); err != nil {
		return fmt.Errorf("ltr390: could not set mode %v: %w", mode, err)
	}
	d.Mode = mode
	return nil
}

// ReadUVS returns the raw UV count, switching to UVS mode first if needed.
func (d *LTR390) ReadUVS() (uint32, error) {
	if err := d.SetMode(ModeUVS); err != nil {
		return 0, err
	}
	return d.readCounter(RegUVSData)
}

// ReadALS returns the raw ambient light count, switching to ALS mode first if needed.
func (d *LTR390) ReadALS() (uint32, error) {
	if err := d.SetMode(ModeALS); err != nil {
		return 0, err
	}
	return d.readCounter(RegALSData)
}

// readCounter reads the three little endian data registers starting at reg.
func (d *LTR390) readCounter(reg byte) (uint32, error) {
	var data [3]byte
	for i := range data {
		b, err := d.ReadRegister(reg + byte(i))
		if err != nil {
			return 0, fmt.Errorf("ltr390: could not read register %#02x: %w", reg+byte(i), err)
		}
		data[i] = b
	}
	l.Debugf("Bytes read from %#02x: %v", reg, data)
	return uint32(data[2])<<16 | uint32(data[1])<<8 | uint32(data[0]), nil
}

// Read samples UVS then ALS and converts both with the window factor wfac.
func (d *LTR390) Read(wfac float64) (Reading, error) {
	uvs, err := d.ReadUVS()
	if err != nil {
		return Reading{}, err
	}
	als, err := d.ReadALS()
	if err != nil {
		return Reading{}, err
	}
	r := Reading{
		ALS: als,
		UVS: uvs,
		Lux: d.CalculateLux(als, wfac),
		UVI: d.CalculateUVI(uvs, wfac),
	}
	l.Debugf("ALS: %v, UVS: %v, Lux: %v, UVI: %v", r.ALS, r.UVS, r.Lux, r.UVI)
	return r, nil
}

// CalculateLux converts an ALS count taken with the current gain and
// resolution. wfac is 1 for clear glass or open air, >1 for tinted windows
// (calibrate under a white LED). At 13 bit resolution the integration time is
// 0 and the result is +Inf, or NaN for a zero count.
func (d *LTR390) CalculateLux(als uint32, wfac float64) float64 {
	integrationTime := d.Resolution.IntegrationTime()
	gain := d.Gain.Factor()
	return 0.6 * float64(als) / (gain * integrationTime) * wfac
}

// CalculateUVI converts a UVS count taken with the current gain and resolution
// into a UV index. wfac has the same meaning as for CalculateLux.
func (d *LTR390) CalculateUVI(uvs uint32, wfac float64) float64 {
	gain := d.Gain.Factor()
	resolution := float64(d.Resolution.Bits())
	return float64(uvs) / ((gain / 18.0) * (math.Pow(2, resolution) / math.Pow(2, 20)) * UVISensitivity) * wfac
}

// MaxCount is the largest count the current resolution can report.
func (d *LTR390) MaxCount() uint32 {
	return 1<<uint(d.Resolution.Bits()) - 1
}

// Saturated reports whether either channel of r reached MaxCount.
func (d *LTR390) Saturated(r Reading) bool {
	limit := d.MaxCount()
	return r.ALS >= limit || r.UVS >= limit
}

// SettleTime is how long a new setting takes to show up in the data
// registers: one full conversion, and no sooner than the next measurement.
func (d *LTR390) SettleTime() time.Duration {
	conversion := d.Resolution.ConversionTime()
	if rate := d.Rate.Duration(); rate > conversion {
		return rate
	}
	return conversion
}

func (d *LTR390) wait() {
	if d.Wait != nil {
		d.Wait(d.SettleTime())
		return
	}
	time.Sleep(d.SettleTime())
}

// readSettled switches to mode if needed and waits for a conversion made
// with the current settings before reading the channel.
func (d *LTR390) readSettled(mode Mode) (uint32, error) {
	if err := d.SetMode(mode); err != nil {
		return 0, err
	}
	d.wait()
	if mode == ModeUVS {
		return d.readCounter(RegUVSData)
	}
	return d.readCounter(RegALSData)
}

// SetOptimalGain steps down from the highest gain until neither channel is
// saturated. The channel the sensor is already converting is checked first.
// If every gain saturates, gain is left at 1x and ErrSaturated is returned.
func (d *LTR390) SetOptimalGain() error {
	for i := len(Gains) - 1; i >= 0; i-- {
		gain := Gains[i]
		if err := d.SetGain(gain); err != nil {
			return err
		}
		l.Debugf("Attempting - Gain: %v, Resolution: %v", gain, d.Resolution)
		saturated := false
		for _, mode := range []Mode{d.Mode, d.Mode.other()} {
			count, err := d.readSettled(mode)
			if err != nil {
				return err
			}
			if count >= d.MaxCount() {
				saturated = true
				break
			}
		}
		if saturated {
			continue
		}
		l.Debugf("Set - Gain: %v, Resolution: %v", gain, d.Resolution)
		return nil
	}
	return ErrSaturated
}
