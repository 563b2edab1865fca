package ltr390

import (
	"errors"
	"fmt"

	"golang.org/x/exp/io/i2c"
	pi2c "periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/host"
)

// Bus is the I2C transport the driver borrows. A Tx with both w and r set must
// keep the bus between the write and the read (repeated start).
// machine.I2C under TinyGo and periph's i2c.Bus already satisfy it.
type Bus interface {
	Tx(addr uint16, w, r []byte) error
}

// BusCloser is a Bus owned by the caller that must be released when done.
type BusCloser interface {
	Bus
	Close() error
}

var errUnsupportedTx = errors.New("unsupported transaction shape")

// DevfsBus talks to /dev/i2c-N through golang.org/x/exp/io/i2c.
// One device handle is opened lazily per slave address.
type DevfsBus struct {
	Path    string
	devices map[uint16]*i2c.Device
}

// OpenDevfs returns a DevfsBus for the given character device.
func OpenDevfs(path string) *DevfsBus {
	if path == "" {
		// i2c-1 is the default I2C bus for the Raspberry Pi
		path = "/dev/i2c-1"
	}
	return &DevfsBus{Path: path, devices: map[uint16]*i2c.Device{}}
}

func (b *DevfsBus) device(addr uint16) (*i2c.Device, error) {
	if d, ok := b.devices[addr]; ok {
		return d, nil
	}
	d, err := i2c.Open(&i2c.Devfs{Dev: b.Path}, int(addr))
	if err != nil {
		return nil, fmt.Errorf("Failed to open %s: %w", b.Path, err)
	}
	b.devices[addr] = d
	return d, nil
}

// Tx maps the transaction onto the register oriented devfs API.
func (b *DevfsBus) Tx(addr uint16, w, r []byte) error {
	d, err := b.device(addr)
	if err != nil {
		return err
	}
	switch {
	case len(r) == 0:
		return d.Write(w)
	case len(w) == 0:
		return d.Read(r)
	case len(w) == 1:
		return d.ReadReg(w[0], r)
	}
	return fmt.Errorf("devfs: %d byte write before read: %w", len(w), errUnsupportedTx)
}

// Close releases every opened device handle.
func (b *DevfsBus) Close() error {
	var first error
	for addr, d := range b.devices {
		if err := d.Close(); err != nil && first == nil {
			first = err
		}
		delete(b.devices, addr)
	}
	return first
}

// PeriphBus is an I2C bus opened through periph.io's registry.
type PeriphBus struct {
	pi2c.BusCloser
}

// OpenPeriph initializes the periph host drivers and opens the named bus
// ("/dev/i2c-1", "I2C1", "1"). An empty name selects the first available bus.
func OpenPeriph(name string) (*PeriphBus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("could not initialize host: %w", err)
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("could not open I2C bus: %w", err)
	}
	return &PeriphBus{BusCloser: bus}, nil
}

// OpenBus opens a bus by backend name, "devfs" or "periph".
func OpenBus(backend, name string) (BusCloser, error) {
	switch backend {
	case "", "devfs":
		return OpenDevfs(name), nil
	case "periph":
		bus, err := OpenPeriph(name)
		if err != nil {
			return nil, err
		}
		return bus, nil
	default:
		return nil, fmt.Errorf("unknown I2C backend %q", backend)
	}
}
