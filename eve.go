package eve

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/devices/v3/eve/evereg"
	"periph.io/x/devices/v3/eve/frame"
)

// Power cycle timings.
const (
	pdLowTime  = 20 * time.Millisecond
	pdHighTime = 20 * time.Millisecond
	bootPoll   = 5 * time.Millisecond
)

// Opts is the configuration for the EVE device.
type Opts struct {
	// Chip family (default: evereg.FT81x)
	Model *evereg.Model

	// SPI clock (default: 10MHz). EVE accepts up to 11MHz before the
	// system clock is running, 30MHz afterwards.
	Frequency physic.Frequency

	// Optional software chip select. When set the SPI port is connected
	// with spi.NoCS and this pin frames each transaction.
	CS gpio.PinOut

	// Select the external crystal before activating the chip.
	ExternalClock bool

	// Command FIFO polling
	PollInterval time.Duration // default: 1ms
	DrainTimeout time.Duration // default: 1s
	BootTimeout  time.Duration // default: 300ms

	// Time source, nil for the wall clock.
	Clock Clock
}

// DefaultOpts is used when nil is passed to NewSPI or New.
var DefaultOpts = Opts{
	Model:        &evereg.FT81x,
	Frequency:    10 * physic.MegaHertz,
	PollInterval: time.Millisecond,
	DrainTimeout: time.Second,
	BootTimeout:  300 * time.Millisecond,
}

// Clock is the time source used for power sequencing and polling.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type wallClock struct{}

func (wallClock) Now() time.Time        { return time.Now() }
func (wallClock) Sleep(d time.Duration) { time.Sleep(d) }

// Dev is the device handle for an EVE chip.
type Dev struct {
	// Communication
	mu  sync.Mutex
	bus Bus
	pd  gpio.PinOut // Power down pin (optional)

	model *evereg.Model
	clock Clock
	fifo  *CmdFIFO

	// State
	halted bool
}

// NewSPI creates a new EVE device connected via SPI.
//
// The SPI port is configured for Mode0, 8-bit transfers at opts.Frequency.
// pd is the power down pin; when nil the power cycle is skipped and the
// chip is expected to be out of reset already.
//
// opts can be nil to use DefaultOpts.
func NewSPI(p spi.Port, pd gpio.PinOut, opts *Opts) (*Dev, error) {
	o, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	mode := spi.Mode0
	if o.CS != nil {
		mode |= spi.NoCS
		if err := o.CS.Out(gpio.High); err != nil {
			return nil, fmt.Errorf("eve: failed to release CS: %w", err)
		}
	}
	c, err := p.Connect(o.Frequency, mode, 8)
	if err != nil {
		return nil, err
	}

	var b Bus
	if o.CS != nil {
		b = newCSBus(c, o.CS)
	} else {
		b = newSPIBus(c)
	}
	return newDev(b, pd, o)
}

// New creates a new EVE device on an already established bus.
//
// opts can be nil to use DefaultOpts. opts.Frequency and opts.CS are
// ignored since b owns the link.
func New(b Bus, pd gpio.PinOut, opts *Opts) (*Dev, error) {
	o, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	return newDev(b, pd, o)
}

func newDev(b Bus, pd gpio.PinOut, o *Opts) (*Dev, error) {
	d := &Dev{
		bus:   b,
		pd:    pd,
		model: o.Model,
		clock: o.Clock,
	}
	d.fifo = &CmdFIFO{
		d:        d,
		model:    o.Model,
		clock:    o.Clock,
		interval: o.PollInterval,
		timeout:  o.DrainTimeout,
	}

	if err := d.init(o); err != nil {
		return nil, err
	}
	return d, nil
}

func (o *Opts) withDefaults() (*Opts, error) {
	r := DefaultOpts
	if o != nil {
		r = *o
	}
	if r.Model == nil {
		r.Model = DefaultOpts.Model
	}
	if r.Frequency == 0 {
		r.Frequency = DefaultOpts.Frequency
	}
	if r.PollInterval == 0 {
		r.PollInterval = DefaultOpts.PollInterval
	}
	if r.DrainTimeout == 0 {
		r.DrainTimeout = DefaultOpts.DrainTimeout
	}
	if r.BootTimeout == 0 {
		r.BootTimeout = DefaultOpts.BootTimeout
	}
	if r.Clock == nil {
		r.Clock = wallClock{}
	}

	if r.Frequency < 0 {
		return nil, errors.New("eve: frequency must be positive")
	}
	if r.PollInterval < 0 || r.DrainTimeout < 0 || r.BootTimeout < 0 {
		return nil, errors.New("eve: durations must be positive")
	}
	if r.Model.CmdSize == 0 || r.Model.CmdSize > 1<<16 || r.Model.CmdSize%4 != 0 {
		return nil, errors.New("eve: command FIFO size must be a multiple of 4 up to 65536")
	}
	return &r, nil
}

// init power cycles the chip, wakes it up and syncs the command FIFO cursor.
func (d *Dev) init(o *Opts) error {
	// Power cycle (if PD pin is provided)
	if d.pd != nil {
		if err := d.pd.Out(gpio.Low); err != nil {
			return fmt.Errorf("eve: failed to pull PD low: %w", err)
		}
		d.clock.Sleep(pdLowTime)

		if err := d.pd.Out(gpio.High); err != nil {
			return fmt.Errorf("eve: failed to pull PD high: %w", err)
		}
		d.clock.Sleep(pdHighTime)
	}

	if o.ExternalClock {
		if err := d.HostCommand(evereg.ClkExt, 0); err != nil {
			return err
		}
	}
	if err := d.HostCommand(evereg.Active, 0); err != nil {
		return err
	}

	// The chip boots its system clock before REG_ID becomes readable.
	id, err := d.pollUntil(o.BootTimeout, d.model.RegID, func(v uint8) bool { return v == evereg.ID })
	if err != nil {
		return err
	}
	if id != evereg.ID {
		return fmt.Errorf("%w: unexpected REG_ID 0x%02X, want 0x%02X", ErrProtocol, id, evereg.ID)
	}
	rst, err := d.pollUntil(o.BootTimeout, d.model.RegCPUReset, func(v uint8) bool { return v&0x07 == 0 })
	if err != nil {
		return err
	}
	if rst&0x07 != 0 {
		return fmt.Errorf("%w: engines still in reset (REG_CPURESET 0x%02X)", ErrProtocol, rst)
	}

	return d.fifo.sync()
}

// pollUntil reads the 8-bit register at addr until ok returns true or
// timeout elapses, and returns the last value read.
func (d *Dev) pollUntil(timeout time.Duration, addr uint32, ok func(uint8) bool) (uint8, error) {
	start := d.clock.Now()
	for {
		v, err := d.Read8(addr)
		if err != nil {
			return 0, err
		}
		if ok(v) || d.clock.Now().Sub(start) >= timeout {
			return v, nil
		}
		d.clock.Sleep(bootPoll)
	}
}

// Model returns the chip family the device was opened with.
func (d *Dev) Model() *evereg.Model {
	return d.model
}

// CmdFIFO returns the command FIFO session of the device.
func (d *Dev) CmdFIFO() *CmdFIFO {
	return d.fifo
}

// ChipID returns the identification word from chip ROM. The low bytes
// are 0x08 followed by the part number, e.g. 0x00011008 for an FT810.
func (d *Dev) ChipID() (uint32, error) {
	return d.Read32(evereg.ROMChipID)
}

// HostCommand sends a host command frame.
func (d *Dev) HostCommand(cmd evereg.HostCmd, param byte) error {
	f := frame.Host(byte(cmd), param)
	return d.Transaction(func(tx *Tx) error {
		return tx.Write(f[:])
	})
}

// Halt powers down the chip.
// After calling Halt, the device will not respond to further operations
// until it is re-initialized. Calling Halt again does nothing.
func (d *Dev) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return nil
	}
	d.halted = true

	if d.pd != nil {
		return d.pd.Out(gpio.Low)
	}
	f := frame.Host(byte(evereg.PwrDown), 0)
	return d.transaction(func(tx *Tx) error {
		return tx.Write(f[:])
	})
}

// String returns a string representation of the device.
func (d *Dev) String() string {
	return fmt.Sprintf("eve.Dev{%s}", d.model)
}
