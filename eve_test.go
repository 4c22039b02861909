package eve

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/devices/v3/eve/evereg"
	"periph.io/x/devices/v3/eve/frame"
)

// fakeChip is a Bus that decodes frames and serves a sparse memory the way
// an EVE chip would.
type fakeChip struct {
	mem      map[uint32]byte
	selected bool
	cur      []byte   // bytes written in the open transaction
	rdOff    uint32   // bytes read in the open transaction
	txns     [][]byte // bytes written per completed transaction
	reads    map[uint32]int

	// onRead runs before a read transaction at addr is served.
	onRead func(addr uint32)

	failSelect error
	failWrite  error
	failRead   error
}

func newFakeChip(m *evereg.Model) *fakeChip {
	c := &fakeChip{
		mem:   map[uint32]byte{},
		reads: map[uint32]int{},
	}
	c.mem[m.RegID] = evereg.ID
	return c
}

func (c *fakeChip) Select(enable bool) error {
	if c.failSelect != nil {
		return c.failSelect
	}
	if enable == c.selected {
		return errors.New("fakeChip: select mismatch")
	}
	c.selected = enable
	if enable {
		c.cur = nil
		c.rdOff = 0
		return nil
	}
	if len(c.cur) > frame.HeaderLen {
		if op, addr, err := frame.Decode(c.cur); err == nil && op == frame.OpWrite {
			for i, b := range c.cur[frame.HeaderLen:] {
				c.mem[addr+uint32(i)] = b
			}
		}
	}
	c.txns = append(c.txns, c.cur)
	return nil
}

func (c *fakeChip) Write(w []byte) error {
	if c.failWrite != nil {
		return c.failWrite
	}
	if !c.selected {
		return errors.New("fakeChip: write while deselected")
	}
	c.cur = append(c.cur, w...)
	return nil
}

func (c *fakeChip) Read(r []byte) error {
	if c.failRead != nil {
		return c.failRead
	}
	if !c.selected {
		return errors.New("fakeChip: read while deselected")
	}
	if len(c.cur) != frame.HeaderLen+frame.DummyLen {
		return errors.New("fakeChip: read without header and dummy byte")
	}
	op, addr, err := frame.Decode(c.cur)
	if err != nil || op != frame.OpRead {
		return errors.New("fakeChip: read after non-read header")
	}
	if c.rdOff == 0 {
		c.reads[addr]++
		if c.onRead != nil {
			c.onRead(addr)
		}
	}
	for i := range r {
		r[i] = c.mem[addr+c.rdOff+uint32(i)]
	}
	c.rdOff += uint32(len(r))
	return nil
}

func (c *fakeChip) set32(addr, v uint32) {
	for i := uint32(0); i < 4; i++ {
		c.mem[addr+i] = byte(v >> (8 * i))
	}
}

func (c *fakeChip) get32(addr uint32) uint32 {
	var b [4]byte
	for i := range b {
		b[i] = c.mem[addr+uint32(i)]
	}
	return binary.LittleEndian.Uint32(b[:])
}

// writes returns the completed write transactions, header included.
func (c *fakeChip) writes() [][]byte {
	var out [][]byte
	for _, t := range c.txns {
		if op, _, err := frame.Decode(t); err == nil && op == frame.OpWrite {
			out = append(out, t)
		}
	}
	return out
}

type fakeClock struct {
	now    time.Time
	sleeps int
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps++
	c.now = c.now.Add(d)
}

// newTestDev opens a device on chip with a fake clock.
func newTestDev(t *testing.T, chip *fakeChip, opts *Opts) (*Dev, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Unix(0, 0)}
	if opts == nil {
		opts = &Opts{}
	}
	opts.Clock = clk
	d, err := New(chip, nil, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	chip.txns = nil
	chip.reads = map[uint32]int{}
	clk.sleeps = 0
	return d, clk
}

func TestOptsValidation(t *testing.T) {
	tests := []struct {
		name    string
		opts    *Opts
		wantErr bool
	}{
		{"nil options (uses defaults)", nil, false},
		{"zero options (uses defaults)", &Opts{}, false},
		{"FT80x", &Opts{Model: &evereg.FT80x}, false},
		{"negative frequency", &Opts{Frequency: -1}, true},
		{"negative poll interval", &Opts{PollInterval: -time.Millisecond}, true},
		{"negative drain timeout", &Opts{DrainTimeout: -time.Second}, true},
		{"negative boot timeout", &Opts{BootTimeout: -time.Second}, true},
		{"empty FIFO", &Opts{Model: &evereg.Model{Name: "x"}}, true},
		{"unaligned FIFO", &Opts{Model: &evereg.Model{Name: "x", CmdSize: 4098}}, true},
		{"FIFO too large", &Opts{Model: &evereg.Model{Name: "x", CmdSize: 1 << 17}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := tt.opts.withDefaults()
			if (err != nil) != tt.wantErr {
				t.Fatalf("withDefaults() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if o.Model == nil || o.Clock == nil || o.Frequency <= 0 || o.PollInterval <= 0 || o.DrainTimeout <= 0 || o.BootTimeout <= 0 {
				t.Errorf("withDefaults() left zero fields: %+v", o)
			}
		})
	}
}

func TestOptsDefaultsDoNotMutate(t *testing.T) {
	opts := &Opts{Model: &evereg.FT80x}
	if _, err := opts.withDefaults(); err != nil {
		t.Fatal(err)
	}
	if opts.Clock != nil || opts.Frequency != 0 {
		t.Error("withDefaults() modified the caller's Opts")
	}
}

func TestNewInitSequence(t *testing.T) {
	chip := newFakeChip(&evereg.FT81x)
	chip.set32(evereg.FT81x.RegCmdRead, 0x120)
	pd := &gpiotest.Pin{N: "PD", Num: 25}
	clk := &fakeClock{now: time.Unix(0, 0)}

	d, err := New(chip, pd, &Opts{Clock: clk, ExternalClock: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if pd.L != gpio.High {
		t.Error("PD should be released after init")
	}
	if got := clk.now.Sub(time.Unix(0, 0)); got < pdLowTime+pdHighTime {
		t.Errorf("power cycle took %v, want at least %v", got, pdLowTime+pdHighTime)
	}

	if len(chip.txns) < 2 {
		t.Fatalf("got %d transactions, want host commands first", len(chip.txns))
	}
	if !bytes.Equal(chip.txns[0], []byte{0x44, 0x00}) {
		t.Errorf("first transaction = % X, want CLKEXT", chip.txns[0])
	}
	if !bytes.Equal(chip.txns[1], []byte{0x00, 0x00}) {
		t.Errorf("second transaction = % X, want ACTIVE", chip.txns[1])
	}
	if chip.reads[evereg.FT81x.RegID] != 1 {
		t.Errorf("REG_ID read %d times, want 1", chip.reads[evereg.FT81x.RegID])
	}

	f := d.CmdFIFO()
	if f.Cursor() != 0x120 || f.Committed() != 0x120 {
		t.Errorf("cursor = 0x%X committed = 0x%X, want 0x120", f.Cursor(), f.Committed())
	}
	if d.Model() != &evereg.FT81x {
		t.Errorf("Model() = %v", d.Model())
	}
}

func TestNewWaitsForBoot(t *testing.T) {
	chip := newFakeChip(&evereg.FT81x)
	chip.mem[evereg.FT81x.RegID] = 0
	chip.onRead = func(addr uint32) {
		if addr == evereg.FT81x.RegID && chip.reads[addr] == 3 {
			chip.mem[addr] = evereg.ID
		}
	}

	if _, err := New(chip, nil, &Opts{Clock: &fakeClock{}}); err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := chip.reads[evereg.FT81x.RegID]; got != 3 {
		t.Errorf("REG_ID read %d times, want 3", got)
	}
}

func TestNewIDMismatch(t *testing.T) {
	chip := newFakeChip(&evereg.FT81x)
	chip.mem[evereg.FT81x.RegID] = 0x12
	clk := &fakeClock{now: time.Unix(0, 0)}

	_, err := New(chip, nil, &Opts{Clock: clk, BootTimeout: 50 * time.Millisecond})
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("New() error = %v, want ErrProtocol", err)
	}
	if got := clk.now.Sub(time.Unix(0, 0)); got < 50*time.Millisecond {
		t.Errorf("gave up after %v, want the whole boot timeout", got)
	}
}

func TestNewCPUResetStuck(t *testing.T) {
	chip := newFakeChip(&evereg.FT81x)
	chip.mem[evereg.FT81x.RegCPUReset] = 0x01

	_, err := New(chip, nil, &Opts{Clock: &fakeClock{}})
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("New() error = %v, want ErrProtocol", err)
	}
}

func TestNewBusFault(t *testing.T) {
	chip := newFakeChip(&evereg.FT81x)
	chip.failWrite = errors.New("no device")

	_, err := New(chip, nil, &Opts{Clock: &fakeClock{}})
	if !errors.Is(err, ErrBus) || !errors.Is(err, chip.failWrite) {
		t.Fatalf("New() error = %v, want ErrBus wrapping the transport error", err)
	}
}

func TestNewFaultedFIFO(t *testing.T) {
	chip := newFakeChip(&evereg.FT81x)
	chip.set32(evereg.FT81x.RegCmdRead, evereg.CmdFault)

	_, err := New(chip, nil, &Opts{Clock: &fakeClock{}})
	if !errors.Is(err, ErrCoprocessorFault) {
		t.Fatalf("New() error = %v, want ErrCoprocessorFault", err)
	}
}

func TestDevString(t *testing.T) {
	dev := &Dev{model: &evereg.FT81x}
	want := "eve.Dev{FT81x}"
	if got := dev.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestChipID(t *testing.T) {
	chip := newFakeChip(&evereg.FT81x)
	d, _ := newTestDev(t, chip, nil)
	chip.set32(evereg.ROMChipID, 0x00011008)

	id, err := d.ChipID()
	if err != nil {
		t.Fatal(err)
	}
	if id != 0x00011008 {
		t.Errorf("ChipID() = 0x%08X, want 0x00011008", id)
	}
}

func TestDevHalt(t *testing.T) {
	chip := newFakeChip(&evereg.FT81x)
	pd := &gpiotest.Pin{N: "PD"}
	d, err := New(chip, pd, &Opts{Clock: &fakeClock{}})
	if err != nil {
		t.Fatal(err)
	}

	if err := d.Halt(); err != nil {
		t.Fatalf("Halt() error = %v", err)
	}
	if pd.L != gpio.Low {
		t.Error("Halt should hold PD low")
	}
	if err := d.Halt(); err != nil {
		t.Errorf("second Halt() error = %v", err)
	}

	if err := d.Write32(0, 1); !errors.Is(err, ErrHalted) {
		t.Errorf("Write32 error = %v, want ErrHalted", err)
	}
	if _, err := d.Read8(0); !errors.Is(err, ErrHalted) {
		t.Errorf("Read8 error = %v, want ErrHalted", err)
	}
	if err := d.HostCommand(evereg.Active, 0); !errors.Is(err, ErrHalted) {
		t.Errorf("HostCommand error = %v, want ErrHalted", err)
	}
	if err := d.CmdFIFO().Commit(); !errors.Is(err, ErrHalted) {
		t.Errorf("Commit error = %v, want ErrHalted", err)
	}
	if _, err := d.CmdFIFO().FreeSpace(); !errors.Is(err, ErrHalted) {
		t.Errorf("FreeSpace error = %v, want ErrHalted", err)
	}
}

func TestDevHaltWithoutPD(t *testing.T) {
	chip := newFakeChip(&evereg.FT81x)
	d, _ := newTestDev(t, chip, nil)

	if err := d.Halt(); err != nil {
		t.Fatalf("Halt() error = %v", err)
	}
	if len(chip.txns) != 1 || !bytes.Equal(chip.txns[0], []byte{byte(evereg.PwrDown), 0x00}) {
		t.Errorf("Halt sent %X, want a single PWRDOWN host command", chip.txns)
	}
	if err := d.Halt(); err != nil {
		t.Errorf("second Halt() error = %v", err)
	}
	if len(chip.txns) != 1 {
		t.Errorf("second Halt sent %X", chip.txns[1:])
	}
}
