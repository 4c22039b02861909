package eve

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/devices/v3/eve/evereg"
)

// cmdReserved is the slot kept free so the write pointer never catches up
// with the read pointer, which would read back as an empty FIFO.
const cmdReserved = 4

// CmdFIFO tracks the host side of the coprocessor command FIFO.
//
// Blocks are queued by writing them at RAM_CMD + Cursor() and calling
// Advance; nothing runs until Commit publishes the cursor to REG_CMD_WRITE.
// Many blocks can be queued before a single Commit, and more can be queued
// while committed ones are still executing, as long as FreeSpace allows.
//
// CmdFIFO is not safe for concurrent use. Callers sharing one device must
// hold their own lock across the write, advance and commit sequence.
type CmdFIFO struct {
	d     *Dev
	model *evereg.Model
	clock Clock

	interval time.Duration
	timeout  time.Duration

	cursor    uint16 // next free byte
	committed uint16 // last value written to REG_CMD_WRITE
}

// sync seeds both cursors from REG_CMD_READ so that host and chip agree.
func (f *CmdFIFO) sync() error {
	rd, err := f.readPointer()
	if err != nil {
		return err
	}
	f.cursor = rd
	f.committed = rd
	return nil
}

// Size returns the FIFO capacity in bytes.
func (f *CmdFIFO) Size() uint32 {
	return f.model.CmdSize
}

// Cursor returns the local write cursor. It does not touch the bus.
func (f *CmdFIFO) Cursor() uint16 {
	return f.cursor
}

// Committed returns the cursor last written by Commit.
func (f *CmdFIFO) Committed() uint16 {
	return f.committed
}

// Addr returns the chip address the next queued byte goes to.
func (f *CmdFIFO) Addr() uint32 {
	return f.model.RAMCmd + uint32(f.cursor)
}

// Advance moves the write cursor by n bytes, wrapping at the end of the
// FIFO. The n bytes must already be written; see Write.
func (f *CmdFIFO) Advance(n uint16) {
	f.cursor = uint16((uint32(f.cursor) + uint32(n)) % f.model.CmdSize)
}

// Commit writes the cursor to REG_CMD_WRITE, handing every queued block to
// the coprocessor.
func (f *CmdFIFO) Commit() error {
	if err := f.d.Write32(f.model.RegCmdWrite, uint32(f.cursor)); err != nil {
		return err
	}
	f.committed = f.cursor
	return nil
}

// FreeSpace returns the number of bytes that can be queued without
// overrunning the coprocessor. It is always in [0, Size()-4].
func (f *CmdFIFO) FreeSpace() (uint16, error) {
	rd, err := f.readPointer()
	if err != nil {
		return 0, err
	}
	return f.free(rd), nil
}

func (f *CmdFIFO) free(rd uint16) uint16 {
	size := f.model.CmdSize
	used := (uint32(f.cursor) + size - uint32(rd)) % size
	if used > size-cmdReserved {
		return 0
	}
	return uint16(size - cmdReserved - used)
}

// WaitDrained polls REG_CMD_READ until the coprocessor has consumed every
// committed byte.
//
// It returns true once drained and false when DrainTimeout elapses first.
// Errors are reserved for bus faults, coprocessor faults and ctx ending.
func (f *CmdFIFO) WaitDrained(ctx context.Context) (bool, error) {
	return f.poll(ctx, func(rd uint16) bool { return rd == f.committed })
}

// WaitSpace polls until at least n bytes can be queued. It returns false
// when DrainTimeout elapses first.
func (f *CmdFIFO) WaitSpace(ctx context.Context, n uint16) (bool, error) {
	if uint32(n) > f.model.CmdSize-cmdReserved {
		return false, fmt.Errorf("%w: %d bytes never fit", ErrOverrun, n)
	}
	return f.poll(ctx, func(rd uint16) bool { return f.free(rd) >= n })
}

func (f *CmdFIFO) poll(ctx context.Context, done func(rd uint16) bool) (bool, error) {
	start := f.clock.Now()
	for {
		rd, err := f.readPointer()
		if err != nil {
			return false, err
		}
		if done(rd) {
			return true, nil
		}
		if f.clock.Now().Sub(start) >= f.timeout {
			return false, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		f.clock.Sleep(f.interval)
	}
}

// Write queues p at the cursor and advances it. Blocks crossing the end of
// the FIFO are split in two transactions. p must be a whole number of
// 32-bit words and fit in FreeSpace, otherwise ErrOverrun is returned and
// nothing is written.
//
// Write does not commit.
func (f *CmdFIFO) Write(p []byte) error {
	if len(p)%4 != 0 {
		return fmt.Errorf("eve: command block of %d bytes is not 32-bit aligned", len(p))
	}
	if len(p) == 0 {
		return nil
	}
	free, err := f.FreeSpace()
	if err != nil {
		return err
	}
	if len(p) > int(free) {
		return fmt.Errorf("%w: %d bytes queued, %d free", ErrOverrun, len(p), free)
	}

	first := min(len(p), int(f.model.CmdSize)-int(f.cursor))
	if err := f.d.WriteMem(f.Addr(), p[:first]); err != nil {
		return err
	}
	if first < len(p) {
		if err := f.d.WriteMem(f.model.RAMCmd, p[first:]); err != nil {
			return err
		}
	}
	f.Advance(uint16(len(p)))
	return nil
}

// Reset restarts the coprocessor after a fault and empties the FIFO.
// Everything queued or in flight is lost.
func (f *CmdFIFO) Reset() error {
	steps := []struct {
		addr uint32
		v    uint32
	}{
		{f.model.RegCPUReset, 1},
		{f.model.RegCmdRead, 0},
		{f.model.RegCmdWrite, 0},
		{f.model.RegCmdDL, 0},
		{f.model.RegCPUReset, 0},
	}
	for _, s := range steps {
		if err := f.d.Write32(s.addr, s.v); err != nil {
			return err
		}
	}
	f.cursor = 0
	f.committed = 0
	return nil
}

// readPointer reads REG_CMD_READ and checks it against the FIFO geometry.
func (f *CmdFIFO) readPointer() (uint16, error) {
	v, err := f.d.Read32(f.model.RegCmdRead)
	if err != nil {
		return 0, err
	}
	if v == evereg.CmdFault {
		return 0, ErrCoprocessorFault
	}
	if v >= f.model.CmdSize {
		return 0, fmt.Errorf("%w: REG_CMD_READ 0x%X out of range", ErrProtocol, v)
	}
	return uint16(v), nil
}
