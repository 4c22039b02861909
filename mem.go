package eve

import (
	"encoding/binary"
	"errors"
	"fmt"

	"periph.io/x/devices/v3/eve/frame"
)

var (
	// ErrBus reports a transport failure. The chip state is unknown after
	// it, including the command FIFO pointers.
	ErrBus = errors.New("eve: bus fault")
	// ErrProtocol reports a chip answer that makes no sense.
	ErrProtocol = errors.New("eve: protocol fault")
	// ErrCoprocessorFault is returned when REG_CMD_READ holds the fault
	// code. CmdFIFO.Reset recovers from it.
	ErrCoprocessorFault = fmt.Errorf("%w: coprocessor fault", ErrProtocol)
	// ErrOverrun is returned when a command block does not fit the free
	// space of the command FIFO.
	ErrOverrun = errors.New("eve: command FIFO overrun")
	// ErrHalted is returned by every operation after Halt.
	ErrHalted = errors.New("eve: halted")
)

// Tx is one chip select scope on the bus. It is only valid inside the
// function passed to Dev.Transaction.
type Tx struct {
	bus Bus
	buf [4]byte
}

// Transaction runs fn with the bus selected. The bus is deselected on every
// return path of fn, including panics. Transactions are serialized across
// goroutines.
//
// When fn fails or panics, bytes still buffered by the transport are
// dropped. With the controller's own chip select that is the whole
// transaction, except for what a Read already shifted. With Opts.CS, bytes
// are shifted as they are written and a partial frame may reach the chip.
//
// Errors from the transport are wrapped in ErrBus.
func (d *Dev) Transaction(fn func(tx *Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return ErrHalted
	}
	return d.transaction(fn)
}

// discarder is implemented by buses that buffer a transaction.
type discarder interface {
	discard()
}

// transaction is Transaction with d.mu held.
func (d *Dev) transaction(fn func(tx *Tx) error) (err error) {
	if err := d.bus.Select(true); err != nil {
		return fmt.Errorf("%w: select: %w", ErrBus, err)
	}
	done := false
	defer func() {
		if !done {
			if b, ok := d.bus.(discarder); ok {
				b.discard()
			}
		}
		if derr := d.bus.Select(false); derr != nil && err == nil {
			err = fmt.Errorf("%w: deselect: %w", ErrBus, derr)
		}
	}()
	err = fn(&Tx{bus: d.bus})
	done = err == nil
	return err
}

// WriteAddress sends a write header for addr. Following writes land at
// consecutive addresses.
func (t *Tx) WriteAddress(addr uint32) error {
	h := frame.Write(addr)
	if err := t.bus.Write(h[:]); err != nil {
		return fmt.Errorf("%w: write header 0x%06X: %w", ErrBus, addr&frame.AddrMask, err)
	}
	return nil
}

// ReadAddress sends a read header for addr and the dummy byte. Following
// reads come from consecutive addresses.
func (t *Tx) ReadAddress(addr uint32) error {
	h := frame.Read(addr)
	if err := t.bus.Write(append(h[:], frame.Dummy)); err != nil {
		return fmt.Errorf("%w: read header 0x%06X: %w", ErrBus, addr&frame.AddrMask, err)
	}
	return nil
}

// Write sends p as is.
func (t *Tx) Write(p []byte) error {
	return t.write(p, "write")
}

// Write8 sends an 8 bit value.
func (t *Tx) Write8(v uint8) error {
	t.buf[0] = v
	return t.write(t.buf[:1], "write8")
}

// Write16 sends a 16 bit value, little endian.
func (t *Tx) Write16(v uint16) error {
	binary.LittleEndian.PutUint16(t.buf[:], v)
	return t.write(t.buf[:2], "write16")
}

// Write32 sends a 32 bit value, little endian.
func (t *Tx) Write32(v uint32) error {
	binary.LittleEndian.PutUint32(t.buf[:], v)
	return t.write(t.buf[:4], "write32")
}

// Read fills p.
func (t *Tx) Read(p []byte) error {
	if err := t.bus.Read(p); err != nil {
		return fmt.Errorf("%w: read: %w", ErrBus, err)
	}
	return nil
}

// Read8 receives an 8 bit value.
func (t *Tx) Read8() (uint8, error) {
	if err := t.Read(t.buf[:1]); err != nil {
		return 0, err
	}
	return t.buf[0], nil
}

// Read16 receives a 16 bit value, little endian.
func (t *Tx) Read16() (uint16, error) {
	if err := t.Read(t.buf[:2]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(t.buf[:]), nil
}

// Read32 receives a 32 bit value, little endian.
func (t *Tx) Read32() (uint32, error) {
	if err := t.Read(t.buf[:4]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(t.buf[:]), nil
}

func (t *Tx) write(p []byte, op string) error {
	if err := t.bus.Write(p); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBus, op, err)
	}
	return nil
}

// Write8 writes an 8 bit value at addr.
func (d *Dev) Write8(addr uint32, v uint8) error {
	return d.Transaction(func(tx *Tx) error {
		if err := tx.WriteAddress(addr); err != nil {
			return err
		}
		return tx.Write8(v)
	})
}

// Write16 writes a 16 bit value at addr.
func (d *Dev) Write16(addr uint32, v uint16) error {
	return d.Transaction(func(tx *Tx) error {
		if err := tx.WriteAddress(addr); err != nil {
			return err
		}
		return tx.Write16(v)
	})
}

// Write32 writes a 32 bit value at addr.
func (d *Dev) Write32(addr uint32, v uint32) error {
	return d.Transaction(func(tx *Tx) error {
		if err := tx.WriteAddress(addr); err != nil {
			return err
		}
		return tx.Write32(v)
	})
}

// WriteMem writes p starting at addr in a single transaction.
func (d *Dev) WriteMem(addr uint32, p []byte) error {
	return d.Transaction(func(tx *Tx) error {
		if err := tx.WriteAddress(addr); err != nil {
			return err
		}
		return tx.Write(p)
	})
}

// Read8 reads an 8 bit value at addr.
func (d *Dev) Read8(addr uint32) (v uint8, err error) {
	err = d.Transaction(func(tx *Tx) error {
		if err := tx.ReadAddress(addr); err != nil {
			return err
		}
		v, err = tx.Read8()
		return err
	})
	return v, err
}

// Read16 reads a 16 bit value at addr.
func (d *Dev) Read16(addr uint32) (v uint16, err error) {
	err = d.Transaction(func(tx *Tx) error {
		if err := tx.ReadAddress(addr); err != nil {
			return err
		}
		v, err = tx.Read16()
		return err
	})
	return v, err
}

// Read32 reads a 32 bit value at addr.
func (d *Dev) Read32(addr uint32) (v uint32, err error) {
	err = d.Transaction(func(tx *Tx) error {
		if err := tx.ReadAddress(addr); err != nil {
			return err
		}
		v, err = tx.Read32()
		return err
	})
	return v, err
}

// ReadMem fills p from addr onwards in a single transaction.
func (d *Dev) ReadMem(addr uint32, p []byte) error {
	return d.Transaction(func(tx *Tx) error {
		if err := tx.ReadAddress(addr); err != nil {
			return err
		}
		return tx.Read(p)
	})
}
