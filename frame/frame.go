// Package frame encodes the transaction headers that precede every access to
// an EVE chip over SPI.
//
// A memory access starts with a 3-byte header: the two top bits select the
// operation and the remaining 22 bits carry the address, most significant
// byte first. A read header is followed by one dummy byte before the chip
// starts shifting out data. Host commands use a separate 2-byte frame made of
// the command byte and its parameter.
//
// All functions are pure; none of them drive chip select.
package frame

import (
	"errors"
	"fmt"
)

// AddrMask is the valid address width of the chip memory space.
const AddrMask = 0x3FFFFF

// DummyLen is the number of turnaround bytes between a read header and data.
const DummyLen = 1

// Dummy is the value clocked out for turnaround and read bytes.
const Dummy byte = 0x00

// Header and host frame lengths in bytes.
const (
	HeaderLen = 3
	HostLen   = 2
)

// Op is the operation selected by the top two bits of the first header byte.
type Op byte

const (
	OpRead  Op = 0x00
	OpHost  Op = 0x40
	OpWrite Op = 0x80
)

const opMask = 0xC0

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpHost:
		return "host"
	case OpWrite:
		return "write"
	}
	return fmt.Sprintf("Op(0x%02X)", byte(o))
}

// Write returns the header for a memory write at addr.
func Write(addr uint32) [HeaderLen]byte {
	return header(OpWrite, addr)
}

// Read returns the header for a memory read at addr. The caller must clock
// DummyLen bytes after it before valid data appears.
func Read(addr uint32) [HeaderLen]byte {
	return header(OpRead, addr)
}

// Host returns the 2-byte host command frame.
//
// cmd is sent as is; host opcodes already carry their own top bits. ACTIVE
// (0x00) is encoded the same way as a dummy read of address 0, which is how
// the chip expects it.
func Host(cmd, param byte) [HostLen]byte {
	return [HostLen]byte{cmd, param}
}

func header(op Op, addr uint32) [HeaderLen]byte {
	addr &= AddrMask
	return [HeaderLen]byte{
		byte(op) | byte(addr>>16),
		byte(addr >> 8),
		byte(addr),
	}
}

// Decode is the inverse of Write, Read and Host. For OpHost the returned
// address holds the command in bits 15:8 and the parameter in bits 7:0.
func Decode(hdr []byte) (Op, uint32, error) {
	if len(hdr) == 0 {
		return 0, 0, errors.New("frame: empty header")
	}
	op := Op(hdr[0] & opMask)
	switch op {
	case OpHost:
		if len(hdr) < HostLen {
			return 0, 0, fmt.Errorf("frame: short host frame (%d bytes)", len(hdr))
		}
		return op, uint32(hdr[0])<<8 | uint32(hdr[1]), nil
	case OpRead, OpWrite:
		if len(hdr) < HeaderLen {
			return 0, 0, fmt.Errorf("frame: short %s header (%d bytes)", op, len(hdr))
		}
		addr := uint32(hdr[0]&^opMask)<<16 | uint32(hdr[1])<<8 | uint32(hdr[2])
		return op, addr, nil
	}
	return 0, 0, fmt.Errorf("frame: reserved operation bits 0x%02X", hdr[0])
}
