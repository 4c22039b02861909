// Package eve talks to FTDI/Bridgetek EVE display controllers (FT80x,
// FT81x, BT81x) via SPI.
//
// It covers the host side of the chip: power sequencing, addressed memory
// and register access, host commands and the coprocessor command FIFO.
// What goes into the FIFO is up to the caller.
//
// # Hardware Connection
//
//	Display Pin → System Pin
//	GND         → GND
//	VCC         → 3.3V
//	SCK         → SPI Clock (SCLK)
//	MOSI        → SPI Data (MOSI)
//	MISO        → SPI Data (MISO)
//	CS#         → SPI Chip Select, or any GPIO (see Opts.CS)
//	PD#         → GPIO (optional, power down)
//
// # Basic Usage
//
//	package main
//
//	import (
//		"context"
//		"encoding/binary"
//
//		"periph.io/x/conn/v3/gpio/gpioreg"
//		"periph.io/x/conn/v3/spi/spireg"
//		"periph.io/x/devices/v3/eve"
//		"periph.io/x/host/v3"
//	)
//
//	func main() {
//		host.Init()
//
//		b, _ := spireg.Open("")
//		defer b.Close()
//
//		dev, _ := eve.NewSPI(b, gpioreg.ByName("GPIO25"), nil)
//		defer dev.Halt()
//
//		// CMD_DLSTART, CLEAR(1,1,1), DISPLAY, CMD_SWAP
//		block := binary.LittleEndian.AppendUint32(nil, 0xFFFFFF00)
//		block = binary.LittleEndian.AppendUint32(block, 0x26000007)
//		block = binary.LittleEndian.AppendUint32(block, 0x00000000)
//		block = binary.LittleEndian.AppendUint32(block, 0xFFFFFF01)
//
//		fifo := dev.CmdFIFO()
//		fifo.Write(block)
//		fifo.Commit()
//		fifo.WaitDrained(context.Background())
//	}
//
// # Transactions
//
// Every memory access is one chip select scope: a 3-byte header carrying
// the operation and a 22-bit address, then payload. Reads insert one dummy
// byte after the header. The Read and Write methods of Dev each run in
// their own scope; Dev.Transaction composes any number of headers and
// payload chunks in one scope and always releases chip select:
//
//	dev.Transaction(func(tx *eve.Tx) error {
//		if err := tx.WriteAddress(addr); err != nil {
//			return err
//		}
//		if err := tx.Write(hdr); err != nil {
//			return err
//		}
//		return tx.Write(payload)
//	})
//
// With the controller's own chip select, a transaction is buffered and
// shifted in one transfer since the controller releases CS after each. With
// Opts.CS the pin is driven directly and payload streams as it comes.
//
// # Command FIFO
//
// CmdFIFO keeps the host write cursor. Write (or a Transaction at Addr
// followed by Advance) queues bytes locally; Commit publishes the cursor to
// REG_CMD_WRITE and the coprocessor starts consuming. FreeSpace always
// keeps 4 bytes in reserve so that a full FIFO never looks empty.
// WaitDrained polls REG_CMD_READ within Opts.DrainTimeout and reports a
// timeout as false rather than an error.
//
// A coprocessor fault shows as 0xFFF in REG_CMD_READ and is returned as
// ErrCoprocessorFault; CmdFIFO.Reset recovers.
//
// # Errors
//
// Transport failures wrap ErrBus, unexpected chip answers wrap ErrProtocol
// and a block larger than the free space returns ErrOverrun. Nothing is
// retried: after ErrBus the FIFO pointers of host and chip may disagree.
//
// # Datasheet
//
// https://brtchip.com/wp-content/uploads/Support/Documentation/Datasheets/ICs/EVE/DS_FT81x.pdf
package eve
