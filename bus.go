package eve

import (
	"errors"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/devices/v3/eve/frame"
)

// Bus is the byte transport to the chip.
//
// Select(true) starts a transaction and Select(false) ends it. Write and
// Read shift bytes within the current transaction; Read clocks out dummy
// bytes while shifting in.
type Bus interface {
	Select(enable bool) error
	Write(w []byte) error
	Read(r []byte) error
}

var (
	errNotSelected = errors.New("eve: bus not selected")
	errSelected    = errors.New("eve: bus already selected")
)

// spiBus frames transactions with the SPI controller's own chip select.
//
// The controller drops CS at the end of each Tx, so a whole transaction is
// buffered and shifted at once: on Read together with the pending header,
// otherwise on Select(false). No write may follow a Read. Further reads
// continue from where the previous one stopped by sending a new read header,
// since the chip restarts its address on every CS.
type spiBus struct {
	c        spi.Conn
	max      int
	selected bool
	read     bool
	pending  []byte

	// next is the address the following Read continues at, valid when
	// resume is set.
	next   uint32
	resume bool
}

func newSPIBus(c spi.Conn) *spiBus {
	return &spiBus{c: c, max: maxTxSize(c)}
}

func (b *spiBus) Select(enable bool) error {
	if !enable {
		if !b.selected {
			return errNotSelected
		}
		b.selected = false
		if b.read || len(b.pending) == 0 {
			return nil
		}
		err := txChunked(b.c, b.max, b.pending, nil)
		b.pending = b.pending[:0]
		return err
	}
	if b.selected {
		return errSelected
	}
	b.selected = true
	b.read = false
	b.resume = false
	b.pending = b.pending[:0]
	return nil
}

func (b *spiBus) Write(w []byte) error {
	if !b.selected {
		return errNotSelected
	}
	if b.read {
		return errors.New("eve: write after read in one transaction")
	}
	b.pending = append(b.pending, w...)
	return nil
}

func (b *spiBus) Read(r []byte) error {
	if !b.selected {
		return errNotSelected
	}
	if b.read {
		if !b.resume {
			return errors.New("eve: read continues no read header")
		}
		h := frame.Read(b.next)
		return b.shift(append(h[:], frame.Dummy), r)
	}

	b.read = true
	const hl = frame.HeaderLen + frame.DummyLen
	if n := len(b.pending); n >= hl {
		if op, addr, err := frame.Decode(b.pending[n-hl:]); err == nil && op == frame.OpRead {
			b.next, b.resume = addr, true
		}
	}
	err := b.shift(b.pending, r)
	b.pending = b.pending[:0]
	return err
}

// shift sends w followed by len(r) dummy bytes in one CS and fills r with
// what comes back after w.
func (b *spiBus) shift(w, r []byte) error {
	n := len(w)
	w = append(w, make([]byte, len(r))...)
	rx := make([]byte, len(w))
	if err := txChunked(b.c, b.max, w, rx); err != nil {
		b.resume = false
		return err
	}
	copy(r, rx[n:])
	b.next += uint32(len(r))
	return nil
}

// discard drops what is buffered so that Select(false) sends nothing.
func (b *spiBus) discard() {
	b.pending = b.pending[:0]
}

// csBus drives chip select from a GPIO, leaving the SPI controller free
// to shift any number of Tx calls within one transaction.
type csBus struct {
	c        spi.Conn
	cs       gpio.PinOut
	max      int
	selected bool
}

func newCSBus(c spi.Conn, cs gpio.PinOut) *csBus {
	return &csBus{c: c, cs: cs, max: maxTxSize(c)}
}

func (b *csBus) Select(enable bool) error {
	if enable == b.selected {
		if enable {
			return errSelected
		}
		return errNotSelected
	}
	if !enable {
		// The transaction ends even when the pin fails; the next Select
		// drives it again.
		b.selected = false
		return b.cs.Out(gpio.High)
	}
	// Active low.
	if err := b.cs.Out(gpio.Low); err != nil {
		return err
	}
	b.selected = true
	return nil
}

func (b *csBus) Write(w []byte) error {
	if !b.selected {
		return errNotSelected
	}
	for len(w) > 0 {
		n := min(len(w), b.max)
		if err := b.c.Tx(w[:n], nil); err != nil {
			return err
		}
		w = w[n:]
	}
	return nil
}

func (b *csBus) Read(r []byte) error {
	if !b.selected {
		return errNotSelected
	}
	w := make([]byte, min(len(r), b.max))
	for len(r) > 0 {
		n := min(len(r), b.max)
		if err := b.c.Tx(w[:n], r[:n]); err != nil {
			return err
		}
		r = r[n:]
	}
	return nil
}

// maxTxSize returns the largest single transfer c accepts.
func maxTxSize(c spi.Conn) int {
	if l, ok := c.(conn.Limits); ok {
		if n := l.MaxTxSize(); n > 0 {
			return n
		}
	}
	return 4096
}

// txChunked shifts w (and r when not nil) keeping CS asserted across the
// chunks the controller imposes.
func txChunked(c spi.Conn, max int, w, r []byte) error {
	if len(w) <= max {
		return c.Tx(w, r)
	}
	pkts := make([]spi.Packet, 0, (len(w)+max-1)/max)
	for off := 0; off < len(w); off += max {
		end := min(off+max, len(w))
		p := spi.Packet{W: w[off:end], KeepCS: end < len(w)}
		if r != nil {
			p.R = r[off:end]
		}
		pkts = append(pkts, p)
	}
	return c.TxPackets(pkts)
}
