// Package evereg holds the register maps of the EVE chip families.
//
// Only the registers the host layer needs are listed: the command FIFO
// window, its read and write pointers, the ID register and the coprocessor
// reset control. Everything else is reachable through plain addresses.
package evereg

import (
	"fmt"
	"strings"
)

// ID is the value REG_ID holds once the chip is running.
const ID = 0x7C

// CmdFault is the value REG_CMD_READ takes when the coprocessor hit an
// invalid command. Valid cursors are always 4-byte aligned so it never
// collides with one.
const CmdFault = 0xFFF

// ROMChipID is the address of the chip identification word in ROM.
const ROMChipID = 0x0C0000

// HostCmd is a host command opcode, sent with frame.Host.
type HostCmd byte

// Host commands.
const (
	Active   HostCmd = 0x00
	Standby  HostCmd = 0x41
	Sleep    HostCmd = 0x42
	ClkExt   HostCmd = 0x44
	ClkInt   HostCmd = 0x48
	PwrDown  HostCmd = 0x50
	ClkSel   HostCmd = 0x61
	RstPulse HostCmd = 0x68
)

// Model describes one chip family.
type Model struct {
	Name string

	RAMDL  uint32 // display list RAM
	RAMCmd uint32 // command FIFO window
	// CmdSize is the command FIFO capacity in bytes.
	CmdSize uint32

	RegID       uint32
	RegCPUReset uint32
	RegCmdRead  uint32
	RegCmdWrite uint32
	RegCmdDL    uint32
}

// FT80x covers FT800 and FT801.
var FT80x = Model{
	Name:        "FT80x",
	RAMDL:       0x100000,
	RAMCmd:      0x108000,
	CmdSize:     4096,
	RegID:       0x102400,
	RegCPUReset: 0x10241C,
	RegCmdRead:  0x1024E4,
	RegCmdWrite: 0x1024E8,
	RegCmdDL:    0x1024EC,
}

// FT81x covers FT810 to FT813.
var FT81x = Model{
	Name:        "FT81x",
	RAMDL:       0x300000,
	RAMCmd:      0x308000,
	CmdSize:     4096,
	RegID:       0x302000,
	RegCPUReset: 0x302020,
	RegCmdRead:  0x3020F8,
	RegCmdWrite: 0x3020FC,
	RegCmdDL:    0x302100,
}

// BT81x covers BT815 to BT818. The registers used here sit where FT81x has
// them.
var BT81x = Model{
	Name:        "BT81x",
	RAMDL:       FT81x.RAMDL,
	RAMCmd:      FT81x.RAMCmd,
	CmdSize:     FT81x.CmdSize,
	RegID:       FT81x.RegID,
	RegCPUReset: FT81x.RegCPUReset,
	RegCmdRead:  FT81x.RegCmdRead,
	RegCmdWrite: FT81x.RegCmdWrite,
	RegCmdDL:    FT81x.RegCmdDL,
}

// Models lists the known chip families.
var Models = []*Model{&FT80x, &FT81x, &BT81x}

// ByName returns the model with the given name, case insensitive.
func ByName(name string) (*Model, error) {
	for _, m := range Models {
		if strings.EqualFold(m.Name, name) {
			return m, nil
		}
	}
	return nil, fmt.Errorf("evereg: unknown model %q", name)
}

func (m *Model) String() string {
	return m.Name
}
