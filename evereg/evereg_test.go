package evereg

import "testing"

func TestByName(t *testing.T) {
	tests := []struct {
		name    string
		want    *Model
		wantErr bool
	}{
		{"FT81x", &FT81x, false},
		{"ft80x", &FT80x, false},
		{"Bt81X", &BT81x, false},
		{"FT900", nil, true},
		{"", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ByName(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ByName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ByName(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestModelsLayout(t *testing.T) {
	for _, m := range Models {
		t.Run(m.Name, func(t *testing.T) {
			if m.CmdSize == 0 || m.CmdSize&(m.CmdSize-1) != 0 {
				t.Errorf("CmdSize %d is not a power of two", m.CmdSize)
			}
			if m.RegCmdWrite != m.RegCmdRead+4 {
				t.Errorf("REG_CMD_WRITE 0x%X should follow REG_CMD_READ 0x%X", m.RegCmdWrite, m.RegCmdRead)
			}
			if m.RAMCmd&0x3FFFFF != m.RAMCmd {
				t.Errorf("RAM_CMD 0x%X outside the address space", m.RAMCmd)
			}
			if m.String() != m.Name {
				t.Errorf("String() = %q", m.String())
			}
		})
	}
}
