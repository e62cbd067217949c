package polyfs

import "testing"

func TestFlagsHas(t *testing.T) {
	f := FlagFSIDVersion1 | FlagZlibCompression
	if !f.Has(FlagFSIDVersion1) {
		t.Errorf("Has(FlagFSIDVersion1) = false, want true")
	}
	if !f.Has(FlagZlibCompression) {
		t.Errorf("Has(FlagZlibCompression) = false, want true")
	}
	if f.Has(FlagLZOCompression) {
		t.Errorf("Has(FlagLZOCompression) = true, want false")
	}
}

func TestFlagsString(t *testing.T) {
	cases := []struct {
		f    Flags
		want string
	}{
		{FlagFSIDVersion1, "FSID_VERSION_1"},
		{FlagFSIDVersion1 | FlagShiftedRootOffset, "FSID_VERSION_1|SHIFTED_ROOT_OFFSET"},
		{0, ""},
	}
	for _, c := range cases {
		if got := c.f.String(); got != c.want {
			t.Errorf("String() = %q, want %q", got, c.want)
		}
	}
}

func TestFlagsUnsupportedMask(t *testing.T) {
	f := Flags(1 << 31)
	if f&^SupportedFlags == 0 {
		t.Errorf("expected bit 31 to fall outside SupportedFlags")
	}
}
