package getbytes

import (
	"encoding/hex"
	"testing"
)

func TestFromSlice(t *testing.T) {
	var tests = []struct {
		bytes  []byte
		expect string
	}{
		{FromSlice([]uint8{0xAB, 0xCD, 0xEF, 0x01}), "abcdef01"},
		{FromSlice([]uint16{0xABCD, 0xEF01}), "cdab01ef"},
		{FromSlice([]uint32{0xABCDEF01, 0x23456789}), "01efcdab89674523"},
		{FromSlice([]int32{1, 2}), "0100000002000000"},
		{FromSlice([]float32{1, 2}), "0000803f00000040"},
		{FromSlice([]float64{2, 4}), "00000000000000400000000000001040"},
		{FromSlice([]uint32{}), ""},
		{FromSlice([]float64(nil)), ""},
	}
	for i, test := range tests {
		if have := hex.EncodeToString(test.bytes); have != test.expect {
			t.Errorf("test %d: have %v, want %v", i, have, test.expect)
		}
	}
}

func TestFromSharesStorage(t *testing.T) {
	d := []uint32{0, 0}
	b := FromSlice(d)
	b[4] = 7
	if d[1] != 7 {
		t.Errorf("FromSlice result does not share storage: d=%v", d)
	}
	for _, n := range []int{len(From(uint8(1))), len(From(int16(1))), len(From(float32(1))), len(From(uint64(1)))} {
		if n != 1 && n != 2 && n != 4 && n != 8 {
			t.Errorf("From returned %d bytes", n)
		}
	}
	if len(From(float64(1))) != 8 {
		t.Error("From(float64) should return 8 bytes")
	}
}
