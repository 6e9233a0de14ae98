package getbytes

import (
	"encoding/hex"
	"testing"
)

func TestFromGetBytes(t *testing.T) {
	encodedStr := hex.EncodeToString(FromSliceUint16([]uint16{0xABCD, 0xEF01, 0x2345, 0x6789}))
	if expectStr := "cdab01ef45238967"; encodedStr != expectStr {
		t.Errorf("want %v, have %v", expectStr, encodedStr)
	}
	encodedStr = hex.EncodeToString(FromSliceFloat32([]float32{1, 2}))
	if expectStr := "0000803f00000040"; encodedStr != expectStr {
		t.Errorf("want %v, have %v", expectStr, encodedStr)
	}
	encodedStr = hex.EncodeToString(FromSliceFloat64([]float64{2}))
	if expectStr := "0000000000000040"; encodedStr != expectStr {
		t.Errorf("want %v, have %v", expectStr, encodedStr)
	}
	if len(FromFloat32(1.5)) != 4 {
		t.Error("wrong length")
	}
	if len(FromFloat64(1.5)) != 8 {
		t.Error("wrong length")
	}
	encodedStr = hex.EncodeToString(FromFloat64(2))
	if expectStr := "0000000000000040"; encodedStr != expectStr {
		t.Errorf("want %v, have %v", expectStr, encodedStr)
	}
	if len(FromSliceFloat64(nil)) != 0 {
		t.Error("empty slice should produce empty bytes")
	}
}
