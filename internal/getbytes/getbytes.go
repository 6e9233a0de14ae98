// Package getbytes converts numeric values and slices to raw []byte views
// without copying, for writing binary file formats.
package getbytes

import (
	"unsafe"
)

// FromFloat32 converts a float32 to []byte using unsafe
func FromFloat32(d float32) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&d)), unsafe.Sizeof(d))
}

// FromFloat64 converts a float64 to []byte using unsafe
func FromFloat64(d float64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&d)), unsafe.Sizeof(d))
}

// FromSliceFloat32 converts a []float32 to []byte using unsafe
func FromSliceFloat32(d []float32) []byte {
	if len(d) == 0 {
		return []byte{}
	}
	outlength := uintptr(len(d)) * unsafe.Sizeof(d[0])
	return unsafe.Slice((*byte)(unsafe.Pointer(&d[0])), outlength)
}

// FromSliceFloat64 converts a []float64 to []byte using unsafe
func FromSliceFloat64(d []float64) []byte {
	if len(d) == 0 {
		return []byte{}
	}
	outlength := uintptr(len(d)) * unsafe.Sizeof(d[0])
	return unsafe.Slice((*byte)(unsafe.Pointer(&d[0])), outlength)
}

// FromSliceUint16 converts a []uint16 to []byte using unsafe
func FromSliceUint16(d []uint16) []byte {
	if len(d) == 0 {
		return []byte{}
	}
	outlength := uintptr(len(d)) * unsafe.Sizeof(d[0])
	return unsafe.Slice((*byte)(unsafe.Pointer(&d[0])), outlength)
}
