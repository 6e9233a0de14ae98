// Package npyappend writes numpy .npy files row by row. The header is
// written with the running shape and rewritten in place on Close, so the
// file is a valid array after any clean shutdown.
package npyappend

import (
	"encoding/binary"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/gaitlab/emgrecv/internal/getbytes"
)

// headerLen is the fixed, padded length of the .npy header. Keeping it
// constant lets writeHeader overwrite the header in place as the shape
// grows.
const headerLen = 128

// NpyAppender appends items of type T to a .npy file. T may be a scalar,
// a fixed-size array, or a slice (call SetSliceLength before the first
// Append when T is a slice).
type NpyAppender[T any] struct {
	filename string
	file     *os.File
	shape    []int
}

// NewNpyAppender creates the file and writes an initial (zero-row) header.
func NewNpyAppender[T any](filename string) (*NpyAppender[T], error) {
	file, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	var dummy T

	a := &NpyAppender[T]{
		filename: filename,
		file:     file,
		shape:    shapeFrom(reflect.ValueOf(dummy)),
	}
	if err := a.writeHeader(); err != nil {
		file.Close()
		return nil, err
	}
	return a, nil
}

// Append writes one item and grows the recorded shape. Scalar and float
// types take a no-copy path through getbytes; anything else falls back to
// binary.Write.
func (a *NpyAppender[T]) Append(item T) error {
	if b := bytesFrom(item); b != nil {
		if _, err := a.file.Write(b); err != nil {
			return err
		}
	} else if err := binary.Write(a.file, binary.LittleEndian, item); err != nil {
		return err
	}
	a.shape[0]++
	return nil
}

// SetSliceLength sets the row length when T is a slice type. It must be
// called before the first Append.
func (a *NpyAppender[T]) SetSliceLength(length int) error {
	if a.shape[0] > 0 {
		return fmt.Errorf("cannot set slice length after appending")
	}
	if len(a.shape) < 2 {
		return fmt.Errorf("item type is not a slice")
	}
	a.shape[1] = length
	return nil
}

// RefreshHeader rewrites the header with the current shape, making the
// file readable by numpy without closing it.
func (a *NpyAppender[T]) RefreshHeader() error {
	return a.writeHeader()
}

// Tell returns the file size in bytes.
func (a *NpyAppender[T]) Tell() int64 {
	info, err := a.file.Stat()
	if err != nil {
		return -1
	}
	return info.Size()
}

// Close rewrites the header with the final shape, then closes the file.
func (a *NpyAppender[T]) Close() error {
	if err := a.writeHeader(); err != nil {
		a.file.Close()
		return err
	}
	return a.file.Close()
}

func (a *NpyAppender[T]) writeHeader() error {
	var dummy T
	const magic = "\x93NUMPY\x01\x00"
	body := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }",
		dtypeFrom(reflect.TypeOf(dummy)), shapeString(a.shape))
	// Two bytes after the magic hold the remaining header length.
	remaining := headerLen - len(magic) - 2
	if len(body) >= remaining {
		return fmt.Errorf("npy header body too long (%d bytes)", len(body))
	}
	padding := strings.Repeat(" ", remaining-len(body)-1)
	header := fmt.Sprintf("%s%c%c%s%s\n", magic, byte(remaining), byte(remaining>>8), body, padding)

	if _, err := a.file.WriteAt([]byte(header), 0); err != nil {
		return err
	}
	_, err := a.file.Seek(0, 2)
	return err
}

// shapeString renders a shape as a Python tuple: (10,) or (10, 4).
func shapeString(shape []int) string {
	if len(shape) == 1 {
		return fmt.Sprintf("(%d,)", shape[0])
	}
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = fmt.Sprint(d)
	}
	return "(" + strings.Join(dims, ", ") + ")"
}

func shapeFrom(rv reflect.Value) []int {
	switch rv.Kind() {
	case reflect.Array:
		return []int{0, rv.Len()}
	case reflect.Slice:
		return []int{0, rv.Len()}
	default:
		return []int{0}
	}
}

// bytesFrom returns a no-copy byte view for the common row types, or nil
// when the caller should fall back to binary.Write.
func bytesFrom(item any) []byte {
	switch x := item.(type) {
	case float64:
		return getbytes.FromFloat64(x)
	case float32:
		return getbytes.FromFloat32(x)
	case []float64:
		return getbytes.FromSliceFloat64(x)
	case []float32:
		return getbytes.FromSliceFloat32(x)
	case []uint16:
		return getbytes.FromSliceUint16(x)
	case [4]float64:
		return getbytes.FromSliceFloat64(x[:])
	}
	return nil
}

func dtypeFrom(rt reflect.Type) string {
	switch rt.Kind() {
	case reflect.Bool:
		return "|b1"
	case reflect.Uint8:
		return "|u1"
	case reflect.Uint16:
		return "<u2"
	case reflect.Uint32:
		return "<u4"
	case reflect.Uint, reflect.Uint64:
		return "<u8"
	case reflect.Int8:
		return "|i1"
	case reflect.Int16:
		return "<i2"
	case reflect.Int32:
		return "<i4"
	case reflect.Int, reflect.Int64:
		return "<i8"
	case reflect.Float32:
		return "<f4"
	case reflect.Float64:
		return "<f8"
	case reflect.Array, reflect.Slice:
		return dtypeFrom(rt.Elem())
	}
	panic(fmt.Sprintf("npyappend: unsupported item type %v", rt))
}
