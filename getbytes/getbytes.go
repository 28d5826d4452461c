// Package getbytes views numeric slices as byte slices without copying.
package getbytes

import (
	"unsafe"
)

// Number is the set of fixed-size numeric types that can be viewed as bytes.
type Number interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~int8 | ~int16 | ~int32 | ~int64 |
		~float32 | ~float64
}

// FromSlice returns the bytes of d in host byte order. The result shares
// storage with d.
func FromSlice[T Number](d []T) []byte {
	if len(d) == 0 {
		return []byte{}
	}
	n := uintptr(len(d)) * unsafe.Sizeof(d[0])
	return unsafe.Slice((*byte)(unsafe.Pointer(&d[0])), n)
}

// From returns the bytes of one value in host byte order.
func From[T Number](d T) []byte {
	return FromSlice([]T{d})
}
