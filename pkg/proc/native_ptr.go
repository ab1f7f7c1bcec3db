package proc

import "fmt"

// NativePtr is a byte address decomposed into the address of the field
// element containing it and the byte offset within that element. Each
// element holds 32 bits of native data.
type NativePtr struct {
	Addr   uint32
	Offset uint8
}

// NativePtrFromByteAddr decomposes a byte address.
func NativePtrFromByteAddr(addr uint32) NativePtr {
	return NativePtr{Addr: addr / 4, Offset: uint8(addr % 4)}
}

// NativePtrFromElementAddr returns a pointer to the start of an element.
func NativePtrFromElementAddr(addr uint32) NativePtr {
	return NativePtr{Addr: addr}
}

// IsElementAligned reports whether the pointer refers to the start of an
// element.
func (p NativePtr) IsElementAligned() bool {
	return p.Offset == 0
}

// IsWordAligned reports whether the pointer refers to the start of a word.
func (p NativePtr) IsWordAligned() bool {
	return p.Offset == 0 && p.Addr%4 == 0
}

// ByteAddr returns the byte address the pointer was built from.
func (p NativePtr) ByteAddr() uint64 {
	return uint64(p.Addr)*4 + uint64(p.Offset)
}

func (p NativePtr) String() string {
	if p.Offset == 0 {
		return fmt.Sprintf("%#x", p.Addr)
	}
	return fmt.Sprintf("%#x+%d", p.Addr, p.Offset)
}
