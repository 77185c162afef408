//////////////////////////////////////////////////////////////////////////////
//
// Wayland wire format: every message is an 8-byte header (sender object id,
// then message size and opcode packed into one word) followed by the
// arguments, all in host byte order. File descriptor arguments travel
// out-of-band as SCM_RIGHTS ancillary data.
//
// Copyright 2020 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package wire

import (
	"encoding/binary"
	"unsafe"
)

const HeaderSize = 8

// The wire format uses the host's native byte order.
var nativeEndian binary.ByteOrder

func init() {
	x := uint16(1)
	if *(*byte)(unsafe.Pointer(&x)) == 1 {
		nativeEndian = binary.LittleEndian
	} else {
		nativeEndian = binary.BigEndian
	}
}

// A single protocol message. Data holds the arguments without the header.
type Message struct {
	Object uint32
	Opcode uint16
	Data   []byte
	FDs    []int
}

func (m *Message) Size() int {
	return HeaderSize + len(m.Data)
}

// Marshal the message header and arguments into a contiguous byte slice.
func (m *Message) Marshal() []byte {
	buf := make([]byte, m.Size())
	nativeEndian.PutUint32(buf[0:], m.Object)
	nativeEndian.PutUint32(buf[4:], uint32(m.Size())<<16|uint32(m.Opcode))
	copy(buf[HeaderSize:], m.Data)
	return buf
}

// ParseHeader decodes a message header. size is the total message size,
// header included.
func ParseHeader(buf []byte) (object uint32, opcode uint16, size int) {
	object = nativeEndian.Uint32(buf[0:])
	word := nativeEndian.Uint32(buf[4:])
	opcode = uint16(word & 0xffff)
	size = int(word >> 16)
	return
}

// Pad n up to the next 32-bit boundary.
func pad(n int) int {
	return (n + 3) &^ 3
}
