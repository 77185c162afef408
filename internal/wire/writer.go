package wire

// Writer builds the argument payload for one outgoing message.
type Writer struct {
	msg Message
}

func NewMessage(object uint32, opcode uint16) *Writer {
	return &Writer{Message{Object: object, Opcode: opcode}}
}

func (w *Writer) PutUint(v uint32) *Writer {
	var b [4]byte
	nativeEndian.PutUint32(b[:], v)
	w.msg.Data = append(w.msg.Data, b[:]...)
	return w
}

func (w *Writer) PutInt(v int32) *Writer {
	return w.PutUint(uint32(v))
}

// Strings are length-prefixed (including the terminating NUL) and padded to
// a 32-bit boundary.
func (w *Writer) PutString(s string) *Writer {
	w.PutUint(uint32(len(s) + 1))
	w.msg.Data = append(w.msg.Data, s...)
	w.msg.Data = append(w.msg.Data, 0)
	for len(w.msg.Data)%4 != 0 {
		w.msg.Data = append(w.msg.Data, 0)
	}
	return w
}

// File descriptors take no space in the argument payload; they are queued
// for the ancillary data of the sendmsg call.
func (w *Writer) PutFd(fd int) *Writer {
	w.msg.FDs = append(w.msg.FDs, fd)
	return w
}

func (w *Writer) Message() *Message {
	return &w.msg
}
