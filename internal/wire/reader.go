package wire

import (
	"github.com/pkg/errors"
)

// Reader decodes the argument payload of one incoming message. Errors stick:
// after the first short read every accessor returns a zero value, so event
// decoders can read all arguments and check Err() once.
type Reader struct {
	data []byte
	off  int
	err  error

	// Pops the next received file descriptor, in arrival order.
	takeFd func() (int, error)
}

func NewReader(data []byte, takeFd func() (int, error)) *Reader {
	return &Reader{data: data, takeFd: takeFd}
}

func (r *Reader) Uint() uint32 {
	if r.err != nil {
		return 0
	}
	if r.off+4 > len(r.data) {
		r.err = errors.Errorf("argument overruns message: %d of %d bytes", r.off+4, len(r.data))
		return 0
	}
	v := nativeEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *Reader) Int() int32 {
	return int32(r.Uint())
}

func (r *Reader) String() string {
	n := int(r.Uint())
	if r.err != nil {
		return ""
	}
	if n == 0 || r.off+pad(n) > len(r.data) {
		r.err = errors.Errorf("malformed string argument: length %d", n)
		return ""
	}
	// Length includes the terminating NUL.
	s := string(r.data[r.off : r.off+n-1])
	r.off += pad(n)
	return s
}

func (r *Reader) Fd() int {
	if r.err != nil {
		return -1
	}
	if r.takeFd == nil {
		r.err = errors.New("no file descriptor source")
		return -1
	}
	fd, err := r.takeFd()
	if err != nil {
		r.err = err
		return -1
	}
	return fd
}

func (r *Reader) Err() error {
	return r.err
}
