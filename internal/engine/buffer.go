package engine

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ncw/directio"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Buffer is a registered io buffer. The memory must not be freed,
// resized or mutated by the caller while an operation referencing it is
// outstanding.
type Buffer struct {
	data   []byte
	pinned bool
}

// Bytes returns the underlying memory of the buffer.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Size returns the buffer length in bytes.
func (b *Buffer) Size() int {
	return len(b.data)
}

// registry tracks the buffers registered with an engine so they can be
// released in bulk at shutdown
type registry struct {
	mu   sync.Mutex
	bufs map[*Buffer]struct{}
	pin  bool
}

func newRegistry(pin bool) *registry {
	return &registry{
		bufs: make(map[*Buffer]struct{}),
		pin:  pin,
	}
}

// register optionally pins the buffer and adds it to the tracking set
func (r *registry) register(b *Buffer) {
	if r.pin {
		// pinning is best effort, an unpinned buffer still works
		// with buffered io and merely risks page faults mid
		// transfer under direct io
		if err := unix.Mlock(b.data); err != nil {
			logrus.WithError(err).Warn("mlock failed, buffer will not be pinned")
		} else {
			b.pinned = true
		}
	}

	r.mu.Lock()
	r.bufs[b] = struct{}{}
	r.mu.Unlock()
}

// release unpins the buffer and removes it from the tracking set
func (r *registry) release(b *Buffer) error {
	r.mu.Lock()
	_, ok := r.bufs[b]
	delete(r.bufs, b)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("buffer is not registered")
	}

	if b.pinned {
		b.pinned = false
		return unix.Munlock(b.data)
	}

	return nil
}

// releaseAll releases every registered buffer, returning the first
// error encountered
func (r *registry) releaseAll() error {
	r.mu.Lock()
	bufs := make([]*Buffer, 0, len(r.bufs))
	for b := range r.bufs {
		bufs = append(bufs, b)
	}
	r.mu.Unlock()

	var firstErr error
	for _, b := range bufs {
		if err := r.release(b); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// AllocBuffer allocates a new page aligned buffer of the given size and
// registers it with the engine. The returned buffer satisfies the
// direct io alignment contract as long as size is a multiple of the
// filesystem block size.
func (e *Engine) AllocBuffer(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("buffer size must be positive, got %d", size)
	}

	b := &Buffer{data: directio.AlignedBlock(size)}
	e.reg.register(b)

	return b, nil
}

// Register wraps caller owned memory in a Buffer and registers it with
// the engine. Under direct io the memory address and length must be
// block aligned, otherwise registration fails with AlignmentError.
func (e *Engine) Register(data []byte) (*Buffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot register an empty buffer")
	}

	if e.cfg.DirectIO {
		if !directio.IsAligned(data) {
			return nil, &AlignmentError{
				What:      "address",
				Value:     int64(uintptr(unsafe.Pointer(&data[0]))),
				Alignment: directio.AlignSize,
			}
		}
		if len(data)%directio.BlockSize != 0 {
			return nil, &AlignmentError{
				What:      "size",
				Value:     int64(len(data)),
				Alignment: directio.BlockSize,
			}
		}
	}

	b := &Buffer{data: data}
	e.reg.register(b)

	return b, nil
}

// Release unpins and deregisters a buffer. The caller must not release
// a buffer while an operation referencing it is outstanding.
func (e *Engine) Release(b *Buffer) error {
	return e.reg.release(b)
}
