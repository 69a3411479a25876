package engine

import (
	"os"

	"github.com/ncw/directio"
	"golang.org/x/sys/unix"
)

// worker pulls requests off the dispatch channel and runs them to
// completion. completion is signaled exactly once per operation,
// failures included, so a failed request never stalls the batch.
func (e *Engine) worker() {
	defer e.wg.Done()

	for op := range e.requests {
		op.bytes, op.err = e.execute(op)

		if op.dir == OpRead {
			e.reads.Add(1)
		} else {
			e.writes.Add(1)
		}
		e.completed.Add(1)

		// publish the result, then free the queue slot
		close(op.done)
		<-e.slots
	}
}

// execute performs one request as a sequence of block sized positioned
// io calls covering the buffer's byte range
func (e *Engine) execute(op *Operation) (int64, error) {
	f, err := e.openFile(op)
	if err != nil {
		return 0, wrapIOError(err, op.path, op.offset)
	}
	defer f.Close()

	fd := int(f.Fd())
	data := op.buf.data
	offset := op.offset

	var total int64
	for len(data) > 0 {
		// clamp this transfer to the configured block size
		chunk := data
		if len(chunk) > e.cfg.BlockSize {
			chunk = chunk[:e.cfg.BlockSize]
		}

		var n int
		if op.dir == OpWrite {
			n, err = unix.Pwrite(fd, chunk, offset)
		} else {
			n, err = unix.Pread(fd, chunk, offset)
		}
		if err != nil {
			return total, wrapIOError(err, op.path, offset)
		}
		if n == 0 {
			// eof on a read, report the short transfer
			break
		}

		total += int64(n)
		offset += int64(n)
		data = data[n:]
	}

	return total, nil
}

// openFile opens the request target with flags matching the engine
// configuration. writes may create the file, reads never do.
func (e *Engine) openFile(op *Operation) (*os.File, error) {
	flags := os.O_RDONLY
	if op.dir == OpWrite {
		flags = os.O_WRONLY | os.O_CREATE
	}

	if e.cfg.DirectIO {
		return directio.OpenFile(op.path, flags, 0644)
	}
	return os.OpenFile(op.path, flags, 0644)
}
