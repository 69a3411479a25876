// Package engine implements a bounded asynchronous block io engine: a
// fixed pool of workers performing positioned reads and writes in block
// sized chunks, fed by a depth limited request queue. Callers register
// page aligned buffers, submit read or write operations against file
// paths, and wait for completion either per operation or per batch.
package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ncw/directio"
)

// Direction selects between read and write operations.
type Direction int

const (
	// OpRead transfers bytes from the file into the buffer
	OpRead Direction = iota

	// OpWrite transfers bytes from the buffer into the file
	OpWrite
)

func (d Direction) String() string {
	if d == OpRead {
		return "read"
	}
	return "write"
}

// Config holds the construction parameters for an engine.
type Config struct {
	// chunk size for positioned io in bytes, must be a positive
	// power of two. requests larger than one block are split into
	// sequential block sized transfers
	BlockSize int

	// maximum number of in flight (submitted, not yet completed)
	// operations
	QueueDepth int

	// number of worker goroutines performing io
	Workers int

	// open target files with o_direct, bypassing the page cache.
	// requires aligned buffers and offsets
	DirectIO bool

	// mlock registered buffers so their pages cannot be swapped out
	// while io is outstanding
	PinBuffers bool

	// reject submissions with QueueFullError when the queue is at
	// capacity instead of blocking the caller
	NonBlocking bool
}

// NewConfig returns a Config with defaults matching a typical nvme
// benchmarking setup.
func NewConfig() Config {
	return Config{
		BlockSize:  2 * 1024 * 1024, // 2 MiB blocks
		QueueDepth: 64,              // common nvme queue depth
		Workers:    16,              // enough workers to keep the queue busy
	}
}

// Operation is the handle for one submitted request. It is created by
// the submit calls, immutable afterwards, and completed exactly once by
// a worker.
type Operation struct {
	dir    Direction
	path   string
	offset int64
	buf    *Buffer

	// closed by the executing worker once the result fields are set
	done  chan struct{}
	bytes int64
	err   error
}

// Direction returns whether this operation is a read or a write.
func (op *Operation) Direction() Direction {
	return op.dir
}

// Path returns the target file of the operation.
func (op *Operation) Path() string {
	return op.path
}

// Offset returns the starting byte offset of the operation.
func (op *Operation) Offset() int64 {
	return op.offset
}

// Wait blocks until this operation completes or fails and returns its
// result.
func (op *Operation) Wait() Result {
	<-op.done
	return Result{Op: op, Bytes: op.bytes, Err: op.err}
}

// Result reports the outcome of one completed operation.
type Result struct {
	// the completed operation handle
	Op *Operation

	// bytes actually transferred, may be short on a read past eof
	Bytes int64

	// nil on success, otherwise usually an *IOError
	Err error
}

// Ok reports whether the operation succeeded.
func (r Result) Ok() bool {
	return r.Err == nil
}

// Stats is a snapshot of the engine's cumulative counters.
type Stats struct {
	Submitted uint64 // operations accepted by submit
	Completed uint64 // operations finished, failures included
	Reads     uint64 // completed read operations
	Writes    uint64 // completed write operations
	InFlight  uint64 // submitted minus completed
}

// Engine drives the request queue, the worker pool and the buffer
// registry. All methods are safe for concurrent use.
type Engine struct {
	cfg Config
	reg *registry

	// fifo dispatch channel to the worker pool
	requests chan *Operation

	// queue depth semaphore, one token per in flight operation
	slots chan struct{}

	// worker pool lifetime
	wg sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	pending []*Operation // submitted since the last Wait

	submitted atomic.Uint64
	completed atomic.Uint64
	reads     atomic.Uint64
	writes    atomic.Uint64
}

// Open validates cfg and starts the worker pool. It fails with
// EngineInitError if the block size is not a positive power of two or
// the queue depth or worker count is below one. Direct io support on
// the target filesystem is validated lazily at first file open and
// surfaces as an IOError at wait time.
func Open(cfg Config) (*Engine, error) {
	if cfg.BlockSize <= 0 || cfg.BlockSize&(cfg.BlockSize-1) != 0 {
		return nil, &EngineInitError{Param: "block_size", Value: cfg.BlockSize, Reason: "must be a positive power of two"}
	}
	if cfg.QueueDepth < 1 {
		return nil, &EngineInitError{Param: "queue_depth", Value: cfg.QueueDepth, Reason: "must be at least 1"}
	}
	if cfg.Workers < 1 {
		return nil, &EngineInitError{Param: "workers", Value: cfg.Workers, Reason: "must be at least 1"}
	}

	e := &Engine{
		cfg: cfg,
		reg: newRegistry(cfg.PinBuffers),

		// the slot semaphore guarantees at most QueueDepth
		// operations are outstanding, so a channel of the same
		// capacity can never block a send
		requests: make(chan *Operation, cfg.QueueDepth),
		slots:    make(chan struct{}, cfg.QueueDepth),
	}

	// launch the fixed worker pool
	for i := 0; i < cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}

	return e, nil
}

// Config returns the configuration the engine was opened with.
func (e *Engine) Config() Config {
	return e.cfg
}

// SubmitWrite queues a positioned write of the whole buffer to path at
// offset. It blocks while the queue is at capacity unless the engine
// was opened in non-blocking mode.
func (e *Engine) SubmitWrite(buf *Buffer, path string, offset int64) (*Operation, error) {
	return e.submit(OpWrite, buf, path, offset)
}

// SubmitRead queues a positioned read from path at offset into the
// buffer. It blocks while the queue is at capacity unless the engine
// was opened in non-blocking mode.
func (e *Engine) SubmitRead(buf *Buffer, path string, offset int64) (*Operation, error) {
	return e.submit(OpRead, buf, path, offset)
}

func (e *Engine) submit(dir Direction, buf *Buffer, path string, offset int64) (*Operation, error) {
	// validate before taking a queue slot so a rejected submission
	// leaves the queue untouched
	if err := e.checkRequest(buf, offset); err != nil {
		return nil, err
	}

	// acquire a slot, honoring the configured full queue policy
	if e.cfg.NonBlocking {
		select {
		case e.slots <- struct{}{}:
		default:
			return nil, &QueueFullError{Depth: e.cfg.QueueDepth}
		}
	} else {
		e.slots <- struct{}{}
	}

	op := &Operation{
		dir:    dir,
		path:   path,
		offset: offset,
		buf:    buf,
		done:   make(chan struct{}),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		// return the slot we took
		<-e.slots
		return nil, ErrEngineClosed
	}
	e.pending = append(e.pending, op)
	e.submitted.Add(1)
	// cannot block, capacity is guaranteed by the slot we hold
	e.requests <- op
	e.mu.Unlock()

	return op, nil
}

// checkRequest enforces the direct io alignment contract on the buffer
// address, buffer size and file offset
func (e *Engine) checkRequest(buf *Buffer, offset int64) error {
	if buf == nil || len(buf.data) == 0 {
		return fmt.Errorf("nil or empty buffer")
	}
	if offset < 0 {
		return fmt.Errorf("negative offset %d", offset)
	}

	if !e.cfg.DirectIO {
		return nil
	}

	if !directio.IsAligned(buf.data) {
		return &AlignmentError{
			What:      "address",
			Value:     int64(uintptr(unsafe.Pointer(&buf.data[0]))),
			Alignment: directio.AlignSize,
		}
	}
	if len(buf.data)%directio.BlockSize != 0 {
		return &AlignmentError{What: "size", Value: int64(len(buf.data)), Alignment: directio.BlockSize}
	}
	if offset%int64(directio.BlockSize) != 0 {
		return &AlignmentError{What: "offset", Value: offset, Alignment: directio.BlockSize}
	}

	return nil
}

// Wait blocks until every operation submitted since the last Wait has
// completed and returns their results in submission order. Completion
// is binary per operation, failed requests are reported alongside
// successful ones.
func (e *Engine) Wait() []Result {
	e.mu.Lock()
	ops := e.pending
	e.pending = nil
	e.mu.Unlock()

	results := make([]Result, 0, len(ops))
	for _, op := range ops {
		results = append(results, op.Wait())
	}
	return results
}

// Close drains in flight requests, joins the worker pool and releases
// every registered buffer. Submissions after Close fail with
// ErrEngineClosed. Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	// closing the dispatch channel lets workers drain whatever is
	// queued before exiting
	close(e.requests)
	e.mu.Unlock()

	e.wg.Wait()

	return e.reg.releaseAll()
}

// Stats returns a snapshot of the cumulative engine counters.
func (e *Engine) Stats() Stats {
	submitted := e.submitted.Load()
	completed := e.completed.Load()
	return Stats{
		Submitted: submitted,
		Completed: completed,
		Reads:     e.reads.Load(),
		Writes:    e.writes.Load(),
		InFlight:  submitted - completed,
	}
}
