package engine

import (
	"bytes"
	"errors"
	"fmt"
	mathrand "math/rand"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// newTestEngine opens an engine with small defaults suitable for tests
func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()

	if cfg.BlockSize == 0 {
		cfg.BlockSize = 4096
	}
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = 4
	}
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}

	eng, err := Open(cfg)
	require.NoError(t, err)
	return eng
}

// fillRandom populates a buffer with pseudo random bytes
func fillRandom(t *testing.T, b *Buffer) {
	t.Helper()
	_, err := mathrand.New(mathrand.NewSource(time.Now().UnixNano())).Read(b.Bytes())
	require.NoError(t, err)
}

func TestOpenValidatesConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero block size", Config{BlockSize: 0, QueueDepth: 4, Workers: 2}},
		{"negative block size", Config{BlockSize: -4096, QueueDepth: 4, Workers: 2}},
		{"non power of two block size", Config{BlockSize: 3000, QueueDepth: 4, Workers: 2}},
		{"zero queue depth", Config{BlockSize: 4096, QueueDepth: 0, Workers: 2}},
		{"zero workers", Config{BlockSize: 4096, QueueDepth: 4, Workers: 0}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Open(tc.cfg)
			require.Error(t, err)

			var initErr *EngineInitError
			assert.True(t, errors.As(err, &initErr))
		})
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	eng := newTestEngine(t, Config{})
	defer eng.Close()

	path := filepath.Join(t.TempDir(), "roundtrip.dat")

	// write 16k of random data, spanning several blocks
	wbuf, err := eng.AllocBuffer(16384)
	require.NoError(t, err)
	fillRandom(t, wbuf)

	_, err = eng.SubmitWrite(wbuf, path, 0)
	require.NoError(t, err)

	results := eng.Wait()
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, int64(16384), results[0].Bytes)

	// read the same region back into a fresh buffer
	rbuf, err := eng.AllocBuffer(16384)
	require.NoError(t, err)

	_, err = eng.SubmitRead(rbuf, path, 0)
	require.NoError(t, err)

	results = eng.Wait()
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, int64(16384), results[0].Bytes)

	assert.True(t, bytes.Equal(wbuf.Bytes(), rbuf.Bytes()), "read data differs from written data")
}

// the scenario from the engine contract: four 1 MiB writes at increasing
// offsets into one file, then four reads of the same regions
func TestConcurrentWritesAtOffsets(t *testing.T) {
	const mib = 1 << 20

	eng := newTestEngine(t, Config{BlockSize: mib, QueueDepth: 4, Workers: 2})
	defer eng.Close()

	path := filepath.Join(t.TempDir(), "offsets.dat")

	// submit all four writes before waiting
	wbufs := make([]*Buffer, 4)
	for i := range wbufs {
		var err error
		wbufs[i], err = eng.AllocBuffer(mib)
		require.NoError(t, err)
		fillRandom(t, wbufs[i])

		_, err = eng.SubmitWrite(wbufs[i], path, int64(i)*mib)
		require.NoError(t, err)
	}

	results := eng.Wait()
	require.Len(t, results, 4)
	for _, res := range results {
		require.NoError(t, res.Err)
		assert.Equal(t, int64(mib), res.Bytes)
	}

	// read each region back and compare
	for i, wbuf := range wbufs {
		rbuf, err := eng.AllocBuffer(mib)
		require.NoError(t, err)

		_, err = eng.SubmitRead(rbuf, path, int64(i)*mib)
		require.NoError(t, err)

		results := eng.Wait()
		require.Len(t, results, 1)
		require.NoError(t, results[0].Err)
		assert.True(t, bytes.Equal(wbuf.Bytes(), rbuf.Bytes()), "region %d differs", i)
	}
}

func TestWaitCompletesExactlyN(t *testing.T) {
	const submitters = 4
	const perSubmitter = 5

	eng := newTestEngine(t, Config{QueueDepth: 8, Workers: 4})
	defer eng.Close()

	dir := t.TempDir()

	// submit from several goroutines at once
	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			buf, err := eng.AllocBuffer(4096)
			require.NoError(t, err)

			for j := 0; j < perSubmitter; j++ {
				path := filepath.Join(dir, fmt.Sprintf("n_%d_%d.dat", id, j))
				_, err := eng.SubmitWrite(buf, path, 0)
				require.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	// a single wait completes every submitted operation, no more,
	// no fewer
	results := eng.Wait()
	require.Len(t, results, submitters*perSubmitter)
	for _, res := range results {
		require.NoError(t, res.Err)
	}

	// nothing is left pending
	assert.Empty(t, eng.Wait())

	stats := eng.Stats()
	assert.Equal(t, uint64(submitters*perSubmitter), stats.Submitted)
	assert.Equal(t, uint64(submitters*perSubmitter), stats.Completed)
	assert.Equal(t, uint64(0), stats.InFlight)
}

// mkfifo gives the test a file whose open blocks until a peer arrives,
// letting it hold queue slots occupied deterministically
func mkfifo(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, unix.Mkfifo(path, 0644))
	return path
}

// releaseFifo unblocks one pending fifo read by opening the write side
// and closing it, which delivers eof to the reader
func releaseFifo(t *testing.T, path string) {
	t.Helper()
	w, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestNonBlockingSubmitQueueFull(t *testing.T) {
	eng := newTestEngine(t, Config{QueueDepth: 2, Workers: 1, NonBlocking: true})

	dir := t.TempDir()
	fifoA := mkfifo(t, dir, "a.fifo")
	fifoB := mkfifo(t, dir, "b.fifo")

	buf, err := eng.AllocBuffer(4096)
	require.NoError(t, err)

	// two reads against fifos occupy both queue slots, the worker
	// blocks opening the first
	_, err = eng.SubmitRead(buf, fifoA, 0)
	require.NoError(t, err)
	_, err = eng.SubmitRead(buf, fifoB, 0)
	require.NoError(t, err)

	// the queue is at capacity, a non-blocking submit is rejected
	_, err = eng.SubmitRead(buf, filepath.Join(dir, "c.dat"), 0)
	require.Error(t, err)

	var full *QueueFullError
	require.True(t, errors.As(err, &full))
	assert.Equal(t, 2, full.Depth)

	// draining the fifos frees the slots again
	releaseFifo(t, fifoA)
	releaseFifo(t, fifoB)
	results := eng.Wait()
	require.Len(t, results, 2)

	_, err = eng.SubmitWrite(buf, filepath.Join(dir, "c.dat"), 0)
	require.NoError(t, err)
	eng.Wait()

	require.NoError(t, eng.Close())
}

func TestBlockingSubmitWaitsForSlot(t *testing.T) {
	const holdTime = 150 * time.Millisecond

	eng := newTestEngine(t, Config{QueueDepth: 1, Workers: 1})

	dir := t.TempDir()
	fifo := mkfifo(t, dir, "hold.fifo")

	buf, err := eng.AllocBuffer(4096)
	require.NoError(t, err)

	// occupy the single queue slot with a read that cannot finish
	// until the fifo is released
	_, err = eng.SubmitRead(buf, fifo, 0)
	require.NoError(t, err)

	// free the slot after a known delay
	go func() {
		time.Sleep(holdTime)
		releaseFifo(t, fifo)
	}()

	// the second submit must block at least as long as the first
	// operation is held
	start := time.Now()
	_, err = eng.SubmitWrite(buf, filepath.Join(dir, "second.dat"), 0)
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, elapsed, holdTime/2, "submit returned before a slot was free")

	eng.Wait()
	require.NoError(t, eng.Close())
}

func TestMisalignedSubmitDoesNotConsumeSlot(t *testing.T) {
	eng := newTestEngine(t, Config{QueueDepth: 2, Workers: 1, DirectIO: true, NonBlocking: true})
	defer eng.Close()

	dir := t.TempDir()

	buf, err := eng.AllocBuffer(4096)
	require.NoError(t, err)

	// reject as many misaligned submissions as there are slots. if
	// any of them leaked a slot the valid submit below would be
	// rejected with QueueFullError
	for i := 0; i < 2; i++ {
		_, err := eng.SubmitWrite(buf, filepath.Join(dir, "mis.dat"), 123)
		require.Error(t, err)

		var alignErr *AlignmentError
		require.True(t, errors.As(err, &alignErr))
		assert.Equal(t, "offset", alignErr.What)
	}

	// the queue state is unaffected, an aligned submit is accepted.
	// the io itself may still fail if the filesystem rejects
	// o_direct, that is fine here
	_, err = eng.SubmitWrite(buf, filepath.Join(dir, "ok.dat"), 0)
	var full *QueueFullError
	assert.False(t, errors.As(err, &full), "misaligned submissions consumed queue slots")

	eng.Wait()
}

func TestReadMissingFileReportsIOError(t *testing.T) {
	eng := newTestEngine(t, Config{})
	defer eng.Close()

	dir := t.TempDir()

	buf, err := eng.AllocBuffer(4096)
	require.NoError(t, err)
	fillRandom(t, buf)

	// one doomed read alongside a valid write
	missing := filepath.Join(dir, "does_not_exist.dat")
	badOp, err := eng.SubmitRead(buf, missing, 0)
	require.NoError(t, err)
	goodOp, err := eng.SubmitWrite(buf, filepath.Join(dir, "good.dat"), 0)
	require.NoError(t, err)

	results := eng.Wait()
	require.Len(t, results, 2)

	for _, res := range results {
		switch res.Op {
		case badOp:
			require.Error(t, res.Err)
			var ioErr *IOError
			require.True(t, errors.As(res.Err, &ioErr))
			assert.Equal(t, syscall.ENOENT, ioErr.Errno)
			assert.Equal(t, missing, ioErr.Path)
		case goodOp:
			// the failure must not disturb the valid request
			require.NoError(t, res.Err)
			assert.Equal(t, int64(4096), res.Bytes)
		default:
			t.Fatalf("unexpected operation in results: %v", res.Op.Path())
		}
	}
}

func TestShortReadPastEOF(t *testing.T) {
	eng := newTestEngine(t, Config{})
	defer eng.Close()

	path := filepath.Join(t.TempDir(), "short.dat")

	// lay down 4k, then read 8k
	wbuf, err := eng.AllocBuffer(4096)
	require.NoError(t, err)
	fillRandom(t, wbuf)

	_, err = eng.SubmitWrite(wbuf, path, 0)
	require.NoError(t, err)
	eng.Wait()

	rbuf, err := eng.AllocBuffer(8192)
	require.NoError(t, err)

	op, err := eng.SubmitRead(rbuf, path, 0)
	require.NoError(t, err)

	res := op.Wait()
	require.NoError(t, res.Err)
	assert.Equal(t, int64(4096), res.Bytes, "read past eof should be short, not an error")
}

func TestOperationWaitSingleHandle(t *testing.T) {
	eng := newTestEngine(t, Config{})
	defer eng.Close()

	path := filepath.Join(t.TempDir(), "single.dat")

	buf, err := eng.AllocBuffer(4096)
	require.NoError(t, err)
	fillRandom(t, buf)

	op, err := eng.SubmitWrite(buf, path, 0)
	require.NoError(t, err)

	// waiting on the handle directly works without the batch wait
	res := op.Wait()
	require.NoError(t, res.Err)
	assert.Equal(t, int64(4096), res.Bytes)
	assert.Equal(t, OpWrite, res.Op.Direction())
	assert.True(t, res.Ok())
}

func TestCloseDrainsAndRejectsSubmits(t *testing.T) {
	eng := newTestEngine(t, Config{QueueDepth: 8, Workers: 2})

	dir := t.TempDir()

	buf, err := eng.AllocBuffer(4096)
	require.NoError(t, err)
	fillRandom(t, buf)

	// queue several writes and close without waiting
	ops := make([]*Operation, 0, 6)
	for i := 0; i < 6; i++ {
		op, err := eng.SubmitWrite(buf, filepath.Join(dir, fmt.Sprintf("drain_%d.dat", i)), 0)
		require.NoError(t, err)
		ops = append(ops, op)
	}

	require.NoError(t, eng.Close())

	// close drained everything that was queued
	for _, op := range ops {
		res := op.Wait()
		require.NoError(t, res.Err)
	}
	for i := 0; i < 6; i++ {
		_, err := os.Stat(filepath.Join(dir, fmt.Sprintf("drain_%d.dat", i)))
		require.NoError(t, err)
	}

	// submissions after close are rejected
	_, err = eng.SubmitWrite(buf, filepath.Join(dir, "late.dat"), 0)
	require.ErrorIs(t, err, ErrEngineClosed)

	// close is idempotent
	require.NoError(t, eng.Close())
}

func TestDirectionString(t *testing.T) {
	assert.Equal(t, "read", OpRead.String())
	assert.Equal(t, "write", OpWrite.String())
}
