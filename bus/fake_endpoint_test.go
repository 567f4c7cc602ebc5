package bus

import (
	"io"
	"time"
)

// fakeEndpoint is an in-memory transport.Endpoint backed by an io.Pipe,
// the same no-hardware test strategy the teacher uses for its pty-backed
// serial tests: production code reads/writes one end, the test drives the
// other. A single background goroutine drains the pipe into a channel so
// that a ReadTimeout call that gives up empty-handed never loses bytes
// that arrive a moment later.
type fakeEndpoint struct {
	r     *io.PipeReader
	w     *io.PipeWriter
	peerW *io.PipeWriter
	peerR *io.PipeReader

	chunks chan []byte
}

func newFakeEndpoint() *fakeEndpoint {
	r1, w1 := io.Pipe() // test -> bus
	r2, w2 := io.Pipe() // bus -> test
	f := &fakeEndpoint{r: r1, w: w2, peerW: w1, peerR: r2, chunks: make(chan []byte, 256)}
	go f.drain()
	return f
}

func (f *fakeEndpoint) drain() {
	for {
		buf := make([]byte, 512)
		n, err := f.r.Read(buf)
		if n > 0 {
			f.chunks <- buf[:n]
		}
		if err != nil {
			return
		}
	}
}

func (f *fakeEndpoint) Name() string   { return "fake" }
func (f *fakeEndpoint) Connect() error { return nil }
func (f *fakeEndpoint) Close() error {
	f.w.Close()
	f.peerW.Close()
	return nil
}

func (f *fakeEndpoint) Write(p []byte) (int, error) {
	return f.w.Write(p)
}

// ReadTimeout returns the next drained chunk, or a deadline-exceeded style
// error (net.Error with Timeout()==true) if none arrives in time — mirrors
// the TCP/serial endpoints' ReadTimeout contract.
func (f *fakeEndpoint) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	select {
	case chunk := <-f.chunks:
		return copy(p, chunk), nil
	case <-time.After(timeout):
		return 0, fakeTimeoutErr{}
	}
}

// feed writes bytes as if the remote device sent them.
func (f *fakeEndpoint) feed(data []byte) {
	f.peerW.Write(data)
}

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "fake: timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }
