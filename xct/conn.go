package xct

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joselara-terraform/xc2ctl/transport"
)

// DefaultTimeout is the per-exchange reply timeout, matching bus.Bus's
// command timeout order of magnitude since XCT shares the same link.
const DefaultTimeout = 2 * time.Second

// MaxReaderSize mirrors bus.MaxReaderSize: a chunk filling the read
// buffer exactly doesn't prove the line is incomplete or the timeout
// exhausted.
const MaxReaderSize = 1024

// Conn is a line-oriented request/response exchange over a
// transport.Endpoint: send one line, read lines back until a
// terminating OK/error line completes the reply, spec.md §3.
type Conn struct {
	endpoint transport.Endpoint
	log      *logrus.Entry

	mu  sync.Mutex
	buf []byte
}

// NewConn builds a Conn. Connect must be called before use.
func NewConn(endpoint transport.Endpoint, log *logrus.Entry) *Conn {
	return &Conn{endpoint: endpoint, log: log.WithField("proto", "xct")}
}

func (c *Conn) Connect() error {
	if err := c.endpoint.Connect(); err != nil {
		return err
	}
	c.log.Info("connected")
	return nil
}

func (c *Conn) Close() error { return c.endpoint.Close() }

// ClearBuffer discards any buffered trailing bytes.
func (c *Conn) ClearBuffer() {
	c.mu.Lock()
	c.buf = nil
	c.mu.Unlock()
}

// Send writes one request line terminated by "\n".
func (c *Conn) Send(line string) error {
	_, err := c.endpoint.Write([]byte(line + "\n"))
	return err
}

// ReadLine reads and returns the next "\n"-terminated line within
// timeout, buffering any bytes received past the line for the next
// call.
func (c *Conn) ReadLine(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	chunk := make([]byte, MaxReaderSize)
	for {
		c.mu.Lock()
		if idx := indexByte(c.buf, '\n'); idx >= 0 {
			line := string(c.buf[:idx])
			c.buf = c.buf[idx+1:]
			c.mu.Unlock()
			return line, nil
		}
		c.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", ErrXCTTimeout
		}
		n, err := c.endpoint.ReadTimeout(chunk, remaining)
		if n > 0 {
			c.mu.Lock()
			c.buf = append(c.buf, chunk[:n]...)
			c.mu.Unlock()
		}
		if err != nil {
			if n == 0 {
				return "", ErrXCTTimeout
			}
		}
		if n == MaxReaderSize {
			continue
		}
	}
}

// Exchange sends req and reads back the matching Response, spec.md §3.
func (c *Conn) Exchange(req Request, timeout time.Duration) (Response, error) {
	c.ClearBuffer()
	if err := c.Send(req.Encode()); err != nil {
		return Response{}, err
	}
	line, err := c.ReadLine(timeout)
	if err != nil {
		return Response{}, err
	}
	return ParseResponse(line)
}

// ErrXCTTimeout is returned when a reply line doesn't arrive in time.
var ErrXCTTimeout = errors.New("xct: timeout waiting for reply")

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// RestGet issues "REST GET <path>" and returns the raw payload line.
func RestGet(c *Conn, path string, timeout time.Duration) (string, error) {
	resp, err := c.Exchange(Request{Kind: KindRest, Text: "GET " + path}, timeout)
	if err != nil {
		return "", err
	}
	if !resp.OK {
		return "", fmt.Errorf("xct: REST GET %s: %w", path, &Error{Line: resp.Raw})
	}
	return resp.Payload, nil
}
