// Package bus implements the XC2 transport-independent request/response
// engine: duplex byte buffering over a transport.Endpoint, packet framing
// via a pluggable Codec, broadcast/unicast primitives, an event queue for
// unsolicited EVENT packets, and reconnect-with-backoff on a broken link
// (spec.md §4.2).
package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/joselara-terraform/xc2ctl/internal/logging"
	"github.com/joselara-terraform/xc2ctl/transport"
	"github.com/joselara-terraform/xc2ctl/xc2"
)

// MaxReaderSize is the chunk size receive_pkt reads in, spec.md §4.2. A
// chunk that fills this exactly means the frame may continue: the next
// read follows at once, but it is still bounded by the call's overall
// timeout, so a full chunk earns no extra time.
const MaxReaderSize = 1024

// DefaultSendTimeout is send_raw's per-attempt timeout, spec.md §4.2.
const DefaultSendTimeout = 400 * time.Millisecond

// sendAttempts is send_raw's retry budget on ConnectionReset, spec.md §4.2/§7.
const sendAttempts = 3

// Bus drives one transport.Endpoint with one Codec. It is safe for
// concurrent use by multiple goroutines issuing independent requests, but
// callers issuing a request/response pair should serialize around it
// themselves (a second concurrent request would steal the first's reply).
type Bus struct {
	name     string
	endpoint transport.Endpoint
	codec    Codec
	log      *logrus.Entry
	sink     logging.PacketSink

	mu     sync.Mutex
	buf    []byte
	events []xc2.Packet
}

// New builds a Bus. sink may be nil, in which case packets are only
// logged, not forwarded to an external collaborator.
func New(name string, endpoint transport.Endpoint, codec Codec, log *logrus.Entry, sink logging.PacketSink) *Bus {
	return &Bus{
		name:     name,
		endpoint: endpoint,
		codec:    codec,
		log:      log.WithField("bus", name),
		sink:     sink,
	}
}

// Name is the bus's identity, used in device-id strings.
func (b *Bus) Name() string { return b.name }

// Connect resolves the underlying endpoint. For TCP this dials with
// DefaultConnectTimeout; for serial it opens the port. A dial timeout is
// surfaced as ErrTimeout, spec.md §4.2.
func (b *Bus) Connect() error {
	if err := b.endpoint.Connect(); err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return err
	}
	b.log.Info("connected")
	return nil
}

// ClearBuffers discards any buffered trailing bytes and queued events.
// Called before every new request because stale bytes can never satisfy
// the new expected reply, spec.md §4.2.
func (b *Bus) ClearBuffers() {
	b.mu.Lock()
	b.buf = nil
	b.events = nil
	b.mu.Unlock()
}

// SendRaw writes data, retrying up to 3 attempts on ConnectionReset; between
// attempts it waits timeout and reconnects, spec.md §4.2.
func (b *Bus) SendRaw(data []byte, timeout time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < sendAttempts; attempt++ {
		_, err := b.endpoint.Write(data)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isConnReset(err) {
			return err
		}
		b.log.WithField("attempt", attempt+1).Warn("connection reset, reconnecting")
		time.Sleep(timeout)
		if rerr := b.reconnect(); rerr != nil {
			lastErr = rerr
		}
	}
	return fmt.Errorf("%w: %v", ErrConnectionReset, lastErr)
}

// reconnect retries Endpoint.Connect through an exponential backoff,
// bounded to sendAttempts tries, grounding spec.md §7's "retry up to 3
// times with reconnect" in the idiomatic Go backoff library.
func (b *Bus) reconnect() error {
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), sendAttempts-1)
	return backoff.Retry(func() error {
		return b.endpoint.Connect()
	}, policy)
}

// SendPkt encodes p with the bus's codec and writes it.
func (b *Bus) SendPkt(p xc2.Packet) error {
	if b.sink != nil {
		b.sink.SentPacket(b.name, p)
	}
	return b.SendRaw(b.codec.Encode(p), DefaultSendTimeout)
}

// ReceivePkt reads and parses one frame within the overall timeout,
// spec.md §4.2: chunks of up to MaxReaderSize are accumulated;
// IncompletePacket keeps reading; BadCrc drops the buffer and continues;
// wall-clock exhaustion drops the buffer and fails Timeout. Every read,
// including the one after an exactly-full chunk, counts against the same
// deadline; there is no exemption for large frames.
func (b *Bus) ReceivePkt(timeout time.Duration) (xc2.Packet, error) {
	deadline := time.Now().Add(timeout)
	chunk := make([]byte, MaxReaderSize)
	for {
		b.mu.Lock()
		p, rest, err := b.codec.Parse(b.buf)
		if err == nil {
			b.buf = rest
			b.mu.Unlock()
			if b.sink != nil {
				b.sink.ReceivedPacket(b.name, p)
			}
			return p, nil
		}
		if errors.Is(err, xc2.ErrBadCRC) {
			b.buf = nil
		}
		b.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			b.ClearBuffers()
			return xc2.Packet{}, ErrTimeout
		}
		n, rerr := b.endpoint.ReadTimeout(chunk, remaining)
		if n > 0 {
			b.mu.Lock()
			b.buf = append(b.buf, chunk[:n]...)
			b.mu.Unlock()
		}
		if rerr != nil {
			if isConnReset(rerr) {
				return xc2.Packet{}, fmt.Errorf("%w: %v", ErrConnectionReset, rerr)
			}
			if n == 0 {
				b.ClearBuffers()
				return xc2.Packet{}, ErrTimeout
			}
		}
		if n == MaxReaderSize {
			// A full chunk may be only part of a larger frame; read
			// again, still under the same deadline.
			continue
		}
	}
}

// ReadEvent pops one queued EVENT packet, if any; otherwise it attempts a
// short, non-blocking read for one. spec.md §4.2.
func (b *Bus) ReadEvent(shortTimeout time.Duration) (xc2.Packet, bool) {
	b.mu.Lock()
	if len(b.events) > 0 {
		p := b.events[0]
		b.events = b.events[1:]
		b.mu.Unlock()
		return p, true
	}
	b.mu.Unlock()
	p, err := b.ReceivePkt(shortTimeout)
	if err != nil {
		return xc2.Packet{}, false
	}
	return p, true
}

func (b *Bus) pushEvent(p xc2.Packet) {
	b.mu.Lock()
	b.events = append(b.events, p)
	b.mu.Unlock()
}

// RequestResponse sends pkt and waits for its matching reply, spec.md
// §4.2: broadcast destinations are rejected up front; EVENT packets
// encountered along the way are queued and the loop continues; a NAK as
// the very first reply is returned verbatim; any other non-EVENT reply
// that doesn't match cmd/src, on any iteration, is UnexpectedAnswer.
func (b *Bus) RequestResponse(pkt xc2.Packet, timeout time.Duration) (xc2.Packet, error) {
	if pkt.Dst == xc2.Broadcast {
		return xc2.Packet{}, fmt.Errorf("%w: request_response to broadcast", ErrGeneralError)
	}
	b.ClearBuffers()
	if err := b.SendPkt(pkt); err != nil {
		return xc2.Packet{}, err
	}
	const maxIterations = 10
	for i := 0; i < maxIterations; i++ {
		reply, err := b.ReceivePkt(timeout)
		if err != nil {
			return xc2.Packet{}, err
		}
		if reply.Type == xc2.Event {
			b.pushEvent(reply)
			continue
		}
		if reply.Cmd == pkt.Cmd && reply.Src == pkt.Dst {
			return reply, nil
		}
		if i == 0 && reply.Type == xc2.Nak {
			return reply, nil
		}
		return xc2.Packet{}, fmt.Errorf("%w: got %s", ErrUnexpectedAnswer, reply.String())
	}
	return xc2.Packet{}, fmt.Errorf("%w: no matching reply after %d packets", ErrUnexpectedAnswer, maxIterations)
}

// Broadcast forces pkt.Dst to the broadcast address, sends it, and
// collects replies until a receive times out, spec.md §4.2. An empty
// result is itself a Timeout.
func (b *Bus) Broadcast(pkt xc2.Packet, timeout time.Duration) ([]xc2.Packet, error) {
	pkt.Dst = xc2.Broadcast
	b.ClearBuffers()
	if err := b.SendPkt(pkt); err != nil {
		return nil, err
	}
	var replies []xc2.Packet
	for {
		reply, err := b.ReceivePkt(timeout)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				break
			}
			return replies, err
		}
		if reply.Type == xc2.Event {
			b.pushEvent(reply)
			continue
		}
		replies = append(replies, reply)
	}
	if len(replies) == 0 {
		return nil, ErrTimeout
	}
	return replies, nil
}

// Unicast dispatches to RequestResponse or fire-and-forget SendPkt
// depending on reqResponse, spec.md §4.2.
func (b *Bus) Unicast(pkt xc2.Packet, reqResponse bool, timeout time.Duration, logTraffic bool) (xc2.Packet, error) {
	if logTraffic {
		b.log.WithField("pkt", pkt.String()).Debug("unicast")
	}
	if !reqResponse {
		return xc2.Packet{}, b.SendPkt(pkt)
	}
	return b.RequestResponse(pkt, timeout)
}

// Close releases the underlying endpoint.
func (b *Bus) Close() error {
	return b.endpoint.Close()
}

func isConnReset(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return !opErr.Timeout()
	}
	return false
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
