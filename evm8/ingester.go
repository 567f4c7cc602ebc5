package evm8

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/joselara-terraform/xc2ctl/transport"
)

type ingesterState int

const (
	waitHeader ingesterState = iota
	waitData
)

const (
	blockSize     = 32
	samplesPerBlk = 8
	sampleSize    = 4
	readTimeout   = 1 * time.Second
)

// DefaultPort is the EVM8 stream's conventional TCP port, spec.md §4.6.
const DefaultPort = 17002

// Ingester runs the EVM8 stream state machine over a transport
// endpoint, producing Records onto a Queue.
type Ingester struct {
	endpoint   transport.Endpoint
	queue      *Queue
	gainOffset GainOffsetSource
	log        *logrus.Entry

	state     ingesterState
	trailing  []byte
	lineBuf   []byte
	sample    SampleState
	want      int
	collected int
}

// New builds an Ingester. gainOffset may be nil, defaulting to
// DefaultGainOffset (1.0/0.0 for every channel).
func New(endpoint transport.Endpoint, queue *Queue, gainOffset GainOffsetSource, log *logrus.Entry) *Ingester {
	if gainOffset == nil {
		gainOffset = DefaultGainOffset{}
	}
	return &Ingester{
		endpoint:   endpoint,
		queue:      queue,
		gainOffset: gainOffset,
		log:        log.WithField("component", "evm8"),
		state:      waitHeader,
	}
}

// Run connects and ingests until ctx is cancelled or an unrecoverable
// error occurs. On connection loss it clears internal buffers and
// reconnects, spec.md §4.6's "stop the consumer task, clear buffers,
// and reconnect".
func (in *Ingester) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return in.runLoop(ctx)
	})
	return g.Wait()
}

func (in *Ingester) runLoop(ctx context.Context) error {
	for {
		if err := in.endpoint.Connect(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			in.log.WithError(err).Warn("connect failed, retrying")
			continue
		}
		in.log.Info("connected")
		err := in.readUntilDisconnect(ctx)
		in.reset()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		in.log.WithError(err).Warn("connection lost, reconnecting")
	}
}

func (in *Ingester) reset() {
	in.state = waitHeader
	in.trailing = nil
	in.lineBuf = nil
	in.sample = SampleState{}
	in.want = 0
	in.collected = 0
	in.queue.Clear()
}

func (in *Ingester) readUntilDisconnect(ctx context.Context) error {
	chunk := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := in.endpoint.ReadTimeout(chunk, readTimeout)
		if n > 0 {
			in.feed(chunk[:n])
		}
		if err != nil {
			if isTimeout(err) {
				if in.state == waitData {
					in.queue.Add(Record{Status: StatusTimeoutErr})
				}
				continue
			}
			return err
		}
	}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	if errors.As(err, &t) {
		return t.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded)
}

// feed processes newly received bytes according to the current state.
func (in *Ingester) feed(b []byte) {
	switch in.state {
	case waitHeader:
		in.feedHeader(b)
	case waitData:
		in.feedData(b)
	}
}

func (in *Ingester) feedHeader(b []byte) {
	in.lineBuf = append(in.lineBuf, b...)
	for {
		idx := indexByte(in.lineBuf, '\n')
		if idx < 0 {
			return
		}
		line := string(in.lineBuf[:idx])
		rest := in.lineBuf[idx+1:]
		in.lineBuf = nil

		hdr, err := ParseHeader(line)
		if err == nil {
			in.queue.Add(Record{Status: StatusHeader, Data: hdr})
			in.want = hdr.PacketSize()
			in.collected = 0
			in.sample = SampleState{}
			in.state = waitData
		}
		if len(rest) > 0 {
			in.feedData(rest)
		}
		return
	}
}

func (in *Ingester) feedData(b []byte) {
	buf := append(in.trailing, b...)
	in.trailing = nil

	for len(buf) >= blockSize {
		block := buf[:blockSize]
		buf = buf[blockSize:]
		for s := 0; s < samplesPerBlk; s++ {
			sample := block[s*sampleSize : s*sampleSize+sampleSize]
			for _, rec := range ProcessSample(&in.sample, sample, in.gainOffset) {
				in.emitSample(rec)
			}
		}
	}
	if len(buf) > 0 {
		in.trailing = append([]byte{}, buf...)
	}

	if in.state == waitData && in.collected >= in.want {
		in.queue.Add(Record{Status: StatusDone})
		in.state = waitHeader
		in.trailing = nil
	}
}

func (in *Ingester) emitSample(rec Record) {
	switch rec.Status {
	case "":
		in.queue.Add(Record{Data: rec.Data})
		in.collected++
	case StatusTimeDiff, StatusTimeStamp1, StatusTimeStamp0:
		in.queue.PriorityAdd(rec)
	default:
		in.queue.Add(rec)
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
