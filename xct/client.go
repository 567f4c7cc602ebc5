package xct

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joselara-terraform/xc2ctl/evm8"
)

// VChannel selects the drive channel for a CV/CA sweep, spec.md §4.8.
type VChannel int

const (
	VChannelVout VChannel = iota
	VChannelVsense
	VChannelVref
)

// RecordChannel is a bitmask flag for the channels a CV/CA/time-scan
// acquisition records.
type RecordChannel int

const (
	RecordVout   RecordChannel = 0x01
	RecordVsense RecordChannel = 0x02
	RecordVref   RecordChannel = 0x04
	RecordI      RecordChannel = 0x08
)

func recordMask(channels []RecordChannel) int {
	m := 0
	for _, c := range channels {
		m |= int(c)
	}
	return m
}

// pollInterval and errorBackoff are the throttle/backoff constants the
// original reading routine uses, spec.md §4.8.
const (
	pollInterval = 100 * time.Millisecond
	errorBackoff = 1 * time.Second
)

// Client is the XCT acquisition session: not addressed to a specific
// device, it issues server-level electrochemistry commands and polls a
// buffer of result records, spec.md §4.8.
type Client struct {
	conn *Conn
	log  *logrus.Entry

	mu            sync.Mutex
	channelCount  int
	channels      []string
	nextReadIndex int
	downloading   bool
	reading       bool

	Records *evm8.Queue
}

// NewClient builds a Client bound to an already-connected Conn.
func NewClient(conn *Conn, log *logrus.Entry) *Client {
	return &Client{conn: conn, log: log.WithField("proto", "xct-client"), Records: evm8.NewQueue()}
}

func (c *Client) plainCmd(data string, timeout time.Duration) (Response, error) {
	return c.conn.Exchange(Request{Kind: KindPlain, Text: data}, timeout)
}

func (c *Client) expectOK(resp Response, err error) error {
	if err != nil {
		return err
	}
	if !resp.OK {
		return &Error{Line: resp.Raw}
	}
	return nil
}

// StartEIS2 launches an electrochemical-impedance-spectroscopy sweep,
// recording the fixed nine-channel EIS2 output set.
func (c *Client) StartEIS2(ctx context.Context, startFreq, stopFreq float64, pointsPerDecade int,
	maxAmpV, maxAmpI float64, vRange, iRange, periods, samples, vChannel int, startRead bool) error {
	data := fmt.Sprintf("startEIS2 %g %g %d %g %g %d %d %d %d %d",
		startFreq, stopFreq, pointsPerDecade, maxAmpV, maxAmpI, vRange, iRange, periods, samples, vChannel)
	if err := c.expectOK(c.plainCmd(data, DefaultTimeout)); err != nil {
		return err
	}
	c.clearBuffer()
	c.setChannels([]string{"Z", "Phi", "Re", "Im", "genFreq", "sampleRate", "ampV", "ampI", "ampGen"})
	if startRead {
		c.startReadData(ctx)
	}
	return nil
}

// StartCV launches a cyclic-voltammetry sweep.
func (c *Client) StartCV(ctx context.Context, vChannel VChannel, record []RecordChannel,
	vStart, vMargin1, vMargin2, vEnd, speed, sweep float64, startRead bool) error {
	mask := recordMask(record)
	if mask == 0 {
		return fmt.Errorf("xct: no record channel specified")
	}
	data := fmt.Sprintf("startCV %d %d %g %g %g %g %g %g", vChannel, mask, vStart, vMargin1, vMargin2, vEnd, speed, sweep)
	if err := c.expectOK(c.plainCmd(data, DefaultTimeout)); err != nil {
		return err
	}
	c.clearBuffer()
	c.setChannels(recordChannelNames(mask))
	if startRead {
		c.startReadData(ctx)
	}
	return nil
}

// StartCA launches a chrono-amperometry sweep.
func (c *Client) StartCA(ctx context.Context, vChannel VChannel, record []RecordChannel,
	iStart, iMargin1, iMargin2, iEnd, speed, sweep float64, startRead bool) error {
	mask := recordMask(record)
	if mask == 0 {
		return fmt.Errorf("xct: no record channel specified")
	}
	data := fmt.Sprintf("startCA %d %d %g %g %g %g %g %g", vChannel, mask, iStart, iMargin1, iMargin2, iEnd, speed, sweep)
	if err := c.expectOK(c.plainCmd(data, DefaultTimeout)); err != nil {
		return err
	}
	c.clearBuffer()
	c.setChannels(recordChannelNames(mask))
	if startRead {
		c.startReadData(ctx)
	}
	return nil
}

// StartTimeScan launches a free-running time-domain acquisition:
// everyNSample selects the sampling decimation, avgLastM (<=
// everyNSample) the trailing-average window.
func (c *Client) StartTimeScan(ctx context.Context, record []RecordChannel, everyNSample, avgLastM int, startRead bool) error {
	mask := recordMask(record)
	if mask == 0 {
		return fmt.Errorf("xct: no record channel specified")
	}
	data := fmt.Sprintf("startTimeScan %d %d %d", mask, everyNSample, avgLastM)
	if err := c.expectOK(c.plainCmd(data, DefaultTimeout)); err != nil {
		return err
	}
	c.clearBuffer()
	c.setChannels(recordChannelNames(mask))
	if startRead {
		c.startReadData(ctx)
	}
	return nil
}

// StopAcq halts the current acquisition.
func (c *Client) StopAcq() error {
	return c.expectOK(c.plainCmd("stopAcq", DefaultTimeout))
}

func recordChannelNames(mask int) []string {
	var names []string
	for _, c := range []struct {
		bit  int
		name string
	}{{int(RecordVout), "Vout"}, {int(RecordVsense), "Vsense"}, {int(RecordVref), "Vref"}, {int(RecordI), "I"}} {
		if mask&c.bit != 0 {
			names = append(names, c.name)
		}
	}
	return names
}

func (c *Client) setChannels(names []string) {
	c.mu.Lock()
	c.channels = names
	c.channelCount = len(names)
	c.mu.Unlock()
}

func (c *Client) clearBuffer() {
	c.mu.Lock()
	c.nextReadIndex = 0
	c.downloading = false
	c.reading = false
	c.mu.Unlock()
	c.Records.Clear()
}

// CheckDownloading polls the "downloading" server flag.
func (c *Client) CheckDownloading(timeout time.Duration) (bool, error) {
	resp, err := c.conn.Exchange(Request{Kind: KindGet, Name: "downloading"}, timeout)
	if err != nil {
		return false, err
	}
	if !resp.OK {
		return false, &Error{Line: resp.Raw}
	}
	v := TypeValue(resp.Payload)
	downloading := v.Kind == KindBool && v.Bool
	c.mu.Lock()
	c.downloading = downloading
	c.mu.Unlock()
	return downloading, nil
}

// ReadBuffer requests the next batch of buffered samples via
// "ReadBuffer <next_index>" and pushes each record row onto c.Records.
// spec.md §4.8: the reply is "<channel_count> <flat values...>",
// space-separated and grouped into rows of channel_count elements.
func (c *Client) ReadBuffer(timeout time.Duration) error {
	c.mu.Lock()
	idx := c.nextReadIndex
	count := c.channelCount
	c.mu.Unlock()

	resp, err := c.conn.Exchange(Request{Kind: KindPlain, Text: fmt.Sprintf("ReadBuffer %d", idx)}, timeout)
	if err != nil {
		return err
	}
	if !resp.OK {
		return &Error{Line: resp.Raw}
	}
	payload := strings.TrimSpace(resp.Payload)
	if payload == "" {
		return nil
	}
	fields := strings.Fields(payload)
	if len(fields) == 0 {
		return nil
	}
	replyCount, err := parseInt(fields[0])
	if err != nil {
		return fmt.Errorf("xct: ReadBuffer: malformed channel count %q", fields[0])
	}
	if count != 0 && replyCount != count {
		return fmt.Errorf("xct: ReadBuffer: channel count mismatch, got %d want %d", replyCount, count)
	}
	values := fields[1:]
	if replyCount == 0 || len(values)%replyCount != 0 {
		return fmt.Errorf("xct: ReadBuffer: %d values not a multiple of %d channels", len(values), replyCount)
	}
	rows := len(values) / replyCount
	for r := 0; r < rows; r++ {
		row := make([]Value, replyCount)
		for ch := 0; ch < replyCount; ch++ {
			row[ch] = TypeValue(values[r*replyCount+ch])
		}
		c.Records.Add(evm8.Record{Data: row})
	}

	c.mu.Lock()
	c.nextReadIndex += rows
	c.mu.Unlock()
	return nil
}

func parseInt(s string) (int, error) {
	v := TypeValue(s)
	if v.Kind != KindInt {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return int(v.Int), nil
}

// startReadData spawns the background polling loop. spec.md §4.8: polls
// "downloading" then calls ReadBuffer, throttled at pollInterval; on a
// transient ERROR 44 while still downloading, backs off errorBackoff and
// retries; terminates when !downloading and the server answers ERROR 44
// ("no more data"), emitting a DONE record.
func (c *Client) startReadData(ctx context.Context) {
	c.mu.Lock()
	c.reading = true
	c.mu.Unlock()
	go c.readingRoutine(ctx)
}

func (c *Client) readingRoutine(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.reading = false
		c.mu.Unlock()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		downloading, err := c.CheckDownloading(DefaultTimeout)
		if err != nil {
			c.log.WithError(err).Warn("check downloading failed")
			return
		}
		err = c.ReadBuffer(DefaultTimeout)
		if err != nil {
			if isError44(err) {
				if !downloading {
					c.Records.Add(evm8.Record{Status: evm8.StatusDone})
					return
				}
				time.Sleep(errorBackoff)
				continue
			}
			c.log.WithError(err).Warn("read buffer failed")
			return
		}
		time.Sleep(pollInterval)
	}
}

func isError44(err error) bool {
	return strings.Contains(err.Error(), "ERROR 44")
}

// ReadingDone reports whether the background reader has stopped and all
// buffered records have been drained.
func (c *Client) ReadingDone() bool {
	c.mu.Lock()
	reading := c.reading
	c.mu.Unlock()
	return !reading && !c.Records.HasData()
}
